package modelcat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	response Response
	err      error
	calls    int
}

func (p *fakeProvider) Complete(ctx context.Context, req Request) (Response, error) {
	p.calls++
	return p.response, p.err
}

func TestCatalogResolvesRegisteredTier(t *testing.T) {
	fast := &fakeProvider{response: Response{Text: "fast answer"}}
	catalog := NewCatalog().WithTier(TierFast, fast)

	resolved, err := catalog.Resolve(TierFast)
	require.NoError(t, err)
	assert.Same(t, Provider(fast), resolved)
}

func TestCatalogFallsBackWhenTierUnregistered(t *testing.T) {
	fallback := &fakeProvider{response: Response{Text: "fallback"}}
	catalog := NewCatalog().WithFallback(fallback)

	resolved, err := catalog.Resolve(TierPowerful)
	require.NoError(t, err)
	assert.Same(t, Provider(fallback), resolved)
}

func TestCatalogResolveErrorsWithNoFallback(t *testing.T) {
	catalog := NewCatalog()
	_, err := catalog.Resolve(TierStandard)
	assert.Error(t, err)
}

func TestCatalogCompleteDispatchesToResolvedProvider(t *testing.T) {
	standard := &fakeProvider{response: Response{Text: "hi"}}
	catalog := NewCatalog().WithTier(TierStandard, standard)

	resp, err := catalog.Complete(context.Background(), Request{Tier: TierStandard})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Text)
	assert.Equal(t, 1, standard.calls)
}

func TestProviderErrorTransientClassifiesRateLimitAndUnavailable(t *testing.T) {
	assert.True(t, NewProviderError(ErrorRateLimited, errors.New("429")).Transient())
	assert.True(t, NewProviderError(ErrorUnavailable, errors.New("503")).Transient())
	assert.False(t, NewProviderError(ErrorAuth, errors.New("401")).Transient())
	assert.False(t, NewProviderError(ErrorInvalidRequest, errors.New("400")).Transient())
}

func TestAsProviderErrorExtractsFromChain(t *testing.T) {
	wrapped := NewProviderError(ErrorRateLimited, errors.New("429"))
	pe, ok := AsProviderError(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrorRateLimited, pe.Kind)

	_, ok = AsProviderError(errors.New("plain"))
	assert.False(t, ok)
}
