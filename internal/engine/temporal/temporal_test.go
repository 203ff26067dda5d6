// Full Engine behavior (RegisterWorkflow/StartWorkflow/Signal) requires a
// live or test Temporal server (via testsuite.WorkflowTestSuite with real
// workflow/activity registration through the SDK's own deterministic
// scheduler) and is exercised as an integration concern outside this
// package. convertRetryPolicy and normalize are pure and covered directly.
package temporal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	sdktemporal "go.temporal.io/sdk/temporal"

	"github.com/sitewright/agentcore/internal/engine"
)

func TestConvertRetryPolicyReturnsNilForZeroValue(t *testing.T) {
	assert.Nil(t, convertRetryPolicy(engine.RetryPolicy{}))
}

func TestConvertRetryPolicyMapsConfiguredFields(t *testing.T) {
	policy := convertRetryPolicy(engine.RetryPolicy{
		MaxAttempts:        5,
		InitialInterval:    2 * time.Second,
		BackoffCoefficient: 1.5,
	})
	if assert.NotNil(t, policy) {
		assert.Equal(t, int32(5), policy.MaximumAttempts)
		assert.Equal(t, 2*time.Second, policy.InitialInterval)
		assert.Equal(t, 1.5, policy.BackoffCoefficient)
	}
}

func TestNormalizePassesThroughOrdinaryErrors(t *testing.T) {
	err := normalize(errors.New("boom"))
	assert.EqualError(t, err, "boom")
}

func TestNormalizeMapsTemporalCanceledErrorToContextCanceled(t *testing.T) {
	err := normalize(sdktemporal.NewCanceledError())
	assert.Equal(t, context.Canceled, err)
}

func TestNormalizePassesThroughNil(t *testing.T) {
	assert.Nil(t, normalize(nil))
}
