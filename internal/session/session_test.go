package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServiceCreateIsIdempotent(t *testing.T) {
	svc := NewService(NewInMemoryStore())
	ctx := context.Background()

	first, err := svc.Create(ctx, "sess-1", "/out/sess-1")
	require.NoError(t, err)
	require.Equal(t, StatusActive, first.Status)

	second, err := svc.Create(ctx, "sess-1", "/out/sess-1")
	require.NoError(t, err)
	require.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestServiceEndIsIdempotent(t *testing.T) {
	svc := NewService(NewInMemoryStore())
	ctx := context.Background()

	_, err := svc.Create(ctx, "sess-1", "/out/sess-1")
	require.NoError(t, err)

	ended, err := svc.End(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, StatusEnded, ended.Status)

	again, err := svc.End(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, ended.EndedAt, again.EndedAt)
}

func TestServiceRejectsCreateUnderEndedSession(t *testing.T) {
	svc := NewService(NewInMemoryStore())
	ctx := context.Background()

	_, err := svc.Create(ctx, "sess-1", "/out/sess-1")
	require.NoError(t, err)
	_, err = svc.End(ctx, "sess-1")
	require.NoError(t, err)

	_, err = svc.Create(ctx, "sess-1", "/out/sess-1")
	require.True(t, errors.Is(err, ErrEnded))
}

func TestRequireActiveRejectsEndedSession(t *testing.T) {
	svc := NewService(NewInMemoryStore())
	ctx := context.Background()

	_, err := svc.Create(ctx, "sess-1", "/out/sess-1")
	require.NoError(t, err)
	_, err = svc.End(ctx, "sess-1")
	require.NoError(t, err)

	_, err = svc.RequireActive(ctx, "sess-1")
	require.True(t, errors.Is(err, ErrEnded))
}

func TestUpsertSectionIsIsolatedPerSession(t *testing.T) {
	svc := NewService(NewInMemoryStore())
	ctx := context.Background()

	_, err := svc.Create(ctx, "sess-1", "/out/sess-1")
	require.NoError(t, err)
	require.NoError(t, svc.UpsertSection(ctx, "sess-1", "run-1", "Design System", "palette: blue"))

	loaded, err := svc.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, "palette: blue", loaded.Sections["Design System"].Content)
	require.Equal(t, "run-1", loaded.Sections["Design System"].UpdatedBy)
}
