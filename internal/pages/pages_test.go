package pages

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSlugRejectsUppercaseAndTooLong(t *testing.T) {
	assert.NoError(t, ValidateSlug("home-page"))
	assert.Error(t, ValidateSlug(""))
	assert.Error(t, ValidateSlug("Home"))
	assert.Error(t, ValidateSlug("home_page"))
	assert.Error(t, ValidateSlug("a-very-long-slug-that-exceeds-the-forty-char-limit"))
}

func TestWriteVersionAutoIncrementsVersionNumber(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	_, v1, err := store.WriteVersion(ctx, "sess-1", "home", "Home", "<html>v1</html>", "first")
	require.NoError(t, err)
	assert.Equal(t, 1, v1)

	_, v2, err := store.WriteVersion(ctx, "sess-1", "home", "Home", "<html>v2</html>", "second")
	require.NoError(t, err)
	assert.Equal(t, 2, v2)
}

func TestWriteVersionRejectsInvalidSlug(t *testing.T) {
	store := NewInMemoryStore()
	_, _, err := store.WriteVersion(context.Background(), "sess-1", "Bad Slug", "", "", "")
	assert.Error(t, err)
}

func TestCurrentHTMLReflectsLatestVersion(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	_, _, err := store.WriteVersion(ctx, "sess-1", "home", "Home", "<html>v1</html>", "")
	require.NoError(t, err)
	_, _, err = store.WriteVersion(ctx, "sess-1", "home", "Home", "<html>v2</html>", "")
	require.NoError(t, err)

	html, found, err := store.CurrentHTML(ctx, "sess-1", "home")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "<html>v2</html>", html)
}

func TestCurrentHTMLNotFoundForUnknownPage(t *testing.T) {
	store := NewInMemoryStore()
	_, found, err := store.CurrentHTML(context.Background(), "sess-1", "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRollbackPreservesLaterVersions(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	v1ID, _, err := store.WriteVersion(ctx, "sess-1", "home", "Home", "<html>v1</html>", "")
	require.NoError(t, err)
	_, _, err = store.WriteVersion(ctx, "sess-1", "home", "Home", "<html>v2</html>", "")
	require.NoError(t, err)

	require.NoError(t, store.Rollback(ctx, "sess-1", "home", v1ID))

	html, found, err := store.CurrentHTML(ctx, "sess-1", "home")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "<html>v1</html>", html)

	versions, err := store.Versions(ctx, "sess-1", "home")
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestRollbackUnknownVersionReturnsErrNotFound(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	_, _, err := store.WriteVersion(ctx, "sess-1", "home", "Home", "<html>v1</html>", "")
	require.NoError(t, err)

	err = store.Rollback(ctx, "sess-1", "home", "does-not-exist")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListPagesOrdersByCreationAndSkipsDeleted(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	_, _, err := store.WriteVersion(ctx, "sess-1", "home", "Home", "<html></html>", "")
	require.NoError(t, err)
	_, _, err = store.WriteVersion(ctx, "sess-1", "menu", "Menu", "<html></html>", "")
	require.NoError(t, err)

	list, err := store.ListPages(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
