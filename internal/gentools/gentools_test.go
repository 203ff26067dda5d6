package gentools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewright/agentcore/internal/pages"
	"github.com/sitewright/agentcore/internal/tools"
)

func ectxWithoutLLM() tools.ExecContext {
	return tools.ExecContext{SessionID: "sess-1", RunID: "run-1"}
}

func ectxForSession(sessionID string) tools.ExecContext {
	return tools.ExecContext{SessionID: sessionID, RunID: "run-1"}
}

type fakePageStore struct {
	versions map[string]map[string]string // slug -> versionID -> html
	current  map[string]string            // slug -> html
	order    []string
}

func newFakePageStore() *fakePageStore {
	return &fakePageStore{versions: map[string]map[string]string{}, current: map[string]string{}}
}

func (s *fakePageStore) WriteVersion(ctx context.Context, sessionID, slug, title, html, description string) (string, int, error) {
	if s.versions[slug] == nil {
		s.versions[slug] = map[string]string{}
		s.order = append(s.order, slug)
	}
	version := len(s.versions[slug]) + 1
	versionID := slug + "-v" + string(rune('0'+version))
	s.versions[slug][versionID] = html
	s.current[slug] = html
	return versionID, version, nil
}

func (s *fakePageStore) CurrentHTML(ctx context.Context, sessionID, slug string) (string, bool, error) {
	html, found := s.current[slug]
	return html, found, nil
}

func (s *fakePageStore) ListPages(ctx context.Context, sessionID string) ([]pages.PageSummary, error) {
	out := make([]pages.PageSummary, 0, len(s.order))
	for i, slug := range s.order {
		out = append(out, pages.PageSummary{Slug: slug, OrderIndex: i})
	}
	return out, nil
}

func TestAnalyzeBriefHeuristicClassifiesRestaurant(t *testing.T) {
	tool := NewAnalyzeBrief()
	args, _ := json.Marshal(map[string]string{"user_request": "I want a restaurant site with a menu"})
	result := tool.Execute(context.Background(), ectxWithoutLLM(), args)
	require.True(t, result.Success)
	assert.Equal(t, "restaurant", result.Artifacts["product_type"])
}

func TestAnalyzeBriefRejectsInvalidJSON(t *testing.T) {
	tool := NewAnalyzeBrief()
	result := tool.Execute(context.Background(), ectxWithoutLLM(), json.RawMessage(`not json`))
	assert.False(t, result.Success)
}

func TestCreateDesignSystemWritesCSSFile(t *testing.T) {
	dir := t.TempDir()
	tool := NewCreateDesignSystem(dir)
	args, _ := json.Marshal(map[string]any{"product_type": "restaurant", "brand_colors": []string{"#ff0000", "#00ff00"}})

	result := tool.Execute(context.Background(), ectxForSession("sess-1"), args)
	require.True(t, result.Success)
	assert.Contains(t, result.Output, "--color-primary: #ff0000")

	path := filepath.Join(dir, "sess-1", "design-system.css")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "--color-secondary: #00ff00")
}

func TestGeneratePageValidatesSlugAndWritesVersion(t *testing.T) {
	store := newFakePageStore()
	tool := NewGeneratePage(store)

	badArgs, _ := json.Marshal(map[string]string{"slug": "Bad Slug", "title": "Home"})
	result := tool.Execute(context.Background(), ectxForSession("sess-1"), badArgs)
	assert.False(t, result.Success)

	goodArgs, _ := json.Marshal(map[string]string{"slug": "home", "title": "Home"})
	result = tool.Execute(context.Background(), ectxForSession("sess-1"), goodArgs)
	require.True(t, result.Success)
	assert.Contains(t, result.Output, `id="app"`)
	assert.Equal(t, "home", result.Artifacts["slug"])
}

func TestEditPageNotFoundWhenSlugMissing(t *testing.T) {
	store := newFakePageStore()
	tool := NewEditPage(store)
	args, _ := json.Marshal(map[string]string{"slug": "missing", "edit_instructions": "change title"})
	result := tool.Execute(context.Background(), ectxForSession("sess-1"), args)
	assert.False(t, result.Success)
}

func TestEditPageAppendsMarkerAndWritesNewVersion(t *testing.T) {
	store := newFakePageStore()
	_, _, err := store.WriteVersion(context.Background(), "sess-1", "home", "Home", "<html><body></body></html>", "")
	require.NoError(t, err)

	tool := NewEditPage(store)
	args, _ := json.Marshal(map[string]string{"slug": "home", "edit_instructions": "make header bold"})
	result := tool.Execute(context.Background(), ectxForSession("sess-1"), args)
	require.True(t, result.Success)
	assert.Contains(t, result.Output, "make header bold")
}

func TestReadPageReturnsNotFoundForMissingSlug(t *testing.T) {
	store := newFakePageStore()
	tool := NewReadPage(store)
	args, _ := json.Marshal(map[string]string{"slug": "missing"})
	result := tool.Execute(context.Background(), ectxForSession("sess-1"), args)
	assert.False(t, result.Success)
}

func TestListPagesOrdersByCreation(t *testing.T) {
	store := newFakePageStore()
	_, _, err := store.WriteVersion(context.Background(), "sess-1", "index", "Index", "<html></html>", "")
	require.NoError(t, err)
	_, _, err = store.WriteVersion(context.Background(), "sess-1", "menu", "Menu", "<html></html>", "")
	require.NoError(t, err)

	tool := NewListPages(store)
	result := tool.Execute(context.Background(), ectxForSession("sess-1"), nil)
	require.True(t, result.Success)
	assert.Equal(t, 2, result.Artifacts["count"])
}

func TestValidateHTMLReportsMissingViewportAndAppNode(t *testing.T) {
	store := newFakePageStore()
	tool := NewValidateHTML(store)
	args, _ := json.Marshal(map[string]string{"slug": "home", "html": "<html><body></body></html>"})
	result := tool.Execute(context.Background(), ectxForSession("sess-1"), args)
	require.True(t, result.Success)
	assert.Greater(t, result.Artifacts["issue_count"], 0)
}

func TestExtractStyleFallsBackToDefaultTokensWithoutLLM(t *testing.T) {
	tool := NewExtractStyle()
	args, _ := json.Marshal(map[string]string{"image_url": "https://example.com/brand.png"})
	result := tool.Execute(context.Background(), ectxWithoutLLM(), args)
	require.True(t, result.Success)
	assert.Equal(t, 0, result.Artifacts["warning_count"])
}

func TestExtractStyleRequiresImageURL(t *testing.T) {
	tool := NewExtractStyle()
	result := tool.Execute(context.Background(), ectxWithoutLLM(), json.RawMessage(`{}`))
	assert.False(t, result.Success)
}

func TestBatchFileWriteAppliesOperationsAndRollsBackOnFailure(t *testing.T) {
	dir := t.TempDir()
	tool := NewBatchFileWrite(dir)

	args, _ := json.Marshal(map[string]any{
		"operations": []FileOp{
			{Path: "a.txt", Content: "hello"},
			{Path: "b.txt", Content: "world"},
		},
	})
	result := tool.Execute(context.Background(), ectxForSession("sess-1"), args)
	require.True(t, result.Success)

	data, err := os.ReadFile(filepath.Join(dir, "sess-1", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestBatchFileWriteRejectsPathEscapingOutputRoot(t *testing.T) {
	dir := t.TempDir()
	tool := NewBatchFileWrite(dir)
	args, _ := json.Marshal(map[string]any{
		"operations": []FileOp{{Path: "../../escape.txt", Content: "x"}},
	})
	result := tool.Execute(context.Background(), ectxForSession("sess-1"), args)
	assert.False(t, result.Success)
}

func TestAskUserRequiresOptionsForChoiceQuestions(t *testing.T) {
	tool := NewAskUser()
	args, _ := json.Marshal(map[string]any{
		"questions": []Question{{Question: "pick one", Type: "radio"}},
	})
	result := tool.Execute(context.Background(), ectxWithoutLLM(), args)
	assert.False(t, result.Success)
}

func TestAskUserSignalsBlockingArtifact(t *testing.T) {
	tool := NewAskUser()
	args, _ := json.Marshal(map[string]any{
		"questions": []Question{{Question: "brand color?", Type: "text"}},
	})
	result := tool.Execute(context.Background(), ectxWithoutLLM(), args)
	require.True(t, result.Success)
	assert.Equal(t, true, result.Artifacts["blocking"])
}
