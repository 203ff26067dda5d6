package chatadapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewright/agentcore/internal/events"
	"github.com/sitewright/agentcore/internal/run"
)

func TestProjectCompletedRun(t *testing.T) {
	r := run.Run{SessionID: "sess-1", Status: run.StatusCompleted}
	evs := []events.Event{
		{Type: events.StepStart},
		{Type: events.ToolCall, Payload: map[string]any{"slug": "home"}},
		{Type: events.ToolResult, Payload: map[string]any{"slug": "home"}},
		{Type: events.ProductDocUpdated},
		{Type: events.PagePreviewReady, Payload: map[string]any{"preview_url": "https://example/preview", "html": "<html></html>"}},
		{Type: events.Text, Payload: map[string]any{"text": "done"}},
		{Type: events.RunCompleted},
	}

	resp := Project(r, evs)

	require.Equal(t, "sess-1", resp.SessionID)
	assert.Equal(t, ActionComplete, resp.Action)
	assert.True(t, resp.IsComplete)
	assert.True(t, resp.ProductDocUpdated)
	assert.Equal(t, []string{"home"}, resp.AffectedPages)
	assert.Equal(t, "home", resp.ActivePageSlug)
	assert.Equal(t, "https://example/preview", resp.PreviewURL)
	assert.Equal(t, "<html></html>", resp.PreviewHTML)
	assert.Equal(t, PhaseDone, resp.Phase)
	assert.Equal(t, 1.0, resp.Progress)
}

func TestProjectWaitingInputSurfacesQuestions(t *testing.T) {
	r := run.Run{SessionID: "sess-2", Status: run.StatusWaitingInput}
	questions := []map[string]any{{"question": "Which color scheme?", "type": "radio", "options": []string{"light", "dark"}}}
	evs := []events.Event{
		{Type: events.RunWaitingInput, Payload: map[string]any{"questions": questions}},
	}

	resp := Project(r, evs)

	assert.Equal(t, ActionAskUser, resp.Action)
	assert.Equal(t, questions, resp.Questions)
	assert.False(t, resp.IsComplete)
	assert.Equal(t, PhaseGenerating, resp.Phase)
}

func TestProjectFailedRunSurfacesError(t *testing.T) {
	r := run.Run{SessionID: "sess-3", Status: run.StatusFailed, Error: "llm authentication failed"}

	resp := Project(r, nil)

	assert.Equal(t, ActionError, resp.Action)
	assert.True(t, resp.IsComplete)
	assert.Equal(t, PhaseFailed, resp.Phase)
	assert.Equal(t, "llm authentication failed", resp.Message)
}

func TestProjectQueuedRunHasZeroProgress(t *testing.T) {
	r := run.Run{SessionID: "sess-4", Status: run.StatusQueued}

	resp := Project(r, nil)

	assert.Equal(t, 0.0, resp.Progress)
	assert.False(t, resp.IsComplete)
}

func TestProjectDedupesAffectedPages(t *testing.T) {
	r := run.Run{SessionID: "sess-5", Status: run.StatusRunning}
	evs := []events.Event{
		{Type: events.PageCreated, Payload: map[string]any{"slug": "home"}},
		{Type: events.PageVersionCreated, Payload: map[string]any{"slug": "home"}},
		{Type: events.PageCreated, Payload: map[string]any{"slug": "about"}},
	}

	resp := Project(r, evs)

	assert.Equal(t, []string{"home", "about"}, resp.AffectedPages)
	assert.Equal(t, "about", resp.ActivePageSlug)
}
