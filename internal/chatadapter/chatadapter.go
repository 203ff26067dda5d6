// Package chatadapter projects a Run and its event stream onto the legacy
// twelve-field chat response shape, so the existing chat endpoint can keep
// its wire contract while internally delegating to create_run/start_run and
// the Run event stream. The projection is pure: it never calls the Run
// Service or Event Store itself, only interprets what they already
// returned.
package chatadapter

import (
	"github.com/sitewright/agentcore/internal/events"
	"github.com/sitewright/agentcore/internal/run"
)

// Response is the immutable legacy wire contract the chat endpoint has
// always returned. Field order here has no significance; the twelve names
// are the contract.
type Response struct {
	SessionID         string           `json:"session_id"`
	Message           string           `json:"message"`
	Action            string           `json:"action"`
	PreviewURL        string           `json:"preview_url,omitempty"`
	PreviewHTML       string           `json:"preview_html,omitempty"`
	Progress          float64          `json:"progress"`
	Questions         []map[string]any `json:"questions,omitempty"`
	IsComplete        bool             `json:"is_complete"`
	ProductDocUpdated bool             `json:"product_doc_updated"`
	AffectedPages     []string         `json:"affected_pages,omitempty"`
	ActivePageSlug    string           `json:"active_page_slug,omitempty"`
	Phase             string           `json:"phase"`
}

// Action values surfaced in the legacy Action field.
const (
	ActionThinking  = "thinking"
	ActionToolCall  = "tool_call"
	ActionAskUser   = "ask_user"
	ActionComplete  = "complete"
	ActionError     = "error"
	ActionCancelled = "cancelled"
)

// Phase values surfaced in the legacy Phase field, tracking where in the
// generation pipeline the run currently sits.
const (
	PhaseInterview  = "interview"
	PhaseGenerating = "generating"
	PhaseVerifying  = "verifying"
	PhaseDone       = "done"
	PhaseFailed     = "failed"
)

// Project folds a Run record and the ordered events emitted for it into the
// legacy Response shape. evs must be ordered by seq ascending (the order
// events.Store.GetByRun already returns); Project does not sort.
func Project(r run.Run, evs []events.Event) Response {
	resp := Response{
		SessionID: r.SessionID,
		Phase:     phaseFor(r.Status),
	}

	affected := map[string]bool{}
	var affectedOrder []string
	markAffected := func(slug string) {
		if slug == "" || affected[slug] {
			return
		}
		affected[slug] = true
		affectedOrder = append(affectedOrder, slug)
	}

	var steps int
	for _, ev := range evs {
		switch ev.Type {
		case events.StepStart:
			steps++
		case events.Text:
			if text, ok := ev.Payload["text"].(string); ok {
				resp.Message = text
			}
			resp.Action = ActionThinking
		case events.ToolCall:
			resp.Action = ActionToolCall
			if slug, ok := ev.Payload["slug"].(string); ok {
				markAffected(slug)
				resp.ActivePageSlug = slug
			}
		case events.ToolResult:
			if slug, ok := ev.Payload["slug"].(string); ok {
				markAffected(slug)
				resp.ActivePageSlug = slug
			}
		case events.RunWaitingInput:
			resp.Action = ActionAskUser
			if qs, ok := ev.Payload["questions"].([]map[string]any); ok {
				resp.Questions = qs
			}
		case events.RunCompleted:
			resp.Action = ActionComplete
		case events.RunFailed:
			resp.Action = ActionError
			if msg, ok := ev.Payload["error"].(string); ok {
				resp.Message = msg
			}
		case events.RunCancelled:
			resp.Action = ActionCancelled
		case events.ProductDocUpdated, events.ProductDocGenerated:
			resp.ProductDocUpdated = true
		case events.PageCreated, events.PageVersionCreated:
			if slug, ok := ev.Payload["slug"].(string); ok {
				markAffected(slug)
				resp.ActivePageSlug = slug
			}
		case events.PagePreviewReady:
			if url, ok := ev.Payload["preview_url"].(string); ok {
				resp.PreviewURL = url
			}
			if html, ok := ev.Payload["html"].(string); ok {
				resp.PreviewHTML = html
			}
		}
	}

	resp.AffectedPages = affectedOrder
	resp.IsComplete = r.Status == run.StatusCompleted || r.Status == run.StatusFailed || r.Status == run.StatusCancelled
	resp.Progress = progressFor(r.Status, steps)

	if resp.Action == "" {
		resp.Action = actionForStatus(r.Status)
	}
	if r.Error != "" && resp.Message == "" {
		resp.Message = r.Error
	}

	return resp
}

func phaseFor(status run.Status) string {
	switch status {
	case run.StatusQueued, run.StatusRunning, run.StatusWaitingInput:
		return PhaseGenerating
	case run.StatusCompleted:
		return PhaseDone
	case run.StatusFailed, run.StatusCancelled:
		return PhaseFailed
	default:
		return PhaseGenerating
	}
}

func actionForStatus(status run.Status) string {
	switch status {
	case run.StatusWaitingInput:
		return ActionAskUser
	case run.StatusCompleted:
		return ActionComplete
	case run.StatusFailed:
		return ActionError
	case run.StatusCancelled:
		return ActionCancelled
	default:
		return ActionThinking
	}
}

// progressFor maps the loop's step counter onto a coarse 0..1 indicator;
// it is a heuristic, not a precise ETA, since total step count is unknown
// until the loop terminates.
func progressFor(status run.Status, steps int) float64 {
	switch status {
	case run.StatusCompleted, run.StatusFailed, run.StatusCancelled:
		return 1.0
	case run.StatusQueued:
		return 0.0
	}
	const assumedTotalSteps = 10
	p := float64(steps) / float64(assumedTotalSteps)
	if p > 0.95 {
		p = 0.95
	}
	return p
}
