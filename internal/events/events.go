// Package events implements the Event Store & Emitter (C5): a session-
// ordered, monotonically-sequenced, gap-free event log that feeds both
// real-time SSE push and polling catch-up, with at-least-once delivery
// semantics (consumers dedup by EventID).
package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Type is one of the closed taxonomy of event kinds.
type Type string

const (
	// Run lifecycle — run-scoped, mandatory RunID.
	RunCreated      Type = "run_created"
	RunStarted      Type = "run_started"
	RunWaitingInput Type = "run_waiting_input"
	RunResumed      Type = "run_resumed"
	RunCompleted    Type = "run_completed"
	RunFailed       Type = "run_failed"
	RunCancelled    Type = "run_cancelled"

	// Agent/loop — run-scoped.
	StepStart  Type = "step_start"
	StepEnd    Type = "step_end"
	ToolCall   Type = "tool_call"
	ToolResult Type = "tool_result"
	Text       Type = "text"
	Error      Type = "error"

	// Verify — run-scoped.
	VerifyStart Type = "verify_start"
	VerifyPass  Type = "verify_pass"
	VerifyFail  Type = "verify_fail"

	// Policy — run-scoped.
	ToolPolicyBlocked Type = "tool_policy_blocked"
	ToolPolicyWarn    Type = "tool_policy_warn"

	// Domain — session or run-scoped.
	ProductDocGenerated Type = "product_doc_generated"
	ProductDocUpdated   Type = "product_doc_updated"
	PageCreated         Type = "page_created"
	PageVersionCreated  Type = "page_version_created"
	PagePreviewReady    Type = "page_preview_ready"
)

// runScoped lists types that must carry a non-empty RunID at emission.
var runScoped = map[Type]bool{
	RunCreated: true, RunStarted: true, RunWaitingInput: true, RunResumed: true,
	RunCompleted: true, RunFailed: true, RunCancelled: true,
	StepStart: true, StepEnd: true, ToolCall: true, ToolResult: true, Text: true, Error: true,
	VerifyStart: true, VerifyPass: true, VerifyFail: true,
	ToolPolicyBlocked: true, ToolPolicyWarn: true,
}

// IsRunScoped reports whether t requires a RunID at emission.
func IsRunScoped(t Type) bool { return runScoped[t] }

// Event is an immutable append-only log entry. Payload is always an object,
// never a bare string or scalar.
type Event struct {
	Seq       int64          `json:"seq"`
	Type      Type           `json:"type"`
	Timestamp int64          `json:"timestamp"` // unix millis
	SessionID string         `json:"session_id"`
	RunID     string         `json:"run_id,omitempty"`
	Source    string         `json:"source"`
	EventID   string         `json:"event_id"`
	Payload   map[string]any `json:"payload"`
}

// Store is the backing persistence contract for the event log: atomic
// sequence assignment at append, ordered retrieval by session or run.
type Store interface {
	// Append assigns the next session-scoped seq atomically and persists ev.
	// Implementations must reject run-scoped types with an empty RunID.
	Append(ctx context.Context, ev Event) (Event, error)
	// GetBySession returns events for sessionID with seq > sinceSeq, ordered
	// by seq ascending, capped at limit (0 means no cap).
	GetBySession(ctx context.Context, sessionID string, sinceSeq int64, limit int) ([]Event, error)
	// GetByRun returns events for (sessionID, runID) with seq > sinceSeq,
	// ordered by the original session seq, capped at limit.
	GetByRun(ctx context.Context, sessionID, runID string, sinceSeq int64, limit int) ([]Event, error)
}

// Broadcaster fans out newly appended events to live SSE subscribers. It is
// independent of Store: push is best-effort and at-least-once, the
// canonical record of truth is always the Store.
type Broadcaster interface {
	Publish(ev Event)
	Subscribe(sessionID string) (ch <-chan Event, unsubscribe func())
}

// Emitter is the C5 write-path API used by every other component (loop,
// run service, verify gate, policy) to record domain events. It wraps a
// Store and a Broadcaster so a single Emit call both persists and pushes.
type Emitter struct {
	store       Store
	broadcaster Broadcaster
	source      string
}

// NewEmitter constructs an Emitter. broadcaster may be nil, in which case
// Emit only persists (useful for batch/offline contexts).
func NewEmitter(store Store, broadcaster Broadcaster, source string) *Emitter {
	return &Emitter{store: store, broadcaster: broadcaster, source: source}
}

// Emit validates, persists, and (if a Broadcaster is wired) pushes ev. It
// rejects run-scoped types with no RunID per §4.5's emission rule.
func (e *Emitter) Emit(ctx context.Context, eventType Type, sessionID, runID string, payload map[string]any) (Event, error) {
	if sessionID == "" {
		return Event{}, fmt.Errorf("events: session id is required")
	}
	if IsRunScoped(eventType) && runID == "" {
		return Event{}, fmt.Errorf("events: %q is run-scoped and requires a run id", eventType)
	}
	if payload == nil {
		payload = map[string]any{}
	}

	ev := Event{
		Type:      eventType,
		SessionID: sessionID,
		RunID:     runID,
		Source:    e.source,
		EventID:   uuid.NewString(),
		Payload:   payload,
	}

	stored, err := e.store.Append(ctx, ev)
	if err != nil {
		return Event{}, fmt.Errorf("events: append: %w", err)
	}

	if e.broadcaster != nil {
		e.broadcaster.Publish(stored)
	}
	return stored, nil
}

// GetEventsBySession is the aggregated-stream query (§4.5).
func (e *Emitter) GetEventsBySession(ctx context.Context, sessionID string, sinceSeq int64, limit int) ([]Event, error) {
	return e.store.GetBySession(ctx, sessionID, sinceSeq, limit)
}

// GetEventsByRun is the run-filtered query (§4.5), still ordered by the
// original session seq.
func (e *Emitter) GetEventsByRun(ctx context.Context, sessionID, runID string, sinceSeq int64, limit int) ([]Event, error) {
	return e.store.GetByRun(ctx, sessionID, runID, sinceSeq, limit)
}

// Subscribe opens a live feed of events for sessionID. Returns a nil channel
// and a no-op unsubscribe if no Broadcaster is wired.
func (e *Emitter) Subscribe(sessionID string) (<-chan Event, func()) {
	if e.broadcaster == nil {
		return nil, func() {}
	}
	return e.broadcaster.Subscribe(sessionID)
}
