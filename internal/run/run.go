// Package run implements the Run Service & State Machine (C4): the
// lifecycle of a single generation attempt, from creation through the
// queued/running/waiting_input/completed/failed/cancelled transitions, with
// idempotent create/resume and cooperative cancellation.
package run

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is one of the six lifecycle states a Run may be in.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusRunning      Status = "running"
	StatusWaitingInput Status = "waiting_input"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// terminal reports whether a status has no further permitted transitions.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// permitted encodes the transition table from §4.4.
var permitted = map[Status]map[Status]bool{
	StatusQueued:       {StatusRunning: true, StatusCancelled: true},
	StatusRunning:      {StatusWaitingInput: true, StatusCompleted: true, StatusFailed: true, StatusCancelled: true},
	StatusWaitingInput: {StatusRunning: true, StatusCancelled: true},
}

// ErrStateConflict is returned for any transition not in the permitted
// table; the HTTP layer (out of scope here) maps this to 409.
type ErrStateConflict struct {
	RunID string
	From  Status
	To    Status
}

func (e *ErrStateConflict) Error() string {
	return fmt.Sprintf("run: state conflict for %s: %s -> %s not permitted", e.RunID, e.From, e.To)
}

// ErrNotFound indicates no Run exists for the given id.
var ErrNotFound = fmt.Errorf("run: not found")

// Run is one generation attempt, persisted across its lifecycle.
type Run struct {
	RunID            string
	SessionID        string
	InputMessage     string
	Status           Status
	CreatedAt        time.Time
	StartedAt        time.Time
	EndedAt          time.Time
	VerifyReport     map[string]any
	Error            string
	ResumePayload    map[string]any
	CheckpointThread string
}

// checkpointThread derives the run's isolation key: "session_id:run_id".
func checkpointThread(sessionID, runID string) string {
	return sessionID + ":" + runID
}

// Store persists Run state. Implementations (in-memory for tests, the
// relational store in store/postgres for production) must make
// persist-then-read read-your-writes within a single process.
type Store interface {
	Create(ctx context.Context, r Run) error
	Get(ctx context.Context, runID string) (Run, error)
	Update(ctx context.Context, r Run) error
	ListBySession(ctx context.Context, sessionID string) ([]Run, error)
}

// idempotencyRecord caches a create_run/resume_run response for 24h so a
// repeated call with the same key returns the original outcome rather than
// creating a duplicate Run.
type idempotencyRecord struct {
	runID     string
	expiresAt time.Time
}

// Service implements the C4 operations over a Store, tracking cancellation
// flags and idempotency keys in memory (these are process-local concerns;
// the Run's durable fields live in Store).
type Service struct {
	mu            sync.Mutex
	store         Store
	cancelFlags   map[string]bool
	activeRuns    map[string]bool // enforces "only one active execution instance per Run"
	idempotency   map[string]idempotencyRecord
	idempotencyTTL time.Duration
}

// NewService constructs a Service over store.
func NewService(store Store) *Service {
	return &Service{
		store:          store,
		cancelFlags:    make(map[string]bool),
		activeRuns:     make(map[string]bool),
		idempotency:    make(map[string]idempotencyRecord),
		idempotencyTTL: 24 * time.Hour,
	}
}

// CreateRun creates a new Run in StatusQueued. If idempotencyKey matches a
// call within the last 24h, the original RunID is returned instead of
// creating a duplicate.
func (s *Service) CreateRun(ctx context.Context, sessionID, inputMessage, idempotencyKey string) (Run, error) {
	s.mu.Lock()
	if idempotencyKey != "" {
		if rec, ok := s.idempotency[idempotencyKey]; ok && time.Now().Before(rec.expiresAt) {
			runID := rec.runID
			s.mu.Unlock()
			return s.store.Get(ctx, runID)
		}
	}
	s.mu.Unlock()

	runID := uuid.NewString()
	now := time.Now().UTC()
	r := Run{
		RunID:            runID,
		SessionID:        sessionID,
		InputMessage:     inputMessage,
		Status:           StatusQueued,
		CreatedAt:        now,
		CheckpointThread: checkpointThread(sessionID, runID),
	}
	if err := s.store.Create(ctx, r); err != nil {
		return Run{}, fmt.Errorf("run: create: %w", err)
	}

	if idempotencyKey != "" {
		s.mu.Lock()
		s.idempotency[idempotencyKey] = idempotencyRecord{runID: runID, expiresAt: time.Now().Add(s.idempotencyTTL)}
		s.mu.Unlock()
	}
	return r, nil
}

// StartRun transitions a queued Run to running and sets StartedAt.
func (s *Service) StartRun(ctx context.Context, runID string) (Run, error) {
	return s.transition(ctx, runID, StatusRunning, func(r *Run) {
		if r.StartedAt.IsZero() {
			r.StartedAt = time.Now().UTC()
		}
	})
}

// ResumeRun transitions a waiting_input Run back to running, attaching the
// user's answers as the ResumePayload the loop will synthesize a tool
// result from. Valid only from StatusWaitingInput.
func (s *Service) ResumeRun(ctx context.Context, runID string, answers map[string]any, idempotencyKey string) (Run, error) {
	s.mu.Lock()
	if idempotencyKey != "" {
		if rec, ok := s.idempotency[idempotencyKey]; ok && time.Now().Before(rec.expiresAt) {
			existingID := rec.runID
			s.mu.Unlock()
			return s.store.Get(ctx, existingID)
		}
	}
	if s.activeRuns[runID] {
		s.mu.Unlock()
		return Run{}, &ErrStateConflict{RunID: runID, From: StatusRunning, To: StatusRunning}
	}
	s.mu.Unlock()

	r, err := s.transition(ctx, runID, StatusRunning, func(r *Run) {
		r.ResumePayload = answers
	})
	if err != nil {
		return Run{}, err
	}

	if idempotencyKey != "" {
		s.mu.Lock()
		s.idempotency[idempotencyKey] = idempotencyRecord{runID: runID, expiresAt: time.Now().Add(s.idempotencyTTL)}
		s.mu.Unlock()
	}
	return r, nil
}

// CancelRun sets the cooperative cancellation flag and transitions the Run
// to cancelled. Idempotent: cancelling an already-terminal Run is a no-op
// returning success.
func (s *Service) CancelRun(ctx context.Context, runID string) (Run, error) {
	r, err := s.store.Get(ctx, runID)
	if err != nil {
		return Run{}, err
	}
	if r.Status.terminal() {
		return r, nil
	}

	s.mu.Lock()
	s.cancelFlags[runID] = true
	s.mu.Unlock()

	return s.transition(ctx, runID, StatusCancelled, func(r *Run) {
		r.EndedAt = time.Now().UTC()
	})
}

// IsCancelled reports whether CancelRun has been called for runID. The loop
// (C3) polls this between steps, never mid-LLM-call.
func (s *Service) IsCancelled(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelFlags[runID]
}

// PersistRunState applies a general status + field update, validating the
// transition against the permitted table.
func (s *Service) PersistRunState(ctx context.Context, runID string, status Status, mutate func(*Run)) (Run, error) {
	return s.transition(ctx, runID, status, mutate)
}

// GetRun fetches a Run by id.
func (s *Service) GetRun(ctx context.Context, runID string) (Run, error) {
	return s.store.Get(ctx, runID)
}

// ListRuns lists every Run for a session.
func (s *Service) ListRuns(ctx context.Context, sessionID string) ([]Run, error) {
	return s.store.ListBySession(ctx, sessionID)
}

// MarkActive records that an execution instance is now driving runID,
// rejecting a second concurrent instance.
func (s *Service) MarkActive(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeRuns[runID] {
		return &ErrStateConflict{RunID: runID, From: StatusRunning, To: StatusRunning}
	}
	s.activeRuns[runID] = true
	return nil
}

// MarkInactive releases the active-execution claim on runID.
func (s *Service) MarkInactive(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeRuns, runID)
}

func (s *Service) transition(ctx context.Context, runID string, to Status, mutate func(*Run)) (Run, error) {
	r, err := s.store.Get(ctx, runID)
	if err != nil {
		return Run{}, err
	}

	from := r.Status
	if !permitted[from][to] {
		return Run{}, &ErrStateConflict{RunID: runID, From: from, To: to}
	}

	r.Status = to
	if mutate != nil {
		mutate(&r)
	}
	if to.terminal() && r.EndedAt.IsZero() {
		r.EndedAt = time.Now().UTC()
	}

	if err := s.store.Update(ctx, r); err != nil {
		return Run{}, fmt.Errorf("run: update: %w", err)
	}
	return r, nil
}
