// Package session defines the Session entity: the durable conversational
// container that owns Runs, Pages, the ProductDoc, and the Event log.
// Sessions are created and ended independently of Run lifecycle, and an
// ended session must not accept new Runs.
package session

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	// ErrNotFound indicates a session does not exist in the store.
	ErrNotFound = errors.New("session: not found")
	// ErrEnded indicates an operation was attempted against a terminal session.
	ErrEnded = errors.New("session: ended")
)

// ProductDocSection is one section of the session's long-term Product Doc,
// the durable spec of what is being built (carried from C2's long-term
// memory layer but owned here since it outlives any single Run).
type ProductDocSection struct {
	Title     string
	Content   string
	UpdatedAt time.Time
	UpdatedBy string // run ID that last wrote this section
}

// ProjectCard is the condensed, always-in-context summary of the project:
// name, one-line description, target audience, and page list.
type ProjectCard struct {
	Name        string
	Description string
	Audience    string
	PageSlugs   []string
}

// Session is the durable conversational container.
type Session struct {
	ID          string
	Status      Status
	CreatedAt   time.Time
	EndedAt     time.Time
	ProjectCard ProjectCard
	Sections    map[string]ProductDocSection
	OutputDir   string
}

// Store persists Session state. Implementations must be durable: a failure
// here must surface to the caller rather than silently dropping state.
type Store interface {
	Create(ctx context.Context, s Session) (Session, error)
	Get(ctx context.Context, sessionID string) (Session, error)
	End(ctx context.Context, sessionID string, endedAt time.Time) (Session, error)
	UpdateProjectCard(ctx context.Context, sessionID string, card ProjectCard) error
	UpsertSection(ctx context.Context, sessionID string, section ProductDocSection) error
}

// Service is the application-facing entry point onto Session lifecycle.
type Service struct {
	store Store
}

// NewService constructs a Service backed by store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create opens a new session rooted at outputDir, where C8's file-writing
// tools are sandboxed. Idempotent: creating an already-active session
// returns the existing record; creating an ended session is rejected.
func (s *Service) Create(ctx context.Context, sessionID, outputDir string) (Session, error) {
	existing, err := s.store.Get(ctx, sessionID)
	if err == nil {
		if existing.Status == StatusEnded {
			return Session{}, ErrEnded
		}
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Session{}, err
	}
	return s.store.Create(ctx, Session{
		ID:        sessionID,
		Status:    StatusActive,
		CreatedAt: time.Now().UTC(),
		OutputDir: outputDir,
		Sections:  make(map[string]ProductDocSection),
	})
}

// Get loads a session, returning ErrNotFound if absent.
func (s *Service) Get(ctx context.Context, sessionID string) (Session, error) {
	return s.store.Get(ctx, sessionID)
}

// RequireActive loads a session and verifies it is not ended, the precondition
// for starting a new Run under it.
func (s *Service) RequireActive(ctx context.Context, sessionID string) (Session, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if sess.Status == StatusEnded {
		return Session{}, ErrEnded
	}
	return sess, nil
}

// End closes a session. Idempotent: ending an already-ended session returns
// the stored record unchanged.
func (s *Service) End(ctx context.Context, sessionID string) (Session, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if sess.Status == StatusEnded {
		return sess, nil
	}
	return s.store.End(ctx, sessionID, time.Now().UTC())
}

// UpdateProjectCard replaces the session's condensed project summary,
// typically invoked by analyze_brief (C8) early in a Run.
func (s *Service) UpdateProjectCard(ctx context.Context, sessionID string, card ProjectCard) error {
	return s.store.UpdateProjectCard(ctx, sessionID, card)
}

// UpsertSection writes or replaces one Product Doc section, keyed by title,
// the long-term memory layer C2 reads from on every BuildMessages call.
func (s *Service) UpsertSection(ctx context.Context, sessionID, runID, title, content string) error {
	return s.store.UpsertSection(ctx, sessionID, ProductDocSection{
		Title: title, Content: content, UpdatedAt: time.Now().UTC(), UpdatedBy: runID,
	})
}
