package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sitewright/agentcore/internal/session"
)

// SessionStore implements session.Store over the sessions table.
type SessionStore struct {
	pool *Pool
}

// NewSessionStore constructs a SessionStore over pool.
func NewSessionStore(pool *Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// Create implements session.Store. A session_id that already exists is
// returned unchanged (idempotent create), matching session.InMemoryStore.
func (s *SessionStore) Create(ctx context.Context, sess session.Session) (session.Session, error) {
	existing, err := s.Get(ctx, sess.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return session.Session{}, err
	}

	card, sections, err := encodeSession(sess)
	if err != nil {
		return session.Session{}, err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO sessions (session_id, status, output_dir, project_card, sections, created_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sess.ID, string(sess.Status), sess.OutputDir, card, sections, sess.CreatedAt, nullTime(sess.EndedAt))
	if err != nil {
		return session.Session{}, fmt.Errorf("postgres: create session: %w", err)
	}
	return sess, nil
}

// Get implements session.Store.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (session.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, status, output_dir, project_card, sections, created_at, ended_at
		FROM sessions WHERE session_id = $1
	`, sessionID)

	var (
		sess        session.Session
		status      string
		card        []byte
		sectionsRaw []byte
		endedAt     *time.Time
	)
	if err := row.Scan(&sess.ID, &status, &sess.OutputDir, &card, &sectionsRaw, &sess.CreatedAt, &endedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("postgres: get session: %w", err)
	}
	sess.Status = session.Status(status)
	if endedAt != nil {
		sess.EndedAt = *endedAt
	}
	if err := decodeSession(&sess, card, sectionsRaw); err != nil {
		return session.Session{}, err
	}
	return sess, nil
}

// End implements session.Store.
func (s *SessionStore) End(ctx context.Context, sessionID string, endedAt time.Time) (session.Session, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET status = $2, ended_at = $3 WHERE session_id = $1
	`, sessionID, string(session.StatusEnded), endedAt)
	if err != nil {
		return session.Session{}, fmt.Errorf("postgres: end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.Session{}, session.ErrNotFound
	}
	return s.Get(ctx, sessionID)
}

// UpdateProjectCard implements session.Store.
func (s *SessionStore) UpdateProjectCard(ctx context.Context, sessionID string, card session.ProjectCard) error {
	raw, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("postgres: encode project card: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE sessions SET project_card = $2 WHERE session_id = $1`, sessionID, raw)
	if err != nil {
		return fmt.Errorf("postgres: update project card: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

// UpsertSection implements session.Store, merging section into the JSONB
// sections map keyed by title.
func (s *SessionStore) UpsertSection(ctx context.Context, sessionID string, section session.ProductDocSection) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Sections == nil {
		sess.Sections = make(map[string]session.ProductDocSection)
	}
	sess.Sections[section.Title] = section

	raw, err := json.Marshal(sess.Sections)
	if err != nil {
		return fmt.Errorf("postgres: encode sections: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE sessions SET sections = $2 WHERE session_id = $1`, sessionID, raw)
	if err != nil {
		return fmt.Errorf("postgres: upsert section: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

func encodeSession(sess session.Session) (card, sections []byte, err error) {
	card, err = json.Marshal(sess.ProjectCard)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: encode project card: %w", err)
	}
	sections, err = json.Marshal(sess.Sections)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: encode sections: %w", err)
	}
	return card, sections, nil
}

func decodeSession(sess *session.Session, card, sectionsRaw []byte) error {
	if len(card) > 0 {
		if err := json.Unmarshal(card, &sess.ProjectCard); err != nil {
			return fmt.Errorf("postgres: decode project card: %w", err)
		}
	}
	if len(sectionsRaw) > 0 {
		if err := json.Unmarshal(sectionsRaw, &sess.Sections); err != nil {
			return fmt.Errorf("postgres: decode sections: %w", err)
		}
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
