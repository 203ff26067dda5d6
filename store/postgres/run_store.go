package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sitewright/agentcore/internal/run"
)

// RunStore implements run.Store over the runs table.
type RunStore struct {
	pool *Pool
}

// NewRunStore constructs a RunStore over pool.
func NewRunStore(pool *Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Create implements run.Store.
func (s *RunStore) Create(ctx context.Context, r run.Run) error {
	verifyReport, resumePayload, err := encodeRun(r)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO runs (run_id, session_id, input_message, status, created_at, started_at, ended_at,
			verify_report, error, resume_payload, checkpoint_thread)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, r.RunID, r.SessionID, r.InputMessage, string(r.Status), r.CreatedAt, nullTime(r.StartedAt), nullTime(r.EndedAt),
		verifyReport, r.Error, resumePayload, r.CheckpointThread)
	if err != nil {
		return fmt.Errorf("postgres: create run: %w", err)
	}
	return nil
}

// Get implements run.Store.
func (s *RunStore) Get(ctx context.Context, runID string) (run.Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT run_id, session_id, input_message, status, created_at, started_at, ended_at,
			verify_report, error, resume_payload, checkpoint_thread
		FROM runs WHERE run_id = $1
	`, runID)
	return scanRun(row)
}

// Update implements run.Store.
func (s *RunStore) Update(ctx context.Context, r run.Run) error {
	verifyReport, resumePayload, err := encodeRun(r)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE runs SET status = $2, started_at = $3, ended_at = $4, verify_report = $5,
			error = $6, resume_payload = $7
		WHERE run_id = $1
	`, r.RunID, string(r.Status), nullTime(r.StartedAt), nullTime(r.EndedAt), verifyReport, r.Error, resumePayload)
	if err != nil {
		return fmt.Errorf("postgres: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return run.ErrNotFound
	}
	return nil
}

// ListBySession implements run.Store.
func (s *RunStore) ListBySession(ctx context.Context, sessionID string) ([]run.Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, session_id, input_message, status, created_at, started_at, ended_at,
			verify_report, error, resume_payload, checkpoint_thread
		FROM runs WHERE session_id = $1 ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	defer rows.Close()

	var out []run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (run.Run, error) {
	var (
		r             run.Run
		status        string
		startedAt     *time.Time
		endedAt       *time.Time
		verifyReport  []byte
		resumePayload []byte
	)
	err := row.Scan(&r.RunID, &r.SessionID, &r.InputMessage, &status, &r.CreatedAt, &startedAt, &endedAt,
		&verifyReport, &r.Error, &resumePayload, &r.CheckpointThread)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return run.Run{}, run.ErrNotFound
		}
		return run.Run{}, fmt.Errorf("postgres: scan run: %w", err)
	}
	r.Status = run.Status(status)
	if startedAt != nil {
		r.StartedAt = *startedAt
	}
	if endedAt != nil {
		r.EndedAt = *endedAt
	}
	if len(verifyReport) > 0 {
		if err := json.Unmarshal(verifyReport, &r.VerifyReport); err != nil {
			return run.Run{}, fmt.Errorf("postgres: decode verify report: %w", err)
		}
	}
	if len(resumePayload) > 0 {
		if err := json.Unmarshal(resumePayload, &r.ResumePayload); err != nil {
			return run.Run{}, fmt.Errorf("postgres: decode resume payload: %w", err)
		}
	}
	return r, nil
}

func encodeRun(r run.Run) (verifyReport, resumePayload []byte, err error) {
	if r.VerifyReport != nil {
		verifyReport, err = json.Marshal(r.VerifyReport)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: encode verify report: %w", err)
		}
	}
	if r.ResumePayload != nil {
		resumePayload, err = json.Marshal(r.ResumePayload)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: encode resume payload: %w", err)
		}
	}
	return verifyReport, resumePayload, nil
}
