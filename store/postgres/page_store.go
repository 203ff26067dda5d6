package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sitewright/agentcore/internal/pages"
)

// PageStore implements pages.Store over the pages and page_versions tables.
type PageStore struct {
	pool *Pool
}

// NewPageStore constructs a PageStore over pool.
func NewPageStore(pool *Pool) *PageStore {
	return &PageStore{pool: pool}
}

// WriteVersion implements pages.Store, creating the page row on first write
// and appending a version inside one transaction so Page.CurrentVersionID
// and the new page_versions row are linearizable per page.
func (s *PageStore) WriteVersion(ctx context.Context, sessionID, slug, title, html, description string) (string, int, error) {
	if err := pages.ValidateSlug(slug); err != nil {
		return "", 0, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("postgres: begin write version: %w", err)
	}
	defer tx.Rollback(ctx)

	var pageID string
	err = tx.QueryRow(ctx, `SELECT page_id FROM pages WHERE session_id = $1 AND slug = $2`, sessionID, slug).Scan(&pageID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		pageID = uuid.NewString()
		var orderIndex int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM pages WHERE session_id = $1`, sessionID).Scan(&orderIndex); err != nil {
			return "", 0, fmt.Errorf("postgres: count pages: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO pages (page_id, session_id, slug, title, order_index) VALUES ($1, $2, $3, $4, $5)
		`, pageID, sessionID, slug, title, orderIndex)
		if err != nil {
			return "", 0, fmt.Errorf("postgres: insert page: %w", err)
		}
	case err != nil:
		return "", 0, fmt.Errorf("postgres: lookup page: %w", err)
	default:
		if title != "" {
			if _, err := tx.Exec(ctx, `UPDATE pages SET title = $2 WHERE page_id = $1`, pageID, title); err != nil {
				return "", 0, fmt.Errorf("postgres: update page title: %w", err)
			}
		}
	}

	var nextVersion int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM page_versions WHERE page_id = $1`, pageID).Scan(&nextVersion); err != nil {
		return "", 0, fmt.Errorf("postgres: count versions: %w", err)
	}
	nextVersion++

	versionID := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO page_versions (version_id, page_id, version, html, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, versionID, pageID, nextVersion, html, description, time.Now().UTC())
	if err != nil {
		return "", 0, fmt.Errorf("postgres: insert version: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE pages SET current_version_id = $2 WHERE page_id = $1`, pageID, versionID); err != nil {
		return "", 0, fmt.Errorf("postgres: point current version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", 0, fmt.Errorf("postgres: commit write version: %w", err)
	}
	return versionID, nextVersion, nil
}

// CurrentHTML implements pages.Store.
func (s *PageStore) CurrentHTML(ctx context.Context, sessionID, slug string) (string, bool, error) {
	var html string
	err := s.pool.QueryRow(ctx, `
		SELECT pv.html FROM pages p
		JOIN page_versions pv ON pv.version_id = p.current_version_id
		WHERE p.session_id = $1 AND p.slug = $2
	`, sessionID, slug).Scan(&html)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres: current html: %w", err)
	}
	return html, true, nil
}

// ListPages implements pages.Store.
func (s *PageStore) ListPages(ctx context.Context, sessionID string) ([]pages.PageSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT slug, title, order_index, coalesce(current_version_id, '')
		FROM pages WHERE session_id = $1
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pages: %w", err)
	}
	defer rows.Close()

	var out []pages.PageSummary
	for rows.Next() {
		var p pages.PageSummary
		if err := rows.Scan(&p.Slug, &p.Title, &p.OrderIndex, &p.CurrentVersionID); err != nil {
			return nil, fmt.Errorf("postgres: scan page: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pages: %w", err)
	}
	return out, nil
}

// Rollback implements pages.Store.
func (s *PageStore) Rollback(ctx context.Context, sessionID, slug, versionID string) error {
	var pageID string
	err := s.pool.QueryRow(ctx, `SELECT page_id FROM pages WHERE session_id = $1 AND slug = $2`, sessionID, slug).Scan(&pageID)
	if errors.Is(err, pgx.ErrNoRows) {
		return pages.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres: rollback lookup page: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE pages SET current_version_id = $2
		WHERE page_id = $1 AND EXISTS (SELECT 1 FROM page_versions WHERE page_id = $1 AND version_id = $2)
	`, pageID, versionID)
	if err != nil {
		return fmt.Errorf("postgres: rollback: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: version %q not found for page %q: %w", versionID, slug, pages.ErrNotFound)
	}
	return nil
}

// Versions implements pages.Store.
func (s *PageStore) Versions(ctx context.Context, sessionID, slug string) ([]pages.Version, error) {
	var pageID string
	err := s.pool.QueryRow(ctx, `SELECT page_id FROM pages WHERE session_id = $1 AND slug = $2`, sessionID, slug).Scan(&pageID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pages.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: versions lookup page: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT version_id, page_id, version, html, description, created_at
		FROM page_versions WHERE page_id = $1 ORDER BY version ASC
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list versions: %w", err)
	}
	defer rows.Close()

	var out []pages.Version
	for rows.Next() {
		var v pages.Version
		if err := rows.Scan(&v.VersionID, &v.PageID, &v.Version, &v.HTML, &v.Description, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan version: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list versions: %w", err)
	}
	return out, nil
}
