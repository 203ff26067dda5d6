// Package pages implements the Page / PageVersion store: addressable
// generated artifacts with immutable version history and rollback.
package pages

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidateSlug enforces the Page.slug invariant: lowercase, hyphenated,
// <=40 chars.
func ValidateSlug(slug string) error {
	if slug == "" || len(slug) > 40 || !slugPattern.MatchString(slug) {
		return fmt.Errorf("pages: invalid slug %q", slug)
	}
	return nil
}

// Page is an addressable generated artifact, unique per session by slug.
type Page struct {
	PageID           string
	SessionID        string
	Slug             string
	Title            string
	OrderIndex       int
	CurrentVersionID string
	DeletedAt        time.Time
}

// Version is an immutable HTML snapshot. Version numbers auto-increment
// within a page starting at 1.
type Version struct {
	VersionID   string
	PageID      string
	Version     int
	HTML        string
	Description string
	CreatedAt   time.Time
}

// ErrNotFound indicates no Page or Version exists for the given lookup.
var ErrNotFound = fmt.Errorf("pages: not found")

// Store persists Pages and their Versions.
type Store interface {
	// WriteVersion creates (or reuses, if the slug already exists) a Page and
	// appends a new Version, pointing Page.CurrentVersionID at it.
	WriteVersion(ctx context.Context, sessionID, slug, title, html, description string) (versionID string, version int, err error)
	// CurrentHTML returns the HTML of a page's current version.
	CurrentHTML(ctx context.Context, sessionID, slug string) (html string, found bool, err error)
	// ListPages lists every non-deleted page in a session, unordered.
	ListPages(ctx context.Context, sessionID string) ([]PageSummary, error)
	// Rollback points Page.CurrentVersionID at an earlier version without
	// deleting any later versions.
	Rollback(ctx context.Context, sessionID, slug string, versionID string) error
	// Versions lists every version of a page, oldest first.
	Versions(ctx context.Context, sessionID, slug string) ([]Version, error)
}

// PageSummary is the list_pages projection of a Page.
type PageSummary struct {
	Slug             string `json:"slug"`
	Title            string `json:"title"`
	OrderIndex       int    `json:"order_index"`
	CurrentVersionID string `json:"current_version_id"`
}

// InMemoryStore is a process-local Store for tests and single-node runs.
type InMemoryStore struct {
	mu       sync.Mutex
	pages    map[string]map[string]*Page // sessionID -> slug -> Page
	versions map[string][]Version        // pageID -> versions, oldest first
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		pages:    make(map[string]map[string]*Page),
		versions: make(map[string][]Version),
	}
}

func (s *InMemoryStore) WriteVersion(_ context.Context, sessionID, slug, title, html, description string) (string, int, error) {
	if err := ValidateSlug(slug); err != nil {
		return "", 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pages[sessionID] == nil {
		s.pages[sessionID] = make(map[string]*Page)
	}
	page, exists := s.pages[sessionID][slug]
	if !exists {
		page = &Page{
			PageID:     uuid.NewString(),
			SessionID:  sessionID,
			Slug:       slug,
			Title:      title,
			OrderIndex: len(s.pages[sessionID]),
		}
		s.pages[sessionID][slug] = page
	} else if title != "" {
		page.Title = title
	}

	versionNumber := len(s.versions[page.PageID]) + 1
	v := Version{
		VersionID:   uuid.NewString(),
		PageID:      page.PageID,
		Version:     versionNumber,
		HTML:        html,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	s.versions[page.PageID] = append(s.versions[page.PageID], v)
	page.CurrentVersionID = v.VersionID

	return v.VersionID, v.Version, nil
}

func (s *InMemoryStore) CurrentHTML(_ context.Context, sessionID, slug string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, ok := s.pages[sessionID][slug]
	if !ok {
		return "", false, nil
	}
	for _, v := range s.versions[page.PageID] {
		if v.VersionID == page.CurrentVersionID {
			return v.HTML, true, nil
		}
	}
	return "", false, nil
}

func (s *InMemoryStore) ListPages(_ context.Context, sessionID string) ([]PageSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PageSummary, 0, len(s.pages[sessionID]))
	for _, p := range s.pages[sessionID] {
		if !p.DeletedAt.IsZero() {
			continue
		}
		out = append(out, PageSummary{
			Slug: p.Slug, Title: p.Title, OrderIndex: p.OrderIndex, CurrentVersionID: p.CurrentVersionID,
		})
	}
	return out, nil
}

func (s *InMemoryStore) Rollback(_ context.Context, sessionID, slug, versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, ok := s.pages[sessionID][slug]
	if !ok {
		return ErrNotFound
	}
	for _, v := range s.versions[page.PageID] {
		if v.VersionID == versionID {
			page.CurrentVersionID = versionID
			return nil
		}
	}
	return fmt.Errorf("pages: version %q not found for page %q: %w", versionID, slug, ErrNotFound)
}

func (s *InMemoryStore) Versions(_ context.Context, sessionID, slug string) ([]Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, ok := s.pages[sessionID][slug]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]Version(nil), s.versions[page.PageID]...), nil
}
