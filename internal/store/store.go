// Package store persists content item metadata in SQLite. It is the single
// source of truth for stage-completion state; blob payloads live in the
// blob store and are referenced here by key.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"curator/internal/core"

	_ "github.com/mattn/go-sqlite3"
)

// GUIDCollisionError is returned by PlanGUIDUpdates when two distinct links
// derive the same guid. The maintenance operation refuses to overwrite
// either item.
type GUIDCollisionError struct {
	GUID  string
	LinkA string
	LinkB string
}

func (e *GUIDCollisionError) Error() string {
	return fmt.Sprintf("guid collision %s between %q and %q", e.GUID, e.LinkA, e.LinkB)
}

// Store is the SQLite-backed metadata store.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the metadata database under dataDir.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "curator.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

// initialize creates the items table. Path reference columns default to the
// empty string; an empty reference means the stage has not produced output.
func (s *Store) initialize() error {
	table := `
	CREATE TABLE IF NOT EXISTS items (
		guid TEXT PRIMARY KEY,
		link TEXT NOT NULL,
		title TEXT DEFAULT '',
		published_date TEXT DEFAULT '',
		fetch_date TEXT DEFAULT '',
		source_url TEXT DEFAULT '',
		is_paywall INTEGER DEFAULT 0,
		to_be_summarized INTEGER DEFAULT 0,
		html_path TEXT DEFAULT '',
		md_path TEXT DEFAULT '',
		summary_path TEXT DEFAULT '',
		short_summary_path TEXT DEFAULT '',
		newsletters TEXT DEFAULT '[]',
		last_updated TEXT DEFAULT ''
	);`

	if _, err := s.db.Exec(table); err != nil {
		return fmt.Errorf("failed to create items table: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CheckResources verifies the backing database is reachable. Called once at
// startup; a failure here is fatal before any stage runs.
func (s *Store) CheckResources() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("metadata store not reachable at %s: %w", s.path, err)
	}
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM items").Scan(&n); err != nil {
		return fmt.Errorf("items table not accessible: %w", err)
	}
	return nil
}

const itemColumns = `guid, link, title, published_date, fetch_date, source_url,
	is_paywall, to_be_summarized, html_path, md_path, summary_path,
	short_summary_path, newsletters, last_updated`

// Put writes the full item record, replacing any stored version. Callers
// that want field-level merging use MergeUpdate instead.
func (s *Store) Put(item *core.ContentItem) error {
	if item.GUID == "" || item.Link == "" {
		return core.ErrMissingIdentity
	}

	// A nil slice marshals to "null", which the Distributed filter would
	// misread as non-empty. Store never-distributed items as "[]".
	memberships := item.Newsletters
	if memberships == nil {
		memberships = []string{}
	}
	newsletters, err := json.Marshal(memberships)
	if err != nil {
		return fmt.Errorf("failed to encode newsletters for %s: %w", item.GUID, err)
	}

	query := fmt.Sprintf(`INSERT OR REPLACE INTO items (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, itemColumns)

	_, err = s.db.Exec(query,
		item.GUID,
		item.Link,
		item.Title,
		item.PublishedDate,
		item.FetchDate,
		item.SourceURL,
		int(item.IsPaywall),
		int(item.ToBeSummarized),
		item.HTMLPath,
		item.MDPath,
		item.SummaryPath,
		item.ShortSummaryPath,
		string(newsletters),
		item.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to store item %s: %w", item.GUID, err)
	}
	return nil
}

// Get retrieves an item by guid. A missing item returns (nil, nil).
func (s *Store) Get(guid string) (*core.ContentItem, error) {
	query := fmt.Sprintf("SELECT %s FROM items WHERE guid = ?", itemColumns)
	item, err := scanItem(s.db.QueryRow(query, guid))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load item %s: %w", guid, err)
	}
	return item, nil
}

// Delete removes an item by guid.
func (s *Store) Delete(guid string) error {
	if _, err := s.db.Exec("DELETE FROM items WHERE guid = ?", guid); err != nil {
		return fmt.Errorf("failed to delete item %s: %w", guid, err)
	}
	return nil
}

// Scan returns items matching the filter's presence/absence predicates,
// newest last_updated first.
func (s *Store) Scan(filter core.ItemFilter) ([]*core.ContentItem, error) {
	var conds []string
	var args []any

	presence := func(column string, want *bool) {
		if want == nil {
			return
		}
		if *want {
			conds = append(conds, column+" != ''")
		} else {
			conds = append(conds, column+" = ''")
		}
	}
	presence("html_path", filter.HasHTML)
	presence("md_path", filter.HasMarkdown)
	presence("summary_path", filter.HasSummary)
	presence("short_summary_path", filter.HasShortSummary)

	if filter.Distributed != nil {
		// Rows written before nil memberships were normalized hold "null".
		if *filter.Distributed {
			conds = append(conds, "newsletters NOT IN ('[]', 'null')")
		} else {
			conds = append(conds, "newsletters IN ('[]', 'null')")
		}
	}
	if filter.SourceURL != "" {
		conds = append(conds, "source_url = ?")
		args = append(args, filter.SourceURL)
	}

	query := fmt.Sprintf("SELECT %s FROM items", itemColumns)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY last_updated DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan items: %w", err)
	}
	defer rows.Close()

	var items []*core.ContentItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// All returns every stored item.
func (s *Store) All() ([]*core.ContentItem, error) {
	return s.Scan(core.ItemFilter{})
}

// MergeUpdate persists an update without regressing stored state: every
// present (non-zero) field of update replaces the stored value and absent
// fields keep what is stored. This is what lets a re-fetch refresh the title
// without clobbering a summary path written by an earlier run. If no record
// exists yet, the update is stored as-is.
func (s *Store) MergeUpdate(update *core.ContentItem) (*core.ContentItem, error) {
	if update.GUID == "" {
		return nil, core.ErrMissingIdentity
	}

	stored, err := s.Get(update.GUID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		update.Touch()
		if err := s.Put(update); err != nil {
			return nil, err
		}
		return update, nil
	}

	mergeString := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	mergeString(&stored.Link, update.Link)
	mergeString(&stored.Title, update.Title)
	mergeString(&stored.PublishedDate, update.PublishedDate)
	mergeString(&stored.FetchDate, update.FetchDate)
	mergeString(&stored.SourceURL, update.SourceURL)
	mergeString(&stored.HTMLPath, update.HTMLPath)
	mergeString(&stored.MDPath, update.MDPath)
	mergeString(&stored.SummaryPath, update.SummaryPath)
	mergeString(&stored.ShortSummaryPath, update.ShortSummaryPath)

	if update.IsPaywall.Known() {
		stored.IsPaywall = update.IsPaywall
	}
	if update.ToBeSummarized.Known() {
		stored.ToBeSummarized = update.ToBeSummarized
	}
	if len(update.Newsletters) > 0 {
		stored.Newsletters = update.Newsletters
	}

	stored.Touch()
	if err := s.Put(stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// GUIDChange describes one planned guid rewrite.
type GUIDChange struct {
	OldGUID string
	NewGUID string
	Link    string
}

// PlanGUIDUpdates re-derives every item's guid from its link and returns
// the changes that would be applied. It fails on a derived-guid collision
// between two distinct links rather than silently merging items.
func (s *Store) PlanGUIDUpdates() ([]GUIDChange, error) {
	items, err := s.All()
	if err != nil {
		return nil, err
	}

	seen := map[string]string{} // new guid -> link it came from
	var changes []GUIDChange
	for _, item := range items {
		if item.Link == "" {
			continue
		}
		newGUID := core.DeriveGUID(item.Link)
		if prev, ok := seen[newGUID]; ok && prev != item.Link {
			return nil, &GUIDCollisionError{GUID: newGUID, LinkA: prev, LinkB: item.Link}
		}
		seen[newGUID] = item.Link
		if newGUID != item.GUID {
			changes = append(changes, GUIDChange{OldGUID: item.GUID, NewGUID: newGUID, Link: item.Link})
		}
	}
	return changes, nil
}

// ApplyGUIDUpdates rewrites item guids per the plan: the item is re-stored
// under the new guid and the old record removed only after the new write
// succeeds.
func (s *Store) ApplyGUIDUpdates(changes []GUIDChange) (int, error) {
	applied := 0
	for _, ch := range changes {
		item, err := s.Get(ch.OldGUID)
		if err != nil {
			return applied, err
		}
		if item == nil {
			continue
		}
		item.GUID = ch.NewGUID
		item.Touch()
		if err := s.Put(item); err != nil {
			return applied, fmt.Errorf("failed to store rewritten item %s: %w", ch.NewGUID, err)
		}
		if err := s.Delete(ch.OldGUID); err != nil {
			return applied, fmt.Errorf("failed to remove old item %s: %w", ch.OldGUID, err)
		}
		applied++
	}
	return applied, nil
}

// rowScanner matches both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*core.ContentItem, error) {
	var item core.ContentItem
	var isPaywall, toBeSummarized int
	var newsletters string

	err := row.Scan(
		&item.GUID,
		&item.Link,
		&item.Title,
		&item.PublishedDate,
		&item.FetchDate,
		&item.SourceURL,
		&isPaywall,
		&toBeSummarized,
		&item.HTMLPath,
		&item.MDPath,
		&item.SummaryPath,
		&item.ShortSummaryPath,
		&newsletters,
		&item.LastUpdated,
	)
	if err != nil {
		return nil, err
	}

	item.IsPaywall = core.Verdict(isPaywall)
	item.ToBeSummarized = core.Verdict(toBeSummarized)
	if err := json.Unmarshal([]byte(newsletters), &item.Newsletters); err != nil {
		return nil, fmt.Errorf("failed to decode newsletters for %s: %w", item.GUID, err)
	}
	return &item, nil
}
