// Package feeds fetches and parses RSS/Atom feeds into pipeline entries.
package feeds

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"curator/internal/core"

	"github.com/mmcdole/gofeed"
)

// Manager fetches feeds over HTTP and parses them.
type Manager struct {
	client *http.Client
	parser *gofeed.Parser
}

// NewManager creates a feed manager with a bounded HTTP client.
func NewManager() *Manager {
	return &Manager{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		parser: gofeed.NewParser(),
	}
}

// Result is a fetched feed plus caching headers for conditional re-fetch.
type Result struct {
	Entries      []core.FeedEntry
	LastModified string
	ETag         string
	NotModified  bool
}

// Fetch retrieves and parses the feed at feedURL. Entries come back sorted
// newest first and truncated to maxItems (0 means all), which bounds the
// work a single run can take on from one feed.
func (m *Manager) Fetch(feedURL string, maxItems int, lastModified, etag string) (*Result, error) {
	req, err := http.NewRequest(http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	req.Header.Set("User-Agent", "Curator RSS Reader/1.0")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotModified {
		return &Result{NotModified: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	feed, err := m.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	result := &Result{
		Entries:      convertEntries(feed, maxItems),
		LastModified: resp.Header.Get("Last-Modified"),
		ETag:         resp.Header.Get("ETag"),
	}
	return result, nil
}

// Entries fetches a feed without conditional-GET state and returns just the
// parsed entries, for callers that do not track caching headers.
func (m *Manager) Entries(feedURL string, maxItems int) ([]core.FeedEntry, error) {
	result, err := m.Fetch(feedURL, maxItems, "", "")
	if err != nil {
		return nil, err
	}
	return result.Entries, nil
}

// convertEntries maps gofeed items to pipeline entries, newest first.
func convertEntries(feed *gofeed.Feed, maxItems int) []core.FeedEntry {
	items := make([]*gofeed.Item, len(feed.Items))
	copy(items, feed.Items)

	sort.SliceStable(items, func(i, j int) bool {
		return entryTime(items[i]).After(entryTime(items[j]))
	})
	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}

	entries := make([]core.FeedEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, core.FeedEntry{
			ID:        item.GUID,
			Link:      item.Link,
			Title:     item.Title,
			Published: item.Published,
			Updated:   item.Updated,
			Content:   extractHTML(item),
		})
	}
	return entries
}

// entryTime picks the best available timestamp for sorting.
func entryTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

// extractHTML picks the richest HTML body a feed entry carries. Full
// content is preferred; the description is often a truncated teaser but
// better than nothing, and the page itself is fetched later if this comes
// back empty.
func extractHTML(item *gofeed.Item) string {
	if strings.TrimSpace(item.Content) != "" {
		return item.Content
	}
	return item.Description
}

// ReadFeedURLs reads feed URLs from a text file, one per line. Blank lines
// and lines starting with # are skipped.
func ReadFeedURLs(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open feed list %s: %w", path, err)
	}
	defer file.Close()

	var urls []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read feed list %s: %w", path, err)
	}
	return urls, nil
}
