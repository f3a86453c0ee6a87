package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"curator/internal/core"
	"curator/internal/curator"
)

// fakeStore is an in-memory MetadataStore with the same merge semantics as
// the real one.
type fakeStore struct {
	items map[string]*core.ContentItem
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: map[string]*core.ContentItem{}}
}

func (s *fakeStore) Get(guid string) (*core.ContentItem, error) {
	it, ok := s.items[guid]
	if !ok {
		return nil, nil
	}
	cp := *it
	return &cp, nil
}

func (s *fakeStore) Put(item *core.ContentItem) error {
	cp := *item
	s.items[item.GUID] = &cp
	return nil
}

func (s *fakeStore) Scan(filter core.ItemFilter) ([]*core.ContentItem, error) {
	var out []*core.ContentItem
	for _, it := range s.items {
		if !matchesFilter(it, filter) {
			continue
		}
		cp := *it
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func matchesFilter(it *core.ContentItem, f core.ItemFilter) bool {
	if f.HasHTML != nil && *f.HasHTML != (it.HTMLPath != "") {
		return false
	}
	if f.HasMarkdown != nil && *f.HasMarkdown != (it.MDPath != "") {
		return false
	}
	if f.HasSummary != nil && *f.HasSummary != (it.SummaryPath != "") {
		return false
	}
	if f.HasShortSummary != nil && *f.HasShortSummary != (it.ShortSummaryPath != "") {
		return false
	}
	if f.Distributed != nil && *f.Distributed != (len(it.Newsletters) > 0) {
		return false
	}
	if f.SourceURL != "" && f.SourceURL != it.SourceURL {
		return false
	}
	return true
}

func (s *fakeStore) MergeUpdate(update *core.ContentItem) (*core.ContentItem, error) {
	if update.GUID == "" || update.Link == "" {
		return nil, core.ErrMissingIdentity
	}
	existing, ok := s.items[update.GUID]
	if !ok {
		cp := *update
		cp.Touch()
		s.items[update.GUID] = &cp
		out := cp
		return &out, nil
	}

	merged := *existing
	mergeStr := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	mergeStr(&merged.Link, update.Link)
	mergeStr(&merged.Title, update.Title)
	mergeStr(&merged.PublishedDate, update.PublishedDate)
	mergeStr(&merged.FetchDate, update.FetchDate)
	mergeStr(&merged.SourceURL, update.SourceURL)
	mergeStr(&merged.HTMLPath, update.HTMLPath)
	mergeStr(&merged.MDPath, update.MDPath)
	mergeStr(&merged.SummaryPath, update.SummaryPath)
	mergeStr(&merged.ShortSummaryPath, update.ShortSummaryPath)
	if update.IsPaywall.Known() {
		merged.IsPaywall = update.IsPaywall
	}
	if update.ToBeSummarized.Known() {
		merged.ToBeSummarized = update.ToBeSummarized
	}
	if len(update.Newsletters) > 0 {
		merged.Newsletters = update.Newsletters
	}
	merged.Touch()
	s.items[update.GUID] = &merged
	out := merged
	return &out, nil
}

type fakeBlobs struct {
	data map[string][]byte
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{data: map[string][]byte{}}
}

func (b *fakeBlobs) Get(key string) ([]byte, error) {
	data, ok := b.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (b *fakeBlobs) Put(key string, data []byte, contentType string) error {
	b.data[key] = append([]byte(nil), data...)
	return nil
}

func (b *fakeBlobs) Exists(key string) (bool, error) {
	_, ok := b.data[key]
	return ok, nil
}

type fakeFeed struct {
	entries map[string][]core.FeedEntry
	err     error
}

func (f *fakeFeed) Entries(feedURL string, maxItems int) ([]core.FeedEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.entries[feedURL], nil
}

type fakePages struct {
	pages map[string]string
	calls int
}

func (p *fakePages) Page(url string) (string, error) {
	p.calls++
	html, ok := p.pages[url]
	if !ok {
		return "", fmt.Errorf("no page at %s", url)
	}
	return html, nil
}

type fakeSummarizer struct {
	calls []core.SummaryType
	err   error
}

func (s *fakeSummarizer) Summarize(ctx context.Context, markdown string, t core.SummaryType) (string, error) {
	s.calls = append(s.calls, t)
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("%s summary", t), nil
}

type fakeMailer struct {
	to      []string
	subject string
	body    string
	err     error
}

func (m *fakeMailer) Send(to []string, subject, htmlBody string) error {
	if m.err != nil {
		return m.err
	}
	m.to = to
	m.subject = subject
	m.body = htmlBody
	return nil
}

func newTestPipeline(store *fakeStore, blobs *fakeBlobs, feed *fakeFeed, pages *fakePages, sum *fakeSummarizer, mailer *fakeMailer) *Pipeline {
	return New(store, blobs, feed, pages, sum, nil, mailer, nil)
}

// articleHTML is substantial enough that the classifier judges it worth
// summarizing once converted to markdown.
const articleHTML = `<html><head><title>Release Notes</title></head><body>
<p>The maintainers released a new version of the toolchain this week. The changes are larger than the version number suggests.</p>
<p>Most of the work went into the scheduler. Latency under load dropped noticeably in the benchmarks the team published alongside the release.</p>
<p>The garbage collector also picked up a tuning knob. Operators running large heaps can now trade pause time for throughput explicitly.</p>
<p>Compatibility remains intact across the board. Code built against the previous release continues to compile and run without modification.</p>
<p>Documentation for the new knobs shipped in the same release. The team credits the long beta period for the small number of regressions.</p>
</body></html>`

func TestFetch_CreatesItemsAndStoresHTML(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	feed := &fakeFeed{entries: map[string][]core.FeedEntry{
		"https://feeds.example.com/rss": {
			{Link: "https://example.com/inline", Title: "Inline", Published: "2024-01-03", Content: articleHTML},
			{Link: "https://example.com/remote", Title: "", Published: "2024-01-02"},
		},
	}}
	pages := &fakePages{pages: map[string]string{
		"https://example.com/remote": articleHTML,
	}}
	p := newTestPipeline(store, blobs, feed, pages, nil, nil)

	items, counters := p.Fetch([]string{"https://feeds.example.com/rss"}, Options{})
	if counters.New != 2 || counters.Failed != 0 {
		t.Fatalf("Expected 2 new items, got %s", counters.String())
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items returned, got %d", len(items))
	}

	for _, it := range items {
		if !it.IsFetched() {
			t.Errorf("Expected item %s to be fetched", it.GUID)
		}
		if ok, _ := blobs.Exists(core.HTMLKey(it.GUID)); !ok {
			t.Errorf("Expected html blob for %s", it.GUID)
		}
	}

	// Inline content should not trigger a page fetch; missing content should.
	if pages.calls != 1 {
		t.Errorf("Expected exactly 1 page fetch, got %d", pages.calls)
	}

	// The entry with no title gets one extracted from the page head.
	remote, _ := store.Get(core.DeriveGUID("https://example.com/remote"))
	if remote == nil || remote.Title != "Release Notes" {
		t.Errorf("Expected extracted title Release Notes, got %+v", remote)
	}
}

func TestFetch_SecondRunRefreshesWithoutDuplicateOrRegression(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()

	// Trailing slash must not change identity.
	guid := core.DeriveGUID("https://example.com/post/")
	if guid != core.DeriveGUID("https://example.com/post") {
		t.Fatal("Expected trailing slash to normalize away")
	}

	existing, err := core.NewContentItem(guid, "https://example.com/post/")
	if err != nil {
		t.Fatalf("NewContentItem failed: %v", err)
	}
	existing.Title = "Old Title"
	existing.HTMLPath = core.HTMLKey(guid)
	existing.MDPath = core.MarkdownKey(guid)
	if err := store.Put(existing); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	_ = blobs.Put(core.HTMLKey(guid), []byte(articleHTML), "text/html")

	feed := &fakeFeed{entries: map[string][]core.FeedEntry{
		"https://feeds.example.com/rss": {
			{Link: "https://example.com/post/", Title: "New Title", Published: "2024-01-03"},
		},
	}}
	pages := &fakePages{}
	p := newTestPipeline(store, blobs, feed, pages, nil, nil)

	items, counters := p.Fetch([]string{"https://feeds.example.com/rss"}, Options{})
	if counters.Updated != 1 || counters.New != 0 {
		t.Fatalf("Expected 1 updated item, got %s", counters.String())
	}
	if len(store.items) != 1 {
		t.Fatalf("Expected no duplicate records, got %d", len(store.items))
	}
	if pages.calls != 0 {
		t.Errorf("Expected no page fetch for an already-fetched item, got %d", pages.calls)
	}

	got := items[0]
	if got.Title != "New Title" {
		t.Errorf("Expected refreshed title, got %q", got.Title)
	}
	if got.MDPath != core.MarkdownKey(guid) {
		t.Errorf("Expected md reference preserved, got %q", got.MDPath)
	}
}

func TestFetch_FeedErrorDoesNotAbortRun(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(store, newFakeBlobs(), &fakeFeed{err: fmt.Errorf("connection refused")}, &fakePages{}, nil, nil)

	items, counters := p.Fetch([]string{"https://feeds.example.com/rss"}, Options{})
	if len(items) != 0 || counters.Failed != 1 {
		t.Errorf("Expected failed feed counted, got %d items, %s", len(items), counters.String())
	}
}

func TestProcess_ConvertsClassifiesAndRecords(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	guid := core.DeriveGUID("https://example.com/post")

	item, _ := core.NewContentItem(guid, "https://example.com/post")
	item.Title = "Release Notes"
	item.PublishedDate = "2024-01-03"
	item.HTMLPath = core.HTMLKey(guid)
	_ = store.Put(item)
	_ = blobs.Put(core.HTMLKey(guid), []byte(articleHTML), "text/html")

	p := newTestPipeline(store, blobs, &fakeFeed{}, &fakePages{}, nil, nil)
	items, counters, err := p.Process(nil, Options{})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if counters.Updated != 1 {
		t.Fatalf("Expected 1 updated item, got %s", counters.String())
	}

	got := items[0]
	if got.MDPath != core.MarkdownKey(guid) {
		t.Errorf("Expected markdown reference set, got %q", got.MDPath)
	}
	if !got.IsPaywall.Known() || got.IsPaywall.Bool() {
		t.Errorf("Expected paywall verdict evaluated false, got %s", got.IsPaywall)
	}
	if !got.ToBeSummarized.Bool() {
		t.Errorf("Expected article judged worth summarizing, got %s", got.ToBeSummarized)
	}

	md, _ := blobs.Get(core.MarkdownKey(guid))
	if md == nil {
		t.Fatal("Expected markdown blob written")
	}
	if !strings.Contains(string(md), "Title: Release Notes") {
		t.Error("Expected metadata header in stored markdown")
	}
	if !strings.Contains(string(md), "scheduler") {
		t.Error("Expected converted body in stored markdown")
	}
}

func TestProcess_AlreadyProcessedSkipped(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	guid := core.DeriveGUID("https://example.com/done")

	item, _ := core.NewContentItem(guid, "https://example.com/done")
	item.HTMLPath = core.HTMLKey(guid)
	item.MDPath = core.MarkdownKey(guid)
	_ = store.Put(item)

	p := newTestPipeline(store, blobs, &fakeFeed{}, &fakePages{}, nil, nil)

	// Not eligible via the gate query.
	items, counters, err := p.Process(nil, Options{})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(items) != 0 || counters.Updated != 0 {
		t.Errorf("Expected processed item excluded from worklist, got %d items", len(items))
	}

	// Passed in directly (stage chaining), it is skipped but still handed on.
	items, counters, err = p.Process([]*core.ContentItem{item}, Options{})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if counters.Skipped != 1 || len(items) != 1 {
		t.Errorf("Expected chained item skipped but forwarded, got %s, %d items", counters.String(), len(items))
	}
}

func TestProcess_MissingHTMLDoesNotAbortBatch(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()

	missing, _ := core.NewContentItem("missing00000", "https://example.com/missing")
	missing.HTMLPath = core.HTMLKey("missing00000")
	_ = store.Put(missing)

	okGUID := core.DeriveGUID("https://example.com/ok")
	ok, _ := core.NewContentItem(okGUID, "https://example.com/ok")
	ok.HTMLPath = core.HTMLKey(okGUID)
	_ = store.Put(ok)
	_ = blobs.Put(core.HTMLKey(okGUID), []byte(articleHTML), "text/html")

	p := newTestPipeline(store, blobs, &fakeFeed{}, &fakePages{}, nil, nil)
	items, counters, err := p.Process(nil, Options{})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if counters.Skipped != 1 || counters.Updated != 1 {
		t.Errorf("Expected one skip and one update, got %s", counters.String())
	}
	if len(items) != 1 || items[0].GUID != okGUID {
		t.Errorf("Expected only the intact item forwarded")
	}
}

func TestSummarize_BackfillsOnlyMissingVariant(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	guid := core.DeriveGUID("https://example.com/post")

	item, _ := core.NewContentItem(guid, "https://example.com/post")
	item.MDPath = core.MarkdownKey(guid)
	item.SummaryPath = core.SummaryKey(guid) // standard already done
	item.ToBeSummarized = core.VerdictTrue
	_ = store.Put(item)
	_ = blobs.Put(core.MarkdownKey(guid), []byte("Title: x\n\nMarkdown Content:\nbody"), "text/markdown")

	sum := &fakeSummarizer{}
	p := newTestPipeline(store, blobs, &fakeFeed{}, &fakePages{}, sum, nil)

	items, counters, err := p.Summarize(context.Background(), nil, nil, Options{})
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if counters.Updated != 1 {
		t.Fatalf("Expected 1 updated item, got %s", counters.String())
	}
	if len(sum.calls) != 1 || sum.calls[0] != core.SummaryBrief {
		t.Fatalf("Expected a single brief call, got %v", sum.calls)
	}

	got := items[0]
	if got.ShortSummaryPath != core.ShortSummaryKey(guid) {
		t.Errorf("Expected brief summary reference set, got %q", got.ShortSummaryPath)
	}
	if data, _ := blobs.Get(core.ShortSummaryKey(guid)); data == nil {
		t.Error("Expected brief summary blob written")
	}
}

func TestSummarize_NotWorthSummarizingExcluded(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	guid := core.DeriveGUID("https://example.com/teaser")

	item, _ := core.NewContentItem(guid, "https://example.com/teaser")
	item.MDPath = core.MarkdownKey(guid)
	item.ToBeSummarized = core.VerdictFalse
	_ = store.Put(item)

	sum := &fakeSummarizer{}
	p := newTestPipeline(store, blobs, &fakeFeed{}, &fakePages{}, sum, nil)

	items, counters, err := p.Summarize(context.Background(), nil, nil, Options{})
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if len(items) != 0 || len(sum.calls) != 0 || counters.Updated != 0 {
		t.Errorf("Expected rejected item never summarized, got %d calls", len(sum.calls))
	}
}

func TestSummarize_LLMFailureLeavesItemRetryable(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	guid := core.DeriveGUID("https://example.com/post")

	item, _ := core.NewContentItem(guid, "https://example.com/post")
	item.MDPath = core.MarkdownKey(guid)
	item.ToBeSummarized = core.VerdictTrue
	_ = store.Put(item)
	_ = blobs.Put(core.MarkdownKey(guid), []byte("body"), "text/markdown")

	sum := &fakeSummarizer{err: fmt.Errorf("model unavailable")}
	p := newTestPipeline(store, blobs, &fakeFeed{}, &fakePages{}, sum, nil)

	items, counters, err := p.Summarize(context.Background(), nil, nil, Options{})
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if len(items) != 0 || counters.Failed != 1 {
		t.Errorf("Expected failed item excluded, got %d items, %s", len(items), counters.String())
	}

	stored, _ := store.Get(guid)
	if stored.IsSummarized() {
		t.Error("Expected no summary reference after failure")
	}
}

func TestCurate_BuildsNewsletterAndMarksDistributed(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()

	add := func(guid, title, published string) {
		item, _ := core.NewContentItem(guid, "https://example.com/"+guid)
		item.Title = title
		item.PublishedDate = published
		item.ShortSummaryPath = core.ShortSummaryKey(guid)
		_ = store.Put(item)
		_ = blobs.Put(core.ShortSummaryKey(guid), []byte("summary of "+guid), "text/markdown")
	}
	add("item0000001", "Older", "2024-01-01")
	add("item0000002", "Newer", "2024-01-03")

	// Already distributed; must not be re-curated.
	done, _ := core.NewContentItem("item0000003", "https://example.com/item0000003")
	done.ShortSummaryPath = core.ShortSummaryKey("item0000003")
	done.Newsletters = []string{"newsletter_old"}
	_ = store.Put(done)

	p := newTestPipeline(store, blobs, &fakeFeed{}, &fakePages{}, nil, nil)
	result, err := p.Curate(curator.Selection{MostRecent: 5}, core.SummaryBrief, Options{})
	if err != nil {
		t.Fatalf("Curate failed: %v", err)
	}

	if len(result.GUIDs) != 2 {
		t.Fatalf("Expected 2 curated items, got %v", result.GUIDs)
	}
	newer := strings.Index(result.Document, "### Newer")
	older := strings.Index(result.Document, "### Older")
	if newer < 0 || older < 0 || newer > older {
		t.Errorf("Expected newest-first ordering in document:\n%s", result.Document)
	}
	if strings.Contains(result.Document, "item0000003") {
		t.Error("Expected distributed item excluded")
	}

	if data, _ := blobs.Get(core.NewsletterKey(result.NewsletterID)); data == nil {
		t.Error("Expected dated newsletter blob")
	}
	if data, _ := blobs.Get(core.LatestNewsletterKey(core.SummaryBrief)); data == nil {
		t.Error("Expected latest newsletter blob")
	}

	for _, guid := range result.GUIDs {
		stored, _ := store.Get(guid)
		if !stored.IsDistributed() {
			t.Errorf("Expected %s marked distributed", guid)
		}
		if stored.Newsletters[len(stored.Newsletters)-1] != result.NewsletterID {
			t.Errorf("Expected newsletter id appended for %s, got %v", guid, stored.Newsletters)
		}
	}
}

func TestCurate_InvalidSelectionFails(t *testing.T) {
	p := newTestPipeline(newFakeStore(), newFakeBlobs(), &fakeFeed{}, &fakePages{}, nil, nil)

	if _, err := p.Curate(curator.Selection{}, core.SummaryBrief, Options{}); err == nil {
		t.Error("Expected error with no selection criterion")
	}
}

func TestCurate_NothingEligible(t *testing.T) {
	p := newTestPipeline(newFakeStore(), newFakeBlobs(), &fakeFeed{}, &fakePages{}, nil, nil)

	result, err := p.Curate(curator.Selection{MostRecent: 5}, core.SummaryBrief, Options{})
	if err != nil {
		t.Fatalf("Curate failed: %v", err)
	}
	if result.NewsletterID != "" || result.Document != "" {
		t.Errorf("Expected empty result, got %+v", result)
	}
}

func TestDistribute_SendsLatestNewsletter(t *testing.T) {
	blobs := newFakeBlobs()
	doc := "## Recent Content\n\n### First Post\nhttps://example.com/a\nA summary.\n\n"
	_ = blobs.Put(core.LatestNewsletterKey(core.SummaryBrief), []byte(doc), "text/markdown")

	mailer := &fakeMailer{}
	p := newTestPipeline(newFakeStore(), blobs, &fakeFeed{}, &fakePages{}, nil, mailer)

	if err := p.Distribute(core.SummaryBrief, []string{"reader@example.com"}, ""); err != nil {
		t.Fatalf("Distribute failed: %v", err)
	}
	if len(mailer.to) != 1 || mailer.to[0] != "reader@example.com" {
		t.Errorf("Expected delivery to recipient, got %v", mailer.to)
	}
	if mailer.subject != "Content Update: latest_brief.md" {
		t.Errorf("Unexpected subject %q", mailer.subject)
	}
	if !strings.Contains(mailer.body, "<h3>First Post</h3>") {
		t.Error("Expected rendered HTML body")
	}
}

func TestDistribute_NoNewsletterFails(t *testing.T) {
	p := newTestPipeline(newFakeStore(), newFakeBlobs(), &fakeFeed{}, &fakePages{}, nil, &fakeMailer{})

	if err := p.Distribute(core.SummaryBrief, []string{"reader@example.com"}, ""); err == nil {
		t.Error("Expected error when no newsletter exists")
	}
}
