// Package pipeline orchestrates the content curation stages: fetch, process,
// summarize, curate, distribute. Each runner is a thin loop that pulls a
// worklist through the stage gate, delegates the real work to a
// collaborator, and persists field updates via the merge contract. A failure
// on one item never aborts the batch; the item simply stays eligible for a
// future run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"curator/internal/classify"
	"curator/internal/core"
	"curator/internal/curator"
	"curator/internal/email"
	"curator/internal/fetch"
	"curator/internal/markdown"
)

// Options narrows what a stage run covers.
type Options struct {
	Overwrite bool   // Redo work whose output already exists
	ID        string // Restrict the run to a single item guid
	MaxItems  int    // Per-feed entry cap during fetch; 0 means all
	Limit     int    // Item cap for process and summarize; 0 means no limit
}

// Counters summarizes what one stage run did.
type Counters struct {
	New     int // Items created this run
	Updated int // Existing items whose state advanced
	Skipped int // Items whose output already existed or whose input is missing
	Failed  int // Items that errored and remain eligible for a future run
}

func (c Counters) String() string {
	return fmt.Sprintf("new=%d updated=%d skipped=%d failed=%d", c.New, c.Updated, c.Skipped, c.Failed)
}

// Pipeline wires the stage runners to their collaborators.
type Pipeline struct {
	store      MetadataStore
	blobs      BlobStore
	gate       *Gate
	feeds      FeedSource
	pages      PageFetcher
	summarizer Summarizer
	classifier *classify.Classifier
	mailer     MailSender
	template   *email.Template
	logger     *slog.Logger
}

// New creates a pipeline with all collaborators. The summarizer and mailer
// may be nil when their stages are not part of the run; logger nil means the
// process default.
func New(
	store MetadataStore,
	blobs BlobStore,
	feedSource FeedSource,
	pages PageFetcher,
	summarizer Summarizer,
	classifier *classify.Classifier,
	mailer MailSender,
	logger *slog.Logger,
) *Pipeline {
	if classifier == nil {
		classifier = classify.New(classify.DefaultConfig())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:      store,
		blobs:      blobs,
		gate:       NewGate(store),
		feeds:      feedSource,
		pages:      pages,
		summarizer: summarizer,
		classifier: classifier,
		mailer:     mailer,
		template:   email.DefaultTemplate(),
		logger:     logger,
	}
}

// Gate exposes the stage gate, for callers that only need eligibility
// queries.
func (p *Pipeline) Gate() *Gate { return p.gate }

// Fetch pulls entries from each feed, derives item identity, stores raw HTML
// for new items, and merges provenance refreshes onto known ones. Re-running
// against an unchanged feed updates title and fetch date but never creates
// duplicates or clears later-stage state.
func (p *Pipeline) Fetch(feedURLs []string, opts Options) ([]*core.ContentItem, Counters) {
	var out []*core.ContentItem
	var counters Counters

	for _, feedURL := range feedURLs {
		entries, err := p.feeds.Entries(feedURL, opts.MaxItems)
		if err != nil {
			p.logger.Error("feed fetch failed", "feed", feedURL, "error", err)
			counters.Failed++
			continue
		}
		p.logger.Info("feed fetched", "feed", feedURL, "entries", len(entries))

		for _, entry := range entries {
			source := entry.GUIDSource(feedURL)
			guid := core.DeriveGUID(source)
			if opts.ID != "" && guid != opts.ID {
				continue
			}

			link := entry.Link
			if link == "" {
				link = source
			}

			existing, err := p.store.Get(guid)
			if err != nil {
				p.logger.Error("item lookup failed", "guid", guid, "error", err)
				counters.Failed++
				continue
			}

			update := &core.ContentItem{
				GUID:          guid,
				Link:          link,
				Title:         entry.Title,
				PublishedDate: firstNonEmpty(entry.Published, entry.Updated),
				FetchDate:     time.Now().UTC().Format(time.RFC3339),
				SourceURL:     feedURL,
			}

			if opts.Overwrite || existing == nil || !existing.IsFetched() {
				html := entry.Content
				if html == "" {
					html, err = p.pages.Page(link)
					if err != nil {
						p.logger.Warn("page fetch failed", "guid", guid, "link", link, "error", err)
						counters.Failed++
						continue
					}
				}
				if strings.TrimSpace(html) == "" {
					p.logger.Warn("no content for entry", "guid", guid, "link", link)
					counters.Skipped++
					continue
				}
				if update.Title == "" {
					update.Title = fetch.ExtractTitle(html)
				}

				key := core.HTMLKey(guid)
				stored, err := p.blobs.Exists(key)
				if err != nil {
					p.logger.Error("blob check failed", "key", key, "error", err)
					counters.Failed++
					continue
				}
				if !stored || opts.Overwrite {
					if err := p.blobs.Put(key, []byte(html), "text/html"); err != nil {
						p.logger.Error("html store failed", "guid", guid, "error", err)
						counters.Failed++
						continue
					}
				}
				update.HTMLPath = key
				update.HTMLContent = html
			}

			merged, err := p.gate.Persist(update, false)
			if err != nil {
				p.logger.Error("item persist failed", "guid", guid, "error", err)
				counters.Failed++
				continue
			}
			merged.HTMLContent = update.HTMLContent

			if existing == nil {
				counters.New++
			} else {
				counters.Updated++
			}
			out = append(out, merged)
		}
	}

	p.logger.Info("fetch stage done", "counters", counters.String())
	return out, counters
}

// Process converts stored HTML to markdown with the standard metadata
// header, runs the quality classifier, and records markdown reference plus
// verdicts. A nil worklist means "query the gate for eligible items".
func (p *Pipeline) Process(worklist []*core.ContentItem, opts Options) ([]*core.ContentItem, Counters, error) {
	var err error
	if worklist == nil {
		worklist, err = p.gate.ProcessEligible(opts.Overwrite, opts.Limit)
		if err != nil {
			return nil, Counters{}, fmt.Errorf("process worklist query failed: %w", err)
		}
	}
	worklist = filterByID(worklist, opts.ID)

	var out []*core.ContentItem
	var counters Counters

	for _, item := range worklist {
		if !opts.Overwrite && item.IsProcessed() {
			counters.Skipped++
			out = append(out, item)
			continue
		}

		html := item.HTMLContent
		if html == "" {
			data, err := p.blobs.Get(item.HTMLPath)
			if err != nil {
				p.logger.Error("html load failed", "guid", item.GUID, "error", err)
				counters.Failed++
				continue
			}
			if data == nil {
				p.logger.Warn("html missing for item", "guid", item.GUID, "key", item.HTMLPath)
				counters.Skipped++
				continue
			}
			html = string(data)
		}

		body, err := markdown.Convert(html)
		if err != nil {
			p.logger.Warn("markdown conversion failed", "guid", item.GUID, "error", err)
			body = markdown.FailureMarker
		} else if strings.TrimSpace(body) == "" {
			body = markdown.EmptyMarker
		}

		full := markdown.FormatWithHeader(markdown.Header{
			FetchDate:     item.FetchDate,
			PublishedDate: item.PublishedDate,
			Title:         item.Title,
			Link:          item.Link,
		}, body)

		key := core.MarkdownKey(item.GUID)
		adopted := false
		if !opts.Overwrite {
			stored, err := p.blobs.Exists(key)
			if err != nil {
				p.logger.Error("blob check failed", "key", key, "error", err)
				counters.Failed++
				continue
			}
			if stored {
				// A prior run wrote this blob but may have died before
				// recording the reference. Adopt the stored conversion so
				// md_path and the verdicts still get persisted below.
				data, err := p.blobs.Get(key)
				if err != nil {
					p.logger.Error("markdown load failed", "key", key, "error", err)
					counters.Failed++
					continue
				}
				if data != nil {
					full = string(data)
				}
				adopted = true
			}
		}
		if !adopted {
			if err := p.blobs.Put(key, []byte(full), "text/markdown"); err != nil {
				p.logger.Error("markdown store failed", "guid", item.GUID, "error", err)
				counters.Failed++
				continue
			}
		}

		update := &core.ContentItem{
			GUID:           item.GUID,
			Link:           item.Link,
			MDPath:         key,
			IsPaywall:      core.VerdictOf(p.classifier.IsPaywallOrTeaser(full)),
			ToBeSummarized: core.VerdictOf(p.classifier.IsWorthSummarizing(full)),
		}

		merged, err := p.gate.Persist(update, false)
		if err != nil {
			p.logger.Error("item persist failed", "guid", item.GUID, "error", err)
			counters.Failed++
			continue
		}
		merged.MarkdownContent = full
		counters.Updated++
		out = append(out, merged)
	}

	p.logger.Info("process stage done", "counters", counters.String())
	return out, counters, nil
}

// Summarize generates the requested summary variants for worth-summarizing
// items. Each variant is gated independently, so a run can backfill only
// the brief summary for items that already carry a standard one. A nil
// worklist means "query the gate".
func (p *Pipeline) Summarize(ctx context.Context, worklist []*core.ContentItem, types []core.SummaryType, opts Options) ([]*core.ContentItem, Counters, error) {
	if len(types) == 0 {
		types = []core.SummaryType{core.SummaryStandard, core.SummaryBrief}
	}

	var err error
	if worklist == nil {
		worklist, err = p.gate.SummarizeEligible(types, opts.Overwrite, opts.Limit)
		if err != nil {
			return nil, Counters{}, fmt.Errorf("summarize worklist query failed: %w", err)
		}
	}
	worklist = filterByID(worklist, opts.ID)

	var out []*core.ContentItem
	var counters Counters

	for _, item := range worklist {
		if !item.ToBeSummarized.Bool() {
			counters.Skipped++
			continue
		}

		md := item.MarkdownContent
		if md == "" {
			data, err := p.blobs.Get(item.MDPath)
			if err != nil {
				p.logger.Error("markdown load failed", "guid", item.GUID, "error", err)
				counters.Failed++
				continue
			}
			if data == nil {
				p.logger.Warn("markdown missing for item", "guid", item.GUID, "key", item.MDPath)
				counters.Skipped++
				continue
			}
			md = string(data)
		}

		update := &core.ContentItem{GUID: item.GUID, Link: item.Link}
		failed := false
		for _, t := range types {
			if !opts.Overwrite && item.HasSummary(t) {
				continue
			}
			key := core.SummaryKeyFor(item.GUID, t)
			if !opts.Overwrite {
				// Another overlapping run may have produced this variant
				// after our worklist query; re-check before the LLM call.
				stored, err := p.blobs.Exists(key)
				if err == nil && stored {
					setSummaryRef(update, t, key, "")
					continue
				}
			}

			text, err := p.summarizer.Summarize(ctx, md, t)
			if err != nil {
				p.logger.Warn("summarization failed", "guid", item.GUID, "type", string(t), "error", err)
				failed = true
				break
			}
			if err := p.blobs.Put(key, []byte(text), "text/markdown"); err != nil {
				p.logger.Error("summary store failed", "guid", item.GUID, "key", key, "error", err)
				failed = true
				break
			}
			setSummaryRef(update, t, key, text)
		}
		if failed {
			counters.Failed++
			continue
		}
		if update.SummaryPath == "" && update.ShortSummaryPath == "" {
			counters.Skipped++
			out = append(out, item)
			continue
		}

		merged, err := p.gate.Persist(update, false)
		if err != nil {
			p.logger.Error("item persist failed", "guid", item.GUID, "error", err)
			counters.Failed++
			continue
		}
		merged.Summary = update.Summary
		merged.ShortSummary = update.ShortSummary
		counters.Updated++
		out = append(out, merged)
	}

	p.logger.Info("summarize stage done", "counters", counters.String())
	return out, counters, nil
}

func setSummaryRef(update *core.ContentItem, t core.SummaryType, key, text string) {
	if t == core.SummaryBrief {
		update.ShortSummaryPath = key
		update.ShortSummary = text
	} else {
		update.SummaryPath = key
		update.Summary = text
	}
}

// CurateResult is the output of the curate stage.
type CurateResult struct {
	NewsletterID string
	Document     string
	GUIDs        []string
	Counters     Counters
}

// Curate selects summarized, undistributed items per the selection
// criterion, assembles the newsletter document, stores it under both the
// dated and the latest key, and marks every included item distributed.
func (p *Pipeline) Curate(sel curator.Selection, summaryType core.SummaryType, opts Options) (*CurateResult, error) {
	// No limit on the eligibility scan: it is ordered by last_updated, so
	// a cap here would drop summarized items before the recency selection
	// sees them. The selection criterion bounds the output instead.
	items, err := p.gate.CurateEligible(summaryType, opts.Overwrite, 0)
	if err != nil {
		return nil, fmt.Errorf("curate worklist query failed: %w", err)
	}
	items = filterByID(items, opts.ID)

	var counters Counters
	var loaded []*core.ContentItem
	for _, item := range items {
		key := core.SummaryKeyFor(item.GUID, summaryType)
		data, err := p.blobs.Get(key)
		if err != nil || data == nil {
			p.logger.Warn("summary missing for curated item", "guid", item.GUID, "key", key, "error", err)
			counters.Skipped++
			continue
		}
		setSummaryRef(item, summaryType, key, string(data))
		loaded = append(loaded, item)
	}

	selected, err := curator.Select(loaded, sel, time.Now())
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		p.logger.Warn("no content available for newsletter curation")
		return &CurateResult{Counters: counters}, nil
	}

	doc := curator.Render(selected, summaryType)
	id := curator.NewsletterID(time.Now())

	if err := p.blobs.Put(core.NewsletterKey(id), []byte(doc), "text/markdown"); err != nil {
		return nil, fmt.Errorf("failed to store newsletter: %w", err)
	}
	if err := p.blobs.Put(core.LatestNewsletterKey(summaryType), []byte(doc), "text/markdown"); err != nil {
		return nil, fmt.Errorf("failed to store latest newsletter: %w", err)
	}

	result := &CurateResult{NewsletterID: id, Document: doc}
	for _, item := range selected {
		newsletters := append(append([]string{}, item.Newsletters...), id)
		update := &core.ContentItem{GUID: item.GUID, Link: item.Link, Newsletters: newsletters}
		if _, err := p.gate.Persist(update, false); err != nil {
			p.logger.Error("distribution mark failed", "guid", item.GUID, "error", err)
			counters.Failed++
			continue
		}
		counters.Updated++
		result.GUIDs = append(result.GUIDs, item.GUID)
	}

	result.Counters = counters
	p.logger.Info("curate stage done", "newsletter", id, "items", len(result.GUIDs), "counters", counters.String())
	return result, nil
}

// Distribute emails the latest stored newsletter of the given variant to the
// recipients.
func (p *Pipeline) Distribute(summaryType core.SummaryType, recipients []string, subject string) error {
	key := core.LatestNewsletterKey(summaryType)
	data, err := p.blobs.Get(key)
	if err != nil {
		return fmt.Errorf("failed to load newsletter %s: %w", key, err)
	}
	if data == nil {
		return fmt.Errorf("no newsletter found at %s; run curate first", key)
	}

	if subject == "" {
		subject = "Content Update: " + path.Base(key)
	}

	html, err := email.RenderHTML(subject, string(data), p.template)
	if err != nil {
		return fmt.Errorf("failed to render newsletter email: %w", err)
	}
	if err := p.mailer.Send(recipients, subject, html); err != nil {
		return err
	}

	p.logger.Info("newsletter distributed", "key", key, "recipients", len(recipients))
	return nil
}

func filterByID(items []*core.ContentItem, id string) []*core.ContentItem {
	if id == "" {
		return items
	}
	var out []*core.ContentItem
	for _, it := range items {
		if it.GUID == id {
			out = append(out, it)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
