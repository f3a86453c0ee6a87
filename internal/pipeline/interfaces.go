package pipeline

import (
	"context"

	"curator/internal/core"
)

// MetadataStore is the item state store backing stage eligibility queries
// and the merge-update persistence contract.
type MetadataStore interface {
	// Get returns the stored item, or (nil, nil) when absent.
	Get(guid string) (*core.ContentItem, error)

	// Put stores the item as-is, replacing any existing record.
	Put(item *core.ContentItem) error

	// Scan returns items matching the filter's presence predicates.
	Scan(filter core.ItemFilter) ([]*core.ContentItem, error)

	// MergeUpdate applies the update's non-zero fields onto the stored
	// record and returns the merged result.
	MergeUpdate(update *core.ContentItem) (*core.ContentItem, error)
}

// BlobStore holds the stage payloads (raw HTML, markdown, summaries,
// newsletters) under the conventional key layout.
type BlobStore interface {
	// Get returns the blob, or (nil, nil) when absent.
	Get(key string) ([]byte, error)

	Put(key string, data []byte, contentType string) error

	Exists(key string) (bool, error)
}

// FeedSource returns the entries of a feed, newest first, truncated to
// maxItems.
type FeedSource interface {
	Entries(feedURL string, maxItems int) ([]core.FeedEntry, error)
}

// PageFetcher retrieves the HTML of an article page, for entries whose feed
// carries no inline content.
type PageFetcher interface {
	Page(url string) (string, error)
}

// Summarizer generates one summary variant from markdown content.
type Summarizer interface {
	Summarize(ctx context.Context, markdown string, summaryType core.SummaryType) (string, error)
}

// MailSender delivers a rendered newsletter email.
type MailSender interface {
	Send(to []string, subject, htmlBody string) error
}
