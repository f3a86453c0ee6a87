// Package core defines the data types shared across the curation pipeline.
package core

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SummaryType identifies which summary variant an operation targets.
type SummaryType string

const (
	// SummaryStandard is the long-form summary.
	SummaryStandard SummaryType = "standard"
	// SummaryBrief is the short-form summary used for newsletters.
	SummaryBrief SummaryType = "brief"
)

// ParseSummaryType validates a user-supplied summary type string.
func ParseSummaryType(s string) (SummaryType, error) {
	switch SummaryType(s) {
	case SummaryStandard, SummaryBrief:
		return SummaryType(s), nil
	}
	return "", fmt.Errorf("unknown summary type %q (want %q or %q)", s, SummaryStandard, SummaryBrief)
}

// Verdict is a tri-state quality flag. The zero value is VerdictUnknown,
// which means "not yet evaluated" and is distinct from an evaluated false.
type Verdict int

const (
	VerdictUnknown Verdict = iota // Not yet evaluated by the classifier
	VerdictFalse                  // Evaluated and negative
	VerdictTrue                   // Evaluated and positive
)

// VerdictOf converts a classifier result into a Verdict.
func VerdictOf(b bool) Verdict {
	if b {
		return VerdictTrue
	}
	return VerdictFalse
}

// Known reports whether the verdict has been evaluated.
func (v Verdict) Known() bool { return v != VerdictUnknown }

// Bool returns the evaluated value; false for VerdictUnknown.
func (v Verdict) Bool() bool { return v == VerdictTrue }

func (v Verdict) String() string {
	switch v {
	case VerdictTrue:
		return "true"
	case VerdictFalse:
		return "false"
	default:
		return "unknown"
	}
}

// ErrMissingIdentity is returned when a ContentItem is constructed without
// its required identity fields.
var ErrMissingIdentity = errors.New("content item requires both guid and link")

// ContentItem represents a piece of content as it moves through the
// pipeline. Stage completion is derived from the presence of storage path
// references, never from separate flags: an item is processed iff MDPath is
// set, summarized iff a summary path is set, distributed iff Newsletters is
// non-empty.
type ContentItem struct {
	GUID          string `json:"guid"`           // Stable identifier, hash of the normalized link
	Link          string `json:"link"`           // Direct URL of the content
	Title         string `json:"title"`          // Title from the feed entry or page
	PublishedDate string `json:"published_date"` // Raw date string as published by the feed
	FetchDate     string `json:"fetch_date"`     // When the item was fetched (RFC 3339)
	SourceURL     string `json:"source_url"`     // URL of the feed the item came from

	IsPaywall      Verdict `json:"is_paywall"`       // Paywall/teaser verdict, set during processing
	ToBeSummarized Verdict `json:"to_be_summarized"` // Worth-summarizing verdict, set during processing

	HTMLPath         string `json:"html_path"`          // Blob key of the raw HTML - presence means fetched
	MDPath           string `json:"md_path"`            // Blob key of the markdown - presence means processed
	SummaryPath      string `json:"summary_path"`       // Blob key of the standard summary
	ShortSummaryPath string `json:"short_summary_path"` // Blob key of the brief summary

	// Transient payloads loaded while a stage needs them; never persisted.
	HTMLContent     string `json:"-"`
	MarkdownContent string `json:"-"`
	Summary         string `json:"-"`
	ShortSummary    string `json:"-"`

	Newsletters []string `json:"newsletters"` // Newsletter IDs this item appeared in, in inclusion order

	LastUpdated string `json:"last_updated"` // Refreshed on every mutation (RFC 3339)
}

// NewContentItem constructs an item with its required identity fields.
func NewContentItem(guid, link string) (*ContentItem, error) {
	if guid == "" || link == "" {
		return nil, ErrMissingIdentity
	}
	now := time.Now().UTC().Format(time.RFC3339)
	return &ContentItem{
		GUID:        guid,
		Link:        link,
		FetchDate:   now,
		LastUpdated: now,
	}, nil
}

// IsFetched reports whether the raw HTML for the item has been stored.
func (it *ContentItem) IsFetched() bool { return it.HTMLPath != "" }

// IsProcessed reports whether the markdown rendering exists.
func (it *ContentItem) IsProcessed() bool { return it.MDPath != "" }

// IsSummarized reports whether any summary variant exists.
func (it *ContentItem) IsSummarized() bool {
	return it.SummaryPath != "" || it.ShortSummaryPath != ""
}

// HasSummary reports whether the given summary variant exists.
func (it *ContentItem) HasSummary(t SummaryType) bool {
	if t == SummaryBrief {
		return it.ShortSummaryPath != ""
	}
	return it.SummaryPath != ""
}

// IsDistributed reports whether the item was included in any newsletter.
func (it *ContentItem) IsDistributed() bool { return len(it.Newsletters) > 0 }

// Touch refreshes the LastUpdated timestamp.
func (it *ContentItem) Touch() {
	it.LastUpdated = time.Now().UTC().Format(time.RFC3339)
}

// FeedEntry is a single entry as returned by a feed source, before it is
// turned into a ContentItem.
type FeedEntry struct {
	ID        string // Entry id/guid as given by the feed, may be empty
	Link      string // Entry URL, may be empty on malformed feeds
	Title     string
	Published string // Raw published date string
	Updated   string // Raw updated date string
	Content   string // Inline HTML content, if the feed carries any
}

// GUIDSource returns the string the item guid is derived from: the entry's
// own id, falling back to its link, falling back to feed URL plus title.
func (e FeedEntry) GUIDSource(feedURL string) string {
	if e.ID != "" {
		return e.ID
	}
	if e.Link != "" {
		return e.Link
	}
	title := e.Title
	if title == "" {
		title = "No Title Provided"
	}
	return feedURL + "::" + title
}

// DeriveGUID hashes a normalized URL into a short URL-safe identifier.
// Normalization is lower-casing plus stripping one trailing slash, so
// re-fetching the same link always yields the same guid.
func DeriveGUID(link string) string {
	normalized := strings.ToLower(strings.TrimSpace(link))
	normalized = strings.TrimSuffix(normalized, "/")
	sum := sha256.Sum256([]byte(normalized))
	return base64.RawURLEncoding.EncodeToString(sum[:8])
}

// Blob key layout. These must stay bit-exact across runs: the presence of a
// key at the conventional location is what makes re-runs idempotent.
func HTMLKey(guid string) string         { return "html/" + guid + ".html" }
func MarkdownKey(guid string) string     { return "markdown/" + guid + ".md" }
func SummaryKey(guid string) string      { return "processed/summaries/" + guid + ".md" }
func ShortSummaryKey(guid string) string { return "processed/short_summaries/" + guid + ".md" }
func NewsletterKey(id string) string     { return "curated/" + id + ".md" }
func LatestNewsletterKey(t SummaryType) string {
	return "curated/latest_" + string(t) + ".md"
}

// SummaryKeyFor returns the conventional summary key for the given variant.
func SummaryKeyFor(guid string, t SummaryType) string {
	if t == SummaryBrief {
		return ShortSummaryKey(guid)
	}
	return SummaryKey(guid)
}

// ItemFilter selects items by the presence or absence of their stage
// references. Nil fields are not constrained.
type ItemFilter struct {
	HasHTML         *bool  // Constrain on HTMLPath presence
	HasMarkdown     *bool  // Constrain on MDPath presence
	HasSummary      *bool  // Constrain on SummaryPath presence
	HasShortSummary *bool  // Constrain on ShortSummaryPath presence
	Distributed     *bool  // Constrain on Newsletters being non-empty
	SourceURL       string // Exact match on the originating feed URL, if set
	Limit           int    // Maximum items to return; 0 means no limit
}

// Bool is a convenience for building ItemFilter constraints.
func Bool(b bool) *bool { return &b }
