// Package curator selects and formats summarized items into a newsletter
// document.
package curator

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"curator/internal/core"
)

// ErrInvalidSelection is returned when the selection criteria are ambiguous.
var ErrInvalidSelection = errors.New("exactly one of most-recent or n-days must be given")

// Selection picks which summarized items a newsletter includes. Exactly one
// criterion must be set.
type Selection struct {
	MostRecent int // Take the N most recently published items
	NDays      int // Take items published within the last N days
}

func (s Selection) validate() error {
	if (s.MostRecent > 0) == (s.NDays > 0) {
		return ErrInvalidSelection
	}
	return nil
}

// Feeds publish dates in whatever format they like, so parsing has to be
// permissive. Tried in order; first match wins.
var dateFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC822Z,
	time.RFC822,
	time.RFC850,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses a free-form published date string. The second return is
// false when no known format matches.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Select orders items newest first and applies the selection criterion.
// Items whose published date cannot be parsed sort last; they stay eligible
// for a most-recent selection but are excluded from an n-days window.
func Select(items []*core.ContentItem, sel Selection, now time.Time) ([]*core.ContentItem, error) {
	if err := sel.validate(); err != nil {
		return nil, err
	}

	type dated struct {
		item   *core.ContentItem
		when   time.Time
		parsed bool
	}
	ordered := make([]dated, 0, len(items))
	for _, it := range items {
		when, ok := ParseDate(it.PublishedDate)
		ordered = append(ordered, dated{item: it, when: when, parsed: ok})
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].parsed != ordered[j].parsed {
			return ordered[i].parsed
		}
		return ordered[i].when.After(ordered[j].when)
	})

	var out []*core.ContentItem
	if sel.MostRecent > 0 {
		for _, d := range ordered {
			if len(out) == sel.MostRecent {
				break
			}
			out = append(out, d.item)
		}
		return out, nil
	}

	cutoff := now.AddDate(0, 0, -sel.NDays)
	for _, d := range ordered {
		if !d.parsed {
			continue
		}
		if d.when.Before(cutoff) {
			break
		}
		out = append(out, d.item)
	}
	return out, nil
}

// Render formats the selected items into one newsletter document.
func Render(items []*core.ContentItem, summaryType core.SummaryType) string {
	if len(items) == 0 {
		return "No recent content available."
	}

	var b strings.Builder
	b.WriteString("## Recent Content\n\n")
	for _, it := range items {
		title := it.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&b, "### %s\n", title)
		if it.PublishedDate != "" {
			fmt.Fprintf(&b, "Published: %s\n", it.PublishedDate)
		}
		fmt.Fprintf(&b, "%s\n", it.Link)
		fmt.Fprintf(&b, "%s\n\n", summaryText(it, summaryType))
	}
	return b.String()
}

func summaryText(it *core.ContentItem, summaryType core.SummaryType) string {
	var text, path string
	if summaryType == core.SummaryBrief {
		text, path = it.ShortSummary, it.ShortSummaryPath
	} else {
		text, path = it.Summary, it.SummaryPath
	}
	if text != "" {
		return text
	}
	return "Summary located at: " + path
}

// NewsletterID derives the identifier a newsletter is stored and recorded
// under.
func NewsletterID(now time.Time) string {
	return "newsletter_" + now.Format("2006-01-02_15-04-05")
}
