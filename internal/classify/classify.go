// Package classify implements the content quality heuristics that decide
// whether fetched content is a paywall teaser and whether it is substantive
// enough to summarize. All functions are pure: same text and config always
// produce the same verdict.
package classify

import (
	"regexp"
	"strings"
)

// Config holds the classifier thresholds. The defaults were tuned against
// the production corpus; changing them changes which items get summarized
// and needs re-validation against a labeled sample.
type Config struct {
	PaywallMinContentLength int      // Minimum clean-text length before the length check fails
	PaywallPatterns         []string // Teaser phrases searched in the first PatternWindow chars
	PatternWindow           int      // How far into the clean text patterns are searched
	MaxLinkRatio            float64  // Maximum markdown links per 100 chars of prose
	PaywallQuorum           int      // Failed checks needed to call something a paywall

	WorthMinContentLength int     // Minimum clean-text length for a summarizable article
	MaxPunctuationRatio   float64 // Maximum '!'/'?' density before text reads as clickbait
	MinSentences          int     // Minimum sentence fragments
	MinParagraphs         int     // Minimum blank-line separated blocks
	WorthQuorum           int     // Failed checks needed to reject as not worth summarizing
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		PaywallMinContentLength: 100,
		PaywallPatterns:         defaultPaywallPatterns(),
		PatternWindow:           500,
		MaxLinkRatio:            0.3,
		PaywallQuorum:           2,

		WorthMinContentLength: 500,
		MaxPunctuationRatio:   0.05,
		MinSentences:          5,
		MinParagraphs:         3,
		WorthQuorum:           3,
	}
}

func defaultPaywallPatterns() []string {
	return []string{
		"subscribe now",
		"subscription required",
		"subscribers only",
		"read more",
		"continue reading",
		"sign up",
		"sign in to read",
		"log in to continue",
		"premium content",
		"members only",
		"free trial",
		"paywall",
		"register to read",
		"already a subscriber",
	}
}

// Classifier evaluates markdown body text against the configured thresholds.
type Classifier struct {
	cfg Config
}

// New creates a classifier with the given config.
func New(cfg Config) *Classifier {
	if cfg.PatternWindow == 0 {
		cfg.PatternWindow = 500
	}
	return &Classifier{cfg: cfg}
}

// headerPrefixes are the metadata lines the process stage prepends to
// markdown documents. They are stripped before any quality analysis.
var headerPrefixes = []string{
	"Date Updated:",
	"Title:",
	"URL Source:",
	"Markdown Content:",
	"Published:",
}

var (
	mdLinkRe   = regexp.MustCompile(`\[([^\]]*)\]\(([^)]*)\)`)
	mdImageRe  = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]*)\)`)
	formatting = strings.NewReplacer(
		"**", "", "__", "", "*", "", "_", "", "`", "",
		"#", "", ">", "", "---", "", "|", " ",
	)
)

// stripMetadataHeader removes injected metadata header lines.
func stripMetadataHeader(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		header := false
		for _, prefix := range headerPrefixes {
			if strings.HasPrefix(trimmed, prefix) {
				header = true
				break
			}
		}
		if !header {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// cleanText approximates the visible prose of a markdown document: link
// syntax reduced to its text, images dropped, formatting characters removed.
func cleanText(text string) string {
	text = mdImageRe.ReplaceAllString(text, "")
	text = mdLinkRe.ReplaceAllString(text, "$1")
	text = formatting.Replace(text)
	return strings.TrimSpace(text)
}

// countLinks counts markdown links in a document (images excluded).
func countLinks(text string) int {
	return len(mdLinkRe.FindAllString(mdImageRe.ReplaceAllString(text, ""), -1))
}

// IsPaywallOrTeaser reports whether the markdown text looks like a truncated
// preview rather than a full article. Three independent checks vote: short
// clean text, teaser phrases near the top, and link-heavy prose. Any single
// heuristic is noisy on arbitrary web content, so the verdict requires a
// quorum of failures rather than any one check.
func (c *Classifier) IsPaywallOrTeaser(text string) bool {
	body := stripMetadataHeader(text)
	clean := cleanText(body)

	failures := 0

	if len(clean) < c.cfg.PaywallMinContentLength {
		failures++
	}

	window := clean
	if len(window) > c.cfg.PatternWindow {
		window = window[:c.cfg.PatternWindow]
	}
	window = strings.ToLower(window)
	for _, pattern := range c.cfg.PaywallPatterns {
		if strings.Contains(window, pattern) {
			failures++
			break
		}
	}

	links := countLinks(body)
	if links > 0 {
		per100 := float64(len(clean)) / 100.0
		if per100 <= 0 || float64(links)/per100 > c.cfg.MaxLinkRatio {
			failures++
		}
	}

	return failures >= c.cfg.PaywallQuorum
}

// IsWorthSummarizing reports whether the markdown text is substantive enough
// to spend an LLM call on. A paywall verdict is a hard gate; otherwise four
// structural checks vote and the text survives unless a quorum fails, which
// keeps legitimate short or list-style articles in.
func (c *Classifier) IsWorthSummarizing(text string) bool {
	if c.IsPaywallOrTeaser(text) {
		return false
	}

	body := stripMetadataHeader(text)
	clean := cleanText(body)

	failures := 0

	if len(clean) < c.cfg.WorthMinContentLength {
		failures++
	}

	if len(clean) > 0 {
		punct := strings.Count(clean, "!") + strings.Count(clean, "?")
		if float64(punct)/float64(len(clean)) > c.cfg.MaxPunctuationRatio {
			failures++
		}
	} else {
		failures++
	}

	if countSentences(clean) < c.cfg.MinSentences {
		failures++
	}

	if countParagraphs(body) < c.cfg.MinParagraphs {
		failures++
	}

	return failures < c.cfg.WorthQuorum
}

// countSentences counts non-empty fragments produced by splitting on
// sentence-ending punctuation.
func countSentences(text string) int {
	fragments := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	n := 0
	for _, f := range fragments {
		if strings.TrimSpace(f) != "" {
			n++
		}
	}
	return n
}

// countParagraphs counts blocks separated by blank lines.
func countParagraphs(text string) int {
	blocks := regexp.MustCompile(`\n\s*\n`).Split(strings.TrimSpace(text), -1)
	n := 0
	for _, b := range blocks {
		if strings.TrimSpace(b) != "" {
			n++
		}
	}
	return n
}
