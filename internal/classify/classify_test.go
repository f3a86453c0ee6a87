package classify

import (
	"strings"
	"testing"
)

// articleText builds a plausible multi-paragraph article body.
func articleText(paragraphs int) string {
	var b strings.Builder
	for i := 0; i < paragraphs; i++ {
		b.WriteString("The release notes describe a number of changes to the scheduler. ")
		b.WriteString("Latency improved across the board in our measurements. ")
		b.WriteString("The team also documented the migration path for existing users. ")
		b.WriteString("Several edge cases around retries were fixed in this cycle.")
		b.WriteString("\n\n")
	}
	return b.String()
}

func TestIsPaywallOrTeaser_Deterministic(t *testing.T) {
	c := New(DefaultConfig())
	text := "Subscribe now to continue reading. The rest of this article is for members."
	first := c.IsPaywallOrTeaser(text)
	for i := 0; i < 5; i++ {
		if c.IsPaywallOrTeaser(text) != first {
			t.Fatal("classifier verdict changed between identical calls")
		}
	}
}

func TestIsPaywallOrTeaser_SingleFailureIsNotEnough(t *testing.T) {
	c := New(DefaultConfig())

	// Short, but no teaser phrases and no links: only the length check fails.
	short := "A quick note on the weekly schedule change."
	if c.IsPaywallOrTeaser(short) {
		t.Error("one failing check should not reject with quorum 2")
	}

	// Long enough and link-free, but contains a teaser phrase: only the
	// pattern check fails.
	phrased := "You can sign up for the beta program through the settings page. " + articleText(2)
	if c.IsPaywallOrTeaser(phrased) {
		t.Error("pattern match alone should not reject with quorum 2")
	}
}

func TestIsPaywallOrTeaser_TwoFailuresReject(t *testing.T) {
	c := New(DefaultConfig())

	// Short and carrying a teaser phrase: length + pattern both fail.
	teaser := "Subscribe now to read the full story."
	if !c.IsPaywallOrTeaser(teaser) {
		t.Error("short text with teaser phrase should be rejected")
	}
}

func TestIsPaywallOrTeaser_LinkDensity(t *testing.T) {
	c := New(DefaultConfig())

	// Long enough to pass the length check, teaser phrase plus a wall of
	// links: pattern + link density fail.
	var b strings.Builder
	b.WriteString("Continue reading our premium content with a subscription today. ")
	b.WriteString(strings.Repeat("filler prose to get past the minimum length threshold here ", 3))
	for i := 0; i < 20; i++ {
		b.WriteString("[related](https://example.com/related) ")
	}
	if !c.IsPaywallOrTeaser(b.String()) {
		t.Error("teaser phrase plus link-heavy text should be rejected")
	}
}

func TestIsPaywallOrTeaser_LegitimateArticle(t *testing.T) {
	c := New(DefaultConfig())
	if c.IsPaywallOrTeaser(articleText(4)) {
		t.Error("full article should not be classified as paywall")
	}
}

func TestIsPaywallOrTeaser_PatternOutsideWindowIgnored(t *testing.T) {
	c := New(DefaultConfig())
	// The teaser phrase appears only after the first 500 characters of
	// clean text, so the pattern check passes.
	text := articleText(4) + "\n\nSubscribe now for our weekly newsletter."
	if c.IsPaywallOrTeaser(text) {
		t.Error("pattern beyond the search window should not count")
	}
}

func TestIsPaywallOrTeaser_HeaderStripped(t *testing.T) {
	c := New(DefaultConfig())
	// Header lines carry a URL Source line; they must not count as content
	// or as link material.
	doc := "Date Updated: 2024-01-02T10:00:00Z\n\nTitle: Short teaser\n\nURL Source: https://example.com/a\n\nMarkdown Content:\nSubscribe now to read the full story."
	if !c.IsPaywallOrTeaser(doc) {
		t.Error("header lines should be stripped before analysis")
	}
}

func TestIsWorthSummarizing_PaywallHardGate(t *testing.T) {
	c := New(DefaultConfig())

	// Structurally rich text that still trips the paywall checks: teaser
	// phrase up top plus link-dense prose. The gate must override the
	// passing structural checks.
	var b strings.Builder
	b.WriteString("Subscribe now to unlock every article in the archive. ")
	b.WriteString(articleText(4))
	for i := 0; i < 40; i++ {
		b.WriteString("[more](https://example.com/x) ")
	}
	text := b.String()

	if !c.IsPaywallOrTeaser(text) {
		t.Fatal("test text should classify as paywall")
	}
	if c.IsWorthSummarizing(text) {
		t.Error("paywalled text must never be worth summarizing")
	}
}

func TestIsWorthSummarizing_FullArticle(t *testing.T) {
	c := New(DefaultConfig())
	if !c.IsWorthSummarizing(articleText(4)) {
		t.Error("substantive article should be worth summarizing")
	}
}

func TestIsWorthSummarizing_QuorumToleratesTwoFailures(t *testing.T) {
	c := New(DefaultConfig())

	// A single long paragraph: paragraph check fails, everything else
	// passes. 1 failure < quorum 3.
	onePara := strings.ReplaceAll(articleText(3), "\n\n", " ")
	if !c.IsWorthSummarizing(onePara) {
		t.Error("one structural failure should not reject")
	}
}

func TestIsWorthSummarizing_ThinContentRejected(t *testing.T) {
	c := New(DefaultConfig())

	// Short, one block, two sentences: length + sentences + paragraphs
	// fail, reaching the quorum of 3.
	thin := "An announcement was made. Details will follow at some point later this month for everyone involved."
	if c.IsWorthSummarizing(thin) {
		t.Error("thin content should be rejected")
	}
}

func TestIsWorthSummarizing_ClickbaitPunctuation(t *testing.T) {
	c := New(DefaultConfig())

	// Short, shouty, single block: punctuation + length + paragraph checks
	// fail even though the sentence count is fine.
	shouty := "Wow! Really?! You won't believe it! Amazing! Why? How? Unreal! See it now! What a ride!"
	if c.IsWorthSummarizing(shouty) {
		t.Error("clickbait-density text should be rejected")
	}
}

func TestConfigurableThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PaywallQuorum = 1
	c := New(cfg)

	// With the quorum lowered, a single failing check rejects.
	short := "A quick note on the weekly schedule change."
	if !c.IsPaywallOrTeaser(short) {
		t.Error("quorum 1 should reject on the length check alone")
	}
}
