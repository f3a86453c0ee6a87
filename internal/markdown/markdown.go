// Package markdown converts fetched HTML into markdown documents and
// handles the metadata header prepended to every processed document.
package markdown

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	// FailureMarker is stored in place of markdown when conversion fails,
	// so the item still advances and the classifier rejects it downstream.
	FailureMarker = "[Content Conversion Failed]"
	// EmptyMarker is stored when an item had no HTML content at all.
	EmptyMarker = "[No Content Found]"
)

// nonContentSelector matches elements that never contribute article prose.
const nonContentSelector = "script, style, nav, footer, header, aside, form, iframe, noscript, .sidebar, #sidebar, .ad, .advertisement, .popup, .modal, .cookie-banner"

// Convert renders HTML into markdown: ATX headings, inline links, lists,
// blockquotes and fenced code blocks. Returns an error when the input
// cannot be parsed at all.
func Convert(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find(nonContentSelector).Remove()

	var b strings.Builder
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, blockquote, pre").Each(func(_ int, sel *goquery.Selection) {
		block := renderBlock(sel)
		if block == "" {
			return
		}
		b.WriteString(block)
		b.WriteString("\n\n")
	})

	out := strings.TrimSpace(b.String())
	if out == "" {
		// No recognizable block structure; fall back to the bare text.
		out = strings.TrimSpace(doc.Find("body").Text())
	}
	return out, nil
}

// renderBlock renders one block element as a markdown block.
func renderBlock(sel *goquery.Selection) string {
	tag := goquery.NodeName(sel)
	switch tag {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level := int(tag[1] - '0')
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return ""
		}
		return strings.Repeat("#", level) + " " + text
	case "li":
		text := renderInline(sel)
		if text == "" {
			return ""
		}
		return "- " + text
	case "blockquote":
		text := renderInline(sel)
		if text == "" {
			return ""
		}
		return "> " + text
	case "pre":
		code := strings.Trim(sel.Text(), "\n")
		if strings.TrimSpace(code) == "" {
			return ""
		}
		return "```\n" + code + "\n```"
	default: // p
		return renderInline(sel)
	}
}

// renderInline renders a block's content preserving links and emphasis.
func renderInline(sel *goquery.Selection) string {
	var b strings.Builder
	sel.Contents().Each(func(_ int, child *goquery.Selection) {
		switch goquery.NodeName(child) {
		case "#text":
			b.WriteString(child.Text())
		case "a":
			href, _ := child.Attr("href")
			text := strings.TrimSpace(child.Text())
			if text == "" {
				text = href
			}
			if href == "" {
				b.WriteString(text)
			} else {
				fmt.Fprintf(&b, "[%s](%s)", text, href)
			}
		case "strong", "b":
			if t := strings.TrimSpace(child.Text()); t != "" {
				b.WriteString("**" + t + "**")
			}
		case "em", "i":
			if t := strings.TrimSpace(child.Text()); t != "" {
				b.WriteString("*" + t + "*")
			}
		case "code":
			if t := child.Text(); t != "" {
				b.WriteString("`" + t + "`")
			}
		case "br":
			b.WriteString("\n")
		default:
			b.WriteString(renderInline(child))
		}
	})
	return strings.TrimSpace(collapseSpaces(b.String()))
}

func collapseSpaces(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t'
	}), " ")
}

// Header carries the metadata lines prepended to processed documents.
type Header struct {
	FetchDate     string
	PublishedDate string
	Title         string
	Link          string
}

// FormatWithHeader prepends the standard metadata header to a markdown
// body. The classifier strips these lines again before quality analysis,
// so the exact prefixes here are load-bearing.
func FormatWithHeader(h Header, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Date Updated: %s\n\n", orDefault(h.FetchDate, "Unknown"))
	if h.PublishedDate != "" {
		fmt.Fprintf(&b, "Published: %s\n\n", h.PublishedDate)
	}
	fmt.Fprintf(&b, "Title: %s\n\n", orDefault(h.Title, "No Title"))
	fmt.Fprintf(&b, "URL Source: %s\n\n", orDefault(h.Link, "No Link"))
	b.WriteString("Markdown Content:\n")
	b.WriteString(body)
	return b.String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
