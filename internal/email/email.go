// Package email renders a newsletter document as a styled HTML email and
// delivers it over SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"regexp"
	"strings"
)

// Template holds the visual configuration of the newsletter email.
type Template struct {
	Name            string
	Subject         string
	HeaderColor     string
	BackgroundColor string
	TextColor       string
	LinkColor       string
	BorderColor     string
	MaxWidth        string
	FontFamily      string
}

// DefaultTemplate returns a clean, responsive newsletter template.
func DefaultTemplate() *Template {
	return &Template{
		Name:            "newsletter",
		Subject:         "Content Update: %s",
		HeaderColor:     "#059669", // Emerald-600
		BackgroundColor: "#f8fafc", // Slate-50
		TextColor:       "#1e293b", // Slate-800
		LinkColor:       "#0366d6",
		BorderColor:     "#e2e8f0", // Slate-200
		MaxWidth:        "700px",
		FontFamily:      "system-ui, -apple-system, 'Segoe UI', Roboto, sans-serif",
	}
}

var emailHTMLTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.Title}}</title>
  <style>
    body { font-family: {{.FontFamily}}; line-height: 1.6; color: {{.TextColor}}; background-color: {{.BackgroundColor}}; margin: 0; padding: 20px; }
    .container { max-width: {{.MaxWidth}}; margin: 0 auto; background: #ffffff; border: 1px solid {{.BorderColor}}; border-radius: 8px; padding: 24px; }
    h1 { color: {{.HeaderColor}}; font-size: 22px; }
    h2 { color: {{.HeaderColor}}; font-size: 18px; border-bottom: 1px solid {{.BorderColor}}; padding-bottom: 6px; }
    h3 { font-size: 16px; margin-bottom: 4px; }
    a { color: {{.LinkColor}}; text-decoration: underline; }
    p { margin: 8px 0; }
  </style>
</head>
<body>
  <div class="container">
    <h1>{{.Title}}</h1>
    {{.Body}}
  </div>
</body>
</html>
`))

var (
	mdLinkRe  = regexp.MustCompile(`\[([^\]]*)\]\(([^)]*)\)`)
	bareURLRe = regexp.MustCompile(`(^|\s)(https?://\S+)`)
)

// RenderHTML converts a newsletter markdown document into a full HTML email
// body using the template's styling.
func RenderHTML(title, markdownDoc string, tmpl *Template) (string, error) {
	if tmpl == nil {
		tmpl = DefaultTemplate()
	}

	var buf bytes.Buffer
	// The quoted font list would be rejected by html/template's CSS
	// sanitizer, so it is passed as a trusted CSS value.
	err := emailHTMLTemplate.Execute(&buf, struct {
		*Template
		FontFamily template.CSS
		Title      string
		Body       template.HTML
	}{Template: tmpl, FontFamily: template.CSS(tmpl.FontFamily), Title: title, Body: markdownToHTML(markdownDoc)})
	if err != nil {
		return "", fmt.Errorf("failed to render email template: %w", err)
	}
	return buf.String(), nil
}

// markdownToHTML renders the subset of markdown the curator emits: ATX
// headings, inline links, and paragraph text with bare URLs.
func markdownToHTML(doc string) template.HTML {
	var b strings.Builder
	for _, block := range strings.Split(doc, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case strings.HasPrefix(line, "### "):
				fmt.Fprintf(&b, "<h3>%s</h3>\n", inlineHTML(strings.TrimPrefix(line, "### ")))
			case strings.HasPrefix(line, "## "):
				fmt.Fprintf(&b, "<h2>%s</h2>\n", inlineHTML(strings.TrimPrefix(line, "## ")))
			case strings.HasPrefix(line, "# "):
				fmt.Fprintf(&b, "<h1>%s</h1>\n", inlineHTML(strings.TrimPrefix(line, "# ")))
			default:
				fmt.Fprintf(&b, "<p>%s</p>\n", inlineHTML(line))
			}
		}
	}
	return template.HTML(b.String())
}

// inlineHTML escapes a text line and turns markdown links and bare URLs into
// anchors.
func inlineHTML(line string) string {
	// Replace markdown links with placeholders before escaping so their
	// syntax survives, then expand them into anchors. The placeholder must
	// pass through HTMLEscapeString unchanged, so it uses plain ASCII.
	type link struct{ text, href string }
	var links []link
	line = mdLinkRe.ReplaceAllStringFunc(line, func(m string) string {
		parts := mdLinkRe.FindStringSubmatch(m)
		links = append(links, link{text: parts[1], href: parts[2]})
		return fmt.Sprintf("@@LINK%d@@", len(links)-1)
	})

	escaped := template.HTMLEscapeString(line)
	for i, l := range links {
		anchor := fmt.Sprintf(`<a href="%s">%s</a>`,
			template.HTMLEscapeString(l.href), template.HTMLEscapeString(l.text))
		escaped = strings.Replace(escaped, fmt.Sprintf("@@LINK%d@@", i), anchor, 1)
	}

	return bareURLRe.ReplaceAllStringFunc(escaped, func(m string) string {
		parts := bareURLRe.FindStringSubmatch(m)
		return fmt.Sprintf(`%s<a href="%s">%s</a>`, parts[1], parts[2], parts[2])
	})
}

// Sender delivers rendered emails over SMTP with STARTTLS and plain auth.
type Sender struct {
	Host     string
	Port     int
	From     string
	Password string
}

// NewSender creates an SMTP sender.
func NewSender(host string, port int, from, password string) *Sender {
	return &Sender{Host: host, Port: port, From: from, Password: password}
}

// Send delivers an HTML email to the recipients.
func (s *Sender) Send(to []string, subject, htmlBody string) error {
	if len(to) == 0 {
		return fmt.Errorf("no recipients configured")
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", s.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)

	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	auth := smtp.PlainAuth("", s.From, s.Password, s.Host)
	if err := smtp.SendMail(addr, auth, s.From, to, msg.Bytes()); err != nil {
		return fmt.Errorf("failed to send email via %s: %w", addr, err)
	}
	return nil
}
