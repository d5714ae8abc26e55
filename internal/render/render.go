// Package render turns chat messages into display-ready HTML fragments.
//
// Assistant output is parsed with a small line/token scanner instead of
// layered regex replacement. Precedence is fixed: fenced code blocks, inline
// code, bold, italic, bullet lists, then line breaks. Code bodies are always
// HTML-escaped; non-assistant roles render as escaped plain text.
package render

import (
	"html"
	"strings"
	"time"

	"github.com/doubtsolver/assistant/internal/store"
)

// DisplayUnit is one message prepared for the UI.
type DisplayUnit struct {
	Role      store.Role `json:"role"`
	HTML      string     `json:"html"`
	TimeLabel string     `json:"time_label"`
}

// Message renders msg relative to now (which anchors the "Today at" label).
func Message(msg store.ChatMessage, now time.Time) DisplayUnit {
	var body string
	if msg.Role == store.RoleAssistant {
		body = AssistantHTML(msg.Text)
	} else {
		body = html.EscapeString(msg.Text)
	}
	return DisplayUnit{
		Role:      msg.Role,
		HTML:      body,
		TimeLabel: TimestampLabel(msg.Timestamp, now),
	}
}

// Messages renders a transcript in order.
func Messages(msgs []store.ChatMessage, now time.Time) []DisplayUnit {
	units := make([]DisplayUnit, 0, len(msgs))
	for _, msg := range msgs {
		units = append(units, Message(msg, now))
	}
	return units
}

// TimestampLabel formats t as "Today at HH:MM" when it falls on the same date
// as now, otherwise "YYYY-MM-DD HH:MM".
func TimestampLabel(t, now time.Time) string {
	ty, tm, td := t.Date()
	ny, nm, nd := now.Date()
	if ty == ny && tm == nm && td == nd {
		return "Today at " + t.Format("15:04")
	}
	return t.Format("2006-01-02 15:04")
}

type segment struct {
	code bool
	lang string
	body string
}

// AssistantHTML converts the assistant's lightweight markup into HTML.
func AssistantHTML(text string) string {
	var out strings.Builder
	for _, seg := range splitFences(text) {
		if seg.code {
			out.WriteString(codeBlockHTML(seg.lang, seg.body))
		} else {
			out.WriteString(textHTML(seg.body))
		}
	}
	return out.String()
}

// splitFences separates fenced code blocks from surrounding text. An opening
// fence with no close is not a block; its lines fall through as plain text.
func splitFences(text string) []segment {
	lines := strings.Split(text, "\n")
	var segs []segment
	var textLines []string

	flush := func() {
		if len(textLines) > 0 {
			segs = append(segs, segment{body: strings.Join(textLines, "\n")})
			textLines = nil
		}
	}

	for i := 0; i < len(lines); i++ {
		lang, open := fenceOpen(lines[i])
		if open {
			j := i + 1
			for j < len(lines) && !fenceClose(lines[j]) {
				j++
			}
			if j < len(lines) {
				flush()
				code := strings.TrimSpace(strings.Join(lines[i+1:j], "\n"))
				segs = append(segs, segment{code: true, lang: lang, body: code})
				i = j
				continue
			}
		}
		textLines = append(textLines, lines[i])
	}
	flush()
	return segs
}

func fenceOpen(line string) (lang string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "```") {
		return "", false
	}
	return strings.TrimSpace(trimmed[3:]), true
}

func fenceClose(line string) bool {
	return strings.TrimSpace(line) == "```"
}

func codeBlockHTML(lang, code string) string {
	var b strings.Builder
	b.WriteString(`<div class="code-block"><div class="code-header"><span class="code-language">`)
	b.WriteString(html.EscapeString(lang))
	b.WriteString(`</span><button class="copy-button">Copy Code</button></div><pre><code class="`)
	b.WriteString(html.EscapeString(lang))
	b.WriteString(`">`)
	b.WriteString(html.EscapeString(code))
	b.WriteString(`</code></pre></div>`)
	return b.String()
}

// textHTML handles the non-code passes: inline formatting per line, bullet
// runs wrapped into lists, remaining breaks made explicit.
func textHTML(text string) string {
	lines := strings.Split(text, "\n")
	var out strings.Builder
	var plain []string

	flushPlain := func() {
		if len(plain) > 0 {
			out.WriteString(strings.Join(plain, "<br>"))
			plain = nil
		}
	}

	for i := 0; i < len(lines); {
		if _, ok := bulletItem(lines[i]); ok {
			flushPlain()
			out.WriteString("<ul>")
			for i < len(lines) {
				item, ok := bulletItem(lines[i])
				if !ok {
					break
				}
				out.WriteString("<li>")
				out.WriteString(formatInline(item))
				out.WriteString("</li>")
				i++
			}
			out.WriteString("</ul>")
			continue
		}
		plain = append(plain, formatInline(lines[i]))
		i++
	}
	flushPlain()
	return out.String()
}

func bulletItem(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	for _, marker := range []string{"- ", "• "} {
		if strings.HasPrefix(trimmed, marker) {
			return strings.TrimSpace(trimmed[len(marker):]), true
		}
	}
	return "", false
}

// formatInline applies inline code, bold, and italic in that order of
// precedence within a single line, escaping everything else.
func formatInline(line string) string {
	var b strings.Builder
	for i := 0; i < len(line); {
		switch {
		case line[i] == '`':
			rest := line[i+1:]
			if j := strings.IndexByte(rest, '`'); j >= 0 {
				b.WriteString("<code>")
				b.WriteString(html.EscapeString(rest[:j]))
				b.WriteString("</code>")
				i += j + 2
				continue
			}
			b.WriteString("`")
			i++
		case strings.HasPrefix(line[i:], "**"):
			rest := line[i+2:]
			if j := strings.Index(rest, "**"); j >= 0 {
				b.WriteString("<strong>")
				b.WriteString(html.EscapeString(rest[:j]))
				b.WriteString("</strong>")
				i += j + 4
				continue
			}
			b.WriteString("**")
			i += 2
		case line[i] == '*':
			rest := line[i+1:]
			if j := strings.IndexByte(rest, '*'); j >= 0 {
				b.WriteString("<em>")
				b.WriteString(html.EscapeString(rest[:j]))
				b.WriteString("</em>")
				i += j + 2
				continue
			}
			b.WriteString("*")
			i++
		default:
			next := strings.IndexAny(line[i:], "`*")
			if next < 0 {
				b.WriteString(html.EscapeString(line[i:]))
				i = len(line)
				continue
			}
			b.WriteString(html.EscapeString(line[i : i+next]))
			i += next
		}
	}
	return b.String()
}
