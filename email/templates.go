package email

import (
	"fmt"
	"strings"
	"time"

	"creatormind/pkg/digest"
)

func (s *Sender) formatDigestBody(p *digest.Profile, set *digest.IdeaSet, local time.Time) string {
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	b.WriteString("<style>\n")
	b.WriteString("body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 720px; margin: 0 auto; padding: 20px; background: #fff; }\n")
	b.WriteString("h1 { font-size: 1.5em; margin-bottom: 4px; }\n")
	b.WriteString(".date { color: #7f8c8d; margin-top: 0; }\n")
	b.WriteString(".idea { margin-bottom: 24px; padding-bottom: 24px; border-bottom: 2px solid #6c5ce7; }\n")
	b.WriteString(".idea:last-of-type { border-bottom: none; }\n")
	b.WriteString(".idea h2 { font-size: 1.2em; margin: 0 0 6px 0; }\n")
	b.WriteString(".format { display: inline-block; font-size: 0.85em; color: #6c5ce7; font-weight: 600; text-transform: uppercase; }\n")
	b.WriteString(".hook { font-style: italic; }\n")
	b.WriteString(".rationale { color: #555; }\n")
	b.WriteString(".tags { color: #7f8c8d; font-size: 0.85em; }\n")
	b.WriteString(".footer { margin-top: 30px; padding-top: 15px; font-size: 0.9em; color: #7f8c8d; border-top: 1px solid #ddd; }\n")
	b.WriteString(".footer a { color: #7f8c8d; text-decoration: underline; margin: 0 8px; }\n")
	b.WriteString(".footer a:first-child { margin-left: 0; }\n")
	b.WriteString("a { color: #6c5ce7; text-decoration: none; }\n")
	b.WriteString("@media (prefers-color-scheme: dark) {\n")
	b.WriteString("body { background: #1a1a1a; color: #e0e0e0; }\n")
	b.WriteString(".rationale { color: #b0b0b0; }\n")
	b.WriteString(".footer { color: #a0a0a0; border-top-color: #444; }\n")
	b.WriteString(".footer a { color: #a0a0a0; }\n")
	b.WriteString(".format, a { color: #a29bfe; }\n")
	b.WriteString("}\n")
	b.WriteString("</style>\n</head>\n<body>\n")

	greeting := "Your video ideas"
	if p.Name != "" {
		greeting = "Hi " + escapeHTML(p.Name) + ", here are your video ideas"
	}
	b.WriteString(fmt.Sprintf("<h1>%s</h1>\n", greeting))
	b.WriteString(fmt.Sprintf("<p class=\"date\">%s &bull; %d ideas</p>\n", local.Format("Monday, January 2, 2006"), len(set.Ideas)))

	for i, idea := range set.Ideas {
		b.WriteString("<div class=\"idea\">\n")
		if idea.Format != "" {
			b.WriteString(fmt.Sprintf("<span class=\"format\">%s</span>\n", escapeHTML(idea.Format)))
		}
		b.WriteString(fmt.Sprintf("<h2>%d. %s</h2>\n", i+1, escapeHTML(idea.Title)))
		if idea.Hook != "" {
			b.WriteString(fmt.Sprintf("<p class=\"hook\">%s</p>\n", escapeHTML(idea.Hook)))
		}
		if idea.Rationale != "" {
			b.WriteString(fmt.Sprintf("<p class=\"rationale\">%s</p>\n", escapeHTML(idea.Rationale)))
		}
		if len(idea.Tags) > 0 {
			tags := make([]string, 0, len(idea.Tags))
			for _, t := range idea.Tags {
				tags = append(tags, "#"+escapeHTML(t))
			}
			b.WriteString(fmt.Sprintf("<p class=\"tags\">%s</p>\n", strings.Join(tags, " ")))
		}
		b.WriteString("</div>\n")
	}

	b.WriteString("<div class=\"footer\">\n")
	b.WriteString(fmt.Sprintf("<p>You receive this %s digest on %ss at %s (%s).</p>\n",
		escapeHTML(string(p.Frequency)), escapeHTML(capitalize(p.Day)), escapeHTML(p.Time), escapeHTML(p.Timezone)))
	if p.Token != "" {
		b.WriteString(fmt.Sprintf("<a href=\"%s\">Manage preferences</a>\n", escapeHTML(s.manageURL(p.Token))))
		b.WriteString(fmt.Sprintf("<a href=\"%s\">Email history</a>\n", escapeHTML(s.historyURL(p.Token))))
		b.WriteString(fmt.Sprintf("<a href=\"%s\">Unsubscribe</a>\n", escapeHTML(s.unsubscribeURL(p.Token))))
	}
	b.WriteString("</div>\n")
	b.WriteString("</body>\n</html>\n")

	return b.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}
