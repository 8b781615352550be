package email

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PlainText derives the text/plain alternative of a rendered digest.
// Block elements become lines; links keep their target in angle brackets.
func PlainText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var lines []string
	doc.Find("body").Find("h1, p.date, div.idea, div.footer p, div.footer a").Each(func(_ int, sel *goquery.Selection) {
		switch {
		case sel.Is("div.idea"):
			var parts []string
			sel.Children().Each(func(_ int, c *goquery.Selection) {
				if t := collapse(c.Text()); t != "" {
					parts = append(parts, t)
				}
			})
			lines = append(lines, strings.Join(parts, "\n"), "")
		case sel.Is("a"):
			href, _ := sel.Attr("href")
			lines = append(lines, fmt.Sprintf("%s: <%s>", collapse(sel.Text()), href))
		default:
			lines = append(lines, collapse(sel.Text()))
			if sel.Is("p.date") {
				lines = append(lines, "")
			}
		}
	})

	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n", nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
