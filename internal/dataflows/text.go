package dataflows

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Summarize flattens HTML or plain text to a single line of at most max runes.
func Summarize(content string, max int) string {
	text := content
	if strings.Contains(content, "<") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(content)); err == nil {
			doc.Find("script, style").Remove()
			text = doc.Text()
		}
	}
	text = strings.Join(strings.Fields(text), " ")
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return strings.TrimSpace(string(runes[:max])) + "..."
}
