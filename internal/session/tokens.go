package session

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractTokens scans rendered page content for CSRF-pattern fields: hidden
// form inputs and meta tags whose name contains "csrf" or "token". The
// returned map folds into the domain's session state.
func ExtractTokens(pageContent string) map[string]string {
	tokens := make(map[string]string)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageContent))
	if err != nil {
		return tokens
	}

	doc.Find("input").Each(func(_ int, sel *goquery.Selection) {
		name, _ := sel.Attr("name")
		value, hasValue := sel.Attr("value")
		if hasValue && value != "" && isTokenName(name) {
			tokens[name] = value
		}
	})

	doc.Find("meta").Each(func(_ int, sel *goquery.Selection) {
		name, _ := sel.Attr("name")
		content, hasContent := sel.Attr("content")
		if hasContent && content != "" && isTokenName(name) {
			tokens[name] = content
		}
	})

	return tokens
}

func isTokenName(name string) bool {
	if name == "" {
		return false
	}
	lower := strings.ToLower(name)
	return strings.Contains(lower, "csrf") || strings.Contains(lower, "token")
}
