// Package extract turns raw page content into structured output and page
// complexity estimates.
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/veilhq/stealthcrawler/internal/acquire"
	"github.com/veilhq/stealthcrawler/internal/pacing"
)

// Content is the structured view of one fetched page.
type Content struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Headings    []string          `json:"headings"`
	Links       []string          `json:"links"`
	Text        string            `json:"text"`
	Meta        map[string]string `json:"meta"`
}

// Summary describes the extraction for result metadata.
func (c Content) Summary() string {
	return fmt.Sprintf("title=%q headings=%d links=%d text_chars=%d",
		c.Title, len(c.Headings), len(c.Links), len(c.Text))
}

// AsMap renders the content into the generic result payload shape.
func (c Content) AsMap() map[string]any {
	return map[string]any{
		"title":       c.Title,
		"description": c.Description,
		"headings":    c.Headings,
		"links":       c.Links,
		"text":        c.Text,
		"meta":        c.Meta,
	}
}

// Extractor parses rendered HTML.
type Extractor struct {
	maxLinks     int
	maxTextRunes int
}

// New constructs an Extractor with output caps.
func New() *Extractor {
	return &Extractor{maxLinks: 200, maxTextRunes: 100000}
}

// Extract parses the page and returns structured content plus a complexity
// estimate for the pacing engine.
func (e *Extractor) Extract(body string) (Content, pacing.Complexity, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return Content{}, pacing.Complexity{}, fmt.Errorf("parse page: %w", err)
	}

	content := Content{Meta: make(map[string]string)}
	content.Title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("meta").Each(func(_ int, sel *goquery.Selection) {
		name, _ := sel.Attr("name")
		if name == "" {
			name, _ = sel.Attr("property")
		}
		value, ok := sel.Attr("content")
		if name != "" && ok {
			content.Meta[name] = value
		}
	})
	content.Description = content.Meta["description"]

	doc.Find("h1, h2, h3").Each(func(_ int, sel *goquery.Selection) {
		if text := strings.TrimSpace(sel.Text()); text != "" {
			content.Headings = append(content.Headings, text)
		}
	})

	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		if href != "" && !strings.HasPrefix(href, "javascript:") {
			content.Links = append(content.Links, href)
		}
		return len(content.Links) < e.maxLinks
	})

	text := normalizeWhitespace(doc.Find("body").Text())
	if runes := []rune(text); len(runes) > e.maxTextRunes {
		text = string(runes[:e.maxTextRunes])
	}
	content.Text = text

	complexity := pacing.Complexity{
		Elements:   doc.Find("*").Length(),
		TextLength: len(text),
		Images:     doc.Find("img").Length(),
	}
	return content, complexity, nil
}

// Validate rejects pages that produced no meaningful data, which the
// scheduler treats as retryable with a different strategy.
func (e *Extractor) Validate(c Content) error {
	if c.Title == "" && len(c.Headings) == 0 && len(strings.TrimSpace(c.Text)) < 40 {
		return acquire.NewError(acquire.CodeExtractionValidationFailed, "page contained no meaningful content")
	}
	return nil
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
