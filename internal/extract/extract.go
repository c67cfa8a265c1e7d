package extract

import (
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

// The two failure modes are reported with their user-facing messages; the
// pipeline persists them verbatim.
var (
	ErrTooLarge            = errors.New("Article content too large")
	ErrInsufficientContent = errors.New("Could not extract article content")
)

// Elements that never carry article text.
var removeSelectors = []string{"script", "style", "nav", "footer", "header", "aside", "form", "noscript", "iframe"}

// Candidate content containers, most specific first. The first one whose
// text meets the minimum length wins.
var contentSelectors = []string{"article", "main", "body"}

// Author metadata sources in priority order.
var authorMetaSelectors = []string{
	`meta[name="author"]`,
	`meta[property="article:author"]`,
	`meta[property="og:article:author"]`,
	`meta[name="twitter:creator"]`,
}

var authorElementSelectors = []string{`[rel="author"]`, ".byline", ".author"}

// Article is the extraction result. Title and Author are empty when the page
// carries no usable metadata; that is not an error.
type Article struct {
	Text   string
	Title  string
	Author string
}

// CharacterCount returns the text length in characters, which is what the
// tier limits and the ETA model are measured in.
func (a Article) CharacterCount() int {
	return len([]rune(a.Text))
}

// Extractor strips boilerplate from raw HTML down to readable article text.
type Extractor struct {
	maxBytes  int
	minLength int
	log       *logrus.Entry
}

func New(maxBytes, minLength int, log *logrus.Entry) *Extractor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Extractor{maxBytes: maxBytes, minLength: minLength, log: log}
}

// Extract pulls article text plus title/author metadata out of html.
func (e *Extractor) Extract(html string) (Article, error) {
	if len(html) > e.maxBytes {
		e.log.WithFields(logrus.Fields{
			"event":      "article_extraction_too_large",
			"html_bytes": len(html),
			"max_bytes":  e.maxBytes,
		}).Warn("refusing oversized input")
		return Article{}, ErrTooLarge
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		e.log.WithField("event", "article_extraction_parse_error").WithError(err).Warn("HTML parse failed")
		return Article{}, ErrInsufficientContent
	}

	doc.Find(strings.Join(removeSelectors, ", ")).Remove()

	text := e.findContent(doc)
	if len([]rune(text)) < e.minLength {
		e.log.WithFields(logrus.Fields{
			"event":           "article_extraction_insufficient_content",
			"extracted_chars": len([]rune(text)),
			"min_required":    e.minLength,
		}).Warn("not enough content")
		return Article{}, ErrInsufficientContent
	}

	article := Article{
		Text:   text,
		Title:  extractTitle(doc),
		Author: extractAuthor(doc),
	}
	e.log.WithFields(logrus.Fields{
		"event":           "article_extraction_success",
		"extracted_chars": article.CharacterCount(),
	}).Info("extracted article")
	return article, nil
}

func (e *Extractor) findContent(doc *goquery.Document) string {
	for _, selector := range contentSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		text := normalizeWhitespace(sel.Text())
		if len([]rune(text)) >= e.minLength {
			return text
		}
	}
	return ""
}

func extractTitle(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func extractAuthor(doc *goquery.Document) string {
	for _, selector := range authorMetaSelectors {
		if content, ok := doc.Find(selector).First().Attr("content"); ok {
			if author := strings.TrimSpace(content); author != "" {
				return author
			}
		}
	}
	for _, selector := range authorElementSelectors {
		if author := strings.TrimSpace(doc.Find(selector).First().Text()); author != "" {
			return author
		}
	}
	return ""
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
