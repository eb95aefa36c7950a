package extract

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// minContentLength is the minimum normalized text length (in characters)
// a heuristic must produce to be accepted as the main text.
const minContentLength = 50

// Text sources recorded in DeepExtraction.TextSource.
const (
	SourceReadability = "readability"
	SourceDensest     = "densest_block"
	SourceBody        = "body"
)

// mainContent is the chosen readable region of a page.
type mainContent struct {
	text   string
	html   string
	source string
	title  string
	byline string
}

// findMainContent tries Mozilla Readability, then the densest-block scorer,
// then the whole body. The first candidate reaching minContentLength wins;
// the body is used even when it is shorter.
func findMainContent(rawHTML string, pageURL *url.URL, doc *goquery.Document) mainContent {
	article, err := readability.FromReader(strings.NewReader(rawHTML), pageURL)
	switch {
	case err != nil:
		slog.Debug("readability: extraction failed, trying densest block",
			"url", pageURL.String(), "error", err,
		)
	case len(NormalizeText(article.TextContent)) < minContentLength:
		slog.Debug("readability: extracted content too short, trying densest block",
			"url", pageURL.String(), "length", len(article.TextContent),
		)
	default:
		return mainContent{
			text:   NormalizeText(article.TextContent),
			html:   article.Content,
			source: SourceReadability,
			title:  article.Title,
			byline: article.Byline,
		}
	}

	if block := densestBlock(doc); block != nil {
		if text := visibleText(block); len(text) >= minContentLength {
			html, _ := goquery.OuterHtml(block)
			return mainContent{text: text, html: html, source: SourceDensest}
		}
	}

	body := doc.Find("body").First()
	html, _ := body.Html()
	return mainContent{text: visibleText(body), html: html, source: SourceBody}
}

// visibleText returns the normalized text of sel without script, style and
// noscript content.
func visibleText(sel *goquery.Selection) string {
	clone := sel.Clone()
	clone.Find("script, style, noscript, template").Remove()
	return NormalizeText(clone.Text())
}
