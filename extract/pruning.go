package extract

import (
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Signal weights for the block scorer.
const (
	wTextDensity   = 3.0
	wLinkDensity   = -2.0
	wTagWeight     = 1.5
	wClassIDWeight = 1.0
	wTextLength    = 0.5
)

// candidateSelector lists the elements considered as content containers.
const candidateSelector = "article, main, section, div, td"

var positiveClassIDPatterns = []string{
	"content", "article", "post", "entry", "body", "main", "text",
}

var negativeClassIDPatterns = []string{
	"sidebar", "widget", "nav", "menu", "comment", "footer",
	"header", "banner", "popup", "modal", "cookie", "social", "share",
	"related", "recommend", "promo",
}

// densestBlock returns the container with the highest content score, or
// nil when no container scores above zero.
func densestBlock(doc *goquery.Document) *goquery.Selection {
	var (
		best      *goquery.Selection
		bestScore = 0.0
	)
	doc.Find("body").Find(candidateSelector).Each(func(_ int, el *goquery.Selection) {
		if score := scoreElement(el); score > bestScore {
			best, bestScore = el, score
		}
	})
	return best
}

// scoreElement computes a weighted score for a DOM element from its text
// density, link density, tag, class/id hints and text length.
func scoreElement(el *goquery.Selection) float64 {
	fullHTML, err := goquery.OuterHtml(el)
	if err != nil {
		return 0
	}

	text := visibleText(el)
	textLen := len(text)
	totalLen := len(fullHTML)
	if textLen == 0 {
		return 0
	}

	textDensity := 0.0
	if totalLen > 0 {
		textDensity = float64(textLen) / float64(totalLen)
	}

	linkTextLen := 0
	el.Find("a").Each(func(_ int, a *goquery.Selection) {
		linkTextLen += len(NormalizeText(a.Text()))
	})
	linkDensity := float64(linkTextLen) / float64(textLen)

	return textDensity*wTextDensity +
		linkDensity*wLinkDensity +
		tagWeight(el)*wTagWeight +
		classIDWeight(el)*wClassIDWeight +
		math.Log10(float64(textLen)+1)*wTextLength
}

func tagWeight(el *goquery.Selection) float64 {
	switch goquery.NodeName(el) {
	case "article", "main":
		return 5.0
	case "section":
		return 2.0
	case "nav", "footer", "aside", "header":
		return -5.0
	default:
		return 0.0
	}
}

// classIDWeight counts at most one positive and one negative hint.
func classIDWeight(el *goquery.Selection) float64 {
	class, _ := el.Attr("class")
	id, _ := el.Attr("id")
	combined := strings.ToLower(class + " " + id)

	score := 0.0
	for _, pat := range positiveClassIDPatterns {
		if strings.Contains(combined, pat) {
			score += 3.0
			break
		}
	}
	for _, pat := range negativeClassIDPatterns {
		if strings.Contains(combined, pat) {
			score -= 3.0
			break
		}
	}
	return score
}
