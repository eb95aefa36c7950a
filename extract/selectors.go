package extract

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// CompileSelectors validates every selector up front so a bad job is
// rejected before a browser is launched.
func CompileSelectors(selectors map[string]string) (map[string]cascadia.Sel, error) {
	compiled := make(map[string]cascadia.Sel, len(selectors))
	for field, expr := range selectors {
		sel, err := cascadia.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("selector %q for field %q: %w", expr, field, err)
		}
		compiled[field] = sel
	}
	return compiled, nil
}

// Custom returns the normalized text of every node matching each field's
// selector, in document order. Fields with no match map to an empty slice.
func Custom(rawHTML string, selectors map[string]cascadia.Sel) (map[string][]string, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}

	out := make(map[string][]string, len(selectors))
	for field, sel := range selectors {
		values := []string{}
		for _, node := range cascadia.QueryAll(doc, sel) {
			if text := NormalizeText(nodeText(node)); text != "" {
				values = append(values, text)
			}
		}
		out[field] = values
	}
	return out, nil
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		case n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style"):
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
