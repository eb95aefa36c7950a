package extract

import (
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// newMarkdownConverter creates a reusable, goroutine-safe converter:
// base strips script/style/head noise, commonmark renders the rest and
// tables keep their structure with minimal cell padding.
func newMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(
				table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
			),
		),
	)
}

// newSanitizer keeps document structure and links but drops scripts,
// event handlers, forms and embeds before conversion.
func newSanitizer() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("p", "br", "h1", "h2", "h3", "h4", "h5", "h6", "strong", "em", "blockquote", "ul", "ol", "li", "table", "thead", "tbody", "tr", "th", "td", "pre", "code")
	return p
}

// toMarkdown sanitizes fragment and renders it as Markdown, resolving
// relative links against domain.
func (e *Extractor) toMarkdown(fragment, domain string) (string, error) {
	clean := e.sanitizer.Sanitize(fragment)
	return e.markdown.ConvertString(clean, converter.WithDomain(domain))
}
