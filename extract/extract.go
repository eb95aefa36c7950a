// Package extract turns loaded pages into structured results: search
// result sets, deep content extractions and custom selector matches.
package extract

import (
	"context"
	"encoding/json"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/microcosm-cc/bluemonday"
)

// Page is a loaded document that scripts can run against.
// browser.Session satisfies it.
type Page interface {
	Evaluate(ctx context.Context, script string) (json.RawMessage, error)
	HTML(ctx context.Context) (string, error)
}

// Extractor holds the reusable converters. It is safe for concurrent use.
type Extractor struct {
	markdown  *converter.Converter
	sanitizer *bluemonday.Policy
}

// New returns an Extractor.
func New() *Extractor {
	return &Extractor{
		markdown:  newMarkdownConverter(),
		sanitizer: newSanitizer(),
	}
}
