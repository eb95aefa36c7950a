// Package detect decides whether a loaded page is a block or CAPTCHA
// challenge instead of real content. Signature sets are data, loaded from
// YAML, so they can follow search engines' changing block pages without
// touching the crawl state machine.
package detect

import (
	"fmt"

	"github.com/use-agent/serpcrawl/models"
)

// Page is what a detector sees of a loaded document.
type Page struct {
	URL        string
	Title      string
	HTML       string
	StatusCode int // 0 when unknown
}

// Verdict explains a positive detection.
type Verdict struct {
	// Reason is one of "status", "signature", "structure" or "page_too_small".
	Reason string
	// Signature is the matched pattern, status or fingerprint.
	Signature string
}

func (v Verdict) String() string {
	if v.Signature == "" {
		return v.Reason
	}
	return fmt.Sprintf("%s: %s", v.Reason, v.Signature)
}

// Detector is the pluggable block predicate.
type Detector interface {
	Detect(engine models.Engine, page Page) (Verdict, bool)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(engine models.Engine, page Page) (Verdict, bool)

func (f DetectorFunc) Detect(engine models.Engine, page Page) (Verdict, bool) {
	return f(engine, page)
}

// Chain returns a Detector reporting the first positive verdict of ds.
func Chain(ds ...Detector) Detector {
	return DetectorFunc(func(engine models.Engine, page Page) (Verdict, bool) {
		for _, d := range ds {
			if d == nil {
				continue
			}
			if v, ok := d.Detect(engine, page); ok {
				return v, true
			}
		}
		return Verdict{}, false
	})
}

// Never is a Detector that reports nothing.
var Never Detector = DetectorFunc(func(models.Engine, Page) (Verdict, bool) {
	return Verdict{}, false
})
