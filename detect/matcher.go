package detect

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/use-agent/serpcrawl/models"
)

const defaultFingerprintDistance = 3

type compiledRules struct {
	html, title, url []string
	statuses         map[int]struct{}
	fingerprints     []uint64
}

// SignatureDetector matches pages against a SignatureSet. It is immutable
// and safe for concurrent use.
type SignatureDetector struct {
	common   compiledRules
	engines  map[models.Engine]compiledRules
	minBytes map[models.Engine]int
	distance int
}

// NewSignatureDetector compiles set. The set must already be validated, as
// ParseSignatures and DefaultSignatures do.
func NewSignatureDetector(set SignatureSet) *SignatureDetector {
	d := &SignatureDetector{
		common:   compile(set.Common),
		engines:  make(map[models.Engine]compiledRules, len(set.Engines)),
		minBytes: make(map[models.Engine]int, len(set.Engines)),
		distance: set.FingerprintDistance,
	}
	if d.distance <= 0 {
		d.distance = defaultFingerprintDistance
	}
	for engine, sigs := range set.Engines {
		d.engines[engine] = compile(sigs)
		if sigs.MinSERPBytes > 0 {
			d.minBytes[engine] = sigs.MinSERPBytes
		}
	}
	return d
}

func compile(s EngineSignatures) compiledRules {
	c := compiledRules{statuses: make(map[int]struct{}, len(s.Statuses))}
	for _, r := range s.Rules {
		p := strings.ToLower(r.Pattern)
		switch r.Field {
		case "title":
			c.title = append(c.title, p)
		case "url":
			c.url = append(c.url, p)
		default:
			c.html = append(c.html, p)
		}
	}
	for _, st := range s.Statuses {
		c.statuses[st] = struct{}{}
	}
	for _, fp := range s.Fingerprints {
		if v, err := parseFingerprint(fp); err == nil {
			c.fingerprints = append(c.fingerprints, v)
		}
	}
	return c
}

// Detect checks the engine's signatures, then the common ones.
func (d *SignatureDetector) Detect(engine models.Engine, page Page) (Verdict, bool) {
	lowered := loweredPage{
		html:  strings.ToLower(page.HTML),
		title: strings.ToLower(page.Title),
		url:   strings.ToLower(page.URL),
	}
	var structure uint64
	structureDone := false

	for _, rules := range []compiledRules{d.engines[engine], d.common} {
		if _, ok := rules.statuses[page.StatusCode]; ok && page.StatusCode != 0 {
			return Verdict{Reason: "status", Signature: strconv.Itoa(page.StatusCode)}, true
		}
		if p, ok := firstContained(lowered.url, rules.url); ok {
			return Verdict{Reason: "signature", Signature: p}, true
		}
		if p, ok := firstContained(lowered.title, rules.title); ok {
			return Verdict{Reason: "signature", Signature: p}, true
		}
		if p, ok := firstContained(lowered.html, rules.html); ok {
			return Verdict{Reason: "signature", Signature: p}, true
		}
		if len(rules.fingerprints) > 0 && page.HTML != "" {
			if !structureDone {
				structure = FingerprintStructure(page.HTML)
				structureDone = true
			}
			for _, fp := range rules.fingerprints {
				if Distance(structure, fp) <= d.distance {
					return Verdict{Reason: "structure", Signature: fmt.Sprintf("%016x", fp)}, true
				}
			}
		}
	}
	return Verdict{}, false
}

// EmptySERP classifies a results page that yielded no entries. Pages below
// the engine's minimum size are treated as blocked.
func (d *SignatureDetector) EmptySERP(engine models.Engine, htmlLen int) (Verdict, bool) {
	if minLen, ok := d.minBytes[engine]; ok && htmlLen < minLen {
		return Verdict{Reason: "page_too_small", Signature: strconv.Itoa(htmlLen)}, true
	}
	return Verdict{}, false
}

// MinSERPBytes returns the engine's minimum results page size, or 0.
func (d *SignatureDetector) MinSERPBytes(engine models.Engine) int {
	return d.minBytes[engine]
}

type loweredPage struct {
	html, title, url string
}

func firstContained(haystack string, needles []string) (string, bool) {
	if haystack == "" {
		return "", false
	}
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return n, true
		}
	}
	return "", false
}
