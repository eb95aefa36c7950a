package detect

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/use-agent/serpcrawl/models"
	"gopkg.in/yaml.v3"
)

//go:embed signatures.yaml
var defaultSignaturesYAML []byte

// Rule is a case-insensitive substring match against one page field.
type Rule struct {
	// Field is "html" (default), "title" or "url".
	Field   string `yaml:"field,omitempty"`
	Pattern string `yaml:"pattern"`
}

// EngineSignatures is the block signature set of one engine.
type EngineSignatures struct {
	Rules    []Rule `yaml:"rules"`
	Statuses []int  `yaml:"statuses"`

	// Fingerprints are structure fingerprints of known block pages, as
	// produced by FingerprintStructure, in hex.
	Fingerprints []string `yaml:"fingerprints"`

	// MinSERPBytes classifies an empty results page smaller than this as
	// blocked. Zero disables the heuristic.
	MinSERPBytes int `yaml:"min_serp_bytes"`
}

// SignatureSet is the full, externally configurable signature file.
type SignatureSet struct {
	// FingerprintDistance is the maximum Hamming distance for a structure
	// match. Defaults to 3.
	FingerprintDistance int `yaml:"fingerprint_distance"`

	// Common applies to every engine.
	Common  EngineSignatures                   `yaml:"common"`
	Engines map[models.Engine]EngineSignatures `yaml:"engines"`
}

// DefaultSignatures returns the built-in signature set.
func DefaultSignatures() SignatureSet {
	set, err := ParseSignatures(defaultSignaturesYAML)
	if err != nil {
		panic(fmt.Sprintf("detect: embedded signatures: %v", err))
	}
	return set
}

// DefaultSignaturesYAML returns the built-in signature file, useful as a
// starting point for a custom one.
func DefaultSignaturesYAML() []byte {
	return append([]byte(nil), defaultSignaturesYAML...)
}

// ParseSignatures decodes a YAML signature file.
func ParseSignatures(data []byte) (SignatureSet, error) {
	var set SignatureSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return SignatureSet{}, fmt.Errorf("detect: parse signatures: %w", err)
	}
	for engine, sigs := range set.Engines {
		if _, err := models.ParseEngine(string(engine)); err != nil {
			return SignatureSet{}, fmt.Errorf("detect: signatures for %w", err)
		}
		if err := sigs.validate(); err != nil {
			return SignatureSet{}, fmt.Errorf("detect: %s: %w", engine, err)
		}
	}
	if err := set.Common.validate(); err != nil {
		return SignatureSet{}, fmt.Errorf("detect: common: %w", err)
	}
	return set, nil
}

// LoadSignatures reads a signature file. An empty path yields the
// built-in set.
func LoadSignatures(path string) (SignatureSet, error) {
	if path == "" {
		return DefaultSignatures(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return SignatureSet{}, fmt.Errorf("detect: read signatures: %w", err)
	}
	return ParseSignatures(data)
}

func (s EngineSignatures) validate() error {
	for _, r := range s.Rules {
		switch r.Field {
		case "", "html", "title", "url":
		default:
			return fmt.Errorf("rule %q: unknown field %q", r.Pattern, r.Field)
		}
		if strings.TrimSpace(r.Pattern) == "" {
			return fmt.Errorf("empty rule pattern")
		}
	}
	for _, fp := range s.Fingerprints {
		if _, err := parseFingerprint(fp); err != nil {
			return err
		}
	}
	return nil
}

func parseFingerprint(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("fingerprint %q: %w", s, err)
	}
	return v, nil
}
