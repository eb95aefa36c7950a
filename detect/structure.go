package detect

import (
	"hash/fnv"
	"math/bits"
	"strings"

	"golang.org/x/net/html"
)

// shingleSize is the tag n-gram length fed into the fingerprint.
const shingleSize = 3

// FingerprintStructure computes a 64-bit SimHash over tag-name shingles.
// Text and attributes are ignored, so two renderings of the same block
// page template land within a few bits of each other.
func FingerprintStructure(doc string) uint64 {
	tags := startTags(doc)
	if len(tags) == 0 {
		return 0
	}
	tokens := tags
	if len(tags) >= shingleSize {
		tokens = make([]string, 0, len(tags)-shingleSize+1)
		for i := 0; i+shingleSize <= len(tags); i++ {
			tokens = append(tokens, strings.Join(tags[i:i+shingleSize], "_"))
		}
	}
	return simhash(tokens)
}

// Distance is the Hamming distance between two fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

func simhash(tokens []string) uint64 {
	var vector [64]int
	for _, tok := range tokens {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		for i := 0; i < 64; i++ {
			if sum&(1<<uint(i)) != 0 {
				vector[i]++
			} else {
				vector[i]--
			}
		}
	}
	var fp uint64
	for i, v := range vector {
		if v > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

func startTags(doc string) []string {
	z := html.NewTokenizer(strings.NewReader(doc))
	var tags []string
	for {
		switch z.Next() {
		case html.ErrorToken:
			return tags
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tags = append(tags, string(name))
		}
	}
}
