package proxypool

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// Strategy selects among enabled endpoints.
type Strategy string

const (
	RoundRobin Strategy = "round_robin"
	LeastUsed  Strategy = "least_used"
	Random     Strategy = "random"
	Weighted   Strategy = "weighted"
)

// ParseStrategy maps a config string to a Strategy. Empty means RoundRobin.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return RoundRobin, nil
	case RoundRobin, LeastUsed, Random, Weighted:
		return st, nil
	default:
		return "", fmt.Errorf("proxypool: unknown strategy %q", s)
	}
}

// pick returns the index into enabled of the next endpoint. enabled is
// non-empty and in insertion order. Called with the pool lock held.
func (p *Pool) pick(enabled []*Endpoint) int {
	switch p.strategy {
	case LeastUsed:
		best := 0
		for i, e := range enabled[1:] {
			if e.TotalUses < enabled[best].TotalUses {
				best = i + 1
			}
		}
		return best
	case Random:
		return p.rnd.IntN(len(enabled))
	case Weighted:
		return pickWeighted(p.rnd, enabled)
	default:
		idx := int(p.cursor % uint64(len(enabled)))
		p.cursor++
		return idx
	}
}

func pickWeighted(rnd *rand.Rand, enabled []*Endpoint) int {
	total := 0
	for _, e := range enabled {
		total += e.weight()
	}
	n := rnd.IntN(total)
	for i, e := range enabled {
		n -= e.weight()
		if n < 0 {
			return i
		}
	}
	return len(enabled) - 1
}
