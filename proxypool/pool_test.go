package proxypool

import (
	"math"
	"math/rand/v2"
	"sync"
	"testing"
)

func mustParse(t *testing.T, specs ...string) []Endpoint {
	t.Helper()
	out := make([]Endpoint, 0, len(specs))
	for _, s := range specs {
		e, err := ParseEndpoint(s)
		if err != nil {
			t.Fatalf("ParseEndpoint(%q): %v", s, err)
		}
		out = append(out, e)
	}
	return out
}

func fixedRand() *rand.Rand {
	return rand.New(rand.NewPCG(42, 7))
}

func TestAcquire_EmptyPool(t *testing.T) {
	p := New(RoundRobin, 3, nil)
	if _, ok := p.Acquire(); ok {
		t.Fatal("Acquire on empty pool returned an endpoint")
	}
}

func TestAcquire_RoundRobinInsertionOrder(t *testing.T) {
	eps := mustParse(t, "10.0.0.1:8080", "10.0.0.2:8080", "10.0.0.3:8080")
	p := New(RoundRobin, 3, eps)

	for round := 0; round < 2; round++ {
		for i, want := range eps {
			got, ok := p.Acquire()
			if !ok {
				t.Fatalf("round %d call %d: no endpoint", round, i)
			}
			if got.ID() != want.ID() {
				t.Errorf("round %d call %d: got %s, want %s", round, i, got.ID(), want.ID())
			}
			p.Report(got.ID(), true)
		}
	}
}

func TestReport_DisablesAtThreshold(t *testing.T) {
	eps := mustParse(t, "10.0.0.1:8080", "10.0.0.2:8080")
	p := New(RoundRobin, 3, eps)
	bad := eps[0].ID()

	for i := 0; i < 2; i++ {
		p.Report(bad, false)
	}
	if e, _ := p.Get(bad); !e.Enabled {
		t.Fatal("endpoint disabled before reaching threshold")
	}
	p.Report(bad, false)
	if e, _ := p.Get(bad); e.Enabled {
		t.Fatal("endpoint still enabled after reaching threshold")
	}

	for i := 0; i < 10; i++ {
		got, ok := p.Acquire()
		if !ok {
			t.Fatal("Acquire returned nothing while one endpoint is enabled")
		}
		if got.ID() == bad {
			t.Fatalf("Acquire returned disabled endpoint %s", bad)
		}
	}

	if !p.SetEnabled(bad, true) {
		t.Fatal("SetEnabled on known id returned false")
	}
	seen := false
	for i := 0; i < 4; i++ {
		if got, _ := p.Acquire(); got.ID() == bad {
			seen = true
		}
	}
	if !seen {
		t.Error("re-enabled endpoint never selected")
	}
}

func TestReport_SuccessResetsFailures(t *testing.T) {
	eps := mustParse(t, "10.0.0.1:8080")
	p := New(RoundRobin, 5, eps)
	id := eps[0].ID()

	p.Report(id, false)
	p.Report(id, false)
	p.Report(id, true)

	e, _ := p.Get(id)
	if e.ConsecutiveFails != 0 {
		t.Errorf("ConsecutiveFails = %d, want 0", e.ConsecutiveFails)
	}
	if e.TotalUses != 3 {
		t.Errorf("TotalUses = %d, want 3", e.TotalUses)
	}
}

func TestReport_UnknownIDIsNoop(t *testing.T) {
	p := New(RoundRobin, 3, mustParse(t, "10.0.0.1:8080"))
	p.Report("192.168.1.1:3128", false)
	if s := p.Stats(); s.TotalUses != 0 || s.Enabled != 1 {
		t.Errorf("stats changed after unknown report: %+v", s)
	}
}

func TestAcquire_AllDisabled(t *testing.T) {
	eps := mustParse(t, "10.0.0.1:8080")
	p := New(RoundRobin, 1, eps)
	p.Report(eps[0].ID(), false)
	if _, ok := p.Acquire(); ok {
		t.Error("Acquire returned an endpoint while all are disabled")
	}
}

func TestAcquire_LeastUsed(t *testing.T) {
	eps := mustParse(t, "10.0.0.1:8080", "10.0.0.2:8080", "10.0.0.3:8080")
	p := New(LeastUsed, 10, eps)

	p.Report(eps[0].ID(), true)
	p.Report(eps[0].ID(), true)
	p.Report(eps[1].ID(), true)

	got, _ := p.Acquire()
	if got.ID() != eps[2].ID() {
		t.Errorf("LeastUsed picked %s, want %s", got.ID(), eps[2].ID())
	}

	p.Report(eps[2].ID(), true)
	// eps[1] and eps[2] now tie at one use; insertion order wins.
	got, _ = p.Acquire()
	if got.ID() != eps[1].ID() {
		t.Errorf("LeastUsed tie picked %s, want %s", got.ID(), eps[1].ID())
	}
}

func TestAcquire_WeightedDistribution(t *testing.T) {
	eps := mustParse(t, "10.0.0.1:8080", "10.0.0.2:8080")
	eps[0].Weight = 1
	eps[1].Weight = 3
	p := New(Weighted, 3, eps, WithRand(fixedRand()))

	const draws = 4000
	countB := 0
	for i := 0; i < draws; i++ {
		got, _ := p.Acquire()
		if got.ID() == eps[1].ID() {
			countB++
		}
	}
	ratio := float64(countB) / draws
	if math.Abs(ratio-0.75) > 0.03 {
		t.Errorf("endpoint B selected %.3f of draws, want about 0.75", ratio)
	}
}

func TestAcquire_RandomOnlyEnabled(t *testing.T) {
	eps := mustParse(t, "10.0.0.1:8080", "10.0.0.2:8080", "10.0.0.3:8080")
	p := New(Random, 3, eps, WithRand(fixedRand()))
	p.SetEnabled(eps[1].ID(), false)

	counts := map[string]int{}
	for i := 0; i < 300; i++ {
		got, _ := p.Acquire()
		counts[got.ID()]++
	}
	if counts[eps[1].ID()] != 0 {
		t.Errorf("disabled endpoint selected %d times", counts[eps[1].ID()])
	}
	if counts[eps[0].ID()] == 0 || counts[eps[2].ID()] == 0 {
		t.Errorf("random strategy starved an endpoint: %v", counts)
	}
}

func TestAddRemove(t *testing.T) {
	p := New(RoundRobin, 3, nil)
	e := mustParse(t, "10.0.0.1:8080")[0]

	if err := p.Add(e); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.Add(e); err != ErrDuplicate {
		t.Errorf("second Add error = %v, want ErrDuplicate", err)
	}
	p.Remove(e.ID())
	p.Remove(e.ID())
	if s := p.Stats(); s.Total != 0 {
		t.Errorf("Total = %d after remove, want 0", s.Total)
	}
}

func TestConcurrentAcquireReport(t *testing.T) {
	eps := mustParse(t, "10.0.0.1:8080", "10.0.0.2:8080", "10.0.0.3:8080")
	p := New(RoundRobin, 1000, eps)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if e, ok := p.Acquire(); ok {
					p.Report(e.ID(), i%2 == 0)
				}
				_ = p.Snapshot()
			}
		}()
	}
	wg.Wait()

	if s := p.Stats(); s.TotalUses != 800 {
		t.Errorf("TotalUses = %d, want 800", s.TotalUses)
	}
}

func TestObserverReceivesStats(t *testing.T) {
	var last Stats
	calls := 0
	eps := mustParse(t, "10.0.0.1:8080")
	p := New(RoundRobin, 1, eps, WithObserver(func(s Stats) {
		calls++
		last = s
	}))
	p.Report(eps[0].ID(), false)
	if calls != 1 || last.Enabled != 0 || last.Disabled() != 1 {
		t.Errorf("observer calls=%d last=%+v", calls, last)
	}
}
