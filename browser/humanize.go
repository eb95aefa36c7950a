package browser

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// step is one humanize action: a pointer glide, a scroll, then a pause.
type step struct {
	path   []proto.Point
	scroll float64
	pause  time.Duration
}

const (
	pathSteps  = 20
	scrollUnit = 100.0
	minPause   = 100 * time.Millisecond
	maxPause   = 400 * time.Millisecond
)

// humanPlan builds a randomized interaction sequence within the viewport.
// Scroll distances are multiples of scrollUnit between one and five units.
func humanPlan(rnd *rand.Rand, vp Viewport, n int) []step {
	from := proto.Point{X: float64(vp.Width) / 2, Y: float64(vp.Height) / 2}
	steps := make([]step, 0, n)
	for range n {
		to := proto.Point{
			X: 20 + rnd.Float64()*float64(vp.Width-40),
			Y: 20 + rnd.Float64()*float64(vp.Height-40),
		}
		ctrl := proto.Point{
			X: (from.X+to.X)/2 + (rnd.Float64()-0.5)*float64(vp.Width)/4,
			Y: (from.Y+to.Y)/2 + (rnd.Float64()-0.5)*float64(vp.Height)/4,
		}
		steps = append(steps, step{
			path:   bezier(from, ctrl, to, pathSteps),
			scroll: scrollUnit * float64(1+rnd.IntN(5)),
			pause:  minPause + time.Duration(rnd.Int64N(int64(maxPause-minPause))),
		})
		from = to
	}
	return steps
}

// bezier samples a quadratic curve from p0 to p2 bent towards p1.
// The last point is exactly p2.
func bezier(p0, p1, p2 proto.Point, n int) []proto.Point {
	pts := make([]proto.Point, n)
	for i := range n {
		t := float64(i+1) / float64(n)
		u := 1 - t
		pts[i] = proto.Point{
			X: math.Round(u*u*p0.X + 2*u*t*p1.X + t*t*p2.X),
			Y: math.Round(u*u*p0.Y + 2*u*t*p1.Y + t*t*p2.Y),
		}
	}
	return pts
}

// Humanize scrolls and moves the pointer for at most the configured budget.
// Errors are swallowed; this only ever improves a page, never fails it.
func (s *Session) Humanize(ctx context.Context) {
	if s.cfg.HumanizeBudget <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HumanizeBudget)
	defer cancel()

	p := s.page.Context(ctx)
	for _, st := range humanPlan(s.rnd, s.profile.Viewport, 4+s.rnd.IntN(4)) {
		for _, pt := range st.path {
			if err := p.Mouse.MoveTo(pt); err != nil {
				return
			}
			if !sleepCtx(ctx, 8*time.Millisecond) {
				return
			}
		}
		if err := p.Mouse.Scroll(0, st.scroll, 0); err != nil {
			return
		}
		if !sleepCtx(ctx, st.pause) {
			return
		}
	}
}

// sleepCtx waits d or until ctx is done, reporting whether d elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
