package crawl

import (
	"time"

	"github.com/use-agent/serpcrawl/models"
)

// State is a step of the per-job state machine.
type State string

const (
	StatePending    State = "pending"
	StateAcquiring  State = "acquiring"
	StateNavigating State = "navigating"
	StateExtracting State = "extracting"
	StateRetrying   State = "retrying"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether s ends the job.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Transition describes one state change of one job.
type Transition struct {
	JobID   string
	Engine  models.Engine
	From    State
	To      State
	Attempt int

	// Code is the error code behind a Retrying or Failed transition.
	Code string

	// Elapsed is the time spent in From.
	Elapsed time.Duration
}

// Observer receives every transition synchronously. Implementations must
// be fast and safe for concurrent use.
type Observer interface {
	OnTransition(Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Transition)

func (f ObserverFunc) OnTransition(t Transition) { f(t) }

// Observers fans a transition out to several observers.
type Observers []Observer

func (obs Observers) OnTransition(t Transition) {
	for _, o := range obs {
		if o != nil {
			o.OnTransition(t)
		}
	}
}
