package controller

import (
	"time"

	"github.com/ldd69/anvil/pkg/runstate"
)

// State is a phase of the convergence loop.
type State string

const (
	StateBootstrap State = "BOOTSTRAP"
	StateTrain     State = "TRAIN"
	StateSample    State = "SAMPLE"
	StatePersist   State = "AGGREGATE_AND_PERSIST"
	StateCheck     State = "CHECK_CONVERGENCE"
	StateDone      State = "DONE"
)

// Invocation describes one call of an external executable.
type Invocation struct {
	Kind       string        `json:"kind"` // "train" or "sample"
	Executable string        `json:"executable"`
	Args       []string      `json:"args"`
	Index      int           `json:"index"` // 1-based within the phase
	Total      int           `json:"total"`
	Duration   time.Duration `json:"duration"`
}

// Iteration is a completed, persisted iteration.
type Iteration struct {
	Number    int                      `json:"number"` // 0 for the bootstrap
	Bootstrap bool                     `json:"bootstrap"`
	Record    runstate.IterationRecord `json:"record"`
	LRRows    int                      `json:"lr_rows"`
	Skipped   int                      `json:"skipped_lr_lines"`
}

// Observer receives loop events. Calls are made synchronously from the
// goroutine running the loop, so implementations must not block.
type Observer interface {
	StateChanged(state State, rs runstate.RunState)
	InvocationStarted(inv Invocation)
	InvocationFinished(inv Invocation, err error)
	IterationRecorded(it Iteration)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) StateChanged(State, runstate.RunState) {}
func (NopObserver) InvocationStarted(Invocation)          {}
func (NopObserver) InvocationFinished(Invocation, error)  {}
func (NopObserver) IterationRecorded(Iteration)           {}

var _ Observer = NopObserver{}

type observers []Observer

func (o observers) stateChanged(s State, rs runstate.RunState) {
	for _, ob := range o {
		ob.StateChanged(s, rs)
	}
}

func (o observers) invocationStarted(inv Invocation) {
	for _, ob := range o {
		ob.InvocationStarted(inv)
	}
}

func (o observers) invocationFinished(inv Invocation, err error) {
	for _, ob := range o {
		ob.InvocationFinished(inv, err)
	}
}

func (o observers) iterationRecorded(it Iteration) {
	for _, ob := range o {
		ob.IterationRecorded(it)
	}
}
