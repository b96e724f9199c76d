package pipeline

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned by Apply for an edge the state machine
// does not have.
var ErrInvalidTransition = errors.New("pipeline: invalid transition")

// State is the phase a session's pipeline is in.
type State string

const (
	Initialized       State = "initialized"
	Planning          State = "planning"
	Discovering       State = "discovering"
	AwaitingSelection State = "awaiting-selection"
	Analyzing         State = "analyzing"
	Reporting         State = "reporting"
	Complete          State = "complete"
)

// edges lists the forward transitions. Analyzing is re-entered by a resume
// from awaiting-selection, from a completed run, or from a freshly opened
// handle for an identifier the caller echoed back. Initialized is re-entered
// when a new submission restarts a parked or finished session.
var edges = map[State][]State{
	Initialized:       {Planning, Analyzing},
	Planning:          {Discovering},
	Discovering:       {AwaitingSelection, Analyzing},
	AwaitingSelection: {Analyzing, Initialized},
	Analyzing:         {Reporting},
	Reporting:         {Complete},
	Complete:          {Analyzing, Initialized},
}

// CanTransition reports whether from -> to is an edge.
func CanTransition(from, to State) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Run is the state carried between phases and between requests on one
// session. Treat it as a value; Apply never mutates its input.
type Run struct {
	State    State    `json:"state"`
	RootPath string   `json:"rootPath,omitempty"`
	// Discovered is the module set found by the last discovery.
	Discovered []string `json:"discovered,omitempty"`
	// Selected is the module set being analyzed.
	Selected []string `json:"selected,omitempty"`
}

func NewRun() Run { return Run{State: Initialized} }

func (r Run) Clone() Run {
	r.Discovered = cloneStrings(r.Discovered)
	r.Selected = cloneStrings(r.Selected)
	return r
}

// Patch is a requested change. Zero fields leave the run untouched.
type Patch struct {
	To         State
	RootPath   string
	Discovered []string
	Selected   []string
}

// Apply returns old with p applied. A patch without To only updates data.
func Apply(old Run, p Patch) (Run, error) {
	next := old.Clone()
	if p.To != "" {
		if !CanTransition(old.State, p.To) {
			return old, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, old.State, p.To)
		}
		next.State = p.To
		if p.To == Initialized {
			next.Selected = nil
		}
	}
	if p.RootPath != "" {
		next.RootPath = p.RootPath
	}
	if p.Discovered != nil {
		next.Discovered = cloneStrings(p.Discovered)
	}
	if p.Selected != nil {
		next.Selected = cloneStrings(p.Selected)
	}
	return next, nil
}

// Reset parks a run that ended in error back at Initialized, keeping what was
// learned about the source tree so a later resume can still use it.
func Reset(old Run) Run {
	next := old.Clone()
	next.State = Initialized
	next.Selected = nil
	return next
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append(make([]string, 0, len(in)), in...)
}
