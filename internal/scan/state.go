package scan

import (
	"fmt"
	"log/slog"
)

// State is a document's position in the extraction pipeline.
type State string

const (
	StatePending          State = "pending"
	StateLoaded           State = "loaded"
	StatePagesExtracted   State = "pages_extracted"
	StateRecordsCollected State = "records_collected"
	StateMerged           State = "merged"
	StateDone             State = "done"
	StateFailed           State = "failed"
	StateSkipped          State = "skipped"
)

// transitions lists the forward edges. Failed is reachable from any
// non-terminal state and is handled separately.
var transitions = map[State]State{
	StatePending:          StateLoaded,
	StateLoaded:           StatePagesExtracted,
	StatePagesExtracted:   StateRecordsCollected,
	StateRecordsCollected: StateMerged,
	StateMerged:           StateDone,
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateSkipped
}

// docRun tracks one document through the pipeline.
type docRun struct {
	name   string
	state  State
	logger *slog.Logger
	notify func(string, State, State)
}

func newDocRun(name string, logger *slog.Logger, notify func(string, State, State)) *docRun {
	return &docRun{name: name, state: StatePending, logger: logger, notify: notify}
}

// advance moves to next, which must be the successor of the current state.
func (r *docRun) advance(next State) error {
	if transitions[r.state] != next {
		return fmt.Errorf("invalid transition %s -> %s", r.state, next)
	}
	r.set(next)
	return nil
}

// fail moves to Failed from any non-terminal state.
func (r *docRun) fail() {
	if r.state.Terminal() {
		return
	}
	r.set(StateFailed)
}

func (r *docRun) set(next State) {
	prev := r.state
	r.state = next
	r.logger.Debug("document state", "document", r.name, "from", prev, "to", next)
	if r.notify != nil {
		r.notify(r.name, prev, next)
	}
}
