package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/maauso/media-ingest-api/internal/asset"
)

// State is a stage of a single upload request.
type State string

const (
	StateStart         State = "START"
	StateConfigChecked State = "CONFIG_CHECKED"
	StateValidated     State = "VALIDATED"
	StateBuffered      State = "BUFFERED"
	StateUploaded      State = "UPLOADED"
	StatePersisted     State = "PERSISTED"
	StateDone          State = "DONE"
	StateFailed        State = "FAILED"
)

// ErrInvalidTransition is returned when a run skips or repeats a stage.
var ErrInvalidTransition = errors.New("ingest: invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[State][]State{
	StateStart:         {StateConfigChecked, StateFailed},
	StateConfigChecked: {StateValidated, StateFailed},
	StateValidated:     {StateBuffered, StateFailed},
	StateBuffered:      {StateUploaded, StateFailed},
	StateUploaded:      {StatePersisted, StateDone, StateFailed},
	StatePersisted:     {StateDone, StateFailed},
	StateDone:          {},
	StateFailed:        {},
}

// canTransition checks if a transition is valid for an upload of kind.
// Only video runs pass through PERSISTED.
func canTransition(kind asset.Kind, from, to State) bool {
	if from == StateUploaded && kind == asset.KindVideo && to == StateDone {
		return false
	}
	if to == StatePersisted && kind != asset.KindVideo {
		return false
	}
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// run tracks one request through the pipeline. A run is owned by the
// request goroutine and is not safe for concurrent use.
type run struct {
	id        string
	kind      asset.Kind
	state     State
	principal string
	startedAt time.Time
	err       *Error
}

func newRun(id string, kind asset.Kind) *run {
	return &run{
		id:        id,
		kind:      kind,
		state:     StateStart,
		startedAt: time.Now(),
	}
}

// advance moves the run to the next stage.
func (r *run) advance(to State) error {
	if !canTransition(r.kind, r.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state, to)
	}
	r.state = to
	return nil
}

// fail records err as the run's failure and moves it to FAILED. An err that
// is already an *Error keeps its kind.
func (r *run) fail(kind ErrorKind, err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		e = newError(kind, err)
	}
	if e.Stage == "" {
		e.Stage = r.state
	}
	r.state = StateFailed
	r.err = e
	return e
}
