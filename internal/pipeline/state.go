package pipeline

import (
	"fmt"
	"strings"
)

// State is a source's position in the per-source state machine:
//
//	Pending → Fetching → Processing → (Uploading) → Done
//
// with Failed reachable from every non-terminal state.
type State int

const (
	Pending State = iota
	Fetching
	Processing
	Uploading
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Fetching:
		return "Fetching"
	case Processing:
		return "Processing"
	case Uploading:
		return "Uploading"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool { return s == Done || s == Failed }

// CanTransition reports whether s → to is a legal step.
func (s State) CanTransition(to State) bool {
	if s.Terminal() {
		return false
	}
	if to == Failed {
		return true
	}
	switch s {
	case Pending:
		return to == Fetching
	case Fetching:
		return to == Processing
	case Processing:
		return to == Uploading || to == Done
	case Uploading:
		return to == Done
	}
	return false
}

// Stage names the step a failure happened in.
type Stage int

const (
	StageFetch Stage = iota + 1
	StageProcess
	StageUpload
)

func (s Stage) String() string {
	switch s {
	case StageFetch:
		return "Fetch"
	case StageProcess:
		return "Process"
	case StageUpload:
		return "Upload"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Stage) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "fetch":
		*s = StageFetch
	case "process":
		*s = StageProcess
	case "upload":
		*s = StageUpload
	default:
		return fmt.Errorf("pipeline: unknown stage %q", b)
	}
	return nil
}

// tracker enforces the state machine for one source.
type tracker struct {
	state State
	// onChange is optional.
	onChange func(State)
}

func (t *tracker) to(next State) {
	if !t.state.CanTransition(next) {
		panic(fmt.Sprintf("pipeline: invalid transition %s -> %s", t.state, next))
	}
	t.state = next
	if t.onChange != nil {
		t.onChange(next)
	}
}
