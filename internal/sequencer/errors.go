package sequencer

import (
	"errors"
	"strings"
)

// ErrInvalidState is returned by Step before any scene has been started,
// and after a scene ran out without looping.
var ErrInvalidState = errors.New("no active scene")

// CueCycleError reports a chain of cues that leads back into a scene already
// entered during the same operation.
type CueCycleError struct {
	Chain []string
}

func (e *CueCycleError) Error() string {
	return "cue cycle: " + strings.Join(e.Chain, " -> ")
}
