package worker

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotActive is returned by operations that need an active manager.
var ErrNotActive = errors.New("cache manager is not active")

// ErrInvalidTransition is returned when a lifecycle step is taken out of order.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// State is a lifecycle state of a CacheManager.
type State int

const (
	StateNew State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActive
	StateSuperseded
)

var stateNames = map[State]string{
	StateNew:        "new",
	StateInstalling: "installing",
	StateInstalled:  "installed",
	StateActivating: "activating",
	StateActive:     "active",
	StateSuperseded: "superseded",
}

// String returns the name of the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// transitions lists the allowed successor states.
var transitions = map[State][]State{
	StateNew:        {StateInstalling},
	StateInstalling: {StateInstalled, StateNew},
	StateInstalled:  {StateActivating, StateSuperseded},
	StateActivating: {StateActive, StateInstalled},
	StateActive:     {StateSuperseded},
}

// Lifecycle is the explicit install/activate state machine. It is safe
// for concurrent use.
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Transition moves to next if it is an allowed successor of the current state.
func (l *Lifecycle) Transition(next State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, allowed := range transitions[l.state] {
		if allowed == next {
			l.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, next)
}
