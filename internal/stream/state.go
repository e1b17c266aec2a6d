package stream

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidState is returned when an operation is called in the wrong state
var ErrInvalidState = errors.New("invalid session state")

// State is the lifecycle state of a streaming session
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateStreaming
	StateDraining
	StateClosed
)

// String returns the state name used in logs and errors
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions lists the legal successor states. Any live state may close.
var transitions = map[State][]State{
	StateDisconnected: {StateConnected, StateClosed},
	StateConnected:    {StateStreaming, StateClosed},
	StateStreaming:    {StateDraining, StateClosed},
	StateDraining:     {StateClosed},
}

// CanTransition reports whether to is a legal successor of s
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// stateMachine guards the session state
type stateMachine struct {
	state State
	mu    sync.RWMutex
}

func (m *stateMachine) current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// advance moves to the next state if the transition is legal
func (m *stateMachine) advance(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, m.state, to)
	}
	m.state = to
	return nil
}

// advanceFrom moves from one specific state to another
func (m *stateMachine) advanceFrom(from, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != from {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidState, from, m.state)
	}
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, from, to)
	}
	m.state = to
	return nil
}
