package session

import (
	"fmt"
	"sync/atomic"
)

// State is the lifecycle position of a session. Transitions are linear:
// Stopped -> Starting -> Running -> Stopping -> Stopped.
type State int32

// Session states.
const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// stateGuard serializes lifecycle calls with compare-and-swap.
type stateGuard struct {
	v atomic.Int32
}

func (g *stateGuard) load() State {
	return State(g.v.Load())
}

func (g *stateGuard) store(s State) {
	g.v.Store(int32(s))
}

func (g *stateGuard) transition(from, to State) bool {
	return g.v.CompareAndSwap(int32(from), int32(to))
}
