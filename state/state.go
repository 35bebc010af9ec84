package state

import (
	"errors"
	"fmt"
	"sync"
)

// ConnectionState is where a launcher stands with respect to the backend.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	ConnectedToBackend
	JoiningRoom
	InRoom
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case ConnectedToBackend:
		return "connected_to_backend"
	case JoiningRoom:
		return "joining_room"
	case InRoom:
		return "in_room"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Connected reports whether the backend handshake has completed.
func (s ConnectionState) Connected() bool {
	return s >= ConnectedToBackend
}

// Pending reports whether a request is outstanding in this state.
func (s ConnectionState) Pending() bool {
	return s == Connecting || s == JoiningRoom
}

// 状态机接口
type StateMachine interface {
	ChangeState(state ConnectionState) error
	GetCurrentState() ConnectionState
	AddTransition(from ConnectionState, to ConnectionState, condition func() bool) error
}

// ErrTransitionNotAllowed is returned when a state transition is not allowed.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// TransitionFunc observes a completed transition.
type TransitionFunc func(from, to ConnectionState)

// 基础状态机实现
type BaseStateMachine struct {
	currentState ConnectionState
	transitions  map[ConnectionState]map[ConnectionState]func() bool // fromState -> toState -> condition
	observers    []TransitionFunc
	mutex        sync.RWMutex
}

func NewBaseStateMachine(initialState ConnectionState) *BaseStateMachine {
	return &BaseStateMachine{
		currentState: initialState,
		transitions:  make(map[ConnectionState]map[ConnectionState]func() bool),
	}
}

// NewConnectionStateMachine returns a machine starting at Disconnected with
// the connect, join, rejoin and leave edges registered. Disconnected is
// reachable from every state without registration.
func NewConnectionStateMachine() *BaseStateMachine {
	sm := NewBaseStateMachine(Disconnected)
	sm.AddTransition(Disconnected, Connecting, nil)
	sm.AddTransition(Connecting, ConnectedToBackend, nil)
	sm.AddTransition(ConnectedToBackend, JoiningRoom, nil)
	sm.AddTransition(JoiningRoom, InRoom, nil)
	sm.AddTransition(InRoom, JoiningRoom, nil)
	sm.AddTransition(InRoom, ConnectedToBackend, nil)
	return sm
}

// ChangeState moves to newState if the edge is registered and its condition
// holds. Staying in the current state is always allowed and notifies nobody.
func (sm *BaseStateMachine) ChangeState(newState ConnectionState) error {
	sm.mutex.Lock()
	from := sm.currentState
	if from == newState {
		sm.mutex.Unlock()
		return nil
	}

	if newState != Disconnected {
		conditions, exists := sm.transitions[from]
		if !exists {
			sm.mutex.Unlock()
			return fmt.Errorf("%w: %s -> %s", ErrTransitionNotAllowed, from, newState)
		}
		condition, exists := conditions[newState]
		if !exists || (condition != nil && !condition()) {
			sm.mutex.Unlock()
			return fmt.Errorf("%w: %s -> %s", ErrTransitionNotAllowed, from, newState)
		}
	}

	sm.currentState = newState
	observers := sm.observers
	sm.mutex.Unlock()

	sm.notify(observers, from, newState)
	return nil
}

// SetState moves to newState unconditionally.
func (sm *BaseStateMachine) SetState(newState ConnectionState) {
	sm.mutex.Lock()
	from := sm.currentState
	sm.currentState = newState
	observers := sm.observers
	sm.mutex.Unlock()

	if from != newState {
		sm.notify(observers, from, newState)
	}
}

func (sm *BaseStateMachine) GetCurrentState() ConnectionState {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.currentState
}

func (sm *BaseStateMachine) AddTransition(from ConnectionState, to ConnectionState, condition func() bool) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if _, exists := sm.transitions[from]; !exists {
		sm.transitions[from] = make(map[ConnectionState]func() bool)
	}

	sm.transitions[from][to] = condition
	return nil
}

// OnTransition registers fn to run after every state change.
func (sm *BaseStateMachine) OnTransition(fn TransitionFunc) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.observers = append(sm.observers, fn)
}

func (sm *BaseStateMachine) notify(observers []TransitionFunc, from, to ConnectionState) {
	for _, fn := range observers {
		fn(from, to)
	}
}
