// Package downstream manages one conversation with one downstream MCP tool
// server: process or HTTP transport, handshake, tool discovery, invocation
// and teardown.
package downstream

import "sync"

// State is the connection lifecycle state.
type State int

const (
	StateCreated State = iota
	StateStarting
	StateConnected
	StateRefreshing
	StateDisconnected
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateConnected:
		return "connected"
	case StateRefreshing:
		return "refreshing"
	case StateDisconnected:
		return "disconnected"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// validTransitions encodes the state machine. Stopped is terminal; any
// non-terminal state may fall to disconnected on error.
var validTransitions = map[State][]State{
	StateCreated:      {StateStarting, StateDisconnected, StateStopping},
	StateStarting:     {StateConnected, StateDisconnected, StateStopping},
	StateConnected:    {StateRefreshing, StateDisconnected, StateStopping},
	StateRefreshing:   {StateConnected, StateDisconnected, StateStopping},
	StateDisconnected: {StateStarting, StateStopping},
	StateStopping:     {StateStopped},
	StateStopped:      {},
}

// stateMachine guards transitions and notifies a single listener.
type stateMachine struct {
	mu       sync.RWMutex
	state    State
	onChange func(from, to State)
}

func newStateMachine(onChange func(from, to State)) *stateMachine {
	return &stateMachine{state: StateCreated, onChange: onChange}
}

func (m *stateMachine) current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// transition moves to next if the edge exists; it reports whether the move
// happened.
func (m *stateMachine) transition(next State) bool {
	m.mu.Lock()
	from := m.state
	allowed := false
	for _, s := range validTransitions[from] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		m.mu.Unlock()
		return false
	}
	m.state = next
	onChange := m.onChange
	m.mu.Unlock()

	if onChange != nil {
		onChange(from, next)
	}
	return true
}
