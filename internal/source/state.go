package source

import "fmt"

// State is a state of the watch connection.
type State int

const (
	StateConnecting State = iota
	StateStreaming
	StateBackoff
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateStreaming:
		return "Streaming"
	case StateBackoff:
		return "Backoff"
	case StateTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Trigger is an event that moves the watch state machine.
type Trigger int

const (
	// TriggerConnected: the list succeeded and the watch was opened.
	TriggerConnected Trigger = iota
	// TriggerConnectFailed: the list or the watch request failed.
	TriggerConnectFailed
	// TriggerStreamEnded: the watch channel closed or delivered an error event.
	TriggerStreamEnded
	// TriggerDelayElapsed: the reconnect delay is over.
	TriggerDelayElapsed
	// TriggerShutdown: the context was cancelled.
	TriggerShutdown
)

func (t Trigger) String() string {
	switch t {
	case TriggerConnected:
		return "Connected"
	case TriggerConnectFailed:
		return "ConnectFailed"
	case TriggerStreamEnded:
		return "StreamEnded"
	case TriggerDelayElapsed:
		return "DelayElapsed"
	case TriggerShutdown:
		return "Shutdown"
	default:
		return fmt.Sprintf("Trigger(%d)", int(t))
	}
}

var transitions = map[State]map[Trigger]State{
	StateConnecting: {
		TriggerConnected:     StateStreaming,
		TriggerConnectFailed: StateBackoff,
		TriggerShutdown:      StateTerminated,
	},
	StateStreaming: {
		TriggerStreamEnded: StateBackoff,
		TriggerShutdown:    StateTerminated,
	},
	StateBackoff: {
		TriggerDelayElapsed: StateConnecting,
		TriggerShutdown:     StateTerminated,
	},
	StateTerminated: {
		TriggerShutdown: StateTerminated,
	},
}

// NextState returns the state reached from s on t, or an error if t is not valid in s.
func NextState(s State, t Trigger) (State, error) {
	next, ok := transitions[s][t]
	if !ok {
		return s, fmt.Errorf("invalid watch transition: %s on %s", s, t)
	}
	return next, nil
}
