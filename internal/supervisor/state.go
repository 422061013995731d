package supervisor

import "time"

// State is the lifecycle of one miner slot.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateFailed   State = "failed"
)

// Transition is reported to the controller (and history) whenever a slot
// changes state.
type Transition struct {
	Slot     string    `json:"slot"`
	From     State     `json:"from"`
	To       State     `json:"to"`
	PID      int       `json:"pid,omitempty"`
	ExitCode int       `json:"exit_code,omitempty"`
	Err      string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// SlotStatus is a point-in-time snapshot for status reporting.
type SlotStatus struct {
	Name      string    `json:"name"`
	State     State     `json:"state"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	StoppedAt time.Time `json:"stopped_at,omitzero"`
	ExitCode  int       `json:"exit_code,omitempty"`
	Err       string    `json:"error,omitempty"`
}

// IntentType enumerates the commands a slot accepts. The per-slot queue is
// single-consumer; intents are applied strictly in emission order.
type IntentType int

const (
	IntentStart IntentType = iota
	IntentStop
)

// Intent is one queued command. Reply, when non-nil, receives the outcome.
type Intent struct {
	Type  IntentType
	Reply chan error
}
