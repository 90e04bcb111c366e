package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Pipeline control commands accepted on the control queue.
const (
	CommandIngest = "ingest"
	CommandRun    = "run"
	CommandReset  = "reset"
)

// ControlMessage asks the worker to execute one pipeline command. The
// message carries no payload; all parameters come from the worker's own
// configuration so a queued command cannot override operator settings.
type ControlMessage struct {
	Command     string    `json:"command"`
	RequestedBy string    `json:"requested_by,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewControlMessage creates a control message for the given command.
func NewControlMessage(command, requestedBy string) *ControlMessage {
	return &ControlMessage{
		Command:     command,
		RequestedBy: requestedBy,
		Timestamp:   time.Now(),
	}
}

// Validate checks the command is one the worker knows.
func (m *ControlMessage) Validate() error {
	switch m.Command {
	case CommandIngest, CommandRun, CommandReset:
		return nil
	}
	return fmt.Errorf("unknown pipeline command %q", m.Command)
}

// ToJSON converts the message to JSON bytes
func (m *ControlMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ControlMessageFromJSON creates a message from JSON bytes
func ControlMessageFromJSON(data []byte) (*ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
