// Package realtime maintains the live client connections on this
// process and fans plot-state updates out to every instance through a
// shared Redis channel.
package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the kind of realtime message.
type MessageType string

const (
	TypePing         MessageType = "ping"
	TypePong         MessageType = "pong"
	TypePlotUpdate   MessageType = "plot_update"
	TypeNotification MessageType = "notification"
)

// Envelope is the wire format for every realtime message.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope wraps a payload in an envelope stamped with the current
// time.
func NewEnvelope(t MessageType, data interface{}) (Envelope, error) {
	env := Envelope{Type: t, Timestamp: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", t, err)
		}
		env.Data = raw
	}
	return env, nil
}
