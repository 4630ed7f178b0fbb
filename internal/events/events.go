// Package events carries the typed notifications shared by the autosave
// controller, the websocket hub, and the SSE stream.
package events

import (
	"encoding/json"
	"time"
)

// Type labels an event topic.
type Type string

const (
	TypeAutosaveStatus Type = "autosave:status"
	TypePostCreated    Type = "post:created"
	TypePostUpdated    Type = "post:updated"
	TypePostDeleted    Type = "post:deleted"
)

// Event is one notification. Data holds the JSON-encoded payload.
type Event struct {
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// New builds an event for the given type, encoding payload as JSON.
// Marshal failures yield a null payload rather than an error; events are
// advisory.
func New(eventType Type, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = json.RawMessage("null")
	}
	return Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
}
