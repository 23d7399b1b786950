package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcdev12/quizlive/go/internal/countdown"
	"github.com/mcdev12/quizlive/go/internal/models"
	"github.com/mcdev12/quizlive/go/internal/room"
)

// MessageType is the type tag of a websocket message
type MessageType string

const (
	MessageTypeRoster    MessageType = "roster"
	MessageTypeStatus    MessageType = "status"
	MessageTypeNavigate  MessageType = "navigate"
	MessageTypeCountdown MessageType = "countdown"
	MessageTypeError     MessageType = "error"

	// client to server
	MessageTypeLeave MessageType = "leave"
)

// Message is the envelope of every websocket frame
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StatusPayload accompanies a status message
type StatusPayload struct {
	Status models.SessionStatus `json:"status"`
}

// NavigatePayload tells the client where to go next
type NavigatePayload struct {
	room.Navigation
	URL string `json:"url"`
}

// CountdownPayload carries the broadcast start time plus the configured length
type CountdownPayload struct {
	countdown.Event
	Seconds int `json:"seconds,omitempty"`
}

// ErrorPayload describes a failure the client should surface
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewMessage wraps payload in an envelope
func NewMessage(t MessageType, payload interface{}) (*Message, error) {
	msg := &Message{Type: t, Timestamp: time.Now().UTC()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
		}
		msg.Data = data
	}
	return msg, nil
}

// ParseClientMessage decodes a frame sent by the browser
func ParseClientMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid client message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("invalid client message: missing type")
	}
	return &msg, nil
}
