package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"paybell/internal/core"
)

var ErrEmptyMessage = errors.New("notification message has neither source_id nor text")

// NotificationMessage carries one host notification over the broker.
type NotificationMessage struct {
	ID       string    `json:"id"`
	SourceID string    `json:"source_id"`
	Text     string    `json:"text"`
	Kind     string    `json:"kind,omitempty"`
	PostedAt time.Time `json:"posted_at"`
}

// NewNotificationMessage wraps ev with a fresh id and timestamp.
func NewNotificationMessage(ev core.NotificationEvent) *NotificationMessage {
	return &NotificationMessage{
		ID:       uuid.NewString(),
		SourceID: ev.SourceID,
		Text:     ev.Text,
		Kind:     ev.Kind,
		PostedAt: time.Now(),
	}
}

// Event returns the notification the message carries.
func (m *NotificationMessage) Event() core.NotificationEvent {
	return core.NotificationEvent{SourceID: m.SourceID, Text: m.Text, Kind: m.Kind}
}

// ToJSON converts the message to JSON bytes
func (m *NotificationMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// NotificationMessageFromJSON decodes a message and rejects empty ones.
func NotificationMessageFromJSON(data []byte) (*NotificationMessage, error) {
	var msg NotificationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.SourceID == "" && msg.Text == "" {
		return nil, ErrEmptyMessage
	}
	return &msg, nil
}
