package model

import (
	"strings"
	"time"

	"github.com/pborman/uuid"
)

// Status values for messages authored by the local user. Messages from the
// counterpart carry no status: receipt is implicit.
const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// TempIDPrefix marks a locally generated message id that has not been
// confirmed by the server yet.
const TempIDPrefix = "temp-"

// Message is one chat message of a reservation conversation.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	ReceiverID     string     `json:"receiver_id,omitempty"`
	Body           string     `json:"message"`
	CreatedAt      time.Time  `json:"created_at"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	Status         string     `json:"status,omitempty"`
}

// NewTempID returns a fresh temporary message id.
func NewTempID() string {
	return TempIDPrefix + strings.ReplaceAll(uuid.New(), "-", "")
}

// IsTemp reports whether the message is a local optimistic entry.
func (m *Message) IsTemp() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// EffectiveStatus resolves the status of a confirmed message, deriving it
// from the ack timestamps when the server did not populate `status`.
func (m *Message) EffectiveStatus() string {
	if m.Status != "" {
		return m.Status
	}
	if m.ReadAt != nil {
		return StatusRead
	}
	if m.DeliveredAt != nil {
		return StatusDelivered
	}
	return StatusSent
}

// StatusRank orders statuses so that upgrades never go backwards:
// sending < sent < delivered < read.
func StatusRank(status string) int {
	switch status {
	case StatusSending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 1
}
