package model

import "time"

// AckKind is the kind of an acknowledgement event.
type AckKind string

const (
	AckDelivered AckKind = "delivered"
	AckRead      AckKind = "read"
)

// AckEvent is a delivered/read acknowledgement observed on the push channel.
// A `read` ack covers the whole conversation, so MessageID is empty for it.
type AckEvent struct {
	ConversationID string
	MessageID      string
	ByUserID       string
	Kind           AckKind
	At             time.Time
	Updated        int
}
