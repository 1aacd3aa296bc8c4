package ws

import (
	"time"

	"github.com/pelocaramelo/messaging/model"
)

// Push channel event names, shared with the server.
const (
	EvtJoin      = "join:conversation"
	EvtJoined    = "joined:conversation"
	EvtJoinError = "join:conversation:error"
	EvtLeave     = "leave:conversation"
	EvtMessage   = "message:new"
	EvtDelivered = "message:delivered"
	EvtRead      = "message:read"
)

// Frame is one JSON text frame on the push channel, in either direction.
// Event selects which of the remaining fields are meaningful.
type Frame struct {
	Event          string         `json:"event"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Error          string         `json:"error,omitempty"`
	Message        *model.Message `json:"message,omitempty"`
	MessageID      string         `json:"message_id,omitempty"`
	ByUserID       string         `json:"by_user_id,omitempty"`
	At             *time.Time     `json:"at,omitempty"`
	Updated        int            `json:"updated,omitempty"`
}

// EventKind classifies what the coordinator forwards to a conversation.
type EventKind int

const (
	// EventJoined: the join request was accepted, push is now authoritative.
	EventJoined EventKind = iota
	// EventJoinDenied: authorization failure, fallback polling stays active.
	EventJoinDenied
	// EventDown: the push path was lost, fallback polling must re-arm.
	EventDown
	// EventMessage: a pushed message.
	EventMessage
	// EventAck: a pushed delivered/read acknowledgement.
	EventAck
)

// Event is what the coordinator delivers into a conversation's inbox.
type Event struct {
	Kind    EventKind
	Message *model.Message
	Ack     *model.AckEvent
	Reason  string
}

func (f *Frame) ackEvent(kind model.AckKind) *model.AckEvent {
	at := time.Now()
	if f.At != nil {
		at = *f.At
	}
	return &model.AckEvent{
		ConversationID: f.ConversationID,
		MessageID:      f.MessageID,
		ByUserID:       f.ByUserID,
		Kind:           kind,
		At:             at,
		Updated:        f.Updated,
	}
}
