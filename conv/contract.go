//go:generate mockgen -destination=mock_contract_test.go -package=conv -source=contract.go
package conv

import (
	"context"

	"github.com/pelocaramelo/messaging/model"
	"github.com/pelocaramelo/messaging/ws"
)

// API is the message persistence surface the conversation depends on.
type API interface {
	Messages(ctx context.Context, conversationID string) ([]model.Message, error)
	Send(ctx context.Context, conversationID, body string) (*model.Message, error)
	Unread(ctx context.Context) ([]string, error)
	MarkRead(ctx context.Context, conversationID string) (int, error)
}

// Transport is the push channel surface the conversation depends on.
type Transport interface {
	Join(conversationID string, events chan<- ws.Event)
	Leave(conversationID string)
	Joined(conversationID string) bool
	SendDelivered(conversationID, messageID string) error
	SendRead(conversationID string) error
}
