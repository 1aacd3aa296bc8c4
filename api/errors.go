package api

import "fmt"

// FetchError reports a failed page or unread-set fetch. Only the very first
// load of a conversation surfaces it to the user; poll ticks swallow it.
type FetchError struct {
	ConversationID string
	Err            error
}

func (e *FetchError) Error() string {
	if e.ConversationID == "" {
		return fmt.Sprintf("fetch: %v", e.Err)
	}
	return fmt.Sprintf("fetch conversation %s: %v", e.ConversationID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SendError reports a failed message send. The optimistic entry is rolled
// back and the error is surfaced to the caller.
type SendError struct {
	ConversationID string
	Err            error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to conversation %s: %v", e.ConversationID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
