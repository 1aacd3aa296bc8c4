package conv

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/pelocaramelo/messaging/unread"
)

// tracker decides when delivered/read acknowledgements are emitted and keeps
// the process-wide unread set fresh. All methods run on the conversation
// goroutine; the actual network calls happen in short-lived goroutines whose
// failures are swallowed — the next trigger retries naturally.
type tracker struct {
	conversationID string
	api            API
	transport      Transport
	bus            *unread.Bus
	debounce       time.Duration
	lastRead       time.Time
}

// delivered emits a delivered acknowledgement for one incoming message.
// Only meaningful while joined: in poll-only mode there is no live channel
// to acknowledge on.
func (t *tracker) delivered(messageID string) {
	if !t.transport.Joined(t.conversationID) {
		return
	}
	if err := t.transport.SendDelivered(t.conversationID, messageID); err != nil {
		glog.V(5).Infof("receipt: delivered ack error, conversation: %s, err: %v", t.conversationID, err)
	}
}

// markRead acknowledges the whole conversation as read. Repeated calls are
// harmless server-side but are guarded by the debounce window so scroll
// ticks do not flood the API.
func (t *tracker) markRead(ctx context.Context) {
	now := time.Now()
	if now.Sub(t.lastRead) < t.debounce {
		return
	}
	t.lastRead = now

	go func() {
		if _, err := t.api.MarkRead(ctx, t.conversationID); err != nil {
			glog.V(5).Infof("receipt: mark read error, conversation: %s, err: %v", t.conversationID, err)
			return
		}
		if err := t.transport.SendRead(t.conversationID); err != nil {
			glog.V(5).Infof("receipt: read ack error, conversation: %s, err: %v", t.conversationID, err)
		}
		t.refreshUnread(ctx)
	}()
}

// refreshUnread re-queries the unread set and publishes it on the bus.
func (t *tracker) refreshUnread(ctx context.Context) {
	if t.bus == nil {
		return
	}
	go func() {
		ids, err := t.api.Unread(ctx)
		if err != nil {
			glog.V(5).Infof("receipt: unread query error: %v", err)
			return
		}
		t.bus.Publish(ids)
	}()
}
