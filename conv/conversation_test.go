package conv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelocaramelo/messaging/auth"
	"github.com/pelocaramelo/messaging/model"
	"github.com/pelocaramelo/messaging/unread"
	"github.com/pelocaramelo/messaging/ws"
)

var base = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func msgFrom(id, sender string, offset time.Duration) model.Message {
	return model.Message{
		ID:             id,
		ConversationID: "resv-1",
		SenderID:       sender,
		Body:           "m-" + id,
		CreatedAt:      base.Add(offset),
	}
}

type fixture struct {
	api       *MockAPI
	transport *MockTransport
	bus       *unread.Bus
	signals   chan Signal
	joins     chan chan<- ws.Event
}

func newFixture(t *testing.T) *fixture {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	return &fixture{
		api:       NewMockAPI(ctrl),
		transport: NewMockTransport(ctrl),
		bus:       unread.NewBus("alice"),
		signals:   make(chan Signal, 64),
		joins:     make(chan chan<- ws.Event, 4),
	}
}

// allowReceipts wires the read/unread side effects every live conversation
// produces; individual tests override what they assert on.
func (fx *fixture) allowReceipts() {
	fx.api.EXPECT().MarkRead(gomock.Any(), "resv-1").Return(0, nil).AnyTimes()
	fx.api.EXPECT().Unread(gomock.Any()).Return([]string{}, nil).AnyTimes()
	fx.transport.EXPECT().SendRead("resv-1").Return(nil).AnyTimes()
}

func (fx *fixture) captureJoins() {
	fx.transport.EXPECT().Join("resv-1", gomock.Any()).
		Do(func(_ string, events chan<- ws.Event) { fx.joins <- events }).
		AnyTimes()
	fx.transport.EXPECT().Leave("resv-1").AnyTimes()
}

func (fx *fixture) open(t *testing.T, perm model.Permission) *Conversation {
	t.Helper()
	c := Open(context.Background(), Config{
		ConversationID: "resv-1",
		Identity:       &auth.Static{ID: "alice", Bearer: "tok"},
		API:            fx.api,
		Transport:      fx.transport,
		Bus:            fx.bus,
		Permission:     perm,
		PollInterval:   time.Hour,
		ReadDebounce:   time.Millisecond,
		Signals:        fx.signals,
	})
	t.Cleanup(c.Close)
	return c
}

func (fx *fixture) pushEvents(t *testing.T) chan<- ws.Event {
	t.Helper()
	select {
	case events := <-fx.joins:
		return events
	case <-time.After(2 * time.Second):
		t.Fatal("the conversation never joined")
		return nil
	}
}

func waitSignal(t *testing.T, ch <-chan Signal, kind SignalKind) Signal {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-ch:
			if s.Kind == kind {
				return s
			}
		case <-deadline:
			t.Fatalf("signal %d never arrived", kind)
		}
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func snapshotIDs(c *Conversation) []string {
	msgs := c.Snapshot()
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestOptimisticSendConfirms(t *testing.T) {
	fx := newFixture(t)
	fx.allowReceipts()
	fx.captureJoins()
	fx.transport.EXPECT().Joined("resv-1").Return(false).AnyTimes()

	fx.api.EXPECT().Messages(gomock.Any(), "resv-1").
		Return([]model.Message{msgFrom("1", "bob", 0)}, nil).AnyTimes()

	confirmed := msgFrom("42", "alice", time.Minute)
	fx.api.EXPECT().Send(gomock.Any(), "resv-1", "hola bob").Return(&confirmed, nil)

	c := fx.open(t, model.PermReadWrite)
	waitSignal(t, fx.signals, SignalLoaded)

	require.NoError(t, c.Send(context.Background(), "  hola bob  "))

	assert.Equal(t, []string{"1", "42"}, snapshotIDs(c))
	last := c.Snapshot()[1]
	assert.False(t, last.IsTemp())
	assert.Equal(t, model.StatusSent, last.EffectiveStatus())
}

func TestSendValidation(t *testing.T) {
	fx := newFixture(t)
	fx.allowReceipts()
	fx.captureJoins()
	fx.transport.EXPECT().Joined("resv-1").Return(false).AnyTimes()
	fx.api.EXPECT().Messages(gomock.Any(), "resv-1").Return(nil, nil).AnyTimes()

	c := fx.open(t, model.PermReadWrite)
	waitSignal(t, fx.signals, SignalLoaded)

	assert.ErrorIs(t, c.Send(context.Background(), "   "), ErrEmptyMessage)
	assert.Empty(t, c.Snapshot())
}

func TestSendFailureRollsBack(t *testing.T) {
	fx := newFixture(t)
	fx.allowReceipts()
	fx.captureJoins()
	fx.transport.EXPECT().Joined("resv-1").Return(false).AnyTimes()

	fx.api.EXPECT().Messages(gomock.Any(), "resv-1").
		Return([]model.Message{msgFrom("1", "bob", 0)}, nil).AnyTimes()

	boom := errors.New("backend rejected the message")
	fx.api.EXPECT().Send(gomock.Any(), "resv-1", "hola").Return(nil, boom)

	c := fx.open(t, model.PermReadWrite)
	waitSignal(t, fx.signals, SignalLoaded)

	err := c.Send(context.Background(), "hola")
	assert.ErrorIs(t, err, boom)

	// The optimistic entry is gone; no failed message lingers.
	assert.Equal(t, []string{"1"}, snapshotIDs(c))
}

func TestCounterpartPushIsAckedAndAutoRead(t *testing.T) {
	fx := newFixture(t)
	fx.captureJoins()
	fx.transport.EXPECT().Joined("resv-1").Return(true).AnyTimes()
	fx.api.EXPECT().Messages(gomock.Any(), "resv-1").Return(nil, nil).AnyTimes()

	delivered := make(chan string, 4)
	fx.transport.EXPECT().SendDelivered("resv-1", "7").
		DoAndReturn(func(_, messageID string) error {
			delivered <- messageID
			return nil
		})

	reads := make(chan struct{}, 8)
	fx.api.EXPECT().MarkRead(gomock.Any(), "resv-1").
		DoAndReturn(func(context.Context, string) (int, error) {
			reads <- struct{}{}
			return 1, nil
		}).AnyTimes()
	fx.api.EXPECT().Unread(gomock.Any()).Return([]string{}, nil).AnyTimes()
	fx.transport.EXPECT().SendRead("resv-1").Return(nil).AnyTimes()

	c := fx.open(t, model.PermReadWrite)
	events := fx.pushEvents(t)
	waitSignal(t, fx.signals, SignalLoaded)
	<-reads // read emitted on open

	incoming := msgFrom("7", "bob", time.Minute)
	events <- ws.Event{Kind: ws.EventMessage, Message: &incoming}

	s := waitSignal(t, fx.signals, SignalNewMessage)
	assert.Equal(t, "7", s.MessageID)
	assert.Equal(t, "7", <-delivered)

	// Fully visible view: the message is read automatically.
	select {
	case <-reads:
	case <-time.After(2 * time.Second):
		t.Fatal("no read acknowledgement for the incoming message")
	}
	assert.Equal(t, []string{"7"}, snapshotIDs(c))
}

func TestHiddenTabSkipsAutoRead(t *testing.T) {
	fx := newFixture(t)
	fx.captureJoins()
	fx.transport.EXPECT().Joined("resv-1").Return(true).AnyTimes()
	fx.api.EXPECT().Messages(gomock.Any(), "resv-1").Return(nil, nil).AnyTimes()
	fx.transport.EXPECT().SendDelivered("resv-1", "7").Return(nil)

	reads := make(chan struct{}, 8)
	fx.api.EXPECT().MarkRead(gomock.Any(), "resv-1").
		DoAndReturn(func(context.Context, string) (int, error) {
			reads <- struct{}{}
			return 1, nil
		}).AnyTimes()
	unreads := make(chan struct{}, 8)
	fx.api.EXPECT().Unread(gomock.Any()).
		DoAndReturn(func(context.Context) ([]string, error) {
			unreads <- struct{}{}
			return []string{"resv-1"}, nil
		}).AnyTimes()
	fx.transport.EXPECT().SendRead("resv-1").Return(nil).AnyTimes()

	c := fx.open(t, model.PermReadWrite)
	events := fx.pushEvents(t)
	waitSignal(t, fx.signals, SignalLoaded)
	<-reads // read emitted on open

	c.SetTabVisible(false)
	incoming := msgFrom("7", "bob", time.Minute)
	events <- ws.Event{Kind: ws.EventMessage, Message: &incoming}

	// Delivery is still acknowledged, but the message stays unread and the
	// unread set is refreshed instead.
	waitSignal(t, fx.signals, SignalNewWhileAway)
	select {
	case <-unreads:
	case <-time.After(2 * time.Second):
		t.Fatal("unread set was not refreshed")
	}
	select {
	case <-reads:
		t.Fatal("hidden tab must not auto-read")
	case <-time.After(100 * time.Millisecond):
	}

	// Coming back to the foreground reads it.
	c.SetTabVisible(true)
	select {
	case <-reads:
	case <-time.After(2 * time.Second):
		t.Fatal("regained visibility did not trigger a read")
	}
}

func TestAckUpgradesOwnMessages(t *testing.T) {
	fx := newFixture(t)
	fx.allowReceipts()
	fx.captureJoins()
	fx.transport.EXPECT().Joined("resv-1").Return(true).AnyTimes()

	mine := msgFrom("42", "alice", 0)
	fx.api.EXPECT().Messages(gomock.Any(), "resv-1").
		Return([]model.Message{mine}, nil).AnyTimes()

	c := fx.open(t, model.PermReadWrite)
	events := fx.pushEvents(t)
	waitSignal(t, fx.signals, SignalLoaded)

	at := base.Add(time.Minute)
	events <- ws.Event{Kind: ws.EventAck, Ack: &model.AckEvent{
		ConversationID: "resv-1",
		ByUserID:       "bob",
		Kind:           model.AckRead,
		At:             at,
	}}

	eventually(t, func() bool {
		msgs := c.Snapshot()
		return len(msgs) == 1 && msgs[0].EffectiveStatus() == model.StatusRead
	}, "own message was never upgraded to read")
}

func TestJoinDeniedKeepsPolling(t *testing.T) {
	fx := newFixture(t)
	fx.allowReceipts()
	fx.captureJoins()
	fx.transport.EXPECT().Joined("resv-1").Return(false).AnyTimes()

	fetches := make(chan struct{}, 64)
	fx.api.EXPECT().Messages(gomock.Any(), "resv-1").
		DoAndReturn(func(context.Context, string) ([]model.Message, error) {
			fetches <- struct{}{}
			return nil, nil
		}).AnyTimes()

	c := Open(context.Background(), Config{
		ConversationID: "resv-1",
		Identity:       &auth.Static{ID: "alice", Bearer: "tok"},
		API:            fx.api,
		Transport:      fx.transport,
		Permission:     model.PermReadWrite,
		PollInterval:   20 * time.Millisecond,
		ReadDebounce:   time.Millisecond,
		Signals:        fx.signals,
	})
	t.Cleanup(c.Close)

	events := fx.pushEvents(t)
	waitSignal(t, fx.signals, SignalLoaded)

	events <- ws.Event{Kind: ws.EventJoinDenied, Reason: "reservation does not allow messaging"}

	// The denial leaves the fallback poller ticking.
	for i := 0; i < 3; i++ {
		select {
		case <-fetches:
		case <-time.After(2 * time.Second):
			t.Fatal("polling stopped after the join denial")
		}
	}
}

func TestJoinedSuspendsPolling(t *testing.T) {
	fx := newFixture(t)
	fx.allowReceipts()
	fx.captureJoins()
	fx.transport.EXPECT().Joined("resv-1").Return(true).AnyTimes()

	fetches := make(chan struct{}, 64)
	fx.api.EXPECT().Messages(gomock.Any(), "resv-1").
		DoAndReturn(func(context.Context, string) ([]model.Message, error) {
			select {
			case fetches <- struct{}{}:
			default:
			}
			return nil, nil
		}).AnyTimes()

	c := Open(context.Background(), Config{
		ConversationID: "resv-1",
		Identity:       &auth.Static{ID: "alice", Bearer: "tok"},
		API:            fx.api,
		Transport:      fx.transport,
		Permission:     model.PermReadWrite,
		PollInterval:   20 * time.Millisecond,
		ReadDebounce:   time.Millisecond,
		Signals:        fx.signals,
	})
	t.Cleanup(c.Close)

	events := fx.pushEvents(t)
	waitSignal(t, fx.signals, SignalLoaded)

	events <- ws.Event{Kind: ws.EventJoined}
	// Drain whatever was in flight, then expect silence.
	time.Sleep(60 * time.Millisecond)
	for {
		select {
		case <-fetches:
			continue
		default:
		}
		break
	}

	select {
	case <-fetches:
		t.Fatal("poller kept ticking while push is authoritative")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPermissionDowngradeTearsDown(t *testing.T) {
	fx := newFixture(t)
	fx.allowReceipts()
	fx.transport.EXPECT().Joined("resv-1").Return(true).AnyTimes()
	fx.api.EXPECT().Messages(gomock.Any(), "resv-1").
		Return([]model.Message{msgFrom("1", "bob", 0)}, nil).AnyTimes()

	fx.transport.EXPECT().Join("resv-1", gomock.Any()).
		Do(func(_ string, events chan<- ws.Event) { fx.joins <- events })

	left := make(chan struct{}, 4)
	fx.transport.EXPECT().Leave("resv-1").
		Do(func(string) { left <- struct{}{} }).AnyTimes()

	c := fx.open(t, model.PermReadWrite)
	fx.pushEvents(t)
	waitSignal(t, fx.signals, SignalLoaded)

	c.UpdatePermission(model.PermReadOnly)
	select {
	case <-left:
	case <-time.After(2 * time.Second):
		t.Fatal("downgrade did not leave the push channel")
	}

	// History stays readable, sends are refused.
	assert.ErrorIs(t, c.Send(context.Background(), "hola"), ErrNotAllowed)
	assert.Equal(t, []string{"1"}, snapshotIDs(c))
}

func TestClosedConversationRefusesEverything(t *testing.T) {
	fx := newFixture(t)

	c := fx.open(t, model.PermClosed)

	assert.ErrorIs(t, c.Send(context.Background(), "hola"), ErrNotAllowed)
	assert.Empty(t, c.Snapshot())
}

func TestClosedConversationRevivesOnPermission(t *testing.T) {
	fx := newFixture(t)
	fx.allowReceipts()
	fx.captureJoins()
	fx.transport.EXPECT().Joined("resv-1").Return(false).AnyTimes()
	fx.api.EXPECT().Messages(gomock.Any(), "resv-1").
		Return([]model.Message{msgFrom("1", "bob", 0)}, nil).AnyTimes()

	c := fx.open(t, model.PermClosed)
	assert.ErrorIs(t, c.Send(context.Background(), "hola"), ErrNotAllowed)

	c.UpdatePermission(model.PermReadWrite)
	fx.pushEvents(t)
	waitSignal(t, fx.signals, SignalLoaded)
	assert.Equal(t, []string{"1"}, snapshotIDs(c))
}

func TestPollAfterSendDoesNotDuplicate(t *testing.T) {
	fx := newFixture(t)
	fx.allowReceipts()
	fx.captureJoins()
	fx.transport.EXPECT().Joined("resv-1").Return(false).AnyTimes()

	history := []model.Message{msgFrom("1", "bob", 0)}
	confirmed := msgFrom("42", "alice", time.Minute)

	first := fx.api.EXPECT().Messages(gomock.Any(), "resv-1").Return(history, nil)
	fx.api.EXPECT().Messages(gomock.Any(), "resv-1").
		Return(append(history[:1:1], confirmed), nil).AnyTimes().After(first)
	fx.api.EXPECT().Send(gomock.Any(), "resv-1", "hola").Return(&confirmed, nil)

	c := Open(context.Background(), Config{
		ConversationID: "resv-1",
		Identity:       &auth.Static{ID: "alice", Bearer: "tok"},
		API:            fx.api,
		Transport:      fx.transport,
		Permission:     model.PermReadWrite,
		PollInterval:   20 * time.Millisecond,
		ReadDebounce:   time.Millisecond,
		Signals:        fx.signals,
	})
	t.Cleanup(c.Close)
	waitSignal(t, fx.signals, SignalLoaded)

	require.NoError(t, c.Send(context.Background(), "hola"))

	// Later polls return the same page; the log must not grow.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"1", "42"}, snapshotIDs(c))
}

func TestInitialLoadFailureIsSurfaced(t *testing.T) {
	fx := newFixture(t)
	fx.allowReceipts()
	fx.captureJoins()
	fx.transport.EXPECT().Joined("resv-1").Return(false).AnyTimes()

	boom := errors.New("backend unavailable")
	first := fx.api.EXPECT().Messages(gomock.Any(), "resv-1").Return(nil, boom)
	fx.api.EXPECT().Messages(gomock.Any(), "resv-1").Return(nil, nil).AnyTimes().After(first)

	fx.open(t, model.PermReadWrite)

	s := waitSignal(t, fx.signals, SignalLoadFailed)
	assert.ErrorIs(t, s.Err, boom)
}
