package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/pelocaramelo/messaging/auth"
	"github.com/pelocaramelo/messaging/model"
)

const (
	// Time allowed to write a frame to the server.
	writeWait = 3 * time.Second

	// Send pings to the server with this period. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong or frame from the server.
	pongWait = 25 * time.Second

	// websocket max frame size to read.
	readLimit = 65536

	// Bounded reconnect: after this many consecutive dial failures the
	// coordinator gives up and conversations stay on fallback polling.
	maxConnectAttempts = 5
	connectBackoff     = 3 * time.Second

	sendQueueSize = 16
)

// ErrNotJoined is returned when an acknowledgement is emitted while the
// conversation has no push membership. Callers swallow it; the next trigger
// retries naturally.
var ErrNotJoined = errors.New("ws: conversation is not joined")

// JoinState is the per-conversation membership state on the push channel.
type JoinState int

const (
	NotJoined JoinState = iota
	Joining
	Joined
	JoinDenied
)

type member struct {
	events chan<- Event
	state  JoinState
}

// Coordinator owns the single push-channel connection of a session and the
// joined membership of every open conversation. Incoming frames are routed
// to each conversation's event channel; outgoing acknowledgements are
// accepted only while joined.
type Coordinator struct {
	mu sync.Mutex

	wsURL    string
	identity auth.Identity

	connected bool
	members   map[string]*member
	sendCh    chan *Frame

	wake   chan struct{}
	runCtx context.Context
}

func NewCoordinator(wsURL string, identity auth.Identity) *Coordinator {
	return &Coordinator{
		wsURL:    wsURL,
		identity: identity,
		members:  make(map[string]*member),
		wake:     make(chan struct{}, 1),
	}
}

// Run drives the connection lifecycle until ctx is cancelled: dial on
// demand, serve the connection, reconnect with fixed backoff. Exhausting the
// reconnect budget leaves every conversation in poll-only mode for good.
func (c *Coordinator) Run(ctx context.Context) {
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return
	case <-c.wake:
	}

	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			attempts++
			connectFailures.Inc()
			glog.Errorf("ws: connect error (attempt %d/%d): %v", attempts, maxConnectAttempts, err)
			if attempts >= maxConnectAttempts {
				glog.Warningf("ws: reconnect budget exhausted, staying in poll-only mode")
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(connectBackoff):
			}
			continue
		}

		attempts = 0
		connects.Inc()
		glog.Infof("ws: connected to %s", c.wsURL)

		c.rejoinAll(conn)
		c.serve(ctx, conn)
		c.connDown()

		if ctx.Err() != nil {
			return
		}
		glog.Warningf("ws: connection lost, reconnecting")
	}
}

func (c *Coordinator) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.identity.Token())

	dialCtx, cancel := context.WithTimeout(ctx, writeWait+pongWait)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, c.wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %v (status %d)", c.wsURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %v", c.wsURL, err)
	}
	return conn, nil
}

// rejoinAll marks connected and re-requests membership for every registered
// conversation, including previously denied ones: the reservation state may
// have changed since.
func (c *Coordinator) rejoinAll(conn *websocket.Conn) {
	c.mu.Lock()
	c.connected = true
	c.sendCh = make(chan *Frame, sendQueueSize)
	ids := make([]string, 0, len(c.members))
	for id, m := range c.members {
		m.state = Joining
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.enqueue(&Frame{Event: EvtJoin, ConversationID: id})
	}
}

// serve runs the send and recv loops of one live connection and returns when
// the connection dies or ctx is cancelled.
func (c *Coordinator) serve(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	sendCh := c.sendCh
	c.mu.Unlock()

	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.sendLoop(ctx, conn, sendCh, stop)
	}()

	c.recvLoop(conn)

	close(stop)
	conn.Close()
	wg.Wait()
}

func (c *Coordinator) recvLoop(conn *websocket.Conn) {
	defer glog.V(5).Infof("ws: recvLoop(): exited")

	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			glog.V(5).Infof("ws: recvLoop(): read error: %v", err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			glog.Errorf("ws: recvLoop(): bad frame: %s, err: %v", string(data), err)
			continue
		}

		glog.V(5).Infof("ws: recvLoop(): incoming frame: %s conversation=%s", frame.Event, frame.ConversationID)
		c.dispatch(&frame)
	}
}

func (c *Coordinator) sendLoop(ctx context.Context, conn *websocket.Conn, sendCh <-chan *Frame, stop <-chan struct{}) {
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pingTicker.Stop()
		glog.V(5).Infof("ws: sendLoop(): exited")
	}()

	for {
		select {
		case <-ctx.Done():
			// Best-effort close handshake on teardown.
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
			return
		case <-stop:
			return
		case frame := <-sendCh:
			data, err := json.Marshal(frame)
			if err != nil {
				glog.Errorf("ws: sendLoop(): marshal error: %v", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				glog.Errorf("ws: sendLoop(): write error: %v", err)
				conn.Close()
				return
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.Errorf("ws: sendLoop(): ping error: %v", err)
				conn.Close()
				return
			}
		}
	}
}

func (c *Coordinator) dispatch(frame *Frame) {
	switch frame.Event {
	case EvtJoined:
		c.setMemberState(frame.ConversationID, Joined)
		c.deliver(frame.ConversationID, Event{Kind: EventJoined})
	case EvtJoinError:
		joinDenied.Inc()
		c.setMemberState(frame.ConversationID, JoinDenied)
		c.deliver(frame.ConversationID, Event{Kind: EventJoinDenied, Reason: frame.Error})
	case EvtMessage:
		if frame.Message == nil {
			glog.Errorf("ws: message:new frame carries no message, conversation: %s", frame.ConversationID)
			return
		}
		c.deliver(frame.ConversationID, Event{Kind: EventMessage, Message: frame.Message})
	case EvtDelivered:
		c.deliver(frame.ConversationID, Event{Kind: EventAck, Ack: frame.ackEvent(model.AckDelivered)})
	case EvtRead:
		c.deliver(frame.ConversationID, Event{Kind: EventAck, Ack: frame.ackEvent(model.AckRead)})
	default:
		glog.Errorf("ws: unsupported frame event: %s", frame.Event)
	}
}

func (c *Coordinator) deliver(conversationID string, ev Event) {
	c.mu.Lock()
	m := c.members[conversationID]
	ctx := c.runCtx
	c.mu.Unlock()
	if m == nil {
		glog.V(5).Infof("ws: dropping event for unknown conversation %s", conversationID)
		return
	}

	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}

func (c *Coordinator) setMemberState(conversationID string, s JoinState) {
	c.mu.Lock()
	if m := c.members[conversationID]; m != nil {
		m.state = s
	}
	c.mu.Unlock()
}

// connDown reverts every membership to not-joined and tells each
// conversation to re-arm its fallback poller.
func (c *Coordinator) connDown() {
	c.mu.Lock()
	c.connected = false
	c.sendCh = nil
	notify := make([]chan<- Event, 0, len(c.members))
	for _, m := range c.members {
		m.state = NotJoined
		notify = append(notify, m.events)
	}
	ctx := c.runCtx
	c.mu.Unlock()

	for _, ch := range notify {
		select {
		case ch <- Event{Kind: EventDown}:
		case <-ctx.Done():
		}
	}
}

// Join registers the conversation and requests push membership for it. The
// connection is established on first demand.
func (c *Coordinator) Join(conversationID string, events chan<- Event) {
	c.mu.Lock()
	c.members[conversationID] = &member{events: events, state: Joining}
	connected := c.connected
	c.mu.Unlock()

	if connected {
		c.enqueue(&Frame{Event: EvtJoin, ConversationID: conversationID})
	} else {
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
}

// Leave signals departure for the conversation's channel. Best-effort:
// failures are swallowed and never block teardown.
func (c *Coordinator) Leave(conversationID string) {
	c.mu.Lock()
	_, known := c.members[conversationID]
	delete(c.members, conversationID)
	connected := c.connected
	c.mu.Unlock()

	if known && connected {
		c.enqueue(&Frame{Event: EvtLeave, ConversationID: conversationID})
	}
}

// Joined reports whether push delivery is authoritative for the conversation.
func (c *Coordinator) Joined(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.members[conversationID]
	return m != nil && m.state == Joined
}

// SendDelivered emits a delivered acknowledgement for one message.
func (c *Coordinator) SendDelivered(conversationID, messageID string) error {
	if !c.Joined(conversationID) {
		return ErrNotJoined
	}
	acksSent.Inc()
	return c.enqueue(&Frame{Event: EvtDelivered, ConversationID: conversationID, MessageID: messageID})
}

// SendRead emits a read acknowledgement for the whole conversation.
func (c *Coordinator) SendRead(conversationID string) error {
	if !c.Joined(conversationID) {
		return ErrNotJoined
	}
	acksSent.Inc()
	return c.enqueue(&Frame{Event: EvtRead, ConversationID: conversationID})
}

func (c *Coordinator) enqueue(frame *Frame) error {
	c.mu.Lock()
	sendCh := c.sendCh
	c.mu.Unlock()
	if sendCh == nil {
		return ErrNotJoined
	}

	select {
	case sendCh <- frame:
		return nil
	default:
		return fmt.Errorf("ws: send queue is full, dropping %s", frame.Event)
	}
}
