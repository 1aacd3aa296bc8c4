package conv

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/pelocaramelo/messaging/auth"
	"github.com/pelocaramelo/messaging/model"
	"github.com/pelocaramelo/messaging/poll"
	"github.com/pelocaramelo/messaging/store"
	"github.com/pelocaramelo/messaging/unread"
	"github.com/pelocaramelo/messaging/ws"
)

const (
	// DefaultPollInterval is the fallback polling cadence.
	DefaultPollInterval = 8 * time.Second
	// DefaultReadDebounce guards repeated read-ack emissions.
	DefaultReadDebounce = time.Second

	eventQueueSize = 64
)

var (
	// ErrEmptyMessage rejects sends whose trimmed body is empty.
	ErrEmptyMessage = errors.New("conv: message body is empty")
	// ErrNotAllowed rejects sends while the reservation does not permit messaging.
	ErrNotAllowed = errors.New("conv: messaging is not allowed for this reservation")
	// ErrClosed is returned by calls against a torn-down conversation.
	ErrClosed = errors.New("conv: conversation is closed")
)

// SignalKind classifies notifications to the hosting view.
type SignalKind int

const (
	// SignalUpdated: the message log changed; re-render from Snapshot.
	SignalUpdated SignalKind = iota
	// SignalLoaded: the initial history load completed.
	SignalLoaded
	// SignalLoadFailed: the initial history load failed. The only fetch
	// failure that is user-facing; poll failures are silent.
	SignalLoadFailed
	// SignalNewMessage: a counterpart message arrived.
	SignalNewMessage
	// SignalScrollTo: tab is visible but the widget is off-screen; the host
	// should bring the conversation into view.
	SignalScrollTo
	// SignalNewWhileAway: a message arrived that could not be auto-read; the
	// host shows its "see new messages" affordance.
	SignalNewWhileAway
)

// Signal is an out-of-band notification to the hosting view.
type Signal struct {
	Kind           SignalKind
	ConversationID string
	MessageID      string
	Err            error
}

// Config wires one conversation to its collaborators.
type Config struct {
	ConversationID string
	Identity       auth.Identity
	API            API
	Transport      Transport
	Bus            *unread.Bus

	// Permission is the reservation-derived starting permission; the host
	// pushes changes through UpdatePermission.
	Permission model.Permission

	PollInterval time.Duration
	ReadDebounce time.Duration

	// Signals receives host-view notifications; optional. Sends never block:
	// a slow host loses signals, not messages.
	Signals chan<- Signal
}

// Conversation is the actor for one open reservation conversation. All state
// mutation happens on its own goroutine: the push channel, the fallback
// poller, local sends and visibility changes each feed their own channel
// into the run loop, so no mutation ever races another.
type Conversation struct {
	cfg  Config
	log  *store.Log
	gate Gate
	perm model.Permission

	tracker *tracker
	poller  *poll.Scheduler

	events    chan ws.Event
	pages     chan pageResult
	views     chan func(*Gate)
	sendReqs  chan sendRequest
	sendRes   chan sendResult
	perms     chan model.Permission
	snapshots chan chan []model.Message

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	teardown  []func()

	// lastSeenID detects genuinely new tail messages across poll merges.
	lastSeenID string
	// lastNotifiedID suppresses duplicate new-message signals.
	lastNotifiedID string
	initialLoaded  bool
}

type pageResult struct {
	messages []model.Message
	err      error
	initial  bool
}

type sendRequest struct {
	text  string
	reply chan error
}

type sendResult struct {
	tempID string
	msg    *model.Message
	err    error
	reply  chan error
}

// Open creates the conversation actor and starts its run loop. The returned
// conversation must be released with Close.
func Open(ctx context.Context, cfg Config) *Conversation {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ReadDebounce <= 0 {
		cfg.ReadDebounce = DefaultReadDebounce
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Conversation{
		cfg:  cfg,
		log:  store.New(cfg.ConversationID),
		gate: newGate(),
		perm: cfg.Permission,
		tracker: &tracker{
			conversationID: cfg.ConversationID,
			api:            cfg.API,
			transport:      cfg.Transport,
			bus:            cfg.Bus,
			debounce:       cfg.ReadDebounce,
		},
		poller:    poll.New(cfg.PollInterval),
		events:    make(chan ws.Event, eventQueueSize),
		pages:     make(chan pageResult),
		views:     make(chan func(*Gate)),
		sendReqs:  make(chan sendRequest),
		sendRes:   make(chan sendResult),
		perms:     make(chan model.Permission),
		snapshots: make(chan chan []model.Message),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go c.run(ctx)
	return c
}

// Close tears the conversation down exactly once: leave is signalled
// best-effort, the poll timer is cancelled, and any in-flight fetch result
// is discarded. Blocks until the run loop has exited.
func (c *Conversation) Close() {
	c.closeOnce.Do(c.cancel)
	<-c.done
}

// Send validates and optimistically appends a local message, then blocks
// until the server confirms or the optimistic entry is rolled back.
func (c *Conversation) Send(ctx context.Context, text string) error {
	req := sendRequest{text: text, reply: make(chan error, 1)}
	select {
	case c.sendReqs <- req:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the ordered message log.
func (c *Conversation) Snapshot() []model.Message {
	reply := make(chan []model.Message, 1)
	select {
	case c.snapshots <- reply:
		return <-reply
	case <-c.done:
		return nil
	}
}

// SetTabVisible feeds the foreground/background observation.
func (c *Conversation) SetTabVisible(visible bool) {
	c.postView(func(g *Gate) { g.TabVisible = visible })
}

// SetAtBottom feeds the scroll-position observation.
func (c *Conversation) SetAtBottom(atBottom bool) {
	c.postView(func(g *Gate) { g.AtBottom = atBottom })
}

// SetViewportFraction feeds the on-screen observation from the host's
// intersection measurement.
func (c *Conversation) SetViewportFraction(fraction float64) {
	c.postView(func(g *Gate) { g.OnScreen = fraction >= ViewportThreshold })
}

// UpdatePermission applies a reservation status change. Dropping below
// send permission tears down transport and polling for this conversation.
func (c *Conversation) UpdatePermission(p model.Permission) {
	select {
	case c.perms <- p:
	case <-c.done:
	}
}

func (c *Conversation) postView(mut func(*Gate)) {
	select {
	case c.views <- mut:
	case <-c.done:
	}
}

// ----------------------------- actor loop -----------------------------

func (c *Conversation) run(ctx context.Context) {
	defer close(c.done)
	defer c.runTeardown()

	id := c.cfg.ConversationID
	glog.Infof("conv %s: opened, permission: %s", id, c.perm)

	if !c.perm.CanRead() {
		glog.Warningf("conv %s: conversation is closed for this reservation status", id)
		if !c.idle(ctx) {
			return
		}
		// Revived by a permission change; fall through to the live loop.
	}

	c.open(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.handleTransport(ctx, ev)
		case pr := <-c.pages:
			c.handlePage(ctx, pr)
		case mut := <-c.views:
			c.handleView(ctx, mut)
		case req := <-c.sendReqs:
			c.handleSend(ctx, req)
		case res := <-c.sendRes:
			c.handleSendResult(ctx, res)
		case p := <-c.perms:
			c.handlePermission(ctx, p)
		case reply := <-c.snapshots:
			reply <- c.log.Snapshot()
		}
	}
}

// open runs the live startup sequence: join the push channel, arm the
// fallback poller and kick off the history load.
func (c *Conversation) open(ctx context.Context) {
	c.teardown = append(c.teardown,
		c.poller.Stop,
		func() { c.cfg.Transport.Leave(c.cfg.ConversationID) },
	)
	if c.perm.CanSend() {
		// Opening the view counts as reading whatever is already there.
		c.tracker.markRead(ctx)
		c.cfg.Transport.Join(c.cfg.ConversationID, c.events)
		c.poller.Start(ctx, c.pollTick)
	}
	c.loadInitial(ctx)
}

// idle keeps a closed conversation responsive to snapshots and sends
// (which are refused) without touching the network. Returns true when a
// permission change revived the conversation.
func (c *Conversation) idle(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case req := <-c.sendReqs:
			req.reply <- ErrNotAllowed
		case reply := <-c.snapshots:
			reply <- c.log.Snapshot()
		case p := <-c.perms:
			if p.CanRead() {
				c.perm = p
				return true
			}
		case mut := <-c.views:
			mut(&c.gate)
		case <-c.events:
		case <-c.pages:
		case <-c.sendRes:
		}
	}
}

func (c *Conversation) runTeardown() {
	for _, fn := range c.teardown {
		fn()
	}
	c.teardown = nil
	glog.Infof("conv %s: closed", c.cfg.ConversationID)
}

// ----------------------------- fetching -----------------------------

func (c *Conversation) loadInitial(ctx context.Context) {
	go func() {
		msgs, err := c.cfg.API.Messages(ctx, c.cfg.ConversationID)
		select {
		case c.pages <- pageResult{messages: msgs, err: err, initial: true}:
		case <-ctx.Done():
			// Late resolution after teardown is discarded.
		}
	}()
}

func (c *Conversation) pollTick(ctx context.Context) error {
	msgs, err := c.cfg.API.Messages(ctx, c.cfg.ConversationID)
	if err != nil {
		return err
	}
	select {
	case c.pages <- pageResult{messages: msgs}:
	case <-ctx.Done():
	}
	return nil
}

func (c *Conversation) handlePage(ctx context.Context, pr pageResult) {
	if pr.err != nil {
		if pr.initial {
			glog.Errorf("conv %s: initial load error: %v", c.cfg.ConversationID, pr.err)
			c.signal(Signal{Kind: SignalLoadFailed, Err: pr.err})
		}
		return
	}

	changed := c.log.Merge(pr.messages)

	if pr.initial && !c.initialLoaded {
		c.initialLoaded = true
		if last, ok := c.log.Last(); ok {
			c.lastSeenID = last.ID
		}
		c.signal(Signal{Kind: SignalLoaded})
		if changed {
			c.signal(Signal{Kind: SignalUpdated})
		}
		if c.perm.CanSend() && c.gate.AutoRead() {
			c.tracker.markRead(ctx)
		}
		return
	}

	if !changed {
		return
	}
	c.signal(Signal{Kind: SignalUpdated})

	last, ok := c.log.Last()
	if !ok || last.ID == c.lastSeenID {
		return
	}
	c.lastSeenID = last.ID
	if last.IsTemp() || last.SenderID == c.cfg.Identity.UserID() {
		return
	}
	c.counterpartMessage(ctx, last)
}

// ----------------------------- push events -----------------------------

func (c *Conversation) handleTransport(ctx context.Context, ev ws.Event) {
	id := c.cfg.ConversationID

	switch ev.Kind {
	case ws.EventJoined:
		glog.Infof("conv %s: joined push channel, suspending fallback polling", id)
		c.poller.Stop()
	case ws.EventJoinDenied:
		// Degraded mode: keep polling so the conversation stays functional.
		glog.Warningf("conv %s: join denied (%s), staying on fallback polling", id, ev.Reason)
		c.ensurePolling(ctx)
	case ws.EventDown:
		glog.Warningf("conv %s: push channel down, re-arming fallback polling", id)
		c.ensurePolling(ctx)
	case ws.EventMessage:
		c.handlePushedMessage(ctx, *ev.Message)
	case ws.EventAck:
		if n := c.log.ApplyAck(c.cfg.Identity.UserID(), *ev.Ack); n > 0 {
			c.signal(Signal{Kind: SignalUpdated})
		}
	}
}

func (c *Conversation) handlePushedMessage(ctx context.Context, m model.Message) {
	if !c.log.Append(m) {
		return
	}
	c.lastSeenID = m.ID
	c.signal(Signal{Kind: SignalUpdated})

	if m.SenderID == c.cfg.Identity.UserID() {
		// Push echo of our own send; reconciliation owns its status.
		return
	}
	c.tracker.delivered(m.ID)
	c.counterpartMessage(ctx, m)
}

// counterpartMessage runs the shared new-message reaction for both sources:
// notify the host, then either auto-read or record the unread state.
func (c *Conversation) counterpartMessage(ctx context.Context, m model.Message) {
	if c.lastNotifiedID != m.ID {
		c.lastNotifiedID = m.ID
		c.signal(Signal{Kind: SignalNewMessage, MessageID: m.ID})
	}

	if c.gate.WantsScrollSignal() {
		c.signal(Signal{Kind: SignalScrollTo, MessageID: m.ID})
	}

	if c.perm.CanSend() && c.gate.AutoRead() {
		c.tracker.markRead(ctx)
		return
	}
	c.tracker.refreshUnread(ctx)
	c.signal(Signal{Kind: SignalNewWhileAway, MessageID: m.ID})
}

// ----------------------------- sending -----------------------------

func (c *Conversation) handleSend(ctx context.Context, req sendRequest) {
	text := strings.TrimSpace(req.text)
	if text == "" {
		req.reply <- ErrEmptyMessage
		return
	}
	if !c.perm.CanSend() {
		req.reply <- ErrNotAllowed
		return
	}

	temp := model.Message{
		ID:             model.NewTempID(),
		ConversationID: c.cfg.ConversationID,
		SenderID:       c.cfg.Identity.UserID(),
		Body:           text,
		CreatedAt:      time.Now(),
		Status:         model.StatusSending,
	}
	c.log.Append(temp)
	c.lastSeenID = temp.ID
	c.signal(Signal{Kind: SignalUpdated})

	go func() {
		saved, err := c.cfg.API.Send(ctx, c.cfg.ConversationID, text)
		select {
		case c.sendRes <- sendResult{tempID: temp.ID, msg: saved, err: err, reply: req.reply}:
		case <-ctx.Done():
			req.reply <- ErrClosed
		}
	}()
}

func (c *Conversation) handleSendResult(ctx context.Context, res sendResult) {
	if res.err != nil {
		// Rollback: the optimistic entry disappears, no failed state is kept.
		c.log.Remove(res.tempID)
		c.signal(Signal{Kind: SignalUpdated})
		res.reply <- res.err
		return
	}

	confirmed := *res.msg
	if confirmed.Status == "" {
		confirmed.Status = model.StatusSent
	}
	c.log.Replace(res.tempID, confirmed)
	c.lastSeenID = confirmed.ID
	c.signal(Signal{Kind: SignalUpdated})

	// Keeps our own unread index honest: an earlier counterpart message is
	// read by the act of replying to it.
	c.tracker.markRead(ctx)
	res.reply <- nil
}

// ----------------------------- view & permission -----------------------------

func (c *Conversation) handleView(ctx context.Context, mut func(*Gate)) {
	before := c.gate.AutoRead()
	mut(&c.gate)
	if !before && c.gate.AutoRead() && c.initialLoaded && c.perm.CanSend() {
		c.tracker.markRead(ctx)
	}
}

func (c *Conversation) handlePermission(ctx context.Context, p model.Permission) {
	if p == c.perm {
		return
	}
	glog.Infof("conv %s: permission %s -> %s", c.cfg.ConversationID, c.perm, p)
	wasSend := c.perm.CanSend()
	c.perm = p

	if wasSend && !p.CanSend() {
		// The reservation left its accepted state: tear down both delivery
		// paths. History stays visible while still readable.
		c.poller.Stop()
		c.cfg.Transport.Leave(c.cfg.ConversationID)
		return
	}
	if !wasSend && p.CanSend() {
		c.tracker.markRead(ctx)
		c.cfg.Transport.Join(c.cfg.ConversationID, c.events)
		c.ensurePolling(ctx)
	}
}

func (c *Conversation) ensurePolling(ctx context.Context) {
	if !c.perm.CanSend() {
		return
	}
	if c.cfg.Transport.Joined(c.cfg.ConversationID) {
		return
	}
	c.poller.Start(ctx, c.pollTick)
}

func (c *Conversation) signal(s Signal) {
	if c.cfg.Signals == nil {
		return
	}
	s.ConversationID = c.cfg.ConversationID
	select {
	case c.cfg.Signals <- s:
	default:
		glog.V(5).Infof("conv %s: dropping signal %d, host is slow", c.cfg.ConversationID, s.Kind)
	}
}
