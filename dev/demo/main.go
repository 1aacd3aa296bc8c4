package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/pelocaramelo/messaging/model"
	"github.com/pelocaramelo/messaging/ws"
)

// The demo server mocks the reservation backend: message persistence over
// REST plus the push channel, all in memory. Two fixed users share one
// accepted reservation and one finished (read-only) reservation.

var (
	listenAddr = flag.String("listen", "127.0.0.1:8088", "listen address")
	jwtSecret  = flag.String("jwt-secret", "demo-secret", "HMAC secret for demo tokens")
)

const (
	writeWait  = 3 * time.Second
	pongWait   = 25 * time.Second
	pingPeriod = 20 * time.Second
)

type conversation struct {
	id       string
	status   string
	members  [2]string
	messages []model.Message
}

func (c *conversation) isMember(user string) bool {
	return c.members[0] == user || c.members[1] == user
}

func (c *conversation) counterpart(user string) string {
	if c.members[0] == user {
		return c.members[1]
	}
	return c.members[0]
}

type session struct {
	user   string
	conn   *websocket.Conn
	send   chan *ws.Frame
	joined map[string]bool
}

type backend struct {
	mu       sync.Mutex
	secret   []byte
	seq      int
	convs    map[string]*conversation
	sessions map[string]*session

	upgrader websocket.Upgrader
}

func newBackend(secret string) *backend {
	return &backend{
		secret: []byte(secret),
		convs: map[string]*conversation{
			"resv-1": {id: "resv-1", status: model.ReservationAccepted, members: [2]string{"alice", "bob"}},
			"resv-2": {id: "resv-2", status: model.ReservationFinished, members: [2]string{"alice", "bob"}},
		},
		sessions: make(map[string]*session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (b *backend) mintToken(user string) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  user,
		"iat": time.Now().Unix(),
	})
	signed, err := tok.SignedString(b.secret)
	if err != nil {
		panic(err)
	}
	return signed
}

func (b *backend) authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	raw := strings.TrimPrefix(header, "Bearer ")
	if raw == "" || raw == header {
		return "", fmt.Errorf("missing bearer token")
	}
	tok, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
		return b.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", err
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected claims type")
	}
	user, _ := claims["id"].(string)
	if user == "" {
		return "", fmt.Errorf("token carries no user id")
	}
	return user, nil
}

// ----------------------------- REST -----------------------------

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// routeConversation handles /conversation/{id}/messages and
// /conversation/{id}/read.
func (b *backend) routeConversation(w http.ResponseWriter, r *http.Request) {
	user, err := b.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id, action := parts[1], parts[2]

	b.mu.Lock()
	conv := b.convs[id]
	b.mu.Unlock()
	if conv == nil || !conv.isMember(user) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	switch {
	case action == "messages" && r.Method == http.MethodGet:
		b.listMessages(w, conv)
	case action == "messages" && r.Method == http.MethodPost:
		b.postMessage(w, r, conv, user)
	case action == "read" && r.Method == http.MethodPost:
		b.markRead(w, conv, user)
	default:
		writeError(w, http.StatusMethodNotAllowed, "unsupported")
	}
}

func (b *backend) listMessages(w http.ResponseWriter, conv *conversation) {
	b.mu.Lock()
	out := make([]model.Message, len(conv.messages))
	copy(out, conv.messages)
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": out})
}

func (b *backend) postMessage(w http.ResponseWriter, r *http.Request, conv *conversation, user string) {
	if !model.PermissionFor(conv.status).CanSend() {
		writeError(w, http.StatusForbidden, "reservation does not allow messaging")
		return
	}
	var in struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || strings.TrimSpace(in.Body) == "" {
		writeError(w, http.StatusBadRequest, "message body is required")
		return
	}

	b.mu.Lock()
	b.seq++
	msg := model.Message{
		ID:             fmt.Sprintf("%d", b.seq),
		ConversationID: conv.id,
		SenderID:       user,
		ReceiverID:     conv.counterpart(user),
		Body:           in.Body,
		CreatedAt:      time.Now().UTC(),
	}
	conv.messages = append(conv.messages, msg)
	b.mu.Unlock()

	glog.Infof("demo: %s -> %s in %s: %q", user, msg.ReceiverID, conv.id, in.Body)

	// Push to both joined members; the sender gets its own echo.
	b.pushTo(conv, conv.members[:], &ws.Frame{
		Event:          ws.EvtMessage,
		ConversationID: conv.id,
		Message:        &msg,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": msg})
}

func (b *backend) markRead(w http.ResponseWriter, conv *conversation, user string) {
	now := time.Now().UTC()

	b.mu.Lock()
	updated := 0
	for i := range conv.messages {
		m := &conv.messages[i]
		if m.ReceiverID == user && m.ReadAt == nil {
			at := now
			m.ReadAt = &at
			updated++
		}
	}
	b.mu.Unlock()

	if updated > 0 {
		b.pushTo(conv, []string{conv.counterpart(user)}, &ws.Frame{
			Event:          ws.EvtRead,
			ConversationID: conv.id,
			ByUserID:       user,
			At:             &now,
			Updated:        updated,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "updated": updated})
}

func (b *backend) unread(w http.ResponseWriter, r *http.Request) {
	user, err := b.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	b.mu.Lock()
	ids := []string{}
	for _, conv := range b.convs {
		if !conv.isMember(user) {
			continue
		}
		for _, m := range conv.messages {
			if m.ReceiverID == user && m.ReadAt == nil {
				ids = append(ids, conv.id)
				break
			}
		}
	}
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"conversation_ids": ids})
}

// ----------------------------- push channel -----------------------------

func (b *backend) serveWS(w http.ResponseWriter, r *http.Request) {
	user, err := b.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("demo: upgrade error: %v", err)
		return
	}

	s := &session{
		user:   user,
		conn:   conn,
		send:   make(chan *ws.Frame, 16),
		joined: make(map[string]bool),
	}
	b.mu.Lock()
	if old := b.sessions[user]; old != nil {
		old.conn.Close()
	}
	b.sessions[user] = s
	b.mu.Unlock()

	glog.Infof("demo: %s connected", user)
	go b.sendLoop(s)
	b.recvLoop(s)

	b.mu.Lock()
	if b.sessions[user] == s {
		delete(b.sessions, user)
	}
	b.mu.Unlock()
	glog.Infof("demo: %s disconnected", user)
}

func (b *backend) recvLoop(s *session) {
	defer s.conn.Close()
	s.conn.SetReadLimit(65536)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPingHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return s.conn.WriteMessage(websocket.PongMessage, nil)
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			glog.V(5).Infof("demo: recvLoop(%s): read error: %v", s.user, err)
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame ws.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			glog.Errorf("demo: recvLoop(%s): bad frame: %v", s.user, err)
			continue
		}
		b.handleFrame(s, &frame)
	}
}

func (b *backend) sendLoop(s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			if !ok {
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(frame); err != nil {
				glog.V(5).Infof("demo: sendLoop(%s): write error: %v", s.user, err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (b *backend) handleFrame(s *session, frame *ws.Frame) {
	b.mu.Lock()
	conv := b.convs[frame.ConversationID]
	b.mu.Unlock()
	if conv == nil || !conv.isMember(s.user) {
		b.reply(s, &ws.Frame{
			Event:          ws.EvtJoinError,
			ConversationID: frame.ConversationID,
			Error:          "conversation not found",
		})
		return
	}

	switch frame.Event {
	case ws.EvtJoin:
		if !model.PermissionFor(conv.status).CanSend() {
			b.reply(s, &ws.Frame{
				Event:          ws.EvtJoinError,
				ConversationID: conv.id,
				Error:          "reservation does not allow messaging",
			})
			return
		}
		b.mu.Lock()
		s.joined[conv.id] = true
		b.mu.Unlock()
		b.reply(s, &ws.Frame{Event: ws.EvtJoined, ConversationID: conv.id})
	case ws.EvtLeave:
		b.mu.Lock()
		delete(s.joined, conv.id)
		b.mu.Unlock()
	case ws.EvtDelivered:
		b.handleDelivered(s, conv, frame.MessageID)
	case ws.EvtRead:
		b.handleRead(s, conv)
	default:
		glog.Errorf("demo: recvLoop(%s): unsupported event: %s", s.user, frame.Event)
	}
}

func (b *backend) handleDelivered(s *session, conv *conversation, messageID string) {
	now := time.Now().UTC()

	b.mu.Lock()
	found := false
	for i := range conv.messages {
		m := &conv.messages[i]
		if m.ID == messageID && m.ReceiverID == s.user && m.DeliveredAt == nil {
			at := now
			m.DeliveredAt = &at
			found = true
		}
	}
	b.mu.Unlock()

	if found {
		b.pushTo(conv, []string{conv.counterpart(s.user)}, &ws.Frame{
			Event:          ws.EvtDelivered,
			ConversationID: conv.id,
			MessageID:      messageID,
			ByUserID:       s.user,
			At:             &now,
		})
	}
}

func (b *backend) handleRead(s *session, conv *conversation) {
	now := time.Now().UTC()

	b.mu.Lock()
	updated := 0
	for i := range conv.messages {
		m := &conv.messages[i]
		if m.ReceiverID == s.user && m.ReadAt == nil {
			at := now
			m.ReadAt = &at
			updated++
		}
	}
	b.mu.Unlock()

	if updated > 0 {
		b.pushTo(conv, []string{conv.counterpart(s.user)}, &ws.Frame{
			Event:          ws.EvtRead,
			ConversationID: conv.id,
			ByUserID:       s.user,
			At:             &now,
			Updated:        updated,
		})
	}
}

// pushTo delivers the frame to each named user's session when it has joined
// the conversation. Full queues drop the frame; the fallback poll recovers.
func (b *backend) pushTo(conv *conversation, users []string, frame *ws.Frame) {
	b.mu.Lock()
	targets := make([]*session, 0, len(users))
	for _, u := range users {
		if s := b.sessions[u]; s != nil && s.joined[conv.id] {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		select {
		case s.send <- frame:
		default:
			glog.Warningf("demo: %s send queue is full, dropping %s", s.user, frame.Event)
		}
	}
}

func (b *backend) reply(s *session, frame *ws.Frame) {
	select {
	case s.send <- frame:
	default:
	}
}

func main() {
	flag.Parse()
	defer glog.Flush()

	b := newBackend(*jwtSecret)

	mux := http.NewServeMux()
	mux.HandleFunc("/conversation/", b.routeConversation)
	mux.HandleFunc("/conversations/unread", b.unread)
	mux.HandleFunc("/ws", b.serveWS)

	fmt.Printf("demo backend on http://%s\n", *listenAddr)
	fmt.Printf("conversations: resv-1 (accepted), resv-2 (finished, read-only)\n")
	for _, user := range []string{"alice", "bob"} {
		fmt.Printf("token %s: %s\n", user, b.mintToken(user))
	}

	if err := http.ListenAndServe(*listenAddr, mux); err != nil {
		glog.Exitf("demo: listen error: %v", err)
	}
}
