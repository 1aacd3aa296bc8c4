package store

import (
	"sort"

	"github.com/golang/glog"

	"github.com/pelocaramelo/messaging/model"
)

// Log is the ordered, deduplicated message log of one conversation.
//
// Log is purely data-state: no network or timer side effects live here. It is
// not safe for concurrent use; the owning conversation goroutine serializes
// every mutation, so no locking is needed.
type Log struct {
	conversationID string
	messages       []model.Message
}

func New(conversationID string) *Log {
	return &Log{conversationID: conversationID}
}

// Append inserts a message, deduplicating by id. An existing entry wins over
// an incoming duplicate. Returns true if the log changed.
func (l *Log) Append(m model.Message) bool {
	if l.indexOf(m.ID) >= 0 {
		return false
	}
	l.messages = append(l.messages, m)
	l.reorder()
	return true
}

// Replace swaps the temporary entry for its server-confirmed copy. If the
// confirmed id is already present (the push echo won the race), the temporary
// entry is simply dropped. Returns false when tempID is unknown.
func (l *Log) Replace(tempID string, confirmed model.Message) bool {
	i := l.indexOf(tempID)
	if i < 0 {
		return false
	}
	if l.indexOf(confirmed.ID) >= 0 {
		l.messages = append(l.messages[:i], l.messages[i+1:]...)
	} else {
		l.messages[i] = confirmed
	}
	l.reorder()
	return true
}

// Remove deletes the entry with the given id. Used to roll back a failed
// optimistic send; no "failed" status is ever stored.
func (l *Log) Remove(id string) bool {
	i := l.indexOf(id)
	if i < 0 {
		return false
	}
	l.messages = append(l.messages[:i], l.messages[i+1:]...)
	return true
}

// Merge reconciles a fetched page with the current state. When the page's
// last confirmed id differs from ours the page becomes the new baseline;
// temporary local entries survive the merge because the server cannot know
// about not-yet-durable sends. Returns true if the log changed.
func (l *Log) Merge(page []model.Message) bool {
	if lastID(page) == lastConfirmedID(l.messages) {
		return false
	}

	var temps []model.Message
	for _, m := range l.messages {
		if m.IsTemp() {
			temps = append(temps, m)
		}
	}

	l.messages = append(l.messages[:0:0], page...)
	for _, t := range temps {
		if l.indexOf(t.ID) < 0 {
			l.messages = append(l.messages, t)
		}
	}
	l.reorder()

	glog.V(5).Infof("store: merged page, conversation: %s, size: %d, temps kept: %d",
		l.conversationID, len(l.messages), len(temps))
	return true
}

// ApplyAck applies a counterpart acknowledgement to the local user's
// messages. Acks authored by the local user are ignored: a participant never
// acknowledges its own messages. Returns the number of upgraded entries.
func (l *Log) ApplyAck(localUserID string, ev model.AckEvent) int {
	if ev.ByUserID == localUserID {
		return 0
	}

	var changed int
	for i := range l.messages {
		m := &l.messages[i]
		if m.SenderID != localUserID || m.IsTemp() {
			continue
		}
		switch ev.Kind {
		case model.AckDelivered:
			if m.ID == ev.MessageID && model.StatusRank(m.EffectiveStatus()) < model.StatusRank(model.StatusDelivered) {
				at := ev.At
				m.Status = model.StatusDelivered
				m.DeliveredAt = &at
				changed++
			}
		case model.AckRead:
			if model.StatusRank(m.EffectiveStatus()) < model.StatusRank(model.StatusRead) {
				at := ev.At
				m.Status = model.StatusRead
				m.ReadAt = &at
				changed++
			}
		}
	}
	return changed
}

// Snapshot returns a copy of the ordered log.
func (l *Log) Snapshot() []model.Message {
	out := make([]model.Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Last returns the newest message, if any.
func (l *Log) Last() (model.Message, bool) {
	if len(l.messages) == 0 {
		return model.Message{}, false
	}
	return l.messages[len(l.messages)-1], true
}

func (l *Log) Len() int { return len(l.messages) }

// Get returns the entry with the given id.
func (l *Log) Get(id string) (model.Message, bool) {
	if i := l.indexOf(id); i >= 0 {
		return l.messages[i], true
	}
	return model.Message{}, false
}

func (l *Log) indexOf(id string) int {
	for i := range l.messages {
		if l.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// reorder re-establishes creation-time order, ties broken by insertion order.
func (l *Log) reorder() {
	sort.SliceStable(l.messages, func(i, j int) bool {
		return l.messages[i].CreatedAt.Before(l.messages[j].CreatedAt)
	})
}

func lastID(slice []model.Message) string {
	if len(slice) == 0 {
		return ""
	}
	return slice[len(slice)-1].ID
}

// lastConfirmedID skips trailing temporary entries so that an in-flight
// optimistic send does not make every poll look like new baseline state.
func lastConfirmedID(slice []model.Message) string {
	for i := len(slice) - 1; i >= 0; i-- {
		if !slice[i].IsTemp() {
			return slice[i].ID
		}
	}
	return ""
}
