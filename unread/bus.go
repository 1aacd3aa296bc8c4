package unread

import (
	"encoding/json"
	"sync"

	"github.com/golang/glog"
	"go.etcd.io/bbolt"
)

var bucketName = []byte("unread_sets")

// Bus broadcasts the set of conversations with outstanding unread messages
// for one authenticated viewer. It is the only process-wide shared state of
// the engine: written by the receipt path and the session refresh, read-only
// for every subscriber. Each publish is a full-set replacement, so last
// write wins and subscribers never mutate what they receive.
//
// When backed by a store, the last published set survives restarts so
// consumers can show unread badges before the first refresh lands.
type Bus struct {
	mu      sync.Mutex
	userID  string
	last    []string
	subs    map[int]chan []string
	nextSub int
	db      *bbolt.DB
}

func NewBus(userID string) *Bus {
	return &Bus{
		userID: userID,
		subs:   make(map[int]chan []string),
	}
}

// WithStore opens (or creates) the bbolt file at path and loads the set
// published by the previous session, if any.
func (b *Bus) WithStore(path string) error {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return err
	}

	var last []string
	err = db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return nil
		}
		data := bucket.Get([]byte(b.userID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &last)
	})
	if err != nil {
		db.Close()
		return err
	}

	b.mu.Lock()
	b.db = db
	if last != nil {
		b.last = last
	}
	b.mu.Unlock()

	glog.V(5).Infof("unread: loaded %d conversations for user %s", len(last), b.userID)
	return nil
}

// Publish replaces the current set and fans it out to every subscriber.
func (b *Bus) Publish(conversationIDs []string) {
	set := append([]string(nil), conversationIDs...)

	b.mu.Lock()
	b.last = set
	db := b.db
	for _, ch := range b.subs {
		// Replace semantics: a slow subscriber only ever sees the latest set.
		select {
		case <-ch:
		default:
		}
		ch <- set
	}
	b.mu.Unlock()

	if db != nil {
		if err := b.persist(db, set); err != nil {
			glog.Errorf("unread: persist error: %v", err)
		}
	}
}

// Subscribe registers a consumer. The returned channel carries full-set
// replacements, starting with the current set; cancel unregisters it.
func (b *Bus) Subscribe() (<-chan []string, func()) {
	ch := make(chan []string, 1)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	ch <- append([]string(nil), b.last...)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
	return ch, cancel
}

// Last returns the most recently published set.
func (b *Bus) Last() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.last...)
}

// Has reports whether the conversation currently has unread messages.
func (b *Bus) Has(conversationID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range b.last {
		if id == conversationID {
			return true
		}
	}
	return false
}

// Invalidate clears the set and its persisted copy. Called on logout.
func (b *Bus) Invalidate() {
	b.mu.Lock()
	b.last = nil
	db := b.db
	for _, ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- nil
	}
	b.mu.Unlock()

	if db != nil {
		err := db.Update(func(tx *bbolt.Tx) error {
			bucket := tx.Bucket(bucketName)
			if bucket == nil {
				return nil
			}
			return bucket.Delete([]byte(b.userID))
		})
		if err != nil {
			glog.Errorf("unread: invalidate error: %v", err)
		}
	}
}

// Close releases the backing store, if open.
func (b *Bus) Close() {
	b.mu.Lock()
	db := b.db
	b.db = nil
	b.mu.Unlock()
	if db != nil {
		db.Close()
	}
}

func (b *Bus) persist(db *bbolt.DB, set []string) error {
	data, err := json.Marshal(set)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(b.userID), data)
	})
}
