// Package room implements chat rooms with bounded history and per-subscriber
// delivery queues.
package room

import (
	"fmt"
	"strings"
	"sync"

	"github.com/doodlelabs/doodlechat/internal/metrics"
)

const (
	// historyCap bounds the per-room history; the oldest entry is evicted.
	historyCap = 1000
	// joinSnapshotSize is how much history a joining subscriber receives.
	joinSnapshotSize = 50
)

// Room holds a subscriber set and a bounded message history. Broadcasts
// commit to history under the state lock, then fan out to a snapshot of the
// subscriber queues after the lock is released; fanoutMu serializes whole
// broadcasts so every queue sees the same order as history.
type Room struct {
	name         string
	isAI         bool
	systemPrompt string

	fanoutMu sync.Mutex
	mu       sync.RWMutex
	history  []string
	subs     map[string]*MessageQueue
}

func newRoom(name string, isAI bool, systemPrompt string) *Room {
	return &Room{
		name:         name,
		isAI:         isAI,
		systemPrompt: systemPrompt,
		subs:         make(map[string]*MessageQueue),
	}
}

// Name returns the room name.
func (r *Room) Name() string { return r.name }

// IsAI reports whether a bot participates in this room.
func (r *Room) IsAI() bool { return r.isAI }

// SystemPrompt returns the bot's system prompt, empty for plain rooms.
func (r *Room) SystemPrompt() string { return r.systemPrompt }

// AddUser attaches a subscriber and seeds its queue with the most recent
// history. Rejoining replaces the previous queue; the old one is killed.
// The returned queue lets the caller enqueue lines addressed to this
// subscriber only, ordered after the history snapshot.
func (r *Room) AddUser(username string, deliver DeliverFunc) *MessageQueue {
	q := NewMessageQueue(deliver)

	r.mu.Lock()
	if old, ok := r.subs[username]; ok {
		old.Kill()
	}
	r.subs[username] = q
	start := len(r.history) - joinSnapshotSize
	if start < 0 {
		start = 0
	}
	for _, msg := range r.history[start:] {
		q.Enqueue(msg)
	}
	size := len(r.subs)
	r.mu.Unlock()

	metrics.RoomSubscribers.WithLabelValues(r.name).Set(float64(size))
	return q
}

// RemoveUser detaches a subscriber and kills its queue.
func (r *Room) RemoveUser(username string) {
	r.mu.Lock()
	q, ok := r.subs[username]
	if ok {
		delete(r.subs, username)
	}
	size := len(r.subs)
	r.mu.Unlock()

	if ok {
		q.Kill()
		metrics.RoomSubscribers.WithLabelValues(r.name).Set(float64(size))
	}
}

// HasUser reports whether username is currently subscribed.
func (r *Room) HasUser(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subs[username]
	return ok
}

// SubscriberCount returns the number of attached subscribers.
func (r *Room) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// UserMessage broadcasts a message from a user.
func (r *Room) UserMessage(username, text string) {
	r.broadcast(fmt.Sprintf("%s: %s", username, text))
}

// BotMessage broadcasts a reply from the room bot. Newlines in the payload
// are preserved.
func (r *Room) BotMessage(text string) {
	r.broadcast("Bot: " + text)
}

// SystemMessage broadcasts a bracketed system notice.
func (r *Room) SystemMessage(text string) {
	r.broadcast("[" + text + "]")
}

func (r *Room) broadcast(msg string) {
	r.fanoutMu.Lock()
	defer r.fanoutMu.Unlock()

	r.mu.Lock()
	r.history = append(r.history, msg)
	if len(r.history) > historyCap {
		r.history = r.history[len(r.history)-historyCap:]
	}
	queues := make([]*MessageQueue, 0, len(r.subs))
	for _, q := range r.subs {
		queues = append(queues, q)
	}
	r.mu.Unlock()

	for _, q := range queues {
		q.Enqueue(msg)
	}
	metrics.BroadcastsTotal.WithLabelValues(r.name).Inc()
}

// HistorySnapshot returns the last k history entries joined by newlines.
func (r *Room) HistorySnapshot(k int) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start := len(r.history) - k
	if start < 0 {
		start = 0
	}
	return strings.Join(r.history[start:], "\n")
}

// HistoryLen returns the current history length.
func (r *Room) HistoryLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.history)
}
