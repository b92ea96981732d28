package chathub

import (
	"sync"
	"time"

	"tinchat/backend/internal/models"
)

// Enqueuer accepts events for batched delivery.
type Enqueuer interface {
	Enqueue(recipientID, event string, payload any, priority models.Priority)
}

type typingEntry struct {
	recipient string
	roomID    string
	timer     *time.Timer
}

// TypingTracker relays typing indicators and stops them on its own when the
// client never sends typingStop.
type TypingTracker struct {
	out Enqueuer
	ttl time.Duration

	mu      sync.Mutex
	typists map[string]*typingEntry
}

func NewTypingTracker(out Enqueuer, ttl time.Duration) *TypingTracker {
	return &TypingTracker{
		out:     out,
		ttl:     ttl,
		typists: make(map[string]*typingEntry),
	}
}

// Start tells recipient that sender is typing. Repeated starts only extend
// the expiry.
func (t *TypingTracker) Start(sender, recipient, roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.typists[sender]; ok {
		cur.timer.Stop()
		if cur.recipient == recipient && cur.roomID == roomID {
			cur.timer = t.expireAfter(sender, cur)
			return
		}
		t.out.Enqueue(cur.recipient, models.EventPartnerTypingStop, models.TypingPayload{RoomID: cur.roomID}, models.PriorityLow)
	}

	entry := &typingEntry{recipient: recipient, roomID: roomID}
	entry.timer = t.expireAfter(sender, entry)
	t.typists[sender] = entry
	t.out.Enqueue(recipient, models.EventPartnerTypingStart, models.TypingPayload{RoomID: roomID}, models.PriorityLow)
}

// Stop ends the indicator of sender, if one is active.
func (t *TypingTracker) Stop(sender string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.typists[sender]
	if !ok {
		return false
	}
	cur.timer.Stop()
	delete(t.typists, sender)
	t.out.Enqueue(cur.recipient, models.EventPartnerTypingStop, models.TypingPayload{RoomID: cur.roomID}, models.PriorityLow)
	return true
}

// Clear silently drops every indicator sent by or to connID.
func (t *TypingTracker) Clear(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for sender, entry := range t.typists {
		if sender == connID || entry.recipient == connID {
			entry.timer.Stop()
			delete(t.typists, sender)
		}
	}
}

// Active reports whether sender currently has an indicator running.
func (t *TypingTracker) Active(sender string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.typists[sender]
	return ok
}

func (t *TypingTracker) expireAfter(sender string, entry *typingEntry) *time.Timer {
	return time.AfterFunc(t.ttl, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		// A newer Start may have replaced the entry after this timer fired.
		if t.typists[sender] != entry {
			return
		}
		delete(t.typists, sender)
		t.out.Enqueue(entry.recipient, models.EventPartnerTypingStop, models.TypingPayload{RoomID: entry.roomID}, models.PriorityLow)
	})
}
