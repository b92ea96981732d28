package chathub

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

type dedupKey struct {
	scope string
	hash  uint64
}

type contentRecord struct {
	count   int
	expires time.Time
}

// Deduplicator rejects replayed and repeated chat messages without keeping
// their content: only hashes and expiry times are stored.
//
// Checks run in order: explicit message ID (per identity), identical content
// from the same identity more than twice in the window, identical content
// already seen in the same room in the window.
type Deduplicator struct {
	now           func() time.Time
	contentWindow time.Duration
	idWindow      time.Duration

	mu       sync.Mutex
	ids      map[string]time.Time
	identity map[dedupKey]*contentRecord
	rooms    map[dedupKey]time.Time
}

// NewDeduplicator creates a deduplicator with the given windows.
func NewDeduplicator(contentWindow, idWindow time.Duration) *Deduplicator {
	return &Deduplicator{
		now:           time.Now,
		contentWindow: contentWindow,
		idWindow:      idWindow,
		ids:           make(map[string]time.Time),
		identity:      make(map[dedupKey]*contentRecord),
		rooms:         make(map[dedupKey]time.Time),
	}
}

// SetClock replaces the time source. Intended for tests.
func (d *Deduplicator) SetClock(now func() time.Time) { d.now = now }

// Check returns *DuplicateError if the message must be dropped. Only an
// accepted message is recorded, so a rejected one can be retried under the
// same message ID once its content is fixed.
func (d *Deduplicator) Check(identity, roomID, messageID, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()

	idKey := identity + "\x00" + messageID
	if messageID != "" {
		if exp, ok := d.ids[idKey]; ok && now.Before(exp) {
			return &DuplicateError{Kind: DuplicateMessageID}
		}
	}

	hash := xxhash.Sum64String(text)

	ik := dedupKey{scope: identity, hash: hash}
	rec, ok := d.identity[ik]
	if !ok || !now.Before(rec.expires) {
		rec = &contentRecord{expires: now.Add(d.contentWindow)}
	}
	if rec.count+1 > 2 {
		return &DuplicateError{Kind: DuplicateSpam}
	}

	rk := dedupKey{scope: roomID, hash: hash}
	if exp, ok := d.rooms[rk]; ok && now.Before(exp) {
		return &DuplicateError{Kind: DuplicateRoom}
	}

	if messageID != "" {
		d.ids[idKey] = now.Add(d.idWindow)
	}
	rec.count++
	d.identity[ik] = rec
	d.rooms[rk] = now.Add(d.contentWindow)
	return nil
}

// Sweep drops expired records and returns how many were removed.
func (d *Deduplicator) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	removed := 0
	for k, exp := range d.ids {
		if !now.Before(exp) {
			delete(d.ids, k)
			removed++
		}
	}
	for k, rec := range d.identity {
		if !now.Before(rec.expires) {
			delete(d.identity, k)
			removed++
		}
	}
	for k, exp := range d.rooms {
		if !now.Before(exp) {
			delete(d.rooms, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of live records, for stats and tests.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ids) + len(d.identity) + len(d.rooms)
}
