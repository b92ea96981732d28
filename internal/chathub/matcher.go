package chathub

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"tinchat/backend/internal/config"
	"tinchat/backend/internal/models"

	"github.com/rs/zerolog"
)

// MatcherService holds the per-chat-type waiting queues and picks partners.
// All queue mutations happen under one lock, so selecting a candidate and
// removing it from its queue is a single atomic step.
type MatcherService struct {
	logger zerolog.Logger
	now    func() time.Time
	intn   func(n int) int
	mirror *queueMirror

	mu     sync.Mutex
	queues map[models.ChatType][]models.WaitingEntry
	waits  map[models.ChatType][]time.Duration
}

// NewMatcherService creates a matcher. persistence may be nil, in which case
// the queues live only in memory.
func NewMatcherService(logger *zerolog.Logger, persistence QueuePersistence) *MatcherService {
	m := &MatcherService{
		logger: logger.With().Str("component", "matcher").Logger(),
		now:    time.Now,
		intn:   rand.IntN,
		queues: make(map[models.ChatType][]models.WaitingEntry, len(models.ChatTypes)),
		waits:  make(map[models.ChatType][]time.Duration, len(models.ChatTypes)),
	}
	if persistence != nil {
		m.mirror = newQueueMirror(persistence, &m.logger)
	}
	return m
}

// SetClock replaces the time source. Intended for tests.
func (m *MatcherService) SetClock(now func() time.Time) { m.now = now }

// SetRandom replaces the random index source. Intended for tests.
func (m *MatcherService) SetRandom(intn func(n int) int) { m.intn = intn }

// Run drives the persistence mirror until ctx is cancelled.
func (m *MatcherService) Run(ctx context.Context) {
	if m.mirror == nil {
		<-ctx.Done()
		return
	}
	m.mirror.run(ctx)
}

// AddToWaitingList queues entry after removing any earlier entry of the same
// connection or identity from every queue. It returns the 1-based position.
func (m *MatcherService) AddToWaitingList(entry models.WaitingEntry) int {
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = m.now()
	}

	m.mu.Lock()
	removed := m.removeLocked(func(e models.WaitingEntry) bool { return e.SameOwner(entry) })
	m.queues[entry.ChatType] = append(m.queues[entry.ChatType], entry)
	position := len(m.queues[entry.ChatType])
	m.mu.Unlock()

	for _, e := range removed {
		m.mirror.delete(e)
	}
	m.mirror.save(entry)

	m.logger.Debug().
		Str("connID", entry.ConnectionID).
		Str("chatType", string(entry.ChatType)).
		Int("position", position).
		Msg("added to waiting list")
	return position
}

// RemoveFromWaitingLists drops the entry of connID from whichever queue holds it.
func (m *MatcherService) RemoveFromWaitingLists(connID string) bool {
	m.mu.Lock()
	removed := m.removeLocked(func(e models.WaitingEntry) bool { return e.ConnectionID == connID })
	m.mu.Unlock()

	for _, e := range removed {
		m.mirror.delete(e)
	}
	return len(removed) > 0
}

// FindMatch selects a partner for requester from its chat type's queue and
// removes the partner from the queue before returning it.
//
// With interests, the oldest candidate sharing at least one interest wins.
// Otherwise, or when nobody shares one, a candidate is picked at random.
func (m *MatcherService) FindMatch(requester models.WaitingEntry) (models.WaitingEntry, bool) {
	m.mu.Lock()
	candidate, ok := m.takeLocked(requester)
	m.mu.Unlock()

	if ok {
		m.mirror.delete(candidate)
	}
	return candidate, ok
}

// MatchOrEnqueue takes a partner for entry if one is waiting, and queues
// entry otherwise. Both happen under one lock hold, so two requesters
// arriving together can never end up waiting for each other.
//
// position is only meaningful when matched is false.
func (m *MatcherService) MatchOrEnqueue(entry models.WaitingEntry) (candidate models.WaitingEntry, position int, matched bool) {
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = m.now()
	}

	m.mu.Lock()
	if candidate, matched = m.takeLocked(entry); matched {
		m.mu.Unlock()
		m.mirror.delete(candidate)
		return candidate, 0, true
	}
	removed := m.removeLocked(func(e models.WaitingEntry) bool { return e.SameOwner(entry) })
	m.queues[entry.ChatType] = append(m.queues[entry.ChatType], entry)
	position = len(m.queues[entry.ChatType])
	m.mu.Unlock()

	for _, e := range removed {
		m.mirror.delete(e)
	}
	m.mirror.save(entry)

	m.logger.Debug().
		Str("connID", entry.ConnectionID).
		Str("chatType", string(entry.ChatType)).
		Int("position", position).
		Msg("added to waiting list")
	return models.WaitingEntry{}, position, false
}

func (m *MatcherService) takeLocked(requester models.WaitingEntry) (models.WaitingEntry, bool) {
	queue := m.queues[requester.ChatType]

	eligible := make([]int, 0, len(queue))
	for i, e := range queue {
		if !e.SameOwner(requester) {
			eligible = append(eligible, i)
		}
	}
	if len(eligible) == 0 {
		return models.WaitingEntry{}, false
	}

	pick := -1
	if len(requester.Interests) > 0 {
		for _, i := range eligible {
			if len(requester.SharedInterests(queue[i])) > 0 {
				pick = i
				break
			}
		}
	}
	if pick < 0 {
		pick = eligible[m.intn(len(eligible))]
	}

	candidate := queue[pick]
	m.queues[requester.ChatType] = append(queue[:pick:pick], queue[pick+1:]...)
	m.recordWaitLocked(requester.ChatType, m.now().Sub(candidate.EnqueuedAt))
	return candidate, true
}

// CleanupStaleUsers removes waiting entries whose connection is gone.
func (m *MatcherService) CleanupStaleUsers(isLive func(connID string) bool) int {
	m.mu.Lock()
	removed := m.removeLocked(func(e models.WaitingEntry) bool { return !isLive(e.ConnectionID) })
	m.mu.Unlock()

	for _, e := range removed {
		m.mirror.delete(e)
	}
	if len(removed) > 0 {
		m.logger.Info().Int("removed", len(removed)).Msg("removed stale waiting entries")
	}
	return len(removed)
}

// QueueLength returns the number of entries waiting for chatType.
func (m *MatcherService) QueueLength(chatType models.ChatType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[chatType])
}

// Waiting returns a copy of the queue for chatType in FIFO order.
func (m *MatcherService) Waiting(chatType models.ChatType) []models.WaitingEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.WaitingEntry(nil), m.queues[chatType]...)
}

// IsWaiting reports whether connID has an entry in any queue.
func (m *MatcherService) IsWaiting(connID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.queues {
		for _, e := range q {
			if e.ConnectionID == connID {
				return true
			}
		}
	}
	return false
}

// EstimatedWait approximates how long the entry at position will wait,
// from the average wait of recent matches in the same chat type.
func (m *MatcherService) EstimatedWait(chatType models.ChatType, position int) time.Duration {
	m.mu.Lock()
	waits := m.waits[chatType]
	avg := config.DefaultWaitPerPosition
	if len(waits) > 0 {
		var sum time.Duration
		for _, w := range waits {
			sum += w
		}
		avg = sum / time.Duration(len(waits))
		if avg < time.Second {
			avg = time.Second
		}
	}
	m.mu.Unlock()
	return avg * time.Duration(position)
}

func (m *MatcherService) recordWaitLocked(chatType models.ChatType, wait time.Duration) {
	waits := append(m.waits[chatType], wait)
	if over := len(waits) - config.WaitHistorySize; over > 0 {
		waits = waits[over:]
	}
	m.waits[chatType] = waits
}

// removeLocked filters every queue in place and returns the dropped entries.
func (m *MatcherService) removeLocked(drop func(models.WaitingEntry) bool) []models.WaitingEntry {
	var removed []models.WaitingEntry
	for chatType, queue := range m.queues {
		kept := queue[:0]
		for _, e := range queue {
			if drop(e) {
				removed = append(removed, e)
				continue
			}
			kept = append(kept, e)
		}
		clear(queue[len(kept):])
		m.queues[chatType] = kept
	}
	return removed
}
