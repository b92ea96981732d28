package chathub

import (
	"context"
	"math"
	"sync"
	"time"

	"tinchat/backend/internal/config"
	"tinchat/backend/internal/models"

	"github.com/rs/zerolog"
)

// BatcherStats counts what the batcher delivered and discarded.
type BatcherStats struct {
	Queued          int   `json:"queued"`
	Delivered       int64 `json:"delivered"`
	DroppedOverload int64 `json:"dropped_overload"`
	DroppedStale    int64 `json:"dropped_stale"`
	Undeliverable   int64 `json:"undeliverable"`
}

// DeliveryBatcher coalesces outbound events per recipient. The queue keeps
// high priority entries as a FIFO prefix followed by everything else in FIFO
// order.
type DeliveryBatcher struct {
	logger    zerolog.Logger
	sender    Sender
	now       func() time.Time
	tick      time.Duration
	batchSize int
	maxQueue  int
	maxAge    time.Duration
	dropRate  float64

	mu        sync.Mutex
	queue     []models.OutboundMessage
	highCount int
	stats     BatcherStats
}

// NewDeliveryBatcher creates a batcher flushing to sender every tick.
func NewDeliveryBatcher(logger *zerolog.Logger, sender Sender, tick, maxAge time.Duration) *DeliveryBatcher {
	return &DeliveryBatcher{
		logger:    logger.With().Str("component", "batcher").Logger(),
		sender:    sender,
		now:       time.Now,
		tick:      tick,
		batchSize: config.BatchSize,
		maxQueue:  config.MaxQueueSize,
		maxAge:    maxAge,
		dropRate:  config.OverloadDropRate,
	}
}

// SetClock replaces the time source. Intended for tests.
func (b *DeliveryBatcher) SetClock(now func() time.Time) { b.now = now }

// SetLimits overrides the batch and queue sizes. Intended for tests.
func (b *DeliveryBatcher) SetLimits(batchSize, maxQueue int) {
	b.batchSize = batchSize
	b.maxQueue = maxQueue
}

// Enqueue queues an event. It never blocks: when the queue is full the
// oldest share of entries is discarded first.
func (b *DeliveryBatcher) Enqueue(recipientID, event string, payload any, priority models.Priority) {
	msg := models.OutboundMessage{
		RecipientID: recipientID,
		Event:       event,
		Payload:     payload,
		Priority:    priority,
		EnqueuedAt:  b.now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) >= b.maxQueue {
		b.dropOldestLocked()
	}

	if priority == models.PriorityHigh {
		b.queue = append(b.queue, models.OutboundMessage{})
		copy(b.queue[b.highCount+1:], b.queue[b.highCount:])
		b.queue[b.highCount] = msg
		b.highCount++
		return
	}
	b.queue = append(b.queue, msg)
}

// dropOldestLocked discards the oldest entries across both tiers. Each tier
// is already ordered by age, so a merge of their fronts finds them.
func (b *DeliveryBatcher) dropOldestLocked() {
	n := int(math.Ceil(float64(len(b.queue)) * b.dropRate))
	if n < 1 {
		n = 1
	}
	hi, lo := 0, b.highCount
	for dropped := 0; dropped < n; dropped++ {
		takeHigh := hi < b.highCount &&
			(lo >= len(b.queue) || !b.queue[lo].EnqueuedAt.Before(b.queue[hi].EnqueuedAt))
		if takeHigh {
			hi++
		} else {
			lo++
		}
	}

	kept := make([]models.OutboundMessage, 0, len(b.queue)-n+1)
	kept = append(kept, b.queue[hi:b.highCount]...)
	kept = append(kept, b.queue[lo:]...)
	b.highCount -= hi
	b.queue = kept
	b.stats.DroppedOverload += int64(n)

	b.logger.Warn().Int("dropped", n).Int("remaining", len(kept)).Msg("delivery queue overloaded")
}

// Discard removes every queued event of the given kind addressed to
// recipientID and returns how many were dropped.
func (b *DeliveryBatcher) Discard(recipientID, event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.queue[:0]
	highKept := 0
	for i, msg := range b.queue {
		if msg.RecipientID == recipientID && msg.Event == event {
			continue
		}
		if i < b.highCount {
			highKept++
		}
		kept = append(kept, msg)
	}
	dropped := len(b.queue) - len(kept)
	clear(b.queue[len(kept):])
	b.queue = kept
	b.highCount = highKept
	return dropped
}

// Flush delivers up to one batch and returns how many events were sent.
func (b *DeliveryBatcher) Flush() int {
	now := b.now()

	b.mu.Lock()
	take := min(b.batchSize, len(b.queue))
	batch := make([]models.OutboundMessage, take)
	copy(batch, b.queue[:take])
	b.queue = append(b.queue[:0], b.queue[take:]...)
	b.highCount -= min(b.highCount, take)
	b.mu.Unlock()

	var (
		order  []string
		groups = make(map[string][]models.Envelope)
		stale  int64
	)
	for _, msg := range batch {
		if now.Sub(msg.EnqueuedAt) > b.maxAge {
			stale++
			continue
		}
		if _, seen := groups[msg.RecipientID]; !seen {
			order = append(order, msg.RecipientID)
		}
		groups[msg.RecipientID] = append(groups[msg.RecipientID], models.Envelope{Event: msg.Event, Payload: msg.Payload})
	}

	var delivered, failed int64
	for _, recipient := range order {
		envs := groups[recipient]
		env := envs[0]
		if len(envs) > 1 {
			env = models.Envelope{
				Event:   models.EventBatchedMessages,
				Payload: models.BatchedMessagesPayload{Messages: envs},
			}
		}
		if b.sender.SendTo(recipient, env) {
			delivered += int64(len(envs))
		} else {
			failed += int64(len(envs))
		}
	}

	b.mu.Lock()
	b.stats.Delivered += delivered
	b.stats.DroppedStale += stale
	b.stats.Undeliverable += failed
	b.mu.Unlock()

	if stale > 0 {
		b.logger.Debug().Int64("stale", stale).Msg("dropped stale deliveries")
	}
	return int(delivered)
}

// SendImmediate bypasses the queue.
func (b *DeliveryBatcher) SendImmediate(recipientID, event string, payload any) bool {
	ok := b.sender.SendTo(recipientID, models.Envelope{Event: event, Payload: payload})
	b.mu.Lock()
	if ok {
		b.stats.Delivered++
	} else {
		b.stats.Undeliverable++
	}
	b.mu.Unlock()
	return ok
}

// Len returns the number of queued entries.
func (b *DeliveryBatcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Stats returns a snapshot of the counters.
func (b *DeliveryBatcher) Stats() BatcherStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.Queued = len(b.queue)
	return s
}

// Run flushes on every tick until ctx is cancelled, then drains what is left.
func (b *DeliveryBatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			for b.Len() > 0 {
				b.safeFlush()
			}
			return
		case <-ticker.C:
			b.safeFlush()
		}
	}
}

func (b *DeliveryBatcher) safeFlush() {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error().Interface("panic", rec).Msg("flush panicked")
		}
	}()
	b.Flush()
}
