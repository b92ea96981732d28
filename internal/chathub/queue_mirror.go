package chathub

import (
	"context"

	"tinchat/backend/internal/config"
	"tinchat/backend/internal/models"

	"github.com/rs/zerolog"
)

// QueuePersistence is the optional durability layer for waiting entries.
type QueuePersistence interface {
	SaveWaitingEntry(ctx context.Context, entry models.WaitingEntry) error
	DeleteWaitingEntry(ctx context.Context, chatType models.ChatType, connID string) error
}

type mirrorOp struct {
	save  bool
	entry models.WaitingEntry
}

// queueMirror replays queue mutations into the persistence layer from a
// single goroutine, so matching never waits on the backing store and the
// store sees mutations in order.
type queueMirror struct {
	store  QueuePersistence
	ops    chan mirrorOp
	logger zerolog.Logger
}

func newQueueMirror(store QueuePersistence, logger *zerolog.Logger) *queueMirror {
	return &queueMirror{
		store:  store,
		ops:    make(chan mirrorOp, config.QueueMirrorBufferSize),
		logger: logger.With().Str("subcomponent", "queue-mirror").Logger(),
	}
}

func (q *queueMirror) save(entry models.WaitingEntry) {
	q.push(mirrorOp{save: true, entry: entry})
}

func (q *queueMirror) delete(entry models.WaitingEntry) {
	q.push(mirrorOp{entry: entry})
}

func (q *queueMirror) push(op mirrorOp) {
	if q == nil {
		return
	}
	select {
	case q.ops <- op:
	default:
		q.logger.Warn().
			Str("connID", op.entry.ConnectionID).
			Bool("save", op.save).
			Msg("queue mirror is full, dropping persistence update")
	}
}

func (q *queueMirror) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-q.ops:
			q.apply(op)
		}
	}
}

func (q *queueMirror) apply(op mirrorOp) {
	ctx, cancel := context.WithTimeout(context.Background(), config.QueueMirrorWriteTimeout)
	defer cancel()

	var err error
	if op.save {
		err = q.store.SaveWaitingEntry(ctx, op.entry)
	} else {
		err = q.store.DeleteWaitingEntry(ctx, op.entry.ChatType, op.entry.ConnectionID)
	}
	if err != nil {
		q.logger.Error().
			Err(err).
			Str("connID", op.entry.ConnectionID).
			Bool("save", op.save).
			Msg("failed to mirror waiting queue")
	}
}
