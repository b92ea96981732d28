package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tinchat/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "tinchat:queue:"

// QueueKey is the sorted set of waiting connection IDs for chatType, scored
// by enqueue time in unix milliseconds.
func QueueKey(chatType models.ChatType) string {
	return keyPrefix + string(chatType)
}

// EntryKey is the hash holding one serialized waiting entry.
func EntryKey(connID string) string {
	return keyPrefix + "entry:" + connID
}

// QueueStore mirrors the in-memory waiting queues into Redis.
type QueueStore struct {
	rdb *redis.Client
}

func NewQueueStore(rdb *redis.Client) *QueueStore {
	return &QueueStore{rdb: rdb}
}

func (q *QueueStore) SaveWaitingEntry(ctx context.Context, entry models.WaitingEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode waiting entry: %w", err)
	}
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, QueueKey(entry.ChatType), redis.Z{
			Score:  float64(entry.EnqueuedAt.UnixMilli()),
			Member: entry.ConnectionID,
		})
		pipe.HSet(ctx, EntryKey(entry.ConnectionID), "chat_type", string(entry.ChatType), "data", data)
		return nil
	})
	return err
}

func (q *QueueStore) DeleteWaitingEntry(ctx context.Context, chatType models.ChatType, connID string) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, QueueKey(chatType), connID)
		pipe.Del(ctx, EntryKey(connID))
		return nil
	})
	return err
}

// ListWaitingEntries returns the persisted entries of chatType oldest first.
func (q *QueueStore) ListWaitingEntries(ctx context.Context, chatType models.ChatType) ([]models.WaitingEntry, error) {
	ids, err := q.rdb.ZRange(ctx, QueueKey(chatType), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]models.WaitingEntry, 0, len(ids))
	for _, id := range ids {
		data, err := q.rdb.HGet(ctx, EntryKey(id), "data").Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var entry models.WaitingEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("decode waiting entry %s: %w", id, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Reset drops every persisted entry. Queues live in process memory, so
// entries left by a previous process are stale at startup.
func (q *QueueStore) Reset(ctx context.Context) error {
	for _, chatType := range models.ChatTypes {
		ids, err := q.rdb.ZRange(ctx, QueueKey(chatType), 0, -1).Result()
		if err != nil {
			return err
		}
		keys := []string{QueueKey(chatType)}
		for _, id := range ids {
			keys = append(keys, EntryKey(id))
		}
		if err := q.rdb.Del(ctx, keys...).Err(); err != nil {
			return err
		}
	}
	return nil
}
