package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ProfileChannel carries the identity of every profile edited outside the
// running server.
const ProfileChannel = "tinchat:profile:changed"

// ProfileNotifier announces profile edits over Redis pub/sub so running
// servers can drop their cached copy.
type ProfileNotifier struct {
	rdb *redis.Client
}

func NewProfileNotifier(rdb *redis.Client) *ProfileNotifier {
	return &ProfileNotifier{rdb: rdb}
}

// Publish announces that the profile of identity changed.
func (n *ProfileNotifier) Publish(ctx context.Context, identity string) error {
	if err := n.rdb.Publish(ctx, ProfileChannel, identity).Err(); err != nil {
		return fmt.Errorf("failed to publish profile change: %w", err)
	}
	return nil
}

// Subscribe returns the identities published on ProfileChannel. The returned
// channel is closed once ctx is done or the subscription breaks.
func (n *ProfileNotifier) Subscribe(ctx context.Context) (<-chan string, error) {
	sub := n.rdb.Subscribe(ctx, ProfileChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to profile changes: %w", err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
