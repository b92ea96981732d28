package chathub

import (
	"context"

	"tinchat/backend/internal/models"
)

// OpenRoom runs the room setup half of a match on its own, so tests can
// interleave a disconnect between room creation and entry.
func (m *ManagerService) OpenRoom(ctx context.Context, room models.Room, entry, candidate models.WaitingEntry) {
	m.openRoom(ctx, room, entry, candidate)
}
