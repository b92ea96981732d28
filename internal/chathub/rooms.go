package chathub

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"tinchat/backend/internal/models"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Reasons carried by partnerLeft events.
const (
	LeftReasonLeft         = "left"
	LeftReasonSkipped      = "skipped"
	LeftReasonDisconnected = "disconnected"
	LeftReasonInactive     = "inactive"
)

// RoomRegistry owns every active room and the participant -> room index.
type RoomRegistry struct {
	logger     zerolog.Logger
	now        func() time.Time
	live       LivenessChecker
	sender     Sender
	inactivity time.Duration

	mu            sync.RWMutex
	rooms         map[string]*models.Room
	byParticipant map[string]string
}

// NewRoomRegistry creates a registry. live decides whether participants are
// still connected; sender notifies the remaining participant on deletion.
func NewRoomRegistry(logger *zerolog.Logger, live LivenessChecker, sender Sender, inactivity time.Duration) *RoomRegistry {
	return &RoomRegistry{
		logger:        logger.With().Str("component", "rooms").Logger(),
		now:           time.Now,
		live:          live,
		sender:        sender,
		inactivity:    inactivity,
		rooms:         make(map[string]*models.Room),
		byParticipant: make(map[string]string),
	}
}

// SetClock replaces the time source. Intended for tests.
func (r *RoomRegistry) SetClock(now func() time.Time) { r.now = now }

// NewRoomID returns a fresh time-sortable room ID.
func NewRoomID() string {
	return ulid.Make().String()
}

// CreateRoom pairs a and b. Both must be distinct, live, and not already in a
// room; a dead participant yields *PartnerUnavailableError and no room.
func (r *RoomRegistry) CreateRoom(id, a, b string, chatType models.ChatType) (models.Room, error) {
	if id == "" || a == "" || b == "" || a == b {
		return models.Room{}, ErrInvalidParticipants
	}
	for _, p := range [2]string{a, b} {
		if !r.live.IsLive(p) {
			return models.Room{}, &PartnerUnavailableError{PartnerID: p}
		}
	}

	now := r.now()
	room := &models.Room{
		ID:             id,
		Participants:   [2]string{a, b},
		ChatType:       chatType,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rooms[id]; exists {
		return models.Room{}, fmt.Errorf("room %s already exists", id)
	}
	for _, p := range room.Participants {
		if existing, busy := r.byParticipant[p]; busy {
			return models.Room{}, fmt.Errorf("%w: %s is in %s", ErrParticipantBusy, p, existing)
		}
	}
	r.rooms[id] = room
	r.byParticipant[a] = id
	r.byParticipant[b] = id

	r.logger.Info().
		Str("roomID", id).
		Str("a", a).
		Str("b", b).
		Str("chatType", string(chatType)).
		Msg("room created")
	return *room, nil
}

// GetRoom returns a copy of the room.
func (r *RoomRegistry) GetRoom(id string) (models.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	if !ok {
		return models.Room{}, false
	}
	return *room, true
}

// GetRoomByParticipant returns the room connID is in.
func (r *RoomRegistry) GetRoomByParticipant(connID string) (models.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byParticipant[connID]
	if !ok {
		return models.Room{}, false
	}
	room, ok := r.rooms[id]
	if !ok {
		return models.Room{}, false
	}
	return *room, true
}

// ResolvePartner checks that connID is in roomID and returns the other participant.
func (r *RoomRegistry) ResolvePartner(roomID, connID string) (string, error) {
	room, ok := r.GetRoom(roomID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	partner, ok := room.Partner(connID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotInRoom, roomID)
	}
	return partner, nil
}

// Touch bumps the room's last activity.
func (r *RoomRegistry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[id]; ok {
		room.LastActivityAt = r.now()
	}
}

// DeleteRoom removes the room and both index entries, then tells every
// participant other than leaverID that is still connected that its partner
// left. An empty leaverID notifies both.
func (r *RoomRegistry) DeleteRoom(id, leaverID, reason string) (models.Room, bool) {
	r.mu.Lock()
	room, ok := r.removeLocked(id)
	r.mu.Unlock()

	if !ok {
		return models.Room{}, false
	}
	r.notifyClosed(room, leaverID, reason)
	return room, true
}

// DiscardRoom removes a room nobody was told about yet. Unlike DeleteRoom it
// sends nothing.
func (r *RoomRegistry) DiscardRoom(id string) bool {
	r.mu.Lock()
	_, ok := r.removeLocked(id)
	r.mu.Unlock()
	return ok
}

// SweepInactiveRooms deletes rooms idle for longer than the inactivity
// timeout, notifying participants the same way DeleteRoom does.
func (r *RoomRegistry) SweepInactiveRooms() []models.Room {
	now := r.now()

	r.mu.Lock()
	var deleted []models.Room
	for id, room := range r.rooms {
		if now.Sub(room.LastActivityAt) <= r.inactivity {
			continue
		}
		if removed, ok := r.removeLocked(id); ok {
			deleted = append(deleted, removed)
		}
	}
	r.mu.Unlock()

	sort.Slice(deleted, func(i, j int) bool { return deleted[i].ID < deleted[j].ID })
	for _, room := range deleted {
		r.notifyClosed(room, "", LeftReasonInactive)
	}
	return deleted
}

func (r *RoomRegistry) removeLocked(id string) (models.Room, bool) {
	room, ok := r.rooms[id]
	if !ok {
		return models.Room{}, false
	}
	delete(r.rooms, id)
	for _, p := range room.Participants {
		if r.byParticipant[p] == id {
			delete(r.byParticipant, p)
		}
	}
	return *room, true
}

func (r *RoomRegistry) notifyClosed(room models.Room, leaverID, reason string) {
	for _, p := range room.Participants {
		if p == leaverID || !r.live.IsLive(p) {
			continue
		}
		r.sender.SendTo(p, models.Envelope{
			Event:   models.EventPartnerLeft,
			Payload: models.PartnerLeftPayload{Reason: reason},
		})
	}
	r.logger.Info().
		Str("roomID", room.ID).
		Str("reason", reason).
		Dur("lifetime", r.now().Sub(room.CreatedAt)).
		Msg("room deleted")
}

// Count returns the number of active rooms.
func (r *RoomRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// CountByType returns active rooms per chat type.
func (r *RoomRegistry) CountByType() map[models.ChatType]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[models.ChatType]int, len(models.ChatTypes))
	for _, room := range r.rooms {
		counts[room.ChatType]++
	}
	return counts
}
