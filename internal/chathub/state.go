package chathub

import (
	"sync"
	"time"

	"tinchat/backend/internal/models"

	"github.com/rs/zerolog"
)

// StateTracker is the idle/searching/matched/in_chat state machine, keyed by
// identity (authenticated ID when present, connection ID otherwise). Every
// transition overwrites the single record of its key.
type StateTracker struct {
	logger   zerolog.Logger
	now      func() time.Time
	cooldown time.Duration

	mu         sync.Mutex
	states     map[string]*models.IdentityState
	byConn     map[string]string
	lastSearch map[string]time.Time
}

// NewStateTracker creates a tracker that rate-limits search requests per
// connection with the given cooldown.
func NewStateTracker(logger *zerolog.Logger, cooldown time.Duration) *StateTracker {
	return &StateTracker{
		logger:     logger.With().Str("component", "state").Logger(),
		now:        time.Now,
		cooldown:   cooldown,
		states:     make(map[string]*models.IdentityState),
		byConn:     make(map[string]string),
		lastSearch: make(map[string]time.Time),
	}
}

// SetClock replaces the time source. Intended for tests.
func (t *StateTracker) SetClock(now func() time.Time) { t.now = now }

// State returns a copy of the record for key; unknown keys are idle.
func (t *StateTracker) State(key string) models.IdentityState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.states[key]; ok {
		return copyState(st)
	}
	return models.IdentityState{State: models.StateIdle}
}

// KeyFor returns the identity key a connection last acted under.
func (t *StateTracker) KeyFor(connID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key, ok := t.byConn[connID]
	return key, ok
}

// Track remembers which key a connection acts under without changing state.
func (t *StateTracker) Track(key, connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byConn[connID] = key
	if _, ok := t.states[key]; !ok {
		t.states[key] = &models.IdentityState{State: models.StateIdle, ConnectionID: connID}
	}
}

// Rebind moves an idle connection from the key it was tracked under to
// newKey, used when an anonymous connection presents a stable identity.
func (t *StateTracker) Rebind(connID, newKey string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if oldKey, ok := t.byConn[connID]; ok && oldKey != newKey {
		if cur, exists := t.states[oldKey]; exists && cur.ConnectionID == connID {
			if cur.State != models.StateIdle {
				return &StateConflictError{Key: KeyLeaveChatFirst, Current: cur.State}
			}
			delete(t.states, oldKey)
		}
	}
	t.byConn[connID] = newKey
	if _, ok := t.states[newKey]; !ok {
		t.states[newKey] = &models.IdentityState{State: models.StateIdle, ConnectionID: connID}
	}
	return nil
}

// BeginSearch moves key from idle to searching. A request inside the cooldown
// window of the same connection returns *RateLimitError; a request while
// already searching or chatting returns *StateConflictError. Neither mutates.
func (t *StateTracker) BeginSearch(key, connID string, chatType models.ChatType, interests []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if last, ok := t.lastSearch[connID]; ok {
		if elapsed := now.Sub(last); elapsed < t.cooldown {
			return &RateLimitError{Remaining: t.cooldown - elapsed}
		}
	}

	if cur, ok := t.states[key]; ok {
		switch cur.State {
		case models.StateSearching:
			return &StateConflictError{Key: KeyAlreadySearching, Current: cur.State}
		case models.StateMatched, models.StateInChat:
			return &StateConflictError{Key: KeyLeaveChatFirst, Current: cur.State}
		}
	}

	t.lastSearch[connID] = now
	t.byConn[connID] = key
	t.states[key] = &models.IdentityState{
		State:           models.StateSearching,
		ConnectionID:    connID,
		SearchStartedAt: now,
		ChatType:        chatType,
		Interests:       append([]string(nil), interests...),
	}
	return nil
}

// StopSearch moves key from searching back to idle and returns the record as
// it was while searching. A key that is matched but not yet in its room is
// cancelled too; the room setup then finds it idle and gives up the match.
func (t *StateTracker) StopSearch(key string) (models.IdentityState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.states[key]
	if !ok || (cur.State != models.StateSearching && cur.State != models.StateMatched) {
		return models.IdentityState{}, &StateConflictError{Key: KeyNotSearching, Current: stateOf(cur)}
	}
	prev := copyState(cur)
	cur.State = models.StateIdle
	cur.SearchStartedAt = time.Time{}
	return prev, nil
}

// MarkMatched moves every key from searching to matched, or none of them.
func (t *StateTracker) MarkMatched(keys ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, key := range keys {
		cur, ok := t.states[key]
		if !ok || cur.State != models.StateSearching {
			return &StateConflictError{Key: KeyNotSearching, Current: stateOf(cur)}
		}
	}
	for _, key := range keys {
		t.states[key].State = models.StateMatched
	}
	return nil
}

// EnterRoom moves every matched key into in_chat and records the room on each.
func (t *StateTracker) EnterRoom(roomID string, keys ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, key := range keys {
		cur, ok := t.states[key]
		if !ok || cur.State != models.StateMatched {
			return &StateConflictError{Key: KeyNotSearching, Current: stateOf(cur)}
		}
	}
	for _, key := range keys {
		st := t.states[key]
		st.State = models.StateInChat
		st.RoomID = roomID
		st.SearchStartedAt = time.Time{}
	}
	return nil
}

// RevertToSearching undoes a match that never became a room.
func (t *StateTracker) RevertToSearching(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.states[key]; ok && cur.State == models.StateMatched {
		cur.State = models.StateSearching
		cur.SearchStartedAt = t.now()
	}
}

// AbandonMatch sends key back to searching when it is matched, or in_chat
// in roomID, for a room that never came to be. It returns whether a
// transition happened.
func (t *StateTracker) AbandonMatch(key, roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.states[key]
	if !ok {
		return false
	}
	switch {
	case cur.State == models.StateMatched:
	case cur.State == models.StateInChat && cur.RoomID == roomID:
	default:
		return false
	}
	cur.State = models.StateSearching
	cur.RoomID = ""
	cur.SearchStartedAt = t.now()
	return true
}

// LeaveRoom moves key to idle if it is still in roomID. It returns whether
// a transition happened.
func (t *StateTracker) LeaveRoom(key, roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.states[key]
	if !ok || cur.State != models.StateInChat || cur.RoomID != roomID {
		return false
	}
	cur.State = models.StateIdle
	cur.RoomID = ""
	return true
}

// Skip sends the skipper back to searching with its previous search
// parameters while the skipped partner goes idle.
func (t *StateTracker) Skip(skipperKey, partnerKey, roomID string) (models.IdentityState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	skipper, ok := t.states[skipperKey]
	if !ok || skipper.State != models.StateInChat || skipper.RoomID != roomID {
		return models.IdentityState{}, &StateConflictError{Key: KeyNotInRoom, Current: stateOf(skipper)}
	}
	skipper.State = models.StateSearching
	skipper.RoomID = ""
	skipper.SearchStartedAt = t.now()

	if partner, ok := t.states[partnerKey]; ok && partner.State == models.StateInChat && partner.RoomID == roomID {
		partner.State = models.StateIdle
		partner.RoomID = ""
	}
	return copyState(skipper), nil
}

// Release forgets a connection. The identity record is dropped only if that
// connection still owns it, so a newer connection of the same identity keeps
// its state.
func (t *StateTracker) Release(connID string) (models.IdentityState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key, ok := t.byConn[connID]
	delete(t.byConn, connID)
	delete(t.lastSearch, connID)
	if !ok {
		return models.IdentityState{}, false
	}
	cur, ok := t.states[key]
	if !ok || cur.ConnectionID != connID {
		return models.IdentityState{}, false
	}
	delete(t.states, key)
	return copyState(cur), true
}

// Counts returns how many identities are in each state.
func (t *StateTracker) Counts() map[models.SearchState]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	counts := make(map[models.SearchState]int, 4)
	for _, st := range t.states {
		counts[st.State]++
	}
	return counts
}

func stateOf(st *models.IdentityState) models.SearchState {
	if st == nil {
		return models.StateIdle
	}
	return st.State
}

func copyState(st *models.IdentityState) models.IdentityState {
	c := *st
	c.Interests = append([]string(nil), st.Interests...)
	return c
}
