package models

import "time"

// SearchState is a node of the per-identity state machine.
type SearchState string

const (
	StateIdle      SearchState = "idle"
	StateSearching SearchState = "searching"
	StateMatched   SearchState = "matched"
	StateInChat    SearchState = "in_chat"
)

// ProfileSnapshot is a point-in-time copy of the display attributes
// shown to a partner. It is never refreshed after it is taken.
type ProfileSnapshot struct {
	DisplayName string   `json:"display_name"`
	Color       string   `json:"color"`
	Animation   string   `json:"animation,omitempty"`
	Badges      []string `json:"badges,omitempty"`
}

// WaitingEntry is a queued, not yet matched search request.
type WaitingEntry struct {
	ConnectionID string          `json:"connection_id"`
	Identity     string          `json:"identity,omitempty"`
	ChatType     ChatType        `json:"chat_type"`
	Interests    []string        `json:"interests,omitempty"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	Profile      ProfileSnapshot `json:"profile"`
}

// SameOwner reports whether e and other belong to the same connection or,
// when both carry one, the same identity.
func (e WaitingEntry) SameOwner(other WaitingEntry) bool {
	if e.ConnectionID == other.ConnectionID {
		return true
	}
	return e.Identity != "" && e.Identity == other.Identity
}

// SharedInterests returns the interests present in both entries, in e's order.
func (e WaitingEntry) SharedInterests(other WaitingEntry) []string {
	if len(e.Interests) == 0 || len(other.Interests) == 0 {
		return nil
	}
	theirs := make(map[string]struct{}, len(other.Interests))
	for _, i := range other.Interests {
		theirs[i] = struct{}{}
	}
	var shared []string
	for _, i := range e.Interests {
		if _, ok := theirs[i]; ok {
			shared = append(shared, i)
		}
	}
	return shared
}

// IdentityState is the state machine record for one identity key.
type IdentityState struct {
	State           SearchState `json:"state"`
	ConnectionID    string      `json:"connection_id"`
	RoomID          string      `json:"room_id,omitempty"`
	SearchStartedAt time.Time   `json:"search_started_at,omitempty"`
	// ChatType and Interests remember the last search so a skip can
	// re-enter matching with the same parameters.
	ChatType  ChatType `json:"chat_type,omitempty"`
	Interests []string `json:"interests,omitempty"`
}
