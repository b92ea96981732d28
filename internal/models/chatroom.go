package models

import "time"

// ChatType is the kind of session a participant is looking for.
// Waiting queues and rooms are partitioned by it.
type ChatType string

const (
	ChatTypeText  ChatType = "text"
	ChatTypeVideo ChatType = "video"
)

// ChatTypes lists every supported chat type.
var ChatTypes = []ChatType{ChatTypeText, ChatTypeVideo}

// Valid reports whether t is a supported chat type.
func (t ChatType) Valid() bool {
	return t == ChatTypeText || t == ChatTypeVideo
}

// Room represents a 1-on-1 chat session between two live connections.
// Rooms are owned by the room registry; everything else refers to them by ID.
type Room struct {
	// ID is the unique identifier for the room (ULID).
	ID string `json:"room_id"`
	// Participants holds the two distinct connection IDs in the room.
	Participants [2]string `json:"participants"`
	// ChatType is the session kind both participants searched for.
	ChatType ChatType `json:"chat_type"`
	// CreatedAt is the moment the match produced this room.
	CreatedAt time.Time `json:"created_at"`
	// LastActivityAt is bumped on every relayed message or signal.
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Has reports whether connID is one of the room's participants.
func (r Room) Has(connID string) bool {
	return connID != "" && (r.Participants[0] == connID || r.Participants[1] == connID)
}

// Partner returns the participant that is not connID.
func (r Room) Partner(connID string) (string, bool) {
	switch connID {
	case r.Participants[0]:
		return r.Participants[1], true
	case r.Participants[1]:
		return r.Participants[0], true
	}
	return "", false
}
