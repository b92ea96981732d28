package models

import "time"

// ConnectionMeta is what the transport knows about a client when it connects.
type ConnectionMeta struct {
	// Identity is the stable user ID carried by the client's token, if any.
	Identity  string
	UserAgent string
	Address   string
	// Lang is the preferred language tag for notices (e.g. "en", "uk").
	Lang string
}

// Connection is one live transport session.
type Connection struct {
	ID              string    `json:"id"`
	Identity        string    `json:"identity,omitempty"`
	EstablishedAt   time.Time `json:"established_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	UserAgent       string    `json:"user_agent,omitempty"`
	Address         string    `json:"address,omitempty"`
	Lang            string    `json:"lang,omitempty"`
}

// Key returns the identity used for single-state-per-user bookkeeping:
// the authenticated identity when present, otherwise the connection ID.
func (c Connection) Key() string {
	if c.Identity != "" {
		return c.Identity
	}
	return c.ID
}

// DisconnectRecord is one entry of the registry's windowed disconnect history.
type DisconnectRecord struct {
	ConnectionID string        `json:"connection_id"`
	Reason       string        `json:"reason"`
	Duration     time.Duration `json:"duration"`
	At           time.Time     `json:"at"`
}
