package chathub

import "tinchat/backend/internal/models"

// Client is the interface for any type of connection (e.g., WebSocket).
// It abstracts the underlying transport so the registry can manage
// every client type uniformly.
type Client interface {
	// GetConnectionID returns the unique ID of this transport session.
	GetConnectionID() string
	// Deliver queues an event for the client without blocking.
	// It returns false when the client is closed or its buffer is full.
	Deliver(models.Envelope) bool
	// Run starts the client's read and write pumps.
	Run()
	// Close shuts down the client's connection.
	Close()
}

// Sender delivers an event to one live connection.
type Sender interface {
	SendTo(connID string, env models.Envelope) bool
}

// LivenessChecker answers whether a connection is still registered.
type LivenessChecker interface {
	IsLive(connID string) bool
}
