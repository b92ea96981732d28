package chathub

import (
	"sort"
	"sync"
	"time"

	"tinchat/backend/internal/config"
	"tinchat/backend/internal/models"

	"github.com/rs/zerolog"
)

// Disconnect reasons reported by the transport layer.
const (
	ReasonClientLeave    = "client_leave"
	ReasonTransportClose = "transport_close"
	ReasonTransportError = "transport_error"
	ReasonPingTimeout    = "ping_timeout"
	ReasonServerShutdown = "server_shutdown"
	ReasonSlowConsumer   = "slow_consumer"
)

var knownReasons = map[string]struct{}{
	ReasonClientLeave:    {},
	ReasonTransportClose: {},
	ReasonTransportError: {},
	ReasonPingTimeout:    {},
	ReasonServerShutdown: {},
	ReasonSlowConsumer:   {},
}

// ReasonCount is one row of the top disconnect reasons.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// DisconnectStats aggregates disconnect bookkeeping for reporting.
type DisconnectStats struct {
	Total           int                       `json:"total"`
	TopReasons      []ReasonCount             `json:"top_reasons"`
	AverageDuration time.Duration             `json:"average_duration"`
	History         []models.DisconnectRecord `json:"history"`
}

type connEntry struct {
	conn   models.Connection
	client Client
	stale  bool
}

// ConnectionRegistry tracks every live connection and its liveness.
// It is the only owner of the connection map; other components reach
// connections through its methods.
type ConnectionRegistry struct {
	logger         zerolog.Logger
	now            func() time.Time
	staleThreshold time.Duration
	historyLimit   int

	mu    sync.RWMutex
	conns map[string]*connEntry

	statsMu       sync.Mutex
	reasons       map[string]int
	total         int
	totalDuration time.Duration
	history       []models.DisconnectRecord
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry(logger *zerolog.Logger, staleThreshold time.Duration) *ConnectionRegistry {
	return &ConnectionRegistry{
		logger:         logger.With().Str("component", "registry").Logger(),
		now:            time.Now,
		staleThreshold: staleThreshold,
		historyLimit:   config.DisconnectHistoryLimit,
		conns:          make(map[string]*connEntry),
		reasons:        make(map[string]int),
	}
}

// SetClock replaces the time source. Intended for tests.
func (r *ConnectionRegistry) SetClock(now func() time.Time) {
	r.now = now
}

// OnConnect registers a new connection and broadcasts the updated online count.
func (r *ConnectionRegistry) OnConnect(client Client, meta models.ConnectionMeta) models.Connection {
	now := r.now()
	conn := models.Connection{
		ID:              client.GetConnectionID(),
		Identity:        meta.Identity,
		EstablishedAt:   now,
		LastHeartbeatAt: now,
		UserAgent:       meta.UserAgent,
		Address:         meta.Address,
		Lang:            meta.Lang,
	}

	r.mu.Lock()
	if _, exists := r.conns[conn.ID]; exists {
		r.logger.Warn().Str("connID", conn.ID).Msg("connection id reused, replacing entry")
	}
	r.conns[conn.ID] = &connEntry{conn: conn, client: client}
	count := len(r.conns)
	r.mu.Unlock()

	r.logger.Debug().
		Str("connID", conn.ID).
		Str("identity", conn.Identity).
		Int("online", count).
		Msg("connection registered")
	r.broadcast(models.Envelope{Event: models.EventOnlineCountUpdate, Payload: models.OnlineCountPayload{Count: count}})
	return conn
}

// OnDisconnect removes the connection and records why and how long it lived.
// Bookkeeping failures are logged and never block the removal.
func (r *ConnectionRegistry) OnDisconnect(connID, reason string) (models.Connection, bool) {
	r.mu.Lock()
	entry, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
	}
	count := len(r.conns)
	r.mu.Unlock()

	if !ok {
		return models.Connection{}, false
	}

	r.recordDisconnect(entry.conn, reason)
	r.broadcast(models.Envelope{Event: models.EventOnlineCountUpdate, Payload: models.OnlineCountPayload{Count: count}})
	return entry.conn, true
}

func (r *ConnectionRegistry) recordDisconnect(conn models.Connection, reason string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Str("connID", conn.ID).Msg("disconnect bookkeeping failed")
		}
	}()

	now := r.now()
	if _, known := knownReasons[reason]; !known {
		r.logger.Warn().
			Str("connID", conn.ID).
			Str("identity", conn.Identity).
			Str("reason", reason).
			Str("userAgent", conn.UserAgent).
			Str("address", conn.Address).
			Time("establishedAt", conn.EstablishedAt).
			Msg("unknown disconnect reason")
	}

	record := models.DisconnectRecord{
		ConnectionID: conn.ID,
		Reason:       reason,
		Duration:     now.Sub(conn.EstablishedAt),
		At:           now,
	}

	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	r.reasons[reason]++
	r.total++
	r.totalDuration += record.Duration
	r.history = append(r.history, record)
	if over := len(r.history) - r.historyLimit; over > 0 {
		r.history = append([]models.DisconnectRecord(nil), r.history[over:]...)
	}
}

// OnHeartbeatTick emits a heartbeat carrying the server time to every connection.
func (r *ConnectionRegistry) OnHeartbeatTick() {
	r.broadcast(models.Envelope{
		Event:   models.EventHeartbeat,
		Payload: models.HeartbeatPayload{Timestamp: r.now().UnixMilli()},
	})
}

// Ack records a heartbeat acknowledgement.
func (r *ConnectionRegistry) Ack(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.conns[connID]
	if !ok {
		return false
	}
	entry.conn.LastHeartbeatAt = r.now()
	entry.stale = false
	return true
}

// OnLivenessSweep flags connections that have not acknowledged a heartbeat
// within the stale threshold and warns them. It never disconnects anyone.
func (r *ConnectionRegistry) OnLivenessSweep() []string {
	type warning struct {
		client Client
		since  time.Duration
		id     string
	}
	now := r.now()
	var warnings []warning

	r.mu.Lock()
	for id, entry := range r.conns {
		since := now.Sub(entry.conn.LastHeartbeatAt)
		if since > r.staleThreshold {
			entry.stale = true
			warnings = append(warnings, warning{client: entry.client, since: since, id: id})
		}
	}
	r.mu.Unlock()

	stale := make([]string, 0, len(warnings))
	for _, w := range warnings {
		stale = append(stale, w.id)
		w.client.Deliver(models.Envelope{
			Event: models.EventConnectionWarning,
			Payload: models.ConnectionWarningPayload{
				Type:           "heartbeat_timeout",
				TimeSinceAckMs: w.since.Milliseconds(),
			},
		})
	}
	if len(stale) > 0 {
		r.logger.Info().Int("stale", len(stale)).Msg("liveness sweep flagged stale connections")
	}
	sort.Strings(stale)
	return stale
}

// IsLive reports whether the connection is registered.
func (r *ConnectionRegistry) IsLive(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[connID]
	return ok
}

// Connection returns a copy of the connection record.
func (r *ConnectionRegistry) Connection(connID string) (models.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.conns[connID]
	if !ok {
		return models.Connection{}, false
	}
	return entry.conn, true
}

// BindIdentity attaches a stable identity to a connection that has none.
func (r *ConnectionRegistry) BindIdentity(connID, identity string) (models.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.conns[connID]
	if !ok {
		return models.Connection{}, ErrUnknownConnection
	}
	if entry.conn.Identity != "" && entry.conn.Identity != identity {
		return entry.conn, newValidationError(KeyIdentityMismatch, "connection already bound to another identity")
	}
	entry.conn.Identity = identity
	return entry.conn, nil
}

// SendTo delivers an event to one connection. It implements Sender.
func (r *ConnectionRegistry) SendTo(connID string, env models.Envelope) bool {
	r.mu.RLock()
	entry, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return entry.client.Deliver(env)
}

// Count returns the number of live connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// StaleConnections lists connections currently flagged stale.
func (r *ConnectionRegistry) StaleConnections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var stale []string
	for id, entry := range r.conns {
		if entry.stale {
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)
	return stale
}

// DisconnectStats returns a snapshot of the disconnect aggregates.
func (r *ConnectionRegistry) DisconnectStats() DisconnectStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	stats := DisconnectStats{
		Total:   r.total,
		History: append([]models.DisconnectRecord(nil), r.history...),
	}
	if r.total > 0 {
		stats.AverageDuration = r.totalDuration / time.Duration(r.total)
	}
	for reason, count := range r.reasons {
		stats.TopReasons = append(stats.TopReasons, ReasonCount{Reason: reason, Count: count})
	}
	sort.Slice(stats.TopReasons, func(i, j int) bool {
		if stats.TopReasons[i].Count != stats.TopReasons[j].Count {
			return stats.TopReasons[i].Count > stats.TopReasons[j].Count
		}
		return stats.TopReasons[i].Reason < stats.TopReasons[j].Reason
	})
	if len(stats.TopReasons) > config.TopDisconnectReasons {
		stats.TopReasons = stats.TopReasons[:config.TopDisconnectReasons]
	}
	return stats
}

// Clients returns every registered client.
func (r *ConnectionRegistry) Clients() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]Client, 0, len(r.conns))
	for _, entry := range r.conns {
		clients = append(clients, entry.client)
	}
	return clients
}

func (r *ConnectionRegistry) broadcast(env models.Envelope) {
	for _, c := range r.Clients() {
		if !c.Deliver(env) {
			r.logger.Debug().
				Str("connID", c.GetConnectionID()).
				Str("event", env.Event).
				Msg("broadcast dropped, client buffer full")
		}
	}
}
