package chathub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"tinchat/backend/internal/config"
	"tinchat/backend/internal/models"
	"tinchat/backend/internal/scheduler"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Localizer turns message keys into text in the connection's language.
type Localizer interface {
	GetString(lang, key string) string
}

// Options carries the optional collaborators of the hub.
type Options struct {
	Timings   config.Timings
	Profiles  ProfileStore
	Queue     QueuePersistence
	Localizer Localizer
}

// Stats is a point-in-time snapshot of the hub.
type Stats struct {
	Online      int                        `json:"online"`
	Queues      map[models.ChatType]int    `json:"queues"`
	Rooms       int                        `json:"rooms"`
	RoomsByType map[models.ChatType]int    `json:"rooms_by_type"`
	States      map[models.SearchState]int `json:"states"`
	Disconnects DisconnectStats            `json:"disconnects"`
	Stale       []string                   `json:"stale"`
	Delivery    BatcherStats               `json:"delivery"`
}

// ManagerService routes every inbound event to the component that owns the
// affected state and runs the periodic sweeps.
type ManagerService struct {
	logger    zerolog.Logger
	timings   config.Timings
	localizer Localizer

	Registry *ConnectionRegistry
	Matcher  *MatcherService
	State    *StateTracker
	Rooms    *RoomRegistry
	Relay    *MessageRelay
	Batcher  *DeliveryBatcher
	Dedup    *Deduplicator
	Profiles *ProfileCache
	Typing   *TypingTracker

	statusWG sync.WaitGroup
}

// NewManagerService wires the hub. Nil collaborators in opts leave the hub
// running in memory with anonymous profiles.
func NewManagerService(logger *zerolog.Logger, opts Options) *ManagerService {
	t := opts.Timings
	registry := NewConnectionRegistry(logger, t.StaleThreshold)
	batcher := NewDeliveryBatcher(logger, registry, t.BatchTick, t.MaxMessageAge)
	rooms := NewRoomRegistry(logger, registry, registry, t.RoomInactivity)
	dedup := NewDeduplicator(t.ContentDedupWindow, t.MessageIDDedupWindow)
	profiles := NewProfileCache(logger, opts.Profiles, t.ProfileCacheTTL)
	typing := NewTypingTracker(batcher, t.TypingTTL)

	return &ManagerService{
		logger:    logger.With().Str("component", "hub").Logger(),
		timings:   t,
		localizer: opts.Localizer,
		Registry:  registry,
		Matcher:   NewMatcherService(logger, opts.Queue),
		State:     NewStateTracker(logger, t.SearchCooldown),
		Rooms:     rooms,
		Relay:     NewMessageRelay(logger, rooms, registry, dedup, profiles, batcher, typing),
		Batcher:   batcher,
		Dedup:     dedup,
		Profiles:  profiles,
		Typing:    typing,
	}
}

// Connect registers a freshly upgraded client.
func (m *ManagerService) Connect(client Client, meta models.ConnectionMeta) models.Connection {
	conn := m.Registry.OnConnect(client, meta)
	m.State.Track(conn.Key(), conn.ID)
	m.updateStatus(conn.Identity, StatusOnline)
	m.logger.Info().
		Str("connID", conn.ID).
		Str("identity", conn.Identity).
		Str("address", conn.Address).
		Msg("client connected")
	return conn
}

// Disconnect tears down everything a connection owns: its waiting entry,
// its room (the partner is told and goes idle) and its identity state.
// Every step is idempotent, so repeated calls are harmless.
func (m *ManagerService) Disconnect(connID, reason string) {
	conn, known := m.Registry.OnDisconnect(connID, reason)

	m.Matcher.RemoveFromWaitingLists(connID)
	m.Typing.Clear(connID)
	if room, inRoom := m.Rooms.GetRoomByParticipant(connID); inRoom {
		m.closeRoom(room, connID, LeftReasonDisconnected)
	}
	m.State.Release(connID)

	if !known {
		return
	}
	m.updateStatus(conn.Identity, StatusOffline)
	m.logger.Info().
		Str("connID", connID).
		Str("identity", conn.Identity).
		Str("reason", reason).
		Msg("client disconnected")
}

// Dispatch validates one inbound frame and runs its handler. Every failure,
// including a panic, becomes an error event to this connection only.
func (m *ManagerService) Dispatch(ctx context.Context, connID string, frame models.InboundFrame) {
	conn, ok := m.Registry.Connection(connID)
	if !ok {
		m.logger.Debug().Str("connID", connID).Str("event", frame.Event).Msg("event from unregistered connection")
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error().
				Interface("panic", rec).
				Str("connID", connID).
				Str("event", frame.Event).
				Msg("handler panicked")
			m.replyError(conn, fmt.Errorf("handler panic: %v", rec))
		}
	}()

	req, err := ParseRequest(frame)
	if err == nil {
		err = m.handle(ctx, conn, req)
	}
	if err != nil {
		m.replyError(conn, err)
	}
}

// DispatchRaw decodes a transport frame and dispatches it.
func (m *ManagerService) DispatchRaw(ctx context.Context, connID string, data []byte) {
	var frame models.InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		if conn, ok := m.Registry.Connection(connID); ok {
			m.replyError(conn, newValidationError(KeyInvalidPayload, "malformed frame: %v", err))
		}
		return
	}
	m.Dispatch(ctx, connID, frame)
}

func (m *ManagerService) handle(ctx context.Context, conn models.Connection, req Request) error {
	switch r := req.(type) {
	case FindPartnerRequest:
		return m.handleFindPartner(ctx, conn, r)
	case StopSearchingRequest:
		return m.handleStopSearching(conn)
	case SendMessageRequest:
		_, err := m.Relay.RelayMessage(ctx, conn, r)
		return err
	case WebRTCSignalRequest:
		return m.Relay.RelaySignal(conn, r)
	case TypingRequest:
		return m.Relay.RelayTyping(conn, r)
	case LeaveChatRequest:
		return m.handleLeaveChat(conn, r)
	case SkipPartnerRequest:
		return m.handleSkip(ctx, conn, r)
	case HeartbeatAckRequest:
		m.Registry.Ack(conn.ID)
		return nil
	}
	return newValidationError(KeyUnknownEvent, "unhandled event %q", req.eventName())
}

func (m *ManagerService) handleFindPartner(ctx context.Context, conn models.Connection, req FindPartnerRequest) error {
	if req.Identity != "" && req.Identity != conn.Identity {
		if conn.Identity != "" {
			return newValidationError(KeyIdentityMismatch, "connection is bound to another identity")
		}
		if err := m.State.Rebind(conn.ID, req.Identity); err != nil {
			return err
		}
		bound, err := m.Registry.BindIdentity(conn.ID, req.Identity)
		if err != nil {
			return err
		}
		conn = bound
		m.updateStatus(conn.Identity, StatusOnline)
	}

	if err := m.State.BeginSearch(conn.Key(), conn.ID, req.ChatType, req.Interests); err != nil {
		return err
	}

	m.tryMatch(ctx, models.WaitingEntry{
		ConnectionID: conn.ID,
		Identity:     conn.Identity,
		ChatType:     req.ChatType,
		Interests:    req.Interests,
		Profile:      m.Profiles.Lookup(ctx, conn.Identity),
	})
	return nil
}

// tryMatch pairs a searching entry with a waiting one or queues it.
func (m *ManagerService) tryMatch(ctx context.Context, entry models.WaitingEntry) {
	candidate, position, found := m.Matcher.MatchOrEnqueue(entry)
	if !found {
		m.notifyWaiting(entry, position)
		return
	}

	entryKey, candidateKey := m.keyOf(entry.ConnectionID), m.keyOf(candidate.ConnectionID)
	if err := m.State.MarkMatched(entryKey, candidateKey); err != nil {
		candidateSearching := m.State.State(candidateKey).State == models.StateSearching
		if candidateSearching && m.Registry.IsLive(candidate.ConnectionID) {
			m.Matcher.AddToWaitingList(candidate)
		}
		if m.State.State(entryKey).State != models.StateSearching {
			// The requester itself left the search while being matched.
			return
		}
		// The candidate stopped searching between queueing and selection.
		m.logger.Debug().Err(err).Str("candidate", candidate.ConnectionID).Msg("discarding stale candidate")
		m.tryMatch(ctx, entry)
		return
	}

	room, err := m.Rooms.CreateRoom(NewRoomID(), entry.ConnectionID, candidate.ConnectionID, entry.ChatType)
	if err != nil {
		m.logger.Info().
			Err(err).
			Str("a", entry.ConnectionID).
			Str("b", candidate.ConnectionID).
			Msg("room creation failed, requeueing")
		m.requeue(ctx, entry, entryKey)
		m.requeue(ctx, candidate, candidateKey)
		return
	}

	m.openRoom(ctx, room, entry, candidate)
}

// openRoom moves both matched participants into room and tells them about
// each other. If either side disconnected after the room was created, the
// room is dropped without a word and the live side goes back to the queue.
func (m *ManagerService) openRoom(ctx context.Context, room models.Room, entry, candidate models.WaitingEntry) {
	entryKey, candidateKey := m.keyOf(entry.ConnectionID), m.keyOf(candidate.ConnectionID)

	err := m.State.EnterRoom(room.ID, entryKey, candidateKey)
	if err == nil {
		if _, exists := m.Rooms.GetRoom(room.ID); !exists {
			err = fmt.Errorf("%w: %s closed before entry", ErrNotInRoom, room.ID)
		}
	}
	if err != nil {
		m.logger.Info().Err(err).Str("roomID", room.ID).Msg("match abandoned, requeueing")
		m.Rooms.DiscardRoom(room.ID)
		for _, side := range []struct {
			entry models.WaitingEntry
			key   string
		}{{entry, entryKey}, {candidate, candidateKey}} {
			if m.State.AbandonMatch(side.key, room.ID) && m.Registry.IsLive(side.entry.ConnectionID) {
				m.tryMatch(ctx, side.entry)
			}
		}
		return
	}

	// Any waiting notice still queued from this search would arrive after
	// partnerFound and contradict it.
	m.Batcher.Discard(entry.ConnectionID, models.EventWaitingForPartner)
	m.Batcher.Discard(candidate.ConnectionID, models.EventWaitingForPartner)

	m.notifyPartnerFound(entry, candidate, room)
	m.notifyPartnerFound(candidate, entry, room)
	m.updateStatus(entry.Identity, StatusInChat)
	m.updateStatus(candidate.Identity, StatusInChat)
}

// requeue puts a participant of a failed match back into the search, or
// forgets it when its connection is gone.
func (m *ManagerService) requeue(ctx context.Context, entry models.WaitingEntry, key string) {
	m.State.RevertToSearching(key)
	if !m.Registry.IsLive(entry.ConnectionID) {
		return
	}
	m.tryMatch(ctx, entry)
}

func (m *ManagerService) notifyWaiting(entry models.WaitingEntry, position int) {
	wait := m.Matcher.EstimatedWait(entry.ChatType, position)
	m.Batcher.Enqueue(entry.ConnectionID, models.EventWaitingForPartner, models.WaitingForPartnerPayload{
		QueuePosition:        position,
		EstimatedWaitSeconds: int(wait.Seconds()),
	}, models.PriorityNormal)
}

func (m *ManagerService) notifyPartnerFound(to, partner models.WaitingEntry, room models.Room) {
	m.Batcher.Enqueue(to.ConnectionID, models.EventPartnerFound, models.PartnerFoundPayload{
		PartnerInfo: models.PartnerInfo{
			ID:              partner.ConnectionID,
			Profile:         partner.Profile,
			SharedInterests: to.SharedInterests(partner),
		},
		RoomID:   room.ID,
		ChatType: room.ChatType,
	}, models.PriorityHigh)
}

func (m *ManagerService) handleStopSearching(conn models.Connection) error {
	prev, err := m.State.StopSearch(conn.Key())
	if err != nil {
		return err
	}
	m.Matcher.RemoveFromWaitingLists(prev.ConnectionID)
	return nil
}

func (m *ManagerService) handleLeaveChat(conn models.Connection, req LeaveChatRequest) error {
	room, ok := m.Rooms.GetRoomByParticipant(conn.ID)
	if ok {
		if req.RoomID != "" && req.RoomID != room.ID {
			return fmt.Errorf("%w: %s", ErrNotInRoom, req.RoomID)
		}
		m.closeRoom(room, conn.ID, LeftReasonLeft)
		return nil
	}

	switch st := m.State.State(conn.Key()); st.State {
	case models.StateSearching, models.StateMatched:
		return m.handleStopSearching(conn)
	case models.StateInChat:
		// The room is already gone.
		m.State.LeaveRoom(conn.Key(), st.RoomID)
	}
	return nil
}

func (m *ManagerService) handleSkip(ctx context.Context, conn models.Connection, req SkipPartnerRequest) error {
	room, ok := m.Rooms.GetRoomByParticipant(conn.ID)
	if !ok || room.ID != req.RoomID {
		return fmt.Errorf("%w: %s", ErrNotInRoom, req.RoomID)
	}
	partner, _ := room.Partner(conn.ID)
	partnerKey := m.keyOf(partner)

	m.Typing.Clear(conn.ID)
	m.Typing.Clear(partner)
	m.Rooms.DeleteRoom(room.ID, conn.ID, LeftReasonSkipped)

	st, err := m.State.Skip(conn.Key(), partnerKey, room.ID)
	if err != nil {
		return err
	}
	if pc, live := m.Registry.Connection(partner); live {
		m.updateStatus(pc.Identity, StatusOnline)
	}

	m.tryMatch(ctx, models.WaitingEntry{
		ConnectionID: conn.ID,
		Identity:     conn.Identity,
		ChatType:     st.ChatType,
		Interests:    st.Interests,
		Profile:      m.Profiles.Lookup(ctx, conn.Identity),
	})
	return nil
}

// closeRoom deletes the room and returns both participants to idle.
func (m *ManagerService) closeRoom(room models.Room, leaverID, reason string) {
	for _, p := range room.Participants {
		m.Typing.Clear(p)
	}
	if !m.entered(room) {
		// Nobody was told about the room yet. openRoom sees it gone and
		// requeues whoever is still searching.
		m.Rooms.DiscardRoom(room.ID)
		return
	}
	if _, ok := m.Rooms.DeleteRoom(room.ID, leaverID, reason); !ok {
		return
	}
	m.releaseParticipants(room)
}

// entered reports whether any participant has moved into room.
func (m *ManagerService) entered(room models.Room) bool {
	for _, p := range room.Participants {
		st := m.State.State(m.keyOf(p))
		if st.State == models.StateInChat && st.RoomID == room.ID {
			return true
		}
	}
	return false
}

func (m *ManagerService) releaseParticipants(room models.Room) {
	for _, p := range room.Participants {
		m.State.LeaveRoom(m.keyOf(p), room.ID)
		if conn, live := m.Registry.Connection(p); live {
			m.updateStatus(conn.Identity, StatusOnline)
		}
	}
}

// keyOf returns the identity key a connection acts under.
func (m *ManagerService) keyOf(connID string) string {
	if key, ok := m.State.KeyFor(connID); ok {
		return key
	}
	if conn, ok := m.Registry.Connection(connID); ok {
		return conn.Key()
	}
	return connID
}

func (m *ManagerService) replyError(conn models.Connection, err error) {
	var rateLimited *RateLimitError
	if errors.As(err, &rateLimited) {
		m.Batcher.SendImmediate(conn.ID, models.EventSearchCooldown, models.SearchCooldownPayload{
			RemainingMs: rateLimited.Remaining.Milliseconds(),
		})
		return
	}

	code := errorCode(err)
	payload := models.ErrorPayload{Message: m.localize(conn.Lang, code), Code: code}
	var conflict *StateConflictError
	if errors.As(err, &conflict) {
		payload.State = conflict.Current
	}

	event := m.logger.Debug()
	if code == KeyInternal {
		event = m.logger.Warn()
	}
	event.Err(err).Str("connID", conn.ID).Str("code", code).Msg("request rejected")

	m.Batcher.SendImmediate(conn.ID, models.EventError, payload)
}

func (m *ManagerService) localize(lang, key string) string {
	if m.localizer == nil {
		return key
	}
	return m.localizer.GetString(lang, key)
}

func (m *ManagerService) updateStatus(identity, status string) {
	if identity == "" {
		return
	}
	m.statusWG.Go(func() {
		m.Profiles.UpdateStatus(context.Background(), identity, status)
	})
}

// RegisterTasks adds the hub's periodic sweeps to s.
func (m *ManagerService) RegisterTasks(s *scheduler.Scheduler) error {
	t := m.timings
	tasks := []struct {
		name     string
		interval time.Duration
		fn       scheduler.TaskFunc
	}{
		{"heartbeat", t.HeartbeatInterval, func(context.Context) { m.Registry.OnHeartbeatTick() }},
		{"liveness", t.LivenessSweep, func(context.Context) { m.Registry.OnLivenessSweep() }},
		{"stale-queue", t.LivenessSweep, func(context.Context) { m.SweepQueues() }},
		{"room-inactivity", t.RoomSweep, func(context.Context) { m.SweepRooms() }},
		{"dedup", t.DedupSweep, func(context.Context) { m.Dedup.Sweep() }},
	}
	for _, task := range tasks {
		if err := s.Every(task.name, task.interval, task.fn); err != nil {
			return fmt.Errorf("register %s: %w", task.name, err)
		}
	}
	return nil
}

// SweepQueues drops waiting entries of dead connections and expired
// profile cache entries.
func (m *ManagerService) SweepQueues() {
	m.Matcher.CleanupStaleUsers(m.Registry.IsLive)
	m.Profiles.Sweep()
}

// SweepRooms closes inactive rooms and returns their participants to idle.
func (m *ManagerService) SweepRooms() {
	for _, room := range m.Rooms.SweepInactiveRooms() {
		for _, p := range room.Participants {
			m.Typing.Clear(p)
		}
		m.releaseParticipants(room)
	}
}

// Run drives the batcher, the queue mirror and the periodic sweeps until
// ctx is cancelled.
func (m *ManagerService) Run(ctx context.Context) error {
	sched := scheduler.New(&m.logger)
	if err := m.RegisterTasks(sched); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m.Batcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		m.Matcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return sched.Run(gctx)
	})
	return g.Wait()
}

// Shutdown disconnects every client with the server_shutdown reason and
// waits for pending status updates.
func (m *ManagerService) Shutdown() {
	clients := m.Registry.Clients()
	for _, c := range clients {
		m.Disconnect(c.GetConnectionID(), ReasonServerShutdown)
		c.Close()
	}
	m.statusWG.Wait()
	m.logger.Info().Int("closed", len(clients)).Msg("hub stopped")
}

// Stats returns a snapshot for monitoring.
func (m *ManagerService) Stats() Stats {
	queues := make(map[models.ChatType]int, len(models.ChatTypes))
	for _, ct := range models.ChatTypes {
		queues[ct] = m.Matcher.QueueLength(ct)
	}
	return Stats{
		Online:      m.Registry.Count(),
		Queues:      queues,
		Rooms:       m.Rooms.Count(),
		RoomsByType: m.Rooms.CountByType(),
		States:      m.State.Counts(),
		Disconnects: m.Registry.DisconnectStats(),
		Stale:       m.Registry.StaleConnections(),
		Delivery:    m.Batcher.Stats(),
	}
}
