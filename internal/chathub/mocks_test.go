package chathub_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"tinchat/backend/internal/chathub"
	"tinchat/backend/internal/config"
	"tinchat/backend/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockClient records every envelope delivered to it.
type MockClient struct {
	id string

	mu     sync.Mutex
	events []models.Envelope
	closed bool
}

func newMockClient(id string) *MockClient {
	return &MockClient{id: id}
}

func (c *MockClient) GetConnectionID() string { return c.id }

func (c *MockClient) Deliver(env models.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.events = append(c.events, env)
	return true
}

func (c *MockClient) Run() {}

func (c *MockClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *MockClient) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Events returns every delivered event with batches unpacked.
func (c *MockClient) Events() []models.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Envelope
	for _, env := range c.events {
		if batch, ok := env.Payload.(models.BatchedMessagesPayload); ok {
			out = append(out, batch.Messages...)
			continue
		}
		out = append(out, env)
	}
	return out
}

func (c *MockClient) Named(event string) []models.Envelope {
	var out []models.Envelope
	for _, env := range c.Events() {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

func (c *MockClient) Last(t *testing.T, event string) models.Envelope {
	t.Helper()
	named := c.Named(event)
	require.NotEmpty(t, named, "no %s delivered to %s", event, c.id)
	return named[len(named)-1]
}

func (c *MockClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

// MockProfileStore is a testify mock of chathub.ProfileStore.
type MockProfileStore struct {
	mock.Mock
}

func (m *MockProfileStore) FetchProfile(ctx context.Context, identity string) (*models.Profile, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Profile), args.Error(1)
}

func (m *MockProfileStore) UpdateStatus(ctx context.Context, identity, status string) (bool, error) {
	args := m.Called(ctx, identity, status)
	return args.Bool(0), args.Error(1)
}

// MockQueuePersistence is a testify mock of chathub.QueuePersistence.
type MockQueuePersistence struct {
	mock.Mock
}

func (m *MockQueuePersistence) SaveWaitingEntry(ctx context.Context, entry models.WaitingEntry) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *MockQueuePersistence) DeleteWaitingEntry(ctx context.Context, chatType models.ChatType, connID string) error {
	return m.Called(ctx, chatType, connID).Error(0)
}

// sentEvent is one delivery seen by recordingSender.
type sentEvent struct {
	To  string
	Env models.Envelope
}

// recordingSender implements chathub.Sender and chathub.LivenessChecker.
type recordingSender struct {
	mu   sync.Mutex
	dead map[string]bool
	sent []sentEvent
}

func newRecordingSender() *recordingSender {
	return &recordingSender{dead: make(map[string]bool)}
}

func (s *recordingSender) SendTo(connID string, env models.Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead[connID] {
		return false
	}
	s.sent = append(s.sent, sentEvent{To: connID, Env: env})
	return true
}

func (s *recordingSender) IsLive(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dead[connID]
}

func (s *recordingSender) Kill(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead[connID] = true
}

func (s *recordingSender) Sent() []sentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentEvent(nil), s.sent...)
}

// testClock is a manually advanced time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// newTestHub builds a hub without external collaborators whose components
// share one manual clock. The batcher keeps wall time so nothing goes stale.
func newTestHub(t *testing.T) (*chathub.ManagerService, *testClock) {
	t.Helper()
	clock := newTestClock()
	timings := config.DefaultTimings()
	timings.TypingTTL = 50 * time.Millisecond

	hub := chathub.NewManagerService(nopLogger(), chathub.Options{Timings: timings})
	hub.Registry.SetClock(clock.Now)
	hub.State.SetClock(clock.Now)
	hub.Matcher.SetClock(clock.Now)
	hub.Rooms.SetClock(clock.Now)
	hub.Dedup.SetClock(clock.Now)
	hub.Relay.SetClock(clock.Now)
	return hub, clock
}

func connect(hub *chathub.ManagerService, id string) *MockClient {
	return connectAs(hub, id, "")
}

func connectAs(hub *chathub.ManagerService, id, identity string) *MockClient {
	client := newMockClient(id)
	hub.Connect(client, models.ConnectionMeta{Identity: identity, Lang: "en"})
	return client
}

func frame(t *testing.T, event string, payload any) models.InboundFrame {
	t.Helper()
	f := models.InboundFrame{Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		f.Payload = raw
	}
	return f
}

func send(t *testing.T, hub *chathub.ManagerService, connID, event string, payload any) {
	t.Helper()
	hub.Dispatch(context.Background(), connID, frame(t, event, payload))
}

func findPartner(t *testing.T, hub *chathub.ManagerService, connID string, chatType models.ChatType, interests ...string) {
	t.Helper()
	send(t, hub, connID, models.EventFindPartner, map[string]any{
		"chatType":  chatType,
		"interests": interests,
	})
}

// pair matches a and b in a text room and returns the room ID.
func pair(t *testing.T, hub *chathub.ManagerService, clock *testClock, a, b *MockClient) string {
	t.Helper()
	findPartner(t, hub, a.GetConnectionID(), models.ChatTypeText)
	findPartner(t, hub, b.GetConnectionID(), models.ChatTypeText)
	hub.Batcher.Flush()
	room, ok := hub.Rooms.GetRoomByParticipant(a.GetConnectionID())
	require.True(t, ok, "expected a room for %s", a.GetConnectionID())
	clock.Advance(config.SearchCooldown)
	a.Reset()
	b.Reset()
	return room.ID
}

func errorCode(t *testing.T, c *MockClient) string {
	t.Helper()
	payload, ok := c.Last(t, models.EventError).Payload.(models.ErrorPayload)
	require.True(t, ok)
	return payload.Code
}
