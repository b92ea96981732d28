package chathub_test

import (
	"errors"
	"testing"
	"time"

	"tinchat/backend/internal/chathub"
	"tinchat/backend/internal/config"
	"tinchat/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker() (*chathub.StateTracker, *testClock) {
	clock := newTestClock()
	tr := chathub.NewStateTracker(nopLogger(), config.SearchCooldown)
	tr.SetClock(clock.Now)
	return tr, clock
}

func requireConflict(t *testing.T, err error, key string, current models.SearchState) {
	t.Helper()
	var conflict *chathub.StateConflictError
	require.True(t, errors.As(err, &conflict), "expected state conflict, got %v", err)
	assert.Equal(t, key, conflict.Key)
	assert.Equal(t, current, conflict.Current)
}

func TestState_UnknownKeyIsIdle(t *testing.T) {
	tr, _ := newTestTracker()
	assert.Equal(t, models.StateIdle, tr.State("nobody").State)
}

func TestState_FullLifecycle(t *testing.T) {
	tr, _ := newTestTracker()

	require.NoError(t, tr.BeginSearch("a", "conn-a", models.ChatTypeText, []string{"go"}))
	require.NoError(t, tr.BeginSearch("b", "conn-b", models.ChatTypeText, nil))
	require.NoError(t, tr.MarkMatched("a", "b"))
	assert.Equal(t, models.StateMatched, tr.State("a").State)

	require.NoError(t, tr.EnterRoom("room-1", "a", "b"))
	st := tr.State("a")
	assert.Equal(t, models.StateInChat, st.State)
	assert.Equal(t, "room-1", st.RoomID)
	assert.Equal(t, []string{"go"}, st.Interests)

	assert.True(t, tr.LeaveRoom("a", "room-1"))
	assert.False(t, tr.LeaveRoom("a", "room-1"))
	assert.False(t, tr.LeaveRoom("b", "other-room"))
	assert.Equal(t, models.StateIdle, tr.State("a").State)
	assert.Equal(t, models.StateInChat, tr.State("b").State)
}

func TestState_CooldownIsCheckedFirst(t *testing.T) {
	tr, clock := newTestTracker()
	require.NoError(t, tr.BeginSearch("a", "conn-a", models.ChatTypeText, nil))

	clock.Advance(500 * time.Millisecond)
	err := tr.BeginSearch("a", "conn-a", models.ChatTypeText, nil)

	var limited *chathub.RateLimitError
	require.True(t, errors.As(err, &limited))
	assert.Equal(t, 1500*time.Millisecond, limited.Remaining)

	clock.Advance(config.SearchCooldown)
	requireConflict(t, tr.BeginSearch("a", "conn-a", models.ChatTypeText, nil), chathub.KeyAlreadySearching, models.StateSearching)
}

func TestState_RejectedSearchDoesNotRestartCooldown(t *testing.T) {
	tr, clock := newTestTracker()
	require.NoError(t, tr.BeginSearch("a", "conn-a", models.ChatTypeText, nil))
	require.NoError(t, tr.BeginSearch("b", "conn-b", models.ChatTypeText, nil))
	require.NoError(t, tr.MarkMatched("a", "b"))
	require.NoError(t, tr.EnterRoom("r", "a", "b"))

	clock.Advance(config.SearchCooldown)
	requireConflict(t, tr.BeginSearch("a", "conn-a", models.ChatTypeVideo, nil), chathub.KeyLeaveChatFirst, models.StateInChat)

	tr.LeaveRoom("a", "r")
	assert.NoError(t, tr.BeginSearch("a", "conn-a", models.ChatTypeVideo, nil))
}

func TestState_MarkMatchedIsAllOrNothing(t *testing.T) {
	tr, _ := newTestTracker()
	require.NoError(t, tr.BeginSearch("a", "conn-a", models.ChatTypeText, nil))

	requireConflict(t, tr.MarkMatched("a", "ghost"), chathub.KeyNotSearching, models.StateIdle)
	assert.Equal(t, models.StateSearching, tr.State("a").State)
}

func TestState_StopSearch(t *testing.T) {
	tr, _ := newTestTracker()
	_, err := tr.StopSearch("a")
	requireConflict(t, err, chathub.KeyNotSearching, models.StateIdle)

	require.NoError(t, tr.BeginSearch("a", "conn-a", models.ChatTypeText, nil))
	prev, err := tr.StopSearch("a")
	require.NoError(t, err)
	assert.Equal(t, "conn-a", prev.ConnectionID)
	assert.Equal(t, models.StateIdle, tr.State("a").State)
}

func TestState_RevertToSearching(t *testing.T) {
	tr, _ := newTestTracker()
	require.NoError(t, tr.BeginSearch("a", "conn-a", models.ChatTypeText, nil))
	require.NoError(t, tr.BeginSearch("b", "conn-b", models.ChatTypeText, nil))
	require.NoError(t, tr.MarkMatched("a", "b"))

	tr.RevertToSearching("a")

	assert.Equal(t, models.StateSearching, tr.State("a").State)
	assert.Equal(t, models.StateMatched, tr.State("b").State)
}

func TestState_Skip(t *testing.T) {
	tr, _ := newTestTracker()
	require.NoError(t, tr.BeginSearch("a", "conn-a", models.ChatTypeVideo, []string{"art"}))
	require.NoError(t, tr.BeginSearch("b", "conn-b", models.ChatTypeVideo, nil))
	require.NoError(t, tr.MarkMatched("a", "b"))
	require.NoError(t, tr.EnterRoom("r", "a", "b"))

	_, err := tr.Skip("a", "b", "wrong-room")
	requireConflict(t, err, chathub.KeyNotInRoom, models.StateInChat)

	st, err := tr.Skip("a", "b", "r")
	require.NoError(t, err)
	assert.Equal(t, models.StateSearching, st.State)
	assert.Equal(t, models.ChatTypeVideo, st.ChatType)
	assert.Equal(t, []string{"art"}, st.Interests)
	assert.Equal(t, models.StateIdle, tr.State("b").State)
}

func TestState_ReleaseOnlyByOwner(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Track("anon", "conn-old")
	require.NoError(t, tr.BeginSearch("anon", "conn-new", models.ChatTypeText, nil))

	_, released := tr.Release("conn-old")
	assert.False(t, released)
	assert.Equal(t, models.StateSearching, tr.State("anon").State)

	st, released := tr.Release("conn-new")
	assert.True(t, released)
	assert.Equal(t, models.StateSearching, st.State)
	assert.Equal(t, models.StateIdle, tr.State("anon").State)
}

func TestState_Rebind(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Track("conn-a", "conn-a")

	require.NoError(t, tr.Rebind("conn-a", "anon-a"))
	key, ok := tr.KeyFor("conn-a")
	require.True(t, ok)
	assert.Equal(t, "anon-a", key)
	assert.Equal(t, 1, tr.Counts()[models.StateIdle])

	tr.Track("conn-b", "conn-b")
	require.NoError(t, tr.BeginSearch("conn-b", "conn-b", models.ChatTypeText, nil))
	requireConflict(t, tr.Rebind("conn-b", "anon-b"), chathub.KeyLeaveChatFirst, models.StateSearching)
}
