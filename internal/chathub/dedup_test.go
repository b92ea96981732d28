package chathub_test

import (
	"errors"
	"testing"
	"time"

	"tinchat/backend/internal/chathub"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDedup() (*chathub.Deduplicator, *testClock) {
	clock := newTestClock()
	d := chathub.NewDeduplicator(5*time.Second, 10*time.Second)
	d.SetClock(clock.Now)
	return d, clock
}

func duplicateKind(t *testing.T, err error) chathub.DuplicateKind {
	t.Helper()
	var dup *chathub.DuplicateError
	require.True(t, errors.As(err, &dup), "expected duplicate error, got %v", err)
	return dup.Kind
}

func TestDedup_MessageIDReplay(t *testing.T) {
	d, clock := newTestDedup()

	require.NoError(t, d.Check("alice", "r1", "m-1", "hello"))
	assert.Equal(t, chathub.DuplicateMessageID, duplicateKind(t, d.Check("alice", "r1", "m-1", "different text")))

	// Message IDs are scoped per identity.
	assert.NoError(t, d.Check("bob", "r2", "m-1", "hey"))

	clock.Advance(11 * time.Second)
	assert.NoError(t, d.Check("alice", "r1", "m-1", "later"))
}

func TestDedup_SpamAcrossRooms(t *testing.T) {
	d, _ := newTestDedup()

	require.NoError(t, d.Check("alice", "r1", "", "buy now"))
	require.NoError(t, d.Check("alice", "r2", "", "buy now"))
	assert.Equal(t, chathub.DuplicateSpam, duplicateKind(t, d.Check("alice", "r3", "", "buy now")))
}

func TestDedup_SpamWindowIsFixedFromFirstSighting(t *testing.T) {
	d, clock := newTestDedup()

	require.NoError(t, d.Check("alice", "r1", "", "ping"))
	clock.Advance(3 * time.Second)
	require.NoError(t, d.Check("alice", "r2", "", "ping"))
	clock.Advance(3 * time.Second)

	assert.NoError(t, d.Check("alice", "r3", "", "ping"))
}

func TestDedup_SameContentInRoom(t *testing.T) {
	d, clock := newTestDedup()

	require.NoError(t, d.Check("alice", "r1", "", "lol"))
	assert.Equal(t, chathub.DuplicateRoom, duplicateKind(t, d.Check("bob", "r1", "", "lol")))
	assert.NoError(t, d.Check("bob", "r2", "", "lol"))

	clock.Advance(6 * time.Second)
	assert.NoError(t, d.Check("bob", "r1", "", "lol"))
}

func TestDedup_RejectedMessageKeepsItsID(t *testing.T) {
	d, _ := newTestDedup()

	require.NoError(t, d.Check("alice", "r1", "", "lol"))
	assert.Equal(t, chathub.DuplicateRoom, duplicateKind(t, d.Check("bob", "r1", "m-9", "lol")))

	// The edited retry reuses the ID of the rejected send.
	assert.NoError(t, d.Check("bob", "r1", "m-9", "lol!"))
	assert.Equal(t, chathub.DuplicateMessageID, duplicateKind(t, d.Check("bob", "r1", "m-9", "lol!!")))
}

func TestDedup_RejectedMessageDoesNotCountAsSpam(t *testing.T) {
	d, _ := newTestDedup()

	require.NoError(t, d.Check("alice", "r1", "", "hi"))
	assert.Equal(t, chathub.DuplicateRoom, duplicateKind(t, d.Check("bob", "r1", "", "hi")))
	assert.Equal(t, chathub.DuplicateRoom, duplicateKind(t, d.Check("bob", "r1", "", "hi")))

	require.NoError(t, d.Check("bob", "r2", "", "hi"))
	assert.NoError(t, d.Check("bob", "r3", "", "hi"))
}

func TestDedup_Sweep(t *testing.T) {
	d, clock := newTestDedup()
	require.NoError(t, d.Check("alice", "r1", "m-1", "one"))
	require.NoError(t, d.Check("alice", "r1", "", "two"))
	assert.Equal(t, 5, d.Len())

	clock.Advance(6 * time.Second)
	assert.Equal(t, 4, d.Sweep())
	assert.Equal(t, 1, d.Len())

	clock.Advance(5 * time.Second)
	assert.Equal(t, 1, d.Sweep())
	assert.Zero(t, d.Len())
}
