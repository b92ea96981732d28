package models_test

import (
	"testing"

	"tinchat/backend/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

// TestProfileBeforeCreate_GeneratesUUID verifies that the hook fills a missing ID.
func TestProfileBeforeCreate_GeneratesUUID(t *testing.T) {
	profile := &models.Profile{DisplayName: "Fox"}

	err := profile.BeforeCreate(nil)

	assert.NoError(t, err)
	_, parseErr := uuid.Parse(profile.ID)
	assert.NoError(t, parseErr, "Profile ID must be a valid UUID string")
}

func TestProfileBeforeCreate_PreservesExistingID(t *testing.T) {
	profile := &models.Profile{ID: "anon-1"}

	assert.NoError(t, profile.BeforeCreate(nil))
	assert.Equal(t, "anon-1", profile.ID)
}

func TestProfileSnapshot_IsDetached(t *testing.T) {
	profile := &models.Profile{DisplayName: "Fox", Color: "#fff", Badges: pq.StringArray{"early"}}

	snap := profile.Snapshot()
	profile.Badges[0] = "changed"
	profile.DisplayName = "Owl"

	assert.Equal(t, models.ProfileSnapshot{DisplayName: "Fox", Color: "#fff", Badges: []string{"early"}}, snap)
}

func TestRoom_Partner(t *testing.T) {
	room := models.Room{Participants: [2]string{"a", "b"}}

	p, ok := room.Partner("a")
	assert.True(t, ok)
	assert.Equal(t, "b", p)
	p, ok = room.Partner("b")
	assert.True(t, ok)
	assert.Equal(t, "a", p)
	_, ok = room.Partner("c")
	assert.False(t, ok)

	assert.True(t, room.Has("a"))
	assert.False(t, room.Has(""))
}

func TestConnection_Key(t *testing.T) {
	assert.Equal(t, "conn-1", models.Connection{ID: "conn-1"}.Key())
	assert.Equal(t, "anon-1", models.Connection{ID: "conn-1", Identity: "anon-1"}.Key())
}

func TestChatType_Valid(t *testing.T) {
	assert.True(t, models.ChatTypeText.Valid())
	assert.True(t, models.ChatTypeVideo.Valid())
	assert.False(t, models.ChatType("audio").Valid())
	assert.False(t, models.ChatType("").Valid())
}

func TestWaitingEntry_SameOwner(t *testing.T) {
	a := models.WaitingEntry{ConnectionID: "c1", Identity: "anon"}

	assert.True(t, a.SameOwner(models.WaitingEntry{ConnectionID: "c1"}))
	assert.True(t, a.SameOwner(models.WaitingEntry{ConnectionID: "c2", Identity: "anon"}))
	assert.False(t, a.SameOwner(models.WaitingEntry{ConnectionID: "c2"}))
	assert.False(t, models.WaitingEntry{ConnectionID: "c3"}.SameOwner(models.WaitingEntry{ConnectionID: "c4"}))
}

func TestWaitingEntry_SharedInterests(t *testing.T) {
	a := models.WaitingEntry{Interests: []string{"go", "music", "art"}}
	b := models.WaitingEntry{Interests: []string{"art", "go"}}

	assert.Equal(t, []string{"go", "art"}, a.SharedInterests(b))
	assert.Nil(t, a.SharedInterests(models.WaitingEntry{}))
	assert.Nil(t, a.SharedInterests(models.WaitingEntry{Interests: []string{"chess"}}))
}
