package main

import (
	"testing"

	"tinchat/backend/internal/chathub"
	"tinchat/backend/internal/config"
	"tinchat/backend/internal/models"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func existingProfile() *models.Profile {
	return &models.Profile{
		ID:          "anon-1",
		DisplayName: "Fox",
		Color:       "#ff8800",
		Animation:   "wave",
		Badges:      pq.StringArray{"early"},
		Status:      chathub.StatusInChat,
	}
}

func TestApplyProfileFlags_OnlyChangedFields(t *testing.T) {
	cmd := newProfileCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--name", "Owl", "--badge", "a", "--badge", "b"}))

	p := existingProfile()
	require.NoError(t, applyProfileFlags(p, cmd.Flags()))

	assert.Equal(t, "Owl", p.DisplayName)
	assert.Equal(t, pq.StringArray{"a", "b"}, p.Badges)
	assert.Equal(t, "#ff8800", p.Color)
	assert.Equal(t, "wave", p.Animation)
	assert.Equal(t, chathub.StatusInChat, p.Status)
}

func TestApplyProfileFlags_NoFlagsKeepsProfile(t *testing.T) {
	cmd := newProfileCmd()
	require.NoError(t, cmd.Flags().Parse(nil))

	p := existingProfile()
	require.NoError(t, applyProfileFlags(p, cmd.Flags()))

	assert.Equal(t, existingProfile(), p)
}

func TestApplyProfileFlags_RejectsUnknownStatus(t *testing.T) {
	cmd := newProfileCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--status", "away"}))

	err := applyProfileFlags(existingProfile(), cmd.Flags())
	assert.ErrorContains(t, err, "unknown status")
}

func TestNewProfile_Defaults(t *testing.T) {
	p := newProfile("anon-2")
	cmd := newProfileCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--animation", "glow"}))
	require.NoError(t, applyProfileFlags(p, cmd.Flags()))

	assert.Equal(t, "anon-2", p.ID)
	assert.Equal(t, config.DefaultColor, p.Color)
	assert.Equal(t, chathub.StatusOffline, p.Status)
	assert.Equal(t, "glow", p.Animation)
}
