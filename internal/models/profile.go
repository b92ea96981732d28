package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Profile holds the display attributes of a known identity.
// The matchmaking core only reads it through the profile store.
type Profile struct {
	ID          string         `gorm:"primaryKey" json:"id"` // identity
	DisplayName string         `gorm:"type:text" json:"display_name"`
	Color       string         `gorm:"type:text" json:"color"`
	Animation   string         `gorm:"type:text" json:"animation"`
	Badges      pq.StringArray `gorm:"type:text[]" json:"badges"`
	Status      string         `gorm:"type:text;index" json:"status"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// BeforeCreate is a GORM hook that assigns a UUID when the profile has no ID yet.
func (p *Profile) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return
}

// Snapshot copies the display attributes into a detached value.
func (p *Profile) Snapshot() ProfileSnapshot {
	snap := ProfileSnapshot{
		DisplayName: p.DisplayName,
		Color:       p.Color,
		Animation:   p.Animation,
	}
	if len(p.Badges) > 0 {
		snap.Badges = append([]string(nil), p.Badges...)
	}
	return snap
}
