package storage

import (
	"context"
	"errors"

	"tinchat/backend/internal/models"

	"gorm.io/gorm"
)

// ProfileRepository reads and updates profiles in PostgreSQL.
type ProfileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// FetchProfile returns nil, nil when identity has no profile.
func (r *ProfileRepository) FetchProfile(ctx context.Context, identity string) (*models.Profile, error) {
	var profile models.Profile
	err := r.db.WithContext(ctx).Where("id = ?", identity).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// UpdateStatus sets the presence status and reports whether a profile was changed.
func (r *ProfileRepository) UpdateStatus(ctx context.Context, identity, status string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("id = ?", identity).
		Update("status", status)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SaveProfile creates or replaces a profile.
func (r *ProfileRepository) SaveProfile(ctx context.Context, profile *models.Profile) error {
	return r.db.WithContext(ctx).Save(profile).Error
}
