package repository

import (
	"context"
	"fmt"

	"github.com/baifan1366/studify-pipeline/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PreferenceRepository handles notification preference lookups.
type PreferenceRepository struct {
	db *gorm.DB
}

// NewPreferenceRepository creates a PreferenceRepository.
func NewPreferenceRepository(db *gorm.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// ListEnabled returns the preferences of every user whose toggle for
// the given digest type is on. Filtering happens here, before any
// per-user work, so disabled users never enter a scheduler run.
func (r *PreferenceRepository) ListEnabled(ctx context.Context, digestType domain.DigestType, limit int) ([]domain.NotificationPreference, error) {
	var column string
	switch digestType {
	case domain.DigestDailyPlan:
		column = "enable_daily_plan"
	case domain.DigestEveningRetro:
		column = "enable_evening_retro"
	case domain.DigestWeekly:
		column = "enable_weekly_digest"
	default:
		return nil, fmt.Errorf("unknown digest type %q", digestType)
	}

	q := r.db.WithContext(ctx).
		Where(column+" = ?", true).
		Order("user_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var prefs []domain.NotificationPreference
	if err := q.Find(&prefs).Error; err != nil {
		return nil, err
	}
	return prefs, nil
}

// Get returns a user's preferences, or gorm.ErrRecordNotFound.
func (r *PreferenceRepository) Get(ctx context.Context, userID int64) (*domain.NotificationPreference, error) {
	var pref domain.NotificationPreference
	if err := r.db.WithContext(ctx).First(&pref, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &pref, nil
}

// Upsert creates or replaces a user's preference row.
func (r *PreferenceRepository) Upsert(ctx context.Context, pref *domain.NotificationPreference) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(pref).Error
}
