package repository

import (
	"context"
	"edurefund_backend/internal/model"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProfileRepository struct {
	DB *gorm.DB
}

func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{DB: db}
}

func (r *ProfileRepository) FindByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	var profile model.Profile
	if err := r.DB.WithContext(ctx).Where("user_id = ?", userID).Take(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// Upsert 不存在则创建，存在则覆盖可编辑字段，created_at 保持不变
func (r *ProfileRepository) Upsert(ctx context.Context, profile *model.Profile) error {
	profile.UpdatedAt = time.Now()
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "phone", "address", "bio", "updated_at"}),
	}).Create(profile).Error
}
