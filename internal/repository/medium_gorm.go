package repository

import (
	"context"
	"edurefund_backend/internal/model"
	"edurefund_backend/internal/util"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormMedium 将键值条目保存在关系型数据库中，version 列实现乐观锁
type GormMedium struct {
	DB *gorm.DB
}

func NewGormMedium(db *gorm.DB) *GormMedium {
	return &GormMedium{DB: db}
}

func (m *GormMedium) Get(ctx context.Context, key string) ([]byte, int64, bool, error) {
	var entry model.KVEntry
	err := m.DB.WithContext(ctx).Where("entry_key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	return []byte(entry.Value), entry.Version, true, nil
}

func (m *GormMedium) CompareAndSwap(ctx context.Context, key string, expected int64, value []byte) (int64, error) {
	now := time.Now()
	next := expected + 1

	if expected == 0 {
		res := m.DB.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&model.KVEntry{Key: key, Value: string(value), Version: next, UpdatedAt: now})
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 0 {
			return 0, util.ErrVersionConflict
		}
		return next, nil
	}

	res := m.DB.WithContext(ctx).
		Model(&model.KVEntry{}).
		Where("entry_key = ? AND version = ?", key, expected).
		Updates(map[string]interface{}{
			"value":      string(value),
			"version":    next,
			"updated_at": now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, util.ErrVersionConflict
	}
	return next, nil
}

func (m *GormMedium) Ping(ctx context.Context) error {
	sqlDB, err := m.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
