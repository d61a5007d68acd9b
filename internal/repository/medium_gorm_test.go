package repository

import (
	"context"
	"edurefund_backend/internal/model"
	"edurefund_backend/internal/util"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.User{}, &model.Profile{}, &model.KVEntry{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func TestGormMediumCompareAndSwap(t *testing.T) {
	medium := NewGormMedium(newTestDB(t))
	ctx := context.Background()

	_, _, found, err := medium.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	v1, err := medium.CompareAndSwap(ctx, "k", 0, []byte(`[]`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)

	_, err = medium.CompareAndSwap(ctx, "k", 0, []byte(`["stale"]`))
	assert.ErrorIs(t, err, util.ErrVersionConflict)

	_, err = medium.CompareAndSwap(ctx, "k", 5, []byte(`["stale"]`))
	assert.ErrorIs(t, err, util.ErrVersionConflict)

	v2, err := medium.CompareAndSwap(ctx, "k", 1, []byte(`[1]`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2)

	value, version, found, err := medium.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(2), version)
	assert.Equal(t, `[1]`, string(value))

	require.NoError(t, medium.Ping(ctx))
}

func TestEnrollmentRepositoryOnDatabase(t *testing.T) {
	repo := NewEnrollmentRepository(NewGormMedium(newTestDB(t)), NewMemoryBroker(), testStoreConfig())
	ctx := context.Background()

	_, err := repo.Enroll(ctx, "learner-1", course("1", "4999.00"))
	require.NoError(t, err)
	_, err = repo.Enroll(ctx, "learner-1", course("2", "8999.99"))
	require.NoError(t, err)

	score, refund := result(60, "4999.00")
	_, err = repo.RecordTestResult(ctx, "learner-1", "1", score, refund)
	require.NoError(t, err)

	set, err := repo.Load(ctx, "learner-1")
	require.NoError(t, err)
	require.Len(t, set, 2)
	rec, _ := set.Find("1")
	assert.Equal(t, "2999.40", rec.RefundAmount.String())

	other, err := repo.Load(ctx, "learner-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestUserAndProfileRepositories(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	users := NewUserRepository(db)
	profiles := NewProfileRepository(db)

	user := &model.User{Name: "Ada", Email: " Ada@Example.com ", Password: "hash"}
	require.NoError(t, users.Create(ctx, user))
	require.NotEmpty(t, user.ID)

	found, err := users.FindByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	_, err = users.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	require.NoError(t, profiles.Upsert(ctx, &model.Profile{UserID: user.ID, Name: "Ada", Phone: "1"}))
	require.NoError(t, profiles.Upsert(ctx, &model.Profile{UserID: user.ID, Name: "Ada L.", Phone: "2", Bio: "math"}))

	profile, err := profiles.FindByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", profile.Name)
	assert.Equal(t, "2", profile.Phone)
	assert.Equal(t, "math", profile.Bio)
}
