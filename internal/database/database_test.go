package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openTestPool(t *testing.T) *Pool {
	cfg := DefaultConfig()
	cfg.DSN = ":memory:"
	cfg.HealthCheckInterval = 0

	pool, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"}, zap.NewNop())
	assert.Error(t, err)
}

func TestPool_Ping(t *testing.T) {
	pool := openTestPool(t)
	assert.NoError(t, pool.Ping(context.Background()))
}

func TestPool_WithTransaction_Rollback(t *testing.T) {
	pool := openTestPool(t)

	type row struct {
		ID   uint `gorm:"primaryKey"`
		Name string
	}
	require.NoError(t, pool.DB().AutoMigrate(&row{}))

	boom := errors.New("boom")
	err := pool.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		if err := tx.Create(&row{Name: "x"}).Error; err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int64
	pool.DB().Model(&row{}).Count(&count)
	assert.Equal(t, int64(0), count, "failed transaction must leave no rows")
}

func TestPool_ClosedRejectsOps(t *testing.T) {
	pool := openTestPool(t)
	require.NoError(t, pool.Close())

	assert.Error(t, pool.Ping(context.Background()))
	assert.Error(t, pool.WithTransaction(context.Background(), func(tx *gorm.DB) error { return nil }))
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, isRetryableError(errors.New("Deadlock found when trying to get lock")))
	assert.True(t, isRetryableError(errors.New("driver: bad connection")))
	assert.False(t, isRetryableError(errors.New("syntax error")))
	assert.False(t, isRetryableError(nil))
}
