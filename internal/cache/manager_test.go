package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	manager, err := NewManager(Config{
		Addr:       mr.Addr(),
		DefaultTTL: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)

	return mr, manager
}

func TestManager_SetAndGet(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()
	defer manager.Close()

	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", "v", time.Minute))

	value, err := manager.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)
}

func TestManager_GetMiss(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()
	defer manager.Close()

	_, err := manager.Get(context.Background(), "absent")
	assert.True(t, IsCacheMiss(err))
}

func TestManager_JSONRoundTrip(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()
	defer manager.Close()

	ctx := context.Background()

	type payload struct {
		IDs []string `json:"ids"`
	}
	require.NoError(t, manager.SetJSON(ctx, "p", payload{IDs: []string{"a", "b"}}, 0))

	var got payload
	require.NoError(t, manager.GetJSON(ctx, "p", &got))
	assert.Equal(t, []string{"a", "b"}, got.IDs)
}

func TestManager_DeleteByPrefix(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()
	defer manager.Close()

	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "ret:kb1:q1", "r1", time.Minute))
	require.NoError(t, manager.Set(ctx, "ret:kb1:q2", "r2", time.Minute))
	require.NoError(t, manager.Set(ctx, "ret:kb2:q1", "keep", time.Minute))

	deleted, err := manager.DeleteByPrefix(ctx, "ret:kb1:")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	// kb1 作用域的键全部失效
	_, err = manager.Get(ctx, "ret:kb1:q1")
	assert.True(t, IsCacheMiss(err))
	_, err = manager.Get(ctx, "ret:kb1:q2")
	assert.True(t, IsCacheMiss(err))

	// 其他知识库不受影响
	value, err := manager.Get(ctx, "ret:kb2:q1")
	require.NoError(t, err)
	assert.Equal(t, "keep", value)
}

func TestManager_ClosedRejectsOps(t *testing.T) {
	mr, manager := setupTestRedis(t)
	defer mr.Close()

	require.NoError(t, manager.Close())

	err := manager.Set(context.Background(), "k", "v", 0)
	assert.Error(t, err)
	_, err = manager.Get(context.Background(), "k")
	assert.Error(t, err)
}
