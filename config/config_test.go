package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "recursive", cfg.Splitter.Strategy)
	assert.Equal(t, 500, cfg.Splitter.ChunkSize)
	assert.InDelta(t, 0.7, cfg.Retrieval.SemanticWeight, 1e-9)
	assert.InDelta(t, 0.3, cfg.Retrieval.KeywordWeight, 1e-9)
	assert.True(t, cfg.Training.WorkerEnabled)

	require.NoError(t, cfg.Validate())
}

func TestLoader_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
database:
  driver: postgres
  dsn: "host=db user=kf dbname=kf"
splitter:
  strategy: fixed
  chunk_size: 200
  chunk_overlap: 20
training:
  poll_interval: 10s
`), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "fixed", cfg.Splitter.Strategy)
	assert.Equal(t, 200, cfg.Splitter.ChunkSize)
	assert.Equal(t, 10*time.Second, cfg.Training.PollInterval)
	// 未出现在文件中的段保持默认值
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("KFTEST_SERVER_ADDR", ":7070")
	t.Setenv("KFTEST_SPLITTER_CHUNK_SIZE", "300")
	t.Setenv("KFTEST_TRAINING_WORKER_ENABLED", "false")
	t.Setenv("KFTEST_RETRIEVAL_SEMANTIC_WEIGHT", "0.6")
	// 组件配置结构体的字段按 yaml tag 大写覆盖
	t.Setenv("KFTEST_REDIS_ADDR", "redis:6380")
	t.Setenv("KFTEST_EMBEDDING_API_KEY", "sk-test")

	cfg, err := NewLoader().WithEnvPrefix("KFTEST").Load()
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 300, cfg.Splitter.ChunkSize)
	assert.False(t, cfg.Training.WorkerEnabled)
	assert.InDelta(t, 0.6, cfg.Retrieval.SemanticWeight, 1e-9)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("KFBAD_SPLITTER_CHUNK_SIZE", "not-a-number")

	_, err := NewLoader().WithEnvPrefix("KFBAD").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KFBAD_SPLITTER_CHUNK_SIZE")
}

func TestValidate_Rejections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Splitter.ChunkOverlap = cfg.Splitter.ChunkSize
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Splitter.Strategy = "semantic"
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Retrieval.SemanticWeight = 0
	cfg.Retrieval.KeywordWeight = 0
	require.Error(t, cfg.Validate())
}

func TestLoader_CustomValidator(t *testing.T) {
	wantErr := errors.New("api key required")
	_, err := NewLoader().
		WithEnvPrefix("KFVAL").
		WithValidator(func(c *Config) error {
			if c.Embedding.APIKey == "" {
				return wantErr
			}
			return nil
		}).
		Load()
	require.ErrorIs(t, err, wantErr)
}

func TestLogConfig_BuildLogger(t *testing.T) {
	logger, err := (&LogConfig{Level: "debug", Format: "console"}).BuildLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	_, err = (&LogConfig{Level: "verbose"}).BuildLogger()
	require.Error(t, err)
}

func TestSplitterConfig_BuildSplitter(t *testing.T) {
	cfg := DefaultConfig().Splitter
	sp, err := cfg.BuildSplitter(zap.NewNop())
	require.NoError(t, err)
	assert.NotEmpty(t, sp.Split("hello world"))

	cfg.Strategy = "fixed"
	cfg.Separator = " "
	sp, err = cfg.BuildSplitter(zap.NewNop())
	require.NoError(t, err)
	assert.NotEmpty(t, sp.Split("hello world"))

	cfg.Strategy = "nope"
	_, err = cfg.BuildSplitter(zap.NewNop())
	require.Error(t, err)
}
