package asynq

import (
	"testing"
	"time"

	"trainops/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager_UsesInjectedConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Redis.Addr = "127.0.0.1:16379"
	cfg.Redis.Password = "secret"
	cfg.Redis.DB = 3
	cfg.Queue.DispatchTimeout = 7
	cfg.Queue.MaxRetry = 9

	m, err := NewManager(cfg)
	require.NoError(t, err)
	defer m.Close()

	// Enqueue and drop options derive from the injected config, not from
	// whatever the process-global config happens to hold.
	assert.Equal(t, "127.0.0.1:16379", m.redisOpt.Addr)
	assert.Equal(t, "secret", m.redisOpt.Password)
	assert.Equal(t, 3, m.redisOpt.DB)
	assert.Equal(t, 7*time.Second, m.dispatchTimeout)
	assert.Equal(t, 9, m.maxRetry)
}
