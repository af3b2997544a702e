package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "3001", cfg.Port)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Contains(t, cfg.Database.DSN, "tcp(localhost:3306)")
	assert.Equal(t, "@every 15m", cfg.Sweeper.Schedule)
	assert.Equal(t, 4*time.Hour, cfg.Sweeper.StaleAfter)
	assert.Equal(t, 64, cfg.SignalQueueSize)
	assert.Equal(t, time.Second, cfg.Call.RecoveryDelay)
	assert.Equal(t, 10*time.Second, cfg.Call.StoreTimeout)
	assert.Equal(t, time.Minute, cfg.Call.Heartbeat)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.Call.ICEServers)
}

func TestLoadConfigPostgres(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_HOST", "db")
	t.Setenv("ICE_SERVERS", "stun:a:3478, turn:b:3478")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "5432", cfg.Database.Port)
	assert.Contains(t, cfg.Database.DSN, "host=db port=5432")
	assert.Equal(t, []string{"stun:a:3478", "turn:b:3478"}, cfg.Call.ICEServers)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("CALL_RECOVERY_DELAY_MS", "soon")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "CALL_RECOVERY_DELAY_MS")

	t.Setenv("CALL_RECOVERY_DELAY_MS", "1000")
	t.Setenv("DB_DRIVER", "oracle")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "DB_DRIVER")
}

func TestLoadAgentConfig(t *testing.T) {
	_, err := LoadAgentConfig()
	assert.Error(t, err)

	t.Setenv("AGENT_EMAIL", "dr@example.com")
	t.Setenv("AGENT_PASSWORD", "secret")
	t.Setenv("SERVER_URL", "https://api.example.com")
	cfg, err := LoadAgentConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", cfg.ServerURL)
	assert.Equal(t, time.Second, cfg.Call.RecoveryDelay)
}
