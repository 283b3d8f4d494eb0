package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HTTP_PORT", "")
	t.Setenv("MAX_BOT_EXCHANGES", "")

	cfg := Load()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 256, cfg.HistoryCapacity)
	assert.Equal(t, 4, cfg.MaxBotExchanges)
	assert.Equal(t, 60*time.Second, cfg.KeepAliveInterval)
	assert.Equal(t, 1500*time.Millisecond, cfg.InterjectionDelayMin)
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("HISTORY_CAPACITY", "not-a-number")
	t.Setenv("RECONNECT_GRACE_MS", "250")
	t.Setenv("NOTIFY_DATABASE_URL", "")

	cfg := Load()
	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.Equal(t, 256, cfg.HistoryCapacity)
	assert.Equal(t, 250*time.Millisecond, cfg.ReconnectGrace)
	assert.Empty(t, cfg.NotifyDatabaseURL)
}
