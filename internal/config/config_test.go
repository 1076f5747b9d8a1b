package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicechan/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := config.Load(nil)
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "release", cfg.Mode)
	require.Equal(t, 54*time.Second, cfg.PingPeriod)
	require.Equal(t, 5*time.Second, cfg.Negotiation.AnswerTimeout)
	require.Equal(t, 1, cfg.Negotiation.MaxRetries)
	require.Equal(t, "voice", cfg.Redis.Prefix)
	require.Empty(t, cfg.Redis.Addr)
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: debug
port: 9000
admin_token: file-token
negotiation:
  answer_timeout: 3s
rtc:
  udp_port_min: 50000
  udp_port_max: 50100
  ice_servers:
    - stun:stun.example.org:3478
`), 0o600))
	t.Setenv("VOICE_ADMIN_TOKEN", "env-token")

	cfg, err := config.Load([]string{"--config", path, "--port", "9100"})
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Mode)
	require.Equal(t, 9100, cfg.Port)
	require.Equal(t, "env-token", cfg.AdminToken)
	require.Equal(t, 3*time.Second, cfg.Negotiation.AnswerTimeout)
	require.Equal(t, uint16(50000), cfg.RTC.UDPPortMin)
	require.Equal(t, []string{"stun:stun.example.org:3478"}, cfg.RTC.ICEServers)
}

func TestLoadRejectsBadPortRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rtc:\n  udp_port_min: 60000\n  udp_port_max: 50000\n"), 0o600))

	_, err := config.Load([]string{"--config", path})
	require.Error(t, err)
}
