package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultServer_Valid(t *testing.T) {
	cfg := DefaultServer()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 7101, cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, 65536, cfg.MaxFrameSize)
	assert.Equal(t, 4, cfg.MaxEnvelopeDepth)
	assert.Equal(t, "aes-ecb", cfg.CipherMode)
	assert.Len(t, cfg.HandshakeSettings, 10)
	assert.Equal(t, "0.0.0.0:7101", cfg.ListenAddress())
}

func TestLoadServer_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadServer(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultServer(), cfg)
}

func TestLoadServer_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro2server.yaml")
	data := `
port: 7201
heartbeat_timeout: 30s
cipher_mode: chacha20-poly1305
min_client_version: 2
max_client_version: 9
flash_policy: false
send_queue_limit: 1024
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadServer(path)
	require.NoError(t, err)
	assert.Equal(t, 7201, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, "chacha20-poly1305", cfg.CipherMode)
	assert.Equal(t, uint16(2), cfg.MinClientVersion)
	assert.Equal(t, uint16(9), cfg.MaxClientVersion)
	assert.False(t, cfg.FlashPolicy)
	assert.Equal(t, 1024, cfg.SendQueueLimit)
	// не указанные ключи остаются по умолчанию
	assert.Equal(t, 10*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 4, cfg.MaxEnvelopeDepth)
}

func TestLoadServer_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [1, 2"), 0o600))

	_, err := LoadServer(path)
	require.Error(t, err)
}

func TestLoadServer_InvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_envelope_depth: 0\n"), 0o600))

	_, err := LoadServer(path)
	require.ErrorContains(t, err, "max_envelope_depth")
}

func TestServer_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Server)
		wantErr string
	}{
		{"порт вне диапазона", func(c *Server) { c.Port = 70000 }, "port"},
		{"нулевой heartbeat", func(c *Server) { c.HeartbeatTimeout = 0 }, "heartbeat_timeout"},
		{"слишком большой frame", func(c *Server) { c.MaxFrameSize = 1 << 20 }, "max_frame_size"},
		{"watermark выше limit", func(c *Server) { c.SendQueueWatermark = 10; c.SendQueueLimit = 5 }, "send_queue_watermark"},
		{"слабый RSA", func(c *Server) { c.RSAKeyBits = 512 }, "rsa_key_bits"},
		{"пустой пул ключей", func(c *Server) { c.RSAKeyPoolSize = 0 }, "rsa_key_pool_size"},
		{"неизвестный шифр", func(c *Server) { c.CipherMode = "des" }, "cipher mode"},
		{"ключ не для AES", func(c *Server) { c.SessionKeySize = 20 }, "session_key_size"},
		{"перевёрнутый диапазон версий", func(c *Server) { c.MinClientVersion = 5; c.MaxClientVersion = 1 }, "min_client_version"},
		{"мало settings", func(c *Server) { c.HandshakeSettings = []uint32{1, 2} }, "handshake_settings"},
		{"кривой metrics_address", func(c *Server) { c.MetricsAddress = "nope" }, "metrics_address"},
		{"неизвестный log_level", func(c *Server) { c.LogLevel = "loud" }, "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultServer()
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestServer_Validate_KeyFileSkipsBits(t *testing.T) {
	cfg := DefaultServer()
	cfg.RSAKeyFile = "/etc/ro2/server.pem"
	cfg.RSAKeyBits = 0
	require.NoError(t, cfg.Validate())
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"":      slog.LevelInfo,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
