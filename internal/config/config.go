package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/udisondev/rag2go/internal/constants"
	"github.com/udisondev/rag2go/internal/crypto"
)

// Server holds all configuration for the protocol server.
type Server struct {
	// Network
	BindAddress    string `yaml:"bind_address"`
	Port           int    `yaml:"port"`
	MaxConnections int    `yaml:"max_connections"` // 0 = unlimited

	// Timeouts
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"` // accept → 0x0A (default: 10s)
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"` // max gap between 0x1B/0x1C once ready (default: 10s)
	WriteTimeout     time.Duration `yaml:"write_timeout"`     // per-write deadline (default: 5s)

	// Framing
	MaxFrameSize     int `yaml:"max_frame_size"`
	MaxEnvelopeDepth int `yaml:"max_envelope_depth"`

	// Outbound queue
	SendQueueWatermark int `yaml:"send_queue_watermark"` // warn above this many queued messages
	SendQueueLimit     int `yaml:"send_queue_limit"`     // close as slow consumer above this (0 = unbounded)

	// Crypto
	RSAKeyBits           int    `yaml:"rsa_key_bits"`
	RSAKeyPoolSize       int    `yaml:"rsa_key_pool_size"`
	RSAKeyFile           string `yaml:"rsa_key_file"` // PEM; generated keys are used when empty
	SessionKeySize       int    `yaml:"session_key_size"`
	CipherMode           string `yaml:"cipher_mode"` // aes-ecb | chacha20-poly1305
	CompressionThreshold int    `yaml:"compression_threshold"` // 0 = never compress outbound

	// Handshake
	MinClientVersion  uint16   `yaml:"min_client_version"`
	MaxClientVersion  uint16   `yaml:"max_client_version"`
	FlashPolicy       bool     `yaml:"flash_policy"`
	HandshakeSettings []uint32 `yaml:"handshake_settings"`

	// Observability
	MetricsAddress string `yaml:"metrics_address"` // empty disables the endpoint
	LogLevel       string `yaml:"log_level"`
}

// DefaultServer returns Server config with the values observed from the official server.
func DefaultServer() Server {
	return Server{
		BindAddress:          "0.0.0.0",
		Port:                 7101,
		MaxConnections:       0,
		HandshakeTimeout:     10 * time.Second,
		HeartbeatTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
		MaxFrameSize:         constants.DefaultMaxFrameSize,
		MaxEnvelopeDepth:     4,
		SendQueueWatermark:   256,
		SendQueueLimit:       0,
		RSAKeyBits:           constants.RSAKeyBits,
		RSAKeyPoolSize:       1,
		SessionKeySize:       constants.SessionKeySize,
		CipherMode:           string(crypto.ModeAESECB),
		CompressionThreshold: 0,
		MinClientVersion:     0x0001,
		MaxClientVersion:     0x00FF,
		FlashPolicy:          true,
		HandshakeSettings: []uint32{
			constants.SettingFlags,
			constants.SettingVersion,
			constants.SettingUnknown1,
			constants.SettingUnknown2,
			constants.SettingTimeoutSecs,
			constants.SettingAESKeyBits,
			constants.SettingFastEncryptKeyBits,
			constants.SettingUnknownFlag1,
			constants.SettingUnknownFlag2,
			constants.SettingUnknown3,
		},
		MetricsAddress: "127.0.0.1:9101",
		LogLevel:       "info",
	}
}

// LoadServer loads server config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validating config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks value ranges and cross-field constraints. All problems are reported at once.
func (c Server) Validate() error {
	var errs []error

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.MaxConnections < 0 {
		errs = append(errs, errors.New("max_connections must be >= 0"))
	}
	if c.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("handshake_timeout must be positive"))
	}
	if c.HeartbeatTimeout <= 0 {
		errs = append(errs, errors.New("heartbeat_timeout must be positive"))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, errors.New("write_timeout must be positive"))
	}
	if c.MaxFrameSize <= 0 || c.MaxFrameSize > constants.DefaultMaxFrameSize {
		errs = append(errs, fmt.Errorf("max_frame_size must be in [1, %d]", constants.DefaultMaxFrameSize))
	}
	if c.MaxEnvelopeDepth < 1 {
		errs = append(errs, errors.New("max_envelope_depth must be >= 1"))
	}
	if c.SendQueueWatermark < 0 || c.SendQueueLimit < 0 {
		errs = append(errs, errors.New("send queue sizes must be >= 0"))
	}
	if c.SendQueueLimit > 0 && c.SendQueueWatermark > c.SendQueueLimit {
		errs = append(errs, fmt.Errorf("send_queue_watermark %d above send_queue_limit %d", c.SendQueueWatermark, c.SendQueueLimit))
	}
	if c.RSAKeyFile == "" && c.RSAKeyBits < constants.RSAMinKeyBits {
		errs = append(errs, fmt.Errorf("rsa_key_bits must be >= %d", constants.RSAMinKeyBits))
	}
	if c.RSAKeyPoolSize < 1 {
		errs = append(errs, errors.New("rsa_key_pool_size must be >= 1"))
	}
	if _, err := crypto.ParseMode(c.CipherMode); err != nil {
		errs = append(errs, err)
	}
	if c.CipherMode == string(crypto.ModeAESECB) &&
		c.SessionKeySize != 16 && c.SessionKeySize != 24 && c.SessionKeySize != 32 {
		errs = append(errs, fmt.Errorf("session_key_size %d invalid for aes-ecb", c.SessionKeySize))
	}
	if c.SessionKeySize <= 0 {
		errs = append(errs, errors.New("session_key_size must be positive"))
	}
	if c.CompressionThreshold < 0 {
		errs = append(errs, errors.New("compression_threshold must be >= 0"))
	}
	if c.MinClientVersion > c.MaxClientVersion {
		errs = append(errs, fmt.Errorf("min_client_version 0x%04x above max_client_version 0x%04x", c.MinClientVersion, c.MaxClientVersion))
	}
	if len(c.HandshakeSettings) != constants.HandshakeSettingsCount {
		errs = append(errs, fmt.Errorf("handshake_settings needs %d values, got %d", constants.HandshakeSettingsCount, len(c.HandshakeSettings)))
	}
	if c.MetricsAddress != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddress); err != nil {
			errs = append(errs, fmt.Errorf("metrics_address: %w", err))
		}
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ListenAddress returns host:port for the protocol listener.
func (c Server) ListenAddress() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.Port))
}

// ParseLogLevel maps debug|info|warn|error to a slog level. Empty means info.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log_level %q", s)
	}
}
