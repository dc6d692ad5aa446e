package testutil

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/udisondev/rag2go/internal/config"
	"github.com/udisondev/rag2go/internal/constants"
	"github.com/udisondev/rag2go/internal/crypto"
)

// ErrHandlerFailed возвращают handlers в тестах путей ошибок.
var ErrHandlerFailed = errors.New("simulated handler failure")

// RSA ключ генерируется один раз на процесс: 1024 бита ~10-50ms
var sharedKeyRing = sync.OnceValues(func() (*crypto.KeyRing, error) {
	return crypto.GenerateKeyRing(1, constants.RSAKeyBits)
})

// KeyRing возвращает общий для тестов набор RSA ключей.
func KeyRing(t testing.TB) *crypto.KeyRing {
	t.Helper()

	ring, err := sharedKeyRing()
	if err != nil {
		t.Fatalf("generating RSA key ring: %v", err)
	}
	return ring
}

// ServerConfig возвращает конфиг для integration тестов:
// loopback, без metrics endpoint, короткие timeouts.
func ServerConfig() config.Server {
	cfg := config.DefaultServer()
	cfg.BindAddress = "127.0.0.1"
	cfg.Port = 0
	cfg.MetricsAddress = ""
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.HeartbeatTimeout = 2 * time.Second
	cfg.WriteTimeout = time.Second
	return cfg
}
