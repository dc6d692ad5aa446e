package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/rag2go/internal/config"
	"github.com/udisondev/rag2go/internal/crypto"
	"github.com/udisondev/rag2go/internal/dispatch"
	"github.com/udisondev/rag2go/internal/metrics"
	"github.com/udisondev/rag2go/internal/rmi"
	"github.com/udisondev/rag2go/internal/server"
)

const ConfigPath = "config/ro2server.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Load config
	cfgPath := ConfigPath
	if p := os.Getenv("RO2_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadServer(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Configure slog
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))

	slog.Info("ro2 server starting", "config", cfgPath)
	slog.Info("config loaded",
		"listen", cfg.ListenAddress(),
		"cipher", cfg.CipherMode,
		"max_connections", cfg.MaxConnections,
		"metrics", cfg.MetricsAddress)

	keys, err := loadKeys(cfg)
	if err != nil {
		return err
	}

	m := metrics.New()

	registry := dispatch.NewRegistry()
	if err := rmi.RegisterBuiltins(registry); err != nil {
		return err
	}
	dispatcher := dispatch.New(registry, dispatch.WithRecorder(m))
	slog.Info("handlers registered", "count", len(registry.Opcodes()))

	srv, err := server.NewServer(cfg, keys, dispatcher, server.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Run(gctx); err != nil {
			return fmt.Errorf("proudnet server: %w", err)
		}
		return nil
	})

	if cfg.MetricsAddress != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.MetricsAddress, m)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// loadKeys reads the persistent key when configured, otherwise generates a pool.
func loadKeys(cfg config.Server) (*crypto.KeyRing, error) {
	if cfg.RSAKeyFile != "" {
		kp, err := crypto.LoadKeyPair(cfg.RSAKeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading RSA key: %w", err)
		}
		slog.Info("RSA key loaded", "path", cfg.RSAKeyFile, "bits", kp.Bits())
		return crypto.NewKeyRing(kp)
	}

	// Pre-generate RSA key pairs (~10-50ms each)
	slog.Info("generating RSA key pairs", "count", cfg.RSAKeyPoolSize, "bits", cfg.RSAKeyBits)
	ring, err := crypto.GenerateKeyRing(cfg.RSAKeyPoolSize, cfg.RSAKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generating RSA keys: %w", err)
	}
	return ring, nil
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	hs := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics endpoint started", "address", addr)
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics endpoint: %w", err)
	}
	return nil
}
