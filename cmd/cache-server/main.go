package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/leonardcser/ttl-cache/internal/cache"
	"github.com/leonardcser/ttl-cache/internal/config"
	"github.com/leonardcser/ttl-cache/internal/logger"
	"github.com/leonardcser/ttl-cache/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := logger.Init(cfg.Log); err != nil {
		panic(err)
	}
	defer logger.Close()

	// Ensure socket and data dirs exist and remove stale socket
	_ = os.MkdirAll(filepath.Dir(cfg.Socket), 0o755)
	_ = os.MkdirAll(cfg.Dir, 0o755)
	_ = os.Remove(cfg.Socket)

	l, err := net.Listen("unix", cfg.Socket)
	if err != nil {
		logger.Errorf("listen on %s: %v", cfg.Socket, err)
		panic(err)
	}
	_ = os.Chmod(cfg.Socket, 0o600)

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		ms := metrics.NewServer(cfg.MetricsAddr, m.Registry())
		if err := ms.Start(); err != nil {
			logger.Warnf("metrics server disabled: %v", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = ms.Stop(ctx)
			}()
		}
	}

	srv := cache.NewServer(cfg.Dir, cfg.DefaultTTLSeconds(), m)
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Errorf("closing namespaces: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infof("Cache daemon listening on %s, data in %s", cfg.Socket, cfg.Dir)
	if err := srv.Serve(ctx, l); err != nil {
		logger.Errorf("serve: %v", err)
	}
	_ = os.Remove(cfg.Socket)
	logger.Infof("Cache daemon stopped")
}
