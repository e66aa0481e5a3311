package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfeidau/svdb/config"
	"github.com/wolfeidau/svdb/server"
	"github.com/wolfeidau/svdb/store"
	"github.com/wolfeidau/svdb/telemetry"
)

// ServeCmd runs the HTTP API.
type ServeCmd struct {
	DBFlags

	Address   string `help:"Address to listen on." placeholder:"HOST:PORT"`
	AuthToken string `help:"Require this token as a Bearer token or X-API-Key." env:"SVDB_SERVER_AUTH_TOKEN"`
	Metrics   bool   `help:"Expose Prometheus metrics on /metrics."`
}

func (c *ServeCmd) apply(cfg *config.Config) {
	c.DBFlags.apply(cfg)
	if c.Address != "" {
		cfg.Server.Address = c.Address
	}
	if c.AuthToken != "" {
		cfg.Server.AuthToken = c.AuthToken
	}
	if c.Metrics {
		cfg.Metrics.Prometheus = true
	}
}

func (c *ServeCmd) Run(g *Globals) error {
	cfg, logger, err := g.setup()
	if err != nil {
		return err
	}
	c.apply(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Prometheus || cfg.Metrics.OTLPEndpoint != "" {
		shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
			ServiceName:      cfg.Metrics.ServiceName,
			OTLPEndpoint:     cfg.Metrics.OTLPEndpoint,
			EnablePrometheus: cfg.Metrics.Prometheus,
		})
		if err != nil {
			return fmt.Errorf("initialising metrics: %w", err)
		}
		defer func() {
			if err := shutdownMetrics(context.Background()); err != nil {
				logger.Warn("shutting down metrics", "error", err)
			}
		}()
	}

	e, err := openEngine(cfg, logger.With("component", "store"), store.WithInstrumentation())
	if err != nil {
		return err
	}
	defer closeEngine(e)

	srv, err := server.New(e, server.Config{
		Address:      cfg.Server.Address,
		AuthToken:    cfg.Server.AuthToken,
		MaxBodySize:  cfg.Server.MaxBodySize,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Logger:       logger.With("component", "server"),
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("server started",
		"address", srv.Address(),
		"backend", cfg.Storage.Backend,
		"path", cfg.Storage.Path,
		"metrics", cfg.Metrics.Prometheus,
	)

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
