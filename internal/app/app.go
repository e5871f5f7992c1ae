// Package app wires the broker's components together and owns their
// lifecycle: created at startup, torn down in reverse order at shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"driftchat/internal/retention"
	"driftchat/pkg/api"
	"driftchat/pkg/config"
	"driftchat/pkg/history"
	"driftchat/pkg/hub"
	"driftchat/pkg/logger"
	"driftchat/pkg/storage"
)

// App encapsulates the broker components and lifecycle.
type App struct {
	cfg     *config.Config
	store   *storage.Store
	hist    *history.History
	hub     *hub.Hub
	sweeper *retention.Sweeper
	srv     *http.Server

	version string
}

// New initializes resources that do not need a running context: the storage
// layout, the history database, and the hub. Call Run to serve.
func New(cfg *config.Config, version string) (*App, error) {
	if err := cfg.ValidateTLS(); err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.Root)
	if err != nil {
		return nil, fmt.Errorf("open storage root %s: %w", cfg.Storage.Root, err)
	}

	hist, err := history.Open(cfg.Storage.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("open history at %s: %w", cfg.Storage.HistoryPath, err)
	}

	h := hub.New(hist, cfg.Limits.RPS, cfg.Limits.Burst)
	sweeper := retention.New(store, hist, cfg.Retention.Period.D(), cfg.Retention.Cron)

	a := &App{
		cfg:     cfg,
		store:   store,
		hist:    hist,
		hub:     h,
		sweeper: sweeper,
		version: version,
	}
	a.srv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.Handler(h, hist, sweeper),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a, nil
}

// Run starts the retention scheduler (when enabled) and the HTTP/WebSocket
// listener, and blocks until ctx is cancelled or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	var cancelRetention context.CancelFunc
	if a.cfg.Retention.Enabled {
		var err error
		cancelRetention, err = a.sweeper.Start(ctx)
		if err != nil {
			return err
		}
	} else {
		logger.Info("retention_disabled")
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if a.cfg.Server.TLS.Enabled {
			logger.Info("listening", "addr", a.cfg.Addr(), "tls", true, "version", a.version)
			err = a.srv.ListenAndServeTLS(a.cfg.Server.TLS.CertFile, a.cfg.Server.TLS.KeyFile)
		} else {
			logger.Info("listening", "addr", a.cfg.Addr(), "tls", false, "version", a.version)
			err = a.srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	// teardown in reverse order: listener, sockets, scheduler, stores
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	_ = a.srv.Shutdown(shutCtx)
	a.hub.Close()
	if cancelRetention != nil {
		cancelRetention()
	}
	if err := a.hist.Close(); err != nil {
		logger.Error("history_close_failed", "error", err)
	}
	logger.Info("broker_stopped")
	return runErr
}
