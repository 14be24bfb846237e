// The api binary serves the recall datastore over HTTP: the backend the
// update job writes through and the web frontend reads from.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"recalls/internal/api"
	"recalls/internal/config"
	"recalls/internal/logging"
	"recalls/internal/store"

	// register all store backends with the factory.
	_ "recalls/internal/store/all"
)

func main() {
	cfgPath := flag.String("config", "", "config file path (default: search standard locations)")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		logging.Error().Err(err).Msg("loading configuration failed")
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, store.Config{Kind: cfg.Store.Kind, DSN: cfg.Store.DSN})
	if err != nil {
		logging.Error().Err(err).Str("kind", cfg.Store.Kind).Msg("opening store failed")
		os.Exit(1)
	}
	defer st.Close()

	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           api.NewServer(st, cfg.Backend.PageSize).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logging.Info().Str("addr", cfg.API.Addr).Str("store", cfg.Store.Kind).Msg("api listening")

	select {
	case <-ctx.Done():
		logging.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Error().Err(err).Msg("shutdown failed")
			os.Exit(1)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("server failed")
			os.Exit(1)
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
