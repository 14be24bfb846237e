// The updater binary runs one recall update end to end: it picks the
// source CSV out of the inbox bucket, diffs it against the backend and
// pushes the resulting change sets, then archives the file.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"recalls/internal/bucket"
	"recalls/internal/config"
	"recalls/internal/logging"
	"recalls/internal/metrics"
	"recalls/internal/metrics/prompush"
	"recalls/internal/remote"
	"recalls/internal/updater"
)

func main() {
	var (
		cfgPath  string
		filename string
	)
	flag.StringVar(&cfgPath, "config", "", "config file path (default: search standard locations)")
	flag.StringVar(&filename, "file", "", "inbox object to process (default: the configured expected filename)")
	flag.Parse()

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logging.Error().Err(err).Msg("loading configuration failed")
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	if filename == "" {
		filename = cfg.Updater.ExpectedFilename
	}

	setupMetrics(cfg)
	defer func() {
		if err := metrics.Flush(); err != nil {
			logging.Warn().Err(err).Msg("metrics flush failed")
		}
	}()

	client := remote.NewClient(remote.Config{
		BaseURL:    cfg.Backend.BaseURL,
		Caller:     cfg.Backend.Caller,
		Timeout:    cfg.Backend.Timeout,
		MaxRetries: cfg.Backend.MaxRetries,
		PageSize:   cfg.Backend.PageSize,
	})

	u := updater.New(
		client,
		bucket.New(cfg.Updater.InboxDir),
		bucket.New(cfg.Updater.AssetsDir),
		updater.Config{
			ExpectedFilename:       cfg.Updater.ExpectedFilename,
			SourceEncoding:         cfg.Updater.SourceEncoding,
			DeleteThresholdPercent: cfg.Updater.DeleteThresholdPercent,
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := u.Run(ctx, filename); err != nil {
		if errors.Is(err, updater.ErrUnexpectedFile) {
			// Already logged; an unexpected inbox object is ignored, not
			// treated as a job failure.
			return
		}
		logging.Error().Err(err).Str("filename", filename).Msg("update run failed")
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func setupMetrics(cfg *config.Config) {
	switch cfg.Metrics.Backend {
	case "pushgateway":
		b, err := prompush.NewBackend(cfg.Metrics.JobName, cfg.Metrics.PushgatewayURL)
		if err != nil {
			logging.Warn().Err(err).Msg("metrics backend init failed, metrics disabled")
			return
		}
		metrics.SetBackend(b)
		logging.Info().Str("url", cfg.Metrics.PushgatewayURL).Str("job", cfg.Metrics.JobName).
			Msg("metrics push enabled")
	case "", "none":
		// nop backend remains
	default:
		logging.Warn().Str("backend", cfg.Metrics.Backend).Msg("unknown metrics backend, metrics disabled")
	}
}
