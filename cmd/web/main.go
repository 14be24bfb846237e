// The web binary serves the public recall lookup page, backed entirely
// by the api binary.
package main

import (
	"flag"
	"os"

	"recalls/internal/config"
	"recalls/internal/logging"
	"recalls/internal/remote"
	"recalls/internal/web"
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

	client := remote.NewClient(remote.Config{
		BaseURL:    cfg.Backend.BaseURL,
		Caller:     "cvr-web",
		Timeout:    cfg.Backend.Timeout,
		MaxRetries: cfg.Backend.MaxRetries,
		PageSize:   cfg.Backend.PageSize,
	})

	srv := web.NewServer(web.Config{Addr: cfg.Web.Addr}, client)
	logging.Info().Str("addr", cfg.Web.Addr).Str("backend", cfg.Backend.BaseURL).Msg("web listening")
	if err := srv.ListenAndServe(); err != nil {
		logging.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
