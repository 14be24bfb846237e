// Package config defines the configuration model shared by the three
// recall binaries and loads it in layers: built-in defaults, then an
// optional YAML file, then environment variables. Precedence is
// ENV > file > defaults.
//
// Environment variables are prefixed with RECALLS_ and use a double
// underscore as the hierarchy separator, e.g.:
//
//	RECALLS_BACKEND__BASE_URL=http://backend:8080
//	RECALLS_UPDATER__DELETE_THRESHOLD_PERCENT=15
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "RECALLS_CONFIG"

// DefaultConfigPaths lists where a config file is searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/recalls/config.yaml",
}

// envPrefix namespaces all environment variables read by this package.
const envPrefix = "RECALLS_"

// Config is the root configuration object.
type Config struct {
	Backend BackendConfig `koanf:"backend"`
	Updater UpdaterConfig `koanf:"updater"`
	Store   StoreConfig   `koanf:"store"`
	API     ServerConfig  `koanf:"api"`
	Web     WebConfig     `koanf:"web"`
	Logging LoggingConfig `koanf:"logging"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// BackendConfig describes how clients reach the backend API.
type BackendConfig struct {
	// BaseURL is the backend root URL.
	BaseURL string `koanf:"base_url"`

	// Caller identifies the issuing job in the correlation headers.
	Caller string `koanf:"caller"`

	Timeout    time.Duration `koanf:"timeout"`
	MaxRetries int           `koanf:"max_retries"`

	// PageSize caps entities per PATCH request.
	PageSize int `koanf:"page_size"`
}

// UpdaterConfig controls the batch update job.
type UpdaterConfig struct {
	// InboxDir is the bucket directory where the source CSV arrives.
	InboxDir string `koanf:"inbox_dir"`

	// AssetsDir is the bucket directory where processed files are archived.
	AssetsDir string `koanf:"assets_dir"`

	// ExpectedFilename is the only object name the job will process.
	ExpectedFilename string `koanf:"expected_filename"`

	// SourceEncoding is the CSV byte encoding. The production export
	// arrives as cp1252.
	SourceEncoding string `koanf:"source_encoding"`

	// DeleteThresholdPercent aborts a run that would delete more than
	// this share of the stored recalls.
	DeleteThresholdPercent float64 `koanf:"delete_threshold_percent"`
}

// StoreConfig selects the backend storage.
type StoreConfig struct {
	// Kind is one of "sqlite", "postgres", "mssql".
	Kind string `koanf:"kind"`

	// DSN is passed to the selected driver.
	DSN string `koanf:"dsn"`
}

// ServerConfig holds HTTP listener settings for the backend API.
type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// WebConfig holds settings for the public frontend.
type WebConfig struct {
	Addr string `koanf:"addr"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig selects the metrics backend for the updater.
type MetricsConfig struct {
	// Backend is "pushgateway" or "none".
	Backend string `koanf:"backend"`

	PushgatewayURL string `koanf:"pushgateway_url"`
	JobName        string `koanf:"job_name"`
}

// defaultConfig returns the built-in defaults. File and environment
// layers override these.
func defaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:    "http://localhost:8080",
			Caller:     "cvr-update-data",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			PageSize:   500,
		},
		Updater: UpdaterConfig{
			InboxDir:               "data/inbox",
			AssetsDir:              "data/assets",
			ExpectedFilename:       "RecallsFileSmall.csv",
			SourceEncoding:         "cp1252",
			DeleteThresholdPercent: 10,
		},
		Store: StoreConfig{
			Kind: "sqlite",
			DSN:  "file:recalls.db?cache=shared",
		},
		API: ServerConfig{Addr: ":8080"},
		Web: WebConfig{Addr: ":8081"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Backend: "none",
			JobName: "recall-updater",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file
// and the environment, then validates it.
func Load() (*Config, error) {
	return load(findConfigFile())
}

// LoadFile is Load with an explicit config file path. The file must
// exist.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return load(path)
}

func load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(key string) string {
		key = strings.TrimPrefix(key, envPrefix)
		return strings.ReplaceAll(strings.ToLower(key), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file path, honoring
// the override variable, or "" when none exists.
func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Validate checks cross-field constraints that the type system cannot.
func (c *Config) Validate() error {
	var problems []string

	if c.Backend.BaseURL == "" {
		problems = append(problems, "backend.base_url must not be empty")
	}
	if c.Backend.PageSize <= 0 {
		problems = append(problems, "backend.page_size must be > 0")
	}
	if c.Updater.DeleteThresholdPercent < 0 || c.Updater.DeleteThresholdPercent > 100 {
		problems = append(problems, "updater.delete_threshold_percent must be within [0,100]")
	}
	if c.Updater.ExpectedFilename == "" {
		problems = append(problems, "updater.expected_filename must not be empty")
	}
	switch c.Updater.SourceEncoding {
	case "cp1252", "utf-8":
	default:
		problems = append(problems, fmt.Sprintf("updater.source_encoding %q is not one of cp1252, utf-8", c.Updater.SourceEncoding))
	}
	switch c.Store.Kind {
	case "sqlite", "postgres", "mssql":
	default:
		problems = append(problems, fmt.Sprintf("store.kind %q is not one of sqlite, postgres, mssql", c.Store.Kind))
	}
	if c.Metrics.Backend == "pushgateway" && c.Metrics.PushgatewayURL == "" {
		problems = append(problems, "metrics.pushgateway_url required when metrics.backend is pushgateway")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
