package sentinel

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// NATSConfig controls the optional NATS bus. An empty URL disables it and
// events go to the log publisher instead.
type NATSConfig struct {
	URL     string `json:"url"`
	Subject string `json:"subject"`
}

// NotifyConfig selects the alert channels and their endpoints.
type NotifyConfig struct {
	Channels        []string   `json:"channels"`
	MinSeverity     string     `json:"min_severity"`
	WebhookURL      string     `json:"webhook_url"`
	SlackWebhookURL string     `json:"slack_webhook_url"`
	SMTP            SMTPConfig `json:"smtp"`
}

// Config is the full runtime configuration. Interval and window fields are
// seconds in the file; accessors return durations.
type Config struct {
	ScanInterval         int    `json:"scan_interval"`
	FailedLoginThreshold int    `json:"failed_login_threshold"`
	BruteForceWindow     int    `json:"brute_force_window"`
	GeoAPIKey            string `json:"geo_api_key"`
	GeoCacheTTL          int    `json:"geo_cache_ttl"`
	MaxEvents            int    `json:"max_events"`
	Listen               string `json:"listen"`
	Database             string `json:"database"`

	// SuspiciousServices overrides the built-in sensitive service list.
	SuspiciousServices []string `json:"suspicious_services"`

	Log    LogConfig    `json:"log"`
	NATS   NATSConfig   `json:"nats"`
	Notify NotifyConfig `json:"notify"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		ScanInterval:         int(DefaultScanInterval / time.Second),
		FailedLoginThreshold: DefaultFailedLoginThreshold,
		BruteForceWindow:     int(DefaultBruteForceWindow / time.Second),
		GeoCacheTTL:          int(DefaultGeoCacheTTL / time.Second),
		MaxEvents:            DefaultMaxEvents,
		Listen:               ":8090",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		NATS: NATSConfig{
			Subject: BusSubject,
		},
		Notify: NotifyConfig{
			Channels:    []string{"log"},
			MinSeverity: string(DefaultAlertThreshold),
		},
	}
}

// LoadConfig reads the JSON config at path over the defaults. Absent keys
// keep their default value; an explicit failed_login_threshold of 0 disables
// brute-force detection and is preserved. A missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		cfg.applyEnv()
		return cfg, cfg.validate()
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.applyEnv()
		return cfg, cfg.validate()
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, cfg.validate()
}

// applyEnv overlays SENTINEL_* environment variables so secrets stay out of
// the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("SENTINEL_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("SENTINEL_DATABASE"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("SENTINEL_GEO_API_KEY"); v != "" {
		c.GeoAPIKey = v
	}
	if v := os.Getenv("SENTINEL_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("SENTINEL_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SENTINEL_SMTP_PASSWORD"); v != "" {
		c.Notify.SMTP.Password = v
	}
	if v := os.Getenv("SENTINEL_SLACK_WEBHOOK_URL"); v != "" {
		c.Notify.SlackWebhookURL = v
	}
	if v := os.Getenv("SENTINEL_WEBHOOK_URL"); v != "" {
		c.Notify.WebhookURL = v
	}
}

// validate clamps nonsense values back to defaults. The failed login
// threshold is left alone: zero and below mean detection is disabled.
func (c *Config) validate() error {
	if c.ScanInterval <= 0 {
		c.ScanInterval = int(DefaultScanInterval / time.Second)
	}
	if c.BruteForceWindow <= 0 {
		c.BruteForceWindow = int(DefaultBruteForceWindow / time.Second)
	}
	if c.GeoCacheTTL <= 0 {
		c.GeoCacheTTL = int(DefaultGeoCacheTTL / time.Second)
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = DefaultMaxEvents
	}
	if c.Listen == "" {
		c.Listen = ":8090"
	}
	sev := Severity(c.Notify.MinSeverity)
	switch sev {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	case "":
		c.Notify.MinSeverity = string(DefaultAlertThreshold)
	default:
		return fmt.Errorf("invalid notify.min_severity %q", c.Notify.MinSeverity)
	}
	return nil
}

func (c Config) ScanIntervalDuration() time.Duration {
	return time.Duration(c.ScanInterval) * time.Second
}

func (c Config) BruteForceWindowDuration() time.Duration {
	return time.Duration(c.BruteForceWindow) * time.Second
}

func (c Config) GeoCacheTTLDuration() time.Duration {
	return time.Duration(c.GeoCacheTTL) * time.Second
}

func (c Config) AlertThreshold() Severity {
	return Severity(c.Notify.MinSeverity)
}

// WatchConfig re-reads path whenever it changes and hands the fresh config
// to onChange. Editors replace files rather than writing in place, so the
// parent directory is watched and events are filtered by name. Runs until
// ctx is done.
func WatchConfig(ctx context.Context, path string, logger zerolog.Logger, onChange func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := LoadConfig(path)
			if err != nil {
				logger.Error().Err(err).Msg("config reload failed, keeping previous settings")
				continue
			}
			logger.Info().Str("path", path).Msg("config reloaded")
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("config watcher error")
		}
	}
}
