// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/findadoc-tester/internal/extract"
	"github.com/JakeFAU/findadoc-tester/internal/progress"
)

// Browser backends accepted by browser.backend.
const (
	BackendChromedp = "chromedp"
	BackendRod      = "rod"
	BackendStatic   = "static"
)

// Storage backends accepted by storage.backend.
const (
	StorageNone   = "none"
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig        `mapstructure:"server"`
	Target    TargetConfig        `mapstructure:"target"`
	Browser   BrowserConfig       `mapstructure:"browser"`
	Search    SearchConfig        `mapstructure:"search"`
	Selectors map[string][]string `mapstructure:"selectors"`
	Extract   extract.Selectors   `mapstructure:"extract"`
	Storage   StorageConfig       `mapstructure:"storage"`
	PubSub    PubSubConfig        `mapstructure:"pubsub"`
	Progress  ProgressConfig      `mapstructure:"progress"`
	Logging   LoggingConfig       `mapstructure:"logging"`
	Telemetry TelemetryConfig     `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int    `mapstructure:"port"`
	StaticDir             string `mapstructure:"static_dir"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// TargetConfig names the search page the driver automates.
type TargetConfig struct {
	URL string `mapstructure:"url"`
}

// BrowserConfig selects and tunes the browser backend.
type BrowserConfig struct {
	Backend              string `mapstructure:"backend"`
	ExecPath             string `mapstructure:"exec_path"`
	RemoteURL            string `mapstructure:"remote_url"`
	Headless             bool   `mapstructure:"headless"`
	UserAgent            string `mapstructure:"user_agent"`
	LaunchTimeoutSeconds int    `mapstructure:"launch_timeout_seconds"`
}

// SearchConfig tunes the search driver's retries and pacing.
type SearchConfig struct {
	NavAttempts       int     `mapstructure:"nav_attempts"`
	NavTimeoutSeconds int     `mapstructure:"nav_timeout_seconds"`
	NavBackoffMs      int     `mapstructure:"nav_backoff_ms"`
	PostNavSettleMs   int     `mapstructure:"post_nav_settle_ms"`
	TypeDelayMs       int     `mapstructure:"type_delay_ms"`
	FieldSettleMs     int     `mapstructure:"field_settle_ms"`
	SubmitSettleMs    int     `mapstructure:"submit_settle_ms"`
	PageSettleMs      int     `mapstructure:"page_settle_ms"`
	MaxPages          int     `mapstructure:"max_pages"`
	NavigationQPS     float64 `mapstructure:"navigation_qps"`
	NavigationBurst   int     `mapstructure:"navigation_burst"`
}

// StorageConfig chooses where debug screenshots are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run-summary notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress hub and session retention.
type ProgressConfig struct {
	Hub              progress.Config `mapstructure:",squash"`
	RetentionSeconds int             `mapstructure:"retention_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TelemetryConfig controls tracing. Spans are exported to Cloud Trace only
// when ProjectID is set.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	Version     string  `mapstructure:"version"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FINDADOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Cloud Run injects PORT.
	if err := v.BindEnv("server.port", "FINDADOC_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind port env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.request_timeout_seconds", 180)
	v.SetDefault("target.url", "https://www.unchealth.org/care-services/doctors")
	v.SetDefault("browser.backend", BackendChromedp)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.launch_timeout_seconds", 60)
	v.SetDefault("search.nav_attempts", 3)
	v.SetDefault("search.nav_timeout_seconds", 30)
	v.SetDefault("search.nav_backoff_ms", 2000)
	v.SetDefault("search.post_nav_settle_ms", 3000)
	v.SetDefault("search.type_delay_ms", 100)
	v.SetDefault("search.field_settle_ms", 1000)
	v.SetDefault("search.submit_settle_ms", 5000)
	v.SetDefault("search.page_settle_ms", 3000)
	v.SetDefault("search.max_pages", 2)
	v.SetDefault("search.navigation_qps", 1.0)
	v.SetDefault("search.navigation_burst", 2)
	v.SetDefault("extract.card", extract.DefaultSelectors().Card)
	v.SetDefault("extract.name", extract.DefaultSelectors().Name)
	v.SetDefault("extract.specialty", extract.DefaultSelectors().Specialty)
	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.base_dir", "artifacts")
	v.SetDefault("storage.prefix", "debug")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait", "250ms")
	v.SetDefault("progress.sink_timeout", "5s")
	v.SetDefault("progress.retention_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.service_name", "findadoc-tester")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Target.URL == "" {
		return fmt.Errorf("target.url must be set")
	}
	switch c.Browser.Backend {
	case BackendChromedp, BackendRod, BackendStatic:
	default:
		return fmt.Errorf("browser.backend %q must be one of chromedp, rod, static", c.Browser.Backend)
	}
	if c.Search.NavAttempts <= 0 {
		return fmt.Errorf("search.nav_attempts must be > 0")
	}
	if c.Search.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("search.nav_timeout_seconds must be > 0")
	}
	if c.Search.MaxPages <= 0 {
		return fmt.Errorf("search.max_pages must be > 0")
	}
	if c.Search.NavigationQPS < 0 {
		return fmt.Errorf("search.navigation_qps must be >= 0")
	}
	switch c.Storage.Backend {
	case StorageNone, StorageMemory:
	case StorageLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q must be one of none, memory, local, gcs", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	return nil
}

// RequestTimeout bounds non-streaming API handlers.
func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// LaunchTimeout bounds browser startup.
func (c BrowserConfig) LaunchTimeout() time.Duration {
	return time.Duration(c.LaunchTimeoutSeconds) * time.Second
}

// Retention is how long finished progress sessions stay subscribable.
func (c ProgressConfig) Retention() time.Duration {
	return time.Duration(c.RetentionSeconds) * time.Second
}

// NavTimeout is the per-attempt navigation budget.
func (c SearchConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSeconds) * time.Second
}

// NavBackoff is the fixed pause between navigation attempts.
func (c SearchConfig) NavBackoff() time.Duration {
	return millis(c.NavBackoffMs)
}

// PostNavSettle is the pause after the search page loads.
func (c SearchConfig) PostNavSettle() time.Duration {
	return millis(c.PostNavSettleMs)
}

// TypeDelay is the per-keystroke delay.
func (c SearchConfig) TypeDelay() time.Duration {
	return millis(c.TypeDelayMs)
}

// FieldSettle is the pause after each filled field.
func (c SearchConfig) FieldSettle() time.Duration {
	return millis(c.FieldSettleMs)
}

// SubmitSettle is the pause after submitting the form.
func (c SearchConfig) SubmitSettle() time.Duration {
	return millis(c.SubmitSettleMs)
}

// PageSettle is the pause after following the next-page control.
func (c SearchConfig) PageSettle() time.Duration {
	return millis(c.PageSettleMs)
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
