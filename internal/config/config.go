package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration
type Config struct {
	API        APIConfig
	DB         DBConfig
	Fetcher    FetcherConfig
	Transcript TranscriptConfig
	Audio      AudioConfig
	Watchdog   WatchdogConfig
	Server     ServerConfig
}

// APIConfig holds YouTube Data API configuration
type APIConfig struct {
	Keys            []string `envconfig:"YT_API_KEYS" required:"true"`
	ChannelIDs      []string `envconfig:"CHANNEL_IDS" required:"true"`
	KeyIndexFile    string   `envconfig:"YT_KEY_INDEX_FILE" default:"./apikey_index"`
	PublishedAfter  string   `envconfig:"PUBLISHED_AFTER"`
	PublishedBefore string   `envconfig:"PUBLISHED_BEFORE"`
	// WindowMode selects how a publication window is enumerated: "playlist"
	// walks the uploads playlist filtering by date (precise), "search" uses
	// the date-filtered search endpoint (cheaper, but the API's date filter
	// is approximate).
	WindowMode string `envconfig:"WINDOW_MODE" default:"playlist"`
}

// DBConfig holds database configuration
type DBConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"3306"`
	User     string `envconfig:"DB_USER" default:"root"`
	Password string `envconfig:"DB_PASSWORD" required:"true"`
	Database string `envconfig:"DB_NAME" default:"youtube_stats"`
	MaxConns int    `envconfig:"DB_MAX_CONNS" default:"10"`
}

// FetcherConfig holds the concurrent fetch coordinator configuration
type FetcherConfig struct {
	Concurrency int           `envconfig:"FETCH_CONCURRENCY" default:"7"`
	BatchSize   int           `envconfig:"FETCH_BATCH_SIZE" default:"15"`
	BatchPause  time.Duration `envconfig:"FETCH_BATCH_PAUSE" default:"2s"`
	RetryDelay  time.Duration `envconfig:"FETCH_RETRY_DELAY" default:"1s"`
	PageRate    float64       `envconfig:"FETCH_PAGE_RATE" default:"2"`
}

// TranscriptConfig holds transcript fetcher configuration
type TranscriptConfig struct {
	Languages []string      `envconfig:"TRANSCRIPT_LANGUAGES" default:"pt,pt-BR,en"`
	ProxyURL  string        `envconfig:"TRANSCRIPT_PROXY_URL"`
	Timeout   time.Duration `envconfig:"TRANSCRIPT_TIMEOUT" default:"30s"`
}

// AudioConfig holds audio artifact download configuration
type AudioConfig struct {
	Enabled   bool   `envconfig:"AUDIO_ENABLED" default:"false"`
	OutputDir string `envconfig:"AUDIO_OUTPUT_DIR" default:"./audio"`
	BinPath   string `envconfig:"AUDIO_YTDLP_PATH" default:"yt-dlp"`
}

// WatchdogConfig holds stall detection configuration
type WatchdogConfig struct {
	Threshold      time.Duration `envconfig:"WATCHDOG_THRESHOLD" default:"7m"`
	CheckInterval  time.Duration `envconfig:"WATCHDOG_CHECK_INTERVAL" default:"30s"`
	RestartBackoff time.Duration `envconfig:"WATCHDOG_RESTART_BACKOFF" default:"30s"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int `envconfig:"SERVER_PORT" default:"8080"`
}

// DSN returns the MySQL data source name
func (c *DBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// Window parses the optional publication-date window. Bounds must be
// RFC 3339 timestamps; two nil results mean unbounded enumeration.
func (c *APIConfig) Window() (after, before *time.Time, err error) {
	if c.PublishedAfter != "" {
		t, perr := time.Parse(time.RFC3339, c.PublishedAfter)
		if perr != nil {
			return nil, nil, fmt.Errorf("invalid PUBLISHED_AFTER: %w", perr)
		}
		after = &t
	}
	if c.PublishedBefore != "" {
		t, perr := time.Parse(time.RFC3339, c.PublishedBefore)
		if perr != nil {
			return nil, nil, fmt.Errorf("invalid PUBLISHED_BEFORE: %w", perr)
		}
		before = &t
	}
	if after != nil && before != nil && before.Before(*after) {
		return nil, nil, fmt.Errorf("PUBLISHED_BEFORE precedes PUBLISHED_AFTER")
	}
	return after, before, nil
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg.API); err != nil {
		return nil, fmt.Errorf("failed to load api config: %w", err)
	}

	if err := envconfig.Process("", &cfg.DB); err != nil {
		return nil, fmt.Errorf("failed to load db config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Fetcher); err != nil {
		return nil, fmt.Errorf("failed to load fetcher config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Transcript); err != nil {
		return nil, fmt.Errorf("failed to load transcript config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Audio); err != nil {
		return nil, fmt.Errorf("failed to load audio config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Watchdog); err != nil {
		return nil, fmt.Errorf("failed to load watchdog config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Server); err != nil {
		return nil, fmt.Errorf("failed to load server config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.API.Keys) == 0 {
		return fmt.Errorf("YT_API_KEYS is required")
	}
	if len(c.API.ChannelIDs) == 0 {
		return fmt.Errorf("CHANNEL_IDS is required")
	}
	if _, _, err := c.API.Window(); err != nil {
		return err
	}
	if c.API.WindowMode != "playlist" && c.API.WindowMode != "search" {
		return fmt.Errorf("WINDOW_MODE must be playlist or search")
	}
	if c.DB.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Fetcher.Concurrency <= 0 {
		return fmt.Errorf("FETCH_CONCURRENCY must be positive")
	}
	if c.Fetcher.BatchSize <= 0 {
		return fmt.Errorf("FETCH_BATCH_SIZE must be positive")
	}
	if c.Fetcher.PageRate <= 0 {
		return fmt.Errorf("FETCH_PAGE_RATE must be positive")
	}
	if len(c.Transcript.Languages) == 0 {
		return fmt.Errorf("TRANSCRIPT_LANGUAGES must not be empty")
	}
	if c.Watchdog.Threshold <= 0 {
		return fmt.Errorf("WATCHDOG_THRESHOLD must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535")
	}
	return nil
}
