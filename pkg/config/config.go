package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Stream source names accepted by Config.Source.
const (
	SourceCertstream = "certstream"
	SourceCTLog      = "ctlog"
)

// Config holds all configuration for certsquat
type Config struct {
	// Watch list input
	PatternFile string   `yaml:"pattern_file" env:"CERTSQUAT_PATTERN_FILE"`
	SeedWords   []string `yaml:"seed_words" env:"CERTSQUAT_SEED_WORDS"`

	// Output settings
	Output       string `yaml:"output" env:"CERTSQUAT_OUTPUT"`
	DBPath       string `yaml:"db_path" env:"CERTSQUAT_DB"`
	MutationsDir string `yaml:"mutations_dir" env:"CERTSQUAT_MUTATIONS_DIR"`
	Quiet        bool   `yaml:"quiet" env:"CERTSQUAT_QUIET"`

	// Stream source selection
	Source        string `yaml:"source" env:"CERTSQUAT_SOURCE"`
	CertstreamURL string `yaml:"certstream_url" env:"CERTSQUAT_CERTSTREAM_URL"`
	CTLogListURL  string `yaml:"ctlog_list_url" env:"CERTSQUAT_CTLOG_LIST_URL"`

	// Notification settings
	DiscordWebhook string        `yaml:"discord_webhook" env:"CERTSQUAT_DISCORD_WEBHOOK"`
	SlackWebhook   string        `yaml:"slack_webhook" env:"CERTSQUAT_SLACK_WEBHOOK"`
	NotifyTimeout  time.Duration `yaml:"notify_timeout" env:"CERTSQUAT_NOTIFY_TIMEOUT"`

	// Rate limiting
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Batching
	BatchWindow time.Duration `yaml:"batch_window" env:"CERTSQUAT_BATCH_WINDOW"`

	// Match enrichment
	ResolveMatches bool   `yaml:"resolve_matches" env:"CERTSQUAT_RESOLVE"`
	DNSServer      string `yaml:"dns_server" env:"CERTSQUAT_DNS_SERVER"`

	// Status API
	StatusAddr string `yaml:"status_addr" env:"CERTSQUAT_STATUS_ADDR"`

	// Runtime behavior
	ShutdownGrace time.Duration `yaml:"shutdown_grace" env:"CERTSQUAT_SHUTDOWN_GRACE"`
	LogLevel      string        `yaml:"log_level" env:"CERTSQUAT_LOG_LEVEL"`
}

// RateLimitConfig holds notification rate limiting configuration
type RateLimitConfig struct {
	Window      time.Duration `yaml:"window"`
	MaxMessages int           `yaml:"max_messages"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Output:        "matches.log",
		Source:        SourceCertstream,
		CertstreamURL: "wss://certstream.calidog.io/",
		CTLogListURL:  "https://www.gstatic.com/ct/log_list/v3/all_logs_list.json",
		NotifyTimeout: 10 * time.Second,
		RateLimit: RateLimitConfig{
			Window:      1 * time.Minute,
			MaxMessages: 10,
		},
		ShutdownGrace: 5 * time.Second,
		LogLevel:      "info",
	}
}

// Load loads configuration from file and environment. Semantic checks
// live in Validate so that callers can layer flag overrides on top of
// the loaded values first.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Try to load from config file
	configPath := getConfigPath()
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with environment variables
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}

	return cfg, nil
}

// getConfigPath returns the config file path
func getConfigPath() string {
	// Check for explicit config path
	if path := os.Getenv("CERTSQUAT_CONFIG"); path != "" {
		return path
	}

	// Check XDG config directory
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "certsquat", "config.yaml")
	}

	// Fall back to home directory
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "certsquat", "config.yaml")
	}

	return ""
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(cfg *Config, path string) error {
	// #nosec G304 - The config file path comes from trusted sources (env var or standard locations)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(cfg *Config) error {
	if file := os.Getenv("CERTSQUAT_PATTERN_FILE"); file != "" {
		cfg.PatternFile = file
	}

	if seeds := os.Getenv("CERTSQUAT_SEED_WORDS"); seeds != "" {
		cfg.SeedWords = splitList(seeds)
	}

	if output := os.Getenv("CERTSQUAT_OUTPUT"); output != "" {
		cfg.Output = output
	}

	if db := os.Getenv("CERTSQUAT_DB"); db != "" {
		cfg.DBPath = db
	}

	if dir := os.Getenv("CERTSQUAT_MUTATIONS_DIR"); dir != "" {
		cfg.MutationsDir = dir
	}

	if source := os.Getenv("CERTSQUAT_SOURCE"); source != "" {
		cfg.Source = source
	}

	if url := os.Getenv("CERTSQUAT_CERTSTREAM_URL"); url != "" {
		cfg.CertstreamURL = url
	}

	if url := os.Getenv("CERTSQUAT_CTLOG_LIST_URL"); url != "" {
		cfg.CTLogListURL = url
	}

	if webhook := os.Getenv("CERTSQUAT_DISCORD_WEBHOOK"); webhook != "" {
		cfg.DiscordWebhook = webhook
	}

	if webhook := os.Getenv("CERTSQUAT_SLACK_WEBHOOK"); webhook != "" {
		cfg.SlackWebhook = webhook
	}

	if server := os.Getenv("CERTSQUAT_DNS_SERVER"); server != "" {
		cfg.DNSServer = server
	}

	if addr := os.Getenv("CERTSQUAT_STATUS_ADDR"); addr != "" {
		cfg.StatusAddr = addr
	}

	if level := os.Getenv("CERTSQUAT_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if timeout := os.Getenv("CERTSQUAT_NOTIFY_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid CERTSQUAT_NOTIFY_TIMEOUT: %w", err)
		}
		cfg.NotifyTimeout = d
	}

	if window := os.Getenv("CERTSQUAT_BATCH_WINDOW"); window != "" {
		d, err := time.ParseDuration(window)
		if err != nil {
			return fmt.Errorf("invalid CERTSQUAT_BATCH_WINDOW: %w", err)
		}
		cfg.BatchWindow = d
	}

	if grace := os.Getenv("CERTSQUAT_SHUTDOWN_GRACE"); grace != "" {
		d, err := time.ParseDuration(grace)
		if err != nil {
			return fmt.Errorf("invalid CERTSQUAT_SHUTDOWN_GRACE: %w", err)
		}
		cfg.ShutdownGrace = d
	}

	if quiet := os.Getenv("CERTSQUAT_QUIET"); quiet != "" {
		v, err := parseBool("CERTSQUAT_QUIET", quiet)
		if err != nil {
			return err
		}
		cfg.Quiet = v
	}

	if resolve := os.Getenv("CERTSQUAT_RESOLVE"); resolve != "" {
		v, err := parseBool("CERTSQUAT_RESOLVE", resolve)
		if err != nil {
			return err
		}
		cfg.ResolveMatches = v
	}

	return nil
}

// splitList parses a comma-separated environment value into its
// non-empty, whitespace-trimmed elements.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseBool(name, value string) (bool, error) {
	switch value {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s value: %q (use true/false)", name, value)
	}
}

// Validate checks the fully merged configuration. It is called after
// flag overrides are applied, not from Load.
func (c *Config) Validate() error {
	if c.PatternFile == "" && len(c.SeedWords) == 0 {
		return fmt.Errorf("either pattern_file or seed_words is required")
	}

	if c.PatternFile != "" && len(c.SeedWords) > 0 {
		return fmt.Errorf("pattern_file and seed_words are mutually exclusive")
	}

	if c.Output == "" {
		return fmt.Errorf("output is required")
	}

	switch c.Source {
	case SourceCertstream:
		if c.CertstreamURL == "" {
			return fmt.Errorf("certstream_url is required for the certstream source")
		}
	case SourceCTLog:
		if c.CTLogListURL == "" {
			return fmt.Errorf("ctlog_list_url is required for the ctlog source")
		}
	default:
		return fmt.Errorf("source must be %q or %q, got %q", SourceCertstream, SourceCTLog, c.Source)
	}

	if c.RateLimit.MaxMessages < 0 {
		return fmt.Errorf("rate_limit.max_messages must be non-negative")
	}

	if c.RateLimit.Window < 0 {
		return fmt.Errorf("rate_limit.window must be non-negative")
	}

	if c.NotifyTimeout < 0 {
		return fmt.Errorf("notify_timeout must be non-negative")
	}

	if c.BatchWindow < 0 {
		return fmt.Errorf("batch_window must be non-negative")
	}

	if c.ShutdownGrace < 0 {
		return fmt.Errorf("shutdown_grace must be non-negative")
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

// ParseLevel maps a config log level name onto a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", level)
	}
}
