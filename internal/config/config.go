package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/donation-overlay/internal/feed"
	"github.com/eugenenazirov/donation-overlay/internal/widget"
)

const (
	defaultPort           = "8080"
	defaultStorePath      = "overlay.db"
	defaultLocale         = "en-US"
	defaultLogLevel       = "info"
	defaultRateLimitRPS   = 25.0
	defaultRateLimitBurst = 50

	// MemoryStorePath selects the in-memory store instead of a database file.
	MemoryStorePath = ":memory:"

	// vitePrefix is the prefix the widget's build-time .env files use.
	vitePrefix = "VITE_"
)

// DotEnvFiles are loaded by LoadDotEnv when no explicit list is given.
// Earlier files win.
var DotEnvFiles = []string{".env.local", ".env"}

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > YAML config > Environment variables > Defaults
type Config struct {
	Port                 string
	StorePath            string
	Query                string
	Locale               string
	LogLevel             string
	ShutdownGracePeriod  time.Duration
	ReadHeaderTimeout    time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	EnableRequestLogging bool
	RateLimitRPS         float64
	RateLimitBurst       int

	// HonorInitialAmountReset enables the reset-vs-resume branch driven by
	// the initialAmount page parameter.
	HonorInitialAmountReset bool
	// FreshFromConfig starts fresh sessions at the configured initial amount.
	FreshFromConfig bool

	// Widget holds the defaults the page query is layered over.
	Widget widget.Config
	// Feed always comes from the environment.
	Feed       widget.FeedSettings
	FeedTiming FeedTiming
}

// FeedTiming tunes the feed adapter.
type FeedTiming struct {
	Endpoint       string
	TestInterval   time.Duration
	DemoStartDelay time.Duration
	DemoInterval   time.Duration
}

// yamlConfig represents the YAML configuration file structure.
type yamlConfig struct {
	Port                    string        `yaml:"port"`
	StorePath               string        `yaml:"store_path"`
	Locale                  string        `yaml:"locale"`
	LogLevel                string        `yaml:"log_level"`
	ShutdownGracePeriod     string        `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout       string        `yaml:"read_header_timeout"`
	WriteTimeout            string        `yaml:"write_timeout"`
	IdleTimeout             string        `yaml:"idle_timeout"`
	EnableRequestLogging    *bool         `yaml:"enable_request_logging"`
	HonorInitialAmountReset *bool         `yaml:"honor_initial_amount_reset"`
	FreshFromConfig         bool          `yaml:"fresh_from_config"`
	RateLimit               yamlRateLimit `yaml:"rate_limit"`
	Widget                  yamlWidget    `yaml:"widget"`
	Feed                    yamlFeed      `yaml:"feed"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   *float64 `yaml:"rps"`
	Burst *int     `yaml:"burst"`
}

// yamlWidget carries overlay defaults.
type yamlWidget struct {
	Title                string         `yaml:"title"`
	Goal                 float64        `yaml:"goal"`
	Currency             string         `yaml:"currency"`
	InitialAmount        float64        `yaml:"initial_amount"`
	ShowLastDonation     *bool          `yaml:"show_last_donation"`
	AnimationDuration    string         `yaml:"animation_duration"`
	NotificationDuration string         `yaml:"notification_duration"`
	Colors               *widget.Colors `yaml:"colors"`
}

// yamlFeed tunes the feed adapter. Credentials are never read from YAML.
type yamlFeed struct {
	Endpoint       string `yaml:"endpoint"`
	TestInterval   string `yaml:"test_interval"`
	DemoStartDelay string `yaml:"demo_start_delay"`
	DemoInterval   string `yaml:"demo_interval"`
}

// serverEnv lists the environment variables read for server settings.
type serverEnv struct {
	Port           string   `env:"PORT"`
	StorePath      string   `env:"STORE_PATH"`
	Locale         string   `env:"OVERLAY_LOCALE"`
	LogLevel       string   `env:"LOG_LEVEL"`
	RateLimitRPS   *float64 `env:"RATE_LIMIT_RPS"`
	RateLimitBurst *int     `env:"RATE_LIMIT_BURST"`
}

// feedEnv lists the feed variables. Flags are enabled only by the exact
// value "true".
type feedEnv struct {
	Enabled   string `env:"STREAMELEMENTS_ENABLED"`
	Token     string `env:"STREAMELEMENTS_JWT_TOKEN"`
	ChannelID string `env:"STREAMELEMENTS_CHANNEL_ID"`
	TestMode  string `env:"STREAMELEMENTS_TEST_MODE"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile     string
	Port           *string
	StorePath      *string
	Query          *string
	RateLimitRPS   *float64
	RateLimitBurst *int
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	if err := applyEnvConfig(&cfg); err != nil {
		return Config{}, err
	}

	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		if err := applyYAMLConfig(&cfg, yamlCfg); err != nil {
			return Config{}, fmt.Errorf("apply YAML config: %w", err)
		}
	}

	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadDotEnv loads dotenv files into the process environment. Variables that
// are already set are never overwritten, so earlier files take priority over
// later ones and the real environment over both. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = DotEnvFiles
	}
	for _, file := range files {
		if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// LoadFeedSettings reads the feed settings from the environment. Unprefixed
// variables take precedence over their VITE_ prefixed forms.
func LoadFeedSettings() (widget.FeedSettings, error) {
	var prefixed, plain feedEnv
	if err := env.ParseWithOptions(&prefixed, env.Options{Prefix: vitePrefix}); err != nil {
		return widget.FeedSettings{}, fmt.Errorf("parse feed environment: %w", err)
	}
	if err := env.Parse(&plain); err != nil {
		return widget.FeedSettings{}, fmt.Errorf("parse feed environment: %w", err)
	}

	merged := feedEnv{
		Enabled:   firstNonEmpty(plain.Enabled, prefixed.Enabled),
		Token:     firstNonEmpty(plain.Token, prefixed.Token),
		ChannelID: firstNonEmpty(plain.ChannelID, prefixed.ChannelID),
		TestMode:  firstNonEmpty(plain.TestMode, prefixed.TestMode),
	}
	return widget.FeedSettings{
		Enabled:   merged.Enabled == "true",
		Token:     merged.Token,
		ChannelID: merged.ChannelID,
		TestMode:  merged.TestMode == "true",
	}, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		Port:                    defaultPort,
		StorePath:               defaultStorePath,
		Locale:                  defaultLocale,
		LogLevel:                defaultLogLevel,
		ShutdownGracePeriod:     10 * time.Second,
		ReadHeaderTimeout:       5 * time.Second,
		WriteTimeout:            0,
		IdleTimeout:             60 * time.Second,
		EnableRequestLogging:    true,
		RateLimitRPS:            defaultRateLimitRPS,
		RateLimitBurst:          defaultRateLimitBurst,
		HonorInitialAmountReset: true,
		Widget:                  widget.Defaults(),
		FeedTiming: FeedTiming{
			Endpoint:       feed.DefaultEndpoint,
			TestInterval:   15 * time.Second,
			DemoStartDelay: 3 * time.Second,
			DemoInterval:   8 * time.Second,
		},
	}
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig) error {
	if yamlCfg.Port != "" {
		cfg.Port = yamlCfg.Port
	}
	if yamlCfg.StorePath != "" {
		cfg.StorePath = yamlCfg.StorePath
	}
	if yamlCfg.Locale != "" {
		cfg.Locale = yamlCfg.Locale
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}

	durations := []struct {
		name  string
		raw   string
		field *time.Duration
	}{
		{"shutdown_grace_period", yamlCfg.ShutdownGracePeriod, &cfg.ShutdownGracePeriod},
		{"read_header_timeout", yamlCfg.ReadHeaderTimeout, &cfg.ReadHeaderTimeout},
		{"write_timeout", yamlCfg.WriteTimeout, &cfg.WriteTimeout},
		{"idle_timeout", yamlCfg.IdleTimeout, &cfg.IdleTimeout},
		{"widget.animation_duration", yamlCfg.Widget.AnimationDuration, &cfg.Widget.AnimationDuration},
		{"widget.notification_duration", yamlCfg.Widget.NotificationDuration, &cfg.Widget.NotificationDuration},
		{"feed.test_interval", yamlCfg.Feed.TestInterval, &cfg.FeedTiming.TestInterval},
		{"feed.demo_start_delay", yamlCfg.Feed.DemoStartDelay, &cfg.FeedTiming.DemoStartDelay},
		{"feed.demo_interval", yamlCfg.Feed.DemoInterval, &cfg.FeedTiming.DemoInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		value, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.field = value
	}

	if yamlCfg.EnableRequestLogging != nil {
		cfg.EnableRequestLogging = *yamlCfg.EnableRequestLogging
	}
	if yamlCfg.HonorInitialAmountReset != nil {
		cfg.HonorInitialAmountReset = *yamlCfg.HonorInitialAmountReset
	}
	cfg.FreshFromConfig = yamlCfg.FreshFromConfig

	if yamlCfg.RateLimit.RPS != nil {
		cfg.RateLimitRPS = *yamlCfg.RateLimit.RPS
	}
	if yamlCfg.RateLimit.Burst != nil {
		cfg.RateLimitBurst = *yamlCfg.RateLimit.Burst
	}

	w := yamlCfg.Widget
	if w.Title != "" {
		cfg.Widget.Title = w.Title
	}
	if w.Goal != 0 {
		cfg.Widget.GoalAmount = w.Goal
	}
	if w.Currency != "" {
		cfg.Widget.Currency = w.Currency
	}
	if w.InitialAmount != 0 {
		cfg.Widget.InitialAmount = w.InitialAmount
	}
	if w.ShowLastDonation != nil {
		cfg.Widget.ShowLastDonation = *w.ShowLastDonation
	}
	if w.Colors != nil {
		cfg.Widget.Colors = *w.Colors
	}

	if yamlCfg.Feed.Endpoint != "" {
		cfg.FeedTiming.Endpoint = yamlCfg.Feed.Endpoint
	}
	return nil
}

// applyEnvConfig applies environment variable configuration.
func applyEnvConfig(cfg *Config) error {
	var server serverEnv
	if err := env.Parse(&server); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	if port := strings.TrimSpace(server.Port); port != "" {
		cfg.Port = port
	}
	if path := strings.TrimSpace(server.StorePath); path != "" {
		cfg.StorePath = path
	}
	if locale := strings.TrimSpace(server.Locale); locale != "" {
		cfg.Locale = locale
	}
	if level := strings.TrimSpace(server.LogLevel); level != "" {
		cfg.LogLevel = level
	}
	if server.RateLimitRPS != nil && *server.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *server.RateLimitRPS
	}
	if server.RateLimitBurst != nil && *server.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *server.RateLimitBurst
	}

	settings, err := LoadFeedSettings()
	if err != nil {
		return err
	}
	cfg.Feed = settings
	return nil
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	if overrides.Port != nil && *overrides.Port != "" {
		cfg.Port = *overrides.Port
	}

	if overrides.StorePath != nil && *overrides.StorePath != "" {
		cfg.StorePath = *overrides.StorePath
	}

	if overrides.Query != nil {
		cfg.Query = strings.TrimPrefix(*overrides.Query, "?")
	}

	if overrides.RateLimitRPS != nil && *overrides.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}

	if overrides.RateLimitBurst != nil && *overrides.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.StorePath == "" {
		return fmt.Errorf("store path cannot be empty")
	}
	if cfg.Widget.GoalAmount <= 0 {
		return fmt.Errorf("widget goal must be positive, got %v", cfg.Widget.GoalAmount)
	}
	if cfg.Widget.InitialAmount < 0 {
		return fmt.Errorf("widget initial amount must be >= 0, got %v", cfg.Widget.InitialAmount)
	}
	if cfg.Widget.NotificationDuration <= 0 {
		return fmt.Errorf("widget notification duration must be positive")
	}
	if _, err := language.Parse(cfg.Locale); err != nil {
		return fmt.Errorf("invalid locale %q: %w", cfg.Locale, err)
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
