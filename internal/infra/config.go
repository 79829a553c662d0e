package infra

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every runtime setting of the venue. Loaded from YAML, then
// overridden from the environment for deployment-specific values.
type Config struct {
	Venue struct {
		Name string `yaml:"name"`
		// SafetyMargin multiplies the best quote when estimating worst-case
		// cash for a market buy.
		SafetyMargin decimal.Decimal `yaml:"safety_margin"`
		// SelfMatch: "allow" or "cancel_resting".
		SelfMatch string `yaml:"self_match"`
	} `yaml:"venue"`

	Feed struct {
		Enabled         bool   `yaml:"enabled"`
		ListenAddr      string `yaml:"listen_addr"`
		DepthIntervalMS int    `yaml:"depth_interval_ms"`
	} `yaml:"feed"`

	Journal struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"` // empty = in per-user data dir
	} `yaml:"journal"`

	Sim struct {
		Agents    int     `yaml:"agents"`
		Orders    int     `yaml:"orders"`
		Seed      int64   `yaml:"seed"`
		RefPrice  float64 `yaml:"ref_price"`
		MinShares float64 `yaml:"min_shares"`
		MaxShares float64 `yaml:"max_shares"`
	} `yaml:"sim"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

const (
	SelfMatchAllow         = "allow"
	SelfMatchCancelResting = "cancel_resting"
)

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Venue.Name == "" {
		c.Venue.Name = "matchbook"
	}
	if c.Venue.SafetyMargin.IsZero() {
		c.Venue.SafetyMargin = decimal.NewFromFloat(1.5)
	}
	if c.Venue.SelfMatch == "" {
		c.Venue.SelfMatch = SelfMatchAllow
	}
	if c.Feed.ListenAddr == "" {
		c.Feed.ListenAddr = "localhost:8090"
	}
	if c.Feed.DepthIntervalMS == 0 {
		c.Feed.DepthIntervalMS = 500
	}
	if c.Sim.RefPrice == 0 {
		c.Sim.RefPrice = 100
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Venue.SafetyMargin.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("venue safety_margin must be >= 1, got %s", c.Venue.SafetyMargin)
	}
	if c.Venue.SelfMatch != SelfMatchAllow && c.Venue.SelfMatch != SelfMatchCancelResting {
		return fmt.Errorf("venue self_match must be %q or %q, got %q",
			SelfMatchAllow, SelfMatchCancelResting, c.Venue.SelfMatch)
	}
	if c.Feed.Enabled && c.Feed.DepthIntervalMS <= 0 {
		return fmt.Errorf("feed depth_interval_ms must be positive")
	}
	if c.Sim.Agents < 0 || c.Sim.Orders < 0 {
		return fmt.Errorf("sim agents/orders must not be negative")
	}
	if c.Sim.MinShares > c.Sim.MaxShares {
		return fmt.Errorf("sim min_shares must not exceed max_shares")
	}
	return nil
}

// overrideWithEnv overrides settings from environment variables when set.
func overrideWithEnv(cfg *Config) {
	if addr := os.Getenv("MATCHBOOK_FEED_ADDR"); addr != "" {
		cfg.Feed.ListenAddr = addr
	}
	if path := os.Getenv("MATCHBOOK_JOURNAL_PATH"); path != "" {
		cfg.Journal.Path = path
	}
	if level := os.Getenv("MATCHBOOK_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
