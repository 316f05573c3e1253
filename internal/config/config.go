package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the config file leaves fields unset.
const (
	DefaultDataFile            = "whoson_data.json"
	DefaultCategoryName        = "WhosOn Tracking"
	DefaultPollIntervalSeconds = 60
	DefaultProbeTimeoutSeconds = 4
)

// BotConfig is the full bot configuration.
type BotConfig struct {
	Discord Discord `yaml:"discord"`
	Store   Store   `yaml:"store"`
	Monitor Monitor `yaml:"monitor"`
	Logging Logging `yaml:"logging"`
}

// Discord holds the bot credentials.
type Discord struct {
	Token string `yaml:"token"`
}

// Store locates the persistent data file.
type Store struct {
	File string `yaml:"file"`
}

// Monitor tunes the reconciliation loop.
type Monitor struct {
	CategoryName        string `yaml:"category_name"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	ProbeTimeoutSeconds int    `yaml:"probe_timeout_seconds"`
}

// Logging configures log output.
type Logging struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// PollInterval returns the sweep interval as a duration.
func (m Monitor) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalSeconds) * time.Second
}

// ProbeTimeout returns the per-probe timeout as a duration.
func (m Monitor) ProbeTimeout() time.Duration {
	return time.Duration(m.ProbeTimeoutSeconds) * time.Second
}

// LoadBotConfig loads the bot configuration from a YAML file, applies
// environment overrides and defaults, and validates the result.
func LoadBotConfig(filepath string) (*BotConfig, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config BotConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.applyEnv()
	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// FromEnv builds a configuration from environment variables alone, for
// deployments that ship no config file.
func FromEnv() (*BotConfig, error) {
	var config BotConfig
	config.applyEnv()
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// applyEnv lets deployment environment variables override file values.
func (c *BotConfig) applyEnv() {
	if v := os.Getenv("DISCORD_BOT_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("DATA_FILE"); v != "" {
		c.Store.File = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("UPDATE_INTERVAL"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			c.Monitor.PollIntervalSeconds = seconds
		}
	}
}

func (c *BotConfig) applyDefaults() {
	if c.Store.File == "" {
		c.Store.File = DefaultDataFile
	}
	if c.Monitor.CategoryName == "" {
		c.Monitor.CategoryName = DefaultCategoryName
	}
	if c.Monitor.PollIntervalSeconds <= 0 {
		c.Monitor.PollIntervalSeconds = DefaultPollIntervalSeconds
	}
	if c.Monitor.ProbeTimeoutSeconds <= 0 {
		c.Monitor.ProbeTimeoutSeconds = DefaultProbeTimeoutSeconds
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// validate validates the bot configuration.
func (c *BotConfig) validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("discord bot token must not be empty")
	}
	return nil
}
