// Package config provides YAML-based configuration loading for Troupe.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Troupe configuration, loaded from config.yaml.
type Config struct {
	Bot       BotConfig       `yaml:"bot"`
	Conductor ConductorConfig `yaml:"conductor"`
	Discord   DiscordConfig   `yaml:"discord"`
	Generator GeneratorConfig `yaml:"generator"`
	DB        DBConfig        `yaml:"db"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Digest    DigestConfig    `yaml:"digest"`
}

// BotConfig identifies this bot to the conductor.
type BotConfig struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	APIKey string `yaml:"api_key"`
}

// ConductorConfig holds connection settings for the turn coordinator.
type ConductorConfig struct {
	URL                  string `yaml:"url"`
	ReconnectIntervalSec int    `yaml:"reconnect_interval_sec"`
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
}

// DiscordConfig holds the Discord gateway credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// GeneratorConfig names the external command that produces response text.
// The command receives the conversation context as JSON on stdin and must
// print the response on stdout.
type GeneratorConfig struct {
	Command    string `yaml:"command"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// DBConfig holds turn-history database settings. Driver is "mysql" or
// "sqlite"; sqlite uses Path, mysql uses the host fields.
type DBConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// DashboardConfig controls the local status HTTP server.
type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DigestConfig controls the periodic coordination digest.
type DigestConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Cron      string `yaml:"cron"`
	ChannelID string `yaml:"channel_id"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Bot.Name == "" {
		c.Bot.Name = c.Bot.ID
	}
	if c.Conductor.ReconnectIntervalSec == 0 {
		c.Conductor.ReconnectIntervalSec = 5
	}
	if c.Conductor.MaxReconnectAttempts == 0 {
		c.Conductor.MaxReconnectAttempts = 10
	}
	if c.Generator.TimeoutSec == 0 {
		c.Generator.TimeoutSec = 60
	}
	if c.DB.Driver == "" {
		c.DB.Driver = "sqlite"
	}
	if c.DB.Driver == "sqlite" && c.DB.Path == "" {
		c.DB.Path = "troupe.db"
	}
	if c.DB.Driver == "mysql" {
		if c.DB.Host == "" {
			c.DB.Host = "127.0.0.1"
		}
		if c.DB.Port == 0 {
			c.DB.Port = 3306
		}
		if c.DB.User == "" {
			c.DB.User = "root"
		}
		if c.DB.Database == "" && c.Bot.ID != "" {
			c.DB.Database = "troupe_" + c.Bot.ID
		}
	}
	if c.Dashboard.Addr == "" {
		c.Dashboard.Addr = "127.0.0.1:8490"
	}
	if c.Digest.Cron == "" {
		c.Digest.Cron = "0 9 * * *"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Bot.ID == "" {
		errs = append(errs, "bot.id is required")
	}
	if c.Bot.APIKey == "" {
		errs = append(errs, "bot.api_key is required")
	}
	if c.Conductor.URL == "" {
		errs = append(errs, "conductor.url is required")
	}
	if c.Discord.BotToken == "" {
		errs = append(errs, "discord.bot_token is required")
	}
	switch c.DB.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("db.driver %q is not supported (sqlite, mysql)", c.DB.Driver))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
