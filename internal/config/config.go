package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hallqvist/voltmine/internal/controller"
	"github.com/hallqvist/voltmine/internal/logger"
	"github.com/hallqvist/voltmine/internal/miner"
	"github.com/hallqvist/voltmine/internal/pricefeed"
)

// PollingConfig is the [polling] block.
type PollingConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	StaleAfter  int           `mapstructure:"stale_after"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`
	StalePolicy string        `mapstructure:"stale_policy"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
	StopGrace   time.Duration `mapstructure:"stop_grace"`
}

// LogConfig is the [log] block. Dir is where per-miner output files go.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Path       string `mapstructure:"path"`
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ServerConfig is the [server] block.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// MetricsConfig is the [metrics] block.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// StoreConfig is the [store] block.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// HistoryConfig is the [history] block; empty values disable the sink.
type HistoryConfig struct {
	PostgresDSN     string `mapstructure:"postgres_dsn"`
	ClickHouseAddr  string `mapstructure:"clickhouse_addr"`
	ClickHouseTable string `mapstructure:"clickhouse_table"`
}

// Config is the top-level TOML structure.
type Config struct {
	Polling PollingConfig  `mapstructure:"polling"`
	Log     LogConfig      `mapstructure:"log"`
	Server  ServerConfig   `mapstructure:"server"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	Store   StoreConfig    `mapstructure:"store"`
	History HistoryConfig  `mapstructure:"history"`
	Miners  []miner.Config `mapstructure:"miners"`

	// Rejected lists miners dropped at load time, one message each.
	Rejected []string `mapstructure:"-"`
}

const DefaultListen = "127.0.0.1:9090"

// Load reads and validates the TOML config. Invalid miner blocks are dropped
// and reported through Rejected; they never reach the controller.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	c.normalize()
	return &c, nil
}

func (c *Config) normalize() {
	if c.Polling.Interval <= 0 {
		c.Polling.Interval = pricefeed.DefaultInterval
	}
	if c.Polling.Interval < pricefeed.MinInterval {
		c.Polling.Interval = pricefeed.MinInterval
	}
	if c.Polling.StaleAfter <= 0 {
		c.Polling.StaleAfter = pricefeed.DefaultStaleAfter
	}
	if c.Polling.StalePolicy == "" {
		c.Polling.StalePolicy = string(controller.StaleHold)
	}
	if c.Polling.Cooldown <= 0 {
		c.Polling.Cooldown = controller.DefaultCooldown
	}
	if c.Polling.StopGrace <= 0 {
		c.Polling.StopGrace = miner.DefaultStopGrace
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	valid := c.Miners[:0]
	for i := range c.Miners {
		m := c.Miners[i]
		m.Zone = pricefeed.Zone(strings.ToUpper(string(m.Zone)))
		if err := m.Validate(); err != nil {
			c.Rejected = append(c.Rejected, err.Error())
			continue
		}
		valid = append(valid, m)
	}
	c.Miners = valid
}

// LoggerConfig maps the [log] block onto the logger package.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.Log.Level,
		Path:       c.Log.Path,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// PollerConfig maps the [polling] block onto the pricefeed package.
func (c *Config) PollerConfig() pricefeed.PollerConfig {
	return pricefeed.PollerConfig{
		Interval:    c.Polling.Interval,
		StaleAfter:  c.Polling.StaleAfter,
		BackoffBase: c.Polling.BackoffBase,
		BackoffMax:  c.Polling.BackoffMax,
	}
}

// ControllerConfig maps the [polling] block's automation knobs.
func (c *Config) ControllerConfig() controller.Config {
	return controller.Config{
		StalePolicy: controller.StalePolicy(c.Polling.StalePolicy),
		Cooldown:    c.Polling.Cooldown,
	}
}

// Zones returns the distinct zones the configured miners use.
func (c *Config) Zones() []pricefeed.Zone {
	seen := make(map[pricefeed.Zone]bool)
	var out []pricefeed.Zone
	for _, m := range c.Miners {
		if !seen[m.Zone] {
			seen[m.Zone] = true
			out = append(out, m.Zone)
		}
	}
	return out
}

// SaveMiners rewrites the [[miners]] blocks in path, keeping every other
// section, via temp-file rename so a crash never leaves a half-written
// config.
func SaveMiners(path string, miners []miner.Config) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		return err
	}

	blocks := make([]map[string]any, 0, len(miners))
	for _, m := range miners {
		blocks = append(blocks, minerMap(m))
	}
	v.Set("miners", blocks)

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".voltmine-config-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	_ = tmp.Close()
	if err := v.WriteConfigAs(tmpName); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

func minerMap(m miner.Config) map[string]any {
	out := map[string]any{
		"name":      m.Name,
		"program":   string(m.Program),
		"exec_path": m.ExecPath,
		"zone":      string(m.Zone),
		"threshold": m.Threshold,
	}
	if m.ConfigFile != "" {
		out["config_file"] = m.ConfigFile
	}
	if m.Algo != "" {
		out["algo"] = m.Algo
	}
	if m.Pool != "" {
		out["pool"] = m.Pool
	}
	if m.User != "" {
		out["user"] = m.User
	}
	if m.Pass != "" {
		out["pass"] = m.Pass
	}
	if m.Worker != "" {
		out["worker"] = m.Worker
	}
	if len(m.ExtraArgs) > 0 {
		out["extra_args"] = m.ExtraArgs
	}
	if m.WorkDir != "" {
		out["work_dir"] = m.WorkDir
	}
	if m.Hysteresis != 0 {
		out["hysteresis"] = m.Hysteresis
	}
	return out
}
