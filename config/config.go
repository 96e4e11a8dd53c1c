// Package config provides the watcher's typed configuration, loaded
// env-first through viper with an optional config file.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is everything the watcher reads at startup.
type Config struct {
	// Discord
	Token             string `mapstructure:"token"`
	AnnounceChannelID string `mapstructure:"announce_channel_id"`
	NotifyRoleID      string `mapstructure:"notify_role_id"`
	NotifyUserID      string `mapstructure:"notify_user_id"`

	// Watch behavior
	Enabled          bool   `mapstructure:"enabled"`
	PollSeconds      int    `mapstructure:"poll_seconds"`
	CheckTimeoutSecs int    `mapstructure:"check_timeout_seconds"`
	PassDeadlineSecs int    `mapstructure:"pass_deadline_seconds"`
	Concurrency      int    `mapstructure:"concurrency"`
	TitleWhitelist   string `mapstructure:"title_whitelist"`
	MessageTemplate  string `mapstructure:"message_template"`
	MaxAgeMinutes    int    `mapstructure:"max_age_minutes"`
	OnlyNewAfterBoot bool   `mapstructure:"only_new_after_boot"`
	BootGraceSecs    int    `mapstructure:"boot_grace_seconds"`

	// Delivery
	SendThrottleSecs int `mapstructure:"send_throttle_seconds"`
	CooldownSecs     int `mapstructure:"cooldown_seconds"`
	QueueCapacity    int `mapstructure:"queue_capacity"`
	HistoryScanLimit int `mapstructure:"history_scan_limit"`

	// Storage
	WatchlistPath string `mapstructure:"watchlist_path"`
	StatePath     string `mapstructure:"state_path"`
	// StateFallbackPaths are older state locations consulted when the
	// primary document is missing.
	StateFallbackPaths []string `mapstructure:"state_fallback_paths"`

	// Ops
	HealthAddr string `mapstructure:"health_addr"`
	LogLevel   string `mapstructure:"log_level"`
}

// Load reads configuration from the environment (YTWATCH_ prefix) and
// an optional config file path.
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("YTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyFloors(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// every key needs a default registered or AutomaticEnv cannot
	// surface it through Unmarshal
	v.SetDefault("token", "")
	v.SetDefault("announce_channel_id", "")
	v.SetDefault("notify_role_id", "")
	v.SetDefault("notify_user_id", "")
	v.SetDefault("state_fallback_paths", []string{})
	v.SetDefault("enabled", true)
	v.SetDefault("poll_seconds", 60)
	v.SetDefault("check_timeout_seconds", 25)
	v.SetDefault("pass_deadline_seconds", 45)
	v.SetDefault("concurrency", 4)
	v.SetDefault("title_whitelist", ".*")
	v.SetDefault("message_template", "{mention} {video.title}\n{video.link}")
	v.SetDefault("max_age_minutes", 10)
	v.SetDefault("only_new_after_boot", true)
	v.SetDefault("boot_grace_seconds", 120)
	v.SetDefault("send_throttle_seconds", 2)
	v.SetDefault("cooldown_seconds", 300)
	v.SetDefault("queue_capacity", 16)
	v.SetDefault("history_scan_limit", 200)
	v.SetDefault("watchlist_path", "data/watchlist.json")
	v.SetDefault("state_path", "data/announce_state.json")
	v.SetDefault("health_addr", ":8080")
	v.SetDefault("log_level", "info")
}

// applyFloors clamps values the poll loop depends on. The poll
// interval never drops below 20s and the stale cutoff below 1 minute,
// matching the watcher's long-standing operational floors.
func applyFloors(cfg *Config) {
	if cfg.PollSeconds < 20 {
		cfg.PollSeconds = 20
	}
	if cfg.MaxAgeMinutes < 1 {
		cfg.MaxAgeMinutes = 1
	}
}

// Validate checks the configuration is runnable. A missing token or
// destination is the only fatal condition in the system.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("token is required (YTWATCH_TOKEN)")
	}
	if strings.TrimSpace(c.AnnounceChannelID) == "" {
		return fmt.Errorf("announce_channel_id is required (YTWATCH_ANNOUNCE_CHANNEL_ID)")
	}
	if c.CheckTimeoutSecs < 1 {
		return fmt.Errorf("check_timeout_seconds must be at least 1")
	}
	if c.PassDeadlineSecs < c.CheckTimeoutSecs {
		return fmt.Errorf("pass_deadline_seconds must be >= check_timeout_seconds")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1")
	}
	if c.TitleWhitelist != "" {
		if _, err := regexp.Compile(c.TitleWhitelist); err != nil {
			return fmt.Errorf("title_whitelist is not a valid regex: %w", err)
		}
	}
	return nil
}

// PollInterval and the accessors below expose the second-granularity
// knobs as durations.
func (c *Config) PollInterval() time.Duration  { return time.Duration(c.PollSeconds) * time.Second }
func (c *Config) CheckTimeout() time.Duration  { return time.Duration(c.CheckTimeoutSecs) * time.Second }
func (c *Config) PassDeadline() time.Duration  { return time.Duration(c.PassDeadlineSecs) * time.Second }
func (c *Config) MaxAge() time.Duration        { return time.Duration(c.MaxAgeMinutes) * time.Minute }
func (c *Config) BootGrace() time.Duration     { return time.Duration(c.BootGraceSecs) * time.Second }
func (c *Config) SendThrottle() time.Duration  { return time.Duration(c.SendThrottleSecs) * time.Second }
func (c *Config) Cooldown() time.Duration      { return time.Duration(c.CooldownSecs) * time.Second }
