package config

import (
	"errors"
	"strings"
	"time"
)

// Config is the bot's on-disk configuration. JSON and YAML are accepted;
// unknown keys are rejected so typos surface at load time.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Delivery DeliveryConfig `json:"delivery"`
	Announce AnnounceConfig `json:"announce"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminUserIDs is the operator allow-list. Only these users may open the
	// admin panel and publish announcements.
	AdminUserIDs []int64 `json:"admin_user_ids"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type DeliveryConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type AnnounceConfig struct {
	// SweepEvery is the interval of the pending-task safety sweep.
	// "0s" disables it.
	SweepEvery string `json:"sweep_every,omitempty"`
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = "./annobot.db"
	}
	if c.Delivery.RatePerSec <= 0 {
		c.Delivery.RatePerSec = 10
	}
	if strings.TrimSpace(c.Announce.SweepEvery) == "" {
		c.Announce.SweepEvery = "1m"
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("config: telegram.token is required")
	}
	if len(c.Telegram.AdminUserIDs) == 0 {
		return errors.New("config: telegram.admin_user_ids must not be empty")
	}
	return nil
}

// Duration parses a Go duration string, falling back to def when the value
// is empty or malformed.
func Duration(s string, def time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
