package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML shape. Pointer fields distinguish "absent"
// from zero so the file only overrides what it mentions.
type fileConfig struct {
	Port     *string `yaml:"port"`
	LogLevel *string `yaml:"log_level"`

	Database struct {
		Driver *string `yaml:"driver"`
		URL    *string `yaml:"url"`
	} `yaml:"database"`

	Redis struct {
		Addr     *string `yaml:"addr"`
		Password *string `yaml:"password"`
		DB       *int    `yaml:"db"`
	} `yaml:"redis"`

	Auth struct {
		BootstrapKey   *string `yaml:"bootstrap_key"`
		SessionSecret  *string `yaml:"session_secret"`
		SessionTTL     *string `yaml:"session_ttl"`
		KeyEnvironment *string `yaml:"key_environment"`
	} `yaml:"auth"`

	RateLimits struct {
		Read  *int `yaml:"read"`
		Write *int `yaml:"write"`
		Admin *int `yaml:"admin"`
	} `yaml:"rate_limits"`

	Schemas struct {
		MaxBytes *int `yaml:"max_bytes"`
		MaxDepth *int `yaml:"max_depth"`
	} `yaml:"schemas"`

	Impact struct {
		DefaultDepth *int `yaml:"default_depth"`
		MaxDepth     *int `yaml:"max_depth"`
	} `yaml:"impact"`

	Proposals struct {
		ExpiryDays *int `yaml:"expiry_days"`
	} `yaml:"proposals"`

	Pagination struct {
		Default *int `yaml:"default"`
		Max     *int `yaml:"max"`
	} `yaml:"pagination"`

	Webhooks struct {
		URL          *string `yaml:"url"`
		PollInterval *string `yaml:"poll_interval"`
		MaxAttempts  *int    `yaml:"max_attempts"`
	} `yaml:"webhooks"`

	CORSOrigins []string `yaml:"cors_origins"`
}

// LoadFile overlays settings from a YAML file onto c. Settings the
// file omits keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.Port, f.Port)
	setString(&c.LogLevel, f.LogLevel)
	setString(&c.DatabaseDriver, f.Database.Driver)
	setString(&c.DatabaseURL, f.Database.URL)
	setString(&c.RedisAddr, f.Redis.Addr)
	setString(&c.RedisPassword, f.Redis.Password)
	setInt(&c.RedisDB, f.Redis.DB)
	setString(&c.BootstrapAPIKey, f.Auth.BootstrapKey)
	setString(&c.SessionSecret, f.Auth.SessionSecret)
	setString(&c.KeyEnvironment, f.Auth.KeyEnvironment)
	setInt(&c.RateLimitRead, f.RateLimits.Read)
	setInt(&c.RateLimitWrite, f.RateLimits.Write)
	setInt(&c.RateLimitAdmin, f.RateLimits.Admin)
	setInt(&c.MaxSchemaBytes, f.Schemas.MaxBytes)
	setInt(&c.MaxSchemaDepth, f.Schemas.MaxDepth)
	setInt(&c.ImpactDefaultDepth, f.Impact.DefaultDepth)
	setInt(&c.ImpactMaxDepth, f.Impact.MaxDepth)
	setInt(&c.ProposalExpiryDays, f.Proposals.ExpiryDays)
	setInt(&c.PageSizeDefault, f.Pagination.Default)
	setInt(&c.PageSizeMax, f.Pagination.Max)
	setString(&c.WebhookURL, f.Webhooks.URL)
	setInt(&c.WebhookMaxAttempts, f.Webhooks.MaxAttempts)

	if err := setDuration(&c.SessionTTL, f.Auth.SessionTTL); err != nil {
		return fmt.Errorf("auth.session_ttl: %w", err)
	}
	if err := setDuration(&c.WebhookPollInterval, f.Webhooks.PollInterval); err != nil {
		return fmt.Errorf("webhooks.poll_interval: %w", err)
	}

	if len(f.CORSOrigins) > 0 {
		origins := make([]string, 0, len(f.CORSOrigins))
		for _, o := range f.CORSOrigins {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.CORSAllowedOrigins = origins
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
