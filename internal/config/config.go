package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string   `mapstructure:"PORT"`
	Env             string   `mapstructure:"ENV"`
	LogDir          string   `mapstructure:"AUDIT_LOG_DIR"`
	SlowThresholdMS int      `mapstructure:"SLOW_THRESHOLD_MS"`
	DatabaseURL     string   `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32    `mapstructure:"DB_MIN_CONNS"`
	APIKeys         []string `mapstructure:"API_KEYS"`
	JWTSecret       string   `mapstructure:"JWT_SECRET"`
	JWTIssuer       string   `mapstructure:"JWT_ISSUER"`
	AlertWebhooks   []string `mapstructure:"ALERT_WEBHOOKS"`
	BodyLimit       string   `mapstructure:"BODY_LIMIT"`
	AuthMaxFailures int      `mapstructure:"AUTH_MAX_FAILURES"`
	AuthWindowSecs  int      `mapstructure:"AUTH_WINDOW_SECS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUDIT_LOG_DIR", "./data/audit")
	v.SetDefault("SLOW_THRESHOLD_MS", 1000)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("AUTH_MAX_FAILURES", 10)
	v.SetDefault("AUTH_WINDOW_SECS", 300)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("AUDIT_LOG_DIR")
	v.BindEnv("SLOW_THRESHOLD_MS")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("API_KEYS")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("JWT_ISSUER")
	v.BindEnv("ALERT_WEBHOOKS")
	v.BindEnv("BODY_LIMIT")
	v.BindEnv("AUTH_MAX_FAILURES")
	v.BindEnv("AUTH_WINDOW_SECS")

	// Try reading .env, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Comma-separated lists arrive as single strings from env vars.
	if cfg.APIKeys == nil {
		if raw := v.GetString("API_KEYS"); raw != "" {
			cfg.APIKeys = strings.Split(raw, ",")
		}
	}
	if cfg.AlertWebhooks == nil {
		if raw := v.GetString("ALERT_WEBHOOKS"); raw != "" {
			cfg.AlertWebhooks = strings.Split(raw, ",")
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Production requires
// at least one authentication mechanism; development runs open with a
// warning from the caller.
func (c *Config) Validate() error {
	if c.LogDir == "" {
		return fmt.Errorf("AUDIT_LOG_DIR is required")
	}

	if c.IsProduction() && len(c.APIKeys) == 0 && c.JWTSecret == "" {
		return fmt.Errorf("production requires API_KEYS or JWT_SECRET; refusing to start an open audit API")
	}

	for _, raw := range c.AlertWebhooks {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("ALERT_WEBHOOKS entry %q is not a valid http(s) URL", raw)
		}
	}

	if c.SlowThresholdMS < 0 {
		return fmt.Errorf("SLOW_THRESHOLD_MS must be non-negative, got %d", c.SlowThresholdMS)
	}

	return nil
}
