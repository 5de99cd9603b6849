// Package config loads the protection layer's configuration surface: the
// route-class limit table, trusted development origins, CSRF token TTL, and
// maintenance intervals. Values come from an optional YAML file layered over
// defaults and GATEHOUSE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/gatehouse/gatehouse/ratelimit"
)

// Limit is the per-route-class quota.
type Limit struct {
	Window      time.Duration `mapstructure:"window" validate:"required,gt=0"`
	MaxRequests int           `mapstructure:"max_requests" validate:"required,gt=0"`
	Message     string        `mapstructure:"message"`
}

// Redis locates the optional stats sink. An empty Addr disables it.
type Redis struct {
	Addr     string `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// Config is the full configuration surface.
type Config struct {
	Listen           string           `mapstructure:"listen" validate:"required"`
	TrustedOrigins   []string         `mapstructure:"trusted_origins" validate:"dive,uri"`
	CSRFTokenTTL     time.Duration    `mapstructure:"csrf_token_ttl" validate:"gt=0"`
	RequireCSRFToken bool             `mapstructure:"require_csrf_token"`
	SweepInterval    time.Duration    `mapstructure:"sweep_interval" validate:"gt=0"`
	Limits           map[string]Limit `mapstructure:"limits" validate:"dive"`
	Redis            Redis            `mapstructure:"redis"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")
	v.SetDefault("csrf_token_ttl", "1h")
	v.SetDefault("sweep_interval", "5m")
	v.SetDefault("limits.auth.window", "15m")
	v.SetDefault("limits.auth.max_requests", 5)
	v.SetDefault("limits.auth.message", "too many attempts, try again later")
	v.SetDefault("limits.upload.window", "1h")
	v.SetDefault("limits.upload.max_requests", 20)
	v.SetDefault("limits.search.window", "1m")
	v.SetDefault("limits.search.max_requests", 30)
	v.SetDefault("limits.general.window", "1m")
	v.SetDefault("limits.general.max_requests", 60)
}

// Load reads path (optional; "" means defaults plus environment only),
// decodes, and validates. All durations accept Go syntax ("15m", "1h").
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("GATEHOUSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("build decoder: %w", err)
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Policy converts the limit table into the rate limiter's policy. Unknown
// class names are ignored so a config file cannot invent route classes.
func (c *Config) Policy() ratelimit.Policy {
	p := ratelimit.Policy{}
	for name, l := range c.Limits {
		class := ratelimit.Class(strings.ToLower(name))
		switch class {
		case ratelimit.ClassAuth, ratelimit.ClassUpload, ratelimit.ClassSearch, ratelimit.ClassGeneral:
			p[class] = ratelimit.Config{Window: l.Window, MaxRequests: l.MaxRequests, Message: l.Message}
		}
	}
	return p
}
