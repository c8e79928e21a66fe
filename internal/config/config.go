package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	Secret     string        `mapstructure:"secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`

	// Billing
	PerMinuteRate   int64         `mapstructure:"per_minute_rate"` // cents
	BillingInterval time.Duration `mapstructure:"billing_interval"`
	BillingRetries  int           `mapstructure:"billing_retries"`

	// Session timers
	InviteTimeout     time.Duration `mapstructure:"invite_timeout"`
	DisconnectTimeout time.Duration `mapstructure:"disconnect_timeout"`

	// Invite flood protection
	InviteRateLimit  int           `mapstructure:"invite_rate_limit"`
	InviteRateWindow time.Duration `mapstructure:"invite_rate_window"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("token_ttl", "336h")
	v.SetDefault("per_minute_rate", 50)
	v.SetDefault("billing_interval", "1m")
	v.SetDefault("billing_retries", 3)
	v.SetDefault("invite_timeout", "30s")
	v.SetDefault("disconnect_timeout", "30s")
	v.SetDefault("invite_rate_limit", 10)
	v.SetDefault("invite_rate_window", "1m")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Rate: %d¢/min\n", cfg.Mode, cfg.Port, cfg.PerMinuteRate)
	return &cfg, nil
}
