package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the configuration for the service
type Config struct {
	HTTPAddr    string `mapstructure:"http_addr"`
	DatabaseURL string `mapstructure:"database_url"`
	JWTSecret   string `mapstructure:"jwt_secret"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	// Expiry of the distributed conversation lock; a held lock is renewed every third of it
	RedisLockTTL time.Duration `mapstructure:"redis_lock_ttl"`

	PacingDelay    time.Duration `mapstructure:"workflow_pacing_delay"`
	GalleryPause   time.Duration `mapstructure:"workflow_gallery_pause"`
	MaxHops        int           `mapstructure:"workflow_max_hops"`
	SessionIdleTTL time.Duration `mapstructure:"workflow_session_idle_ttl"`
	SweepSchedule  string        `mapstructure:"workflow_sweep_schedule"`
	DefinitionsDir string        `mapstructure:"workflow_definitions_dir"`
	DefaultTenant  string        `mapstructure:"default_tenant"`

	SendRate  float64 `mapstructure:"send_rate"`
	SendBurst int     `mapstructure:"send_burst"`

	CloudToken       string `mapstructure:"whatsapp_cloud_token"`
	CloudPhoneID     string `mapstructure:"whatsapp_cloud_phone_id"`
	CloudVerifyToken string `mapstructure:"whatsapp_cloud_verify_token"`
	CloudTenant      string `mapstructure:"whatsapp_cloud_tenant"`
	CloudBaseURL     string `mapstructure:"whatsapp_cloud_base_url"`

	WhatsAppDevicesDir string `mapstructure:"whatsapp_devices_dir"`

	TelegramToken  string `mapstructure:"telegram_bot_token"`
	TelegramTenant string `mapstructure:"telegram_tenant"`
}

var defaults = map[string]any{
	"http_addr":                   "0.0.0.0:8080",
	"database_url":                "",
	"jwt_secret":                  "",
	"log_level":                   "info",
	"log_format":                  "json",
	"redis_addr":                  "",
	"redis_password":              "",
	"redis_db":                    0,
	"redis_lock_ttl":              "30s",
	"workflow_pacing_delay":       "800ms",
	"workflow_gallery_pause":      "500ms",
	"workflow_max_hops":           50,
	"workflow_session_idle_ttl":   "24h",
	"workflow_sweep_schedule":     "@every 5m",
	"workflow_definitions_dir":    "",
	"default_tenant":              "public",
	"send_rate":                   20.0,
	"send_burst":                  5,
	"whatsapp_cloud_token":        "",
	"whatsapp_cloud_phone_id":     "",
	"whatsapp_cloud_verify_token": "",
	"whatsapp_cloud_tenant":       "public",
	"whatsapp_cloud_base_url":     "https://graph.facebook.com/v18.0",
	"whatsapp_devices_dir":        "devices",
	"telegram_bot_token":          "",
	"telegram_tenant":             "public",
}

// Load reads envFile (if it exists) into the environment, then resolves every key
// from the environment with defaults. An empty envFile skips the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the service cannot start with
func (c *Config) Validate() error {
	var errs []error
	if c.MaxHops <= 0 {
		errs = append(errs, fmt.Errorf("WORKFLOW_MAX_HOPS must be positive, got %d", c.MaxHops))
	}
	if c.PacingDelay < 0 || c.GalleryPause < 0 {
		errs = append(errs, errors.New("workflow delays must not be negative"))
	}
	if c.SessionIdleTTL <= 0 {
		errs = append(errs, fmt.Errorf("WORKFLOW_SESSION_IDLE_TTL must be positive, got %s", c.SessionIdleTTL))
	}
	if c.RedisAddr != "" && c.RedisLockTTL < time.Second {
		errs = append(errs, fmt.Errorf("REDIS_LOCK_TTL must be at least 1s, got %s", c.RedisLockTTL))
	}
	if c.CloudToken != "" && c.CloudPhoneID == "" {
		errs = append(errs, errors.New("WHATSAPP_CLOUD_PHONE_ID is required with WHATSAPP_CLOUD_TOKEN"))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}
