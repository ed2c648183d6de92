package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode            string        `mapstructure:"mode"`
	Port            int           `mapstructure:"port"`
	StaticPath      string        `mapstructure:"static_path"`
	ReadLimit       int64         `mapstructure:"read_limit"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	MaxUploadBytes  int           `mapstructure:"max_upload_bytes"`
	MaxProjectBytes int64         `mapstructure:"max_project_bytes"`
	UploadLimit     int           `mapstructure:"upload_limit"`
	UploadInterval  time.Duration `mapstructure:"upload_interval"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	Secret          string        `mapstructure:"secret"`
	LogLevel        string        `mapstructure:"log_level"`
}

const devSecret = "collab-relay-dev-secret"

// Load reads config/config.<CONFIG_ENV>.yaml (CONFIG_ENV defaults to "dev").
// A missing file is not an error; defaults and RELAY_* variables apply.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./public")
	v.SetDefault("read_limit", 50<<20)
	v.SetDefault("ping_period", "30s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("send_buffer", 256)
	v.SetDefault("max_upload_bytes", 20<<20)
	v.SetDefault("max_project_bytes", 32<<20)
	v.SetDefault("upload_limit", 5)
	v.SetDefault("upload_interval", "1m")
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("secret", devSecret)
	v.SetDefault("log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Secret == devSecret {
		log.Warn().Str("module", "config").Msg("using the built-in cookie secret; set RELAY_SECRET in production")
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Dur("ping_period", cfg.PingPeriod).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("config: port %d out of range", c.Port)
	case c.PingPeriod <= 0:
		return fmt.Errorf("config: ping_period must be positive")
	case c.WriteWait <= 0:
		return fmt.Errorf("config: write_wait must be positive")
	case c.SendBuffer <= 0:
		return fmt.Errorf("config: send_buffer must be positive")
	case c.ReadLimit <= 0:
		return fmt.Errorf("config: read_limit must be positive")
	case c.UploadLimit <= 0 || c.UploadInterval <= 0:
		return fmt.Errorf("config: upload_limit and upload_interval must be positive")
	case c.Secret == "":
		return fmt.Errorf("config: secret must not be empty")
	}
	return nil
}
