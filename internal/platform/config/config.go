package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Addr string
}

type AppConfig struct {
	ServiceName string
	LogLevel    string
	Env         string
	HTTP        HTTPConfig
}

// IsProd reports APP_ENV=production; in-memory fallbacks are refused there.
func (c AppConfig) IsProd() bool {
	return strings.EqualFold(c.Env, "production")
}

// NewEnv returns a viper instance reading plain environment variables:
// key "http_addr" resolves to HTTP_ADDR.
func NewEnv() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	return v
}

func Load() (AppConfig, error) {
	v := NewEnv()
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("app_env", "development")

	cfg := AppConfig{
		ServiceName: strings.TrimSpace(v.GetString("service_name")),
		LogLevel:    strings.TrimSpace(v.GetString("log_level")),
		Env:         strings.TrimSpace(v.GetString("app_env")),
		HTTP: HTTPConfig{
			Addr: strings.TrimSpace(v.GetString("http_addr")),
		},
	}
	if cfg.ServiceName == "" {
		return AppConfig{}, errors.New("SERVICE_NAME is required")
	}
	return cfg, nil
}
