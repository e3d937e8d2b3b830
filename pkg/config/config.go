package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	LogLevel    string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TLS      bool   `mapstructure:"tls"`
}

type RateLimitConfig struct {
	RegistryCapacity int           `mapstructure:"registry_capacity"`
	IdleTTL          time.Duration `mapstructure:"idle_ttl"`
	FallbackRatio    float64       `mapstructure:"fallback_ratio"`
	Ingress          IngressConfig `mapstructure:"ingress"`
	Breaker          BreakerConfig `mapstructure:"breaker"`
}

// IngressConfig drives the global ingress filter, the outermost protection
// layer applied to every request under one well-known key.
type IngressConfig struct {
	Rate   string        `mapstructure:"rate"`
	Limit  int64         `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type BreakerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxFailures uint32        `mapstructure:"max_failures"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

var globalConfig Config

func Load(configPath string) error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := viper.Unmarshal(&globalConfig); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	setDefaultValues()

	return nil
}

func setDefaultValues() {
	if globalConfig.Server.Port == 0 {
		globalConfig.Server.Port = 8080
	}
	if globalConfig.Server.MetricsPort == 0 {
		globalConfig.Server.MetricsPort = 9090
	}
	if globalConfig.Redis.Port == 0 {
		globalConfig.Redis.Port = 6379
	}
	if globalConfig.RateLimit.FallbackRatio == 0 {
		globalConfig.RateLimit.FallbackRatio = 0.5
	}
	if globalConfig.RateLimit.Ingress.Rate == "" {
		globalConfig.RateLimit.Ingress.Rate = "1000"
	}
	if globalConfig.RateLimit.Ingress.Limit == 0 {
		globalConfig.RateLimit.Ingress.Limit = 10000
	}
	if globalConfig.RateLimit.Ingress.Window == 0 {
		globalConfig.RateLimit.Ingress.Window = 10 * time.Second
	}
	if globalConfig.RateLimit.Breaker.MaxFailures == 0 {
		globalConfig.RateLimit.Breaker.MaxFailures = 5
	}
	if globalConfig.RateLimit.Breaker.Timeout == 0 {
		globalConfig.RateLimit.Breaker.Timeout = 30 * time.Second
	}
}

func GetConfig() *Config {
	return &globalConfig
}

// Lookup exposes the loaded configuration tree as a read-only view for
// indirect rate spec resolution.
func Lookup() *viper.Viper {
	return viper.GetViper()
}
