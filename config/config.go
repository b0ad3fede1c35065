package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/sandboxhq/devicelink/domain"
)

// ServerConfig holds all configuration for the devicelink server. Tags use
// mapstructure for Viper unmarshalling.
type ServerConfig struct {
	HTTPPort  string `mapstructure:"HTTP_PORT"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	// StoreBackend selects the flow store: mongo, redis, bbolt or memory.
	StoreBackend string `mapstructure:"STORE_BACKEND"`
	MongoURI     string `mapstructure:"MONGO_URI"`
	MongoDBName  string `mapstructure:"MONGO_DB_NAME"`
	RedisAddr    string `mapstructure:"REDIS_ADDR"`
	RedisPrefix  string `mapstructure:"REDIS_PREFIX"`
	BBoltPath    string `mapstructure:"BBOLT_PATH"`

	// JWTSecretKey verifies the bearer tokens of the fronting control
	// plane; the subject claim becomes the flow owner.
	JWTSecretKey string `mapstructure:"JWT_SECRET_KEY"`

	UpstreamTimeoutSec int `mapstructure:"UPSTREAM_TIMEOUT_SEC"`
	ReaperIntervalSec  int `mapstructure:"REAPER_INTERVAL_SEC"`
	RetentionMin       int `mapstructure:"RETENTION_MIN"`

	// NotifyWebhookURL, when set, receives a POST after every successful
	// link. Empty disables the webhook.
	NotifyWebhookURL string `mapstructure:"NOTIFY_WEBHOOK_URL"`

	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// Providers come from the config file only; there is no sane env
	// encoding for a list of endpoint definitions.
	Providers []domain.Provider `mapstructure:"providers"`
}

// LoadConfig reads configuration from file, environment variables, and
// defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/devicelink/")
	v.AddConfigPath("$HOME/.devicelink")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("STORE_BACKEND", "mongo")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/devicelink_dev")
	v.SetDefault("MONGO_DB_NAME", "devicelink_dev")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PREFIX", "devicelink")
	v.SetDefault("BBOLT_PATH", "./data/devicelink.db")
	v.SetDefault("JWT_SECRET_KEY", "a_very_secret_jwt_key_change_me") // CHANGE IN PRODUCTION
	v.SetDefault("UPSTREAM_TIMEOUT_SEC", 10)
	v.SetDefault("REAPER_INTERVAL_SEC", 60)
	v.SetDefault("RETENTION_MIN", 60)
	v.SetDefault("OTEL_SERVICE_NAME", "devicelink-server")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine: defaults and env vars carry a dev
		// setup. Anything else (malformed yaml, permissions) is fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}
