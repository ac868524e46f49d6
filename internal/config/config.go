package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/fundingarb/trader/pkg/secrets"
)

// Config is the full application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Venue   VenueConfig   `mapstructure:"venue"`
	Trading TradingConfig `mapstructure:"trading"`
	Logging LoggingConfig `mapstructure:"logging"`
	GCP     GCPConfig     `mapstructure:"gcp"`
}

type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// VenueConfig holds credentials and endpoints for both venue legs.
// AuthType selects between "hmac" (key + secret) and "jwt"
// (key name + EC private key).
type VenueConfig struct {
	APIKey            string         `mapstructure:"api_key"`
	APISecret         string         `mapstructure:"api_secret"`
	AuthType          string         `mapstructure:"auth_type"`
	APIKeyName        string         `mapstructure:"api_key_name"`
	PrivateKeyPEM     string         `mapstructure:"private_key_pem"`
	Futures           EndpointConfig `mapstructure:"futures"`
	Spot              EndpointConfig `mapstructure:"spot"`
	RequestsPerSecond float64        `mapstructure:"requests_per_second"`
}

type EndpointConfig struct {
	BaseURL string `mapstructure:"base_url"`
	WSURL   string `mapstructure:"ws_url"`
}

type TradingConfig struct {
	MaxSpreadPercent float64 `mapstructure:"max_spread_percent"`
	RetryDelayMs     int     `mapstructure:"retry_delay_ms"`
	MaxRetries       int     `mapstructure:"max_retries"`
	OrderFollowUpMs  int     `mapstructure:"order_follow_up_ms"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type GCPConfig struct {
	ProjectID       string              `mapstructure:"project_id"`
	UseSecrets      bool                `mapstructure:"use_secrets"`
	CredentialsFile string              `mapstructure:"credentials_file"`
	SecretNames     secrets.SecretNames `mapstructure:"secret_names"`
}

// RetryDelay is the delay between read retries, spread polls and lots.
func (t TradingConfig) RetryDelay() time.Duration {
	return time.Duration(t.RetryDelayMs) * time.Millisecond
}

// OrderFollowUp is the wait before the single zero-fill status poll.
func (t TradingConfig) OrderFollowUp() time.Duration {
	return time.Duration(t.OrderFollowUpMs) * time.Millisecond
}

// Load reads configuration from the given file (optional), environment
// variables and, when enabled, GCP Secret Manager.
func Load(configPath string, logger *logrus.Logger) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ARB")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	overrideFromEnv(&cfg)

	if cfg.GCP.UseSecrets {
		if err := loadSecretsFromGCP(&cfg, logger); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)

	v.SetDefault("venue.auth_type", "hmac")
	v.SetDefault("venue.futures.base_url", "https://fapi.asterdex.com")
	v.SetDefault("venue.futures.ws_url", "wss://fstream.asterdex.com")
	v.SetDefault("venue.spot.base_url", "https://sapi.asterdex.com")
	v.SetDefault("venue.spot.ws_url", "wss://sstream.asterdex.com")
	v.SetDefault("venue.requests_per_second", 10)

	v.SetDefault("trading.max_spread_percent", 0.1)
	v.SetDefault("trading.retry_delay_ms", 5000)
	v.SetDefault("trading.max_retries", 10)
	v.SetDefault("trading.order_follow_up_ms", 2000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("gcp.use_secrets", false)
}

// overrideFromEnv honors the flat variable names the deployment
// tooling already exports, taking precedence over the config file.
func overrideFromEnv(cfg *Config) {
	if val := os.Getenv("ASTERDEX_API_KEY"); val != "" {
		cfg.Venue.APIKey = val
	}
	if val := os.Getenv("ASTERDEX_API_SECRET"); val != "" {
		cfg.Venue.APISecret = val
	}
	if val := os.Getenv("FUTURES_API_URL"); val != "" {
		cfg.Venue.Futures.BaseURL = val
	}
	if val := os.Getenv("SPOT_API_URL"); val != "" {
		cfg.Venue.Spot.BaseURL = val
	}
	if val := os.Getenv("MAX_PRICE_DIFF_PERCENT"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil && f > 0 {
			cfg.Trading.MaxSpreadPercent = f
		}
	}
	if val := os.Getenv("RETRY_DELAY_MS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Trading.RetryDelayMs = n
		}
	}
}

func loadSecretsFromGCP(cfg *Config, logger *logrus.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sm, err := secrets.NewGCPSecretManager(ctx, cfg.GCP.ProjectID, cfg.GCP.CredentialsFile, logger)
	if err != nil {
		return fmt.Errorf("failed to init secret manager: %w", err)
	}
	defer sm.Close()

	creds, err := sm.LoadVenueCredentials(ctx, cfg.GCP.SecretNames)
	if err != nil {
		return fmt.Errorf("failed to load venue credentials: %w", err)
	}

	if creds.APIKey != "" {
		cfg.Venue.APIKey = creds.APIKey
	}
	if creds.APISecret != "" {
		cfg.Venue.APISecret = creds.APISecret
	}
	if creds.APIKeyName != "" {
		cfg.Venue.APIKeyName = creds.APIKeyName
	}
	if creds.PrivateKeyPEM != "" {
		cfg.Venue.PrivateKeyPEM = creds.PrivateKeyPEM
	}
	return nil
}
