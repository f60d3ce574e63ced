/**
 * @description
 * This package handles the configuration management for the bank-node. It uses
 * the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the bank-node.
// These values are loaded from environment variables.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`

	// This bank's registry identity.
	BankName   string `mapstructure:"BANK_NAME"`
	BankPrefix string `mapstructure:"BANK_PREFIX"`

	// Account policy.
	DefaultCurrency  string `mapstructure:"DEFAULT_CURRENCY"`
	SeedBalanceMinor int64  `mapstructure:"SEED_BALANCE_MINOR"`

	// Partner services.
	RegistryVerifyURL string `mapstructure:"REGISTRY_VERIFY_URL"`
	RatesAPIBaseURL   string `mapstructure:"RATES_API_BASE_URL"`

	// Signing identity.
	PrivateKeyPath string `mapstructure:"PRIVATE_KEY_PATH"`

	// Gateway authentication for customer endpoints.
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	// Tunables.
	RegistryCacheTTLSeconds int `mapstructure:"REGISTRY_CACHE_TTL_SECONDS"`
	HTTPClientTimeoutSec    int `mapstructure:"HTTP_CLIENT_TIMEOUT_SECONDS"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("DEFAULT_CURRENCY", "USD")
	viper.SetDefault("SEED_BALANCE_MINOR", 100000)
	viper.SetDefault("PRIVATE_KEY_PATH", "certs/private.pem")
	viper.SetDefault("REGISTRY_CACHE_TTL_SECONDS", 60)
	viper.SetDefault("HTTP_CLIENT_TIMEOUT_SECONDS", 10)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("BANK_NAME")
	_ = viper.BindEnv("BANK_PREFIX")
	_ = viper.BindEnv("DEFAULT_CURRENCY")
	_ = viper.BindEnv("SEED_BALANCE_MINOR")
	_ = viper.BindEnv("REGISTRY_VERIFY_URL")
	_ = viper.BindEnv("RATES_API_BASE_URL")
	_ = viper.BindEnv("PRIVATE_KEY_PATH")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "BANK_NODE_INTERNAL_API_KEY")
	_ = viper.BindEnv("REGISTRY_CACHE_TTL_SECONDS")
	_ = viper.BindEnv("HTTP_CLIENT_TIMEOUT_SECONDS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("BANK_NODE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.BankPrefix = strings.TrimSpace(config.BankPrefix)
	config.DefaultCurrency = strings.ToUpper(strings.TrimSpace(config.DefaultCurrency))

	if config.SeedBalanceMinor < 0 {
		log.Printf("level=warn component=config msg=\"negative seed balance configured; coercing to zero\" seed_balance_minor=%d", config.SeedBalanceMinor)
		config.SeedBalanceMinor = 0
	}
	if config.RegistryCacheTTLSeconds <= 0 {
		config.RegistryCacheTTLSeconds = 60
	}
	if config.HTTPClientTimeoutSec <= 0 {
		config.HTTPClientTimeoutSec = 10
	}

	return config, config.validate()
}

// validate rejects configurations the node cannot safely start with. The bank
// prefix shapes every account number and signs every assertion, so a missing
// or malformed prefix is a hard error rather than a logged warning.
func (c Config) validate() error {
	// The registry assigns the prefix; its alphabet is the registry's
	// business. Only the length and absence of whitespace are checked here.
	if len(c.BankPrefix) != 3 {
		return fmt.Errorf("BANK_PREFIX must be exactly 3 characters, got %q", c.BankPrefix)
	}
	if strings.ContainsAny(c.BankPrefix, " \t") {
		return fmt.Errorf("BANK_PREFIX must not contain whitespace, got %q", c.BankPrefix)
	}
	if strings.TrimSpace(c.BankName) == "" {
		return fmt.Errorf("BANK_NAME is required")
	}
	if len(c.DefaultCurrency) != 3 {
		return fmt.Errorf("DEFAULT_CURRENCY must be a 3-letter code, got %q", c.DefaultCurrency)
	}
	return nil
}
