/**
 * @description
 * This package handles the configuration management for the settlement-service. It uses
 * Viper to read configuration from environment variables and an optional .env file.
 *
 * @dependencies
 * - github.com/spf13/viper: Application configuration.
 * - github.com/shopspring/decimal: Commission rates.
 */

package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	ReferenceModeULID   = "ulid"
	ReferenceModeLegacy = "legacy"
)

// Config holds all the configuration variables for the settlement-service.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	SettlementEventsExchange   string `mapstructure:"SETTLEMENT_EVENTS_EXCHANGE"`
	EncryptionSecretKey        string `mapstructure:"ENCRYPTION_SECRET_KEY"`
	FundTransferAPIURL         string `mapstructure:"FUND_TRANSFER_API_URL"`
	FundTransferUsername       string `mapstructure:"FUND_TRANSFER_USERNAME"`
	FundTransferTimeoutSeconds int    `mapstructure:"FUND_TRANSFER_TIMEOUT_SECONDS"`
	SettlementCreditAccount    string `mapstructure:"SETTLEMENT_CREDIT_ACCOUNT"`
	SettlementCommissionCode   string `mapstructure:"SETTLEMENT_COMMISSION_CODE"`
	SettlementCommissionsRaw   string `mapstructure:"SETTLEMENT_COMMISSIONS"`
	T24TransactionType         string `mapstructure:"T24_TRANSACTION_TYPE"`
	T24DistributionName        string `mapstructure:"T24_DISTRIBUTION_NAME"`
	SettlementReferenceMode    string `mapstructure:"SETTLEMENT_REFERENCE_MODE"`
	PINHashSalt                string `mapstructure:"PIN_HASH_SALT"`
	InternalAPIKey             string `mapstructure:"INTERNAL_API_KEY"`
	JWTSecret                  string `mapstructure:"JWT_SECRET"`
	CORSAllowedOrigins         string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LogLevel                   string `mapstructure:"LOG_LEVEL"`
	TokenCachePrefix           string `mapstructure:"TOKEN_CACHE_PREFIX"`
	TokenCacheSweepSchedule    string `mapstructure:"TOKEN_CACHE_SWEEP_SCHEDULE"`
	SettledMarkerTTLHours      int    `mapstructure:"SETTLED_MARKER_TTL_HOURS"`

	// Commissions is parsed from SettlementCommissionsRaw ("CODE:rate,CODE:rate").
	Commissions map[string]decimal.Decimal `mapstructure:"-"`
	// Warnings collects values that were ignored or coerced while loading.
	Warnings []string `mapstructure:"-"`
}

// LoadConfig reads configuration from environment variables and an optional .env file
// in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SETTLEMENT_EVENTS_EXCHANGE", "settlement_events")
	viper.SetDefault("FUND_TRANSFER_TIMEOUT_SECONDS", 60)
	viper.SetDefault("SETTLEMENT_REFERENCE_MODE", ReferenceModeULID)
	viper.SetDefault("PIN_HASH_SALT", "KeySaltXXXYYYZZ")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("TOKEN_CACHE_PREFIX", "settlement:cache")
	viper.SetDefault("TOKEN_CACHE_SWEEP_SCHEDULE", "@every 5m")
	viper.SetDefault("SETTLED_MARKER_TTL_HOURS", 24)

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("SETTLEMENT_EVENTS_EXCHANGE")
	_ = viper.BindEnv("ENCRYPTION_SECRET_KEY", "ENCRYPTION_SECRET_KEY", "SETTLEMENT_SECRET_KEY")
	_ = viper.BindEnv("FUND_TRANSFER_API_URL", "FUND_TRANSFER_API_URL", "FUNDS_TRANSFER_API_URL")
	_ = viper.BindEnv("FUND_TRANSFER_USERNAME", "FUND_TRANSFER_USERNAME", "FUNDS_TRANSFER_USERNAME")
	_ = viper.BindEnv("FUND_TRANSFER_TIMEOUT_SECONDS", "FUND_TRANSFER_TIMEOUT_SECONDS", "FUNDS_TRANSFER_TIMEOUT_SECONDS")
	_ = viper.BindEnv("SETTLEMENT_CREDIT_ACCOUNT")
	_ = viper.BindEnv("SETTLEMENT_COMMISSION_CODE")
	_ = viper.BindEnv("SETTLEMENT_COMMISSIONS")
	_ = viper.BindEnv("T24_TRANSACTION_TYPE")
	_ = viper.BindEnv("T24_DISTRIBUTION_NAME")
	_ = viper.BindEnv("SETTLEMENT_REFERENCE_MODE")
	_ = viper.BindEnv("PIN_HASH_SALT")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "SETTLEMENT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("TOKEN_CACHE_PREFIX")
	_ = viper.BindEnv("TOKEN_CACHE_SWEEP_SCHEDULE")
	_ = viper.BindEnv("SETTLED_MARKER_TTL_HOURS")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			config.warn("failed to read config file; using environment values: %v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.FundTransferAPIURL = strings.TrimSpace(config.FundTransferAPIURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)

	if strings.TrimSpace(config.SettlementEventsExchange) == "" {
		config.SettlementEventsExchange = "settlement_events"
	}
	if config.FundTransferTimeoutSeconds <= 0 {
		config.warn("non-positive FUND_TRANSFER_TIMEOUT_SECONDS %d; using 60", config.FundTransferTimeoutSeconds)
		config.FundTransferTimeoutSeconds = 60
	}
	if config.SettledMarkerTTLHours <= 0 {
		config.warn("non-positive SETTLED_MARKER_TTL_HOURS %d; using 24", config.SettledMarkerTTLHours)
		config.SettledMarkerTTLHours = 24
	}
	if strings.TrimSpace(config.PINHashSalt) == "" {
		config.PINHashSalt = "KeySaltXXXYYYZZ"
	}

	switch mode := strings.ToLower(strings.TrimSpace(config.SettlementReferenceMode)); mode {
	case ReferenceModeULID, ReferenceModeLegacy:
		config.SettlementReferenceMode = mode
	default:
		config.warn("unknown SETTLEMENT_REFERENCE_MODE %q; using %s", config.SettlementReferenceMode, ReferenceModeULID)
		config.SettlementReferenceMode = ReferenceModeULID
	}

	config.Commissions = config.parseCommissions(config.SettlementCommissionsRaw)
	if strings.TrimSpace(config.EncryptionSecretKey) == "" {
		config.warn("ENCRYPTION_SECRET_KEY is not set; settlements will fail")
	}
	if config.FundTransferAPIURL == "" {
		config.warn("FUND_TRANSFER_API_URL is not set; settlements will fail")
	}

	return
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// parseCommissions reads "CODE:rate" pairs. Malformed pairs are skipped with a warning.
func (c *Config) parseCommissions(raw string) map[string]decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	commissions := make(map[string]decimal.Decimal)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		code, rate, ok := strings.Cut(pair, ":")
		code = strings.TrimSpace(code)
		if !ok || code == "" {
			c.warn("invalid SETTLEMENT_COMMISSIONS entry %q", pair)
			continue
		}
		value, err := decimal.NewFromString(strings.TrimSpace(rate))
		if err != nil || value.IsNegative() {
			c.warn("invalid SETTLEMENT_COMMISSIONS rate for %s: %q", code, rate)
			continue
		}
		commissions[code] = value
	}
	if len(commissions) == 0 {
		return nil
	}
	return commissions
}

// CommissionCodes lists the configured commission codes in order.
func (c Config) CommissionCodes() []string {
	codes := make([]string, 0, len(c.Commissions))
	for code := range c.Commissions {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func (c *Config) warn(format string, args ...interface{}) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}
