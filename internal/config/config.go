package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"finguru/internal/core"
)

type Config struct {
	// HTTP Server
	Port               string
	RateLimitPerMinute int

	// Identity presented to the banks
	RequestingBankID   string
	RequestingBankName string

	// Bank credentials, one per variant
	VBank core.BankCredential
	ABank core.BankCredential
	SBank core.BankCredential

	// Upstream behaviour
	HTTPTimeout        time.Duration
	AggregationTimeout time.Duration
	TokenExpirySkew    time.Duration
	ConsentTTL         time.Duration
	SummaryCacheTTL    time.Duration

	// Pending consent poller
	ConsentPollInterval    time.Duration
	ConsentPollMaxAttempts int

	// Cashback
	CashbackDefaultDays int

	// Ledger worker
	PurgeInterval time.Duration

	ShutdownTimeout time.Duration

	// Database
	SQLiteDBPath string

	// AMQP (empty URL disables event publishing)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Backend selection
	DataBackend string

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),

		RequestingBankID:   getEnv("REQUESTING_BANK_ID", "team200"),
		RequestingBankName: getEnv("REQUESTING_BANK_NAME", "FinGuru App"),

		VBank: loadBank(core.VBank),
		ABank: loadBank(core.ABank),
		SBank: loadBank(core.SBank),

		HTTPTimeout:        getEnvDuration("HTTP_TIMEOUT", 15*time.Second),
		AggregationTimeout: getEnvDuration("AGGREGATION_TIMEOUT", 25*time.Second),
		TokenExpirySkew:    getEnvDuration("TOKEN_EXPIRY_SKEW", 60*time.Second),
		ConsentTTL:         getEnvDuration("CONSENT_TTL", 24*time.Hour),
		SummaryCacheTTL:    getEnvDuration("SUMMARY_CACHE_TTL", 5*time.Minute),

		ConsentPollInterval:    getEnvDuration("CONSENT_POLL_INTERVAL", 30*time.Second),
		ConsentPollMaxAttempts: getEnvInt("CONSENT_POLL_MAX_ATTEMPTS", 20),

		CashbackDefaultDays: getEnvInt("CASHBACK_DEFAULT_DAYS", 30),

		PurgeInterval:   getEnvDuration("PURGE_INTERVAL", time.Hour),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/finguru.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "finguru"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "finguru_events"),

		DataBackend: getEnv("DATA_BACKEND", "memory"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

func loadBank(id core.BankID) core.BankCredential {
	prefix := strings.ToUpper(string(id))
	return core.BankCredential{
		Bank:         id,
		BaseURL:      getEnv(prefix+"_BASE_URL", fmt.Sprintf("https://%s.open.bankingapi.ru", id)),
		ClientID:     getEnv(prefix+"_CLIENT_ID", ""),
		ClientSecret: getEnv(prefix+"_CLIENT_SECRET", ""),
	}
}

// Banks returns the credentials of every configured bank in canonical order.
func (c *Config) Banks() []core.BankCredential {
	var banks []core.BankCredential
	for _, b := range []core.BankCredential{c.VBank, c.ABank, c.SBank} {
		if b.Configured() {
			banks = append(banks, b)
		}
	}
	return banks
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.RequestingBankID == "" {
		errors = append(errors, "requesting bank id cannot be empty")
	}

	// Validate bank credentials
	configured := 0
	for _, b := range []core.BankCredential{c.VBank, c.ABank, c.SBank} {
		if !b.Configured() {
			continue
		}
		configured++
		if b.ClientID == "" || b.ClientSecret == "" {
			errors = append(errors, fmt.Sprintf("%s: both client id and client secret must be set", b.Bank))
		}
		if u, err := url.Parse(b.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, fmt.Sprintf("%s: invalid base URL '%s'", b.Bank, b.BaseURL))
		}
	}
	if configured == 0 {
		errors = append(errors, "at least one bank must be configured")
	}

	// Validate timeouts
	if c.HTTPTimeout < 100*time.Millisecond {
		errors = append(errors, fmt.Sprintf("invalid HTTP timeout %v: must be at least 100ms", c.HTTPTimeout))
	}
	if c.AggregationTimeout < c.HTTPTimeout {
		errors = append(errors, fmt.Sprintf("invalid aggregation timeout %v: must not be shorter than the HTTP timeout %v", c.AggregationTimeout, c.HTTPTimeout))
	}
	if c.TokenExpirySkew < 0 {
		errors = append(errors, fmt.Sprintf("invalid token expiry skew %v: must not be negative", c.TokenExpirySkew))
	}
	if c.ConsentTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid consent TTL %v: must be at least 1 minute", c.ConsentTTL))
	}

	// Validate poller configuration
	if c.ConsentPollInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid consent poll interval %v: must be at least 1 second", c.ConsentPollInterval))
	} else if c.ConsentPollInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid consent poll interval %v: must be at most 24 hours", c.ConsentPollInterval))
	}
	if c.ConsentPollMaxAttempts < 1 {
		errors = append(errors, fmt.Sprintf("invalid consent poll max attempts %d: must be at least 1", c.ConsentPollMaxAttempts))
	}

	if c.CashbackDefaultDays < 1 || c.CashbackDefaultDays > 365 {
		errors = append(errors, fmt.Sprintf("invalid cashback default days %d: must be between 1 and 365", c.CashbackDefaultDays))
	}

	if c.PurgeInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid purge interval %v: must be at least 1 minute", c.PurgeInterval))
	}
	if c.ShutdownTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid shutdown timeout %v: must be at least 1 second", c.ShutdownTimeout))
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1", c.RateLimitPerMinute))
	}

	// Validate data backend
	validBackends := []string{"memory", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	// Validate SQLite configuration if backend is sqlite
	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
