package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration (empty URL selects the in-memory store)
	Database DatabaseConfig

	// JWT configuration (bearer tokens are optional, guests may book)
	JWT JWTConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// CORS configuration
	CORS CORSConfig

	// Seat inventory configuration
	Inventory InventoryConfig

	// Booking configuration
	Booking BookingConfig

	// Payment orchestration configuration
	Payment PaymentConfig

	// Search aggregation configuration
	Search SearchConfig

	// Redis (distributed locks, trip cache)
	Redis RedisConfig

	// Kafka (domain events)
	Kafka KafkaConfig

	// SMS confirmation configuration
	SMS SMSConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	AutoMigrate        bool
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret string
	Issuer string
}

// RateLimitConfig holds per-IP rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// InventoryConfig holds seat hold configuration
type InventoryConfig struct {
	HoldWindow    time.Duration // reservation lifetime
	SweepInterval time.Duration // how often expired holds are reclaimed
	LockBackend   string        // "memory" or "redis"
	LockTTL       time.Duration // redis lock lease
}

// BookingConfig holds booking limits
type BookingConfig struct {
	MaxSeatsPerBooking int
}

// PaymentConfig holds payment orchestration and gateway configuration
type PaymentConfig struct {
	MaxRetries           int           // retries after the first attempt
	MobileMoneyTimeout   time.Duration // push prompt deadline
	RedirectTimeout      time.Duration // wallet redirect deadline
	CardTimeout          time.Duration // card charge deadline
	TimeoutSweepInterval time.Duration
	StartAttempts        int // adapter start calls before ProviderUnavailable

	MobileMoney MobileMoneyConfig
	Stripe      StripeConfig
	Wallet      WalletConfig
}

// MobileMoneyConfig holds the push payment aggregator credentials
type MobileMoneyConfig struct {
	BaseURL       string
	APIKey        string
	CallbackURL   string
	WebhookSecret string // HMAC-SHA256 key for callback signatures
}

// StripeConfig holds card processing credentials
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// WalletConfig holds PAYable IPG configuration for hosted wallet checkout
type WalletConfig struct {
	Environment   string // "sandbox" or "production"
	MerchantKey   string
	MerchantToken string // SECRET - never expose to client
	LogoURL       string
	ReturnURL     string
	WebhookURL    string
}

// SearchConfig holds aggregator configuration
type SearchConfig struct {
	AdapterTimeout  time.Duration
	AdapterAttempts int
	CacheTTL        time.Duration // 0 disables the read-through cache
	TripTTL         time.Duration // how long a searched trip can be booked by id
	Providers       []ProviderConfig
}

// ProviderConfig describes one travel provider endpoint
type ProviderConfig struct {
	Name    string
	Mode    string // bus, flight, train, ferry, shuttle
	BaseURL string
	APIKey  string
}

// RedisConfig holds redis connection configuration
type RedisConfig struct {
	URL string // empty disables redis
}

// KafkaConfig holds event publisher configuration
type KafkaConfig struct {
	Brokers  []string
	MockMode bool
}

// SMSConfig holds the SMS gateway used for booking confirmations
type SMSConfig struct {
	Mode    string // "dev" logs only, "production" sends
	APIURL  string
	ESMSQK  string // URL message key
	Mask    string
	Enabled bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
			AutoMigrate:        getEnvAsBool("DATABASE_AUTO_MIGRATE", false),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			Issuer: getEnv("JWT_ISSUER", "smarttransit"),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvAsBool("RATE_LIMIT_ENABLED", true),
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Inventory: InventoryConfig{
			HoldWindow:    getEnvAsDuration("HOLD_WINDOW", 15*time.Minute),
			SweepInterval: getEnvAsDuration("SWEEP_INTERVAL", 30*time.Second),
			LockBackend:   getEnv("LOCK_BACKEND", "memory"),
			LockTTL:       getEnvAsDuration("LOCK_TTL", 10*time.Second),
		},
		Booking: BookingConfig{
			MaxSeatsPerBooking: getEnvAsInt("MAX_SEATS_PER_BOOKING", 10),
		},
		Payment: PaymentConfig{
			MaxRetries:           getEnvAsInt("PAYMENT_MAX_RETRIES", 2),
			MobileMoneyTimeout:   getEnvAsDuration("MOBILE_MONEY_TIMEOUT", 90*time.Second),
			RedirectTimeout:      getEnvAsDuration("REDIRECT_TIMEOUT", 5*time.Minute),
			CardTimeout:          getEnvAsDuration("CARD_TIMEOUT", 5*time.Minute),
			TimeoutSweepInterval: getEnvAsDuration("PAYMENT_TIMEOUT_SWEEP_INTERVAL", 15*time.Second),
			StartAttempts:        getEnvAsInt("PAYMENT_START_ATTEMPTS", 3),
			MobileMoney: MobileMoneyConfig{
				BaseURL:       getEnv("MOBILE_MONEY_BASE_URL", ""),
				APIKey:        getEnv("MOBILE_MONEY_API_KEY", ""),
				CallbackURL:   getEnv("MOBILE_MONEY_CALLBACK_URL", ""),
				WebhookSecret: getEnv("MOBILE_MONEY_WEBHOOK_SECRET", ""),
			},
			Stripe: StripeConfig{
				SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
				WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			},
			Wallet: WalletConfig{
				Environment:   getEnv("PAYABLE_ENVIRONMENT", "sandbox"),
				MerchantKey:   getEnv("PAYABLE_MERCHANT_KEY", ""),
				MerchantToken: getEnv("PAYABLE_MERCHANT_TOKEN", ""),
				LogoURL:       getEnv("PAYABLE_LOGO_URL", ""),
				ReturnURL:     getEnv("PAYABLE_RETURN_URL", ""),
				WebhookURL:    getEnv("PAYABLE_WEBHOOK_URL", ""),
			},
		},
		Search: SearchConfig{
			AdapterTimeout:  getEnvAsDuration("SEARCH_ADAPTER_TIMEOUT", 5*time.Second),
			AdapterAttempts: getEnvAsInt("SEARCH_ADAPTER_ATTEMPTS", 2),
			CacheTTL:        getEnvAsDuration("SEARCH_CACHE_TTL", 60*time.Second),
			TripTTL:         getEnvAsDuration("SEARCH_TRIP_TTL", 30*time.Minute),
			Providers:       parseProviders(getEnvAsSlice("TRAVEL_PROVIDERS", nil)),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Kafka: KafkaConfig{
			Brokers:  getEnvAsSlice("KAFKA_BROKERS", nil),
			MockMode: getEnvAsBool("KAFKA_MOCK_MODE", true),
		},
		SMS: SMSConfig{
			Mode:    getEnv("SMS_MODE", "dev"),
			APIURL:  getEnv("DIALOG_SMS_API_URL", "https://e-sms.dialog.lk/api/v1/message-via-url/create/url-campaign"),
			ESMSQK:  getEnv("DIALOG_SMS_ESMSQK", ""),
			Mask:    getEnv("DIALOG_SMS_MASK", ""),
			Enabled: getEnvAsBool("SMS_CONFIRMATIONS_ENABLED", false),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Environment == "production" && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required in production")
	}

	if c.Inventory.HoldWindow <= 0 {
		return fmt.Errorf("HOLD_WINDOW must be positive")
	}

	if c.Payment.MaxRetries < 0 {
		return fmt.Errorf("PAYMENT_MAX_RETRIES must not be negative")
	}

	if c.Payment.StartAttempts < 1 {
		return fmt.Errorf("PAYMENT_START_ATTEMPTS must be at least 1")
	}

	if c.Search.AdapterTimeout <= 0 {
		return fmt.Errorf("SEARCH_ADAPTER_TIMEOUT must be positive")
	}

	switch c.Inventory.LockBackend {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required when LOCK_BACKEND=redis")
		}
	default:
		return fmt.Errorf("invalid LOCK_BACKEND: %s (must be 'memory' or 'redis')", c.Inventory.LockBackend)
	}

	if !c.Kafka.MockMode && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_MOCK_MODE=false")
	}

	if c.SMS.Enabled && c.SMS.Mode == "production" && c.SMS.ESMSQK == "" {
		return fmt.Errorf("DIALOG_SMS_ESMSQK is required for production SMS confirmations")
	}

	return nil
}

// parseProviders reads TRAVEL_PROVIDERS entries of the form name|mode|base_url|api_key
func parseProviders(entries []string) []ProviderConfig {
	var providers []ProviderConfig
	for _, entry := range entries {
		parts := strings.Split(entry, "|")
		if len(parts) < 3 {
			log.Printf("Ignoring malformed TRAVEL_PROVIDERS entry: %s", entry)
			continue
		}
		p := ProviderConfig{
			Name:    strings.TrimSpace(parts[0]),
			Mode:    strings.TrimSpace(parts[1]),
			BaseURL: strings.TrimSpace(parts[2]),
		}
		if len(parts) > 3 {
			p.APIKey = strings.TrimSpace(parts[3])
		}
		providers = append(providers, p)
	}
	return providers
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Invalid float value for %s, using default: %g", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("90s", "15m") or a bare number of seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration value for %s, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
