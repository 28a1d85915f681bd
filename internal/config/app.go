package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"portfolio-chat/internal/logger"

	"github.com/sirupsen/logrus"
)

// AppConfig holds all application configuration
type AppConfig struct {
	Server     ServerConfig
	Upstream   UpstreamConfig
	Store      StoreConfig
	RateLimit  RateLimitConfig
	Background BackgroundConfig
	Admin      AdminConfig
	// ProfilePath overrides the embedded knowledge profile when set
	ProfilePath string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port             string
	AllowedOrigin    string
	ClientIPHeader   string
	SendDoneSentinel bool
}

// UpstreamConfig holds the completion provider configuration
type UpstreamConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	MaxOutputTokens int
}

// StoreConfig holds the optional durable store configuration.
// An empty URL disables conversation logging.
type StoreConfig struct {
	URL        string
	ServiceKey string
}

// RateLimitConfig holds the per-client request limiter configuration
type RateLimitConfig struct {
	Window      time.Duration
	MaxRequests int
	RedisURL    string
	SweepSpec   string
}

// BackgroundConfig sizes the detached task queue used for logging
type BackgroundConfig struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

// AdminConfig holds operator API credentials. The API is disabled unless
// JWTSecret is set.
type AdminConfig struct {
	Username        string
	PasswordHash    string
	JWTSecret       []byte
	TokenExpiration time.Duration
}

// Enabled reports whether the operator API should be mounted
func (a AdminConfig) Enabled() bool {
	return len(a.JWTSecret) > 0
}

// Enabled reports whether a durable store is configured
func (s StoreConfig) Enabled() bool {
	return s.URL != ""
}

// LoadConfig loads and validates application configuration from environment
func LoadConfig() (*AppConfig, error) {
	config := &AppConfig{}

	// Load Server config
	port := getEnvOrDefault("SERVER_PORT", os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}
	config.Server = ServerConfig{
		Port:             port,
		AllowedOrigin:    getEnvOrDefault("ALLOWED_ORIGIN", "*"),
		ClientIPHeader:   os.Getenv("CLIENT_IP_HEADER"),
		SendDoneSentinel: getEnvAsBool("SEND_DONE_SENTINEL", true),
	}

	// Load Upstream config
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		logger.Log.Warn("OPENAI_API_KEY environment variable not set")
	}

	config.Upstream = UpstreamConfig{
		APIKey:          apiKey,
		BaseURL:         getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		Model:           getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		MaxOutputTokens: getEnvAsInt("OPENAI_MAX_OUTPUT_TOKENS", 250),
	}
	if config.Upstream.MaxOutputTokens <= 0 {
		return nil, fmt.Errorf("OPENAI_MAX_OUTPUT_TOKENS must be positive (got %d)", config.Upstream.MaxOutputTokens)
	}

	// Load Store config
	config.Store = StoreConfig{
		URL:        os.Getenv("STORE_URL"),
		ServiceKey: os.Getenv("STORE_SERVICE_KEY"),
	}
	if !config.Store.Enabled() {
		logger.Log.Info("STORE_URL not set, conversation logging disabled")
	}

	// Load RateLimit config
	config.RateLimit = RateLimitConfig{
		Window:      getEnvAsDuration("RATE_LIMIT_WINDOW", time.Hour),
		MaxRequests: getEnvAsInt("RATE_LIMIT_MAX_REQUESTS", 20),
		RedisURL:    os.Getenv("REDIS_URL"),
		SweepSpec:   getEnvOrDefault("RATE_LIMIT_SWEEP_SPEC", "@every 10m"),
	}
	if config.RateLimit.Window <= 0 || config.RateLimit.MaxRequests <= 0 {
		return nil, fmt.Errorf("rate limit window and max requests must be positive")
	}

	// Load Background config
	config.Background = BackgroundConfig{
		Workers:     getEnvAsInt("BACKGROUND_WORKERS", 4),
		QueueSize:   getEnvAsInt("BACKGROUND_QUEUE_SIZE", 256),
		TaskTimeout: getEnvAsDuration("BACKGROUND_TASK_TIMEOUT", 10*time.Second),
	}

	// Load Admin config
	config.Admin = AdminConfig{
		Username:        getEnvOrDefault("ADMIN_USERNAME", "admin"),
		PasswordHash:    os.Getenv("ADMIN_PASSWORD_HASH"),
		TokenExpiration: getEnvAsDuration("ADMIN_TOKEN_EXPIRATION", 12*time.Hour),
	}
	if secret := os.Getenv("ADMIN_JWT_SECRET"); secret != "" {
		if len(secret) < 32 {
			return nil, fmt.Errorf("ADMIN_JWT_SECRET must be at least 32 characters (current length: %d)", len(secret))
		}
		config.Admin.JWTSecret = []byte(secret)
	}

	config.ProfilePath = os.Getenv("PROFILE_PATH")

	return config, nil
}

// Helper functions for environment variable parsing

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid integer value, using default")
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
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid boolean value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid duration value, using default")
		return defaultValue
	}
	return value
}
