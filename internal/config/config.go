package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	Upstream  UpstreamConfig
	JWT       JWTConfig
	Security  SecurityConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// UpstreamConfig points at the managed auth backend that issues the
// access/refresh token pair (token endpoint + user endpoint).
type UpstreamConfig struct {
	URL        string
	ServiceKey string
	Timeout    time.Duration
}

type JWTConfig struct {
	Secret         string
	AccessTokenTTL time.Duration
}

// SecurityConfig carries the credential encryption key and the
// failed-login throttle policy.
type SecurityConfig struct {
	// EncryptionKey is the raw 32-byte AES key, decoded from 64 hex chars.
	EncryptionKey []byte
	// AttemptWindow is the sliding window for failed-login counting.
	AttemptWindow time.Duration
	// CaptchaThreshold is the failed-attempt count that requires a CAPTCHA.
	CaptchaThreshold int
	// BlockThreshold is the failed-attempt count that blocks further logins.
	BlockThreshold int
	// ThrottleFailClosed treats throttle storage errors as "blocked"
	// instead of degrading to a zero count.
	ThrottleFailClosed bool
	// RefreshMargin is how long before upstream expiry a session is renewed.
	RefreshMargin time.Duration
}

type RateLimitConfig struct {
	Enabled       bool
	UseRedis      bool
	RPS           float64
	Burst         int
	WindowSeconds int
}

// LoadConfig loads configuration from environment variables and .env file.
// Missing or malformed security material (encryption key, JWT secret) is a
// fatal configuration error: the returned error must abort startup.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "3001")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_ENVIRONMENT", "development")
	viper.SetDefault("MONGODB_TIMEOUT", 10)
	viper.SetDefault("UPSTREAM_TIMEOUT", 10)
	viper.SetDefault("JWT_ACCESS_TOKEN_TTL", 15)
	viper.SetDefault("LOGIN_ATTEMPT_WINDOW_MINUTES", 15)
	viper.SetDefault("LOGIN_CAPTCHA_THRESHOLD", 3)
	viper.SetDefault("LOGIN_BLOCK_THRESHOLD", 5)
	viper.SetDefault("SESSION_REFRESH_MARGIN_MINUTES", 5)
	viper.SetDefault("RATE_LIMIT_ENABLED", true)
	viper.SetDefault("RATE_LIMIT_RPS", 5.0)
	viper.SetDefault("RATE_LIMIT_BURST", 10)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)

	key, err := decodeEncryptionKey(os.Getenv("ENCRYPTION_KEY"))
	if err != nil {
		return nil, err
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			Environment:  viper.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		MongoDB: MongoDBConfig{
			URI:      viper.GetString("MONGODB_URI"),
			Database: viper.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(viper.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       0,
		},
		Upstream: UpstreamConfig{
			URL:        viper.GetString("UPSTREAM_AUTH_URL"),
			ServiceKey: os.Getenv("UPSTREAM_SERVICE_KEY"),
			Timeout:    time.Duration(viper.GetInt("UPSTREAM_TIMEOUT")) * time.Second,
		},
		JWT: JWTConfig{
			Secret:         secret,
			AccessTokenTTL: time.Duration(viper.GetInt("JWT_ACCESS_TOKEN_TTL")) * time.Minute,
		},
		Security: SecurityConfig{
			EncryptionKey:      key,
			AttemptWindow:      time.Duration(viper.GetInt("LOGIN_ATTEMPT_WINDOW_MINUTES")) * time.Minute,
			CaptchaThreshold:   viper.GetInt("LOGIN_CAPTCHA_THRESHOLD"),
			BlockThreshold:     viper.GetInt("LOGIN_BLOCK_THRESHOLD"),
			ThrottleFailClosed: viper.GetBool("LOGIN_THROTTLE_FAIL_CLOSED"),
			RefreshMargin:      time.Duration(viper.GetInt("SESSION_REFRESH_MARGIN_MINUTES")) * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:       viper.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:      viper.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:           viper.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         viper.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds: viper.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
	}

	return cfg, nil
}

// decodeEncryptionKey validates the symmetric key: exactly 64 hex
// characters (32 bytes decoded). Anything else refuses startup.
func decodeEncryptionKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(raw) != 64 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be 64 hex characters (32 bytes), got %d", len(raw))
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be valid hex: %w", err)
	}
	return key, nil
}
