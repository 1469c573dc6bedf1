package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	LogLevel       string

	// PublicBaseURL is the externally reachable base URL the carrier calls back on
	PublicBaseURL string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioCallerID   string

	// ValidateWebhooks checks X-Twilio-Signature on carrier callbacks
	ValidateWebhooks bool

	DirectoryFile   string
	RegistryBackend string
	HoldMusicURL    string
	ApologyMessage  string

	// Operations API authentication
	Env                string
	SkipAuth           bool
	VerifyJWTSignature bool
	OIDCIssuer         string

	IntentTTL        time.Duration
	AttemptTimeout   time.Duration
	RingTimeout      time.Duration
	DialTimeout      time.Duration
	SessionRetention time.Duration
	SweepInterval    time.Duration

	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

const defaultApology = "We're sorry, we could not find an available specialist to take your call. Please try again later. Goodbye."

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:             getEnv("PORT", "8080"),
		AllowedOrigins:   strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173"), ","),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		PublicBaseURL:    strings.TrimSuffix(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioCallerID:   os.Getenv("TWILIO_CALLER_ID"),
		ValidateWebhooks: os.Getenv("TWILIO_VALIDATE_WEBHOOKS") == "true",
		DirectoryFile:    os.Getenv("DIRECTORY_FILE"),
		RegistryBackend:  getEnv("REGISTRY_BACKEND", "memory"),
		HoldMusicURL:     os.Getenv("HOLD_MUSIC_URL"),
		ApologyMessage:   getEnv("APOLOGY_MESSAGE", defaultApology),
		Env:              os.Getenv("ENV"),
		SkipAuth:         os.Getenv("SKIP_AUTH") == "true",
		OIDCIssuer:       os.Getenv("OIDC_ISSUER"),
	}

	// Signatures are always verified outside development
	config.VerifyJWTSignature = os.Getenv("VERIFY_JWT_SIGNATURE") == "true" ||
		(config.Env != "" && config.Env != "development")

	if config.RegistryBackend != "memory" && config.RegistryBackend != "dynamo" {
		return nil, fmt.Errorf("invalid REGISTRY_BACKEND %q: want memory or dynamo", config.RegistryBackend)
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"INTENT_TTL", "300", &config.IntentTTL},
		{"ATTEMPT_TIMEOUT", "45", &config.AttemptTimeout},
		{"RING_TIMEOUT", "20", &config.RingTimeout},
		{"DIAL_TIMEOUT", "15", &config.DialTimeout},
		{"SESSION_RETENTION", "3600", &config.SessionRetention},
		{"SWEEP_INTERVAL", "30", &config.SweepInterval},
		{"WS_READ_TIMEOUT", "60", &config.WSReadTimeout},
		{"WS_WRITE_TIMEOUT", "10", &config.WSWriteTimeout},
	}
	for _, d := range durations {
		secs, err := strconv.Atoi(getEnv(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if secs < 0 {
			return nil, fmt.Errorf("invalid %s: must not be negative", d.key)
		}
		*d.dst = time.Duration(secs) * time.Second
	}

	if config.SweepInterval <= 0 {
		config.SweepInterval = 30 * time.Second
	}

	// Calculate WebSocket constants
	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout
	config.MaxMessageSize = 512

	// Trim spaces from allowed origins
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	return config, nil
}

// TwilioEnabled reports whether carrier credentials are configured
func (c *Config) TwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioCallerID != ""
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
