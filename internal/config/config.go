package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	StoreMemory   = "memory"
	StoreDynamoDB = "dynamodb"

	TelemetryNone   = "none"
	TelemetryStdout = "stdout"
)

type Config struct {
	Provider         string
	Model            string
	ProviderBaseURL  string
	APIKey           string // never logged
	KeyParameter     string
	KeyRefresh       time.Duration
	ProviderTimeout  time.Duration
	SessionStore     string
	StateTable       string
	SessionTTL       time.Duration
	MaxMessageLength int
	ForwardHistory   bool
	Port             string
	AllowedOrigin    string
	Telemetry        string
}

// Load reads the optional .env file and the process environment.
func Load() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds and validates the configuration from the environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		Provider:         strings.ToLower(getEnv("PROVIDER", ProviderGemini)),
		Model:            getEnv("PROVIDER_MODEL", ""),
		ProviderBaseURL:  getEnv("PROVIDER_BASE_URL", ""),
		APIKey:           getEnv("PROVIDER_API_KEY", ""),
		KeyParameter:     getEnv("PROVIDER_KEY_PARAMETER", ""),
		KeyRefresh:       time.Duration(getEnvInt("PROVIDER_KEY_REFRESH_MINUTES", 60)) * time.Minute,
		ProviderTimeout:  time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 30)) * time.Second,
		SessionStore:     strings.ToLower(getEnv("SESSION_STORE", StoreMemory)),
		StateTable:       getEnv("STATE_TABLE", ""),
		SessionTTL:       time.Duration(getEnvInt("SESSION_TTL_HOURS", 24)) * time.Hour,
		MaxMessageLength: getEnvInt("MAX_MESSAGE_LENGTH", 2000),
		ForwardHistory:   getEnvBool("FORWARD_HISTORY", false),
		Port:             getEnv("PORT", "8080"),
		AllowedOrigin:    getEnv("ALLOWED_ORIGIN", ""),
		Telemetry:        strings.ToLower(getEnv("TELEMETRY_EXPORTER", TelemetryNone)),
	}
	if cfg.APIKey == "" {
		// Older .env files name the key after the provider.
		cfg.APIKey = getEnv("GEMINI_API_KEY", "")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("config: unknown PROVIDER %q", c.Provider)
	}
	if c.Provider == ProviderOpenAI && c.Model == "" {
		return errors.New("config: PROVIDER_MODEL is required for the openai provider")
	}
	if c.APIKey == "" && c.KeyParameter == "" {
		return errors.New("config: one of PROVIDER_API_KEY or PROVIDER_KEY_PARAMETER is required")
	}
	switch c.SessionStore {
	case StoreMemory:
	case StoreDynamoDB:
		if c.StateTable == "" {
			return errors.New("config: STATE_TABLE is required for the dynamodb session store")
		}
	default:
		return fmt.Errorf("config: unknown SESSION_STORE %q", c.SessionStore)
	}
	switch c.Telemetry {
	case TelemetryNone, TelemetryStdout:
	default:
		return fmt.Errorf("config: unknown TELEMETRY_EXPORTER %q", c.Telemetry)
	}
	return nil
}

// NeedsAWS reports whether an AWS SDK config must be loaded.
func (c Config) NeedsAWS() bool {
	return c.SessionStore == StoreDynamoDB || (c.APIKey == "" && c.KeyParameter != "")
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
