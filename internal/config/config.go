package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	// Google API client
	GoogleAPIKey          string
	GoogleClientID        string
	GoogleClientSecret    string
	GoogleRedirectURL     string
	ClientLoadTimeout     time.Duration
	ReadinessPollInterval time.Duration
	ReadinessTimeout      time.Duration
	ConsentTimeout        time.Duration

	// Durable selection state
	RedisAddr      string
	RedisPassword  string
	RedisTLS       bool
	LocalStatePath string

	// PHI access audit
	DatabaseURL string

	// HTTP surface
	AuthJWTSecret      string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
	MetricsToken       string

	// Snapshot export
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	ExportBucket        string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present; real environment values win.
func Load() *Config {
	_ = godotenv.Load()

	port := getEnv("PORT", "8080")
	publicBaseURL := strings.TrimSuffix(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/")

	return &Config{
		Port:          port,
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: publicBaseURL,
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		GoogleAPIKey:          getEnv("GOOGLE_API_KEY", ""),
		GoogleClientID:        getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:    getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:     getEnv("GOOGLE_REDIRECT_URL", publicBaseURL+"/oauth/callback"),
		ClientLoadTimeout:     getEnvAsDuration("CLIENT_LOAD_TIMEOUT", 5*time.Second),
		ReadinessPollInterval: getEnvAsDuration("READINESS_POLL_INTERVAL", 100*time.Millisecond),
		ReadinessTimeout:      getEnvAsDuration("READINESS_TIMEOUT", 0),
		ConsentTimeout:        getEnvAsDuration("CONSENT_TIMEOUT", 10*time.Minute),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),
		LocalStatePath: getEnv("LOCAL_STATE_PATH", defaultLocalStatePath()),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		AuthJWTSecret:      getEnv("AUTH_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),
		MetricsToken:       getEnv("METRICS_TOKEN", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		ExportBucket:        getEnv("EXPORT_BUCKET", ""),
	}
}

func defaultLocalStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return "patient-sheets.db"
	}
	return dir + string(os.PathSeparator) + "patient-sheets" + string(os.PathSeparator) + "state.db"
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
