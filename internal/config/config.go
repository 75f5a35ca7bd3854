package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the chat server.
// All values come from environment variables; a .env file is honored when present.
type Config struct {
	// Listener
	ListenAddr     string
	TLSCertFile    string
	TLSKeyFile     string
	AllowPlaintext bool // diagnostic fallback only; production stays TLS
	ReadTimeout    time.Duration

	// Users
	UserFile string

	// Sessions
	SessionTTL    time.Duration
	SweepInterval time.Duration

	// Heartbeat
	HeartbeatInterval time.Duration

	// Initial rooms
	AIRoomName   string
	AIRoomPrompt string

	// AI upstream
	AIEndpointURL    string
	AIModel          string
	AIConnectTimeout time.Duration
	AIRequestTimeout time.Duration
	AICacheTTL       time.Duration

	// Message flood protection
	MessageRate  float64 // sustained messages/sec per connection
	MessageBurst int

	// Metrics
	MetricsAddr string // empty disables the metrics listener

	// Logging
	LogLevel  string
	LogFormat string
}

const defaultAIRoomPrompt = "You are a helpful assistant who helps schedule meetings. " +
	"Summarize all user availability suggestions and propose a common meeting time."

// Load reads the configuration from the environment.
func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		ListenAddr:     getEnvOrDefault("LISTEN_ADDR", ":8989"),
		TLSCertFile:    getEnvOrDefault("TLS_CERT_FILE", ""),
		TLSKeyFile:     getEnvOrDefault("TLS_KEY_FILE", ""),
		AllowPlaintext: getEnvOrDefault("ALLOW_PLAINTEXT", "false") == "true",
		ReadTimeout:    getEnvAsDuration("READ_TIMEOUT", 60*time.Second),

		UserFile: getEnvOrDefault("USER_FILE", "users.txt"),

		SessionTTL:    time.Duration(getEnvAsInt("SESSION_TTL_MINUTES", 60)) * time.Minute,
		SweepInterval: getEnvAsDuration("SESSION_SWEEP_INTERVAL", time.Minute),

		HeartbeatInterval: getEnvAsDuration("HEARTBEAT_INTERVAL", 30*time.Second),

		AIRoomName:   getEnvOrDefault("AI_ROOM_NAME", "AI Doodle"),
		AIRoomPrompt: getEnvOrDefault("AI_ROOM_PROMPT", defaultAIRoomPrompt),

		AIEndpointURL:    getEnvOrDefault("AI_ENDPOINT_URL", "http://localhost:11434/api/generate"),
		AIModel:          getEnvOrDefault("AI_MODEL", "llama3"),
		AIConnectTimeout: getEnvAsDuration("AI_CONNECT_TIMEOUT", 5*time.Second),
		AIRequestTimeout: getEnvAsDuration("AI_REQUEST_TIMEOUT", 20*time.Second),
		AICacheTTL:       getEnvAsDuration("AI_CACHE_TTL", 5*time.Minute),

		MessageRate:  getEnvAsFloat("MESSAGE_RATE", 10),
		MessageBurst: getEnvAsInt("MESSAGE_BURST", 20),

		MetricsAddr: getEnvOrDefault("METRICS_ADDR", ""),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "debug"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}
}

// TLSEnabled reports whether a TLS identity is configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as time.Duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as float, using default %f: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}
