// Package config provides configuration for the relay service.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the relay configuration.
type Config struct {
	// Server settings
	HTTPPort     int // Public API, websocket and SSE streams
	InternalPort int // /health, /metrics, notification outbox

	// Bots
	BotsPath string

	// Conversation
	HistoryCapacity  int
	SubscriberBuffer int
	MaxMessageLength int

	// Streaming sessions
	KeepAliveInterval   time.Duration
	ReconnectGrace      time.Duration
	ReconnectMinSpacing time.Duration
	WriteTimeout        time.Duration
	ReadTimeout         time.Duration
	MaxMessageSize      int64

	// Orchestration
	MaxBotExchanges      int
	BotContextSize       int
	InterjectionDelayMin time.Duration
	InterjectionDelayMax time.Duration
	InterjectionCooldown time.Duration
	MaxInterjections     int
	BotQueueSize         int

	// Model provider
	LLMBackend string
	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string
	LLMTimeout time.Duration
	MockDelay  time.Duration

	// Notification outbox; an empty database URL disables it.
	NotifyDatabaseURL string
	NotifyQueueSize   int

	// Logging
	LogLevel string
}

// Load loads configuration from the environment, reading a .env file in the
// working directory first when one exists.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPPort:             getEnvInt("HTTP_PORT", 8080),
		InternalPort:         getEnvInt("INTERNAL_PORT", 8081),
		BotsPath:             getEnv("BOTS_PATH", "bots.yaml"),
		HistoryCapacity:      getEnvInt("HISTORY_CAPACITY", 256),
		SubscriberBuffer:     getEnvInt("SUBSCRIBER_BUFFER", 256),
		MaxMessageLength:     getEnvInt("MAX_MESSAGE_LENGTH", 4000),
		KeepAliveInterval:    getEnvMillis("KEEPALIVE_INTERVAL_MS", 60000),
		ReconnectGrace:       getEnvMillis("RECONNECT_GRACE_MS", 5000),
		ReconnectMinSpacing:  getEnvMillis("RECONNECT_MIN_SPACING_MS", 1000),
		WriteTimeout:         getEnvMillis("WS_WRITE_TIMEOUT_MS", 10000),
		ReadTimeout:          getEnvMillis("WS_READ_TIMEOUT_MS", 120000),
		MaxMessageSize:       int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		MaxBotExchanges:      getEnvInt("MAX_BOT_EXCHANGES", 4),
		BotContextSize:       getEnvInt("BOT_CONTEXT_SIZE", 10),
		InterjectionDelayMin: getEnvMillis("INTERJECTION_DELAY_MIN_MS", 1500),
		InterjectionDelayMax: getEnvMillis("INTERJECTION_DELAY_MAX_MS", 3500),
		InterjectionCooldown: getEnvMillis("INTERJECTION_COOLDOWN_MS", 30000),
		MaxInterjections:     getEnvInt("MAX_INTERJECTIONS", 1),
		BotQueueSize:         getEnvInt("BOT_QUEUE_SIZE", 64),
		LLMBackend:           getEnv("LLM_BACKEND", "openai"),
		LLMBaseURL:           getEnv("LLM_BASE_URL", "https://api.openai.com"),
		LLMAPIKey:            getEnv("LLM_API_KEY", ""),
		LLMModel:             getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout:           getEnvMillis("LLM_TIMEOUT_MS", 120000),
		MockDelay:            getEnvMillis("LLM_MOCK_DELAY_MS", 40),
		NotifyDatabaseURL:    getEnvAllowEmpty("NOTIFY_DATABASE_URL", "file:relay_notifications.db?cache=shared&mode=rwc"),
		NotifyQueueSize:      getEnvInt("NOTIFY_QUEUE_SIZE", 256),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvAllowEmpty distinguishes an unset key from one set to "".
func getEnvAllowEmpty(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvMillis(key string, defaultMs int) time.Duration {
	return time.Duration(getEnvInt(key, defaultMs)) * time.Millisecond
}
