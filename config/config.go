package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort       string
	AppMode       string
	DatabaseURL   string
	JWTSecret     string
	JWTExpiryMin  int
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Intervals announced to live clients in the connected frame.
	WSHeartbeat time.Duration
	WSReconnect time.Duration

	Client ClientConfig
}

// ClientConfig configures the chat client core (cmd/chatcli and tests).
type ClientConfig struct {
	APIURL           string
	WSURL            string
	Token            string
	UserID           int64
	ReconnectDelay   time.Duration
	HeartbeatEvery   time.Duration
	MissedHeartbeats int
	PollInterval     time.Duration
	HTTPTimeout      time.Duration
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppPort:       getEnv("APP_PORT", "8080"),
		AppMode:       getEnv("APP_MODE", "debug"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		JWTSecret:     getEnv("JWT_SECRET", "change-me"),
		JWTExpiryMin:  getEnvAsInt("JWT_EXPIRY_MIN", 60),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		WSHeartbeat:   getEnvAsMillis("WS_HEARTBEAT_MS", 4000),
		WSReconnect:   getEnvAsMillis("WS_RECONNECT_MS", 5000),
		Client:        LoadClientConfig(),
	}
}

// LoadClientConfig reads only the client section. Defaults mirror the mobile client.
func LoadClientConfig() ClientConfig {
	return ClientConfig{
		APIURL:           getEnv("CHAT_API_URL", "http://localhost:8080/api"),
		WSURL:            getEnv("CHAT_WS_URL", "ws://localhost:8080/ws"),
		Token:            getEnv("CHAT_TOKEN", ""),
		UserID:           int64(getEnvAsInt("CHAT_USER_ID", 0)),
		ReconnectDelay:   getEnvAsMillis("CHAT_RECONNECT_MS", 5000),
		HeartbeatEvery:   getEnvAsMillis("CHAT_HEARTBEAT_MS", 4000),
		MissedHeartbeats: getEnvAsInt("CHAT_MISSED_HEARTBEATS", 3),
		PollInterval:     getEnvAsMillis("CHAT_POLL_MS", 3000),
		HTTPTimeout:      getEnvAsMillis("CHAT_HTTP_TIMEOUT_MS", 10000),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsMillis(key string, fallback int) time.Duration {
	return time.Duration(getEnvAsInt(key, fallback)) * time.Millisecond
}
