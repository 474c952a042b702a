package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Upstream services
	ListingsAPIURL string
	InquiryAPIURL  string
	ChatAPIURL     string
	UploadAPIURL   string

	// Transcript sync
	SyncDebounce   time.Duration
	SyncTimeout    time.Duration
	SyncRetryDelay time.Duration

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:           getEnvOrDefault("PORT", "8080"),
		Env:            getEnvOrDefault("ENV", "development"),
		RedisURL:       mustGetEnv("REDIS_URL"),
		JWTSecret:      mustGetEnv("JWT_SECRET"),
		ListingsAPIURL: mustGetEnv("LISTINGS_API_URL"),
		InquiryAPIURL:  mustGetEnv("INQUIRY_API_URL"),
		ChatAPIURL:     mustGetEnv("CHAT_API_URL"),
		UploadAPIURL:   getEnvOrDefault("UPLOAD_API_URL", ""),
		SyncDebounce:   getEnvAsMillisOrDefault("SYNC_DEBOUNCE_MS", 2000),
		SyncTimeout:    getEnvAsMillisOrDefault("SYNC_TIMEOUT_MS", 30000),
		SyncRetryDelay: getEnvAsMillisOrDefault("SYNC_RETRY_MS", 5000),
		FrontendURL:    getEnvOrDefault("FRONTEND_URL", "http://localhost:3000"),
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsMillisOrDefault(key string, defaultMillis int) time.Duration {
	return time.Duration(getEnvAsIntOrDefault(key, defaultMillis)) * time.Millisecond
}
