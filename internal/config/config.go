package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	GeminiAPIKey       string
	ShareGeminiAPIKey  string
	ChatModel          string
	ImageModel         string
	DatabaseURL        string
	HTTPPort           string
	LogLevel           string
	LogFile            string
	JWTSecret          string
	PublicAppURL       string
	SessionCacheTTL    time.Duration
	StreamCommitEvery  time.Duration
	// StreamPersistEvery spaces the database writes of a streaming reply.
	StreamPersistEvery time.Duration
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		GeminiAPIKey:       unquote(getEnv("GEMINI_API_KEY", "")),
		ShareGeminiAPIKey:  unquote(getEnv("SHARE_GEMINI_API_KEY", "")),
		ChatModel:          getEnv("CHAT_MODEL", "gemini-2.5-flash"),
		ImageModel:         getEnv("IMAGE_MODEL", "gemini-2.5-flash-image"),
		DatabaseURL:        getEnv("DATABASE_URL", "pdf_assistant.db"),
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),
		LogFile:            getEnv("LOG_FILE", "logs/pdf-assistant.log"),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		PublicAppURL:       strings.TrimRight(getEnv("PUBLIC_APP_URL", ""), "/"),
		SessionCacheTTL:    time.Duration(getEnvAsInt("SESSION_CACHE_TTL_SECONDS", 300)) * time.Second,
		StreamCommitEvery:  time.Duration(getEnvAsInt("STREAM_COMMIT_INTERVAL_MS", 16)) * time.Millisecond,
		StreamPersistEvery: time.Duration(getEnvAsInt("STREAM_PERSIST_INTERVAL_MS", 1000)) * time.Millisecond,
	}

	if AppConfig.ShareGeminiAPIKey != "" && !strings.HasPrefix(AppConfig.ShareGeminiAPIKey, "AIza") {
		log.Fatal("SHARE_GEMINI_API_KEY is malformed")
	}

	if AppConfig.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// unquote strips the surrounding quotes some .env editors leave around keys.
func unquote(value string) string {
	return strings.Trim(strings.TrimSpace(value), `"'`)
}
