package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL        string
	HTTPPort           string
	LogLevel           string
	GeminiAPIBaseURL   string
	GeminiModel        string
	MinMessageInterval time.Duration
	AllowedOrigins     []string
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		DatabaseURL:        getEnv("DATABASE_URL", "doubt_solver.db"),
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),
		GeminiAPIBaseURL:   getEnv("GEMINI_API_BASE_URL", "https://generativelanguage.googleapis.com"),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		MinMessageInterval: time.Duration(getEnvAsInt("MIN_MESSAGE_INTERVAL_MS", 1000)) * time.Millisecond,
		AllowedOrigins:     []string{getEnv("ALLOWED_ORIGIN", "*")},
	}

	// The Gemini API key is deliberately not configuration: it is user data,
	// entered through the settings surface and kept in the credential store.
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
