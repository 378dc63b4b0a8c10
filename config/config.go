package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	ServerAddr string

	DataDir   string // Base directory for all persisted state
	ChartsDir string // Per-chart asset directories: DataDir/charts
	DBPath    string // sqlite database file: DataDir/chuuni.db

	FFmpegPath     string
	PreviewSeconds int    // Length of the derived preview clip
	PreviewBitrate string // e.g., "128k"

	MaxUploadBytes int64 // Upload requests larger than this are rejected

	LogLevel  string
	LogPath   string // Empty disables the rotated log file
	LogMaxAge int    // Days to keep rotated log files
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvInt64 gets an environment variable as int64 or returns a default value.
func getEnvInt64(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on existing environment variables and defaults.")
	}

	dataDir := getEnv("DATA_DIR", "data")

	return &Config{
		ServerAddr:     getEnv("SERVER_ADDR", ":8080"),
		DataDir:        dataDir,
		ChartsDir:      filepath.Join(dataDir, "charts"),
		DBPath:         filepath.Join(dataDir, "chuuni.db"),
		FFmpegPath:     getEnv("FFMPEG_PATH", "ffmpeg"),
		PreviewSeconds: getEnvInt("PREVIEW_SECONDS", 15),
		PreviewBitrate: getEnv("PREVIEW_BITRATE", "128k"),
		MaxUploadBytes: getEnvInt64("MAX_UPLOAD_BYTES", 50<<20), // 50MB
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogPath:        getEnv("LOG_PATH", filepath.Join("logs", "server.log")),
		LogMaxAge:      getEnvInt("LOG_MAX_AGE", 28),
	}
}
