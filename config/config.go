package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the video analyzer service
type Config struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Server configuration
	Port string

	// Video storage
	VideoDir string

	// Upload ceilings, enforced before a video becomes eligible for analysis
	MaxUploadBytes   int64
	MaxVideoDuration time.Duration

	// LLM configuration
	LLMProvider     string
	GeminiAPIKey    string
	GeminiModel     string
	OpenAIAPIKey    string
	OpenAIModel     string
	AnalysisTimeout time.Duration

	// ffmpeg configuration
	FFmpegPath      string
	FFprobePath     string
	ProbeTimeout    time.Duration
	RepairTimeout   time.Duration
	MetadataTimeout time.Duration
	RenderTimeout   time.Duration

	// Thumbnail backfill worker
	BackfillInterval  time.Duration
	BackfillBatchSize int

	// RabbitMQ configuration
	RabbitMQHost                     string
	RabbitMQPort                     string
	RabbitMQUser                     string
	RabbitMQPassword                 string
	RabbitMQExchange                 string
	RabbitMQAnalyzedReportRoutingKey string

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables
func Load() *Config {
	config := &Config{
		// Database defaults
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "server"),
		DBPassword: getEnv("DB_PASSWORD", "secret_app"),
		DBName:     getEnv("DB_NAME", "siteguard"),

		// Server defaults
		Port: getEnv("PORT", "8080"),

		// Video storage defaults
		VideoDir: getEnv("VIDEO_DIR", "./videos"),

		// Upload ceiling defaults (100 MB, 2 hours)
		MaxUploadBytes:   getInt64Env("MAX_UPLOAD_BYTES", 100<<20),
		MaxVideoDuration: getDurationEnv("MAX_VIDEO_DURATION", 2*time.Hour),

		// LLM defaults
		LLMProvider:     getEnv("LLM_PROVIDER", "gemini"),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o"),
		AnalysisTimeout: getDurationEnv("ANALYSIS_TIMEOUT", 5*time.Minute),

		// ffmpeg defaults
		FFmpegPath:      getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:     getEnv("FFPROBE_PATH", "ffprobe"),
		ProbeTimeout:    getDurationEnv("PROBE_TIMEOUT", 5*time.Second),
		RepairTimeout:   getDurationEnv("REPAIR_TIMEOUT", 10*time.Minute),
		MetadataTimeout: getDurationEnv("METADATA_TIMEOUT", 5*time.Second),
		RenderTimeout:   getDurationEnv("RENDER_TIMEOUT", 7*time.Second),

		// Backfill defaults
		BackfillInterval:  getDurationEnv("BACKFILL_INTERVAL", time.Minute),
		BackfillBatchSize: getIntEnv("BACKFILL_BATCH_SIZE", 10),

		// RabbitMQ defaults
		RabbitMQHost:                     getEnv("AMQP_HOST", "localhost"),
		RabbitMQPort:                     getEnv("AMQP_PORT", "5672"),
		RabbitMQUser:                     getEnv("AMQP_USER", "guest"),
		RabbitMQPassword:                 getEnv("AMQP_PASSWORD", "guest"),
		RabbitMQExchange:                 getEnv("RABBITMQ_EXCHANGE", "siteguard"),
		RabbitMQAnalyzedReportRoutingKey: getEnv("RABBITMQ_ANALYZED_REPORT_ROUTING_KEY", "report.analyzed"),

		// Logging defaults
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return config
}

// GetRabbitMQURL constructs the AMQP URL from individual components
func (c *Config) GetRabbitMQURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s", c.RabbitMQUser, c.RabbitMQPassword, c.RabbitMQHost, c.RabbitMQPort)
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getInt64Env gets a 64-bit integer environment variable or returns a default value
func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
