package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Settings are the knobs read from the environment. Streams and the
// listening port come from the command line instead.
type Settings struct {
	LogLevel  logrus.Level
	LogFormat string
	LogFile   string

	APIAddr string

	LaunchTemplate string
	StartTimeout   time.Duration
	CloseAfter     time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	EnableUDP      bool
}

// LoadEnv loads .env from the working directory when it exists.
func LoadEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	return godotenv.Load(".env")
}

func LoadSettings() Settings {
	return Settings{
		LogLevel:       GetLogLevel(),
		LogFormat:      GetEnv("LOG_FORMAT", "text"),
		LogFile:        GetEnv("LOG_FILE", ""),
		APIAddr:        apiAddr(),
		LaunchTemplate: os.Getenv("PIPELINE_LAUNCH_TEMPLATE"),
		StartTimeout:   GetEnvDuration("SOURCE_START_TIMEOUT", 10*time.Second),
		CloseAfter:     GetEnvDuration("SOURCE_CLOSE_AFTER", 10*time.Second),
		ReadTimeout:    GetEnvDuration("RTSP_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:   GetEnvDuration("RTSP_WRITE_TIMEOUT", 10*time.Second),
		EnableUDP:      GetEnvBool("RTSP_UDP", false),
	}
}

// An explicitly empty API_ADDR turns the status API off.
func apiAddr() string {
	if value, ok := os.LookupEnv("API_ADDR"); ok {
		return value
	}
	return ":6070"
}

// GetEnv returns the variable or fallback when it is unset or empty.
func GetEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func GetEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func GetLogLevel() logrus.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
