package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Storage driver names accepted in StorageDriver.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

type Config struct {
	HTTPPort      int    `yaml:"http_port"`
	StorageDriver string `yaml:"storage_driver"`
	DBPath        string `yaml:"db_path"`

	WorkerBatchSize     int `yaml:"worker_batch_size"`
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	VisibilitySeconds   int `yaml:"visibility_seconds"`

	SESRegion          string `yaml:"ses_region"`
	SESAccessKeyID     string `yaml:"ses_access_key_id"`
	SESSecretAccessKey string `yaml:"ses_secret_access_key"`

	StorageAccount string `yaml:"storage_account"`
	StorageKey     string `yaml:"storage_key"`

	MaxImageWidth  int  `yaml:"max_image_width"`
	MaxImageHeight int  `yaml:"max_image_height"`
	InlineImages   bool `yaml:"inline_images"`
}

func defaults() Config {
	return Config{
		HTTPPort:            8080,
		StorageDriver:       DriverSQLite,
		DBPath:              "",
		WorkerBatchSize:     10,
		PollIntervalSeconds: 1,
		VisibilitySeconds:   60,
		MaxImageWidth:       200,
		MaxImageHeight:      200,
		InlineImages:        false,
	}
}

// Load builds the configuration from environment variables alone.
func Load() Config {
	return fromEnv(defaults())
}

// LoadFromFile reads a YAML config file and then lets environment
// variables override its values.
func LoadFromFile(path string) (Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	return fromEnv(cfg), nil
}

func fromEnv(base Config) Config {
	base.HTTPPort = getEnvInt("HTTP_PORT", base.HTTPPort)
	base.StorageDriver = strings.ToLower(getEnvString("STORAGE_DRIVER", base.StorageDriver))
	base.DBPath = getEnvString("DB_PATH", base.DBPath)
	base.WorkerBatchSize = getEnvInt("WORKER_BATCH_SIZE", base.WorkerBatchSize)
	base.PollIntervalSeconds = getEnvInt("POLL_INTERVAL_SECONDS", base.PollIntervalSeconds)
	base.VisibilitySeconds = getEnvInt("VISIBILITY_SECONDS", base.VisibilitySeconds)
	base.SESRegion = getEnvString("SES_REGION", base.SESRegion)
	base.SESAccessKeyID = getEnvString("SES_ACCESS_KEY_ID", base.SESAccessKeyID)
	base.SESSecretAccessKey = getEnvString("SES_SECRET_ACCESS_KEY", base.SESSecretAccessKey)
	base.StorageAccount = getEnvString("STORAGE_ACCOUNT", base.StorageAccount)
	base.StorageKey = getEnvString("STORAGE_KEY", base.StorageKey)
	base.MaxImageWidth = getEnvInt("MAX_IMAGE_WIDTH", base.MaxImageWidth)
	base.MaxImageHeight = getEnvInt("MAX_IMAGE_HEIGHT", base.MaxImageHeight)
	base.InlineImages = getEnvBool("INLINE_IMAGES", base.InlineImages)
	return base
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}
