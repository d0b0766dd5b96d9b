package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerPort  string `yaml:"server_port"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`

	FirebaseProject        string        `yaml:"firebase_project_id"`
	ServiceAccountPath     string        `yaml:"firebase_service_account_path"`
	ServiceAccountJSON     string        `yaml:"-"`
	StorageBucket          string        `yaml:"storage_bucket"`
	RemoteBackend          string        `yaml:"remote_backend"`
	ChatCacheDir           string        `yaml:"chat_cache_dir"`
	OptimisticSend         bool          `yaml:"optimistic_send"`
	FeedReconnectInitial   time.Duration `yaml:"feed_reconnect_initial"`
	FeedReconnectMax       time.Duration `yaml:"feed_reconnect_max"`
	AllowedWebsocketOrigin string        `yaml:"allowed_websocket_origin"`
}

const (
	BackendFirestore = "firestore"
	BackendMemory    = "memory"
)

func defaults() *Config {
	return &Config{
		ServerPort:           "8080",
		Environment:          "development",
		LogLevel:             "info",
		RemoteBackend:        BackendFirestore,
		FeedReconnectInitial: time.Second,
		FeedReconnectMax:     30 * time.Second,
	}
}

// Load reads an optional YAML file named by CONFIG_FILE, then lets environment
// variables (including a local .env) override individual keys.
func Load() (*Config, error) {
	godotenv.Load()

	config := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, config); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	config.ServerPort = getEnv("SERVER_PORT", config.ServerPort)
	config.Environment = getEnv("ENVIRONMENT", config.Environment)
	config.LogLevel = getEnv("LOG_LEVEL", config.LogLevel)
	config.FirebaseProject = getEnv("FIREBASE_PROJECT_ID", config.FirebaseProject)
	config.ServiceAccountPath = getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", config.ServiceAccountPath)
	config.ServiceAccountJSON = getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", config.ServiceAccountJSON)
	config.StorageBucket = getEnv("STORAGE_BUCKET", config.StorageBucket)
	config.RemoteBackend = getEnv("REMOTE_BACKEND", config.RemoteBackend)
	config.ChatCacheDir = getEnv("CHAT_CACHE_DIR", config.ChatCacheDir)
	config.OptimisticSend = getEnvAsBool("CHAT_OPTIMISTIC_SEND", config.OptimisticSend)
	config.FeedReconnectInitial = getEnvAsDuration("FEED_RECONNECT_INITIAL", config.FeedReconnectInitial)
	config.FeedReconnectMax = getEnvAsDuration("FEED_RECONNECT_MAX", config.FeedReconnectMax)
	config.AllowedWebsocketOrigin = getEnv("WS_ALLOWED_ORIGIN", config.AllowedWebsocketOrigin)

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.RemoteBackend {
	case BackendFirestore:
		if c.FirebaseProject == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID is required for the firestore backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown REMOTE_BACKEND %q", c.RemoteBackend)
	}
	if c.FeedReconnectInitial <= 0 || c.FeedReconnectMax < c.FeedReconnectInitial {
		return fmt.Errorf("invalid feed reconnect window %s..%s", c.FeedReconnectInitial, c.FeedReconnectMax)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
