package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	API      APIConfig
	Realtime RealtimeConfig
	Identity IdentityConfig
	Redis    RedisConfig
	Server   ServerConfig
	JWT      JWTConfig
}

// APIConfig points the client at a backend.
type APIConfig struct {
	BaseURL string // REST base including /api, e.g. http://localhost:8080/api
	WSURL   string // event socket; derived from BaseURL when empty
	Timeout time.Duration
	Token   string // instructor bearer token, optional
}

// RealtimeConfig holds the event channel's reconnect policy.
type RealtimeConfig struct {
	MinDelay          time.Duration
	MaxDelay          time.Duration
	MaxAttempts       int
	ResyncOnReconnect bool
}

// IdentityConfig selects where the anonymous tag is kept.
type IdentityConfig struct {
	Store    string // file | redis | memory
	Path     string // file store location
	DeviceID string
}

// ServerConfig holds sandbox HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// RedisConfig holds Redis connection settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// Identity store kinds.
const (
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	baseURL := strings.TrimRight(getEnv("QBOX_API_URL", "http://localhost:8080/api"), "/")
	cfg := &Config{
		API: APIConfig{
			BaseURL: baseURL,
			WSURL:   getEnv("QBOX_WS_URL", ""),
			Timeout: time.Duration(getEnvInt("QBOX_API_TIMEOUT_SEC", 10)) * time.Second,
			Token:   getEnv("QBOX_TOKEN", ""),
		},
		Realtime: RealtimeConfig{
			MinDelay:          time.Duration(getEnvInt("QBOX_RECONNECT_MIN_MS", 1000)) * time.Millisecond,
			MaxDelay:          time.Duration(getEnvInt("QBOX_RECONNECT_MAX_MS", 5000)) * time.Millisecond,
			MaxAttempts:       getEnvInt("QBOX_RECONNECT_ATTEMPTS", 10),
			ResyncOnReconnect: getEnvBool("QBOX_RESYNC_ON_RECONNECT", true),
		},
		Identity: IdentityConfig{
			Store:    strings.ToLower(getEnv("QBOX_IDENTITY_STORE", StoreFile)),
			Path:     getEnv("QBOX_IDENTITY_PATH", defaultIdentityPath()),
			DeviceID: getEnv("QBOX_DEVICE_ID", defaultDeviceID()),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
	}
	if cfg.API.WSURL == "" {
		cfg.API.WSURL = WebsocketURL(baseURL)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Identity.Store {
	case StoreFile, StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("config: unknown identity store %q", c.Identity.Store)
	}
	if c.Identity.Store == StoreRedis && c.Redis.Addr == "" {
		return fmt.Errorf("config: identity store %q needs REDIS_ADDR", StoreRedis)
	}
	if c.Realtime.MinDelay <= 0 || c.Realtime.MaxDelay < c.Realtime.MinDelay {
		return fmt.Errorf("config: reconnect delays %s..%s", c.Realtime.MinDelay, c.Realtime.MaxDelay)
	}
	if c.Realtime.MaxAttempts < 0 {
		return fmt.Errorf("config: negative reconnect attempts %d", c.Realtime.MaxAttempts)
	}
	return nil
}

// WebsocketURL derives the event socket address from a REST base URL:
// http://host:8080/api becomes ws://host:8080/ws.
func WebsocketURL(baseURL string) string {
	u := strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/api")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

func defaultIdentityPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "qbox", "identity.yaml")
}

func defaultDeviceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "default"
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
