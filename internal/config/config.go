package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration values for the chat server.
// Values come from an optional YAML file, then a .env file, then the environment.
type Config struct {
	// ServerPort is the port the HTTP server listens on
	ServerPort string `yaml:"port"`

	// Env is the deployment environment ("development" or "production")
	Env string `yaml:"env"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level"`

	// CORSOrigins lists the origins allowed to call the API
	CORSOrigins []string `yaml:"cors_origins"`

	// StoreDriver selects the message store backend: memory, pebble, sqlite or postgres
	StoreDriver string `yaml:"store_driver"`

	// StorePath is the pebble directory or sqlite file
	StorePath string `yaml:"store_path"`

	// DatabaseURL is the Postgres DSN used by the postgres driver
	DatabaseURL string `yaml:"database_url"`

	// BlobDriver selects the attachment backend: local or supabase
	BlobDriver string `yaml:"blob_driver"`

	// UploadDir is where the local blob driver writes files
	UploadDir string `yaml:"upload_dir"`

	// PublicBaseURL prefixes local blob references
	PublicBaseURL string `yaml:"public_base_url"`

	// SupabaseURL is the URL of the Supabase project
	SupabaseURL string `yaml:"supabase_url"`

	// SupabaseKey is the service role key for storage uploads
	// This key has elevated privileges and should never be exposed to clients
	SupabaseKey string `yaml:"supabase_key"`

	// SupabaseBucket is the public storage bucket attachments go to
	SupabaseBucket string `yaml:"supabase_bucket"`

	// AuthKey is the HMAC secret for bearer tokens; empty disables authentication
	AuthKey string `yaml:"auth_key"`

	// MaxUploadSize caps attachment size in bytes
	MaxUploadSize int64 `yaml:"-"`

	// SendBuffer is the per-connection outbound queue length
	SendBuffer int `yaml:"send_buffer"`

	// RateLimit is the sustained inbound events per second per connection
	RateLimit float64 `yaml:"rate_limit"`

	// RateBurst is the inbound burst allowance per connection
	RateBurst int `yaml:"rate_burst"`

	// MaxUploadSizeRaw is the human readable form of MaxUploadSize, e.g. "10MB"
	MaxUploadSizeRaw string `yaml:"max_upload_size"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		ServerPort:       "8080",
		Env:              "production",
		LogLevel:         "info",
		CORSOrigins:      []string{"http://localhost:5173", "http://localhost:3000"},
		StoreDriver:      "pebble",
		StorePath:        "./data/messages",
		BlobDriver:       "local",
		UploadDir:        "./data/uploads",
		PublicBaseURL:    "http://localhost:8080",
		SupabaseBucket:   "attachments",
		MaxUploadSizeRaw: "10MB",
		MaxUploadSize:    10 * 1000 * 1000,
		SendBuffer:       256,
		RateLimit:        10,
		RateBurst:        20,
	}
}

// Load reads configuration from CONFIG_FILE (if set), a .env file (if present)
// and environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	// Attempt to load .env file - not an error if it doesn't exist
	// as we may be running in production with real environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.ServerPort = getEnv("PORT", cfg.ServerPort)
	cfg.Env = getEnv("APP_ENV", cfg.Env)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.StoreDriver = getEnv("STORE_DRIVER", cfg.StoreDriver)
	cfg.StorePath = getEnv("STORE_PATH", cfg.StorePath)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.BlobDriver = getEnv("BLOB_DRIVER", cfg.BlobDriver)
	cfg.UploadDir = getEnv("UPLOAD_DIR", cfg.UploadDir)
	cfg.PublicBaseURL = getEnv("PUBLIC_BASE_URL", cfg.PublicBaseURL)
	cfg.SupabaseURL = getEnv("SUPABASE_URL", cfg.SupabaseURL)
	cfg.SupabaseKey = getEnv("SUPABASE_SERVICE_ROLE_KEY", cfg.SupabaseKey)
	cfg.SupabaseBucket = getEnv("SUPABASE_BUCKET", cfg.SupabaseBucket)
	cfg.AuthKey = getEnv("AUTH_KEY", cfg.AuthKey)
	cfg.MaxUploadSizeRaw = getEnv("MAX_UPLOAD_SIZE", cfg.MaxUploadSizeRaw)

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}

	var err error
	if cfg.SendBuffer, err = getEnvInt("SEND_BUFFER", cfg.SendBuffer); err != nil {
		return nil, err
	}
	if cfg.RateBurst, err = getEnvInt("RATE_BURST", cfg.RateBurst); err != nil {
		return nil, err
	}
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		if cfg.RateLimit, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT %q: %w", v, err)
		}
	}

	size, err := humanize.ParseBytes(cfg.MaxUploadSizeRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_SIZE %q: %w", cfg.MaxUploadSizeRaw, err)
	}
	cfg.MaxUploadSize = int64(size)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "memory", "pebble", "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.BlobDriver {
	case "local":
	case "supabase":
		if c.SupabaseURL == "" || c.SupabaseKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required for the supabase blob store")
		}
	default:
		return fmt.Errorf("unknown BLOB_DRIVER %q", c.BlobDriver)
	}

	if c.SendBuffer <= 0 {
		return fmt.Errorf("SEND_BUFFER must be positive")
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive")
	}
	return nil
}

// AuthEnabled reports whether bearer tokens are required.
func (c *Config) AuthEnabled() bool {
	return c.AuthKey != ""
}

func (c *Config) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", path)
		}
		return err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

// splitList splits comma-separated values and trims whitespace
func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
