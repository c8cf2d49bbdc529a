package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/kmrasmussen/intersebd-sub000/internal/llm"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds configuration for both the console and the API server
type Config struct {
	Mode     string `yaml:"mode"`      // "dev" or "prod"
	LogLevel string `yaml:"log_level"` // zap level name

	// API is the remote REST service the console talks to
	API struct {
		BaseURL       string        `yaml:"base_url"`
		Timeout       time.Duration `yaml:"timeout"`
		SessionCookie string        `yaml:"session_cookie"`
	} `yaml:"api"`

	// Storage is the console's persistent local storage
	Storage struct {
		Driver     string `yaml:"driver"` // "sqlite", "redis" or "memory"
		Path       string `yaml:"path"`
		RedisAddr  string `yaml:"redis_addr"`
		GuestIDKey string `yaml:"guest_id_key"`
	} `yaml:"storage"`

	Datasets struct {
		RequiredThreshold int    `yaml:"required_threshold"`
		DownloadDir       string `yaml:"download_dir"`
	} `yaml:"datasets"`

	Pairs struct {
		PollInterval time.Duration `yaml:"poll_interval"`
		ViewingID    string        `yaml:"viewing_id"`
	} `yaml:"pairs"`

	Console struct {
		Port string `yaml:"port"`
	} `yaml:"console"`

	Server struct {
		Port            string   `yaml:"port"`
		FrontendOrigins []string `yaml:"frontend_origins"`
		SessionSecret   string   `yaml:"session_secret"`
		SecureCookies   bool     `yaml:"secure_cookies"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"` // SQLite path or PostgreSQL URL
		Type string `yaml:"type"` // "sqlite" or "postgres"
	} `yaml:"database"`

	// Multiple providers configuration
	Providers               []llm.ProviderConfig `yaml:"providers"`
	MaxFailuresBeforeSwitch int                  `yaml:"max_failures_before_switch"`

	Hub struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"hub"`

	Widget struct {
		PublicBaseURL string `yaml:"public_base_url"`
	} `yaml:"widget"`
}

// LoadConfig loads configuration from a YAML file. A missing file is not an
// error: defaults and environment overrides still apply.
func LoadConfig(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	config := &Config{}

	file, err := os.Open(configPath)
	switch {
	case err == nil:
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	// Expand environment variables in secrets
	for i := range config.Providers {
		config.Providers[i].APIKey = os.ExpandEnv(config.Providers[i].APIKey)
	}
	config.Server.SessionSecret = os.ExpandEnv(config.Server.SessionSecret)
	config.Database.Path = os.ExpandEnv(config.Database.Path)

	applyEnv(config)
	applyDefaults(config)

	return config, nil
}

func applyDefaults(config *Config) {
	if config.Mode == "" {
		config.Mode = "dev"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}

	if config.API.BaseURL == "" {
		config.API.BaseURL = "http://localhost:8000"
	}
	if config.API.Timeout <= 0 {
		config.API.Timeout = 30 * time.Second
	}
	if config.API.SessionCookie == "" {
		config.API.SessionCookie = "session"
	}

	if config.Storage.Driver == "" {
		config.Storage.Driver = "sqlite"
	}
	if config.Storage.Path == "" {
		config.Storage.Path = "./data/console.db"
	}
	if config.Storage.RedisAddr == "" {
		config.Storage.RedisAddr = "localhost:6379"
	}
	if config.Storage.GuestIDKey == "" {
		config.Storage.GuestIDKey = "guestUserId"
	}

	if config.Datasets.RequiredThreshold <= 0 {
		config.Datasets.RequiredThreshold = 10
	}
	if config.Datasets.DownloadDir == "" {
		config.Datasets.DownloadDir = "./data/exports"
	}

	if config.Pairs.PollInterval <= 0 {
		config.Pairs.PollInterval = 5 * time.Second
	}

	if config.Console.Port == "" {
		config.Console.Port = "3000"
	}

	if config.Server.Port == "" {
		config.Server.Port = "8000"
	}
	if len(config.Server.FrontendOrigins) == 0 {
		config.Server.FrontendOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	if config.Server.SessionSecret == "" {
		config.Server.SessionSecret = "dev-session-secret"
	}

	if config.Database.Type == "" {
		config.Database.Type = "sqlite"
	}
	if config.Database.Path == "" {
		config.Database.Path = "./data/annotations.db"
	}

	if config.MaxFailuresBeforeSwitch <= 0 {
		config.MaxFailuresBeforeSwitch = 3
	}

	if config.Hub.BaseURL == "" {
		config.Hub.BaseURL = "https://huggingface.co"
	}
	if config.Hub.Timeout <= 0 {
		config.Hub.Timeout = 60 * time.Second
	}

	if config.Widget.PublicBaseURL == "" {
		config.Widget.PublicBaseURL = "http://localhost:" + config.Server.Port
	}
}

// applyEnv lets deployments override the few values that differ per host
func applyEnv(config *Config) {
	setString(&config.Mode, "APP_MODE")
	setString(&config.LogLevel, "LOG_LEVEL")
	setString(&config.API.BaseURL, "CONSOLE_API_BASE_URL")
	setString(&config.Storage.Driver, "CONSOLE_STORAGE_DRIVER")
	setString(&config.Storage.RedisAddr, "REDIS_ADDR")
	setString(&config.Storage.GuestIDKey, "CONSOLE_GUEST_ID_KEY")
	setString(&config.Console.Port, "CONSOLE_PORT")
	setString(&config.Server.Port, "PORT")
	setString(&config.Server.SessionSecret, "SESSION_SECRET")
	setString(&config.Hub.BaseURL, "HF_BASE_URL")
	setString(&config.Widget.PublicBaseURL, "PUBLIC_BASE_URL")

	if url := os.Getenv("DATABASE_URL"); url != "" {
		config.Database.Type = "postgres"
		config.Database.Path = url
	}

	if v := os.Getenv("CONSOLE_REQUIRED_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Datasets.RequiredThreshold = n
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
