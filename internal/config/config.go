package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the client service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Log         LogConfig                 `json:"log"`
}

type BasicConfig struct {
	ServerAddress        string  `json:"server_address"`
	BackendURL           string  `json:"backend_url"`
	RequestTimeoutSecs   int     `json:"request_timeout_seconds"`
	StreamTimeoutSecs    int     `json:"stream_timeout_seconds"`
	SessionIdleMinutes   int     `json:"session_idle_minutes"`
	MinWorkers           int     `json:"min_workers"`
	MaxWorkers           int     `json:"max_workers"`
	QueueSize            int     `json:"queue_size"`
	WorkerIdleTimeoutSec int     `json:"worker_idle_timeout_seconds"`
	RateLimitRPS         float64 `json:"rate_limit_rps"`
	RateLimitBurst       int     `json:"rate_limit_burst"`
	CacheTTLSeconds      int     `json:"cache_ttl_seconds"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type LogConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// Load reads configuration from the provided path (defaults to config.json).
// A .env file next to the working directory is applied first so HOMORA_* variables
// can override file values.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	if path == "" {
		path = os.Getenv("HOMORA_CONFIG")
	}
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if v := strings.TrimSpace(os.Getenv("HOMORA_BACKEND_URL")); v != "" {
		cfg.BasicConfig.BackendURL = v
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	for name, db := range cfg.Databases {
		if !isSQLite(name) || db.DSN == "" || db.DSN == ":memory:" {
			continue
		}
		if !filepath.IsAbs(db.DSN) && !strings.HasPrefix(db.DSN, "file:") {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.BasicConfig.BackendURL) == "" {
		return errors.New("backend_url must be configured")
	}
	if c.BasicConfig.MaxWorkers > 0 && c.BasicConfig.MinWorkers > c.BasicConfig.MaxWorkers {
		return fmt.Errorf("min_workers (%d) exceeds max_workers (%d)", c.BasicConfig.MinWorkers, c.BasicConfig.MaxWorkers)
	}
	return nil
}

func isSQLite(driver string) bool {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}

// RequestTimeout is the per-call budget for non-streaming backend requests.
func (b BasicConfig) RequestTimeout() time.Duration {
	if b.RequestTimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(b.RequestTimeoutSecs) * time.Second
}

// StreamTimeout bounds one chat turn.
func (b BasicConfig) StreamTimeout() time.Duration {
	if b.StreamTimeoutSecs <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(b.StreamTimeoutSecs) * time.Second
}

func (b BasicConfig) SessionIdle() time.Duration {
	if b.SessionIdleMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(b.SessionIdleMinutes) * time.Minute
}

func (b BasicConfig) WorkerIdleTimeout() time.Duration {
	if b.WorkerIdleTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(b.WorkerIdleTimeoutSec) * time.Second
}

func (b BasicConfig) CacheTTL() time.Duration {
	if b.CacheTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(b.CacheTTLSeconds) * time.Second
}
