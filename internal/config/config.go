// Package config loads feedbackdesk settings from a YAML file with
// FEEDBACKDESK_* environment overrides, and owns the ~/.feedbackdesk layout.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

const (
	// AppDir is created under the user's home directory.
	AppDir = ".feedbackdesk"

	configFileName  = "config.yaml"
	sessionFileName = "session.json"
	stateFileName   = "state.json"
	logFileName     = "feedbackdesk.log"
)

var ErrConfigExists = errors.New("config file already exists")

type Config struct {
	BaseURL          string        `yaml:"base_url" env:"FEEDBACKDESK_BASE_URL" env-default:"http://127.0.0.1:8000"`
	Token            string        `yaml:"token,omitempty" env:"FEEDBACKDESK_TOKEN"`
	Username         string        `yaml:"username,omitempty" env:"FEEDBACKDESK_USERNAME"`
	StateDir         string        `yaml:"state_dir,omitempty" env:"FEEDBACKDESK_STATE_DIR"`
	StateDSN         string        `yaml:"state_dsn,omitempty" env:"FEEDBACKDESK_STATE_DSN"`
	LogLevel         string        `yaml:"log_level" env:"FEEDBACKDESK_LOG_LEVEL" env-default:"info"`
	LogFile          string        `yaml:"log_file,omitempty" env:"FEEDBACKDESK_LOG_FILE"`
	RequestTimeout   time.Duration `yaml:"request_timeout" env:"FEEDBACKDESK_REQUEST_TIMEOUT" env-default:"15s"`
	DraftQuietPeriod time.Duration `yaml:"draft_quiet_period" env:"FEEDBACKDESK_DRAFT_QUIET_PERIOD" env-default:"2s"`
	MaxRetries       int           `yaml:"max_retries" env:"FEEDBACKDESK_MAX_RETRIES" env-default:"3"`
	PageSize         int           `yaml:"page_size" env:"FEEDBACKDESK_PAGE_SIZE" env-default:"10"`
}

// DefaultPath is $FEEDBACKDESK_CONFIG, or config.yaml inside the app dir.
func DefaultPath() string {
	if path := strings.TrimSpace(os.Getenv("FEEDBACKDESK_CONFIG")); path != "" {
		return path
	}
	return filepath.Join(defaultStateDir(), configFileName)
}

// Load reads path and applies env overrides. A missing file is not an
// error: settings then come from the environment and defaults alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config: read env: %w", err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Init writes a default config file at path. An existing file is left alone
// unless force is set.
func Init(path string, cfg Config, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}
	if cfg.BaseURL == "" {
		cfg = Default()
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	header := []byte("# feedbackdesk configuration. FEEDBACKDESK_* environment variables override these values.\n")
	return os.WriteFile(path, append(header, data...), 0o600)
}

// Default mirrors the env-default tags for callers that build a file
// without going through cleanenv.
func Default() Config {
	return Config{
		BaseURL:          "http://127.0.0.1:8000",
		LogLevel:         "info",
		RequestTimeout:   15 * time.Second,
		DraftQuietPeriod: 2 * time.Second,
		MaxRetries:       3,
		PageSize:         10,
	}
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: base_url must be an http(s) URL, got %q", c.BaseURL)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: request_timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: max_retries must not be negative")
	}
	return nil
}

// StateBackendDSN selects the store snapshot backend; the default is the bare
// path of a JSON file in the state dir, made absolute when possible.
func (c *Config) StateBackendDSN() string {
	if dsn := strings.TrimSpace(c.StateDSN); dsn != "" {
		return dsn
	}
	path := filepath.Join(c.StateDir, stateFileName)
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func (c *Config) SessionPath() string {
	return filepath.Join(c.StateDir, sessionFileName)
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.StateDir) == "" {
		c.StateDir = defaultStateDir()
	}
	if strings.TrimSpace(c.LogFile) == "" {
		c.LogFile = filepath.Join(c.StateDir, logFileName)
	}
	if c.DraftQuietPeriod <= 0 {
		c.DraftQuietPeriod = 2 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 10
	}
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return AppDir
	}
	return filepath.Join(home, AppDir)
}
