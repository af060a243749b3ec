// Package config loads drmirror settings from a TOML file in the user config
// dir, with DRMIRROR_* environment variables taking precedence.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const configFileName = "config.toml"

type Config struct {
	ServerBaseURL string `toml:"server_base_url"`
	LogLevel      string `toml:"log_level"`
	DataDir       string `toml:"data_dir"`
	LogKeep       int    `toml:"log_keep"`
	HistoryLimit  int    `toml:"history_limit"`
}

func defaults() Config {
	return Config{
		ServerBaseURL: "http://127.0.0.1:8000",
		LogLevel:      "info",
		DataDir:       defaultDataDir(),
		LogKeep:       500,
		HistoryLimit:  5000,
	}
}

func defaultConfigDir() string {
	if dir := strings.TrimSpace(os.Getenv("DRMIRROR_CONFIG_DIR")); dir != "" {
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "drmirror")
}

func defaultDataDir() string {
	return filepath.Join(defaultConfigDir(), "data")
}

// Load reads the config file (creating it with defaults on first run) and
// applies env overrides.
func Load() (Config, error) {
	cfg, err := loadFile(defaultConfigDir())
	if err != nil {
		return Config{}, err
	}
	return applyEnv(cfg), nil
}

func loadFile(dir string) (Config, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Config{}, err
	}
	path := filepath.Join(dir, configFileName)
	if b, err := os.ReadFile(path); err == nil {
		cfg := defaults()
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
		return normalize(cfg), nil
	} else if !os.IsNotExist(err) {
		return Config{}, err
	}

	cfg := defaults()
	if err := writeTOMLAtomically(path, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes the config file atomically.
func Save(cfg Config) error {
	dir := defaultConfigDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return writeTOMLAtomically(filepath.Join(dir, configFileName), normalize(cfg))
}

func applyEnv(cfg Config) Config {
	if v := strings.TrimSpace(os.Getenv("DRMIRROR_SERVER_BASE_URL")); v != "" {
		cfg.ServerBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DRMIRROR_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("DRMIRROR_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("DRMIRROR_LOG_KEEP")); v != "" {
		if n := atoiOrDefault(v, cfg.LogKeep); n > 0 {
			cfg.LogKeep = n
		}
	}
	return normalize(cfg)
}

func normalize(cfg Config) Config {
	def := defaults()
	cfg.ServerBaseURL = strings.TrimRight(strings.TrimSpace(cfg.ServerBaseURL), "/")
	if cfg.ServerBaseURL == "" {
		cfg.ServerBaseURL = def.ServerBaseURL
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = def.LogLevel
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = def.DataDir
	}
	if cfg.LogKeep <= 0 {
		cfg.LogKeep = def.LogKeep
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	return cfg
}

func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, "drmirror.db")
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func atoiOrDefault(v string, fallback int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
