package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Default file names under DefaultDataDir.
const (
	tokenFileName = "token.json"
	stateDBName   = "state.db"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal, with "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags. It returns
// the validated Config and the config path that was consulted.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, string, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	if env.User != "" {
		cfg.Graph.User = env.User
	}

	if env.ClientSecret != "" {
		cfg.App.ClientSecret = env.ClientSecret
	}

	if cli.User != "" {
		cfg.Graph.User = cli.User
	}

	if cli.LogLevel != "" {
		cfg.Logging.LogLevel = cli.LogLevel
	}

	resolveStoragePaths(&cfg.Storage)

	if err := Validate(cfg); err != nil {
		return nil, cfgPath, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, cfgPath, nil
}

// resolveStoragePaths fills empty storage paths with platform defaults and
// expands a leading "~/".
func resolveStoragePaths(s *StorageConfig) {
	dataDir := DefaultDataDir()

	if s.TokenFile == "" && dataDir != "" {
		s.TokenFile = filepath.Join(dataDir, tokenFileName)
	}

	if s.StateDB == "" && dataDir != "" {
		s.StateDB = filepath.Join(dataDir, stateDBName)
	}

	s.TokenFile = expandTilde(s.TokenFile)
	s.StateDB = expandTilde(s.StateDB)
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}
