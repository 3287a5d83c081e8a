package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults holds the paths nw uses when no config overrides them.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
	KeyFile    string
}

// GetDefaults resolves default paths, checking environment variables first:
//   - NW_CONFIG_PATH: config file location (default: ~/.config/nw.toml)
//   - NW_HOME: base directory for nw data (default: ~/.local/share/nw)
func GetDefaults() (*Defaults, error) {
	home := ""
	if os.Getenv("NW_CONFIG_PATH") == "" || os.Getenv("NW_HOME") == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		home = h
	}

	configPath := envOr("NW_CONFIG_PATH", filepath.Join(home, ".config", "nw.toml"))
	baseDir := envOr("NW_HOME", filepath.Join(home, ".local", "share", "nw"))

	return &Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		KeyFile:    filepath.Join(baseDir, "keys", "nw.key"),
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
