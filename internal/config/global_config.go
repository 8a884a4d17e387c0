package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/fsutil"
)

// ProjectConfigFile is the project-level configuration file name.
const ProjectConfigFile = ".benchdiag.yaml"

// UserConfigDir returns ~/.config/benchdiag.
func UserConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "benchdiag"), nil
}

// UserConfigPath returns the per-user configuration file path.
func UserConfigPath() (string, error) {
	dir, err := UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// WriteDefaultConfig writes DefaultConfigYAML to path unless a file exists
// there and force is false.
func WriteDefaultConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("checking config: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, []byte(DefaultConfigYAML), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
