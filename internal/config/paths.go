package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	homeEnv       = "AIGEM2_HOME"
	configFileEnv = "AIGEM2_CONFIG"
)

// Paths contains the per-user application paths.
// The activation record is not here: its location is platform specific and
// deliberately separate from the application directory.
type Paths struct {
	AppDir     string
	LogsDir    string
	CacheDir   string
	ConfigFile string
}

// GetPaths resolves the application paths under the user's home directory.
// AIGEM2_HOME relocates the whole tree and AIGEM2_CONFIG points at a specific config file.
func GetPaths() (*Paths, error) {
	appDir := os.Getenv(homeEnv)
	if appDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		appDir = filepath.Join(home, AppDirName)
	}

	configFile := os.Getenv(configFileEnv)
	if configFile == "" {
		configFile = filepath.Join(appDir, "config.yaml")
	}

	return &Paths{
		AppDir:     appDir,
		LogsDir:    filepath.Join(appDir, "logs"),
		CacheDir:   filepath.Join(appDir, "cache"),
		ConfigFile: configFile,
	}, nil
}

// EnsureDirectories creates the application directories if they don't exist
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.AppDir, p.LogsDir, p.CacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		slog.Debug("Ensured directory exists", slog.String("directory", dir))
	}
	return nil
}

// LogFile returns the default log file path.
func (p *Paths) LogFile() string {
	return filepath.Join(p.LogsDir, "license.log")
}

// GetCachePath returns the path for a cache file
func (p *Paths) GetCachePath(filename string) string {
	return filepath.Join(p.CacheDir, filename)
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
