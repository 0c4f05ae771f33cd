package application

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const (
	// AppName is the application name used for directories and identification
	AppName = "deploywatch"

	// Namespace prefixes every persisted key space owned by the application
	Namespace = "deploywatch"

	// SchemaVersion is the current version of the persisted local state
	SchemaVersion = 2

	// HomeEnv overrides the application directory
	HomeEnv = "DEPLOYWATCH_HOME"
)

var (
	once   sync.Once
	appDir string
	errDir error
)

// GetApplicationDirectory returns the deploywatch configuration directory path.
// Linux: ~/.config/deploywatch (via os.UserConfigDir)
// Windows: C:\Users\{username}\AppData\Local\deploywatch (via os.UserCacheDir)
// DEPLOYWATCH_HOME takes precedence when set.
func GetApplicationDirectory() (string, error) {
	once.Do(lazyLoad)

	if errDir != nil {
		return "", errDir
	}

	return appDir, nil
}

// EnsureApplicationDirectory returns the application directory, creating it if needed.
func EnsureApplicationDirectory() (string, error) {
	dir, err := GetApplicationDirectory()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create application directory: %w", err)
	}

	return dir, nil
}

func lazyLoad() {
	if home := os.Getenv(HomeEnv); home != "" {
		appDir = home
		return
	}

	var (
		baseDir string
		err     error
	)

	switch runtime.GOOS {
	case "windows":
		// Windows: use AppData\Local (via UserCacheDir)
		baseDir, err = os.UserCacheDir()
	default:
		// Linux/others: use ~/.config (via UserConfigDir)
		baseDir, err = os.UserConfigDir()
	}

	if err != nil {
		errDir = fmt.Errorf("failed to get config directory: %w", err)
		return
	}

	appDir = filepath.Join(baseDir, AppName)
}
