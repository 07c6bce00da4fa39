package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	appDirName     = ".autoboard"
	dataDirEnv     = "AUTOBOARD_HOME"
	configFileName = "config"
	configFileType = "toml"
)

// DataDir returns the base data directory for Autoboard.
func DataDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv(dataDirEnv)); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, appDirName), nil
}

// CoreConfigPath returns the path to the daemon configuration file.
func CoreConfigPath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, configFileName+"."+configFileType), nil
}

// SQLitePath returns the default sqlite database location.
func SQLitePath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "autoboard.db"), nil
}

// BboltPath returns the default bbolt database location.
func BboltPath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "autoboard.bolt"), nil
}

// DaemonLogPath returns the log file used by `serve --background`.
func DaemonLogPath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "daemon.log"), nil
}
