//go:build !darwin

package config

import (
	"os"
	"path/filepath"
)

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "aigw-data"
		}
	}
	return filepath.Join(dir, "aigw")
}

func apiKeyHint() string {
	return " or secrets file " + secretsFilePath() + " (service: aigw, account: cloud_api_key)"
}

func newPlatformBackend(path string) (ConfigBackend, error) {
	if path == "" {
		path = configFilePath()
	}
	return newFileBackend(path)
}
