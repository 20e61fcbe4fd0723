package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Mutex for thread-safe file operations
var fileMutex sync.Mutex

// WriteDefault writes the default settings to path, or to the settings file
// in the config directory when path is empty. It returns the written path.
func WriteDefault(path string) (string, error) {
	if path == "" {
		p, err := GetSettingsPath()
		if err != nil {
			return "", fmt.Errorf("failed to get settings path: %w", err)
		}
		path = p
	}
	d := Defaults()
	return path, Save(&d, path)
}

// Save writes s as YAML to path.
// Performs an atomic write to prevent corruption on crash.
func Save(s *Settings, path string) error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	if path == "" {
		p, err := GetSettingsPath()
		if err != nil {
			return fmt.Errorf("failed to get settings path: %w", err)
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	header := []byte(`# Sensor node runtime settings
# Every key can be overridden with an environment variable, e.g.
# SENSORNODE_MQTT_BROKER=tcp://broker:1883
#
# The node record (name, keys, mesh parameters) is not stored here.
# Use "sensornode config show" to inspect it.
#
# Location: ` + path + `

`)
	data = append(header, data...)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary settings file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save settings file: %w", err)
	}

	return nil
}
