// Package env reads service configuration from the process environment.
// Only the getters this service actually consumes live here.
package env

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
)

// GetString returns the variable's value, or fallback when unset or empty
func GetString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// GetInt returns the variable parsed as an integer, or fallback when unset
// or unparseable
func GetInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// GetStringFromFile resolves key with Docker-secret support: when KEY_FILE
// names a readable file its trimmed contents win, otherwise the plain
// environment variable is used.
func GetStringFromFile(key, fallback string) string {
	if path := os.Getenv(key + "_FILE"); path != "" {
		if content, err := os.ReadFile(filepath.Clean(path)); err == nil {
			return string(bytes.TrimSpace(content))
		}
	}
	return GetString(key, fallback)
}
