// Package config handles the global fieldsync configuration stored under
// ~/.config/fieldsync/: config.json for settings and auth.json for
// credentials. Environment variables override file values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// SyncSettings holds engine tuning knobs.
type SyncSettings struct {
	Timeout       string `json:"timeout,omitempty"`        // duration string, default "15s"
	MaxRetries    *int   `json:"max_retries,omitempty"`    // nil = default 5
	PullInterval  string `json:"pull_interval,omitempty"`  // duration string, default "1m"
	ProbeInterval string `json:"probe_interval,omitempty"` // duration string, default "30s"
}

// Config is the global config stored at ~/.config/fieldsync/config.json.
type Config struct {
	ServerURL string       `json:"server_url"`
	Sync      SyncSettings `json:"sync"`
}

// AuthCredentials stores authentication state at ~/.config/fieldsync/auth.json.
type AuthCredentials struct {
	APIKey    string `json:"api_key"`
	UserID    string `json:"user_id,omitempty"`
	Email     string `json:"email,omitempty"`
	ServerURL string `json:"server_url,omitempty"`
	DeviceID  string `json:"device_id"`
}

const defaultServerURL = "http://localhost:8080"

// ConfigDir returns ~/.config/fieldsync, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "fieldsync")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// LoadConfig reads the global config. A missing file is an empty config.
func LoadConfig() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfig writes the global config.
func SaveConfig(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// LoadAuth reads auth credentials. Returns nil when not logged in.
func LoadAuth() (*AuthCredentials, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "auth.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// SaveAuth writes auth credentials (0600 perms).
func SaveAuth(creds *AuthCredentials) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "auth.json"), data, 0600)
}

// ClearAuth removes the auth.json file.
func ClearAuth() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, "auth.json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// GetServerURL returns the sync server URL.
// Priority: FIELDSYNC_URL env > config.json > default.
func GetServerURL() string {
	if v := os.Getenv("FIELDSYNC_URL"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.ServerURL != "" {
		return cfg.ServerURL
	}
	return defaultServerURL
}

// GetAPIKey returns the API key.
// Priority: FIELDSYNC_API_KEY env > auth.json.
func GetAPIKey() string {
	if v := os.Getenv("FIELDSYNC_API_KEY"); v != "" {
		return v
	}
	creds, err := LoadAuth()
	if err == nil && creds != nil {
		return creds.APIKey
	}
	return ""
}

// IsAuthenticated returns true if an API key is available.
func IsAuthenticated() bool {
	return GetAPIKey() != ""
}

// GetDeviceID returns the device ID from auth.json, generating and
// persisting one on first use.
func GetDeviceID() (string, error) {
	creds, err := LoadAuth()
	if err != nil {
		return "", err
	}
	if creds != nil && creds.DeviceID != "" {
		return creds.DeviceID, nil
	}
	id := uuid.NewString()
	if creds == nil {
		creds = &AuthCredentials{}
	}
	creds.DeviceID = id
	if err := SaveAuth(creds); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	return id, nil
}

// GetTimeout returns the network timeout for backend calls.
// Priority: FIELDSYNC_TIMEOUT env > config.json sync.timeout > 15s.
func GetTimeout() time.Duration {
	if d := durationEnv("FIELDSYNC_TIMEOUT"); d > 0 {
		return d
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Sync.Timeout); err == nil {
			return d
		}
	}
	return 15 * time.Second
}

// GetMaxRetries returns the attempt ceiling before a mutation dead-letters.
// Priority: FIELDSYNC_MAX_RETRIES env > config.json sync.max_retries > 5.
func GetMaxRetries() int {
	if v := os.Getenv("FIELDSYNC_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.MaxRetries != nil && *cfg.Sync.MaxRetries > 0 {
		return *cfg.Sync.MaxRetries
	}
	return 5
}

// GetPullInterval returns the periodic sync interval for watch mode.
// Priority: FIELDSYNC_PULL_INTERVAL env > config.json sync.pull_interval > 1m.
func GetPullInterval() time.Duration {
	if d := durationEnv("FIELDSYNC_PULL_INTERVAL"); d > 0 {
		return d
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.PullInterval != "" {
		if d, err := time.ParseDuration(cfg.Sync.PullInterval); err == nil {
			return d
		}
	}
	return time.Minute
}

// GetProbeInterval returns the connectivity probe interval.
// Priority: FIELDSYNC_PROBE_INTERVAL env > config.json sync.probe_interval > 30s.
func GetProbeInterval() time.Duration {
	if d := durationEnv("FIELDSYNC_PROBE_INTERVAL"); d > 0 {
		return d
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.ProbeInterval != "" {
		if d, err := time.ParseDuration(cfg.Sync.ProbeInterval); err == nil {
			return d
		}
	}
	return 30 * time.Second
}

// durationEnv parses a duration env var, returning 0 when unset or invalid.
func durationEnv(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}
