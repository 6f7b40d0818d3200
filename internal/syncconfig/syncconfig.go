// Package syncconfig loads and persists the engine's configuration:
// server endpoint, device identity, and the sync policy knobs.
package syncconfig

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const defaultServerURL = "http://localhost:8080"

// PolicyConfig holds the tunable sync policy values. Zero values fall back
// to engine defaults.
type PolicyConfig struct {
	RetryLimit   int    `json:"retry_limit,omitempty"`
	SyncInterval string `json:"sync_interval,omitempty"` // duration string, default "30s"
	CacheTTL     string `json:"cache_ttl,omitempty"`     // duration string, default "24h"
	// ConflictFields maps a resource kind to the fields that matter for
	// conflict reporting, e.g. {"task": ["title", "status"]}.
	ConflictFields map[string][]string `json:"conflict_fields,omitempty"`
}

// Config is the global offsync config stored at ~/.config/offsync/config.json.
type Config struct {
	ServerURL string       `json:"server_url"`
	APIKey    string       `json:"api_key,omitempty"`
	DeviceID  string       `json:"device_id"`
	Policy    PolicyConfig `json:"policy"`
}

// ConfigDir returns ~/.config/offsync, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "offsync")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// DataDir returns ~/.local/share/offsync, creating it if necessary.
// OFFSYNC_DATA_DIR overrides it.
func DataDir() (string, error) {
	if dir := os.Getenv("OFFSYNC_DATA_DIR"); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("create data dir: %w", err)
		}
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".local", "share", "offsync")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dir, nil
}

// Load reads the config, filling in defaults and generating a device id on
// first use. OFFSYNC_SERVER_URL and OFFSYNC_API_KEY override the file.
func Load() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if cfg.ServerURL == "" {
		cfg.ServerURL = defaultServerURL
	}
	if v := os.Getenv("OFFSYNC_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("OFFSYNC_API_KEY"); v != "" {
		cfg.APIKey = v
	}

	if cfg.DeviceID == "" {
		cfg.DeviceID = generateDeviceID()
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("persist device id: %w", err)
		}
	}
	return cfg, nil
}

// Save writes the config back to disk.
func (c *Config) Save() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// SyncIntervalValue parses the configured interval; zero when unset or
// unparseable.
func (p PolicyConfig) SyncIntervalValue() time.Duration {
	d, err := time.ParseDuration(p.SyncInterval)
	if err != nil {
		return 0
	}
	return d
}

// CacheTTLValue parses the configured cache TTL; zero when unset or
// unparseable.
func (p PolicyConfig) CacheTTLValue() time.Duration {
	d, err := time.ParseDuration(p.CacheTTL)
	if err != nil {
		return 0
	}
	return d
}

func generateDeviceID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "dev-" + time.Now().UTC().Format("20060102150405")
	}
	return "dev-" + hex.EncodeToString(b)
}
