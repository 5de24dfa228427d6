// Package config holds engine/task configuration: persisted app settings
// plus the validated EngineConfig/DownloadOptions structs accepted at the
// engine's public surface.
package config

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/falcon-dl/falcon/internal/storage"
)

// Keys for AppSetting rows this package owns.
const (
	KeyEnableIntegrityCheck = "enable_integrity_check"
	KeyUserAgent            = "user_agent"
	KeyAPIToken             = "api_token"
)

// SettingsManager wraps persisted key-value settings with typed
// accessors and sane defaults.
type SettingsManager struct {
	storage *storage.Storage
}

// NewSettingsManager wraps s.
func NewSettingsManager(s *storage.Storage) *SettingsManager {
	return &SettingsManager{storage: s}
}

// GetEnableIntegrityCheck reports whether completed downloads should be
// hash-verified; defaults to true.
func (c *SettingsManager) GetEnableIntegrityCheck() bool {
	val, err := c.storage.GetString(KeyEnableIntegrityCheck)
	if err != nil {
		return true
	}
	return val != "false"
}

// SetEnableIntegrityCheck persists the integrity-check toggle.
func (c *SettingsManager) SetEnableIntegrityCheck(enabled bool) error {
	val := "false"
	if enabled {
		val = "true"
	}
	return c.storage.SetString(KeyEnableIntegrityCheck, val)
}

// GetUserAgent returns the custom User-Agent override, or "" if unset.
func (c *SettingsManager) GetUserAgent() string {
	val, err := c.storage.GetString(KeyUserAgent)
	if err != nil {
		return ""
	}
	return val
}

// SetUserAgent persists a custom User-Agent override.
func (c *SettingsManager) SetUserAgent(ua string) error {
	return c.storage.SetString(KeyUserAgent, ua)
}

// GetOrCreateAPIToken returns a persisted random token, generating one on
// first use.
func (c *SettingsManager) GetOrCreateAPIToken() string {
	val, err := c.storage.GetString(KeyAPIToken)
	if err == nil && val != "" {
		return val
	}
	token := generateSecureToken()
	c.storage.SetString(KeyAPIToken, token)
	return token
}

func generateSecureToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "falcon-fallback-token-change-me"
	}
	return hex.EncodeToString(b)
}

// FactoryReset clears every setting this package owns back to defaults.
func (c *SettingsManager) FactoryReset() error {
	for _, key := range []string{KeyEnableIntegrityCheck, KeyUserAgent, KeyAPIToken} {
		if err := c.storage.SetString(key, ""); err != nil {
			return err
		}
	}
	return nil
}
