// Package bot – keyring.go provides secure credential storage using the
// operating system's native keyring (Linux: Secret Service/GNOME Keyring,
// macOS: Keychain, Windows: Credential Manager).
//
// Priority for resolving secrets:
//  1. Encrypted vault (.leadclaw.vault — AES-256-GCM + Argon2, requires master password)
//  2. OS keyring (encrypted by the OS, requires user session)
//  3. Environment variable (LEADCLAW_API_KEY, OPENAI_API_KEY)
//  4. .env file (loaded by godotenv)
//  5. config.yaml value (least secure — plaintext on disk)
package bot

import (
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "leadclaw"

	// keyringAPIKey is the key name for the agent API key.
	keyringAPIKey = "api_key"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	// Try a write+delete cycle with a test key.
	testKey := "__leadclaw_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveAPIKey resolves the API key using the priority chain:
// vault → keyring → env var → config value.
// Updates the config in-place with the resolved value.
// If a vault exists but is locked, it prompts for the master password.
func ResolveAPIKey(cfg *Config, logger *slog.Logger) {
	// 1. Encrypted vault (password-protected).
	vault := NewVault(VaultFile)
	if vault.Exists() {
		if !vault.IsUnlocked() {
			password, err := ReadPassword("Vault password: ")
			if err != nil {
				logger.Warn("failed to read vault password", "error", err)
			} else if err := vault.Unlock(password); err != nil {
				logger.Warn("failed to unlock vault", "error", err)
			}
		}

		if vault.IsUnlocked() {
			if val, err := vault.Get(keyringAPIKey); err == nil && val != "" {
				cfg.Agent.APIKey = val
				logger.Debug("API key loaded from encrypted vault")
				vault.Lock()
				return
			}
			vault.Lock()
		}
	}

	// 2. OS keyring (encrypted by the OS).
	if val := GetKeyring(keyringAPIKey); val != "" {
		cfg.Agent.APIKey = val
		logger.Debug("API key loaded from OS keyring")
		return
	}

	// 3. Config already has a resolved value (from env expansion).
	if cfg.Agent.APIKey != "" && !IsEnvReference(cfg.Agent.APIKey) {
		logger.Debug("API key loaded from config/env")
		return
	}

	logger.Warn("no API key found. Set one with: leadclaw config set-key or leadclaw config vault-set")
}

// MigrateKeyToKeyring moves an API key from config/env to the OS keyring.
func MigrateKeyToKeyring(apiKey string, logger *slog.Logger) error {
	if err := StoreKeyring(keyringAPIKey, apiKey); err != nil {
		return fmt.Errorf("storing in keyring: %w", err)
	}
	logger.Info("API key stored in OS keyring",
		"service", keyringService,
		"hint", "You can now remove it from .env and config.yaml")
	return nil
}
