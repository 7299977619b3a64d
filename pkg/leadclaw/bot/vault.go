// Package bot – vault.go provides encrypted credential storage using
// AES-256-GCM with Argon2id key derivation. Secrets live in a local file
// (.leadclaw.vault) that is unreadable without the master password.
//
// The master password is never stored. Only the derived key exists in
// memory, and only while the vault is unlocked.
package bot

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/term"
)

const (
	// VaultFile is the default vault file name.
	VaultFile = ".leadclaw.vault"

	// Argon2id parameters (OWASP recommended).
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32 // AES-256

	// saltLen is the length of the random salt for Argon2.
	saltLen = 16

	// verifyEntry is the internal entry used to detect a wrong password.
	verifyEntry = "__verify__"
)

// VaultEntry holds one encrypted secret.
type VaultEntry struct {
	Nonce      string `json:"nonce"`      // base64-encoded AES-GCM nonce
	Ciphertext string `json:"ciphertext"` // base64-encoded encrypted data
}

// VaultData is the on-disk format of the vault.
type VaultData struct {
	Version int                   `json:"version"`
	Salt    string                `json:"salt"` // base64-encoded Argon2 salt
	Entries map[string]VaultEntry `json:"entries"`
}

// Vault provides encrypted secret storage backed by a local file.
type Vault struct {
	path       string
	data       *VaultData
	derivedKey []byte // 32-byte AES key, only in memory while unlocked
	mu         sync.RWMutex
}

// NewVault creates a vault instance pointing to the given file path.
// The vault is not yet unlocked. Call Unlock() or Create() first.
func NewVault(path string) *Vault {
	return &Vault{path: path}
}

// Exists returns true if the vault file exists on disk.
func (v *Vault) Exists() bool {
	_, err := os.Stat(v.path)
	return err == nil
}

// Path returns the vault file path.
func (v *Vault) Path() string {
	return v.path
}

// IsUnlocked returns true if the vault has been unlocked with a password.
func (v *Vault) IsUnlocked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.derivedKey != nil
}

// Create initializes a new vault with the given master password.
// If the vault file already exists, it returns an error.
func (v *Vault) Create(password string) error {
	if v.Exists() {
		return fmt.Errorf("vault already exists at %s", v.path)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.derivedKey = deriveKey(password, salt)
	v.data = &VaultData{
		Version: 1,
		Salt:    base64.StdEncoding.EncodeToString(salt),
		Entries: make(map[string]VaultEntry),
	}

	return v.saveLocked()
}

// Unlock decrypts and loads the vault using the provided master password.
// A wrong password fails on the verification entry.
func (v *Vault) Unlock(password string) error {
	raw, err := os.ReadFile(v.path)
	if err != nil {
		return fmt.Errorf("reading vault: %w", err)
	}

	var data VaultData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parsing vault: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(data.Salt)
	if err != nil {
		return fmt.Errorf("decoding salt: %w", err)
	}

	key := deriveKey(password, salt)

	if verify, ok := data.Entries[verifyEntry]; ok {
		if _, err := decryptEntry(key, verify); err != nil {
			return fmt.Errorf("wrong password")
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.derivedKey = key
	v.data = &data

	return nil
}

// Lock clears the derived key from memory, locking the vault.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()

	// Zero out the key before discarding.
	if v.derivedKey != nil {
		for i := range v.derivedKey {
			v.derivedKey[i] = 0
		}
	}
	v.derivedKey = nil
}

// Set stores a secret in the vault (encrypted). The vault must be unlocked.
func (v *Vault) Set(name, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.derivedKey == nil {
		return fmt.Errorf("vault is locked")
	}

	entry, err := encryptEntry(v.derivedKey, []byte(value))
	if err != nil {
		return fmt.Errorf("encrypting %s: %w", name, err)
	}

	v.data.Entries[name] = entry

	// Ensure we have a verification entry.
	if _, ok := v.data.Entries[verifyEntry]; !ok {
		ve, _ := encryptEntry(v.derivedKey, []byte("leadclaw-vault-ok"))
		v.data.Entries[verifyEntry] = ve
	}

	return v.saveLocked()
}

// Get retrieves and decrypts a secret from the vault. Returns empty string
// if the key doesn't exist. The vault must be unlocked.
func (v *Vault) Get(name string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.derivedKey == nil {
		return "", fmt.Errorf("vault is locked")
	}

	entry, ok := v.data.Entries[name]
	if !ok {
		return "", nil
	}

	plaintext, err := decryptEntry(v.derivedKey, entry)
	if err != nil {
		return "", fmt.Errorf("decrypting %s: %w", name, err)
	}

	return string(plaintext), nil
}

// Delete removes a secret from the vault. The vault must be unlocked.
func (v *Vault) Delete(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.derivedKey == nil {
		return fmt.Errorf("vault is locked")
	}

	delete(v.data.Entries, name)
	return v.saveLocked()
}

// List returns the names of all stored secrets (excluding internal
// entries). Returns nil if the vault is locked.
func (v *Vault) List() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.derivedKey == nil || v.data == nil {
		return nil
	}

	var keys []string
	for k := range v.data.Entries {
		if k == verifyEntry {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

// ---------- Internal ----------

// deriveKey uses Argon2id to derive a 32-byte AES key from a password and salt.
func deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey(
		[]byte(password),
		salt,
		argonTime,
		argonMemory,
		argonThreads,
		argonKeyLen,
	)
}

// encryptEntry encrypts plaintext using AES-256-GCM with a random nonce.
func encryptEntry(key, plaintext []byte) (VaultEntry, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return VaultEntry{}, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return VaultEntry{}, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return VaultEntry{}, err
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	return VaultEntry{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// decryptEntry decrypts a VaultEntry using AES-256-GCM.
func decryptEntry(key []byte, entry VaultEntry) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(entry.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decoding nonce: %w", err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(entry.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong password?)")
	}

	return plaintext, nil
}

// saveLocked writes the vault to disk. Caller must hold v.mu.
func (v *Vault) saveLocked() error {
	data, err := json.MarshalIndent(v.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling vault: %w", err)
	}

	// Write with restricted permissions (owner read/write only).
	if err := os.WriteFile(v.path, data, 0o600); err != nil {
		return fmt.Errorf("writing vault: %w", err)
	}

	return nil
}

// ReadPassword reads a password from the terminal without echoing.
// Falls back to regular stdin reading if terminal is not available.
func ReadPassword(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := int(os.Stdin.Fd())
	password, err := term.ReadPassword(fd)
	if err != nil {
		// Fallback: read from stdin (with echo, for piped input or non-TTY).
		var buf [1024]byte
		n, readErr := os.Stdin.Read(buf[:])
		if readErr != nil {
			return "", fmt.Errorf("reading password: %w", readErr)
		}
		password = buf[:n]
	}

	fmt.Println() // Move to next line after hidden input.

	s := string(password)
	s = trimNewlines(s)
	return s, nil
}

// trimNewlines removes trailing \n and \r from a string.
func trimNewlines(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
