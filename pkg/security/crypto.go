package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

var (
	keyMu     sync.RWMutex
	key       []byte
	keyLocked bool
)

// SetKeyHex sets the AES-256 cache key from a hex string. An empty
// string clears it.
func SetKeyHex(hexKey string) error {
	keyMu.Lock()
	defer keyMu.Unlock()
	if hexKey == "" {
		clearKeyLocked()
		return nil
	}
	b, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return err
	}
	if l := len(b); l != 32 {
		return errors.New("cache key must be 32 bytes (AES-256)")
	}
	clearKeyLocked()
	key = b
	if err := LockMemory(key); err == nil {
		keyLocked = true
	}
	return nil
}

// SetKeyFile reads the key from a file holding the hex string. The file
// must not be group/other readable.
func SetKeyFile(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cache key file: %w", err)
	}
	if fi.Mode().Perm()&0o077 != 0 {
		return fmt.Errorf("cache key file has permissive mode: %s", path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cache key file: %w", err)
	}
	return SetKeyHex(strings.TrimSpace(string(b)))
}

// ClearKey wipes the in-process key.
func ClearKey() {
	keyMu.Lock()
	defer keyMu.Unlock()
	clearKeyLocked()
}

func clearKeyLocked() {
	if key != nil {
		if keyLocked {
			_ = UnlockMemory(key)
			keyLocked = false
		}
		for i := range key {
			key[i] = 0
		}
	}
	key = nil
}

// Enabled reports whether a cache key is configured.
func Enabled() bool {
	keyMu.RLock()
	defer keyMu.RUnlock()
	return len(key) == 32
}

// Encrypt returns nonce|ciphertext using AES-256-GCM. When no key is
// configured the plaintext is returned unchanged (copy).
func Encrypt(plaintext []byte) ([]byte, error) {
	keyMu.RLock()
	k := key
	keyMu.RUnlock()
	if len(k) != 32 {
		return append([]byte(nil), plaintext...), nil
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	out := gcm.Seal(nil, nonce, plaintext, nil)
	// Prepend nonce for storage
	return append(nonce, out...), nil
}

// Decrypt expects nonce|ciphertext. When no key is configured the input
// is returned unchanged (copy).
func Decrypt(data []byte) ([]byte, error) {
	keyMu.RLock()
	k := key
	keyMu.RUnlock()
	if len(k) != 32 {
		return append([]byte(nil), data...), nil
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	ns := gcm.NonceSize()
	if len(data) < ns {
		return nil, errors.New("ciphertext too short")
	}
	nonce := data[:ns]
	ct := data[ns:]
	return gcm.Open(nil, nonce, ct, nil)
}
