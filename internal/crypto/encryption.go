// Package crypto provides the encryption, signing, hashing and
// sanitization boundary for the alarm storage layer.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	apperrors "github.com/alarmvault/alarmvault/internal/errors"
	"golang.org/x/crypto/argon2"
)

// Argon2 parameters (OWASP recommended for 2023)
const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
	argon2KeyLen  = 32 // AES-256
	saltLen       = 16
	nonceLen      = 12 // GCM standard nonce size

	deviceSecretLen = 32
	keyCacheSize    = 16
)

// EncryptedData holds encrypted data with its encryption parameters
type EncryptedData struct {
	// Version allows future algorithm changes
	Version int `json:"version"`
	// Salt for key derivation
	Salt string `json:"salt"`
	// Nonce for AES-GCM
	Nonce string `json:"nonce"`
	// Ciphertext is the encrypted data
	Ciphertext string `json:"ciphertext"`
}

// DeriveKey derives an AES-256 key from a secret using Argon2id
func DeriveKey(secret string, salt []byte) []byte {
	return argon2.IDKey(
		[]byte(secret),
		salt,
		argon2Time,
		argon2Memory,
		argon2Threads,
		argon2KeyLen,
	)
}

// Encryptor seals and opens opaque payload strings with a device
// secret. The durable store only ever sees Encryptor output.
type Encryptor struct {
	secret string

	// Derived keys are cached per salt. The primary blob keeps its
	// salt until the next write, and the monitor re-reads it every
	// cycle, so decryption hits the cache while Argon2id stays slow
	// for an attacker.
	mu       sync.Mutex
	keyCache map[string][]byte
	keyOrder []string
}

// NewEncryptor creates an encryptor from a device secret
func NewEncryptor(secret string) (*Encryptor, error) {
	if secret == "" {
		return nil, fmt.Errorf("device secret is empty")
	}
	return &Encryptor{
		secret:   secret,
		keyCache: make(map[string][]byte, keyCacheSize),
	}, nil
}

// GenerateDeviceSecret creates a new random device secret, hex encoded
func GenerateDeviceSecret() (string, error) {
	buf := make([]byte, deviceSecretLen)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("failed to generate device secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// LoadOrCreateDeviceSecret reads the device secret file, creating it
// on first run.
func LoadOrCreateDeviceSecret(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("device secret file %s is empty", path)
		}
		return secret, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	secret, err := GenerateDeviceSecret()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(secret+"\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to write device secret: %w", err)
	}
	return secret, nil
}

func (e *Encryptor) cachedKey(saltB64 string, salt []byte) []byte {
	e.mu.Lock()
	if key, ok := e.keyCache[saltB64]; ok {
		e.mu.Unlock()
		return key
	}
	e.mu.Unlock()

	// Derive outside the lock; Argon2id takes real time
	key := DeriveKey(e.secret, salt)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.keyCache[saltB64]; !ok {
		if len(e.keyOrder) >= keyCacheSize {
			oldest := e.keyOrder[0]
			e.keyOrder = e.keyOrder[1:]
			delete(e.keyCache, oldest)
		}
		e.keyCache[saltB64] = key
		e.keyOrder = append(e.keyOrder, saltB64)
	}
	return key
}

// Encrypt marshals v to JSON and seals it into an opaque string
// suitable for the durable key-value store.
func (e *Encryptor) Encrypt(v interface{}) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	saltB64 := base64.StdEncoding.EncodeToString(salt)

	key := e.cachedKey(saltB64, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	envelope := EncryptedData{
		Version:    1,
		Salt:       saltB64,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}
	blob, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt opens an opaque string produced by Encrypt and unmarshals
// the plaintext into out. Any tampered or garbage input fails with
// ErrDecryptionFailure.
func (e *Encryptor) Decrypt(blob string, out interface{}) error {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return fmt.Errorf("%w: malformed envelope encoding", apperrors.ErrDecryptionFailure)
	}

	var envelope EncryptedData
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("%w: malformed envelope", apperrors.ErrDecryptionFailure)
	}
	if envelope.Version != 1 {
		return fmt.Errorf("%w: unsupported version %d", apperrors.ErrDecryptionFailure, envelope.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(envelope.Salt)
	if err != nil || len(salt) != saltLen {
		return fmt.Errorf("%w: malformed salt", apperrors.ErrDecryptionFailure)
	}
	nonce, err := base64.StdEncoding.DecodeString(envelope.Nonce)
	if err != nil || len(nonce) != nonceLen {
		return fmt.Errorf("%w: malformed nonce", apperrors.ErrDecryptionFailure)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(envelope.Ciphertext)
	if err != nil {
		return fmt.Errorf("%w: malformed ciphertext", apperrors.ErrDecryptionFailure)
	}

	key := e.cachedKey(envelope.Salt, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("%w: cipher setup failed", apperrors.ErrDecryptionFailure)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("%w: cipher setup failed", apperrors.ErrDecryptionFailure)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return apperrors.ErrDecryptionFailure
	}

	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: payload unmarshal failed", apperrors.ErrDecryptionFailure)
	}
	return nil
}
