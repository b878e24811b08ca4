package crypto

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// GenerateKeyPair generates a new Ed25519 key pair
func GenerateKeyPair() (publicKey, privateKey []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return pub, priv, nil
}

// Sign signs a message with an Ed25519 private key
func Sign(privateKey, message []byte) ([]byte, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid private key size")
	}
	return ed25519.Sign(privateKey, message), nil
}

// Verify verifies a signature against a public key and message
func Verify(publicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, message, signature)
}

// KeyID generates a deterministic identifier from a public key.
// Returns the first 16 hex characters of SHA256(publicKey).
func KeyID(publicKey []byte) string {
	hash := sha256.Sum256(publicKey)
	return hex.EncodeToString(hash[:8])
}

// Signer holds the device signing key pair and produces the payload
// signatures the storage layer verifies on every read.
type Signer struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// NewSigner generates a fresh signing key pair
func NewSigner() (*Signer, error) {
	pub, priv, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Signer{pub: pub, priv: priv}, nil
}

// LoadSigner reads a hex-encoded private key from disk
func LoadSigner(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	priv, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid signing key encoding: %w", err)
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid signing key size: expected %d, got %d", ed25519.PrivateKeySize, len(priv))
	}
	key := ed25519.PrivateKey(priv)
	return &Signer{
		pub:  key.Public().(ed25519.PublicKey),
		priv: key,
	}, nil
}

// LoadOrCreateSigner loads the signing key, generating one on first run
func LoadOrCreateSigner(path string) (*Signer, error) {
	s, err := LoadSigner(path)
	if err == nil {
		return s, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	s, err = NewSigner()
	if err != nil {
		return nil, err
	}
	if err := s.Save(path); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes the private key to disk, hex encoded, owner-readable only
func (s *Signer) Save(path string) error {
	return os.WriteFile(path, []byte(hex.EncodeToString(s.priv)+"\n"), 0600)
}

// SignMessage signs a canonical byte form and returns a base64 signature
func (s *Signer) SignMessage(message []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.priv, message))
}

// VerifyMessage checks a base64 signature over a canonical byte form
func (s *Signer) VerifyMessage(message []byte, signature string) bool {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return Verify(s.pub, message, sig)
}

// KeyID returns the identifier of the signing key, for status output
// and log fields.
func (s *Signer) KeyID() string {
	return KeyID(s.pub)
}

// PublicKey returns the raw public key bytes
func (s *Signer) PublicKey() []byte {
	out := make([]byte, len(s.pub))
	copy(out, s.pub)
	return out
}

// MACKey derives a named HMAC subkey from the signing key seed.
// Backup records carry a MAC so slot tampering is caught before the
// full decrypt-and-verify pass runs.
func (s *Signer) MACKey(purpose string) []byte {
	mac := hmac.New(sha256.New, s.priv.Seed())
	mac.Write([]byte("alarmvault/" + purpose))
	return mac.Sum(nil)
}

// ComputeMAC produces an HMAC-SHA256 tag, hex encoded
func ComputeMAC(key, message []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyMAC checks an HMAC-SHA256 tag in constant time
func VerifyMAC(key, message []byte, tag string) bool {
	expected, err := hex.DecodeString(tag)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return hmac.Equal(mac.Sum(nil), expected)
}
