// Package signer computes the keyed message-authentication codes that
// accompany registration and ingest requests. Signatures are HMAC-SHA256
// hex digests over a shared secret provisioned at install time.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// DefaultSecretPath is where the provisioning step drops the shared secret.
const DefaultSecretPath = "/app/.internal/secret.bin"

// Signer signs registration and ingest messages with a shared secret.
type Signer struct {
	secret []byte
}

// New creates a Signer from a non-empty secret string.
func New(secret string) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("signer: empty secret")
	}
	return &Signer{secret: []byte(secret)}, nil
}

// LoadSecret reads the shared secret from path. A missing or empty secret
// is fatal for the caller: no network activity may start without it.
func LoadSecret(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("shared secret missing at %s: %w", path, err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("shared secret at %s is empty", path)
	}
	return secret, nil
}

// NewNonce returns a fresh random nonce for a single registration attempt.
// 16 random bytes, rendered as a UUID string.
func NewNonce() string {
	return uuid.NewString()
}

// Registration signs device_name‖nonce for a registration request.
func (s *Signer) Registration(deviceName, nonce string) string {
	return s.sign(deviceName + nonce)
}

// Ingest signs device_id‖timestamp for an ingest request. The timestamp
// must be the exact string embedded in the payload so the signature is
// bound to that specific message.
func (s *Signer) Ingest(deviceID, timestampISO string) string {
	return s.sign(deviceID + timestampISO)
}

func (s *Signer) sign(message string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
