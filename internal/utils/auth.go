package utils

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Argon2id parameters for turning a passphrase into a sealing key.
const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4
)

const sealedPrefix = "xc20p$"

var credentialKeySalt = []byte("sqlgateway/credential-key/v1")

// DeriveCredentialKey accepts either a base64 encoded 32 byte key or a
// passphrase, which is stretched with Argon2id.
func DeriveCredentialKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, errors.New("credential key is empty")
	}

	if raw, err := base64.StdEncoding.DecodeString(secret); err == nil && len(raw) == chacha20poly1305.KeySize {
		return raw, nil
	}

	return argon2.IDKey([]byte(secret), credentialKeySalt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize), nil
}

// CredentialSealer encrypts credential URIs before they reach the catalog.
type CredentialSealer struct {
	aead cipher.AEAD
}

func NewCredentialSealer(key []byte) (*CredentialSealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init credential cipher: %w", err)
	}
	return &CredentialSealer{aead: aead}, nil
}

// Seal returns xc20p$<base64(nonce|ciphertext)>.
func (s *CredentialSealer) Seal(plain string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := s.aead.Seal(nonce, nonce, []byte(plain), nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

func (s *CredentialSealer) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return "", errors.New("invalid sealed credential format")
	}

	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return "", errors.New("invalid sealed credential encoding")
	}
	if len(raw) < s.aead.NonceSize() {
		return "", errors.New("sealed credential too short")
	}

	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.New("failed to open sealed credential")
	}

	return string(plain), nil
}
