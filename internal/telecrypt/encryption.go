package telecrypt

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/prontivus/telecare/pkg/crypto"
)

const defaultSaltLength = 16

// ChannelCipher encrypts chat messages, room tokens and file keys with a key
// derived once from the deployment encryption key. All sessions in a
// deployment share the same derived key.
type ChannelCipher struct {
	key    []byte
	salt   []byte
	params crypto.Argon2Parameters
}

type cipherConfig struct {
	params crypto.Argon2Parameters
	salt   []byte
}

// Option configures the channel cipher.
type Option func(*cipherConfig)

// WithSalt overrides the salt used for Argon2 key derivation.
func WithSalt(salt []byte) Option {
	cp := make([]byte, len(salt))
	copy(cp, salt)
	return func(cfg *cipherConfig) {
		cfg.salt = cp
	}
}

// WithArgon2Parameters overrides the Argon2 parameters used during key derivation.
func WithArgon2Parameters(params crypto.Argon2Parameters) Option {
	return func(cfg *cipherConfig) {
		cfg.params = params
	}
}

// NewChannelCipher derives an AES key from the deployment key using Argon2id.
func NewChannelCipher(masterKey []byte, opts ...Option) (*ChannelCipher, error) {
	if len(masterKey) == 0 {
		return nil, errors.New("telecrypt: encryption key is required")
	}

	cfg := cipherConfig{
		params: crypto.DefaultArgon2Params(),
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	if len(cfg.salt) == 0 {
		cfg.salt = deriveSalt(masterKey)
	} else if len(cfg.salt) < defaultSaltLength {
		return nil, fmt.Errorf("telecrypt: salt must be at least %d bytes (got %d)", defaultSaltLength, len(cfg.salt))
	}

	derived, err := crypto.DeriveKeyArgon2id(masterKey, cfg.salt, cfg.params)
	if err != nil {
		return nil, fmt.Errorf("telecrypt: derive key: %w", err)
	}

	return &ChannelCipher{
		key:    derived,
		salt:   append([]byte(nil), cfg.salt...),
		params: cfg.params,
	}, nil
}

// Encrypt encrypts plaintext bytes using the derived AES-256-GCM key.
func (c *ChannelCipher) Encrypt(plaintext []byte) (string, error) {
	if len(c.key) == 0 {
		return "", errors.New("telecrypt: key is not initialised")
	}
	return crypto.Encrypt(plaintext, c.key)
}

// Decrypt decrypts an encrypted payload using the derived AES-256-GCM key.
// Undecryptable input yields crypto.ErrCiphertextInvalid.
func (c *ChannelCipher) Decrypt(ciphertext string) ([]byte, error) {
	if len(c.key) == 0 {
		return nil, errors.New("telecrypt: key is not initialised")
	}
	return crypto.Decrypt(ciphertext, c.key)
}

func deriveSalt(masterKey []byte) []byte {
	sum := sha256.Sum256(masterKey)
	return sum[:defaultSaltLength]
}
