// Package secrets encrypts the values that must never be stored in the clear:
// loader SQL and source database passwords.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	versionPrefix = "v1:"
)

var (
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
	ErrNoKey               = errors.New("no encryption key configured")
)

// Codec seals and opens strings with AES-256-GCM. Ciphertexts are
// self-describing: "v1:" + base64(nonce || sealed).
type Codec struct {
	aead cipher.AEAD
}

func NewCodec(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Codec{aead: aead}, nil
}

// NewCodecFromConfig resolves the key from an inline hex string, a key file,
// or the SIGFLOW_ENCRYPTION_KEY environment variable, in that order.
func NewCodecFromConfig(keyHex, keyFile string) (*Codec, error) {
	switch {
	case keyHex != "":
	case keyFile != "":
		b, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("reading encryption key file: %w", err)
		}
		keyHex = strings.TrimSpace(string(b))
	default:
		keyHex = os.Getenv("SIGFLOW_ENCRYPTION_KEY")
	}
	if keyHex == "" {
		return nil, ErrNoKey
	}

	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	return NewCodec(key)
}

// Disabled returns a codec without a key. Every encrypt or decrypt fails
// with ErrNoKey; a deployment that never touches encrypted fields can run
// without configuring one.
func Disabled() *Codec {
	return &Codec{}
}

// GenerateKey returns a fresh random AES-256 key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

func (c *Codec) EncryptString(plain string) (string, error) {
	if c.aead == nil {
		return "", ErrNoKey
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return versionPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Codec) DecryptString(enc string) (string, error) {
	if c.aead == nil {
		return "", ErrNoKey
	}
	raw, ok := strings.CutPrefix(enc, versionPrefix)
	if !ok {
		return "", fmt.Errorf("%w: missing %q prefix", ErrMalformedCiphertext, versionPrefix)
	}
	sealed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrMalformedCiphertext, err)
	}
	if len(sealed) < c.aead.NonceSize() {
		return "", fmt.Errorf("%w: too short", ErrMalformedCiphertext)
	}
	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrMalformedCiphertext, err)
	}
	return string(plain), nil
}
