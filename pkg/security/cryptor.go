package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// ErrDecrypt indicates an encoded secret could not be opened with the key
var ErrDecrypt = errors.New("failed to decode secret")

// Cryptor encodes secrets (array passwords, SNMP communities) before they are
// persisted. The encoded form is base64 of nonce followed by the secretbox.
type Cryptor struct {
	key [32]byte
}

// NewCryptor derives a secretbox key from key material of any length
func NewCryptor(material []byte) (*Cryptor, error) {
	if len(material) == 0 {
		return nil, errors.New("empty encryption key")
	}
	return &Cryptor{key: sha256.Sum256(material)}, nil
}

// LoadCryptor reads key material from path. Surrounding whitespace is ignored.
func LoadCryptor(path string) (*Cryptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read encryption key: %w", err)
	}
	return NewCryptor([]byte(strings.TrimSpace(string(data))))
}

// Encode seals plaintext
func (c *Cryptor) Encode(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &c.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decode opens a value produced by Encode
func (c *Cryptor) Decode(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(sealed) < nonceSize+secretbox.Overhead {
		return "", fmt.Errorf("%w: value too short", ErrDecrypt)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &c.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}
