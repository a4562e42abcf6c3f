// Package secure decrypts contact data stored encrypted at rest.
package secure

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidKey        = errors.New("secure: key must be 16, 24 or 32 bytes")
	ErrInvalidCiphertext = errors.New("secure: invalid ciphertext")
	ErrInvalidPadding    = errors.New("secure: invalid padding")
)

// PhoneCipher encrypts phone numbers with AES in ECB mode and PKCS#7 padding,
// base64 encoded. This matches the format the account service writes.
type PhoneCipher struct {
	block cipher.Block
}

// NewPhoneCipher creates a cipher from a raw key string.
func NewPhoneCipher(key string) (*PhoneCipher, error) {
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &PhoneCipher{block: block}, nil
}

// Decrypt returns the plain phone number for a stored value.
func (c *PhoneCipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}

	bs := c.block.BlockSize()
	if len(raw) == 0 || len(raw)%bs != 0 {
		return "", ErrInvalidCiphertext
	}

	out := make([]byte, len(raw))
	for i := 0; i < len(raw); i += bs {
		c.block.Decrypt(out[i:i+bs], raw[i:i+bs])
	}

	plain, err := unpad(out, bs)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Encrypt is the inverse of Decrypt. Used by seeding tools and tests.
func (c *PhoneCipher) Encrypt(plain string) string {
	bs := c.block.BlockSize()
	padded := pad([]byte(plain), bs)

	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += bs {
		c.block.Encrypt(out[i:i+bs], padded[i:i+bs])
	}
	return base64.StdEncoding.EncodeToString(out)
}

func pad(b []byte, bs int) []byte {
	n := bs - len(b)%bs
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, bs int) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > bs || n > len(b) {
		return nil, ErrInvalidPadding
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, ErrInvalidPadding
		}
	}
	return b[:len(b)-n], nil
}
