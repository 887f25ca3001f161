// Package cipher provides reversible encryption for credentials at rest.
//
// Values are encoded as hex(iv):hex(ciphertext) using AES-256-CBC with
// PKCS#7 padding. Values without the separator are treated as legacy
// plaintext and returned unchanged by Decrypt.
package cipher

import (
	"bytes"
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/artpar/netbill/ports"
	"golang.org/x/crypto/scrypt"
)

// Separator splits the iv from the ciphertext.
const Separator = ":"

const keySize = 32

var salt = []byte("netbill-credential-cipher")

// ErrNoKey is returned when no encryption key is configured.
var ErrNoKey = errors.New("cipher: encryption key is required")

// AES encrypts with AES-256-CBC.
type AES struct {
	key []byte
}

// New builds a cipher from key material. A 64-character hex string or a
// 32-byte string is used as the raw key; anything else is treated as a
// passphrase and stretched with scrypt.
func New(keyMaterial string) (*AES, error) {
	if keyMaterial == "" {
		return nil, ErrNoKey
	}
	key, err := deriveKey(keyMaterial)
	if err != nil {
		return nil, err
	}
	return &AES{key: key}, nil
}

func deriveKey(material string) ([]byte, error) {
	if len(material) == 2*keySize {
		if raw, err := hex.DecodeString(material); err == nil {
			return raw, nil
		}
	}
	if len(material) == keySize {
		return []byte(material), nil
	}
	key, err := scrypt.Key([]byte(material), salt, 1<<15, 8, 1, keySize)
	if err != nil {
		return nil, fmt.Errorf("cipher: derive key: %w", err)
	}
	return key, nil
}

// Encrypt returns hex(iv):hex(ciphertext). Empty input yields empty output.
func (c *AES) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("cipher: generate iv: %w", err)
	}

	padded := pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	gocipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return hex.EncodeToString(iv) + Separator + hex.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Values not in the encrypted format, including
// the empty string, are returned unchanged.
func (c *AES) Decrypt(value string) (string, error) {
	if !c.IsEncrypted(value) {
		return value, nil
	}
	ivHex, ctHex, _ := strings.Cut(value, Separator)
	iv, _ := hex.DecodeString(ivHex)
	ct, _ := hex.DecodeString(ctHex)

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("cipher: %w", err)
	}
	out := make([]byte, len(ct))
	gocipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)

	plain, err := unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// IsEncrypted reports whether value has the hex(iv):hex(ciphertext) shape.
func (c *AES) IsEncrypted(value string) bool {
	return IsEncrypted(value)
}

// IsEncrypted reports whether value has the hex(iv):hex(ciphertext) shape.
func IsEncrypted(value string) bool {
	ivHex, ctHex, ok := strings.Cut(value, Separator)
	if !ok || len(ivHex) != 2*aes.BlockSize || ctHex == "" {
		return false
	}
	if len(ctHex)%(2*aes.BlockSize) != 0 {
		return false
	}
	if _, err := hex.DecodeString(ivHex); err != nil {
		return false
	}
	_, err := hex.DecodeString(ctHex)
	return err == nil
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errors.New("cipher: invalid ciphertext length")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errors.New("cipher: invalid padding")
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, errors.New("cipher: invalid padding")
		}
	}
	return b[:len(b)-n], nil
}

// Ensure interface compliance.
var _ ports.Cipher = (*AES)(nil)

// Plain stores values unchanged (for tests and unkeyed development setups).
type Plain struct{}

// Encrypt returns plaintext unchanged.
func (Plain) Encrypt(plaintext string) (string, error) { return plaintext, nil }

// Decrypt returns value unchanged.
func (Plain) Decrypt(value string) (string, error) { return value, nil }

// IsEncrypted always reports false.
func (Plain) IsEncrypted(string) bool { return false }

var _ ports.Cipher = Plain{}
