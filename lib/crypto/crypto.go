package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12
)

var (
	ErrHexDecode        = errors.New("hex decode failed")
	ErrInvalidKeyLength = errors.New("invalid key length")
	ErrCipher           = errors.New("aes-gcm operation failed")
)

// Encrypt seals plaintext under the given hex-encoded 32-byte key with
// AES-256-GCM. A fresh 12-byte nonce is drawn from crypto/rand on every
// call. Returns the nonce and ciphertext hex-encoded.
func Encrypt(plaintext []byte, hexKey string) (string, string, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return "", "", fmt.Errorf("%w: key: %v", ErrHexDecode, err)
	}
	if len(key) != KeySize {
		return "", "", fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKeyLength, KeySize, len(key))
	}

	aead, err := newGCM(key)
	if err != nil {
		return "", "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrCipher, err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	return hex.EncodeToString(nonce), hex.EncodeToString(ciphertext), nil
}

// Decrypt opens a hex-encoded nonce/ciphertext pair. Authentication
// failure (tampered data or wrong key) returns ErrCipher and no output.
func Decrypt(nonceHex, ciphertextHex, hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: key: %v", ErrHexDecode, err)
	}
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrHexDecode, err)
	}
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrHexDecode, err)
	}

	if len(key) != KeySize || len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: key %d bytes, nonce %d bytes", ErrInvalidKeyLength, len(key), len(nonce))
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrCipher
	}

	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipher, err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipher, err)
	}

	return aead, nil
}
