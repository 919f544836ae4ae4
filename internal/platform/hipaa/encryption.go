package hipaa

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// ArtifactCipher seals export artifacts at rest with AES-256-GCM. The nonce
// is prepended to the ciphertext.
type ArtifactCipher struct {
	aead cipher.AEAD
}

// NewArtifactCipher creates a cipher from a 32-byte key.
func NewArtifactCipher(key []byte) (*ArtifactCipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("artifact cipher: key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("artifact cipher: create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("artifact cipher: create GCM: %w", err)
	}

	return &ArtifactCipher{aead: aead}, nil
}

// NewArtifactCipherFromHex decodes a 64-character hex key, as configured in
// HIPAA_ENCRYPTION_KEY.
func NewArtifactCipherFromHex(hexKey string) (*ArtifactCipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("artifact cipher: decode key: %w", err)
	}
	return NewArtifactCipher(key)
}

// EncryptBytes returns nonce || ciphertext.
func (c *ArtifactCipher) EncryptBytes(data []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("artifact encrypt: generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, data, nil), nil
}

// DecryptBytes splits off the nonce and opens the remainder.
func (c *ArtifactCipher) DecryptBytes(data []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("artifact decrypt: ciphertext too short")
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("artifact decrypt: %w", err)
	}
	return plaintext, nil
}
