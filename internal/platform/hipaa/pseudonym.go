package hipaa

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const pseudonymInfo = "patientforms/record-pseudonym/v1"

var pseudonymEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Pseudonymizer maps record identifiers to stable keyed pseudonyms. The same
// identifier always yields the same pseudonym under the same master key, so
// exports produced at different strictness levels can be joined.
type Pseudonymizer struct {
	key []byte
}

// NewPseudonymizer derives the HMAC key from the master secret using
// HKDF-SHA256.
func NewPseudonymizer(master []byte) (*Pseudonymizer, error) {
	if len(master) == 0 {
		return nil, fmt.Errorf("pseudonymizer: master key is empty")
	}
	h := hkdf.New(sha256.New, master, nil, []byte(pseudonymInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("pseudonymizer: derive key: %w", err)
	}
	return &Pseudonymizer{key: key}, nil
}

// NewEphemeralPseudonymizer uses a random master key. Pseudonyms are only
// stable for the lifetime of the process.
func NewEphemeralPseudonymizer() (*Pseudonymizer, error) {
	master := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, master); err != nil {
		return nil, fmt.Errorf("pseudonymizer: generate master key: %w", err)
	}
	return NewPseudonymizer(master)
}

// Pseudonym returns "P-" followed by 16 base32 characters (80 bits) of
// HMAC-SHA256 over the identifier.
func (p *Pseudonymizer) Pseudonym(id string) string {
	mac := hmac.New(sha256.New, p.key)
	mac.Write([]byte(id))
	sum := mac.Sum(nil)
	return "P-" + strings.ToUpper(pseudonymEncoding.EncodeToString(sum[:10]))
}
