// Package downloadtoken signs short-lived links to export artifacts.
package downloadtoken

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer   = "patientforms"
	audience = "artifact-download"
)

var ErrInvalidToken = errors.New("invalid download token")

// Claims binds a token to a single artifact.
type Claims struct {
	jwt.RegisteredClaims
	ArtifactID string `json:"aid"`
	FileName   string `json:"fn,omitempty"`
}

// Signer issues and verifies HS256 download tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner returns a Signer. An empty secret is replaced by a random one,
// which means tokens do not survive a restart.
func NewSigner(secret []byte, ttl time.Duration) (*Signer, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("download token ttl must be positive")
	}
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate download token secret: %w", err)
		}
	}
	return &Signer{secret: secret, ttl: ttl, now: time.Now}, nil
}

// Issue returns a token for artifactID and its expiry.
func (s *Signer) Issue(artifactID, fileName, subject string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		ArtifactID: artifactID,
		FileName:   fileName,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign download token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, issuer, audience and expiry and returns the
// artifact ID the token grants.
func (s *Signer) Verify(token string) (string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ArtifactID == "" {
		return "", ErrInvalidToken
	}
	return claims.ArtifactID, nil
}
