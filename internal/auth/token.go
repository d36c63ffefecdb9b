// Package auth issues and verifies identity bearer tokens and provides the
// gin middleware that binds a request to the identity it acts for.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Institute-for-Folly/RECAP/internal/ledger"
)

const tokenType = "identity"

// Claims are the JWT claims of an identity token. Subject is the identity
// in its 0x-hex form.
type Claims struct {
	jwt.RegisteredClaims
	Type string `json:"type"`
}

// Identity parses the subject.
func (c *Claims) Identity() (ledger.Identity, error) {
	return ledger.ParseIdentity(c.Subject)
}

// TokenIssuer issues and verifies HS256 identity tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a TokenIssuer. ttl defaults to 24 hours.
func NewTokenIssuer(secret []byte, issuer string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: secret, issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// TTL returns the lifetime of issued tokens.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }

// Issue creates a signed token for id.
func (t *TokenIssuer) Issue(id ledger.Identity) (string, error) {
	now := t.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   id.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Type: tokenType,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign identity token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an identity token.
func (t *TokenIssuer) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.secret, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("verify identity token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid identity token claims")
	}
	if claims.Type != tokenType {
		return nil, errors.New("not an identity token")
	}
	if _, err := claims.Identity(); err != nil {
		return nil, fmt.Errorf("identity token subject: %w", err)
	}
	return claims, nil
}

// IssuePolicy decides whether POST /auth/token may mint a token. A nil
// policy, or one with Allow false, refuses every request.
type IssuePolicy struct {
	Allow bool
	// SecretHash is a bcrypt hash. When set, callers must present the
	// matching secret.
	SecretHash []byte
}

// Permits reports whether a caller presenting secret may obtain a token.
func (p *IssuePolicy) Permits(secret string) bool {
	if p == nil || !p.Allow {
		return false
	}
	if len(p.SecretHash) == 0 {
		return true
	}
	return bcrypt.CompareHashAndPassword(p.SecretHash, []byte(secret)) == nil
}

// HashIssueSecret returns the bcrypt hash to store in auth.issue_secret_hash.
func HashIssueSecret(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
