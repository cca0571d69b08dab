package broker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ExchangeClaims are the claims minted on token exchange. CredHash binds
// the upstream token to the client credential without carrying it.
type ExchangeClaims struct {
	jwt.RegisteredClaims
	CredHash string `json:"cred_hash"`
}

// TokenExchanger mints short-lived, audience-bound HS256 tokens in
// exchange for a client credential.
type TokenExchanger struct {
	key    []byte
	issuer string
	ttl    time.Duration
	clock  func() time.Time
}

// NewTokenExchanger builds an exchanger. The signing key must be at
// least 32 bytes.
func NewTokenExchanger(key []byte, issuer string, ttl time.Duration) (*TokenExchanger, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("exchange signing key must be at least 32 bytes")
	}
	if issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TokenExchanger{key: key, issuer: issuer, ttl: ttl, clock: time.Now}, nil
}

// WithClock overrides the clock for deterministic testing.
func (e *TokenExchanger) WithClock(clock func() time.Time) *TokenExchanger {
	e.clock = clock
	return e
}

// Exchange mints a token whose audience is exactly targetResource.
func (e *TokenExchanger) Exchange(clientCredential, targetResource, principal string) (string, time.Time, error) {
	if clientCredential == "" {
		return "", time.Time{}, fmt.Errorf("client credential is required")
	}
	if targetResource == "" {
		return "", time.Time{}, fmt.Errorf("target resource is required")
	}

	now := e.clock().UTC()
	expires := now.Add(e.ttl)
	digest := sha256.Sum256([]byte(clientCredential))
	claims := ExchangeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   principal,
			Issuer:    e.issuer,
			Audience:  jwt.ClaimStrings{targetResource},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		CredHash: hex.EncodeToString(digest[:]),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(e.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign exchanged token: %w", err)
	}
	return token, expires, nil
}

// Validate parses an exchanged token and enforces its audience binding.
func (e *TokenExchanger) Validate(token, expectedAudience string) (*ExchangeClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &ExchangeClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return e.key, nil
	},
		jwt.WithIssuer(e.issuer),
		jwt.WithAudience(expectedAudience),
		jwt.WithTimeFunc(e.clock),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*ExchangeClaims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}
