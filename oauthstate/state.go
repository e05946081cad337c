// ABOUTME: Signed, single-use OAuth state tokens for the connect flow
// ABOUTME: An HS256 JWT names the provider; its ULID nonce must still be live in the store
package oauthstate

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// DefaultTTL is how long an admin has to finish the provider consent screen.
const DefaultTTL = 10 * time.Minute

var (
	ErrInvalidState = errors.New("invalid oauth state")
	ErrStateUsed    = errors.New("oauth state already used or expired")
)

type claims struct {
	Provider string `json:"provider"`
	jwt.StandardClaims
}

// Issuer hands out and redeems state tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	nonces *nonceStore
	logger *zap.Logger
}

// Open creates an issuer whose nonces live in dir (in memory when empty).
func Open(dir string, secret []byte, ttl time.Duration, logger *zap.Logger) (*Issuer, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("state secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	nonces, err := openNonceStore(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	return &Issuer{secret: secret, ttl: ttl, nonces: nonces, logger: logger.Named("oauthstate")}, nil
}

// Close releases the nonce store.
func (i *Issuer) Close() error {
	return i.nonces.close()
}

// Issue returns a state token bound to provider.
func (i *Issuer) Issue(provider string) (string, error) {
	now := time.Now()
	nonce := ulid.Make().String()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims{
		Provider: provider,
		StandardClaims: jwt.StandardClaims{
			Id:        nonce,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(i.ttl).Unix(),
		},
	}).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}

	if err := i.nonces.put(nonce, provider, i.ttl); err != nil {
		return "", fmt.Errorf("failed to store state nonce: %w", err)
	}
	return token, nil
}

// Consume verifies a state token and burns its nonce, returning the provider
// it was issued for.
func (i *Issuer) Consume(state string) (string, error) {
	var c claims
	_, err := jwt.ParseWithClaims(state, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		var validationErr *jwt.ValidationError
		if errors.As(err, &validationErr) && validationErr.Errors&jwt.ValidationErrorExpired != 0 {
			return "", ErrStateUsed
		}
		i.logger.Warn("rejected oauth state", zap.Error(err))
		return "", ErrInvalidState
	}
	if c.Id == "" || c.Provider == "" {
		return "", ErrInvalidState
	}

	provider, err := i.nonces.take(c.Id)
	if errors.Is(err, errNonceMissing) {
		return "", ErrStateUsed
	}
	if err != nil {
		return "", fmt.Errorf("failed to redeem state nonce: %w", err)
	}
	if provider != c.Provider {
		return "", ErrInvalidState
	}
	return provider, nil
}
