package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// Issuer is the iss claim of every trigger token
	Issuer = "circlemon"

	// Audience is the aud claim trigger tokens are minted for
	Audience = "circlemon-trigger"

	// ScopeRunPass allows starting an on-demand pass
	ScopeRunPass = "passes:run"

	// DefaultTokenTTL is used when no TTL is requested
	DefaultTokenTTL = 24 * time.Hour

	// MaxTokenTTL caps the lifetime of a trigger token
	MaxTokenTTL = 90 * 24 * time.Hour
)

// ErrInvalidToken is returned for any token that must not be accepted
var ErrInvalidToken = errors.New("invalid token")

// TriggerClaims represents JWT claims for trigger tokens
type TriggerClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// IssuedToken is a freshly signed trigger token
type IssuedToken struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Scope     string    `json:"scope"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Token     string    `json:"token"`
}

// TokenManager signs and validates HS256 trigger tokens. Tokens are
// self-contained so a token minted by the CLI is accepted by the server.
type TokenManager struct {
	signingKey []byte
	now        func() time.Time
}

// NewTokenManager creates a new token manager
func NewTokenManager(signingKey []byte) (*TokenManager, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("signing key is required")
	}

	return &TokenManager{
		signingKey: signingKey,
		now:        time.Now,
	}, nil
}

// Issue mints a token allowing subject to start passes
func (tm *TokenManager) Issue(subject string, ttl time.Duration) (*IssuedToken, error) {
	if subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if ttl > MaxTokenTTL {
		return nil, fmt.Errorf("TTL cannot exceed %s", MaxTokenTTL)
	}

	tokenID := uuid.New().String()
	now := tm.now().Truncate(time.Second)
	expiresAt := now.Add(ttl)

	claims := TriggerClaims{
		Scope: ScopeRunPass,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Issuer:    Issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{Audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.signingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &IssuedToken{
		ID:        tokenID,
		Subject:   subject,
		Scope:     ScopeRunPass,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
		Token:     tokenString,
	}, nil
}

// Validate parses tokenString and checks it grants scope
func (tm *TokenManager) Validate(tokenString, scope string) (*TriggerClaims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: token is required", ErrInvalidToken)
	}

	claims := &TriggerClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return tm.signingKey, nil
		},
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: token is not valid", ErrInvalidToken)
	}

	if claims.Scope != scope {
		return nil, fmt.Errorf("%w: scope mismatch: expected %s, got %s", ErrInvalidToken, scope, claims.Scope)
	}

	return claims, nil
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
