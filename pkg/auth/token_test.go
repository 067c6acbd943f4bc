package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenManager(t *testing.T) {
	_, err := NewTokenManager(nil)
	assert.Error(t, err)

	tm, err := NewTokenManager([]byte("test-signing-key-32-bytes-long!!"))
	require.NoError(t, err)
	assert.NotNil(t, tm)
}

func TestTokenManager_IssueAndValidate(t *testing.T) {
	tm, err := NewTokenManager([]byte("test-signing-key-32-bytes-long!!"))
	require.NoError(t, err)

	issued, err := tm.Issue("release-bot", time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.ID)
	assert.Equal(t, "release-bot", issued.Subject)
	assert.Equal(t, ScopeRunPass, issued.Scope)
	assert.Equal(t, time.Hour, issued.ExpiresAt.Sub(issued.IssuedAt))
	assert.Len(t, strings.Split(issued.Token, "."), 3)

	claims, err := tm.Validate(issued.Token, ScopeRunPass)
	require.NoError(t, err)
	assert.Equal(t, "release-bot", claims.Subject)
	assert.Equal(t, issued.ID, claims.ID)
	assert.Equal(t, Issuer, claims.Issuer)
}

func TestTokenManager_IssueValidation(t *testing.T) {
	tm, err := NewTokenManager([]byte("key"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		subject string
		ttl     time.Duration
		wantErr bool
	}{
		{"default ttl", "ops", 0, false},
		{"missing subject", "", time.Hour, true},
		{"ttl too long", "ops", MaxTokenTTL + time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issued, err := tm.Issue(tt.subject, tt.ttl)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultTokenTTL, issued.ExpiresAt.Sub(issued.IssuedAt))
		})
	}
}

func TestTokenManager_Rejects(t *testing.T) {
	key := []byte("test-signing-key-32-bytes-long!!")
	tm, err := NewTokenManager(key)
	require.NoError(t, err)

	other, err := NewTokenManager([]byte("another-key"))
	require.NoError(t, err)
	foreign, err := other.Issue("ops", time.Hour)
	require.NoError(t, err)

	expiredManager, err := NewTokenManager(key)
	require.NoError(t, err)
	expiredManager.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredManager.Issue("ops", time.Hour)
	require.NoError(t, err)

	wrongScope, err := jwt.NewWithClaims(jwt.SigningMethodHS256, TriggerClaims{
		Scope: "events:read",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(key)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, TriggerClaims{
		Scope: ScopeRunPass,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   Issuer,
			Audience: jwt.ClaimStrings{Audience},
		},
	}).SignedString(key)
	require.NoError(t, err)

	wrongAudience, err := jwt.NewWithClaims(jwt.SigningMethodHS256, TriggerClaims{
		Scope: ScopeRunPass,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{"someone-else"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(key)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"signed with another key", foreign.Token},
		{"expired", expired.Token},
		{"wrong scope", wrongScope},
		{"no expiry", noExpiry},
		{"wrong audience", wrongAudience},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tm.Validate(tt.token, ScopeRunPass)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidToken))
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer abc", "abc", true},
		{"Basic dXNlcjpwYXNz", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			token, ok := BearerToken(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.token, token)
		})
	}
}
