// Package security provides authentication and channel authorization for chatcast.
package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	chsync "github.com/brianly1003/chatcast/internal/sync"
)

// TokenPrefix identifies chatcast access tokens.
const TokenPrefix = "cc_"

// Common errors
var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrInvalidFormat = errors.New("invalid token format")
	ErrTokenRevoked  = errors.New("token has been revoked")
)

// TokenPayload is the data encoded in a token.
type TokenPayload struct {
	Principal string `json:"sub"`
	Issuer    string `json:"iss"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	Nonce     string `json:"nonce"`
}

// TokenManager issues and validates HMAC-SHA256 signed access tokens bound
// to a principal.
type TokenManager struct {
	issuer string
	ttl    time.Duration
	now    func() time.Time

	mu            chsync.RWMutex
	secret        []byte
	revokedNonces map[string]time.Time // nonce -> revoked at (for cleanup)
}

// NewTokenManager creates a token manager. An empty secret generates a
// random one, so tokens do not survive a restart.
func NewTokenManager(secret, issuer string, ttl time.Duration) (*TokenManager, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate token secret: %w", err)
		}
	}
	if issuer == "" {
		issuer = "chatcast"
	}

	return &TokenManager{
		issuer:        issuer,
		ttl:           ttl,
		now:           time.Now,
		secret:        key,
		revokedNonces: make(map[string]time.Time),
	}, nil
}

// Issuer returns the issuer embedded in generated tokens.
func (tm *TokenManager) Issuer() string {
	return tm.issuer
}

// Generate issues a token for principal with the default lifetime.
func (tm *TokenManager) Generate(principal string) (string, time.Time, error) {
	return tm.GenerateWithExpiry(principal, tm.ttl)
}

// GenerateWithExpiry issues a token for principal valid for ttl.
func (tm *TokenManager) GenerateWithExpiry(principal string, ttl time.Duration) (string, time.Time, error) {
	if principal == "" {
		return "", time.Time{}, errors.New("principal is required")
	}

	nonce, err := generateRandomString(16)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := tm.now()
	expiresAt := now.Add(ttl)

	payloadJSON, err := json.Marshal(TokenPayload{
		Principal: principal,
		Issuer:    tm.issuer,
		IssuedAt:  now.Unix(),
		ExpiresAt: expiresAt.Unix(),
		Nonce:     nonce,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	token := TokenPrefix +
		base64.RawURLEncoding.EncodeToString(payloadJSON) + "." +
		base64.RawURLEncoding.EncodeToString(tm.sign(payloadJSON))
	return token, expiresAt, nil
}

// Validate checks a token and returns its payload if it is valid.
func (tm *TokenManager) Validate(token string) (*TokenPayload, error) {
	payload, err := tm.parse(token)
	if err != nil {
		return nil, err
	}

	tm.mu.RLock()
	_, revoked := tm.revokedNonces[payload.Nonce]
	tm.mu.RUnlock()
	if revoked {
		return nil, ErrTokenRevoked
	}

	if tm.now().Unix() >= payload.ExpiresAt {
		return payload, ErrExpiredToken
	}
	return payload, nil
}

// Revoke revokes a token by its nonce. Expired tokens may be revoked.
func (tm *TokenManager) Revoke(token string) error {
	payload, err := tm.Validate(token)
	if err != nil && !errors.Is(err, ErrExpiredToken) {
		return err
	}

	tm.mu.Lock()
	tm.revokedNonces[payload.Nonce] = tm.now()
	tm.mu.Unlock()
	return nil
}

// RevokeAll invalidates every issued token by rotating the secret.
func (tm *TokenManager) RevokeAll() error {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("failed to regenerate token secret: %w", err)
	}

	tm.mu.Lock()
	tm.secret = secret
	tm.revokedNonces = make(map[string]time.Time)
	tm.mu.Unlock()
	return nil
}

// CleanupExpiredRevocations removes revocations older than maxAge.
func (tm *TokenManager) CleanupExpiredRevocations(maxAge time.Duration) int {
	cutoff := tm.now().Add(-maxAge)

	tm.mu.Lock()
	defer tm.mu.Unlock()

	removed := 0
	for nonce, revokedAt := range tm.revokedNonces {
		if revokedAt.Before(cutoff) {
			delete(tm.revokedNonces, nonce)
			removed++
		}
	}
	return removed
}

func (tm *TokenManager) parse(token string) (*TokenPayload, error) {
	if !strings.HasPrefix(token, TokenPrefix) {
		return nil, ErrInvalidFormat
	}
	encPayload, encSig, ok := strings.Cut(strings.TrimPrefix(token, TokenPrefix), ".")
	if !ok {
		return nil, ErrInvalidFormat
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(encPayload)
	if err != nil {
		return nil, ErrInvalidFormat
	}
	signature, err := base64.RawURLEncoding.DecodeString(encSig)
	if err != nil {
		return nil, ErrInvalidFormat
	}

	if !hmac.Equal(signature, tm.sign(payloadJSON)) {
		return nil, ErrInvalidToken
	}

	var payload TokenPayload
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil, ErrInvalidFormat
	}
	if payload.Issuer != tm.issuer || payload.Principal == "" {
		return nil, ErrInvalidToken
	}
	return &payload, nil
}

func (tm *TokenManager) sign(data []byte) []byte {
	tm.mu.RLock()
	h := hmac.New(sha256.New, tm.secret)
	tm.mu.RUnlock()
	h.Write(data)
	return h.Sum(nil)
}

// generateRandomString generates a random URL-safe string.
func generateRandomString(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes)[:length], nil
}
