package manager

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// TokenManager hands out one-time join tokens a new Control node presents
// to Manager.Join, and checks them in. Tokens live only in memory on the
// leader that minted them; they are a bootstrap credential for getting a
// node's own Raft certificate and voter slot, not a durable secret, so
// losing them on a leader restart just means an operator mints another.
type TokenManager struct {
	tokens map[string]*JoinToken
	mu     sync.RWMutex
}

// JoinToken is a single-use credential scoping a Raft join to one role.
type JoinToken struct {
	Token     string
	Role      string // "voter" or "nonvoter"
	CreatedAt time.Time
	ExpiresAt time.Time
}

// NewTokenManager returns an empty TokenManager.
func NewTokenManager() *TokenManager {
	return &TokenManager{
		tokens: make(map[string]*JoinToken),
	}
}

// GenerateToken mints a token for role, valid until now+duration.
func (tm *TokenManager) GenerateToken(role string, duration time.Duration) (*JoinToken, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate join token: %w", err)
	}
	token := hex.EncodeToString(buf)

	jt := &JoinToken{
		Token:     token,
		Role:      role,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(duration),
	}

	tm.mu.Lock()
	tm.tokens[token] = jt
	tm.mu.Unlock()

	return jt, nil
}

// ValidateToken reports whether token is known and unexpired, returning
// the role it was minted for.
func (tm *TokenManager) ValidateToken(token string) (string, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	jt, exists := tm.tokens[token]
	if !exists {
		return "", fmt.Errorf("unknown join token")
	}
	if time.Now().After(jt.ExpiresAt) {
		return "", fmt.Errorf("join token expired")
	}

	return jt.Role, nil
}

// RevokeToken deletes token immediately, independent of its expiry.
func (tm *TokenManager) RevokeToken(token string) {
	tm.mu.Lock()
	delete(tm.tokens, token)
	tm.mu.Unlock()
}

// CleanupExpiredTokens drops every token past its ExpiresAt, bounding the
// map's size across a long-lived leader's uptime.
func (tm *TokenManager) CleanupExpiredTokens() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := time.Now()
	for token, jt := range tm.tokens {
		if now.After(jt.ExpiresAt) {
			delete(tm.tokens, token)
		}
	}
}

// ListTokens returns every token currently tracked, expired or not, for
// an operator auditing outstanding join credentials.
func (tm *TokenManager) ListTokens() []*JoinToken {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	tokens := make([]*JoinToken, 0, len(tm.tokens))
	for _, jt := range tm.tokens {
		tokens = append(tokens, jt)
	}

	return tokens
}
