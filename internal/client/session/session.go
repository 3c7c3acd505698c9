// Package session supplies the authenticated user id to the replication
// core. TokenProvider keeps a signed JWT in the local metadata table so a
// session survives restarts of the client.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/gophnotes/internal/common"
)

// Provider reports the currently authenticated user.
type Provider interface {
	CurrentUserID() (string, bool)
}

// Static is a Provider with a fixed user. The empty string means no session.
type Static string

func (s Static) CurrentUserID() (string, bool) {
	return string(s), s != ""
}

type TokenProvider struct {
	repo   metadata.Repository
	secret []byte
	now    func() time.Time

	mu     sync.RWMutex
	claims *Claims
}

var _ Provider = (*TokenProvider)(nil)

func NewTokenProvider(repo metadata.Repository, secret []byte) *TokenProvider {
	return &TokenProvider{repo: repo, secret: secret, now: time.Now}
}

// Load restores the session stored by a previous Login. A stored token that
// no longer validates is removed.
func (p *TokenProvider) Load(ctx context.Context) error {
	raw, err := p.repo.Get(ctx, common.SessionTokenKey)
	if errors.Is(err, common.ErrNotFound) {
		p.set(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	claims, err := ParseToken(string(raw), p.secret, p.now)
	if err != nil {
		p.set(nil)
		if err := p.repo.Delete(ctx, common.SessionTokenKey); err != nil {
			return fmt.Errorf("failed to drop stale session: %w", err)
		}
		return nil
	}
	p.set(claims)
	return nil
}

// Login validates token and persists it as the current session.
func (p *TokenProvider) Login(ctx context.Context, token string) (string, error) {
	claims, err := ParseToken(token, p.secret, p.now)
	if err != nil {
		return "", err
	}
	if err := p.repo.Set(ctx, common.SessionTokenKey, []byte(token)); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}
	if err := p.repo.Set(ctx, common.LastUserIDKey, []byte(claims.UserID)); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}
	p.set(claims)
	return claims.UserID, nil
}

func (p *TokenProvider) Logout(ctx context.Context) error {
	p.set(nil)
	if err := p.repo.Delete(ctx, common.SessionTokenKey); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// CurrentUserID returns the user of a loaded, unexpired session.
func (p *TokenProvider) CurrentUserID() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.claims == nil {
		return "", false
	}
	if exp := p.claims.ExpiresAt; exp != nil && !p.now().Before(exp.Time) {
		return "", false
	}
	return p.claims.UserID, true
}

// ExpiresAt returns the expiry of the current session, if any.
func (p *TokenProvider) ExpiresAt() (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.claims == nil || p.claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return p.claims.ExpiresAt.Time, true
}

func (p *TokenProvider) set(c *Claims) {
	p.mu.Lock()
	p.claims = c
	p.mu.Unlock()
}
