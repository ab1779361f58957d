// Package auth provides credential sources for the sync engine.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aretw0/humus/pkg/core"
)

// DefaultSkew is how long before its expiry a token is considered stale.
const DefaultSkew = 30 * time.Second

// ErrNoRefresher is returned when a credential is needed and no refresh
// function was configured.
var ErrNoRefresher = errors.New("no refresh function configured")

// RefreshFunc obtains a new bearer token, e.g. by exchanging a master token.
type RefreshFunc func(ctx context.Context) (string, error)

// Cached holds a bearer token and refreshes it when it is missing, rejected
// or close to expiry. Expiry is read from JWT tokens without verifying them;
// opaque tokens are kept until the service rejects them.
type Cached struct {
	mu      sync.Mutex
	token   string
	expiry  time.Time
	refresh RefreshFunc
	skew    time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Cached authenticator.
type Option func(*Cached)

// WithToken seeds the cache with an existing token.
func WithToken(tok string) Option {
	return func(c *Cached) {
		c.token = tok
		c.expiry, _ = Expiry(tok)
	}
}

// WithSkew changes how early tokens are refreshed.
func WithSkew(d time.Duration) Option {
	return func(c *Cached) {
		c.skew = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cached) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cached) {
		c.logger = l
	}
}

// New creates a Cached authenticator. refresh may be nil when a seeded
// token is all there is.
func New(refresh RefreshFunc, opts ...Option) *Cached {
	c := &Cached{
		refresh: refresh,
		skew:    DefaultSkew,
		now:     time.Now,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ core.Authenticator = (*Cached)(nil)

// Token returns the cached token, refreshing it first if it is missing or
// about to expire.
func (c *Cached) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && !c.stale() {
		return c.token, nil
	}
	return c.renew(ctx)
}

// Refresh discards the cached token and obtains a new one.
func (c *Cached) Refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	return c.renew(ctx)
}

// Expires returns the expiry of the cached token, if known.
func (c *Cached) Expires() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiry, !c.expiry.IsZero()
}

func (c *Cached) stale() bool {
	return !c.expiry.IsZero() && !c.now().Add(c.skew).Before(c.expiry)
}

func (c *Cached) renew(ctx context.Context) (string, error) {
	if c.refresh == nil {
		return "", &core.AuthError{Err: ErrNoRefresher}
	}
	tok, err := c.refresh(ctx)
	if err != nil {
		var ae *core.AuthError
		if errors.As(err, &ae) {
			return "", err
		}
		return "", &core.AuthError{Err: fmt.Errorf("refresh: %w", err)}
	}
	if tok == "" {
		return "", &core.AuthError{Err: errors.New("refresh returned an empty token")}
	}
	c.token = tok
	c.expiry, _ = Expiry(tok)
	c.logger.Debug("credential refreshed", "expires", c.expiry)
	return tok, nil
}

// Expiry reads the exp claim of a JWT without verifying its signature. It
// reports false for opaque tokens and tokens without exp.
func Expiry(tok string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
