// Package identity issues the anonymous sessions that unlock store writes.
//
// There are no roles or claims to check: holding any session is enough to
// write. The custom-token path is kept so a host-supplied token can be
// verified, but startup always signs in anonymously.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "popwatch"

var (
	// ErrAnonymousDisabled is returned when anonymous sign-in is turned off.
	ErrAnonymousDisabled = errors.New("identity: anonymous sign-in disabled")
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("identity: invalid token")
)

// Session is an identity credential held for the lifetime of the process.
type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"-"`
	Anonymous bool      `json:"anonymous"`
	IssuedAt  time.Time `json:"issued_at"`
}

// Provider signs sessions in.
type Provider struct {
	key       []byte
	anonymous bool
	clock     quartz.Clock
}

// NewProvider creates a provider that signs tokens with key.
func NewProvider(key string, allowAnonymous bool, clock quartz.Clock) *Provider {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Provider{key: []byte(key), anonymous: allowAnonymous, clock: clock}
}

type claims struct {
	Anonymous bool `json:"anon"`
	jwt.RegisteredClaims
}

// SignInAnonymously issues a fresh anonymous session.
func (p *Provider) SignInAnonymously(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !p.anonymous {
		return nil, ErrAnonymousDisabled
	}

	now := p.clock.Now()
	id := uuid.NewString()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Anonymous: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			Subject:  id,
			IssuedAt: jwt.NewNumericDate(now),
			ID:       uuid.NewString(),
		},
	})

	signed, err := token.SignedString(p.key)
	if err != nil {
		return nil, fmt.Errorf("sign anonymous token: %w", err)
	}

	return &Session{ID: id, Token: signed, Anonymous: true, IssuedAt: now}, nil
}

// SignInWithCustomToken verifies a pre-issued token and returns its session.
func (p *Provider) SignInWithCustomToken(ctx context.Context, raw string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (interface{}, error) {
		return p.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(func() time.Time { return p.clock.Now() }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	var issued time.Time
	if c.IssuedAt != nil {
		issued = c.IssuedAt.Time
	}
	return &Session{ID: c.Subject, Token: raw, Anonymous: c.Anonymous, IssuedAt: issued}, nil
}

// Holder keeps the current session. The zero value is ready to use.
type Holder struct {
	mu      sync.RWMutex
	session *Session
	ready   chan struct{}
	once    sync.Once
}

func (h *Holder) init() {
	h.once.Do(func() { h.ready = make(chan struct{}) })
}

// Set stores s as the current session. The first non-nil Set closes Ready.
func (h *Holder) Set(s *Session) {
	if s == nil {
		return
	}
	h.init()
	h.mu.Lock()
	first := h.session == nil
	h.session = s
	h.mu.Unlock()
	if first {
		close(h.ready)
	}
}

// Current returns the session or nil before sign-in.
func (h *Holder) Current() *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.session
}

// Ready is closed once a session is available.
func (h *Holder) Ready() <-chan struct{} {
	h.init()
	return h.ready
}

// Wait blocks until a session is available or ctx ends.
func (h *Holder) Wait(ctx context.Context) (*Session, error) {
	select {
	case <-h.Ready():
		return h.Current(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
