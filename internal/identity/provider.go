// Package identity supplies credentials to store and gateway clients and
// announces every credential change (sign-in, sign-out, refresh, account
// switch) to registered listeners.
package identity

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrSignedOut = errors.New("signed out")

// expirySkew refreshes a token slightly before it actually expires.
const expirySkew = 30 * time.Second

type Credential struct {
	UserID    string
	Role      string
	Token     string
	ExpiresAt time.Time
}

func (c Credential) Valid(now time.Time) bool {
	if c.Token == "" {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Add(expirySkew).Before(c.ExpiresAt)
}

type Provider interface {
	Current(ctx context.Context) (Credential, error)
	Refresh(ctx context.Context) (Credential, error)
	OnChange(fn func(Credential)) (cancel func())
}

// TokenSource issues credentials. Refresh receives the credential being
// replaced.
type TokenSource interface {
	SignIn(ctx context.Context) (Credential, error)
	Refresh(ctx context.Context, current Credential) (Credential, error)
}

type listener struct {
	id int
	fn func(Credential)
}

// TokenProvider caches the credential of one TokenSource. Listeners run
// synchronously on the goroutine that caused the change and must not call
// SignIn, Switch or Refresh from inside the callback.
type TokenProvider struct {
	refreshMu sync.Mutex

	mu           sync.Mutex
	source       TokenSource
	current      Credential
	signedIn     bool
	listeners    []listener
	nextListener int
	now          func() time.Time
}

func NewTokenProvider(source TokenSource) *TokenProvider {
	return &TokenProvider{
		source: source,
		now:    time.Now,
	}
}

func (p *TokenProvider) SignIn(ctx context.Context) (Credential, error) {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	p.mu.Lock()
	source := p.source
	p.mu.Unlock()

	cred, err := source.SignIn(ctx)
	if err != nil {
		return Credential{}, err
	}
	p.store(cred, true)
	return cred, nil
}

func (p *TokenProvider) SignOut() {
	p.store(Credential{}, false)
}

// Switch signs in through another source, replacing the current account.
func (p *TokenProvider) Switch(ctx context.Context, source TokenSource) (Credential, error) {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	cred, err := source.SignIn(ctx)
	if err != nil {
		return Credential{}, err
	}
	p.mu.Lock()
	p.source = source
	p.mu.Unlock()
	p.store(cred, true)
	return cred, nil
}

// Current returns the cached credential, refreshing it first when it is
// about to expire.
func (p *TokenProvider) Current(ctx context.Context) (Credential, error) {
	p.mu.Lock()
	cred, signedIn := p.current, p.signedIn
	now := p.now()
	p.mu.Unlock()

	if !signedIn {
		return Credential{}, ErrSignedOut
	}
	if cred.Valid(now) {
		return cred, nil
	}
	return p.Refresh(ctx)
}

// Refresh forces a new credential from the source.
func (p *TokenProvider) Refresh(ctx context.Context) (Credential, error) {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	p.mu.Lock()
	source, cred, signedIn := p.source, p.current, p.signedIn
	p.mu.Unlock()
	if !signedIn {
		return Credential{}, ErrSignedOut
	}

	fresh, err := source.Refresh(ctx, cred)
	if err != nil {
		return Credential{}, err
	}

	p.mu.Lock()
	stillSignedIn := p.signedIn
	p.mu.Unlock()
	if !stillSignedIn {
		return Credential{}, ErrSignedOut
	}
	p.store(fresh, true)
	return fresh, nil
}

// Token adapts the provider to clients that only need a bearer token.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	cred, err := p.Current(ctx)
	if err != nil {
		return "", err
	}
	return cred.Token, nil
}

func (p *TokenProvider) OnChange(fn func(Credential)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextListener++
	id := p.nextListener
	p.listeners = append(p.listeners, listener{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, l := range p.listeners {
				if l.id == id {
					p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (p *TokenProvider) store(cred Credential, signedIn bool) {
	p.mu.Lock()
	p.current = cred
	p.signedIn = signedIn
	listeners := make([]listener, len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	for _, l := range listeners {
		l.fn(cred)
	}
}
