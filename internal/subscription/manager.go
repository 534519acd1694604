// Package subscription keeps push subscriptions alive across transient store
// failures and credential changes. A Subscription restarts its factory after
// errors and sign-in events while its external handle stays the same; stale
// callbacks from earlier starts are discarded by generation.
package subscription

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/elcapodeicapi/EVC-website-sub000/internal/identity"
)

const (
	DefaultRetryInterval = 1500 * time.Millisecond
	DefaultDebounce      = 750 * time.Millisecond

	refreshTimeout = 10 * time.Second
)

// Unsubscribe detaches a listener registered by a Factory.
type Unsubscribe func()

// Helpers is handed to every factory invocation. OnError and Healthy are
// bound to that invocation's generation and become no-ops once the
// subscription restarts or stops.
type Helpers struct {
	Generation uint64
	OnError    func(err error)
	Healthy    func()
}

// Factory registers a push listener and returns its detach function. A
// returned error means nothing was registered.
type Factory func(ctx context.Context, helpers Helpers) (Unsubscribe, error)

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	Name          string
	RetryInterval time.Duration
	Debounce      time.Duration
	// MaxRetries caps consecutive error retries; 0 retries forever.
	MaxRetries int
	Logger     Logger
}

func (o Options) merge(defaults Options) Options {
	if o.Name == "" {
		o.Name = defaults.Name
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = defaults.RetryInterval
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.Debounce <= 0 {
		o.Debounce = defaults.Debounce
	}
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaults.MaxRetries
	}
	if o.Logger == nil {
		o.Logger = defaults.Logger
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.Name == "" {
		o.Name = "subscription"
	}
	return o
}

// Manager creates subscriptions that share a credential provider and
// default options. credentials may be nil when nothing signs in.
type Manager struct {
	credentials identity.Provider
	defaults    Options
}

func NewManager(credentials identity.Provider, defaults Options) *Manager {
	return &Manager{credentials: credentials, defaults: defaults}
}

// Manage starts factory and keeps it running until Stop is called or ctx is
// done.
func (m *Manager) Manage(ctx context.Context, factory Factory, opts Options) *Subscription {
	opts = opts.merge(m.defaults)
	runCtx, cancel := context.WithCancel(context.Background())
	s := &Subscription{
		factory:     factory,
		credentials: m.credentials,
		opts:        opts,
		ctx:         runCtx,
		cancel:      cancel,
		active:      true,
	}

	if m.credentials != nil {
		detach := m.credentials.OnChange(s.credentialsChanged)
		s.mu.Lock()
		s.detachCredentials = detach
		s.mu.Unlock()
	}
	stopWithParent := context.AfterFunc(ctx, s.Stop)
	s.mu.Lock()
	s.stopWithParent = stopWithParent
	s.mu.Unlock()

	s.restart(0)
	return s
}

type Subscription struct {
	factory     Factory
	credentials identity.Provider
	opts        Options
	ctx         context.Context
	cancel      context.CancelFunc

	// startMu serializes factory invocations.
	startMu sync.Mutex

	mu                sync.Mutex
	generation        uint64
	unsubscribe       Unsubscribe
	retryTimer        *time.Timer
	debounceTimer     *time.Timer
	debounceSeq       uint64
	detachCredentials func()
	stopWithParent    func() bool
	active            bool
	retries           int
}

func (s *Subscription) Name() string {
	return s.opts.Name
}

func (s *Subscription) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *Subscription) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Stop cancels pending restarts and detaches the store and credential
// listeners. No factory call or callback side effect happens afterwards.
func (s *Subscription) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.generation++
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	detach := s.detachCredentials
	s.detachCredentials = nil
	stopWithParent := s.stopWithParent
	s.mu.Unlock()

	s.cancel()
	if stopWithParent != nil {
		stopWithParent()
	}
	s.teardown(unsubscribe)
	if detach != nil {
		detach()
	}
}

// restart tears down the current listener and invokes the factory again.
// A non-zero expect skips the restart unless it is still the current
// generation.
func (s *Subscription) restart(expect uint64) {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	if !s.active || (expect != 0 && expect != s.generation) {
		s.mu.Unlock()
		return
	}
	s.generation++
	generation := s.generation
	previous := s.unsubscribe
	s.unsubscribe = nil
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.mu.Unlock()

	s.teardown(previous)

	unsubscribe, err := s.invoke(Helpers{
		Generation: generation,
		OnError:    func(err error) { s.handleError(generation, err) },
		Healthy:    func() { s.markHealthy(generation) },
	})
	if err != nil {
		s.opts.Logger.Printf("[%s] start failed, waiting for a credential change: %v", s.opts.Name, err)
		return
	}

	s.mu.Lock()
	if !s.active || s.generation != generation {
		s.mu.Unlock()
		s.teardown(unsubscribe)
		return
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
}

func (s *Subscription) invoke(helpers Helpers) (unsubscribe Unsubscribe, err error) {
	defer func() {
		if r := recover(); r != nil {
			unsubscribe = nil
			err = fmt.Errorf("factory panicked: %v", r)
		}
	}()
	return s.factory(s.ctx, helpers)
}

func (s *Subscription) teardown(unsubscribe Unsubscribe) {
	if unsubscribe == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.opts.Logger.Printf("[%s] unsubscribe panicked: %v", s.opts.Name, r)
		}
	}()
	unsubscribe()
}

func (s *Subscription) current(generation uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && s.generation == generation
}

func (s *Subscription) handleError(generation uint64, err error) {
	if !s.current(generation) {
		return
	}
	authError := IsAuthError(err)
	s.opts.Logger.Printf("[%s] subscription error (auth=%t): %v", s.opts.Name, authError, err)

	go func() {
		if authError && s.credentials != nil {
			ctx, cancel := context.WithTimeout(s.ctx, refreshTimeout)
			if _, refreshErr := s.credentials.Refresh(ctx); refreshErr != nil && s.current(generation) {
				s.opts.Logger.Printf("[%s] credential refresh failed: %v", s.opts.Name, refreshErr)
			}
			cancel()
		}
		s.scheduleRetry(generation)
	}()
}

func (s *Subscription) scheduleRetry(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || s.generation != generation {
		return
	}
	if s.opts.MaxRetries > 0 && s.retries >= s.opts.MaxRetries {
		s.opts.Logger.Printf("[%s] giving up after %d retries", s.opts.Name, s.retries)
		return
	}
	s.retries++
	if s.retryTimer != nil {
		s.retryTimer.Stop()
	}
	s.retryTimer = time.AfterFunc(s.opts.RetryInterval, func() {
		s.restart(generation)
	})
}

func (s *Subscription) markHealthy(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active && s.generation == generation {
		s.retries = 0
	}
}

// credentialsChanged coalesces bursts of credential events into a single
// restart once the debounce window passes without another event.
func (s *Subscription) credentialsChanged(identity.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}
	s.debounceSeq++
	seq := s.debounceSeq
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(s.opts.Debounce, func() {
		s.mu.Lock()
		fire := s.active && s.debounceSeq == seq
		s.mu.Unlock()
		if fire {
			s.restart(0)
		}
	})
}
