// Package auth owns the OAuth credential lifecycle of one browsing session:
// authorization-code exchange, scheduled silent refresh and the single-flight
// guard around both.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sentry "github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultRefreshMargin = 60 * time.Second
	defaultTokenLifetime = time.Hour
	requestTimeout       = 15 * time.Second

	// exchange and refresh share one key: at most one of either is in flight
	flightKey = "token"

	opExchange = "exchange"
	opRefresh  = "refresh"
)

type FetchState int

const (
	StateIdle FetchState = iota
	StateFetching
	StateFetched
)

func (s FetchState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateFetched:
		return "fetched"
	default:
		return fmt.Sprintf("FetchState(%d)", int(s))
	}
}

var (
	ErrEmptyCode        = errors.New("auth: empty authorization code")
	ErrExchange         = errors.New("auth: code exchange rejected")
	ErrRefresh          = errors.New("auth: token refresh rejected")
	ErrNotAuthenticated = errors.New("auth: not authenticated")
	ErrLoggedOut        = errors.New("auth: session logged out")
)

// Error is a terminal exchange or refresh failure. The caller must send the
// user back through login.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("auth: %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrExchange:
		return e.Op == opExchange
	case ErrRefresh:
		return e.Op == opRefresh
	}
	return false
}

type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// ExpiresIn is the remaining lifetime in whole seconds, never negative.
func (s Session) ExpiresIn(now time.Time) int {
	secs := int(s.ExpiresAt.Sub(now) / time.Second)
	return max(secs, 0)
}

// Manager holds the AuthSession of one browsing session. The zero value is
// not usable; construct with NewManager.
type Manager struct {
	exchanger Exchanger
	scheduler Scheduler
	margin    time.Duration
	now       func() time.Time
	onReauth  func(error)

	flight singleflight.Group

	mu         sync.Mutex
	state      FetchState
	session    *Session
	generation uint64
	cancelTick func()
}

type ManagerOption func(*Manager)

func WithScheduler(s Scheduler) ManagerOption {
	return func(m *Manager) { m.scheduler = s }
}

func WithRefreshMargin(d time.Duration) ManagerOption {
	return func(m *Manager) { m.margin = d }
}

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// OnReauthRequired registers fn to be called when a scheduled refresh fails
// and the session has been torn down.
func OnReauthRequired(fn func(error)) ManagerOption {
	return func(m *Manager) { m.onReauth = fn }
}

func NewManager(exchanger Exchanger, opts ...ManagerOption) *Manager {
	m := &Manager{
		exchanger: exchanger,
		scheduler: NewTimerScheduler(),
		margin:    DefaultRefreshMargin,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) State() FetchState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns the live session, if any.
func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateFetched || m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

// ExchangeCode trades an authorization code for a session. Once a session
// exists it is returned as is; a call made while an exchange is in flight
// waits for and shares that exchange's outcome.
func (m *Manager) ExchangeCode(ctx context.Context, code string) (Session, error) {
	if code == "" {
		return Session{}, ErrEmptyCode
	}
	if s, ok := m.Current(); ok {
		return s, nil
	}

	// The flight outlives any one caller, so it must not die with the first
	// caller's context.
	flightCtx := context.WithoutCancel(ctx)
	v, err, shared := m.flight.Do(flightKey, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(flightCtx, requestTimeout)
		defer cancel()
		return m.exchange(ctx, code)
	})
	if shared {
		log.WithField("module", "auth").Trace("exchange outcome shared with concurrent caller")
	}
	if err != nil {
		return Session{}, err
	}
	return v.(Session), nil
}

func (m *Manager) exchange(ctx context.Context, code string) (Session, error) {
	logger := log.WithFields(log.Fields{
		"module": "auth",
		"method": "exchange",
	})

	m.mu.Lock()
	if m.state == StateFetched && m.session != nil {
		s := *m.session
		m.mu.Unlock()
		return s, nil
	}
	m.state = StateFetching
	gen := m.generation
	m.mu.Unlock()

	tok, err := m.exchanger.Exchange(ctx, code)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation {
		logger.Debug("discarding exchange result after logout")
		return Session{}, ErrLoggedOut
	}
	if err != nil {
		m.state = StateIdle
		m.session = nil
		logger.Warnf("code exchange failed: %v", err)
		sentry.CaptureException(err)
		return Session{}, &Error{Op: opExchange, Err: err}
	}

	s := m.sessionFromToken(tok, "")
	m.session = &s
	m.state = StateFetched
	m.armLocked(s)

	logger.Debugf("session established, expires at %s", s.ExpiresAt.Format(time.RFC3339))
	return s, nil
}

// Refresh replaces the access token using the stored refresh token. Failure
// is terminal: the session is cleared and OnReauthRequired fires.
func (m *Manager) Refresh(ctx context.Context) (Session, error) {
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := m.flight.Do(flightKey, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(flightCtx, requestTimeout)
		defer cancel()
		return m.refresh(ctx)
	})
	if err != nil {
		return Session{}, err
	}
	return v.(Session), nil
}

func (m *Manager) refresh(ctx context.Context) (Session, error) {
	logger := log.WithFields(log.Fields{
		"module": "auth",
		"method": "refresh",
	})

	m.mu.Lock()
	if m.state != StateFetched || m.session == nil {
		m.mu.Unlock()
		return Session{}, ErrNotAuthenticated
	}
	refreshToken := m.session.RefreshToken
	gen := m.generation
	m.mu.Unlock()

	tok, err := m.exchanger.Refresh(ctx, refreshToken)

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		logger.Debug("discarding refresh result after logout")
		return Session{}, ErrLoggedOut
	}
	if err != nil {
		m.clearLocked()
		onReauth := m.onReauth
		m.mu.Unlock()

		wrapped := &Error{Op: opRefresh, Err: err}
		logger.Warnf("token refresh failed, re-authentication required: %v", err)
		sentry.CaptureException(wrapped)
		if onReauth != nil {
			onReauth(wrapped)
		}
		return Session{}, wrapped
	}

	s := m.sessionFromToken(tok, refreshToken)
	m.session = &s
	m.armLocked(s)
	m.mu.Unlock()

	logger.Tracef("token refreshed, expires at %s", s.ExpiresAt.Format(time.RFC3339))
	return s, nil
}

// ScheduleRefresh arms the one-shot refresh timer for s at ExpiresAt minus
// the refresh margin, replacing any pending one. It does nothing unless a
// session is live.
func (m *Manager) ScheduleRefresh(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateFetched {
		return
	}
	m.armLocked(s)
}

func (m *Manager) armLocked(s Session) {
	if m.cancelTick != nil {
		m.cancelTick()
	}
	gen := m.generation
	at := s.ExpiresAt.Add(-m.margin)
	m.cancelTick = m.scheduler.Schedule(at, func() {
		m.refreshFromTimer(gen)
	})
}

func (m *Manager) refreshFromTimer(gen uint64) {
	m.mu.Lock()
	stale := gen != m.generation
	m.mu.Unlock()
	if stale {
		return
	}

	if _, err := m.Refresh(context.Background()); err != nil && !errors.Is(err, ErrLoggedOut) {
		log.WithField("module", "auth").Errorf("scheduled refresh failed: %v", err)
	}
}

// Logout clears the session and cancels any pending refresh. Exchange or
// refresh results that arrive afterwards are discarded.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
}

func (m *Manager) clearLocked() {
	if m.cancelTick != nil {
		m.cancelTick()
		m.cancelTick = nil
	}
	m.session = nil
	m.state = StateIdle
	m.generation++
}

// Token makes the Manager an oauth2.TokenSource for catalog clients.
func (m *Manager) Token() (*oauth2.Token, error) {
	s, ok := m.Current()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       s.ExpiresAt,
	}, nil
}

func (m *Manager) sessionFromToken(tok *oauth2.Token, fallbackRefresh string) Session {
	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		lifetime := defaultTokenLifetime
		if tok.ExpiresIn > 0 {
			lifetime = time.Duration(tok.ExpiresIn) * time.Second
		}
		expiresAt = m.now().Add(lifetime)
	}

	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}

	return Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	}
}
