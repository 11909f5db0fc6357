package controller

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"swipetune/auth"
	"swipetune/database"
	"swipetune/models"
)

var (
	ErrSessionClosed    = errors.New("controller: session closed")
	ErrInvalidDirection = errors.New("controller: invalid swipe direction")
	ErrEmptyTrackID     = errors.New("controller: empty track id")
	ErrNoSwipeLog       = errors.New("controller: swipe log not configured")
)

// Catalog is what a session needs from the catalog beyond recommendations.
type Catalog interface {
	GetTracks(ctx context.Context, trackIDs []string) ([]models.Track, error)
	FindOrCreatePlaylist(ctx context.Context, name string) (string, error)
	AddTrackToPlaylist(ctx context.Context, playlistID, trackID string) error
}

type Recommender interface {
	Recommend(ctx context.Context, seedTrackID string, limit int) ([]models.Candidate, error)
}

type Expander interface {
	Expand(ctx context.Context, likedTrackIDs []string) ([]string, error)
}

type SwipeLog interface {
	RecordSwipe(sessionID, trackID string, direction models.Direction) error
	History(sessionID string, limit int) ([]database.SwipeRecord, error)
	Forget(sessionID string) error
}

// Services are the per-session collaborators, bound to the session's
// credential. A nil Expander disables queue expansion.
type Services struct {
	Catalog     Catalog
	Recommender Recommender
	Expander    Expander
}

// Backend builds Services for a freshly authenticated session.
type Backend func(ts oauth2.TokenSource) Services

type Options struct {
	LikeThreshold int
	QueueLowWater int
	PlaylistName  string

	AuthOptions []auth.ManagerOption

	// Optional observers, called from background goroutines.
	OnPlaylistSync func(sessionID, trackID string, err error)
	OnExpansion    func(sessionID string, added []string, err error)
}

func DefaultOptions() Options {
	return Options{
		LikeThreshold: 3,
		QueueLowWater: 3,
		PlaylistName:  "Swipetune Likes",
	}
}

// Controller is the registry of live browsing sessions.
type Controller struct {
	// session id -> session
	sessions  map[string]*Session
	mutex     sync.Mutex
	exchanger auth.Exchanger
	backend   Backend
	swipeLog  SwipeLog
	opts      Options

	// code -> session id, for codes that already produced a live session
	codes map[string]string

	// duplicate session posts for one code share one exchange
	logins singleflight.Group
}

// NewController wires the registry. swipeLog may be nil.
func NewController(exchanger auth.Exchanger, backend Backend, swipeLog SwipeLog, opts Options) *Controller {
	defaults := DefaultOptions()
	if opts.LikeThreshold <= 0 {
		opts.LikeThreshold = defaults.LikeThreshold
	}
	if opts.QueueLowWater < 0 {
		opts.QueueLowWater = defaults.QueueLowWater
	}
	if opts.PlaylistName == "" {
		opts.PlaylistName = defaults.PlaylistName
	}

	return &Controller{
		sessions:  make(map[string]*Session),
		codes:     make(map[string]string),
		exchanger: exchanger,
		backend:   backend,
		swipeLog:  swipeLog,
		opts:      opts,
	}
}

// NewSession exchanges code for credentials and registers a session around
// them. A code that already produced a live session returns that session
// without another exchange.
func (c *Controller) NewSession(ctx context.Context, code string) (*Session, error) {
	if s, ok := c.sessionForCode(code); ok {
		return s, nil
	}
	v, err, _ := c.logins.Do(code, func() (interface{}, error) {
		if s, ok := c.sessionForCode(code); ok {
			return s, nil
		}
		return c.newSession(ctx, code)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (c *Controller) newSession(ctx context.Context, code string) (*Session, error) {
	id := uuid.NewString()
	logger := log.WithFields(log.Fields{
		"module":    "controller",
		"method":    "NewSession",
		"sessionID": id,
	})

	authOpts := append([]auth.ManagerOption{}, c.opts.AuthOptions...)
	authOpts = append(authOpts, auth.OnReauthRequired(func(err error) {
		logger.Warnf("re-authentication required, ending session: %v", err)
		c.EndSession(id)
	}))

	manager := auth.NewManager(c.exchanger, authOpts...)
	if _, err := manager.ExchangeCode(ctx, code); err != nil {
		return nil, err
	}

	session := newSession(ctx, id, manager, c.backend(manager), c.swipeLog, c.opts)
	session.code = code

	c.mutex.Lock()
	c.sessions[id] = session
	if code != "" {
		c.codes[code] = id
	}
	c.mutex.Unlock()

	logger.Info("session started")
	return session, nil
}

func (c *Controller) sessionForCode(code string) (*Session, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	s, ok := c.sessions[c.codes[code]]
	return s, ok
}

func (c *Controller) Session(id string) (*Session, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	s, ok := c.sessions[id]
	return s, ok
}

// EndSession closes and forgets a session. It reports whether one existed.
func (c *Controller) EndSession(id string) bool {
	c.mutex.Lock()
	s, ok := c.sessions[id]
	delete(c.sessions, id)
	if ok && c.codes[s.code] == id {
		delete(c.codes, s.code)
	}
	c.mutex.Unlock()

	if !ok {
		return false
	}
	s.Close()
	return true
}

// Shutdown closes every session and waits for their background work.
func (c *Controller) Shutdown() {
	c.mutex.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for id, s := range c.sessions {
		sessions = append(sessions, s)
		delete(c.sessions, id)
	}
	clear(c.codes)
	c.mutex.Unlock()

	for _, s := range sessions {
		s.Close()
		s.Wait()
	}
	log.WithField("module", "controller").Infof("shut down %d sessions", len(sessions))
}

func (c *Controller) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.sessions)
}
