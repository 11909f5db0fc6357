package controller

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"

	"swipetune/auth"
	"swipetune/database"
	"swipetune/expansion"
	"swipetune/helpers"
	"swipetune/models"
	"swipetune/sentryhelper"
)

type SwipeResult struct {
	Liked            bool
	QueueLength      int
	ExpansionStarted bool
}

// Session is one listener's swipe queue. Queue and liked state are guarded
// by mu; background playlist syncs and expansions run in goroutines tracked
// by wg.
type Session struct {
	ID string

	// authorization code the session was created from
	code string

	auth     *auth.Manager
	services Services
	swipeLog SwipeLog
	opts     Options

	// cancelled on Close
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	queue     []models.Track
	liked     *helpers.IDSet
	seen      *helpers.IDSet // queued, liked or swiped at some point
	expanding bool
	closed    bool

	playlistMu sync.Mutex
	playlistID string
}

// newSession keeps the hub of the creating request but none of its
// cancellation; the session outlives that request.
func newSession(parent context.Context, id string, manager *auth.Manager, services Services, swipeLog SwipeLog, opts Options) *Session {
	ctx, cancel := context.WithCancel(sentryhelper.DetachFromTransaction(parent))
	ctx = sentryhelper.WithSessionHub(ctx, id)

	return &Session{
		ID:       id,
		auth:     manager,
		services: services,
		swipeLog: swipeLog,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		queue:    []models.Track{},
		liked:    helpers.NewIDSet(),
		seen:     helpers.NewIDSet(),
	}
}

func (s *Session) logger(method string) *log.Entry {
	return log.WithFields(log.Fields{
		"module":    "controller",
		"method":    method,
		"sessionID": s.ID,
	})
}

// Auth exposes the credential lifecycle of the session.
func (s *Session) Auth() *auth.Manager {
	return s.auth
}

// Seed replaces the queue with recommendations for trackID and counts the
// seed as liked. The seed is not added to the playlist.
func (s *Session) Seed(ctx context.Context, trackID string, limit int) ([]models.Candidate, error) {
	if trackID == "" {
		return nil, ErrEmptyTrackID
	}
	if s.isClosed() {
		return nil, ErrSessionClosed
	}

	candidates, err := s.services.Recommender.Recommend(ctx, trackID, limit)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}

	s.liked.Add(trackID)
	s.seen.Add(trackID)

	batch := helpers.NewIDSet()
	queued := make([]models.Candidate, 0, len(candidates))
	s.queue = make([]models.Track, 0, len(candidates))
	for _, c := range candidates {
		if s.liked.Has(c.ID) || !batch.Add(c.ID) {
			continue
		}
		s.queue = append(s.queue, c.Track)
		s.seen.Add(c.ID)
		queued = append(queued, c)
	}

	s.logger("Seed").Debugf("queued %d of %d candidates for seed %s", len(queued), len(candidates), trackID)
	return queued, nil
}

// Swipe removes trackID from the queue. A right swipe likes it, syncs it to
// the playlist in the background and may start a queue expansion.
func (s *Session) Swipe(direction models.Direction, trackID string) (SwipeResult, error) {
	if !direction.Valid() {
		return SwipeResult{}, ErrInvalidDirection
	}
	if trackID == "" {
		return SwipeResult{}, ErrEmptyTrackID
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return SwipeResult{}, ErrSessionClosed
	}

	s.queue = slices.DeleteFunc(s.queue, func(t models.Track) bool { return t.ID == trackID })
	s.seen.Add(trackID)

	newlyLiked := false
	if direction == models.SwipeRight {
		newlyLiked = s.liked.Add(trackID)
	}

	var likedSnapshot []string
	expansionStarted := false
	if direction == models.SwipeRight && s.shouldExpandLocked() {
		s.expanding = true
		expansionStarted = true
		likedSnapshot = s.liked.IDs()
	}

	result := SwipeResult{
		Liked:            s.liked.Has(trackID),
		QueueLength:      len(s.queue),
		ExpansionStarted: expansionStarted,
	}

	if newlyLiked {
		s.wg.Add(1)
	}
	if expansionStarted {
		s.wg.Add(1)
	}

	// recorded before unlocking so Close cannot forget the session first
	if s.swipeLog != nil {
		if err := s.swipeLog.RecordSwipe(s.ID, trackID, direction); err != nil {
			s.logger("Swipe").Warnf("failed to record swipe: %v", err)
		}
	}
	s.mu.Unlock()

	sentryhelper.AddBreadcrumb(s.ctx, &sentry.Breadcrumb{
		Category: "swipe",
		Message:  string(direction) + " " + trackID,
		Level:    sentry.LevelInfo,
	})

	if newlyLiked {
		go s.syncPlaylist(trackID)
	}
	if expansionStarted {
		go s.expand(likedSnapshot)
	}

	return result, nil
}

func (s *Session) shouldExpandLocked() bool {
	return s.services.Expander != nil &&
		!s.closed &&
		!s.expanding &&
		s.liked.Len() >= s.opts.LikeThreshold &&
		len(s.queue) <= s.opts.QueueLowWater
}

// syncPlaylist appends a liked track to the session playlist. Failures are
// reported but never undo the like.
func (s *Session) syncPlaylist(trackID string) {
	defer s.wg.Done()
	logger := s.logger("syncPlaylist")

	ctx, tx := sentryhelper.StartLinkedTransaction(s.ctx, "session.playlist_sync", "task", s.ID)
	defer tx.Finish()

	playlistID, err := s.addToPlaylist(ctx, trackID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debugf("playlist sync of %s cancelled", trackID)
		} else {
			logger.Warnf("playlist sync of %s failed: %v", trackID, err)
			sentryhelper.CaptureException(ctx, err)
		}
	} else {
		logger.Tracef("synced %s to playlist %s", trackID, playlistID)
	}

	if s.opts.OnPlaylistSync != nil {
		s.opts.OnPlaylistSync(s.ID, trackID, err)
	}
}

func (s *Session) addToPlaylist(ctx context.Context, trackID string) (string, error) {
	// serialize so concurrent likes do not each create a playlist
	s.playlistMu.Lock()
	defer s.playlistMu.Unlock()

	if s.playlistID == "" {
		id, err := s.services.Catalog.FindOrCreatePlaylist(ctx, s.opts.PlaylistName)
		if err != nil {
			return "", err
		}
		s.playlistID = id
	}
	return s.playlistID, s.services.Catalog.AddTrackToPlaylist(ctx, s.playlistID, trackID)
}

// expand asks the expander for more tracks and appends the ones this session
// has never seen. Results arriving after Close are dropped.
func (s *Session) expand(likedIDs []string) {
	defer s.wg.Done()
	logger := s.logger("expand")

	ctx, tx := sentryhelper.StartLinkedTransaction(s.ctx, "session.expand", "task", s.ID)
	defer tx.Finish()

	added, err := s.runExpansion(ctx, likedIDs)

	s.mu.Lock()
	s.expanding = false
	closed := s.closed
	s.mu.Unlock()

	if closed {
		logger.Debug("session closed, discarding expansion result")
		return
	}

	switch {
	case errors.Is(err, expansion.ErrEmptyExpansion):
		logger.Info("expansion found nothing new")
		sentryhelper.CaptureMessage(ctx, "expansion produced no tracks")
	case err != nil:
		logger.Warnf("expansion failed: %v", err)
		sentryhelper.CaptureException(ctx, err)
	default:
		logger.Debugf("expansion appended %d tracks", len(added))
	}

	if s.opts.OnExpansion != nil {
		s.opts.OnExpansion(s.ID, added, err)
	}
}

func (s *Session) runExpansion(ctx context.Context, likedIDs []string) ([]string, error) {
	ids, err := s.services.Expander.Expand(ctx, likedIDs)
	if err != nil {
		return []string{}, err
	}

	s.mu.Lock()
	fresh := s.seen.Filter(ids)
	s.mu.Unlock()
	if len(fresh) == 0 {
		return []string{}, expansion.ErrEmptyExpansion
	}

	tracks, err := s.services.Catalog.GetTracks(ctx, fresh)
	if err != nil {
		return []string{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return []string{}, ErrSessionClosed
	}

	added := []string{}
	for _, t := range tracks {
		// the queue may have moved on while we were fetching
		if !s.seen.Add(t.ID) {
			continue
		}
		s.queue = append(s.queue, t)
		added = append(added, t.ID)
	}
	if len(added) == 0 {
		return added, expansion.ErrEmptyExpansion
	}
	return added, nil
}

func (s *Session) Queue() []models.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.queue)
}

func (s *Session) Liked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liked.IDs()
}

func (s *Session) Expanding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expanding
}

// History returns the recorded swipes of this session, newest first.
func (s *Session) History(limit int) ([]database.SwipeRecord, error) {
	if s.swipeLog == nil {
		return nil, ErrNoSwipeLog
	}
	return s.swipeLog.History(s.ID, limit)
}

// Wait blocks until every background task started so far has finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close ends the session: pending background work is cancelled, its results
// are discarded and the credential is logged out. Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = []models.Track{}
	s.mu.Unlock()

	s.cancel()
	if s.auth != nil {
		s.auth.Logout()
	}
	if s.swipeLog != nil {
		if err := s.swipeLog.Forget(s.ID); err != nil {
			s.logger("Close").Warnf("failed to forget swipes: %v", err)
		}
	}
	s.logger("Close").Info("session closed")
}
