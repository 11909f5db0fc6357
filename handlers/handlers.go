// Package handlers exposes the token lifecycle, the recommenders and the
// swipe sessions over JSON. Handlers parse and validate requests, call into
// the domain packages and map errors onto status codes and fallback messages.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"swipetune/auth"
	"swipetune/controller"
	"swipetune/expansion"
	"swipetune/helpers"
	"swipetune/models"
	"swipetune/pages"
	"swipetune/recommend"
	"swipetune/sentryhelper"
)

const (
	searchLimit    = 10
	topTracksLimit = 7
)

// Catalog is the catalog surface the stateless endpoints use.
type Catalog interface {
	recommend.Catalog
	GetTracks(ctx context.Context, trackIDs []string) ([]models.Track, error)
	ArtistTopTracks(ctx context.Context, artistID string, limit int) ([]models.Track, error)
	FindOrCreatePlaylist(ctx context.Context, name string) (string, error)
	AddTrackToPlaylist(ctx context.Context, playlistID, trackID string) error
}

// Exchanger is the identity provider plus its consent page.
type Exchanger interface {
	auth.Exchanger
	AuthorizeURL(state string) string
}

type Manager struct {
	Controller *controller.Controller
	Exchanger  Exchanger
	// Catalog builds a catalog client for a caller supplied access token.
	Catalog func(ctx context.Context, accessToken string) Catalog
	// Generator backs /ai-recommendations; nil disables it.
	Generator expansion.Generator

	Recommend    recommend.Options
	Expansion    expansion.Options
	PlaylistName string

	logins singleflight.Group
	now    func() time.Time

	// codes already exchanged by /login
	exchangedMu sync.Mutex
	exchanged   map[string]exchangedCode
}

func (m *Manager) clock() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now()
}

// Register mounts every route on r.
func (m *Manager) Register(r gin.IRouter) {
	r.Use(requestTransaction())

	r.GET("/healthz", m.handleHealth)
	r.GET("/privacy", func(c *gin.Context) { c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(pages.PrivacyPolicy())) })
	r.GET("/terms", func(c *gin.Context) { c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(pages.TermsOfService())) })
	r.GET("/authorize", m.handleAuthorize)
	r.POST("/login", m.handleLogin)
	r.POST("/refresh", m.handleRefresh)

	r.POST("/recommendations", m.handleRecommendations)
	r.POST("/ai-recommendations", m.handleAIRecommendations)
	r.POST("/add-to-playlist", m.handleAddToPlaylist)
	r.GET("/search", m.handleSearch)
	r.GET("/artists/:id/top-tracks", m.handleArtistTopTracks)

	r.POST("/sessions", m.handleCreateSession)
	sessions := r.Group("/sessions/:id", m.loadSession)
	sessions.POST("/seed", m.handleSeed)
	sessions.POST("/swipe", m.handleSwipe)
	sessions.GET("/queue", m.handleQueue)
	sessions.GET("/liked", m.handleLiked)
	sessions.GET("/history", m.handleHistory)
	sessions.DELETE("", m.handleEndSession)
}

// requestTransaction gives every request its own hub and transaction.
func requestTransaction() gin.HandlerFunc {
	return func(c *gin.Context) {
		op := c.FullPath()
		if op == "" {
			op = "unmatched"
		}
		ctx, tx := sentryhelper.StartRequestTransaction(c.Request.Context(), op, c.Param("id"))
		defer tx.Finish()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
		tx.SetData("http.status_code", c.Writer.Status())
	}
}

func abort(c *gin.Context, status int, key string) {
	c.AbortWithStatusJSON(status, gin.H{"error": helpers.FallbackMessage(key)})
}

func logger(c *gin.Context, method string) *log.Entry {
	return log.WithFields(log.Fields{
		"module": "handlers",
		"method": method,
		"path":   c.FullPath(),
	})
}

func (m *Manager) handleHealth(c *gin.Context) {
	sessions := 0
	if m.Controller != nil {
		sessions = m.Controller.Len()
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "sessions": sessions})
}

// expiresIn is the remaining token lifetime in whole seconds.
func expiresIn(tok *oauth2.Token, now time.Time) int {
	if tok.Expiry.IsZero() {
		return int(tok.ExpiresIn)
	}
	return max(int(tok.Expiry.Sub(now)/time.Second), 0)
}

func writeErr(c *gin.Context, method string, err error) {
	switch {
	case errors.Is(err, controller.ErrSessionClosed):
		abort(c, http.StatusNotFound, "not_found")
	case errors.Is(err, controller.ErrInvalidDirection), errors.Is(err, controller.ErrEmptyTrackID):
		abort(c, http.StatusBadRequest, "bad_request")
	case errors.Is(err, auth.ErrEmptyCode), errors.Is(err, auth.ErrExchange):
		abort(c, http.StatusBadRequest, "login")
	case errors.Is(err, recommend.ErrUpstreamLookup):
		logger(c, method).Warnf("upstream lookup failed: %v", err)
		abort(c, http.StatusInternalServerError, "recommend")
	default:
		logger(c, method).Errorf("request failed: %v", err)
		sentryhelper.CaptureException(c.Request.Context(), err)
		abort(c, http.StatusInternalServerError, "")
	}
}
