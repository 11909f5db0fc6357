package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"swipetune/controller"
	"swipetune/models"
	"swipetune/spotify"
)

const sessionKey = "session"

type createSessionRequest struct {
	Code string `json:"code"`
}

type seedRequest struct {
	TrackID string `json:"trackId"`
	Limit   int    `json:"limit"`
}

type swipeRequest struct {
	Direction models.Direction `json:"direction"`
	TrackID   string           `json:"trackId"`
}

type historyResponse struct {
	TrackID   string           `json:"trackId"`
	Direction models.Direction `json:"direction"`
	SwipedAt  time.Time        `json:"swipedAt"`
}

func (m *Manager) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		abort(c, http.StatusBadRequest, "login")
		return
	}

	s, err := m.Controller.NewSession(c.Request.Context(), req.Code)
	if err != nil {
		writeErr(c, "handleCreateSession", err)
		return
	}

	current, ok := s.Auth().Current()
	if !ok {
		abort(c, http.StatusNotFound, "reauth")
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"sessionId":   s.ID,
		"accessToken": current.AccessToken,
		"expiresIn":   current.ExpiresIn(m.clock()),
	})
}

func (m *Manager) loadSession(c *gin.Context) {
	s, ok := m.Controller.Session(c.Param("id"))
	if !ok {
		abort(c, http.StatusNotFound, "not_found")
		return
	}
	c.Set(sessionKey, s)
	c.Next()
}

func session(c *gin.Context) *controller.Session {
	return c.MustGet(sessionKey).(*controller.Session)
}

func (m *Manager) handleSeed(c *gin.Context) {
	var req seedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "bad_request")
		return
	}
	trackID, err := spotify.TrackIDFromInput(req.TrackID)
	if err != nil {
		abort(c, http.StatusBadRequest, "bad_request")
		return
	}

	candidates, err := session(c).Seed(c.Request.Context(), trackID, req.Limit)
	if err != nil {
		writeErr(c, "handleSeed", err)
		return
	}
	c.JSON(http.StatusOK, toCandidates(candidates))
}

func (m *Manager) handleSwipe(c *gin.Context) {
	var req swipeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "bad_request")
		return
	}
	trackID, err := spotify.TrackIDFromInput(req.TrackID)
	if err != nil {
		abort(c, http.StatusBadRequest, "bad_request")
		return
	}

	res, err := session(c).Swipe(req.Direction, trackID)
	if err != nil {
		writeErr(c, "handleSwipe", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"liked":            res.Liked,
		"queueLength":      res.QueueLength,
		"expansionStarted": res.ExpansionStarted,
	})
}

func (m *Manager) handleQueue(c *gin.Context) {
	c.JSON(http.StatusOK, toTracks(session(c).Queue()))
}

func (m *Manager) handleLiked(c *gin.Context) {
	c.JSON(http.StatusOK, session(c).Liked())
}

func (m *Manager) handleHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	records, err := session(c).History(limit)
	if err != nil {
		if errors.Is(err, controller.ErrNoSwipeLog) {
			abort(c, http.StatusNotFound, "")
			return
		}
		writeErr(c, "handleHistory", err)
		return
	}

	out := make([]historyResponse, 0, len(records))
	for _, r := range records {
		out = append(out, historyResponse{TrackID: r.TrackID, Direction: r.Direction, SwipedAt: r.SwipedAt})
	}
	c.JSON(http.StatusOK, out)
}

func (m *Manager) handleEndSession(c *gin.Context) {
	m.Controller.EndSession(session(c).ID)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}
