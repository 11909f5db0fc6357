package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"swipetune/expansion"
	"swipetune/models"
	"swipetune/recommend"
	"swipetune/spotify"
)

type recommendationsRequest struct {
	TrackID     string `json:"trackId"`
	AccessToken string `json:"accessToken"`
	Limit       int    `json:"limit"`
}

type aiRecommendationsRequest struct {
	TrackIDs    []string `json:"trackIds"`
	AccessToken string   `json:"accessToken"`
}

type addToPlaylistRequest struct {
	TrackID     string `json:"trackId"`
	AccessToken string `json:"accessToken"`
}

type candidateResponse struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Artists    []string `json:"artists"`
	Similarity float64  `json:"similarity"`
}

type trackResponse struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Artists    []string `json:"artists"`
	Popularity int      `json:"popularity"`
}

func toCandidates(cs []models.Candidate) []candidateResponse {
	out := make([]candidateResponse, 0, len(cs))
	for _, c := range cs {
		out = append(out, candidateResponse{
			ID:         c.ID,
			Name:       c.Name,
			Artists:    c.ArtistNames(),
			Similarity: c.Similarity,
		})
	}
	return out
}

func toTracks(ts []models.Track) []trackResponse {
	out := make([]trackResponse, 0, len(ts))
	for _, t := range ts {
		out = append(out, trackResponse{
			ID:         t.ID,
			Name:       t.Name,
			Artists:    t.ArtistNames(),
			Popularity: t.Popularity,
		})
	}
	return out
}

func (m *Manager) handleRecommendations(c *gin.Context) {
	var req recommendationsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AccessToken == "" {
		abort(c, http.StatusBadRequest, "bad_request")
		return
	}
	trackID, err := spotify.TrackIDFromInput(req.TrackID)
	if err != nil {
		abort(c, http.StatusBadRequest, "bad_request")
		return
	}

	ctx := c.Request.Context()
	r := recommend.New(m.Catalog(ctx, req.AccessToken), m.Recommend)
	candidates, err := r.Recommend(ctx, trackID, req.Limit)
	if err != nil {
		writeErr(c, "handleRecommendations", err)
		return
	}
	c.JSON(http.StatusOK, toCandidates(candidates))
}

func (m *Manager) handleAIRecommendations(c *gin.Context) {
	if m.Generator == nil {
		abort(c, http.StatusServiceUnavailable, "ai_unavailable")
		return
	}

	var req aiRecommendationsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AccessToken == "" {
		abort(c, http.StatusBadRequest, "bad_request")
		return
	}
	liked := make([]string, 0, len(req.TrackIDs))
	for _, input := range req.TrackIDs {
		id, err := spotify.TrackIDFromInput(input)
		if err != nil {
			abort(c, http.StatusBadRequest, "bad_request")
			return
		}
		liked = append(liked, id)
	}

	ctx := c.Request.Context()
	resolver := expansion.New(m.Generator, m.Catalog(ctx, req.AccessToken), m.Expansion)
	ids, err := resolver.Expand(ctx, liked)
	switch {
	case errors.Is(err, expansion.ErrEmptyExpansion):
		abort(c, http.StatusNotFound, "ai_unavailable")
		return
	case err != nil:
		logger(c, "handleAIRecommendations").Warnf("expansion failed: %v", err)
		abort(c, http.StatusInternalServerError, "ai_unavailable")
		return
	}
	c.JSON(http.StatusOK, ids)
}

func (m *Manager) handleAddToPlaylist(c *gin.Context) {
	var req addToPlaylistRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AccessToken == "" {
		abort(c, http.StatusBadRequest, "bad_request")
		return
	}
	trackID, err := spotify.TrackIDFromInput(req.TrackID)
	if err != nil {
		abort(c, http.StatusBadRequest, "bad_request")
		return
	}

	ctx := c.Request.Context()
	catalog := m.Catalog(ctx, req.AccessToken)
	playlistID, err := catalog.FindOrCreatePlaylist(ctx, m.PlaylistName)
	if err == nil {
		err = catalog.AddTrackToPlaylist(ctx, playlistID, trackID)
	}
	if err != nil {
		logger(c, "handleAddToPlaylist").Warnf("playlist add failed: %v", err)
		abort(c, http.StatusInternalServerError, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Track added to playlist"})
}

func (m *Manager) handleSearch(c *gin.Context) {
	query := c.Query("q")
	token := c.Query("accessToken")
	if query == "" || token == "" {
		abort(c, http.StatusBadRequest, "bad_request")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(searchLimit)))
	if err != nil || limit <= 0 {
		limit = searchLimit
	}

	ctx := c.Request.Context()
	tracks, err := m.Catalog(ctx, token).SearchTracks(ctx, query, limit)
	if err != nil {
		writeErr(c, "handleSearch", err)
		return
	}
	c.JSON(http.StatusOK, toTracks(tracks))
}

func (m *Manager) handleArtistTopTracks(c *gin.Context) {
	token := c.Query("accessToken")
	if token == "" {
		abort(c, http.StatusBadRequest, "bad_request")
		return
	}

	ctx := c.Request.Context()
	tracks, err := m.Catalog(ctx, token).ArtistTopTracks(ctx, c.Param("id"), topTracksLimit)
	switch {
	case errors.Is(err, spotify.ErrNotFound):
		abort(c, http.StatusNotFound, "")
		return
	case err != nil:
		writeErr(c, "handleArtistTopTracks", err)
		return
	}
	c.JSON(http.StatusOK, toTracks(tracks))
}
