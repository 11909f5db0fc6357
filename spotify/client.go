package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sentry "github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
	spotifyclient "github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"swipetune/models"
	"swipetune/sentryhelper"
)

// Web API batch limits.
const (
	maxTracksPerRequest  = 50
	maxArtistsPerRequest = 50
	maxSearchLimit       = 50
	defaultRateLimit     = 10
)

var (
	ErrNotFound  = errors.New("spotify: not found")
	ErrForbidden = errors.New("spotify: forbidden")
)

type SpotifyRequest struct {
	TrackID    string
	PlaylistID string
	ArtistID   string
	AlbumID    string
}

// Client is a typed facade over the Spotify Web API for one bearer
// credential. Every call waits on a client-side rate limiter and is wrapped
// in a Sentry span.
type Client struct {
	api     *spotifyclient.Client
	limiter *rate.Limiter
}

type Option func(*options)

type options struct {
	baseURL   string
	rateLimit int
}

// WithBaseURL points the client at a different API root. Used by tests.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

func WithRateLimit(perSecond int) Option {
	return func(o *options) { o.rateLimit = perSecond }
}

// NewClient builds a client whose requests carry the bearer token of ts. The
// token is cached until shortly before its expiry and then fetched from ts
// again, so a refreshed token is picked up without rebuilding the client.
func NewClient(ctx context.Context, ts oauth2.TokenSource, opts ...Option) *Client {
	o := options{rateLimit: defaultRateLimit}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rateLimit <= 0 {
		o.rateLimit = defaultRateLimit
	}

	httpClient := oauth2.NewClient(ctx, ts)
	clientOpts := []spotifyclient.ClientOption{spotifyclient.WithRetry(true)}
	if o.baseURL != "" {
		clientOpts = append(clientOpts, spotifyclient.WithBaseURL(o.baseURL))
	}

	return &Client{
		api:     spotifyclient.New(httpClient, clientOpts...),
		limiter: rate.NewLimiter(rate.Limit(o.rateLimit), o.rateLimit),
	}
}

// NewClientWithToken builds a client for a raw access token handed in by a
// caller, as the stateless endpoints do.
func NewClientWithToken(ctx context.Context, accessToken string, opts ...Option) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	return NewClient(ctx, ts, opts...)
}

func (c *Client) startSpan(ctx context.Context, op, description string) (*sentry.Span, error) {
	span := sentryhelper.StartSpan(ctx, op)
	span.Description = description
	if err := c.limiter.Wait(ctx); err != nil {
		span.Status = sentry.SpanStatusCanceled
		span.Finish()
		return nil, err
	}
	return span, nil
}

func finishSpan(ctx context.Context, span *sentry.Span, err error) error {
	defer span.Finish()
	if err != nil {
		sentryhelper.CaptureException(ctx, err)
		span.Status = sentry.SpanStatusInternalError
		return classify(err)
	}
	span.Status = sentry.SpanStatusOK
	return nil
}

// classify maps Web API status codes onto package sentinels while keeping the
// original error in the chain.
func classify(err error) error {
	var apiErr spotifyclient.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrForbidden, err)
		}
	}
	return err
}

func (c *Client) GetTrack(ctx context.Context, trackID string) (models.Track, error) {
	log.Tracef("Fetching track from Spotify API: %s", trackID)

	span, err := c.startSpan(ctx, "spotify.get_track", "Get track from Spotify API")
	if err != nil {
		return models.Track{}, err
	}
	span.SetTag("track_id", trackID)

	track, err := c.api.GetTrack(ctx, spotifyclient.ID(trackID))
	if err := finishSpan(ctx, span, err); err != nil {
		log.Errorf("Failed to fetch Spotify track %s: %v", trackID, err)
		return models.Track{}, err
	}

	return toTrack(track.SimpleTrack, int(track.Popularity)), nil
}

// GetTracks resolves ids in batches. Unknown ids are skipped; the order of
// the remaining tracks follows ids.
func (c *Client) GetTracks(ctx context.Context, trackIDs []string) ([]models.Track, error) {
	tracks := make([]models.Track, 0, len(trackIDs))
	for start := 0; start < len(trackIDs); start += maxTracksPerRequest {
		end := min(start+maxTracksPerRequest, len(trackIDs))

		span, err := c.startSpan(ctx, "spotify.get_tracks", "Get tracks from Spotify API")
		if err != nil {
			return nil, err
		}
		span.SetData("count", end-start)

		ids := make([]spotifyclient.ID, 0, end-start)
		for _, id := range trackIDs[start:end] {
			ids = append(ids, spotifyclient.ID(id))
		}

		batch, err := c.api.GetTracks(ctx, ids)
		if err := finishSpan(ctx, span, err); err != nil {
			log.Errorf("Failed to fetch %d Spotify tracks: %v", len(ids), err)
			return nil, err
		}
		for _, t := range batch {
			if t == nil {
				continue
			}
			tracks = append(tracks, toTrack(t.SimpleTrack, int(t.Popularity)))
		}
	}
	return tracks, nil
}

// GetArtistGenres returns the union of the genre lists of the given artists.
func (c *Client) GetArtistGenres(ctx context.Context, artistIDs []string) ([]string, error) {
	lists := [][]string{}
	for start := 0; start < len(artistIDs); start += maxArtistsPerRequest {
		end := min(start+maxArtistsPerRequest, len(artistIDs))

		span, err := c.startSpan(ctx, "spotify.get_artists", "Get artists from Spotify API")
		if err != nil {
			return nil, err
		}
		span.SetData("count", end-start)

		ids := make([]spotifyclient.ID, 0, end-start)
		for _, id := range artistIDs[start:end] {
			ids = append(ids, spotifyclient.ID(id))
		}

		artists, err := c.api.GetArtists(ctx, ids...)
		if err := finishSpan(ctx, span, err); err != nil {
			log.Errorf("Failed to fetch Spotify artists %v: %v", artistIDs[start:end], err)
			return nil, err
		}
		for _, a := range artists {
			if a != nil {
				lists = append(lists, a.Genres)
			}
		}
	}
	return models.Track{}.WithGenres(lists...).Genres, nil
}

// SearchTracks runs a track search. Results carry no genres.
func (c *Client) SearchTracks(ctx context.Context, query string, limit int) ([]models.Track, error) {
	if limit <= 0 || limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	span, err := c.startSpan(ctx, "spotify.search", "Search Spotify API")
	if err != nil {
		return nil, err
	}
	span.SetTag("query", query)

	results, err := c.api.Search(ctx, query, spotifyclient.SearchTypeTrack, spotifyclient.Limit(limit))
	if err := finishSpan(ctx, span, err); err != nil {
		log.Errorf("Spotify search %q failed: %v", query, err)
		return nil, err
	}

	if results == nil || results.Tracks == nil {
		return []models.Track{}, nil
	}
	tracks := make([]models.Track, 0, len(results.Tracks.Tracks))
	for _, t := range results.Tracks.Tracks {
		tracks = append(tracks, toTrack(t.SimpleTrack, int(t.Popularity)))
	}
	return tracks, nil
}

func (c *Client) ArtistTopTracks(ctx context.Context, artistID string, limit int) ([]models.Track, error) {
	span, err := c.startSpan(ctx, "spotify.get_artist_top_songs", "Get artist top songs from Spotify API")
	if err != nil {
		return nil, err
	}
	span.SetTag("artist_id", artistID)

	results, err := c.api.GetArtistsTopTracks(ctx, spotifyclient.ID(artistID), "US")
	if err := finishSpan(ctx, span, err); err != nil {
		return nil, err
	}

	tracks := []models.Track{}
	for _, t := range results {
		if limit > 0 && len(tracks) == limit {
			break
		}
		tracks = append(tracks, toTrack(t.SimpleTrack, int(t.Popularity)))
	}
	return tracks, nil
}

// FindOrCreatePlaylist returns the id of the current user's playlist called
// name, creating a private one when none exists.
func (c *Client) FindOrCreatePlaylist(ctx context.Context, name string) (string, error) {
	logger := log.WithFields(log.Fields{
		"module":   "spotify",
		"method":   "FindOrCreatePlaylist",
		"playlist": name,
	})

	span, err := c.startSpan(ctx, "spotify.find_playlist", "Find session playlist")
	if err != nil {
		return "", err
	}
	page, err := c.api.CurrentUsersPlaylists(ctx, spotifyclient.Limit(50))
	if err := finishSpan(ctx, span, err); err != nil {
		return "", err
	}

	for {
		for _, p := range page.Playlists {
			if p.Name == name {
				logger.Tracef("found existing playlist %s", p.ID)
				return string(p.ID), nil
			}
		}
		err := c.api.NextPage(ctx, page)
		if errors.Is(err, spotifyclient.ErrNoMorePages) {
			break
		}
		if err != nil {
			return "", classify(err)
		}
	}

	span, err = c.startSpan(ctx, "spotify.create_playlist", "Create session playlist")
	if err != nil {
		return "", err
	}
	user, err := c.api.CurrentUser(ctx)
	if err != nil {
		return "", finishSpan(ctx, span, err)
	}
	created, err := c.api.CreatePlaylistForUser(ctx, user.ID, name, "Tracks liked while swiping", false, false)
	if err := finishSpan(ctx, span, err); err != nil {
		return "", err
	}

	logger.Debugf("created playlist %s", created.ID)
	return string(created.ID), nil
}

func (c *Client) AddTrackToPlaylist(ctx context.Context, playlistID, trackID string) error {
	span, err := c.startSpan(ctx, "spotify.add_to_playlist", "Add track to playlist")
	if err != nil {
		return err
	}
	span.SetTag("playlist_id", playlistID)
	span.SetTag("track_id", trackID)

	_, err = c.api.AddTracksToPlaylist(ctx, spotifyclient.ID(playlistID), spotifyclient.ID(trackID))
	return finishSpan(ctx, span, err)
}

func toTrack(t spotifyclient.SimpleTrack, popularity int) models.Track {
	artists := make([]models.Artist, 0, len(t.Artists))
	for _, a := range t.Artists {
		artists = append(artists, models.Artist{ID: string(a.ID), Name: a.Name})
	}
	return models.Track{
		ID:         string(t.ID),
		Name:       t.Name,
		Artists:    artists,
		Popularity: max(0, min(popularity, 100)),
	}
}

func ParseSpotifyURL(url string) (SpotifyRequest, error) {
	if strings.HasPrefix(url, "https://open.spotify.com/") {
		parts := strings.Split(url, "/")
		if len(parts) < 5 {
			log.Warnf("Invalid Spotify URL format (too few parts): %s", url)
			return SpotifyRequest{}, errors.New("invalid Spotify URL")
		}

		request := SpotifyRequest{}

		// Strip query parameters from ID (e.g., ?si=tracking_id)
		id := strings.Split(parts[4], "?")[0]

		switch parts[3] {
		case "playlist":
			request.PlaylistID = id
		case "artist":
			request.ArtistID = id
		case "album":
			request.AlbumID = id
		case "track":
			request.TrackID = id
		}

		return request, nil
	}

	return SpotifyRequest{}, errors.New("invalid Spotify URL")
}

// TrackIDFromInput accepts a bare track id, a spotify:track: URI or an
// open.spotify.com track URL.
func TrackIDFromInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	switch {
	case input == "":
		return "", errors.New("empty track id")
	case strings.HasPrefix(input, "spotify:track:"):
		return strings.TrimPrefix(input, "spotify:track:"), nil
	case strings.HasPrefix(input, "https://"):
		req, err := ParseSpotifyURL(input)
		if err != nil {
			return "", err
		}
		if req.TrackID == "" {
			return "", errors.New("not a Spotify track URL")
		}
		return req.TrackID, nil
	default:
		return input, nil
	}
}
