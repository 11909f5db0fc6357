// Package recommend ranks catalog tracks by heuristic similarity to a seed
// track.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"swipetune/models"
)

const (
	artistWeight = 50
	genreWeight  = 20

	DefaultSearchWindow = 50
	DefaultCandidateCap = 20
	DefaultLimit        = 5
	DefaultConcurrency  = 8
)

var ErrUpstreamLookup = errors.New("recommend: upstream lookup failed")

// LookupError wraps a catalog failure hit while building recommendations.
type LookupError struct {
	Op  string
	Err error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("recommend: %s: %v", e.Op, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

func (e *LookupError) Is(target error) bool {
	return target == ErrUpstreamLookup
}

// Catalog is the slice of the catalog API the recommender needs.
type Catalog interface {
	GetTrack(ctx context.Context, trackID string) (models.Track, error)
	GetArtistGenres(ctx context.Context, artistIDs []string) ([]string, error)
	SearchTracks(ctx context.Context, query string, limit int) ([]models.Track, error)
}

type Options struct {
	SearchWindow int
	CandidateCap int
	DefaultLimit int
	Concurrency  int
}

type Recommender struct {
	catalog Catalog
	opts    Options
}

func New(catalog Catalog, opts Options) *Recommender {
	if opts.SearchWindow <= 0 {
		opts.SearchWindow = DefaultSearchWindow
	}
	if opts.CandidateCap <= 0 {
		opts.CandidateCap = DefaultCandidateCap
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Recommender{catalog: catalog, opts: opts}
}

// Recommend returns up to limit candidates ranked by Score against the seed,
// best first. A limit of zero or less uses the configured default.
func (r *Recommender) Recommend(ctx context.Context, seedTrackID string, limit int) ([]models.Candidate, error) {
	logger := log.WithFields(log.Fields{
		"module": "recommend",
		"method": "Recommend",
		"seed":   seedTrackID,
	})

	if limit <= 0 {
		limit = r.opts.DefaultLimit
	}

	seed, err := r.resolveSeed(ctx, seedTrackID)
	if err != nil {
		return nil, err
	}

	query := SearchQuery(seed)
	logger.Debugf("searching candidates with %q", query)

	found, err := r.catalog.SearchTracks(ctx, query, r.opts.SearchWindow)
	if err != nil {
		return nil, &LookupError{Op: "search candidates", Err: err}
	}

	pool := make([]models.Track, 0, r.opts.CandidateCap)
	for _, t := range found {
		if t.ID == seed.ID || t.ID == "" {
			continue
		}
		pool = append(pool, t)
		if len(pool) == r.opts.CandidateCap {
			break
		}
	}

	enriched, err := r.enrich(ctx, pool)
	if err != nil {
		return nil, err
	}

	candidates := make([]models.Candidate, 0, len(enriched))
	for _, t := range enriched {
		candidates = append(candidates, models.Candidate{Track: t, Similarity: Score(seed, t)})
	}

	// stable: equal scores keep the search ranking
	slices.SortStableFunc(candidates, func(a, b models.Candidate) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		default:
			return 0
		}
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	logger.Debugf("ranked %d of %d candidates", len(candidates), len(pool))
	return candidates, nil
}

func (r *Recommender) resolveSeed(ctx context.Context, seedTrackID string) (models.Track, error) {
	seed, err := r.catalog.GetTrack(ctx, seedTrackID)
	if err != nil {
		return models.Track{}, &LookupError{Op: "get seed track", Err: err}
	}
	if len(seed.Artists) == 0 {
		return seed.WithGenres(), nil
	}

	genres, err := r.catalog.GetArtistGenres(ctx, seed.ArtistIDs())
	if err != nil {
		return models.Track{}, &LookupError{Op: "get seed artists", Err: err}
	}
	return seed.WithGenres(genres), nil
}

// enrich fills in genres for every track concurrently. Results land in the
// slot of their input, so ordering does not depend on completion order.
func (r *Recommender) enrich(ctx context.Context, tracks []models.Track) ([]models.Track, error) {
	out := make([]models.Track, len(tracks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)

	for i, t := range tracks {
		g.Go(func() error {
			if len(t.Artists) == 0 {
				out[i] = t.WithGenres()
				return nil
			}
			genres, err := r.catalog.GetArtistGenres(ctx, t.ArtistIDs())
			if err != nil {
				return &LookupError{Op: fmt.Sprintf("get artists of %s", t.ID), Err: err}
			}
			out[i] = t.WithGenres(genres)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchQuery builds the candidate search from the seed's first genre,
// falling back to its first artist and then its title.
func SearchQuery(seed models.Track) string {
	if len(seed.Genres) > 0 {
		return fmt.Sprintf("genre:%q", seed.Genres[0])
	}
	if artist := seed.PrimaryArtist(); artist != "" {
		return fmt.Sprintf("artist:%q", artist)
	}
	return seed.Name
}

// Score is 50 per shared artist id, 20 per shared genre, plus a popularity
// proximity term in [0, 50].
func Score(seed, candidate models.Track) float64 {
	seedArtists := make(map[string]bool, len(seed.Artists))
	for _, a := range seed.Artists {
		seedArtists[a.ID] = true
	}
	sharedArtists := 0
	counted := make(map[string]bool)
	for _, a := range candidate.Artists {
		if seedArtists[a.ID] && !counted[a.ID] {
			counted[a.ID] = true
			sharedArtists++
		}
	}

	seedGenres := make(map[string]bool, len(seed.Genres))
	for _, g := range seed.Genres {
		seedGenres[strings.ToLower(g)] = true
	}
	sharedGenres := 0
	for _, g := range candidate.Genres {
		key := strings.ToLower(g)
		if seedGenres[key] {
			seedGenres[key] = false
			sharedGenres++
		}
	}

	diff := math.Abs(float64(clampPopularity(seed.Popularity) - clampPopularity(candidate.Popularity)))
	return float64(artistWeight*sharedArtists+genreWeight*sharedGenres) + (100-diff)/2
}

func clampPopularity(p int) int {
	return max(0, min(p, 100))
}
