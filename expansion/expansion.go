// Package expansion turns a listener's liked tracks into fresh catalog ids by
// asking a text generator for similar songs and resolving its answer against
// the catalog.
package expansion

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"swipetune/helpers"
	"swipetune/models"
	"swipetune/sentryhelper"
)

const (
	DefaultAttempts    = 2
	DefaultConcurrency = 4
)

// ErrEmptyExpansion means every attempt resolved to nothing. It is not fatal;
// the caller simply has no new tracks.
var ErrEmptyExpansion = errors.New("expansion: no suggestions resolved")

// ErrBlankResponse is returned (possibly wrapped) by a Generator whose model
// answered with no text. It counts as an attempt with zero suggestions.
var ErrBlankResponse = errors.New("expansion: blank generator response")

// ExpansionError aborts an expansion. Stage names the step that failed.
type ExpansionError struct {
	Stage string
	Err   error
}

func (e *ExpansionError) Error() string {
	return fmt.Sprintf("expansion: %s: %v", e.Stage, e.Err)
}

func (e *ExpansionError) Unwrap() error {
	return e.Err
}

// Generator produces free text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Catalog interface {
	GetTracks(ctx context.Context, trackIDs []string) ([]models.Track, error)
	SearchTracks(ctx context.Context, query string, limit int) ([]models.Track, error)
}

type Options struct {
	Attempts       int
	MaxSuggestions int
	Concurrency    int
}

type Resolver struct {
	generator Generator
	catalog   Catalog
	opts      Options
}

func New(generator Generator, catalog Catalog, opts Options) *Resolver {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.MaxSuggestions <= 0 || opts.MaxSuggestions > MaxSuggestions {
		opts.MaxSuggestions = MaxSuggestions
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Resolver{generator: generator, catalog: catalog, opts: opts}
}

// Expand returns catalog ids of songs similar to likedTrackIDs, in suggestion
// order and without duplicates. An empty result always comes with
// ErrEmptyExpansion.
func (r *Resolver) Expand(ctx context.Context, likedTrackIDs []string) ([]string, error) {
	logger := log.WithFields(log.Fields{
		"module": "expansion",
		"method": "Expand",
		"liked":  len(likedTrackIDs),
	})

	if len(likedTrackIDs) == 0 {
		return []string{}, ErrEmptyExpansion
	}

	span := sentryhelper.StartSpan(ctx, "expansion.expand")
	defer span.Finish()
	ctx = span.Context()

	liked, err := r.catalog.GetTracks(ctx, likedTrackIDs)
	if err != nil {
		return []string{}, &ExpansionError{Stage: "resolve liked tracks", Err: err}
	}
	prompt := BuildPrompt(liked)

	ids, err := helpers.RetryOnEmpty(ctx, r.opts.Attempts, helpers.EmptySlice[string],
		func(ctx context.Context, attempt int) ([]string, error) {
			text, err := r.generator.Generate(ctx, prompt)
			if errors.Is(err, ErrBlankResponse) {
				logger.Debugf("attempt %d: blank response", attempt)
				return []string{}, nil
			}
			if err != nil {
				return nil, &ExpansionError{Stage: "generate", Err: err}
			}
			suggestions := parseSuggestions(text, r.opts.MaxSuggestions)
			ids := r.resolve(ctx, suggestions)
			logger.Debugf("attempt %d: %d suggestions, %d resolved", attempt, len(suggestions), len(ids))
			return ids, nil
		})
	if err != nil {
		logger.Warnf("expansion failed: %v", err)
		return []string{}, err
	}
	if len(ids) == 0 {
		logger.Info("expansion resolved nothing")
		return []string{}, ErrEmptyExpansion
	}
	return ids, nil
}

// resolve looks up every suggestion concurrently. Misses and lookup failures
// are skipped.
func (r *Resolver) resolve(ctx context.Context, suggestions []Suggestion) []string {
	slots := make([]string, len(suggestions))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, s := range suggestions {
		g.Go(func() error {
			found, err := r.catalog.SearchTracks(ctx, s.Query(), 1)
			if err != nil {
				log.WithField("module", "expansion").Debugf("lookup of %q failed: %v", s.Query(), err)
				return nil
			}
			if len(found) > 0 {
				slots[i] = found[0].ID
			}
			return nil
		})
	}
	_ = g.Wait()

	seen := helpers.NewIDSet()
	for _, id := range slots {
		seen.Add(id)
	}
	return seen.IDs()
}
