package models

import "strings"

type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Track is a catalog track. Genres are not native to a track; they are the
// union of the genre lists of the track's artists and stay empty until the
// artists have been looked up.
type Track struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Artists    []Artist `json:"artists"`
	Popularity int      `json:"popularity"`
	Genres     []string `json:"genres,omitempty"`
}

// Candidate is a track scored against a seed track.
type Candidate struct {
	Track
	Similarity float64 `json:"similarity"`
}

type Direction string

const (
	SwipeLeft  Direction = "left"
	SwipeRight Direction = "right"
)

func (d Direction) Valid() bool {
	return d == SwipeLeft || d == SwipeRight
}

func (t Track) ArtistIDs() []string {
	ids := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		ids = append(ids, a.ID)
	}
	return ids
}

func (t Track) ArtistNames() []string {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		names = append(names, a.Name)
	}
	return names
}

// PrimaryArtist returns the first credited artist name, or "" when the track
// has no artists.
func (t Track) PrimaryArtist() string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0].Name
}

// WithGenres returns a copy of the track whose genre list is the union of the
// given per-artist genre lists, in first-seen order.
func (t Track) WithGenres(genreLists ...[]string) Track {
	seen := make(map[string]bool)
	genres := []string{}
	for _, list := range genreLists {
		for _, g := range list {
			key := strings.ToLower(strings.TrimSpace(g))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			genres = append(genres, g)
		}
	}
	t.Genres = genres
	return t
}
