package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
)

func TestParseSpotifyURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    SpotifyRequest
		wantErr bool
	}{
		{
			name: "track",
			url:  "https://open.spotify.com/track/0VjIjW4GlUZAMYd2vXMi3b",
			want: SpotifyRequest{TrackID: "0VjIjW4GlUZAMYd2vXMi3b"},
		},
		{
			name: "track with si query",
			url:  "https://open.spotify.com/track/0VjIjW4GlUZAMYd2vXMi3b?si=abc123",
			want: SpotifyRequest{TrackID: "0VjIjW4GlUZAMYd2vXMi3b"},
		},
		{
			name: "playlist",
			url:  "https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M",
			want: SpotifyRequest{PlaylistID: "37i9dQZF1DXcBWIGoYBM5M"},
		},
		{
			name: "album",
			url:  "https://open.spotify.com/album/4yP0hdKOZPNshxUOjY0cZj",
			want: SpotifyRequest{AlbumID: "4yP0hdKOZPNshxUOjY0cZj"},
		},
		{
			name: "artist",
			url:  "https://open.spotify.com/artist/4NHQPlJsbc7kbJTwq0B3lD",
			want: SpotifyRequest{ArtistID: "4NHQPlJsbc7kbJTwq0B3lD"},
		},
		{
			name:    "invalid domain",
			url:     "https://example.com/track/abc",
			wantErr: true,
		},
		{
			name: "missing id",
			url:  "https://open.spotify.com/track/",
			want: SpotifyRequest{TrackID: ""},
		},
		{
			name: "wrong path",
			url:  "https://open.spotify.com/wrong/abc",
			want: SpotifyRequest{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSpotifyURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseSpotifyURL() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("ParseSpotifyURL() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTrackIDFromInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"bare id", "0VjIjW4GlUZAMYd2vXMi3b", "0VjIjW4GlUZAMYd2vXMi3b", false},
		{"padded id", "  abc  ", "abc", false},
		{"uri", "spotify:track:abc", "abc", false},
		{"url", "https://open.spotify.com/track/abc?si=x", "abc", false},
		{"playlist url", "https://open.spotify.com/playlist/abc", "", true},
		{"foreign url", "https://example.com/track/abc", "", true},
		{"empty", "   ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TrackIDFromInput(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("TrackIDFromInput() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("TrackIDFromInput() = %q, want %q", got, tt.want)
			}
		})
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/tracks/t1", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"t1","name":"Song","popularity":80,"artists":[{"id":"a1","name":"Artist One"}]}`))
	})
	mux.HandleFunc("/tracks/missing", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"status":404,"message":"Not found"}}`))
	})
	mux.HandleFunc("/artists", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"artists":[{"id":"a1","name":"Artist One","genres":["indie rock","shoegaze"]},{"id":"a2","name":"Artist Two","genres":["Shoegaze","dream pop"]}]}`))
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("type"); got != "track" {
			t.Errorf("search type = %q", got)
		}
		if !strings.Contains(r.URL.Query().Get("q"), "genre:") {
			t.Errorf("query = %q", r.URL.Query().Get("q"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tracks":{"items":[
			{"id":"c1","name":"One","popularity":70,"artists":[{"id":"a1","name":"Artist One"}]},
			{"id":"c2","name":"Two","popularity":140,"artists":[]}
		]}}`))
	})
	return httptest.NewServer(mux)
}

func TestClientGetTrack(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	c := NewClientWithToken(context.Background(), "token-1", WithBaseURL(srv.URL+"/"))
	track, err := c.GetTrack(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetTrack: %v", err)
	}
	if track.ID != "t1" || track.Name != "Song" || track.Popularity != 80 {
		t.Errorf("GetTrack() = %+v", track)
	}
	if track.PrimaryArtist() != "Artist One" || track.Artists[0].ID != "a1" {
		t.Errorf("artists = %+v", track.Artists)
	}
}

func TestClientGetTrackNotFound(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	c := NewClientWithToken(context.Background(), "token-1", WithBaseURL(srv.URL+"/"))
	_, err := c.GetTrack(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestClientGetArtistGenres(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	c := NewClientWithToken(context.Background(), "token-1", WithBaseURL(srv.URL+"/"))
	genres, err := c.GetArtistGenres(context.Background(), []string{"a1", "a2"})
	if err != nil {
		t.Fatalf("GetArtistGenres: %v", err)
	}
	want := []string{"indie rock", "shoegaze", "dream pop"}
	if !reflect.DeepEqual(genres, want) {
		t.Errorf("GetArtistGenres() = %v, want %v", genres, want)
	}
}

func TestClientSearchTracks(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	c := NewClientWithToken(context.Background(), "token-1", WithBaseURL(srv.URL+"/"))
	tracks, err := c.SearchTracks(context.Background(), `genre:"indie rock"`, 50)
	if err != nil {
		t.Fatalf("SearchTracks: %v", err)
	}
	if len(tracks) != 2 {
		t.Fatalf("len = %d, want 2", len(tracks))
	}
	if tracks[1].Popularity != 100 {
		t.Errorf("popularity should be clamped to 100, got %d", tracks[1].Popularity)
	}
}

type playlistServer struct {
	*httptest.Server
	mu      sync.Mutex
	created []string
	added   map[string][]string
	batches []int
}

// newPlaylistServer lists two pages of playlists; existing names appear on
// the second page only.
func newPlaylistServer(t *testing.T, existing string) *playlistServer {
	t.Helper()
	ps := &playlistServer{added: map[string][]string{}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /me/playlists", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"items":[{"id":"p1","name":"Road Trip"}],"next":%q}`, ps.URL+"/me/playlists/page2")
	})
	mux.HandleFunc("GET /me/playlists/page2", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		items := `[{"id":"p2","name":"Gym"}]`
		if existing != "" {
			items = fmt.Sprintf(`[{"id":"p2","name":"Gym"},{"id":"p3","name":%q}]`, existing)
		}
		fmt.Fprintf(w, `{"items":%s,"next":""}`, items)
	})
	mux.HandleFunc("GET /me", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"user-1","display_name":"Listener"}`))
	})
	mux.HandleFunc("POST /users/user-1/playlists", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name   string `json:"name"`
			Public bool   `json:"public"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Public {
			t.Error("session playlist should be private")
		}
		ps.mu.Lock()
		ps.created = append(ps.created, body.Name)
		ps.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"new-1","name":"` + body.Name + `"}`))
	})
	mux.HandleFunc("POST /playlists/{id}/tracks", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			URIs []string `json:"uris"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		ps.mu.Lock()
		ps.added[r.PathValue("id")] = append(ps.added[r.PathValue("id")], body.URIs...)
		ps.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"snapshot_id":"snap"}`))
	})
	mux.HandleFunc("GET /tracks", func(w http.ResponseWriter, r *http.Request) {
		ids := strings.Split(r.URL.Query().Get("ids"), ",")
		ps.mu.Lock()
		ps.batches = append(ps.batches, len(ids))
		ps.mu.Unlock()
		items := make([]string, 0, len(ids))
		for _, id := range ids {
			if id == "gone" {
				items = append(items, "null")
				continue
			}
			items = append(items, fmt.Sprintf(`{"id":%q,"name":"Song %s","artists":[]}`, id, id))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"tracks":[%s]}`, strings.Join(items, ","))
	})
	ps.Server = httptest.NewServer(mux)
	t.Cleanup(ps.Close)
	return ps
}

func TestClientFindOrCreatePlaylist(t *testing.T) {
	tests := []struct {
		name        string
		existing    string
		want        string
		wantCreated []string
	}{
		{"found on second page", "Swipetune Likes", "p3", nil},
		{"created when missing", "", "new-1", []string{"Swipetune Likes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newPlaylistServer(t, tt.existing)
			c := NewClientWithToken(context.Background(), "token-1", WithBaseURL(srv.URL+"/"))

			got, err := c.FindOrCreatePlaylist(context.Background(), "Swipetune Likes")
			if err != nil {
				t.Fatalf("FindOrCreatePlaylist: %v", err)
			}
			if got != tt.want {
				t.Errorf("FindOrCreatePlaylist() = %q, want %q", got, tt.want)
			}
			if !reflect.DeepEqual(srv.created, tt.wantCreated) {
				t.Errorf("created = %v, want %v", srv.created, tt.wantCreated)
			}
		})
	}
}

func TestClientAddTrackToPlaylist(t *testing.T) {
	srv := newPlaylistServer(t, "")
	c := NewClientWithToken(context.Background(), "token-1", WithBaseURL(srv.URL+"/"))

	if err := c.AddTrackToPlaylist(context.Background(), "p1", "t9"); err != nil {
		t.Fatalf("AddTrackToPlaylist: %v", err)
	}
	if got := srv.added["p1"]; !reflect.DeepEqual(got, []string{"spotify:track:t9"}) {
		t.Errorf("added = %v", got)
	}
}

func TestClientGetTracksBatches(t *testing.T) {
	srv := newPlaylistServer(t, "")
	c := NewClientWithToken(context.Background(), "token-1", WithBaseURL(srv.URL+"/"))

	ids := make([]string, 0, 120)
	for i := range 120 {
		ids = append(ids, fmt.Sprintf("t%d", i))
	}
	ids[60] = "gone"

	tracks, err := c.GetTracks(context.Background(), ids)
	if err != nil {
		t.Fatalf("GetTracks: %v", err)
	}
	if !reflect.DeepEqual(srv.batches, []int{50, 50, 20}) {
		t.Errorf("batches = %v, want [50 50 20]", srv.batches)
	}
	if len(tracks) != 119 {
		t.Fatalf("len = %d, want 119", len(tracks))
	}
	if tracks[0].ID != "t0" || tracks[118].ID != "t119" {
		t.Errorf("order not kept: first %s last %s", tracks[0].ID, tracks[118].ID)
	}
}
