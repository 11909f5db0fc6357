package expansion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"swipetune/models"
)

type fakeGenerator struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", nil
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

type fakeCatalog struct {
	tracks    map[string]models.Track
	hits      map[string]string // search query -> track id
	tracksErr error
	searchErr map[string]error
}

func (f *fakeCatalog) GetTracks(ctx context.Context, ids []string) ([]models.Track, error) {
	if f.tracksErr != nil {
		return nil, f.tracksErr
	}
	out := []models.Track{}
	for _, id := range ids {
		if t, ok := f.tracks[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeCatalog) SearchTracks(ctx context.Context, query string, limit int) ([]models.Track, error) {
	if err := f.searchErr[query]; err != nil {
		return nil, err
	}
	if id, ok := f.hits[query]; ok {
		return []models.Track{{ID: id}}, nil
	}
	return []models.Track{}, nil
}

func likedCatalog() *fakeCatalog {
	return &fakeCatalog{
		tracks: map[string]models.Track{
			"L1": {ID: "L1", Name: "Motion Sickness", Artists: []models.Artist{{ID: "a1", Name: "Phoebe Bridgers"}}},
			"L2": {ID: "L2", Name: "Kyoto", Artists: []models.Artist{{ID: "a1", Name: "Phoebe Bridgers"}}},
		},
		hits: map[string]string{},
	}
}

func TestBuildPrompt(t *testing.T) {
	liked := []models.Track{
		{Name: "Motion Sickness", Artists: []models.Artist{{Name: "Phoebe Bridgers"}}},
		{Name: "Untitled"},
	}
	prompt := BuildPrompt(liked)

	for _, want := range []string{
		"Motion Sickness by Phoebe Bridgers",
		"Untitled\n",
		"up to 20",
		"at most 2 songs per artist",
		"recent releases",
		"available on Spotify",
		"Song Name - Artist",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestBuildPromptEmpty(t *testing.T) {
	prompt := BuildPrompt(nil)
	if !strings.Contains(prompt, "Song Name - Artist") {
		t.Errorf("empty prompt is not well formed:\n%s", prompt)
	}
}

func TestParseSuggestions(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Suggestion
	}{
		{
			name: "plain",
			text: "Garden Song - Phoebe Bridgers",
			want: []Suggestion{{"Garden Song", "Phoebe Bridgers"}},
		},
		{
			name: "numbered and bulleted",
			text: "1. Seventeen - Sharon Van Etten\n2) Cellophane - FKA twigs\n- Bags - Clairo\n* Tezeta - Mulatu Astatke\n• Cherry - Rina Sawayama",
			want: []Suggestion{
				{"Seventeen", "Sharon Van Etten"},
				{"Cellophane", "FKA twigs"},
				{"Bags", "Clairo"},
				{"Tezeta", "Mulatu Astatke"},
				{"Cherry", "Rina Sawayama"},
			},
		},
		{
			name: "quoted and bold",
			text: "\"Chamber of Reflection\" - Mac DeMarco\n**Nights** - Frank Ocean",
			want: []Suggestion{
				{"Chamber of Reflection", "Mac DeMarco"},
				{"Nights", "Frank Ocean"},
			},
		},
		{
			name: "dash inside title",
			text: "Heroes - 2017 Remaster - David Bowie",
			want: []Suggestion{{"Heroes - 2017 Remaster", "David Bowie"}},
		},
		{
			name: "malformed lines dropped",
			text: "Here are some songs:\n\nNo separator here\n - Missing Song\nMissing Artist - \nSong-Without-Spaces",
			want: []Suggestion{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseSuggestions(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d suggestions %+v, want %d", len(got), got, len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("suggestion %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseSuggestionsSkipsLinesWithoutSeparator(t *testing.T) {
	lines := []string{}
	for i := 0; i < 25; i++ {
		if i%4 == 3 || i == 24 {
			lines = append(lines, fmt.Sprintf("commentary line %d", i))
			continue
		}
		lines = append(lines, fmt.Sprintf("Song %d - Artist %d", i, i))
	}
	if countValid(lines) != 18 {
		t.Fatalf("fixture has %d valid lines, want 18", countValid(lines))
	}

	got := ParseSuggestions(strings.Join(lines, "\n"))
	if len(got) != 18 {
		t.Errorf("parsed %d suggestions, want 18", len(got))
	}
}

func countValid(lines []string) int {
	n := 0
	for _, l := range lines {
		if strings.Contains(l, " - ") {
			n++
		}
	}
	return n
}

func TestParseSuggestionsCaps(t *testing.T) {
	lines := []string{}
	for i := 0; i < 30; i++ {
		lines = append(lines, fmt.Sprintf("Song %d - Artist", i))
	}
	got := ParseSuggestions(strings.Join(lines, "\n"))
	if len(got) != MaxSuggestions {
		t.Fatalf("parsed %d, want cap %d", len(got), MaxSuggestions)
	}
	if got[19].Song != "Song 19" {
		t.Errorf("last kept = %q, want first 20 in order", got[19].Song)
	}
}

func TestExpandResolvesInSuggestionOrder(t *testing.T) {
	catalog := likedCatalog()
	catalog.hits = map[string]string{
		"track:Seventeen artist:Sharon Van Etten": "S1",
		"track:Bags artist:Clairo":                "S2",
		"track:Bags (Live) artist:Clairo":         "S2",
		"track:Cellophane artist:FKA twigs":       "S3",
	}
	gen := &fakeGenerator{responses: []string{
		"1. Seventeen - Sharon Van Etten\n2. Unknown Song - Nobody\n3. Bags - Clairo\n4. Bags (Live) - Clairo\n5. Cellophane - FKA twigs",
	}}
	r := New(gen, catalog, Options{})

	got, err := r.Expand(context.Background(), []string{"L1", "L2"})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	want := []string{"S1", "S2", "S3"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Expand() = %v, want %v", got, want)
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d, want 1", gen.calls)
	}
	if !strings.Contains(gen.prompts[0], "Kyoto by Phoebe Bridgers") {
		t.Errorf("prompt does not list liked tracks:\n%s", gen.prompts[0])
	}
}

func TestExpandRetriesOnceWhenEverythingMisses(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"Nope - Nobody\nAlso Nope - Nobody"}}
	r := New(gen, likedCatalog(), Options{})

	got, err := r.Expand(context.Background(), []string{"L1"})
	if !errors.Is(err, ErrEmptyExpansion) {
		t.Fatalf("err = %v, want ErrEmptyExpansion", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty non-nil slice", got)
	}
	if gen.calls != 2 {
		t.Errorf("generator calls = %d, want exactly 2", gen.calls)
	}
}

func TestExpandRetriesBlankResponse(t *testing.T) {
	gen := &fakeGenerator{err: fmt.Errorf("model: %w", ErrBlankResponse)}

	got, err := New(gen, likedCatalog(), Options{}).Expand(context.Background(), []string{"L1"})
	if !errors.Is(err, ErrEmptyExpansion) {
		t.Fatalf("err = %v, want ErrEmptyExpansion", err)
	}
	var expErr *ExpansionError
	if errors.As(err, &expErr) {
		t.Errorf("blank response reported as fatal: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
	if gen.calls != 2 {
		t.Errorf("generator calls = %d, want 2", gen.calls)
	}
}

func TestExpandSecondAttemptSucceeds(t *testing.T) {
	catalog := likedCatalog()
	catalog.hits["track:Garden Song artist:Phoebe Bridgers"] = "G1"
	gen := &fakeGenerator{responses: []string{
		"Sorry, I cannot help with that.",
		"Garden Song - Phoebe Bridgers",
	}}
	r := New(gen, catalog, Options{})

	got, err := r.Expand(context.Background(), []string{"L1"})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(got) != 1 || got[0] != "G1" {
		t.Errorf("got %v, want [G1]", got)
	}
	if gen.calls != 2 {
		t.Errorf("generator calls = %d, want 2", gen.calls)
	}
}

func TestExpandSkipsFailedLookups(t *testing.T) {
	catalog := likedCatalog()
	catalog.hits["track:B artist:Y"] = "B1"
	catalog.searchErr = map[string]error{"track:A artist:X": errors.New("429 too many requests")}
	gen := &fakeGenerator{responses: []string{"A - X\nB - Y"}}

	got, err := New(gen, catalog, Options{}).Expand(context.Background(), []string{"L1"})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(got) != 1 || got[0] != "B1" {
		t.Errorf("got %v, want [B1]", got)
	}
}

func TestExpandEmptyLikedSkipsGenerator(t *testing.T) {
	for _, liked := range [][]string{nil, {}} {
		gen := &fakeGenerator{responses: []string{"A - B"}}
		got, err := New(gen, likedCatalog(), Options{}).Expand(context.Background(), liked)
		if !errors.Is(err, ErrEmptyExpansion) {
			t.Errorf("err = %v, want ErrEmptyExpansion", err)
		}
		if len(got) != 0 {
			t.Errorf("got %v, want empty", got)
		}
		if gen.calls != 0 {
			t.Errorf("generator calls = %d, want 0", gen.calls)
		}
	}
}

func TestExpandFatalErrors(t *testing.T) {
	boom := errors.New("quota exceeded")
	tests := []struct {
		name      string
		gen       *fakeGenerator
		catalog   *fakeCatalog
		stage     string
		wantCalls int
	}{
		{
			name:      "generator failure is not retried",
			gen:       &fakeGenerator{err: boom},
			catalog:   likedCatalog(),
			stage:     "generate",
			wantCalls: 1,
		},
		{
			name:      "liked track lookup",
			gen:       &fakeGenerator{responses: []string{"A - B"}},
			catalog:   &fakeCatalog{tracksErr: boom},
			stage:     "resolve liked tracks",
			wantCalls: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.gen, tt.catalog, Options{}).Expand(context.Background(), []string{"L1"})

			var expErr *ExpansionError
			if !errors.As(err, &expErr) {
				t.Fatalf("err = %v, want *ExpansionError", err)
			}
			if expErr.Stage != tt.stage {
				t.Errorf("stage = %q, want %q", expErr.Stage, tt.stage)
			}
			if !errors.Is(err, boom) {
				t.Errorf("cause lost: %v", err)
			}
			if errors.Is(err, ErrEmptyExpansion) {
				t.Errorf("fatal error must not match ErrEmptyExpansion")
			}
			if tt.gen.calls != tt.wantCalls {
				t.Errorf("generator calls = %d, want %d", tt.gen.calls, tt.wantCalls)
			}
		})
	}
}
