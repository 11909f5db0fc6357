package expansion

import (
	"fmt"
	"strings"

	"swipetune/models"
)

const (
	MaxSuggestions  = 20
	maxPerArtist    = 2
	suggestionSplit = " - "
)

// Suggestion is one "Song - Artist" line of a generator response.
type Suggestion struct {
	Song   string
	Artist string
}

// Query is the catalog search used to resolve the suggestion.
func (s Suggestion) Query() string {
	return fmt.Sprintf("track:%s artist:%s", s.Song, s.Artist)
}

// BuildPrompt asks for tracks similar to liked. It is well formed for an
// empty list too.
func BuildPrompt(liked []models.Track) string {
	var sb strings.Builder

	sb.WriteString("Here are songs the listener liked:\n")
	if len(liked) == 0 {
		sb.WriteString("(none yet)\n")
	}
	for _, t := range liked {
		if artist := t.PrimaryArtist(); artist != "" {
			fmt.Fprintf(&sb, "%s by %s\n", t.Name, artist)
		} else {
			fmt.Fprintf(&sb, "%s\n", t.Name)
		}
	}

	fmt.Fprintf(&sb, "\nSuggest up to %d more songs they would enjoy.\n", MaxSuggestions)
	fmt.Fprintf(&sb, "Use at most %d songs per artist and favour recent releases.\n", maxPerArtist)
	sb.WriteString("Only include songs that are available on Spotify.\n")
	sb.WriteString("Answer with one song per line in the form: Song Name - Artist\n")
	sb.WriteString("Do not add numbering, commentary or any other text.")

	return sb.String()
}

// ParseSuggestions extracts up to MaxSuggestions suggestions from a generator
// response.
func ParseSuggestions(text string) []Suggestion {
	return parseSuggestions(text, MaxSuggestions)
}

func parseSuggestions(text string, limit int) []Suggestion {
	out := []Suggestion{}
	for _, line := range strings.Split(text, "\n") {
		if len(out) == limit {
			break
		}
		s, ok := parseLine(line)
		if !ok {
			continue
		}
		out = append(out, s)
	}
	return out
}

func parseLine(line string) (Suggestion, bool) {
	line = stripListMarker(strings.TrimSpace(line))

	// song titles carry " - " more often than artist names do
	i := strings.LastIndex(line, suggestionSplit)
	if i < 0 {
		return Suggestion{}, false
	}

	song := cleanField(line[:i])
	artist := cleanField(line[i+len(suggestionSplit):])
	if song == "" || artist == "" {
		return Suggestion{}, false
	}
	return Suggestion{Song: song, Artist: artist}, true
}

// stripListMarker removes a leading "1.", "2)", "-", "*" or "•".
func stripListMarker(line string) string {
	digits := 0
	for digits < len(line) && line[digits] >= '0' && line[digits] <= '9' {
		digits++
	}
	if digits > 0 && digits < len(line) && (line[digits] == '.' || line[digits] == ')') {
		return strings.TrimSpace(line[digits+1:])
	}

	for _, marker := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(line, marker) {
			return strings.TrimSpace(line[len(marker):])
		}
	}
	return line
}

func cleanField(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "\"“”*_`"))
}
