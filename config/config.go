package config

import (
	"os"
	"strconv"
	"time"
)

type ConfigStruct struct {
	Spotify   SpotifyConfig
	Gemini    GeminiConfig
	Options   Options
	Recommend RecommendConfig
	Session   SessionConfig
	NGrok     NGrokConfig
	Sentry    SentryConfig
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Requests per second allowed against the Web API, per client.
	RateLimit int
}

type GeminiConfig struct {
	Enabled bool
	APIKey  string
	Model   string
}

type RecommendConfig struct {
	SearchWindow   int
	CandidateCap   int
	DefaultLimit   int
	Concurrency    int
	MaxSuggestions int
}

type SessionConfig struct {
	LikeThreshold int
	QueueLowWater int
	PlaylistName  string
	RefreshMargin time.Duration
}

type NGrokConfig struct {
	Domain string
}

type SentryConfig struct {
	DSN     string
	Release string
}

type Options struct {
	Port     string
	LogLevel string
}

func (n *NGrokConfig) IsEnabled() bool {
	return n.Domain != ""
}

func (g *GeminiConfig) IsEnabled() bool {
	return g.Enabled && g.APIKey != ""
}

var Config *ConfigStruct

func NewConfig() {
	config := &ConfigStruct{
		Spotify: SpotifyConfig{
			ClientID:     os.Getenv("SPOTIFY_CLIENT_ID"),
			ClientSecret: os.Getenv("SPOTIFY_CLIENT_SECRET"),
			RedirectURL:  getString("SPOTIFY_REDIRECT_URL", "http://127.0.0.1:3000/callback"),
			RateLimit:    getIntInRange("SPOTIFY_RATE_LIMIT", 10, 1, 50),
		},
		Gemini: GeminiConfig{
			Enabled: os.Getenv("GEMINI_ENABLED") == "true",
			APIKey:  os.Getenv("GEMINI_API_KEY"),
			Model:   getString("GEMINI_MODEL", "gemini-2.0-flash"),
		},
		Options: Options{
			Port:     os.Getenv("PORT"),
			LogLevel: getString("LOG_LEVEL", "info"),
		},
		Recommend: RecommendConfig{
			SearchWindow:   getIntInRange("SEARCH_WINDOW", 50, 1, 50), // Web API search max
			CandidateCap:   getIntInRange("CANDIDATE_CAP", 20, 1, 50),
			DefaultLimit:   getIntInRange("RECOMMEND_LIMIT", 5, 1, 50),
			Concurrency:    getIntInRange("ENRICH_CONCURRENCY", 8, 1, 32),
			MaxSuggestions: getIntInRange("AI_MAX_SUGGESTIONS", 20, 1, 20),
		},
		Session: SessionConfig{
			LikeThreshold: getIntInRange("LIKE_THRESHOLD", 3, 1, 100),
			QueueLowWater: getIntInRange("QUEUE_LOW_WATER", 3, 0, 100),
			PlaylistName:  getString("SESSION_PLAYLIST_NAME", "Swipetune Likes"),
			RefreshMargin: getRefreshMargin(),
		},
		NGrok: NGrokConfig{
			Domain: os.Getenv("NGROK_DOMAIN"),
		},
		Sentry: SentryConfig{
			DSN:     os.Getenv("SENTRY_DSN"),
			Release: os.Getenv("RELEASE"),
		},
	}

	Config = config
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getIntInRange returns def for unset, unparsable or non-positive values and
// clamps everything else into [lo, hi].
func getIntInRange(key string, def, lo, hi int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 || (v == 0 && lo > 0) {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func getRefreshMargin() time.Duration {
	raw := os.Getenv("REFRESH_MARGIN_SECONDS")
	if raw == "" {
		return 60 * time.Second
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 60 * time.Second
	}
	// Spotify access tokens live for an hour
	if secs > 1800 {
		secs = 1800
	}
	return time.Duration(secs) * time.Second
}
