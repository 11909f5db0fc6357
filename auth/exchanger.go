package auth

import (
	"context"
	"errors"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"swipetune/config"
)

// Scopes requested at consent time. Playlist scopes back the liked-tracks
// playlist; streaming and user-read scopes back the playback SDK.
var Scopes = []string{
	spotifyauth.ScopeUserReadPrivate,
	spotifyauth.ScopeUserReadEmail,
	spotifyauth.ScopeStreaming,
	spotifyauth.ScopeUserReadPlaybackState,
	spotifyauth.ScopeUserModifyPlaybackState,
	spotifyauth.ScopePlaylistReadPrivate,
	spotifyauth.ScopePlaylistModifyPublic,
	spotifyauth.ScopePlaylistModifyPrivate,
}

var ErrMissingCredentials = errors.New("missing SPOTIFY_CLIENT_ID or SPOTIFY_CLIENT_SECRET")

// Exchanger talks to the identity provider.
type Exchanger interface {
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// SpotifyExchanger is the Exchanger for the Spotify accounts service.
type SpotifyExchanger struct {
	oauth *oauth2.Config
	auth  *spotifyauth.Authenticator
}

func NewSpotifyExchanger(cfg config.SpotifyConfig) (*SpotifyExchanger, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}

	return &SpotifyExchanger{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  spotifyauth.AuthURL,
				TokenURL: spotifyauth.TokenURL,
			},
		},
		auth: spotifyauth.New(
			spotifyauth.WithClientID(cfg.ClientID),
			spotifyauth.WithClientSecret(cfg.ClientSecret),
			spotifyauth.WithRedirectURL(cfg.RedirectURL),
			spotifyauth.WithScopes(Scopes...),
		),
	}, nil
}

func (e *SpotifyExchanger) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return e.oauth.Exchange(ctx, code)
}

// Refresh trades a refresh token for a new access token. The provider may
// omit a new refresh token, in which case the old one is carried over.
func (e *SpotifyExchanger) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	tok, err := e.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

// AuthorizeURL is the consent page the browser is sent to.
func (e *SpotifyExchanger) AuthorizeURL(state string) string {
	return e.auth.AuthURL(state)
}
