package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

type loginRequest struct {
	Code string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (m *Manager) handleAuthorize(c *gin.Context) {
	state := uuid.NewString()
	c.JSON(http.StatusOK, gin.H{
		"url":   m.Exchanger.AuthorizeURL(state),
		"state": state,
	})
}

// exchangedCodeTTL bounds how long a used code keeps answering with its
// token. Spotify codes are single use and expire after ten minutes.
const exchangedCodeTTL = 10 * time.Minute

type exchangedCode struct {
	token   *oauth2.Token
	expires time.Time
}

func (m *Manager) exchangedToken(code string) (*oauth2.Token, bool) {
	m.exchangedMu.Lock()
	defer m.exchangedMu.Unlock()
	e, ok := m.exchanged[code]
	if !ok || !m.clock().Before(e.expires) {
		return nil, false
	}
	return e.token, true
}

func (m *Manager) rememberExchange(code string, tok *oauth2.Token) {
	now := m.clock()
	expires := now.Add(exchangedCodeTTL)
	if !tok.Expiry.IsZero() && tok.Expiry.Before(expires) {
		expires = tok.Expiry
	}

	m.exchangedMu.Lock()
	defer m.exchangedMu.Unlock()
	if m.exchanged == nil {
		m.exchanged = make(map[string]exchangedCode)
	}
	for k, e := range m.exchanged {
		if !now.Before(e.expires) {
			delete(m.exchanged, k)
		}
	}
	m.exchanged[code] = exchangedCode{token: tok, expires: expires}
}

// handleLogin exchanges a code statelessly. Concurrent posts of one code
// share a single exchange and repeats of a code that was already exchanged
// get the same token back.
func (m *Manager) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		abort(c, http.StatusBadRequest, "login")
		return
	}

	// shared callers must not fail because the first one went away
	ctx := context.WithoutCancel(c.Request.Context())
	v, err, _ := m.logins.Do(req.Code, func() (interface{}, error) {
		if tok, ok := m.exchangedToken(req.Code); ok {
			return tok, nil
		}
		tok, err := m.Exchanger.Exchange(ctx, req.Code)
		if err != nil {
			return nil, err
		}
		m.rememberExchange(req.Code, tok)
		return tok, nil
	})
	if err != nil {
		logger(c, "handleLogin").Warnf("code exchange failed: %v", err)
		abort(c, http.StatusBadRequest, "login")
		return
	}

	tok := v.(*oauth2.Token)
	c.JSON(http.StatusOK, gin.H{
		"accessToken":  tok.AccessToken,
		"refreshToken": tok.RefreshToken,
		"expiresIn":    expiresIn(tok, m.clock()),
	})
}

func (m *Manager) handleRefresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		abort(c, http.StatusBadRequest, "refresh")
		return
	}

	tok, err := m.Exchanger.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		logger(c, "handleRefresh").Warnf("token refresh failed: %v", err)
		abort(c, http.StatusBadRequest, "refresh")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accessToken": tok.AccessToken,
		"expiresIn":   expiresIn(tok, m.clock()),
	})
}
