package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const defaultIDBaseURL = "https://id.twitch.tv"

// TokenSource fetches and caches a Twitch app access (client credentials)
// token. This token cannot be used for IRC chat or user-scoped endpoints;
// those need a user OAuth token (see UserTokenSource).
type TokenSource struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	// BaseURL overrides the id.twitch.tv endpoint, for tests.
	BaseURL string

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

func (ts *TokenSource) baseURL() string {
	if ts.BaseURL != "" {
		return ts.BaseURL
	}
	return defaultIDBaseURL
}

func (ts *TokenSource) http() *http.Client {
	if ts.HTTPClient != nil {
		return ts.HTTPClient
	}
	return http.DefaultClient
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.RLock()
	if ts.token != "" && time.Until(ts.expiresAt) > 60*time.Second { // 1 min buffer
		tok := ts.token
		ts.mu.RUnlock()
		return tok, nil
	}
	ts.mu.RUnlock()
	return ts.refresh(ctx)
}

func (ts *TokenSource) refresh(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token != "" && time.Until(ts.expiresAt) > 60*time.Second {
		return ts.token, nil
	}
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", errors.New("missing client id/secret for twitch app token")
	}
	form := url.Values{}
	form.Set("client_id", ts.ClientID)
	form.Set("client_secret", ts.ClientSecret)
	form.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.baseURL()+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := ts.http().Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("twitch token request failed: %s: %s", resp.Status, string(b))
	}
	var at struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&at); err != nil {
		return "", err
	}
	if at.AccessToken == "" {
		return "", errors.New("empty access_token in twitch response")
	}
	ts.token = at.AccessToken
	ts.expiresAt = time.Now().Add(time.Duration(at.ExpiresIn) * time.Second)
	return ts.token, nil
}

// RefreshUserToken exchanges a user refresh token for a new access token.
// Returns (access, refresh, expiry, scope).
func RefreshUserToken(ctx context.Context, hc *http.Client, baseURL, clientID, clientSecret, refreshToken string) (string, string, time.Time, string, error) {
	if baseURL == "" {
		baseURL = defaultIDBaseURL
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", time.Time{}, "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := hc.Do(req)
	if err != nil {
		return "", "", time.Time{}, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", "", time.Time{}, "", fmt.Errorf("twitch user token refresh failed: %s: %s", resp.Status, string(b))
	}
	var at struct {
		AccessToken  string   `json:"access_token"`
		RefreshToken string   `json:"refresh_token"`
		ExpiresIn    int      `json:"expires_in"`
		Scope        []string `json:"scope"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&at); err != nil {
		return "", "", time.Time{}, "", err
	}
	if at.AccessToken == "" {
		return "", "", time.Time{}, "", errors.New("empty access_token in twitch refresh response")
	}
	expiry := time.Now().Add(time.Duration(at.ExpiresIn) * time.Second)
	return at.AccessToken, at.RefreshToken, expiry, strings.Join(at.Scope, " "), nil
}
