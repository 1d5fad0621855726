// Package twitchapi contains the Helix client the bot core depends on: user
// and stream lookups for macros, channel mutations for command actions, and
// the chatters listing. App-token endpoints use a cached client-credentials
// token; user-scoped endpoints go through a UserAuth with a single
// refresh-and-retry on 401.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const defaultAPIBaseURL = "https://api.twitch.tv"

// HelixClient provides the Helix methods used by commands and macros.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	// BaseURL overrides the api.twitch.tv endpoint, for tests.
	BaseURL string
}

// UserAuth supplies a user access token for user-scoped endpoints and can
// force a refresh when Twitch rejects the current one.
type UserAuth interface {
	AccessToken(ctx context.Context) (string, error)
	// Refresh invalidates the cached token and obtains a new one.
	Refresh(ctx context.Context) (string, error)
}

// User is a Helix user row.
type User struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

// Stream is a live stream as returned by /helix/streams.
type Stream struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	GameID    string    `json:"game_id"`
	GameName  string    `json:"game_name"`
	Title     string    `json:"title"`
	StartedAt time.Time `json:"started_at"`
}

// ChannelInfo is a /helix/channels row. Tags ride on channel information in
// current Helix; there is no separate tags resource anymore.
type ChannelInfo struct {
	BroadcasterID string   `json:"broadcaster_id"`
	Title         string   `json:"title"`
	GameID        string   `json:"game_id"`
	GameName      string   `json:"game_name"`
	Tags          []string `json:"tags"`
}

// Category is a /helix/search/categories row.
type Category struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	BoxArtURL string `json:"box_art_url"`
}

// ChannelPatch is the body of Modify Channel Information; nil fields are
// omitted and left unchanged.
type ChannelPatch struct {
	Title  *string   `json:"title,omitempty"`
	GameID *string   `json:"game_id,omitempty"`
	Tags   *[]string `json:"tags,omitempty"`
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return defaultAPIBaseURL
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// getApp performs an app-token GET and decodes the JSON response into out.
func (hc *HelixClient) getApp(ctx context.Context, path string, query url.Values, out any) error {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.baseURL()+path, nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = query.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("helix %s failed: %s: %s", path, resp.Status, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// doUser performs a user-token request. On 401 it refreshes the token through
// auth exactly once and retries; a second 401 is returned as an error.
func (hc *HelixClient) doUser(ctx context.Context, auth UserAuth, method, path string, query url.Values, body []byte) (*http.Response, error) {
	tok, err := auth.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("user token: %w", err)
	}
	resp, err := hc.userRequest(ctx, method, path, query, body, tok)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	closeBody(resp)
	slog.Info("helix user request got 401, refreshing token once", slog.String("path", path))
	tok, err = auth.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("token refresh after 401: %w", err)
	}
	resp, err = hc.userRequest(ctx, method, path, query, body, tok)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		b, _ := io.ReadAll(resp.Body)
		closeBody(resp)
		return nil, fmt.Errorf("helix %s unauthorized after refresh: %s", path, string(b))
	}
	return resp, nil
}

func (hc *HelixClient) userRequest(ctx context.Context, method, path string, query url.Values, body []byte, token string) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, hc.baseURL()+path, rd)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = query.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return hc.http().Do(req)
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}

// GetUserByName resolves a login name; nil when the user does not exist.
func (hc *HelixClient) GetUserByName(ctx context.Context, login string) (*User, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	q := url.Values{}
	q.Set("login", login)
	var body struct {
		Data []User `json:"data"`
	}
	if err := hc.getApp(ctx, "/helix/users", q, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return &body.Data[0], nil
}

// GetUserByID resolves a user id; nil when the user does not exist.
func (hc *HelixClient) GetUserByID(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, fmt.Errorf("user id empty")
	}
	q := url.Values{}
	q.Set("id", id)
	var body struct {
		Data []User `json:"data"`
	}
	if err := hc.getApp(ctx, "/helix/users", q, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return &body.Data[0], nil
}

// GetTokenOwner returns the user a user access token belongs to.
func (hc *HelixClient) GetTokenOwner(ctx context.Context, accessToken string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.baseURL()+"/helix/users", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("helix token owner lookup failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("token owner lookup returned no user")
	}
	return &body.Data[0], nil
}

// GetStreamByUserID returns the user's live stream, or nil when offline.
func (hc *HelixClient) GetStreamByUserID(ctx context.Context, userID string) (*Stream, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID empty")
	}
	q := url.Values{}
	q.Set("user_id", userID)
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.getApp(ctx, "/helix/streams", q, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return &body.Data[0], nil
}

// GetChannelInformation returns channel metadata (title, category, tags).
func (hc *HelixClient) GetChannelInformation(ctx context.Context, broadcasterID string) (*ChannelInfo, error) {
	if broadcasterID == "" {
		return nil, fmt.Errorf("broadcasterID empty")
	}
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	var body struct {
		Data []ChannelInfo `json:"data"`
	}
	if err := hc.getApp(ctx, "/helix/channels", q, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("channel %s not found", broadcasterID)
	}
	return &body.Data[0], nil
}

// GetRecentClipURL returns the URL of the broadcaster's most recent clip
// created in the last 30 days, or "" when there is none.
func (hc *HelixClient) GetRecentClipURL(ctx context.Context, broadcasterID string) (string, error) {
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("first", "1")
	q.Set("started_at", time.Now().AddDate(0, 0, -30).UTC().Format(time.RFC3339))
	var body struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := hc.getApp(ctx, "/helix/clips", q, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", nil
	}
	return body.Data[0].URL, nil
}

// SearchCategory returns the best match for a category query, or nil.
func (hc *HelixClient) SearchCategory(ctx context.Context, query string) (*Category, error) {
	if query == "" {
		return nil, fmt.Errorf("query empty")
	}
	q := url.Values{}
	q.Set("query", query)
	q.Set("first", "1")
	var body struct {
		Data []Category `json:"data"`
	}
	if err := hc.getApp(ctx, "/helix/search/categories", q, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return &body.Data[0], nil
}

// ModifyChannelInformation patches channel metadata. Requires the
// broadcaster's token with channel:manage:broadcast.
func (hc *HelixClient) ModifyChannelInformation(ctx context.Context, auth UserAuth, broadcasterID string, patch ChannelPatch) error {
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	body, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	resp, err := hc.doUser(ctx, auth, http.MethodPatch, "/helix/channels", q, body)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("modify channel failed: %s: %s", resp.Status, string(b))
	}
	return nil
}

// GetStreamTags returns the channel's current tags.
func (hc *HelixClient) GetStreamTags(ctx context.Context, broadcasterID string) ([]string, error) {
	info, err := hc.GetChannelInformation(ctx, broadcasterID)
	if err != nil {
		return nil, err
	}
	return info.Tags, nil
}

// ReplaceStreamTags replaces the channel's tag list wholesale.
func (hc *HelixClient) ReplaceStreamTags(ctx context.Context, auth UserAuth, broadcasterID string, tags []string) error {
	return hc.ModifyChannelInformation(ctx, auth, broadcasterID, ChannelPatch{Tags: &tags})
}

// GetChatters lists the login names currently in chat. Requires a token with
// moderator:read:chatters for the given moderator.
func (hc *HelixClient) GetChatters(ctx context.Context, auth UserAuth, broadcasterID, moderatorID string) ([]string, error) {
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("moderator_id", moderatorID)
	q.Set("first", "1000")
	resp, err := hc.doUser(ctx, auth, http.MethodGet, "/helix/chat/chatters", q, nil)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get chatters failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Data []struct {
			UserLogin string `json:"user_login"`
			UserName  string `json:"user_name"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(body.Data))
	for _, d := range body.Data {
		if d.UserName != "" {
			out = append(out, d.UserName)
		} else {
			out = append(out, d.UserLogin)
		}
	}
	return out, nil
}
