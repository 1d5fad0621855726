package twitchapi

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// TwitchEndpoint is the id.twitch.tv OAuth2 endpoint pair.
var TwitchEndpoint = oauth2.Endpoint{
	AuthURL:  "https://id.twitch.tv/oauth2/authorize",
	TokenURL: "https://id.twitch.tv/oauth2/token",
}

// OAuthFlow drives the authorization-code flow used to connect a channel.
type OAuthFlow struct {
	cfg oauth2.Config
}

// NewOAuthFlow builds the flow. baseURL overrides id.twitch.tv in tests;
// pass "" for production.
func NewOAuthFlow(clientID, clientSecret, redirectURI string, scopes []string, baseURL string) *OAuthFlow {
	ep := TwitchEndpoint
	if baseURL != "" {
		ep = oauth2.Endpoint{
			AuthURL:  baseURL + "/oauth2/authorize",
			TokenURL: baseURL + "/oauth2/token",
		}
	}
	return &OAuthFlow{cfg: oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
		Endpoint:     ep,
	}}
}

// AuthCodeURL returns the consent page URL carrying the CSRF state value.
func (f *OAuthFlow) AuthCodeURL(state string) string {
	return f.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for tokens.
func (f *OAuthFlow) Exchange(ctx context.Context, code string) (accessToken, refreshToken string, expiry time.Time, err error) {
	tok, err := f.cfg.Exchange(ctx, code)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return tok.AccessToken, tok.RefreshToken, tok.Expiry, nil
}
