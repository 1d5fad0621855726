// Package oauth keeps per-channel Twitch user tokens alive. Tokens are
// persisted encrypted in the oauth_tokens table; UserTokenSource hands them
// to the Helix client and a background refresher renews tokens whose expiry
// falls within a configured window, with jitter so multiple instances do not
// stampede the token endpoint.
package oauth

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/streambot/db"
	"github.com/onnwee/streambot/twitchapi"
)

// ProviderTwitch is the provider key rows for broadcaster tokens use.
const ProviderTwitch = "twitch"

// RefreshFunc performs the provider-specific refresh and returns
// (access, refresh, expiry, scope).
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// TwitchRefreshFunc adapts the id.twitch.tv refresh grant to RefreshFunc.
// baseURL overrides the endpoint in tests; pass "" for production.
func TwitchRefreshFunc(hc *http.Client, baseURL, clientID, clientSecret string) RefreshFunc {
	return func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		return twitchapi.RefreshUserToken(ctx, hc, baseURL, clientID, clientSecret, refreshToken)
	}
}

// UserTokenSource implements twitchapi.UserAuth for one channel's stored
// token. AccessToken serves the persisted token; Refresh runs the refresh
// grant and persists the result before returning the new access token.
type UserTokenSource struct {
	DB        *sql.DB
	UserID    int64
	RefreshFn RefreshFunc

	mu sync.Mutex
}

var _ twitchapi.UserAuth = (*UserTokenSource)(nil)

// AccessToken returns the stored access token for the channel.
func (s *UserTokenSource) AccessToken(ctx context.Context) (string, error) {
	access, _, _, _, err := db.GetOAuthToken(ctx, s.DB, ProviderTwitch, s.UserID)
	if err != nil {
		return "", fmt.Errorf("load token for user %d: %w", s.UserID, err)
	}
	return access, nil
}

// Refresh forces a refresh. Concurrent callers serialize; each still
// performs its own refresh so a caller that observed a 401 always gets a
// token newer than the one it sent.
func (s *UserTokenSource) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, refresh, _, scope, err := db.GetOAuthToken(ctx, s.DB, ProviderTwitch, s.UserID)
	if err != nil {
		return "", fmt.Errorf("load refresh token for user %d: %w", s.UserID, err)
	}
	if refresh == "" {
		return "", fmt.Errorf("user %d has no refresh token", s.UserID)
	}
	access, newRefresh, expiry, newScope, err := s.RefreshFn(ctx, refresh)
	if err != nil {
		return "", fmt.Errorf("refresh token for user %d: %w", s.UserID, err)
	}
	if newRefresh == "" {
		newRefresh = refresh
	}
	if newScope == "" {
		newScope = scope
	}
	if err := db.UpsertOAuthToken(ctx, s.DB, ProviderTwitch, s.UserID, access, newRefresh, expiry, newScope); err != nil {
		return "", fmt.Errorf("persist refreshed token for user %d: %w", s.UserID, err)
	}
	slog.Info("user token refreshed", slog.Int64("user_id", s.UserID))
	return access, nil
}

// StartRefresher launches a goroutine that periodically walks all enabled
// channels and refreshes tokens whose remaining lifetime is <= window.
// interval: how often to wake up and check.
func StartRefresher(ctx context.Context, database *sql.DB, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter (within ±20% of interval) for scheduling diversity.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			users, err := db.ListEnabledUsers(ctx, database)
			if err != nil {
				slog.Warn("refresher user listing failed", slog.Any("err", err))
				continue
			}
			for _, u := range users {
				refreshUserIfNeeded(ctx, database, u.ID, window, fn)
			}
		}
	}()
}

func refreshUserIfNeeded(ctx context.Context, database *sql.DB, userID int64, window time.Duration, fn RefreshFunc) {
	_, rt, exp, scope, err := db.GetOAuthToken(ctx, database, ProviderTwitch, userID)
	if err != nil {
		if err != sql.ErrNoRows {
			slog.Warn("refresher token load failed", slog.Int64("user_id", userID), slog.Any("err", err))
		}
		return
	}
	if rt == "" {
		return
	}
	if time.Until(exp) > window {
		return
	}
	// Small pre-refresh jitter to avoid stampedes when many pods see the same expiry.
	//nolint:gosec // G404: math/rand is sufficient for jitter, not used for security
	pre := time.Duration(rand.Int63n(int64(5 * time.Second)))
	select {
	case <-ctx.Done():
		return
	case <-time.After(pre):
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	newAT, newRT, newExp, newScope, err := fn(ctx2, rt)
	cancel()
	if err != nil {
		slog.Warn("token refresh failed", slog.Int64("user_id", userID), slog.Any("err", err))
		return
	}
	if newRT == "" {
		newRT = rt
	}
	if newScope == "" {
		newScope = scope
	}
	if err := db.UpsertOAuthToken(ctx, database, ProviderTwitch, userID, newAT, newRT, newExp, newScope); err != nil {
		slog.Warn("token persist failed", slog.Int64("user_id", userID), slog.Any("err", err))
		return
	}
	slog.Info("token refreshed", slog.Int64("user_id", userID))
}
