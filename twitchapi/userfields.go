package twitchapi

import (
	"context"
	"fmt"
)

// UserFields answers the per-login profile questions chat macros ask. All
// lookups use the app token.
type UserFields struct {
	Helix *HelixClient
}

func (u *UserFields) user(ctx context.Context, login string) (*User, error) {
	usr, err := u.Helix.GetUserByName(ctx, login)
	if err != nil {
		return nil, err
	}
	if usr == nil {
		return nil, fmt.Errorf("twitch user %q not found", login)
	}
	return usr, nil
}

func (u *UserFields) DisplayName(ctx context.Context, login string) (string, error) {
	usr, err := u.user(ctx, login)
	if err != nil {
		return "", err
	}
	return usr.DisplayName, nil
}

func (u *UserFields) ProfileImageURL(ctx context.Context, login string) (string, error) {
	usr, err := u.user(ctx, login)
	if err != nil {
		return "", err
	}
	return usr.ProfileImageURL, nil
}

func (u *UserFields) RecentClipURL(ctx context.Context, login string) (string, error) {
	usr, err := u.user(ctx, login)
	if err != nil {
		return "", err
	}
	return u.Helix.GetRecentClipURL(ctx, usr.ID)
}

// LastStreamCategory reads the channel's current category; Helix keeps it set
// after the stream ends, so offline channels report their last one.
func (u *UserFields) LastStreamCategory(ctx context.Context, login string) (string, error) {
	usr, err := u.user(ctx, login)
	if err != nil {
		return "", err
	}
	info, err := u.Helix.GetChannelInformation(ctx, usr.ID)
	if err != nil {
		return "", err
	}
	return info.GameName, nil
}
