package db

import (
	"context"
	"database/sql"
	"fmt"
)

// User is one registered broadcaster the bot serves.
type User struct {
	ID          int64
	TwitchID    string
	Login       string
	DisplayName string
	BotEnabled  bool
}

// UpsertUser registers or updates a user keyed by twitch id and returns the row.
func UpsertUser(ctx context.Context, dbx *sql.DB, twitchID, login, displayName string) (*User, error) {
	u := &User{TwitchID: twitchID, Login: login, DisplayName: displayName, BotEnabled: true}
	err := dbx.QueryRowContext(ctx,
		`INSERT INTO users(twitch_id, login, display_name) VALUES($1,$2,$3)
		 ON CONFLICT(twitch_id) DO UPDATE SET login=EXCLUDED.login, display_name=EXCLUDED.display_name, updated_at=NOW()
		 RETURNING id, bot_enabled`,
		twitchID, login, displayName).Scan(&u.ID, &u.BotEnabled)
	if err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", login, err)
	}
	return u, nil
}

// ListEnabledUsers returns every user the bot should join at startup.
func ListEnabledUsers(ctx context.Context, dbx *sql.DB) ([]*User, error) {
	rows, err := dbx.QueryContext(ctx,
		`SELECT id, twitch_id, login, COALESCE(display_name,''), bot_enabled FROM users WHERE bot_enabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	var out []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.TwitchID, &u.Login, &u.DisplayName, &u.BotEnabled); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// GetUserByTwitchID looks a user up by their Twitch user id.
func GetUserByTwitchID(ctx context.Context, dbx *sql.DB, twitchID string) (*User, error) {
	u := &User{}
	err := dbx.QueryRowContext(ctx,
		`SELECT id, twitch_id, login, COALESCE(display_name,''), bot_enabled FROM users WHERE twitch_id=$1`,
		twitchID).Scan(&u.ID, &u.TwitchID, &u.Login, &u.DisplayName, &u.BotEnabled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by twitch id: %w", err)
	}
	return u, nil
}
