package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ChatLog records every observed chat line and answers the first-chat
// questions the dispatcher asks.
type ChatLog struct {
	DB *sql.DB
}

// Insert logs one chat line.
func (c *ChatLog) Insert(ctx context.Context, channel, userID, username, message string, at time.Time) error {
	_, err := c.DB.ExecContext(ctx,
		`INSERT INTO chat_log(channel, user_id, username, message, created_at) VALUES($1,$2,$3,$4,$5)`,
		channel, userID, username, message, at)
	if err != nil {
		return fmt.Errorf("insert chat line: %w", err)
	}
	return nil
}

// CountAll returns how many lines the user has ever sent in the channel.
func (c *ChatLog) CountAll(ctx context.Context, channel, userID string) (int, error) {
	var n int
	err := c.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_log WHERE channel=$1 AND user_id=$2`, channel, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count chat lines: %w", err)
	}
	return n, nil
}

// CountSince returns how many lines the user has sent in the channel at or
// after the given time.
func (c *ChatLog) CountSince(ctx context.Context, channel, userID string, since time.Time) (int, error) {
	var n int
	err := c.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_log WHERE channel=$1 AND user_id=$2 AND created_at >= $3`,
		channel, userID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count chat lines since: %w", err)
	}
	return n, nil
}

// StreamSessions tracks live-stream boundaries from stream.online/offline
// events; the "first chat of stream" check reads the open session's start.
type StreamSessions struct {
	DB *sql.DB
}

// Open starts a session for the user, closing any stale open one first so
// crashed processes cannot leave two sessions live.
func (s *StreamSessions) Open(ctx context.Context, userID int64, startedAt time.Time) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("open stream session: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`UPDATE stream_sessions SET ended_at=$2 WHERE user_id=$1 AND ended_at IS NULL`,
		userID, startedAt); err != nil {
		return fmt.Errorf("close stale stream sessions: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO stream_sessions(user_id, started_at) VALUES($1,$2)`, userID, startedAt); err != nil {
		return fmt.Errorf("insert stream session: %w", err)
	}
	return tx.Commit()
}

// Close ends the user's open session, if any.
func (s *StreamSessions) Close(ctx context.Context, userID int64, endedAt time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE stream_sessions SET ended_at=$2 WHERE user_id=$1 AND ended_at IS NULL`, userID, endedAt)
	if err != nil {
		return fmt.Errorf("close stream session: %w", err)
	}
	return nil
}

// CurrentStart returns the start time of the user's open session.
// ok=false means no live stream is known.
func (s *StreamSessions) CurrentStart(ctx context.Context, userID int64) (time.Time, bool, error) {
	var t time.Time
	err := s.DB.QueryRowContext(ctx,
		`SELECT started_at FROM stream_sessions WHERE user_id=$1 AND ended_at IS NULL
		 ORDER BY started_at DESC LIMIT 1`, userID).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("current stream start: %w", err)
	}
	return t, true, nil
}
