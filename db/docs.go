package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// DocStore loads and saves per-user module documents keyed by (user, module).
// Documents are opaque JSON blobs; each module owns its own schema.
type DocStore struct {
	DB *sql.DB
}

// LoadDoc fetches a module document, unmarshaling it into out. When no row
// exists, or the stored document fails to decode, out keeps the default the
// caller seeded it with and the error is logged, not returned: a broken
// document must never prevent module initialization.
func (s *DocStore) LoadDoc(ctx context.Context, userID int64, module string, decode func([]byte) error) {
	var raw string
	err := s.DB.QueryRowContext(ctx,
		`SELECT doc FROM module_docs WHERE user_id=$1 AND module=$2`, userID, module).Scan(&raw)
	if err == sql.ErrNoRows {
		return
	}
	if err != nil {
		slog.Error("module doc load failed, using defaults",
			slog.Int64("user_id", userID), slog.String("module", module), slog.Any("err", err))
		return
	}
	if err := decode([]byte(raw)); err != nil {
		slog.Error("module doc decode failed, using defaults",
			slog.Int64("user_id", userID), slog.String("module", module), slog.Any("err", err))
	}
}

// SaveDoc upserts a module document.
func (s *DocStore) SaveDoc(ctx context.Context, userID int64, module string, doc []byte) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO module_docs(user_id, module, doc, updated_at) VALUES($1,$2,$3,NOW())
		 ON CONFLICT(user_id, module) DO UPDATE SET doc=EXCLUDED.doc, updated_at=NOW()`,
		userID, module, string(doc))
	if err != nil {
		return fmt.Errorf("save %s doc for user %d: %w", module, userID, err)
	}
	return nil
}
