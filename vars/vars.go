// Package vars implements the per-user global variable store. Values are
// JSON-serialized at rest, so any JSON-encodable value round-trips, including
// null. Local command variables shadow this store; that precedence is applied
// by the callers, not here.
package vars

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Variable is one stored name/value pair.
type Variable struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Store reads and writes variables for a single user.
type Store struct {
	db     *sql.DB
	userID int64
}

func NewStore(db *sql.DB, userID int64) *Store {
	return &Store{db: db, userID: userID}
}

// Get returns the deserialized value, or ok=false when the name is unknown.
func (s *Store) Get(ctx context.Context, name string) (any, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM variables WHERE user_id=$1 AND name=$2`, s.userID, name).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get variable %q: %w", name, err)
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false, fmt.Errorf("decode variable %q: %w", name, err)
	}
	return v, true, nil
}

// GetString returns the value rendered as a string for substitution; null
// renders as the empty string. The bool mirrors Get's ok.
func (s *Store) GetString(ctx context.Context, name string) (string, bool) {
	v, ok, err := s.Get(ctx, name)
	if err != nil || !ok {
		return "", false
	}
	return Stringify(v), true
}

// Set upserts a variable keyed by (user, name).
func (s *Store) Set(ctx context.Context, name string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode variable %q: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO variables(user_id, name, value, updated_at) VALUES($1,$2,$3,NOW())
		 ON CONFLICT(user_id, name) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`,
		s.userID, name, string(raw))
	if err != nil {
		return fmt.Errorf("set variable %q: %w", name, err)
	}
	return nil
}

// All returns every variable stored for the user.
func (s *Store) All(ctx context.Context) ([]Variable, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value FROM variables WHERE user_id=$1 ORDER BY name`, s.userID)
	if err != nil {
		return nil, fmt.Errorf("list variables: %w", err)
	}
	defer rows.Close()
	var out []Variable
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode variable %q: %w", name, err)
		}
		out = append(out, Variable{Name: name, Value: v})
	}
	return out, rows.Err()
}

// Replace deletes every variable whose name is absent from the given list,
// then upserts each listed entry. It is the bulk save-from-UI operation.
func (s *Store) Replace(ctx context.Context, list []Variable) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace variables: %w", err)
	}
	defer tx.Rollback()

	names := make([]string, 0, len(list))
	for _, v := range list {
		names = append(names, v.Name)
	}
	namesJSON, err := json.Marshal(names)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM variables WHERE user_id=$1
		 AND name NOT IN (SELECT json_array_elements_text($2::json))`,
		s.userID, string(namesJSON)); err != nil {
		return fmt.Errorf("replace variables: delete: %w", err)
	}
	for _, v := range list {
		raw, err := json.Marshal(v.Value)
		if err != nil {
			return fmt.Errorf("encode variable %q: %w", v.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO variables(user_id, name, value, updated_at) VALUES($1,$2,$3,NOW())
			 ON CONFLICT(user_id, name) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`,
			s.userID, v.Name, string(raw)); err != nil {
			return fmt.Errorf("replace variables: upsert %q: %w", v.Name, err)
		}
	}
	return tx.Commit()
}

// Stringify renders a stored value for chat output and substitution.
// Null becomes the empty string.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
