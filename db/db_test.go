package db

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	ctx := context.Background()
	if err := Migrate(ctx, database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

func testUser(t *testing.T, database *sql.DB, login string) *User {
	t.Helper()
	u, err := UpsertUser(context.Background(), database, "tid-"+login, login, login)
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	return u
}

func TestMigrateIdempotent(t *testing.T) {
	database := setupTestDB(t)
	if err := Migrate(context.Background(), database); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestUpsertUserKeepsIdentity(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	u1 := testUser(t, database, "upsert_user_test")
	u2, err := UpsertUser(ctx, database, u1.TwitchID, "upsert_user_test", "Renamed")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if u2.ID != u1.ID {
		t.Fatalf("upsert created a new row: %d vs %d", u2.ID, u1.ID)
	}

	got, err := GetUserByTwitchID(ctx, database, u1.TwitchID)
	if err != nil {
		t.Fatalf("GetUserByTwitchID: %v", err)
	}
	if got.DisplayName != "Renamed" {
		t.Fatalf("display name = %q", got.DisplayName)
	}
}

func TestEncryptedTokenRoundTrip(t *testing.T) {
	testKey := "dGVzdC1lbmNyeXB0aW9uLWtleS0zMi1ieXRlcwo="

	origKey := os.Getenv("ENCRYPTION_KEY")
	t.Cleanup(func() {
		if origKey != "" {
			os.Setenv("ENCRYPTION_KEY", origKey)
		} else {
			os.Unsetenv("ENCRYPTION_KEY")
		}
		encryptorOnce = sync.Once{}
		encryptor = nil
		encryptorErr = nil
	})
	os.Setenv("ENCRYPTION_KEY", testKey)
	encryptorOnce = sync.Once{}
	encryptor = nil
	encryptorErr = nil

	database := setupTestDB(t)
	ctx := context.Background()
	u := testUser(t, database, "token_roundtrip_test")

	access := "test-access-token-12345"
	refresh := "test-refresh-token-67890"
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	scope := "chat:read chat:edit"

	if err := UpsertOAuthToken(ctx, database, "twitch", u.ID, access, refresh, expiry, scope); err != nil {
		t.Fatalf("UpsertOAuthToken: %v", err)
	}

	// Ciphertext at rest must differ from the plaintext.
	var storedAccess, storedRefresh string
	var encVersion int
	err := database.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, encryption_version FROM oauth_tokens WHERE provider='twitch' AND user_id=$1`,
		u.ID).Scan(&storedAccess, &storedRefresh, &encVersion)
	if err != nil {
		t.Fatalf("select raw token: %v", err)
	}
	if encVersion == 0 {
		t.Fatal("token stored without encryption despite ENCRYPTION_KEY")
	}
	if storedAccess == access || storedRefresh == refresh {
		t.Fatal("token stored in plaintext")
	}

	gotAccess, gotRefresh, gotExpiry, gotScope, err := GetOAuthToken(ctx, database, "twitch", u.ID)
	if err != nil {
		t.Fatalf("GetOAuthToken: %v", err)
	}
	if gotAccess != access || gotRefresh != refresh || gotScope != scope {
		t.Fatalf("round trip mismatch: %q %q %q", gotAccess, gotRefresh, gotScope)
	}
	if !gotExpiry.Equal(expiry) {
		t.Fatalf("expiry = %v, want %v", gotExpiry, expiry)
	}
}

func TestChatLogCounts(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	log := &ChatLog{DB: database}

	channel := "chatlog_count_test"
	if _, err := database.ExecContext(ctx, `DELETE FROM chat_log WHERE channel=$1`, channel); err != nil {
		t.Fatal(err)
	}

	base := time.Now().Add(-time.Hour)
	for i, msg := range []string{"hi", "hello again", "third"} {
		if err := log.Insert(ctx, channel, "200", "viewer", msg, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	all, err := log.CountAll(ctx, channel, "200")
	if err != nil {
		t.Fatalf("CountAll: %v", err)
	}
	if all != 3 {
		t.Fatalf("CountAll = %d", all)
	}

	since, err := log.CountSince(ctx, channel, "200", base.Add(90*time.Second))
	if err != nil {
		t.Fatalf("CountSince: %v", err)
	}
	if since != 1 {
		t.Fatalf("CountSince = %d", since)
	}

	other, err := log.CountAll(ctx, channel, "999")
	if err != nil {
		t.Fatalf("CountAll other: %v", err)
	}
	if other != 0 {
		t.Fatalf("CountAll other user = %d", other)
	}
}

func TestStreamSessions(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	u := testUser(t, database, "stream_sessions_test")
	sessions := &StreamSessions{DB: database}

	if _, _, err := sessions.CurrentStart(ctx, u.ID); err != nil {
		t.Fatalf("CurrentStart empty: %v", err)
	}

	start := time.Now().Add(-30 * time.Minute).Truncate(time.Second)
	if err := sessions.Open(ctx, u.ID, start); err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, live, err := sessions.CurrentStart(ctx, u.ID)
	if err != nil {
		t.Fatalf("CurrentStart: %v", err)
	}
	if !live || !got.Equal(start) {
		t.Fatalf("CurrentStart = (%v, %v)", got, live)
	}

	// Reopening while live keeps one open session.
	if err := sessions.Open(ctx, u.ID, start.Add(time.Minute)); err != nil {
		t.Fatalf("reopen: %v", err)
	}

	if err := sessions.Close(ctx, u.ID, time.Now()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, live, err = sessions.CurrentStart(ctx, u.ID); err != nil {
		t.Fatalf("CurrentStart after close: %v", err)
	}
	if live {
		t.Fatal("session still open after close")
	}
}

func TestDocStoreRoundTrip(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	u := testUser(t, database, "doc_store_test")
	store := &DocStore{DB: database}

	if err := store.SaveDoc(ctx, u.ID, "general", []byte(`{"commands":[]}`)); err != nil {
		t.Fatalf("SaveDoc: %v", err)
	}
	if err := store.SaveDoc(ctx, u.ID, "general", []byte(`{"commands":[{"id":"a"}]}`)); err != nil {
		t.Fatalf("SaveDoc overwrite: %v", err)
	}

	var got string
	store.LoadDoc(ctx, u.ID, "general", func(b []byte) error {
		got = string(b)
		return nil
	})
	if got != `{"commands":[{"id":"a"}]}` {
		t.Fatalf("LoadDoc = %q", got)
	}

	// Unknown module leaves the default untouched.
	touched := false
	store.LoadDoc(ctx, u.ID, "missing_module", func([]byte) error {
		touched = true
		return nil
	})
	if touched {
		t.Fatal("LoadDoc decoded a missing document")
	}
}
