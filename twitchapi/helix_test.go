package twitchapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// helixServer serves both the token and api endpoints from one listener so a
// single BaseURL can be used for the token source and client.
func helixServer(t *testing.T, api http.HandlerFunc) (*httptest.Server, *HelixClient) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"app-token","expires_in":3600}`))
	})
	mux.HandleFunc("/helix/", api)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	hc := &HelixClient{
		AppTokenSource: &TokenSource{ClientID: "cid", ClientSecret: "cs", BaseURL: srv.URL},
		ClientID:       "cid",
		BaseURL:        srv.URL,
	}
	return srv, hc
}

func TestGetUserByName(t *testing.T) {
	_, hc := helixServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/helix/users" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("login"); got != "someone" {
			t.Fatalf("login = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer app-token" {
			t.Fatalf("authorization = %q", got)
		}
		if got := r.Header.Get("Client-Id"); got != "cid" {
			t.Fatalf("client-id = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"42","login":"someone","display_name":"Someone","profile_image_url":"https://cdn.example/p.png"}]}`))
	})

	u, err := hc.GetUserByName(context.Background(), "someone")
	if err != nil {
		t.Fatalf("GetUserByName: %v", err)
	}
	if u == nil || u.ID != "42" || u.ProfileImageURL != "https://cdn.example/p.png" {
		t.Fatalf("user = %+v", u)
	}
}

func TestGetUserByNameNotFound(t *testing.T) {
	_, hc := helixServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	u, err := hc.GetUserByName(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetUserByName: %v", err)
	}
	if u != nil {
		t.Fatalf("expected nil user, got %+v", u)
	}
}

func TestGetStreamByUserIDOffline(t *testing.T) {
	_, hc := helixServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	s, err := hc.GetStreamByUserID(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetStreamByUserID: %v", err)
	}
	if s != nil {
		t.Fatalf("expected nil stream, got %+v", s)
	}
}

func TestGetRecentClipURL(t *testing.T) {
	_, hc := helixServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/helix/clips" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("first"); got != "1" {
			t.Fatalf("first = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"url":"https://clips.example/abc"}]}`))
	})
	u, err := hc.GetRecentClipURL(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetRecentClipURL: %v", err)
	}
	if u != "https://clips.example/abc" {
		t.Fatalf("url = %q", u)
	}
}

type fakeAuth struct {
	token     string
	refreshed atomic.Int32
}

func (a *fakeAuth) AccessToken(ctx context.Context) (string, error) { return a.token, nil }
func (a *fakeAuth) Refresh(ctx context.Context) (string, error) {
	a.refreshed.Add(1)
	a.token = "refreshed-token"
	return a.token, nil
}

func TestModifyChannelRetriesOnceOn401(t *testing.T) {
	var apiCalls int
	_, hc := helixServer(t, func(w http.ResponseWriter, r *http.Request) {
		apiCalls++
		if r.Header.Get("Authorization") != "Bearer refreshed-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	auth := &fakeAuth{token: "stale-token"}
	title := "new title"
	err := hc.ModifyChannelInformation(context.Background(), auth, "42", ChannelPatch{Title: &title})
	if err != nil {
		t.Fatalf("ModifyChannelInformation: %v", err)
	}
	if got := auth.refreshed.Load(); got != 1 {
		t.Fatalf("refreshed %d times, want 1", got)
	}
	if apiCalls != 2 {
		t.Fatalf("api called %d times, want 2", apiCalls)
	}
}

func TestModifyChannelGivesUpAfterSecond401(t *testing.T) {
	_, hc := helixServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	auth := &fakeAuth{token: "stale-token"}
	title := "t"
	err := hc.ModifyChannelInformation(context.Background(), auth, "42", ChannelPatch{Title: &title})
	if err == nil {
		t.Fatal("expected error after second 401")
	}
	if got := auth.refreshed.Load(); got != 1 {
		t.Fatalf("refreshed %d times, want exactly 1", got)
	}
}

func TestGetChatters(t *testing.T) {
	_, hc := helixServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/helix/chat/chatters" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("broadcaster_id") != "42" || q.Get("moderator_id") != "42" {
			t.Fatalf("query = %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"user_login":"alpha","user_name":"Alpha"},{"user_login":"beta","user_name":""}]}`))
	})

	auth := &fakeAuth{token: "user-token"}
	got, err := hc.GetChatters(context.Background(), auth, "42", "42")
	if err != nil {
		t.Fatalf("GetChatters: %v", err)
	}
	if len(got) != 2 || got[0] != "Alpha" || got[1] != "beta" {
		t.Fatalf("chatters = %v", got)
	}
}

func TestGetStreamTags(t *testing.T) {
	_, hc := helixServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"broadcaster_id":"42","title":"hi","game_id":"1","game_name":"Art","tags":["cozy","emote-only"]}]}`))
	})
	tags, err := hc.GetStreamTags(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetStreamTags: %v", err)
	}
	if len(tags) != 2 || tags[0] != "cozy" {
		t.Fatalf("tags = %v", tags)
	}
}
