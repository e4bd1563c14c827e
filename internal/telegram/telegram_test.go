package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestUnmuteSendsRestrictCall(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	if err := c.Unmute(context.Background(), "abc123", "-100555", "42"); err != nil {
		t.Fatalf("unmute: %v", err)
	}
	if gotPath != "/botabc123/restrictChatMember" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotBody["chat_id"] != "-100555" || gotBody["user_id"] != "42" {
		t.Fatalf("unexpected body %v", gotBody)
	}
	perms, ok := gotBody["permissions"].(map[string]any)
	if !ok || perms["can_send_messages"] != true {
		t.Fatalf("expected permissive permissions, got %v", gotBody["permissions"])
	}
}

func TestMuteRevokesPermissions(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	if err := c.Mute(context.Background(), "abc123", "-100555", "42"); err != nil {
		t.Fatalf("mute: %v", err)
	}
	perms := gotBody["permissions"].(map[string]any)
	if perms["can_send_messages"] != false {
		t.Fatalf("expected messaging revoked, got %v", perms)
	}
}

func TestBotAPIFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "user not found"})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	err := c.Unmute(context.Background(), "abc123", "-100555", "42")
	if err == nil {
		t.Fatalf("expected error from bot API failure")
	}
}
