package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/whisper/chat-client/internal/backendtest"
	"github.com/whisper/chat-client/internal/chaterr"
	"github.com/whisper/chat-client/internal/protocol"
)

func newTestClient(t *testing.T) (*Client, *backendtest.Server) {
	t.Helper()
	srv := backendtest.New()
	t.Cleanup(srv.Close)
	return New(srv.BaseURL(), srv.StreamURL(), 5*time.Second), srv
}

func TestLogin(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	resp, err := c.Login(ctx, backendtest.Email, backendtest.Password)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.AccessToken != backendtest.Token || resp.RefreshToken != backendtest.Refresh {
		t.Errorf("unexpected tokens: %+v", resp)
	}

	_, err = c.Login(ctx, backendtest.Email, "wrong")
	if !chaterr.IsAuth(err) {
		t.Fatalf("bad credentials: got %v, want AuthError", err)
	}
	if !strings.Contains(err.Error(), "invalid credentials") {
		t.Errorf("error should carry the server message, got %q", err.Error())
	}
}

func TestRegister(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	id, err := c.Register(ctx, "bob@example.com", "pw", "bob")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id == "" {
		t.Error("expected an account id")
	}

	_, err = c.Register(ctx, backendtest.Email, "pw", "ann")
	if !chaterr.IsAuth(err) {
		t.Fatalf("duplicate registration: got %v, want AuthError", err)
	}
	if !strings.Contains(err.Error(), "email already registered") {
		t.Errorf("error should carry the msg field, got %q", err.Error())
	}
}

func TestMissingTokenMakesNoRequest(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()

	calls := []func() error{
		func() error { _, err := c.ListChats(ctx, ""); return err },
		func() error { _, err := c.ListActiveChats(ctx, ""); return err },
		func() error { _, err := c.CreateChat(ctx, "", "x"); return err },
		func() error { return c.DeleteChat(ctx, "", "c1") },
		func() error { _, err := c.FetchHistory(ctx, "", "c1"); return err },
		func() error { _, err := c.PostMessage(ctx, "", "c1", "x"); return err },
		func() error { return c.EditMessage(ctx, "", "c1", "m1", "x") },
		func() error { return c.DeleteMessage(ctx, "", "c1", "m1") },
	}
	for i, call := range calls {
		err := call()
		if !errors.Is(err, chaterr.ErrNoToken) || !chaterr.IsAuth(err) {
			t.Errorf("call %d: got %v, want AuthError(ErrNoToken)", i, err)
		}
	}
	if n := srv.TotalCalls(); n != 0 {
		t.Errorf("server saw %d requests, want 0", n)
	}
}

func TestUnauthorizedIsAuthError(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.ListChats(context.Background(), "stale-token")
	if !chaterr.IsAuth(err) {
		t.Fatalf("401: got %v, want AuthError", err)
	}
	if !strings.Contains(err.Error(), "invalid token") {
		t.Errorf("expected server message in %q", err.Error())
	}
}

func TestChats(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()
	tok := backendtest.Token

	chats, err := c.ListChats(ctx, tok)
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if chats == nil || len(chats) != 0 {
		t.Errorf("empty server should give an empty non-nil list, got %#v", chats)
	}

	chat, err := c.CreateChat(ctx, tok, "general")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if chat.ID == "" || chat.Name != "general" {
		t.Errorf("unexpected chat %+v", chat)
	}

	chats, err = c.ListChats(ctx, tok)
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(chats) != 1 || chats[0].ID != chat.ID {
		t.Errorf("ListChats = %+v", chats)
	}
	if _, err := c.ListActiveChats(ctx, tok); err != nil {
		t.Errorf("ListActiveChats: %v", err)
	}

	if err := c.DeleteChat(ctx, tok, chat.ID); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	if len(srv.Chats()) != 0 {
		t.Error("chat still present after delete")
	}

	err = c.DeleteChat(ctx, tok, "missing")
	var netErr *chaterr.NetworkError
	if !errors.As(err, &netErr) || netErr.Status != http.StatusNotFound {
		t.Fatalf("delete missing: got %v, want NetworkError 404", err)
	}
	if netErr.Message != "chat not found" {
		t.Errorf("message = %q", netErr.Message)
	}
}

func TestServerErrorIsNetworkError(t *testing.T) {
	c, srv := newTestClient(t)
	srv.Fail(backendtest.RouteCreateChat, http.StatusBadGateway, "bad gateway")

	_, err := c.CreateChat(context.Background(), backendtest.Token, "x")
	var netErr *chaterr.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("got %v, want NetworkError", err)
	}
	if netErr.Status != http.StatusBadGateway || netErr.Message != "bad gateway" {
		t.Errorf("unexpected error fields: %+v", netErr)
	}
	if got := err.Error(); got != "network: create chat: status 502: bad gateway" {
		t.Errorf("Error() = %q", got)
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	c := New("http://127.0.0.1:1/api/v1", "ws://127.0.0.1:1/api/v1", time.Second)
	err := c.Health(context.Background())
	var netErr *chaterr.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("got %v, want NetworkError", err)
	}
	if netErr.Status != 0 {
		t.Errorf("transport failure status = %d, want 0", netErr.Status)
	}
}

func TestMessages(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()
	tok := backendtest.Token

	srv.AddChat(protocol.Chat{ID: "c1", Name: "one"},
		protocol.Message{ID: "m1", Content: "first"},
		protocol.Message{ID: "m2", Content: "second"},
	)

	history, err := c.FetchHistory(ctx, tok, "c1")
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if len(history) != 2 || history[0].ID != "m1" || history[1].ID != "m2" {
		t.Fatalf("history = %+v", history)
	}

	empty, err := c.FetchHistory(ctx, tok, "nothing")
	if err != nil {
		t.Fatalf("FetchHistory empty: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("empty history should be non-nil and empty, got %#v", empty)
	}

	msg, err := c.PostMessage(ctx, tok, "c1", "third")
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if msg.ID == "" || msg.ChatID != "c1" || msg.Content != "third" {
		t.Errorf("confirmed message = %+v", msg)
	}

	if err := c.EditMessage(ctx, tok, "c1", "m1", "edited"); err != nil {
		t.Fatalf("EditMessage: %v", err)
	}
	if h := srv.History("c1"); h[0].Content != "edited" || !h[0].IsEdited {
		t.Errorf("edit not applied: %+v", h[0])
	}

	if err := c.DeleteMessage(ctx, tok, "c1", "m2"); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if h := srv.History("c1"); len(h) != 2 {
		t.Errorf("history after delete has %d messages, want 2", len(h))
	}

	if err := c.DeleteMessage(ctx, tok, "c1", "m2"); !chaterr.IsNetwork(err) {
		t.Errorf("deleting twice: got %v, want NetworkError", err)
	}
}

func TestHealth(t *testing.T) {
	c, srv := newTestClient(t)
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
	if srv.Calls(backendtest.RouteHealth) != 1 {
		t.Errorf("health calls = %d", srv.Calls(backendtest.RouteHealth))
	}
}

func TestStreamURL(t *testing.T) {
	c := New("http://host/api/v1/", "ws://host/api/v1/", 0)
	got := c.StreamURL("c 1", "a+b")
	want := "ws://host/api/v1/chats/c%201/connect?token=a%2Bb"
	if got != want {
		t.Errorf("StreamURL = %q, want %q", got, want)
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"error":"e"}`, "e"},
		{`{"error":"e","message":"m"}`, "m"},
		{`{"msg":"short"}`, "short"},
		{`"quoted"`, "quoted"},
		{"plain text\n", "plain text"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := errorMessage(strings.NewReader(tt.body)); got != tt.want {
			t.Errorf("errorMessage(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}
