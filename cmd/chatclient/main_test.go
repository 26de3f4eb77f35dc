package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/whisper/chat-client/internal/api"
	"github.com/whisper/chat-client/internal/backendtest"
	"github.com/whisper/chat-client/internal/client"
	"github.com/whisper/chat-client/internal/config"
	"github.com/whisper/chat-client/internal/protocol"
	"github.com/whisper/chat-client/internal/session"
	"github.com/whisper/chat-client/internal/stream"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"<b>bold</b> text", "bold text"},
		{"<script>alert(1)</script>hi", "hi"},
		{"a & b", "a & b"},
		{"bell\x07", "bell"},
		{"csi\u009b31mred", "csi31mred"},
		{"nel\u0085x", "nelx"},
		{"two\nlines", "two\nlines"},
	}
	for _, tt := range tests {
		if got := sanitize(tt.in); got != tt.want {
			t.Errorf("sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatMessage(t *testing.T) {
	m := protocol.Message{ID: "m1", AuthorName: "ann", Content: "<i>hi</i>", IsEdited: true}
	got := formatMessage(m)
	if got != "ann: hi (edited)  #m1" {
		t.Errorf("formatMessage = %q", got)
	}

	m = protocol.Message{ID: "m2", Content: "x", CreatedAt: time.Date(2024, 1, 1, 9, 5, 0, 0, time.Local)}
	if got := formatMessage(m); got != "[09:05] ?: x  #m2" {
		t.Errorf("formatMessage = %q", got)
	}
}

func TestPrintChats(t *testing.T) {
	var buf bytes.Buffer
	printChats(&buf, nil)
	if !strings.Contains(buf.String(), "(no chats)") {
		t.Errorf("empty list output = %q", buf.String())
	}
	buf.Reset()
	printChats(&buf, []protocol.Chat{{ID: "c1", Name: "general"}})
	if !strings.Contains(buf.String(), "c1") || !strings.Contains(buf.String(), "general") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestStreamOptions(t *testing.T) {
	c := config.Default()
	c.MaxRetries = 7
	c.ReconnectBase = time.Second
	opts := streamOptions(c)
	if opts.MaxRetries != 7 || opts.ReconnectBase != time.Second || opts.ReconnectMax != c.ReconnectMax {
		t.Errorf("streamOptions = %+v", opts)
	}
}

func TestRunOpen(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()
	srv.AddChat(protocol.Chat{ID: "c1"}, protocol.Message{ID: "m1", AuthorName: "bob", Content: "welcome"})
	srv.RejectStreams(true)

	tokens := session.NewMemoryStore()
	tokens.Set(context.Background(), session.Tokens{AccessToken: backendtest.Token})
	opts := stream.DefaultOptions()
	opts.MaxRetries = 0
	ctrl := client.New(api.New(srv.BaseURL(), srv.StreamURL(), 5*time.Second), tokens, client.Options{Stream: opts})
	defer ctrl.Close()

	in := strings.NewReader("hello there\n/edit m1 fixed text\n/bogus\n/quit\nnever sent\n")
	out := &syncBuffer{}
	if err := runOpen(context.Background(), ctrl, "c1", in, out); err != nil {
		t.Fatalf("runOpen: %v", err)
	}

	text := out.String()
	for _, want := range []string{"bob: welcome", "hello there", "edited;", "unknown command /bogus"} {
		if !strings.Contains(text, want) {
			t.Errorf("output lacks %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "never sent") {
		t.Error("input after /quit was processed")
	}
	if got := srv.History("c1")[0].Content; got != "fixed text" {
		t.Errorf("edit content = %q", got)
	}
	if n := srv.Calls(backendtest.RoutePostMessage); n != 1 {
		t.Errorf("post calls = %d, want 1", n)
	}
}

func newOpenController(t *testing.T, srv *backendtest.Server) *client.Controller {
	t.Helper()
	tokens := session.NewMemoryStore()
	tokens.Set(context.Background(), session.Tokens{AccessToken: backendtest.Token})
	opts := stream.DefaultOptions()
	opts.MaxRetries = 0
	ctrl := client.New(api.New(srv.BaseURL(), srv.StreamURL(), 5*time.Second), tokens, client.Options{Stream: opts})
	t.Cleanup(func() { ctrl.Close() })
	return ctrl
}

func TestRunOpenSurvivesHistoryFailure(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()
	srv.AddChat(protocol.Chat{ID: "c1"})
	srv.RejectStreams(true)
	srv.Fail(backendtest.RouteHistory, 500, "boom")
	ctrl := newOpenController(t, srv)

	out := &syncBuffer{}
	in := strings.NewReader("hello there\n/quit\n")
	if err := runOpen(context.Background(), ctrl, "c1", in, out); err != nil {
		t.Fatalf("runOpen: %v", err)
	}
	if !strings.Contains(out.String(), "history unavailable") {
		t.Errorf("output lacks the retry hint:\n%s", out.String())
	}
	if n := srv.Calls(backendtest.RoutePostMessage); n != 1 {
		t.Errorf("post calls = %d, want 1", n)
	}
}

func TestRunOpenAbortsWithoutToken(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()
	ctrl := client.New(api.New(srv.BaseURL(), srv.StreamURL(), 5*time.Second), session.NewMemoryStore(), client.Options{})
	defer ctrl.Close()

	err := runOpen(context.Background(), ctrl, "c1", strings.NewReader("hi\n"), &syncBuffer{})
	if err == nil {
		t.Fatal("runOpen succeeded without a token")
	}
	if srv.TotalCalls() != 0 {
		t.Errorf("made %d calls without a token", srv.TotalCalls())
	}
}

func TestRunOpenEmptyChat(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()
	srv.AddChat(protocol.Chat{ID: "c2"})
	srv.RejectStreams(true)
	ctrl := newOpenController(t, srv)

	out := &syncBuffer{}
	if err := runOpen(context.Background(), ctrl, "c2", strings.NewReader("/quit\n"), out); err != nil {
		t.Fatalf("runOpen: %v", err)
	}
	if n := strings.Count(out.String(), "(no messages)"); n != 1 {
		t.Errorf("\"(no messages)\" printed %d times:\n%s", n, out.String())
	}
}
