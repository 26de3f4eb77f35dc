package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/whisper/chat-client/internal/backendtest"
	"github.com/whisper/chat-client/internal/chaterr"
	"github.com/whisper/chat-client/internal/protocol"
)

const waitTimeout = 3 * time.Second

func testOptions() Options {
	return Options{
		ReconnectBase: 10 * time.Millisecond,
		ReconnectMax:  40 * time.Millisecond,
		MaxRetries:    3,
		WriteTimeout:  time.Second,
		DialTimeout:   time.Second,
	}
}

func streamURL(srv *backendtest.Server, chatID string) string {
	return srv.StreamURL() + "/chats/" + chatID + "/connect?token=" + backendtest.Token
}

// recorder collects handler callbacks.
type recorder struct {
	mu     sync.Mutex
	msgs   []protocol.Message
	states []State
	errs   []error
	gaveUp error
	opens  int
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnOpen: func() {
			r.mu.Lock()
			r.opens++
			r.mu.Unlock()
		},
		OnMessage: func(m protocol.Message) {
			r.mu.Lock()
			r.msgs = append(r.msgs, m)
			r.mu.Unlock()
		},
		OnStateChange: func(s State) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		OnGiveUp: func(err error) {
			r.mu.Lock()
			r.gaveUp = err
			r.mu.Unlock()
		},
	}
}

func (r *recorder) messages() []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Message(nil), r.msgs...)
}

func (r *recorder) giveUpErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gaveUp
}

func (r *recorder) openCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens
}

func waitState(t *testing.T, ch *Channel, want State) {
	t.Helper()
	if !backendtest.WaitFor(waitTimeout, func() bool { return ch.State() == want }) {
		t.Fatalf("state = %s, want %s", ch.State(), want)
	}
}

func TestChannelReceivesMessages(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()

	rec := &recorder{}
	ch := Dial(context.Background(), "c1", streamURL(srv, "c1"), testOptions(), rec.handlers())
	defer ch.Close()

	waitState(t, ch, Open)
	if !backendtest.WaitFor(waitTimeout, func() bool { return srv.OpenStreams("c1") == 1 }) {
		t.Fatal("server never registered the stream")
	}

	srv.PushMessage("c1", protocol.Message{ID: "m1", ChatID: "c1", Content: "hello"})
	srv.PushMessage("c1", protocol.Message{ID: "m2", ChatID: "c1", Content: "world"})

	if !backendtest.WaitFor(waitTimeout, func() bool { return len(rec.messages()) == 2 }) {
		t.Fatalf("expected 2 messages, got %d", len(rec.messages()))
	}
	msgs := rec.messages()
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Errorf("messages out of order: %+v", msgs)
	}
	if rec.openCount() != 1 {
		t.Errorf("OnOpen called %d times, want 1", rec.openCount())
	}
}

func TestChannelDropsMalformedFrames(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()

	rec := &recorder{}
	ch := Dial(context.Background(), "c1", streamURL(srv, "c1"), testOptions(), rec.handlers())
	defer ch.Close()

	waitState(t, ch, Open)
	backendtest.WaitFor(waitTimeout, func() bool { return srv.OpenStreams("c1") == 1 })

	srv.Push("c1", []byte("not json"))
	srv.Push("c1", []byte(`{"id":"","chat_id":"c1"}`))
	srv.Push("c1", []byte(`{"content":"no id"}`))
	srv.Push("c1", []byte(`{"id":"x","chat_id":"other"}`))
	srv.PushMessage("c1", protocol.Message{ID: "ok", ChatID: "c1"})

	if !backendtest.WaitFor(waitTimeout, func() bool { return len(rec.messages()) == 1 }) {
		t.Fatal("valid frame after malformed ones was not delivered")
	}
	time.Sleep(50 * time.Millisecond)
	if msgs := rec.messages(); len(msgs) != 1 || msgs[0].ID != "ok" {
		t.Errorf("got %+v, want only message ok", msgs)
	}
	if ch.State() != Open {
		t.Errorf("malformed frames changed state to %s", ch.State())
	}
}

func TestChannelSendNotOpen(t *testing.T) {
	ch := New("c1", "ws://127.0.0.1:1/never", testOptions(), Handlers{})
	defer ch.Close()

	if ch.State() != Idle {
		t.Fatalf("new channel state = %s, want idle", ch.State())
	}
	err := ch.Send([]byte(`{"content":"x"}`))
	if !errors.Is(err, chaterr.ErrChannelNotOpen) {
		t.Fatalf("Send on idle channel: got %v, want ErrChannelNotOpen", err)
	}
	if !chaterr.IsChannel(err) {
		t.Errorf("expected ChannelError, got %T", err)
	}
	if _, err := ch.SendContent("x"); !errors.Is(err, chaterr.ErrChannelNotOpen) {
		t.Errorf("SendContent on idle channel: got %v", err)
	}
}

func TestChannelSendContentRoundTrip(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()

	rec := &recorder{}
	ch := Dial(context.Background(), "c1", streamURL(srv, "c1"), testOptions(), rec.handlers())
	defer ch.Close()
	waitState(t, ch, Open)

	clientID, err := ch.SendContent("hi there")
	if err != nil {
		t.Fatalf("SendContent: %v", err)
	}
	if clientID == "" {
		t.Error("expected a client id")
	}

	if !backendtest.WaitFor(waitTimeout, func() bool { return len(rec.messages()) == 1 }) {
		t.Fatal("echo never arrived")
	}
	if got := rec.messages()[0].Content; got != "hi there" {
		t.Errorf("echo content = %q", got)
	}
	recv := srv.Received("c1")
	if len(recv) != 1 || recv[0].ClientID != clientID {
		t.Errorf("server received %+v, want client id %s", recv, clientID)
	}
}

func TestChannelCloseIdempotent(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()

	rec := &recorder{}
	ch := Dial(context.Background(), "c1", streamURL(srv, "c1"), testOptions(), rec.handlers())
	waitState(t, ch, Open)

	if err := ch.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if ch.State() != Closed {
		t.Errorf("state = %s, want closed", ch.State())
	}
	if _, err := ch.SendContent("late"); !errors.Is(err, chaterr.ErrChannelNotOpen) {
		t.Errorf("send after close: got %v", err)
	}
	if !backendtest.WaitFor(waitTimeout, func() bool { return srv.OpenStreams("c1") == 0 }) {
		t.Error("server still holds the stream after Close")
	}

	// Pushes after close must not reach the handler.
	srv.PushMessage("c1", protocol.Message{ID: "late", ChatID: "c1"})
	time.Sleep(30 * time.Millisecond)
	if n := len(rec.messages()); n != 0 {
		t.Errorf("received %d messages after close", n)
	}
}

func TestChannelCloseNeverStarted(t *testing.T) {
	ch := New("c1", "ws://127.0.0.1:1/never", testOptions(), Handlers{})
	done := make(chan struct{})
	go func() {
		_ = ch.Close()
		_ = ch.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("Close on an unstarted channel blocked")
	}
	if ch.State() != Closed {
		t.Errorf("state = %s, want closed", ch.State())
	}
	ch.Start(context.Background())
	if ch.State() != Closed {
		t.Errorf("Start after Close changed state to %s", ch.State())
	}
}

func TestChannelGivesUp(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()
	srv.RejectStreams(true)

	rec := &recorder{}
	opts := testOptions()
	ch := Dial(context.Background(), "c1", streamURL(srv, "c1"), opts, rec.handlers())
	defer ch.Close()

	waitState(t, ch, Failed)
	err := rec.giveUpErr()
	if !errors.Is(err, chaterr.ErrGaveUp) {
		t.Fatalf("OnGiveUp error = %v, want ErrGaveUp", err)
	}
	if got, want := srv.Connects("c1"), opts.MaxRetries+1; got != want {
		t.Errorf("connect attempts = %d, want %d", got, want)
	}

	ch.Close()
	if ch.State() != Closed {
		t.Errorf("state after Close = %s, want closed", ch.State())
	}
}

func TestChannelNoReconnectWhenDisabled(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()
	srv.RejectStreams(true)

	rec := &recorder{}
	opts := testOptions()
	opts.MaxRetries = 0
	ch := Dial(context.Background(), "c1", streamURL(srv, "c1"), opts, rec.handlers())
	defer ch.Close()

	select {
	case <-ch.Done():
	case <-time.After(waitTimeout):
		t.Fatal("channel kept retrying with reconnects disabled")
	}
	if ch.State() != Closed {
		t.Errorf("state = %s, want closed", ch.State())
	}
	if srv.Connects("c1") != 1 {
		t.Errorf("connect attempts = %d, want 1", srv.Connects("c1"))
	}
	if rec.giveUpErr() != nil {
		t.Error("OnGiveUp must not fire when reconnects are disabled")
	}
}

func TestChannelReconnects(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()

	rec := &recorder{}
	ch := Dial(context.Background(), "c1", streamURL(srv, "c1"), testOptions(), rec.handlers())
	defer ch.Close()

	waitState(t, ch, Open)
	backendtest.WaitFor(waitTimeout, func() bool { return srv.OpenStreams("c1") == 1 })
	srv.DropStreams()

	if !backendtest.WaitFor(waitTimeout, func() bool { return rec.openCount() == 2 }) {
		t.Fatalf("channel did not reconnect, opens = %d", rec.openCount())
	}
	waitState(t, ch, Open)
	if ch.ChatID() != "c1" {
		t.Errorf("reconnected channel bound to %q", ch.ChatID())
	}
}

func TestChannelContextCancel(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := Dial(ctx, "c1", streamURL(srv, "c1"), testOptions(), Handlers{})
	waitState(t, ch, Open)

	cancel()
	select {
	case <-ch.Done():
	case <-time.After(waitTimeout):
		t.Fatal("cancelling the context did not stop the channel")
	}
	if ch.State() != Closed {
		t.Errorf("state after cancel = %s, want closed", ch.State())
	}
	if !backendtest.WaitFor(waitTimeout, func() bool { return srv.OpenStreams("c1") == 0 }) {
		t.Error("connection still open on the server after cancel")
	}
	ch.Close()
	if ch.State() != Closed {
		t.Errorf("state = %s, want closed", ch.State())
	}
}

func TestBackoff(t *testing.T) {
	o := Options{ReconnectBase: 3 * time.Second, ReconnectMax: 30 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 3 * time.Second},
		{2, 6 * time.Second},
		{3, 12 * time.Second},
		{4, 24 * time.Second},
		{5, 30 * time.Second},
		{9, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := o.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		Idle: "idle", Connecting: "connecting", Open: "open", Closed: "closed", Failed: "failed",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
