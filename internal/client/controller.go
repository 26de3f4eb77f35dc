// Package client is the view-facing controller of the chat client. It turns
// user intents (log in, pick a chat, send a message) into REST calls and
// stream channel lifecycle changes, owns the single active channel, feeds the
// timeline, and publishes snapshots to observers after every change.
//
// Every error is both returned and handed to the Notifier, so a front end can
// show transient notifications without inspecting return values.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/whisper/chat-client/internal/api"
	"github.com/whisper/chat-client/internal/chat"
	"github.com/whisper/chat-client/internal/chaterr"
	"github.com/whisper/chat-client/internal/metrics"
	"github.com/whisper/chat-client/internal/protocol"
	"github.com/whisper/chat-client/internal/session"
	"github.com/whisper/chat-client/internal/stream"
)

// ErrClosed is returned by operations on a closed Controller.
var ErrClosed = errors.New("client: controller closed")

// Notifier receives every error surfaced by a user action or by the stream
// channel. Implementations must not block.
type Notifier interface {
	Notify(err error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(err error)

// Notify calls f(err).
func (f NotifierFunc) Notify(err error) { f(err) }

// Sink observes change events, e.g. the NATS mirror or the transcript
// archive. HandleChange is called synchronously and must not call back into
// the Controller.
type Sink interface {
	HandleChange(ev chat.ChangeEvent)
}

// Limiter throttles sends per chat. A non-nil error with ok true means the
// limiter failed open.
type Limiter interface {
	Allow(ctx context.Context, chatID string) (ok bool, err error)
}

// Options configure a Controller.
type Options struct {
	Notifier Notifier
	Sinks    []Sink
	Stream   stream.Options
	Limiter  Limiter // nil disables send throttling
}

// View is a snapshot of the displayed state.
type View struct {
	Chats    []protocol.Chat    `json:"chats"`
	ChatID   string             `json:"chat_id"`
	Epoch    uint64             `json:"epoch"`
	Messages []protocol.Message `json:"messages"`
	Loaded   bool               `json:"loaded"`
	Failed   bool               `json:"history_failed"`
	Channel  string             `json:"channel"`
}

// Controller dispatches user intents. It is safe for concurrent use.
type Controller struct {
	api      *api.Client
	tokens   session.TokenStore
	timeline *chat.Timeline
	opts     Options

	mu        sync.Mutex
	chats     []protocol.Chat
	channel   *stream.Channel
	observers []func(View)
	closed    bool
}

// New creates a Controller. Nothing is fetched until the first intent.
func New(apiClient *api.Client, tokens session.TokenStore, opts Options) *Controller {
	return &Controller{
		api:      apiClient,
		tokens:   tokens,
		timeline: chat.NewTimeline(),
		opts:     opts,
	}
}

// OnChange registers fn to receive a snapshot after every state change.
// fn runs on the goroutine that caused the change and may call View.
func (c *Controller) OnChange(fn func(View)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// View returns a snapshot of the current state.
func (c *Controller) View() View {
	c.mu.Lock()
	chats := append([]protocol.Chat(nil), c.chats...)
	ch := c.channel
	c.mu.Unlock()

	v := View{
		Chats:    chats,
		ChatID:   c.timeline.ChatID(),
		Epoch:    c.timeline.Epoch(),
		Messages: c.timeline.Messages(),
		Loaded:   c.timeline.Loaded(),
		Failed:   c.timeline.Failed(),
		Channel:  stream.Idle.String(),
	}
	if ch != nil {
		v.Channel = ch.State().String()
	}
	return v
}

// ChannelState returns the state of the active channel, Idle if none.
func (c *Controller) ChannelState() stream.State {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return stream.Idle
	}
	return ch.State()
}

// ---------------------------------------------------------------------------
// Notifications and change propagation
// ---------------------------------------------------------------------------

// fail reports err to the notifier and returns it.
func (c *Controller) fail(err error) error {
	if err == nil {
		return nil
	}
	kind := chaterr.Kind(err)
	metrics.ErrorsTotal.WithLabelValues(kind).Inc()
	log.Debug().Err(err).Str("kind", kind).Msg("[client] error")
	if c.opts.Notifier != nil {
		c.opts.Notifier.Notify(err)
	}
	return err
}

// changed forwards ev (if any) to the sinks and a fresh snapshot to every
// observer. It must be called without c.mu held.
func (c *Controller) changed(ev *chat.ChangeEvent) {
	if ev != nil {
		if ev.Ts == 0 {
			ev.Ts = time.Now().Unix()
		}
		for _, s := range c.opts.Sinks {
			s.HandleChange(*ev)
		}
	}
	metrics.TimelineMessages.Set(float64(c.timeline.Len()))

	c.mu.Lock()
	observers := append([]func(View){}, c.observers...)
	c.mu.Unlock()
	if len(observers) == 0 {
		return
	}
	v := c.View()
	for _, fn := range observers {
		fn(v)
	}
}

// token returns the stored access token, or an AuthError wrapping
// chaterr.ErrNoToken when there is none.
func (c *Controller) token(ctx context.Context, op string) (string, error) {
	tokens, ok, err := c.tokens.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("client: %s: %w", op, err)
	}
	if !ok || tokens.AccessToken == "" {
		return "", chaterr.NoToken(op)
	}
	return tokens.AccessToken, nil
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

// LoggedIn reports whether an access token is stored.
func (c *Controller) LoggedIn(ctx context.Context) (bool, error) {
	_, ok, err := c.tokens.Get(ctx)
	if err != nil {
		return false, fmt.Errorf("client: read session: %w", err)
	}
	return ok, nil
}

// Login exchanges credentials for tokens and stores them.
func (c *Controller) Login(ctx context.Context, email, password string) error {
	if err := chat.ValidateCredentials(email, password, "", false); err != nil {
		return c.fail(err)
	}
	resp, err := c.api.Login(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return c.fail(err)
	}
	tokens := session.Tokens{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
	if err := c.tokens.Set(ctx, tokens); err != nil {
		return c.fail(fmt.Errorf("client: store tokens: %w", err))
	}
	log.Info().Str("email", strings.TrimSpace(email)).Msg("[client] logged in")
	c.changed(nil)
	return nil
}

// Register creates an account and returns its id. It does not log in.
func (c *Controller) Register(ctx context.Context, email, password, username string) (string, error) {
	if err := chat.ValidateCredentials(email, password, username, true); err != nil {
		return "", c.fail(err)
	}
	id, err := c.api.Register(ctx, strings.TrimSpace(email), password, strings.TrimSpace(username))
	if err != nil {
		return "", c.fail(err)
	}
	log.Info().Str("user_id", id).Msg("[client] registered")
	return id, nil
}

// Logout closes the channel, clears the selection and the chat list, and
// removes the stored tokens.
func (c *Controller) Logout(ctx context.Context) error {
	had := c.deselect()
	c.mu.Lock()
	c.chats = nil
	c.mu.Unlock()

	var ev *chat.ChangeEvent
	if had {
		ev = &chat.ChangeEvent{Kind: chat.ChangeCleared, Epoch: c.timeline.Epoch()}
	}
	if err := c.tokens.Remove(ctx); err != nil {
		c.changed(ev)
		return c.fail(fmt.Errorf("client: remove tokens: %w", err))
	}
	log.Info().Msg("[client] logged out")
	c.changed(ev)
	return nil
}

// ---------------------------------------------------------------------------
// Chats
// ---------------------------------------------------------------------------

// ListChats fetches the chat list and caches it for the view.
func (c *Controller) ListChats(ctx context.Context) ([]protocol.Chat, error) {
	tok, err := c.token(ctx, "list chats")
	if err != nil {
		return nil, c.fail(err)
	}
	chats, err := c.api.ListChats(ctx, tok)
	if err != nil {
		return nil, c.fail(err)
	}
	c.mu.Lock()
	c.chats = append([]protocol.Chat(nil), chats...)
	c.mu.Unlock()
	c.changed(nil)
	return chats, nil
}

// ListActiveChats fetches the chats that currently have connected members.
// The cached list is not touched.
func (c *Controller) ListActiveChats(ctx context.Context) ([]protocol.Chat, error) {
	tok, err := c.token(ctx, "list active chats")
	if err != nil {
		return nil, c.fail(err)
	}
	chats, err := c.api.ListActiveChats(ctx, tok)
	if err != nil {
		return nil, c.fail(err)
	}
	return chats, nil
}

// CreateChat creates a chat. Blank names are rejected before any request.
func (c *Controller) CreateChat(ctx context.Context, name string) (protocol.Chat, error) {
	name, err := chat.ValidateChatName(name)
	if err != nil {
		return protocol.Chat{}, c.fail(err)
	}
	tok, err := c.token(ctx, "create chat")
	if err != nil {
		return protocol.Chat{}, c.fail(err)
	}
	created, err := c.api.CreateChat(ctx, tok, name)
	if err != nil {
		return protocol.Chat{}, c.fail(err)
	}
	c.mu.Lock()
	c.chats = append(c.chats, created)
	c.mu.Unlock()
	log.Info().Str("chat_id", created.ID).Str("name", name).Msg("[client] chat created")
	c.changed(nil)
	return created, nil
}

// DeleteChat deletes a chat, drops it from the cached list and deselects it
// if it is the active one.
func (c *Controller) DeleteChat(ctx context.Context, chatID string) error {
	if strings.TrimSpace(chatID) == "" {
		return c.fail(chaterr.Invalid("chat_id", "must not be empty"))
	}
	tok, err := c.token(ctx, "delete chat")
	if err != nil {
		return c.fail(err)
	}
	if err := c.api.DeleteChat(ctx, tok, chatID); err != nil {
		return c.fail(err)
	}

	c.mu.Lock()
	for i, ch := range c.chats {
		if ch.ID == chatID {
			c.chats = append(c.chats[:i:i], c.chats[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	if c.timeline.ChatID() == chatID {
		c.deselect()
	}
	c.changed(nil)
	return nil
}

// ---------------------------------------------------------------------------
// Selection
// ---------------------------------------------------------------------------

// SelectChat makes chatID the active chat: it starts a new epoch, closes the
// previous channel, opens a channel for chatID and fetches its history.
// History that resolves after another selection was made is discarded.
func (c *Controller) SelectChat(ctx context.Context, chatID string) error {
	if strings.TrimSpace(chatID) == "" {
		return c.fail(chaterr.Invalid("chat_id", "must not be empty"))
	}
	tok, err := c.token(ctx, "select chat")
	if err != nil {
		return c.fail(err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.fail(ErrClosed)
	}
	epoch := c.timeline.Select(chatID)
	old := c.channel
	c.channel = nil
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	log.Info().Str("chat_id", chatID).Uint64("epoch", epoch).Msg("[client] chat selected")
	c.changed(&chat.ChangeEvent{Kind: chat.ChangeSelected, ChatID: chatID, Epoch: epoch})

	ch := stream.New(chatID, c.api.StreamURL(chatID, tok), c.opts.Stream, c.handlers(epoch, chatID))
	c.mu.Lock()
	if c.closed || c.timeline.Epoch() != epoch {
		c.mu.Unlock()
		ch.Close()
		return nil
	}
	c.channel = ch
	c.mu.Unlock()
	ch.Start(context.Background())

	history, err := c.api.FetchHistory(ctx, tok, chatID)
	if err != nil {
		if errors.Is(c.timeline.HistoryFailed(epoch), chat.ErrStaleEpoch) {
			log.Debug().Err(err).Str("chat_id", chatID).Msg("[client] stale history failure ignored")
			return nil
		}
		c.changed(nil)
		return c.fail(err)
	}

	msgs, err := c.timeline.ReplaceHistory(epoch, chatID, history)
	if errors.Is(err, chat.ErrStaleEpoch) {
		log.Debug().Str("chat_id", chatID).Uint64("epoch", epoch).Msg("[client] stale history discarded")
		return nil
	}
	log.Debug().Str("chat_id", chatID).Int("messages", len(msgs)).Msg("[client] history loaded")
	c.changed(&chat.ChangeEvent{Kind: chat.ChangeHistory, ChatID: chatID, Epoch: epoch, Messages: msgs})
	return nil
}

// handlers binds channel callbacks to one selection epoch. Callbacks from a
// channel whose epoch is no longer current are ignored.
func (c *Controller) handlers(epoch uint64, chatID string) stream.Handlers {
	current := func() bool { return c.timeline.Epoch() == epoch }
	return stream.Handlers{
		OnMessage: func(msg protocol.Message) {
			outcome := c.timeline.Append(epoch, msg)
			metrics.StreamFramesTotal.WithLabelValues(outcome.String()).Inc()
			if outcome != chat.Appended {
				log.Debug().Str("chat_id", chatID).Str("message_id", msg.ID).Str("outcome", outcome.String()).Msg("[client] stream message dropped")
				return
			}
			m := msg
			c.changed(&chat.ChangeEvent{Kind: chat.ChangeAppended, ChatID: chatID, Epoch: epoch, Message: &m})
		},
		OnStateChange: func(s stream.State) {
			if !current() {
				return
			}
			c.changed(&chat.ChangeEvent{Kind: chat.ChangeChannelState, ChatID: chatID, Epoch: epoch, State: s.String()})
		},
		OnError: func(err error) {
			if current() {
				c.fail(err)
			}
		},
		OnGiveUp: func(err error) {
			if current() {
				c.fail(err)
			}
		},
	}
}

// Deselect clears the selection and closes the channel.
func (c *Controller) Deselect() {
	if c.deselect() {
		c.changed(&chat.ChangeEvent{Kind: chat.ChangeCleared, Epoch: c.timeline.Epoch()})
	}
}

// deselect clears the timeline and closes the channel outside the lock.
// It reports whether anything was selected.
func (c *Controller) deselect() bool {
	c.mu.Lock()
	had := c.timeline.ChatID() != "" || c.channel != nil
	c.timeline.Clear()
	old := c.channel
	c.channel = nil
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return had
}

// Close tears the controller down. It is idempotent.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.deselect()
	return nil
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// selected returns the active chat, its epoch and channel.
func (c *Controller) selected(op string) (string, uint64, *stream.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", 0, nil, ErrClosed
	}
	chatID := c.timeline.ChatID()
	if chatID == "" {
		return "", 0, nil, chaterr.Invalid("chat", op+": no chat selected")
	}
	return chatID, c.timeline.Epoch(), c.channel, nil
}

// Send posts content to the active chat. Blank content is rejected without
// any request or state change. When the channel is open the message goes over
// the stream and is displayed once the server echoes it; otherwise it is
// posted over REST and the confirmed copy is appended.
func (c *Controller) Send(ctx context.Context, content string) error {
	text, err := chat.ValidateMessage(content)
	if err != nil {
		return c.fail(err)
	}
	chatID, epoch, ch, err := c.selected("send")
	if err != nil {
		return c.fail(err)
	}
	if c.opts.Limiter != nil {
		ok, lerr := c.opts.Limiter.Allow(ctx, chatID)
		if lerr != nil {
			log.Warn().Err(lerr).Str("chat_id", chatID).Msg("[client] send limiter unavailable")
		}
		if !ok {
			return c.fail(chaterr.Invalid("content", "sending too fast, wait a moment"))
		}
	}

	if ch != nil && ch.State() == stream.Open {
		clientID, err := ch.SendContent(text)
		if err == nil {
			metrics.MessagesSentTotal.WithLabelValues("stream").Inc()
			log.Debug().Str("chat_id", chatID).Str("client_id", clientID).Msg("[client] sent over stream")
			return nil
		}
		log.Warn().Err(err).Str("chat_id", chatID).Msg("[client] stream send failed, posting over REST")
	}

	tok, err := c.token(ctx, "send message")
	if err != nil {
		return c.fail(err)
	}
	msg, err := c.api.PostMessage(ctx, tok, chatID, text)
	if err != nil {
		return c.fail(err)
	}
	metrics.MessagesSentTotal.WithLabelValues("rest").Inc()
	if c.timeline.Append(epoch, msg) == chat.Appended {
		c.changed(&chat.ChangeEvent{Kind: chat.ChangeAppended, ChatID: chatID, Epoch: epoch, Message: &msg})
	}
	return nil
}

// EditMessage replaces the content of a message in the active chat. The
// displayed copy is left as is; the edit shows up with the next history load.
func (c *Controller) EditMessage(ctx context.Context, msgID, content string) error {
	if strings.TrimSpace(msgID) == "" {
		return c.fail(chaterr.Invalid("message_id", "must not be empty"))
	}
	text, err := chat.ValidateMessage(content)
	if err != nil {
		return c.fail(err)
	}
	chatID, _, _, err := c.selected("edit")
	if err != nil {
		return c.fail(err)
	}
	tok, err := c.token(ctx, "edit message")
	if err != nil {
		return c.fail(err)
	}
	if err := c.api.EditMessage(ctx, tok, chatID, msgID, text); err != nil {
		return c.fail(err)
	}
	return nil
}

// DeleteMessage deletes a message in the active chat. Like edits, the
// deletion is reflected by the next history load.
func (c *Controller) DeleteMessage(ctx context.Context, msgID string) error {
	if strings.TrimSpace(msgID) == "" {
		return c.fail(chaterr.Invalid("message_id", "must not be empty"))
	}
	chatID, _, _, err := c.selected("delete")
	if err != nil {
		return c.fail(err)
	}
	tok, err := c.token(ctx, "delete message")
	if err != nil {
		return c.fail(err)
	}
	if err := c.api.DeleteMessage(ctx, tok, chatID, msgID); err != nil {
		return c.fail(err)
	}
	return nil
}

// History fetches a chat's history without selecting it.
func (c *Controller) History(ctx context.Context, chatID string) ([]protocol.Message, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, c.fail(chaterr.Invalid("chat_id", "must not be empty"))
	}
	tok, err := c.token(ctx, "fetch history")
	if err != nil {
		return nil, c.fail(err)
	}
	msgs, err := c.api.FetchHistory(ctx, tok, chatID)
	if err != nil {
		return nil, c.fail(err)
	}
	return msgs, nil
}

// Health checks that the backend is reachable.
func (c *Controller) Health(ctx context.Context) error {
	return c.fail(c.api.Health(ctx))
}
