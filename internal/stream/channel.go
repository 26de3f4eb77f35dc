// Package stream maintains the live websocket connection of one chat. A
// Channel is bound to exactly one chat id for its whole life: it dials
// asynchronously, delivers inbound messages one at a time, refuses sends
// unless open, reconnects with bounded exponential backoff and finally gives
// up, and can be closed any number of times.
package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog/log"

	"github.com/whisper/chat-client/internal/chaterr"
	"github.com/whisper/chat-client/internal/metrics"
	"github.com/whisper/chat-client/internal/protocol"
)

// State is the lifecycle state of a Channel.
type State int32

const (
	Idle State = iota
	Connecting
	Open
	Closed
	// Failed is terminal: the reconnect budget is exhausted.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handlers receive channel callbacks. All of them are optional and are
// invoked from the channel's own goroutine, one at a time. They must not call
// Close on the same channel.
type Handlers struct {
	OnOpen        func()
	OnMessage     func(protocol.Message)
	OnStateChange func(State)
	OnError       func(error)
	OnGiveUp      func(error)
}

// Options tune dialing, keepalive and reconnects.
type Options struct {
	ReconnectBase time.Duration // first reconnect delay
	ReconnectMax  time.Duration // backoff ceiling
	MaxRetries    int           // consecutive attempts; 0 disables reconnects
	PingInterval  time.Duration // 0 disables keepalive pings
	WriteTimeout  time.Duration
	DialTimeout   time.Duration
}

// DefaultOptions returns the production defaults. The first reconnect waits
// 3s, matching the fixed delay the web client used.
func DefaultOptions() Options {
	return Options{
		ReconnectBase: 3 * time.Second,
		ReconnectMax:  30 * time.Second,
		MaxRetries:    5,
		PingInterval:  30 * time.Second,
		WriteTimeout:  10 * time.Second,
		DialTimeout:   10 * time.Second,
	}
}

// Backoff returns the delay before reconnect attempt n (1-based):
// base * 2^(n-1), capped at max.
func (o Options) Backoff(n int) time.Duration {
	d := o.ReconnectBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= o.ReconnectMax {
			return o.ReconnectMax
		}
	}
	if d > o.ReconnectMax {
		return o.ReconnectMax
	}
	return d
}

// Channel is one websocket connection bound to one chat.
type Channel struct {
	chatID string
	url    string
	opts   Options
	h      Handlers

	mu      sync.Mutex
	state   State
	conn    *connection
	started bool

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New creates an Idle channel for chatID. Nothing is dialed until Start.
func New(chatID, url string, opts Options, h Handlers) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		chatID: chatID,
		url:    url,
		opts:   opts,
		h:      h,
		state:  Idle,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Dial creates a channel and starts connecting. It returns immediately; the
// outcome is reported through the handlers.
func Dial(ctx context.Context, chatID, url string, opts Options, h Handlers) *Channel {
	c := New(chatID, url, opts, h)
	c.Start(ctx)
	return c
}

// Start begins connecting in the background. Cancelling ctx has the same
// effect as Close. Calling Start more than once, or after Close, does nothing.
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	if ctx != nil {
		stop := context.AfterFunc(ctx, c.cancel)
		go func() {
			<-c.done
			stop()
		}()
	}

	c.setState(Connecting)
	go c.run()
}

// ChatID returns the chat this channel is bound to.
func (c *Channel) ChatID() string { return c.chatID }

// State returns the current state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the channel's goroutine has exited.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Send writes payload as a text frame. It fails with a ChannelError wrapping
// chaterr.ErrChannelNotOpen unless the channel is Open; nothing is queued.
func (c *Channel) Send(payload []byte) error {
	c.mu.Lock()
	st, conn := c.state, c.conn
	c.mu.Unlock()

	if st != Open || conn == nil {
		return &chaterr.ChannelError{ChatID: c.chatID, Op: "send", Err: chaterr.ErrChannelNotOpen}
	}
	if err := conn.WriteMessage(payload); err != nil {
		return &chaterr.ChannelError{ChatID: c.chatID, Op: "send", Err: err}
	}
	return nil
}

// SendContent posts content over the stream and returns the correlation id
// of the outbound frame.
func (c *Channel) SendContent(content string) (string, error) {
	data, clientID, err := protocol.NewOutboundMessage(content)
	if err != nil {
		return "", &chaterr.ChannelError{ChatID: c.chatID, Op: "send", Err: err}
	}
	if err := c.Send(data); err != nil {
		return "", err
	}
	log.Debug().Str("chat_id", c.chatID).Str("client_id", clientID).Msg("[stream] message sent")
	return clientID, nil
}

// Close releases the connection and stops reconnecting. It blocks until the
// channel's goroutine has exited, so no handler runs after Close returns.
// It is idempotent and always leaves the channel Closed.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		conn, started := c.conn, c.started
		c.mu.Unlock()

		if conn != nil {
			_ = conn.WriteClose()
			_ = conn.Close()
		}
		if !started {
			close(c.done)
		}
	})
	<-c.done

	c.mu.Lock()
	if c.state != Closed {
		c.state = Closed
		metrics.StreamState.Set(float64(Closed))
	}
	c.mu.Unlock()
	return nil
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	metrics.StreamState.Set(float64(s))
	log.Debug().Str("chat_id", c.chatID).Str("state", s.String()).Msg("[stream] state")
	if c.h.OnStateChange != nil {
		c.h.OnStateChange(s)
	}
}

func (c *Channel) reportError(op string, err error) {
	if c.h.OnError != nil {
		c.h.OnError(&chaterr.ChannelError{ChatID: c.chatID, Op: op, Err: err})
	}
}

// run owns the connection for the channel's lifetime.
func (c *Channel) run() {
	defer close(c.done)

	attempt := 0
	for {
		opened, err := c.connectAndServe()
		if c.ctx.Err() != nil {
			c.setState(Closed)
			return
		}
		if opened {
			attempt = 0
		}
		if err != nil {
			op := "open"
			if opened {
				op = "read"
			}
			log.Warn().Err(err).Str("chat_id", c.chatID).Msgf("[stream] %s failed", op)
			c.reportError(op, err)
		}
		c.setState(Closed)

		if c.opts.MaxRetries <= 0 {
			return
		}
		attempt++
		if attempt > c.opts.MaxRetries {
			log.Warn().Str("chat_id", c.chatID).Int("attempts", c.opts.MaxRetries).Msg("[stream] giving up")
			c.setState(Failed)
			if c.h.OnGiveUp != nil {
				c.h.OnGiveUp(&chaterr.ChannelError{ChatID: c.chatID, Op: "reconnect", Err: chaterr.ErrGaveUp})
			}
			return
		}

		delay := c.opts.Backoff(attempt)
		log.Info().Str("chat_id", c.chatID).Int("attempt", attempt).Dur("delay", delay).Msg("[stream] reconnecting")
		timer := time.NewTimer(delay)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			c.setState(Closed)
			return
		case <-timer.C:
		}
		metrics.ReconnectsTotal.Inc()
		c.setState(Connecting)
	}
}

// connectAndServe dials once and, on success, reads until the connection
// fails or the channel is closed. opened reports whether the dial succeeded.
func (c *Channel) connectAndServe() (opened bool, err error) {
	dialCtx := c.ctx
	if c.opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(c.ctx, c.opts.DialTimeout)
		defer cancel()
	}

	netConn, _, _, err := ws.Dial(dialCtx, c.url)
	if err != nil {
		return false, err
	}
	conn := newConnection(netConn, c.opts.WriteTimeout)

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return false, nil
	}
	c.conn = conn
	c.mu.Unlock()

	// Unblocks ReadMessage when the channel's context is cancelled.
	stopClose := context.AfterFunc(c.ctx, func() { _ = conn.Close() })
	defer stopClose()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	c.setState(Open)
	log.Info().Str("chat_id", c.chatID).Msg("[stream] connected")
	if c.h.OnOpen != nil {
		c.h.OnOpen()
	}

	stop := make(chan struct{})
	defer close(stop)
	startHeartbeat(conn, c.chatID, c.opts.PingInterval, stop)

	for {
		data, op, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil {
				return true, nil
			}
			return true, err
		}
		if op != ws.OpText && op != ws.OpBinary {
			continue
		}
		c.deliver(data)
	}
}

// deliver parses one frame and hands it to OnMessage. Malformed frames and
// frames for another chat are dropped.
func (c *Channel) deliver(data []byte) {
	msg, err := protocol.ParseStreamMessage(data)
	if err == nil && msg.ChatID != c.chatID {
		err = errors.New("frame for another chat " + msg.ChatID)
	}
	if err != nil {
		metrics.StreamFramesTotal.WithLabelValues("malformed").Inc()
		log.Debug().Err(err).Str("chat_id", c.chatID).Msg("[stream] dropping frame")
		return
	}
	if c.h.OnMessage != nil {
		c.h.OnMessage(msg)
	}
}
