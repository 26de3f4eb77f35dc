// Package api is the REST client for the chat backend. Every call takes a
// context, attaches the bearer token when the endpoint needs one, and maps
// failures onto the chaterr taxonomy: 401 and rejected credentials become
// AuthError, everything else NetworkError.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/whisper/chat-client/internal/chaterr"
	"github.com/whisper/chat-client/internal/metrics"
	"github.com/whisper/chat-client/internal/protocol"
)

// maxErrorBody caps how much of an error response is read for its message.
const maxErrorBody = 64 << 10

// Client issues request/response calls against the REST API.
type Client struct {
	baseURL   string
	streamURL string
	http      *http.Client
}

// New creates a Client for the REST base (e.g. http://host/api/v1) and the
// matching websocket base. timeout bounds every call; zero means none.
func New(baseURL, streamURL string, timeout time.Duration) *Client {
	return NewWithHTTPClient(baseURL, streamURL, &http.Client{Timeout: timeout})
}

// NewWithHTTPClient creates a Client using hc for transport.
func NewWithHTTPClient(baseURL, streamURL string, hc *http.Client) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		streamURL: strings.TrimRight(streamURL, "/"),
		http:      hc,
	}
}

// request describes one call.
type request struct {
	op     string
	method string
	path   string
	token  string
	auth   bool // endpoint needs a bearer token
	// credential endpoints report every failure status as AuthError
	credential bool
	body       interface{}
	out        interface{}
}

func (c *Client) do(ctx context.Context, r request) error {
	if r.auth && r.token == "" {
		return chaterr.NoToken(r.op)
	}

	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("api: %s: marshal body: %w", r.op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return &chaterr.NetworkError{Op: r.op, Err: err}
	}
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RequestDuration.WithLabelValues(r.op, "error").Observe(time.Since(start).Seconds())
		log.Debug().Err(err).Str("op", r.op).Msg("[api] transport error")
		return &chaterr.NetworkError{Op: r.op, Err: err}
	}
	defer resp.Body.Close()

	metrics.RequestDuration.WithLabelValues(r.op, statusClass(resp.StatusCode)).Observe(time.Since(start).Seconds())
	log.Debug().Str("op", r.op).Str("method", r.method).Str("path", r.path).
		Int("status", resp.StatusCode).Dur("took", time.Since(start)).Msg("[api] request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := errorMessage(resp.Body)
		if resp.StatusCode == http.StatusUnauthorized || r.credential {
			if msg == "" {
				msg = http.StatusText(resp.StatusCode)
			}
			return &chaterr.AuthError{Op: r.op, Message: msg}
		}
		return &chaterr.NetworkError{Op: r.op, Status: resp.StatusCode, Message: msg}
	}

	if r.out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(r.out); err != nil && err != io.EOF {
		return &chaterr.NetworkError{Op: r.op, Status: resp.StatusCode, Message: "decode response", Err: err}
	}
	return nil
}

// errorMessage extracts the message of an error body: a JSON object with an
// error/message/msg field, or plain text.
func errorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}
	var e protocol.ErrorResponse
	if json.Unmarshal(data, &e) == nil {
		return e.Text()
	}
	var s string
	if json.Unmarshal(data, &s) == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(data))
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

func chatPath(chatID string) string {
	return "/chats/" + url.PathEscape(chatID)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (protocol.LoginResponse, error) {
	var out protocol.LoginResponse
	err := c.do(ctx, request{
		op: "login", method: http.MethodPost, path: "/users/login", credential: true,
		body: protocol.LoginRequest{Email: email, Password: password},
		out:  &out,
	})
	if err != nil {
		return protocol.LoginResponse{}, err
	}
	if out.AccessToken == "" {
		return protocol.LoginResponse{}, &chaterr.AuthError{Op: "login", Message: "response carried no access token"}
	}
	return out, nil
}

// Register creates an account and returns its id.
func (c *Client) Register(ctx context.Context, email, password, username string) (string, error) {
	var out protocol.RegisterResponse
	err := c.do(ctx, request{
		op: "register", method: http.MethodPost, path: "/users", credential: true,
		body: protocol.RegisterRequest{Email: email, Password: password, Username: username},
		out:  &out,
	})
	return out.ID, err
}

// ---------------------------------------------------------------------------
// Chats
// ---------------------------------------------------------------------------

// ListChats returns every chat visible to the user.
func (c *Client) ListChats(ctx context.Context, token string) ([]protocol.Chat, error) {
	var out []protocol.Chat
	err := c.do(ctx, request{
		op: "list chats", method: http.MethodGet, path: "/chats", token: token, auth: true, out: &out,
	})
	if out == nil && err == nil {
		out = []protocol.Chat{}
	}
	return out, err
}

// ListActiveChats returns the chats that currently have connected members.
func (c *Client) ListActiveChats(ctx context.Context, token string) ([]protocol.Chat, error) {
	var out []protocol.Chat
	err := c.do(ctx, request{
		op: "list active chats", method: http.MethodGet, path: "/chats/active", token: token, auth: true, out: &out,
	})
	if out == nil && err == nil {
		out = []protocol.Chat{}
	}
	return out, err
}

// CreateChat creates a chat. The caller validates name beforehand.
func (c *Client) CreateChat(ctx context.Context, token, name string) (protocol.Chat, error) {
	var out protocol.CreateChatResponse
	err := c.do(ctx, request{
		op: "create chat", method: http.MethodPost, path: "/chats", token: token, auth: true,
		body: protocol.CreateChatRequest{Name: name},
		out:  &out,
	})
	if err != nil {
		return protocol.Chat{}, err
	}
	if out.ID == "" {
		return protocol.Chat{}, &chaterr.NetworkError{Op: "create chat", Message: "response carried no chat id"}
	}
	return protocol.Chat{ID: out.ID, Name: name}, nil
}

// DeleteChat deletes a chat.
func (c *Client) DeleteChat(ctx context.Context, token, chatID string) error {
	return c.do(ctx, request{
		op: "delete chat", method: http.MethodDelete, path: chatPath(chatID), token: token, auth: true,
	})
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// FetchHistory returns the full history of a chat, oldest first as the
// server orders it.
func (c *Client) FetchHistory(ctx context.Context, token, chatID string) ([]protocol.Message, error) {
	var out []protocol.Message
	err := c.do(ctx, request{
		op: "fetch history", method: http.MethodGet, path: chatPath(chatID) + "/messages", token: token, auth: true, out: &out,
	})
	if out == nil && err == nil {
		out = []protocol.Message{}
	}
	return out, err
}

// PostMessage posts a message and returns the server-confirmed copy.
func (c *Client) PostMessage(ctx context.Context, token, chatID, content string) (protocol.Message, error) {
	var out protocol.Message
	err := c.do(ctx, request{
		op: "post message", method: http.MethodPost, path: chatPath(chatID) + "/messages", token: token, auth: true,
		body: protocol.ContentRequest{Content: content},
		out:  &out,
	})
	if err != nil {
		return protocol.Message{}, err
	}
	if out.ChatID == "" {
		out.ChatID = chatID
	}
	return out, nil
}

// EditMessage replaces the content of a message.
func (c *Client) EditMessage(ctx context.Context, token, chatID, msgID, content string) error {
	return c.do(ctx, request{
		op: "edit message", method: http.MethodPatch, path: chatPath(chatID) + "/messages/" + url.PathEscape(msgID),
		token: token, auth: true,
		body: protocol.ContentRequest{Content: content},
	})
}

// DeleteMessage deletes a message.
func (c *Client) DeleteMessage(ctx context.Context, token, chatID, msgID string) error {
	return c.do(ctx, request{
		op: "delete message", method: http.MethodDelete, path: chatPath(chatID) + "/messages/" + url.PathEscape(msgID),
		token: token, auth: true,
	})
}

// Health checks that the backend is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, request{op: "health", method: http.MethodGet, path: "/health"})
}

// StreamURL returns the websocket URL of a chat's stream, carrying the
// bearer token as a query parameter.
func (c *Client) StreamURL(chatID, token string) string {
	return c.streamURL + chatPath(chatID) + "/connect?token=" + url.QueryEscape(token)
}
