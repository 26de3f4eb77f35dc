// Package protocol defines the JSON shapes exchanged with the chat backend,
// both over the REST API and over the per-chat websocket stream. Inbound
// stream frames are bare Message objects; outbound frames carry the content
// to post plus a client-generated correlation id.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Domain objects
// ---------------------------------------------------------------------------

// Chat is a chat room as listed by GET /chats.
type Chat struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message is a single chat message. Identity is ID; it is unique within a
// chat's message sequence.
type Message struct {
	ID         string    `json:"id"`
	ChatID     string    `json:"chat_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	IsEdited   bool      `json:"is_edited"`
}

// ---------------------------------------------------------------------------
// REST request/response bodies
// ---------------------------------------------------------------------------

// LoginRequest is the body of POST /users/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the token pair issued on login.
type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RegisterRequest is the body of POST /users.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

// RegisterResponse is returned by POST /users.
type RegisterResponse struct {
	ID string `json:"id"`
}

// CreateChatRequest is the body of POST /chats.
type CreateChatRequest struct {
	Name string `json:"name"`
}

// CreateChatResponse is returned by POST /chats.
type CreateChatResponse struct {
	ID string `json:"id"`
}

// ContentRequest is the body of POST /chats/{id}/messages and
// PATCH /chats/{id}/messages/{msg_id}.
type ContentRequest struct {
	Content string `json:"content"`
}

// ErrorResponse is the error body returned by the backend. Different
// handlers fill different fields, so all of them are decoded.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Msg     string `json:"msg"`
}

// Text returns the most specific human readable message in the body.
func (e ErrorResponse) Text() string {
	for _, s := range []string{e.Message, e.Msg, e.Error} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// ---------------------------------------------------------------------------
// Stream frames
// ---------------------------------------------------------------------------

// OutboundMsg is the frame the client writes on the stream to post a message.
type OutboundMsg struct {
	ClientID string `json:"client_id"`
	Content  string `json:"content"`
}

// ErrMalformed is wrapped by every ParseStreamMessage failure.
var ErrMalformed = errors.New("protocol: malformed stream frame")

// ParseStreamMessage decodes an inbound stream frame into a Message. Frames
// that are not JSON objects or that lack an id or chat_id are rejected with
// an error wrapping ErrMalformed.
func ParseStreamMessage(data []byte) (Message, error) {
	var raw struct {
		ID         *string    `json:"id"`
		ChatID     *string    `json:"chat_id"`
		Content    string     `json:"content"`
		CreatedAt  *time.Time `json:"created_at"`
		AuthorID   string     `json:"author_id"`
		AuthorName string     `json:"author_name"`
		IsEdited   bool       `json:"is_edited"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.ID == nil || *raw.ID == "" {
		return Message{}, fmt.Errorf("%w: missing or empty \"id\" field", ErrMalformed)
	}
	if raw.ChatID == nil || *raw.ChatID == "" {
		return Message{}, fmt.Errorf("%w: missing or empty \"chat_id\" field", ErrMalformed)
	}

	msg := Message{
		ID:         *raw.ID,
		ChatID:     *raw.ChatID,
		Content:    raw.Content,
		AuthorID:   raw.AuthorID,
		AuthorName: raw.AuthorName,
		IsEdited:   raw.IsEdited,
	}
	if raw.CreatedAt != nil {
		msg.CreatedAt = *raw.CreatedAt
	}
	return msg, nil
}

// NewOutboundMessage encodes content as an outbound stream frame with a fresh
// correlation id. The id is returned so callers can log it.
func NewOutboundMessage(content string) ([]byte, string, error) {
	clientID := uuid.NewString()
	out, err := json.Marshal(OutboundMsg{ClientID: clientID, Content: content})
	if err != nil {
		return nil, "", fmt.Errorf("protocol: failed to marshal outbound message: %w", err)
	}
	return out, clientID, nil
}
