// Package backendtest runs an in-process fake of the chat backend for tests:
// the REST API under /api/v1 and the per-chat websocket stream. It counts
// calls per route, can inject failures, can hold history responses until a
// test releases them, and can push arbitrary frames into open streams.
package backendtest

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/whisper/chat-client/internal/protocol"
)

// Route names used by Calls and Fail.
const (
	RouteLogin         = "POST /users/login"
	RouteRegister      = "POST /users"
	RouteListChats     = "GET /chats"
	RouteActiveChats   = "GET /chats/active"
	RouteCreateChat    = "POST /chats"
	RouteDeleteChat    = "DELETE /chats/{id}"
	RouteHistory       = "GET /chats/{id}/messages"
	RoutePostMessage   = "POST /chats/{id}/messages"
	RouteEditMessage   = "PATCH /chats/{id}/messages/{msgID}"
	RouteDeleteMessage = "DELETE /chats/{id}/messages/{msgID}"
	RouteHealth        = "GET /health"
	RouteConnect       = "GET /chats/{id}/connect"
)

// Account credentials accepted by Login.
const (
	Email    = "ann@example.com"
	Password = "secret"
	Token    = "token-ann"
	Refresh  = "refresh-ann"
	UserID   = "u-ann"
	Username = "ann"
)

type failure struct {
	status int
	body   string
}

type stream struct {
	chatID string
	conn   net.Conn
	mu     sync.Mutex
}

func (s *stream) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wsutil.WriteServerMessage(s.conn, ws.OpText, data)
}

// Server is the fake backend.
type Server struct {
	srv *httptest.Server

	mu       sync.Mutex
	chats    []protocol.Chat
	messages map[string][]protocol.Message
	calls    map[string]int
	fail     map[string]failure
	holds    map[string]chan struct{}
	streams  map[*stream]struct{}
	received map[string][]protocol.OutboundMsg
	connects map[string]int
	reject   bool
}

// New starts a fake backend. Close it when done.
func New() *Server {
	s := &Server{
		messages: make(map[string][]protocol.Message),
		calls:    make(map[string]int),
		fail:     make(map[string]failure),
		holds:    make(map[string]chan struct{}),
		streams:  make(map[*stream]struct{}),
		received: make(map[string][]protocol.OutboundMsg),
		connects: make(map[string]int),
	}

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/users/login", s.wrap(RouteLogin, false, s.handleLogin))
		r.Post("/users", s.wrap(RouteRegister, false, s.handleRegister))
		r.Get("/health", s.wrap(RouteHealth, false, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		}))
		r.Get("/chats", s.wrap(RouteListChats, true, s.handleListChats))
		r.Get("/chats/active", s.wrap(RouteActiveChats, true, s.handleListChats))
		r.Post("/chats", s.wrap(RouteCreateChat, true, s.handleCreateChat))
		r.Delete("/chats/{id}", s.wrap(RouteDeleteChat, true, s.handleDeleteChat))
		r.Get("/chats/{id}/messages", s.wrap(RouteHistory, true, s.handleHistory))
		r.Post("/chats/{id}/messages", s.wrap(RoutePostMessage, true, s.handlePostMessage))
		r.Patch("/chats/{id}/messages/{msgID}", s.wrap(RouteEditMessage, true, s.handleEditMessage))
		r.Delete("/chats/{id}/messages/{msgID}", s.wrap(RouteDeleteMessage, true, s.handleDeleteMessage))
		r.Get("/chats/{id}/connect", s.handleConnect)
	})

	s.srv = httptest.NewServer(r)
	return s
}

// Close shuts the server and every open stream down.
func (s *Server) Close() {
	s.DropStreams()
	s.srv.Close()
}

// BaseURL is the REST base, e.g. http://127.0.0.1:port/api/v1.
func (s *Server) BaseURL() string { return s.srv.URL + "/api/v1" }

// StreamURL is the websocket base matching BaseURL.
func (s *Server) StreamURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/api/v1"
}

// AddChat seeds a chat with a history.
func (s *Server) AddChat(chat protocol.Chat, history ...protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = append(s.chats, chat)
	for i := range history {
		if history[i].ChatID == "" {
			history[i].ChatID = chat.ID
		}
	}
	s.messages[chat.ID] = append(s.messages[chat.ID], history...)
}

// Chats returns the chats the server currently knows.
func (s *Server) Chats() []protocol.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Chat(nil), s.chats...)
}

// History returns the stored messages of a chat.
func (s *Server) History(chatID string) []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Message(nil), s.messages[chatID]...)
}

// Calls returns how many times route was hit.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// TotalCalls returns the number of REST calls across all routes.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// Fail makes route answer status with body until cleared with status 0.
func (s *Server) Fail(route string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.fail, route)
		return
	}
	s.fail[route] = failure{status: status, body: body}
}

// HoldHistory blocks history responses for chatID until the returned
// function is called.
func (s *Server) HoldHistory(chatID string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.holds[chatID] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.holds, chatID)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// RejectStreams makes every stream upgrade fail with 503.
func (s *Server) RejectStreams(reject bool) {
	s.mu.Lock()
	s.reject = reject
	s.mu.Unlock()
}

// Connects returns how many stream upgrades chatID received.
func (s *Server) Connects(chatID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects[chatID]
}

// OpenStreams returns the number of live streams for chatID.
func (s *Server) OpenStreams(chatID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for st := range s.streams {
		if st.chatID == chatID {
			n++
		}
	}
	return n
}

// Received returns the outbound frames clients wrote on chatID's streams.
func (s *Server) Received(chatID string) []protocol.OutboundMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.OutboundMsg(nil), s.received[chatID]...)
}

// Push writes a raw frame to every stream of chatID and returns the number
// of streams written.
func (s *Server) Push(chatID string, frame []byte) int {
	n := 0
	for _, st := range s.streamsFor(chatID) {
		if st.write(frame) == nil {
			n++
		}
	}
	return n
}

// PushMessage marshals msg and pushes it to chatID's streams.
func (s *Server) PushMessage(chatID string, msg protocol.Message) int {
	data, _ := json.Marshal(msg)
	return s.Push(chatID, data)
}

// DropStreams closes every open stream from the server side.
func (s *Server) DropStreams() {
	s.mu.Lock()
	streams := make([]*stream, 0, len(s.streams))
	for st := range s.streams {
		streams = append(streams, st)
	}
	s.mu.Unlock()
	for _, st := range streams {
		_ = st.conn.Close()
	}
}

// WaitFor polls cond until it holds or timeout elapses.
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func (s *Server) streamsFor(chatID string) []*stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*stream
	for st := range s.streams {
		if st.chatID == chatID {
			out = append(out, st)
		}
	}
	return out
}

// wrap counts the call, applies injected failures and checks the token.
func (s *Server) wrap(route string, auth bool, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[route]++
		f, failing := s.fail[route]
		s.mu.Unlock()

		if failing {
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(f.body))
			return
		}
		if auth && r.Header.Get("Authorization") != "Bearer "+Token {
			writeJSON(w, http.StatusUnauthorized, protocol.ErrorResponse{Error: "unauthorized", Message: "invalid token"})
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req protocol.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Message: "bad body"})
		return
	}
	if req.Email != Email || req.Password != Password {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Message: "invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, protocol.LoginResponse{AccessToken: Token, RefreshToken: Refresh})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req protocol.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Message: "bad body"})
		return
	}
	if req.Email == Email {
		writeJSON(w, http.StatusConflict, protocol.ErrorResponse{Msg: "email already registered"})
		return
	}
	writeJSON(w, http.StatusCreated, protocol.RegisterResponse{ID: uuid.NewString()})
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Chats())
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Message: "name required"})
		return
	}
	id := "chat-" + uuid.NewString()[:8]
	s.mu.Lock()
	s.chats = append(s.chats, protocol.Chat{ID: id, Name: req.Name})
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, protocol.CreateChatResponse{ID: id})
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.chats {
		if c.ID == id {
			s.chats = append(s.chats[:i], s.chats[i+1:]...)
			delete(s.messages, id)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(protocol.ErrorResponse{Message: "chat not found"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	hold := s.holds[id]
	s.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}
	writeJSON(w, http.StatusOK, s.History(id))
}

// post stores a new message and broadcasts it to the chat's streams.
func (s *Server) post(chatID, content string) protocol.Message {
	msg := protocol.Message{
		ID:         uuid.NewString(),
		ChatID:     chatID,
		Content:    content,
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
		AuthorID:   UserID,
		AuthorName: Username,
	}
	s.mu.Lock()
	s.messages[chatID] = append(s.messages[chatID], msg)
	s.mu.Unlock()
	s.PushMessage(chatID, msg)
	return msg
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req protocol.ContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Message: "bad body"})
		return
	}
	writeJSON(w, http.StatusCreated, s.post(chi.URLParam(r, "id"), req.Content))
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	var req protocol.ContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Message: "bad body"})
		return
	}
	id, msgID := chi.URLParam(r, "id"), chi.URLParam(r, "msgID")
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.messages[id] {
		if m.ID == msgID {
			s.messages[id][i].Content = req.Content
			s.messages[id][i].IsEdited = true
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(protocol.ErrorResponse{Message: "message not found"})
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, msgID := chi.URLParam(r, "id"), chi.URLParam(r, "msgID")
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[id]
	for i, m := range msgs {
		if m.ID == msgID {
			s.messages[id] = append(msgs[:i], msgs[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(protocol.ErrorResponse{Message: "message not found"})
}

// handleConnect upgrades a stream. Every outbound frame is recorded and
// echoed back to all streams of the chat as a stored message.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")

	s.mu.Lock()
	s.calls[RouteConnect]++
	s.connects[chatID]++
	reject := s.reject
	s.mu.Unlock()

	if reject {
		http.Error(w, "stream unavailable", http.StatusServiceUnavailable)
		return
	}
	if r.URL.Query().Get("token") != Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}
	st := &stream{chatID: chatID, conn: conn}
	s.mu.Lock()
	s.streams[st] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.streams, st)
			s.mu.Unlock()
			_ = conn.Close()
		}()
		for {
			data, op, err := wsutil.ReadClientData(conn)
			if err != nil {
				return
			}
			if op != ws.OpText {
				continue
			}
			var out protocol.OutboundMsg
			if json.Unmarshal(data, &out) != nil {
				continue
			}
			s.mu.Lock()
			s.received[chatID] = append(s.received[chatID], out)
			s.mu.Unlock()
			s.post(chatID, out.Content)
		}
	}()
}
