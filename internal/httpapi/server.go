// Package httpapi exposes the conversation service over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mnemo/internal/engine"
	"mnemo/internal/llm"
	"mnemo/internal/store"
)

// Store is the slice of the repository the HTTP layer needs.
type Store interface {
	CreateUser(ctx context.Context, username string) (store.User, error)
	GetUser(ctx context.Context, id string) (store.User, error)
	CreateConversation(ctx context.Context, userID, title string) (store.Conversation, error)
	GetConversation(ctx context.Context, id string) (store.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]store.Conversation, error)
	ListTurns(ctx context.Context, conversationID string) ([]store.Turn, error)
}

// TurnHandler runs the per-turn pipeline. The production implementation is
// *engine.Engine.
type TurnHandler interface {
	HandleTurn(ctx context.Context, userID, conversationID, userText, model string) (engine.TurnResult, error)
}

// Server handles the HTTP API routes.
type Server struct {
	store  Store
	engine TurnHandler
	logger *slog.Logger
}

// NewServer wires a server. If logger is nil, the default slog logger is
// used.
func NewServer(st Store, eng TurnHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: st, engine: eng, logger: logger}
}

// Routes returns the route table.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/users", s.handleCreateUser)
	mux.HandleFunc("GET /api/users/{id}", s.handleGetUser)
	mux.HandleFunc("GET /api/users/{id}/conversations", s.handleListConversations)
	mux.HandleFunc("POST /api/conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("POST /api/conversations/{id}/messages", s.handlePostMessage)
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.handleListMessages)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// --- Wire types ---------------------------------------------------------------

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type conversationResponse struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Title          string    `json:"title,omitempty"`
	Status         string    `json:"status"`
	TokenTotal     int       `json:"token_total"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
}

type turnResponse struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Order          int               `json:"order"`
	SenderRole     string            `json:"sender_role"`
	Content        string            `json:"content"`
	TokenCount     int               `json:"token_count"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

type toolExecutionResponse struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

type turnResultResponse struct {
	UserTurn      turnResponse           `json:"user_turn"`
	AssistantTurn turnResponse           `json:"assistant_turn"`
	Tool          *toolExecutionResponse `json:"tool,omitempty"`
}

func toUserResponse(u store.User) userResponse {
	return userResponse{ID: u.ID, Username: u.Username, CreatedAt: u.CreatedAt}
}

func toConversationResponse(c store.Conversation) conversationResponse {
	return conversationResponse{
		ID:             c.ID,
		UserID:         c.UserID,
		Title:          c.Title,
		Status:         c.Status,
		TokenTotal:     c.TokenTotal,
		LastActivityAt: c.LastActivityAt,
		CreatedAt:      c.CreatedAt,
	}
}

func toTurnResponse(t store.Turn) turnResponse {
	return turnResponse{
		ID:             t.ID,
		ConversationID: t.ConversationID,
		Order:          t.Order,
		SenderRole:     t.SenderRole,
		Content:        t.Content,
		TokenCount:     t.TokenCount,
		Metadata:       t.Metadata,
		CreatedAt:      t.CreatedAt,
	}
}

// --- Handlers -----------------------------------------------------------------

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		s.writeError(w, http.StatusBadRequest, "field 'username' is required")
		return
	}

	u, err := s.store.CreateUser(r.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toUserResponse(u))
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.store.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Title  string `json:"title"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "field 'user_id' is required")
		return
	}

	// The foreign key would catch this too, but a 404 is a clearer answer
	// than a constraint violation.
	if _, err := s.store.GetUser(r.Context(), req.UserID); err != nil {
		s.writeFailure(w, r, err)
		return
	}

	c, err := s.store.CreateConversation(r.Context(), req.UserID, req.Title)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toConversationResponse(c))
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toConversationResponse(c))
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if _, err := s.store.GetUser(r.Context(), userID); err != nil {
		s.writeFailure(w, r, err)
		return
	}

	conversations, err := s.store.ListConversations(r.Context(), userID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	out := make([]conversationResponse, 0, len(conversations))
	for _, c := range conversations {
		out = append(out, toConversationResponse(c))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  string `json:"user_id"`
		Message string `json:"message"`
		Model   string `json:"model"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "field 'user_id' is required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, "field 'message' is required")
		return
	}

	result, err := s.engine.HandleTurn(r.Context(), req.UserID, r.PathValue("id"), req.Message, req.Model)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	resp := turnResultResponse{
		UserTurn:      toTurnResponse(result.UserTurn),
		AssistantTurn: toTurnResponse(result.AssistantTurn),
	}
	if result.Tool != nil {
		resp.Tool = &toolExecutionResponse{
			Name:    result.Tool.Name,
			Success: result.Tool.Result.Success,
			Output:  result.Tool.Result.Output,
			Error:   result.Tool.Result.Error,
		}
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	if _, err := s.store.GetConversation(r.Context(), conversationID); err != nil {
		s.writeFailure(w, r, err)
		return
	}

	turns, err := s.store.ListTurns(r.Context(), conversationID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	out := make([]turnResponse, 0, len(turns))
	for _, t := range turns {
		out = append(out, toTurnResponse(t))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Helpers ------------------------------------------------------------------

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeFailure maps domain errors to status codes: unknown entities are 404,
// an unreachable model backend is 503, everything else is a 500 with the
// detail kept out of the response body.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, llm.ErrUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, "model backend unavailable")
	default:
		s.logger.Error("httpapi: request failed",
			"method", r.Method, "path", r.URL.Path, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"message": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("httpapi: encode response", "err", err)
	}
}
