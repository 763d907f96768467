package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"nesgem/infrastructure"
	"nesgem/internal/chat"
	"nesgem/internal/directory"
	"nesgem/pkg/jwt"
)

type Server struct {
	router    *mux.Router
	gateway   http.Handler
	directory *directory.Service
	chats     chat.ChatRepository
	messages  chat.MessageRepository
	log       *slog.Logger
}

func NewServer(
	gateway http.Handler,
	dir *directory.Service,
	chats chat.ChatRepository,
	messages chat.MessageRepository,
	tokens *jwt.JWT,
	rateLimitRPS int,
	log *slog.Logger,
) *Server {
	s := &Server{
		gateway:   gateway,
		directory: dir,
		chats:     chats,
		messages:  messages,
		log:       log,
	}

	router := mux.NewRouter()
	router.Use(LoggingMiddleware(log))
	router.Use(RateLimitMiddleware(rateLimitRPS))

	router.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet)
	router.Handle("/ws", gateway)

	authed := router.NewRoute().Subrouter()
	authed.Use(AuthMiddleware(tokens))
	authed.HandleFunc("/push/subscribe", s.subscribePush).Methods(http.MethodPost)
	authed.HandleFunc("/chats", s.listChats).Methods(http.MethodGet)
	authed.HandleFunc("/chats/direct", s.findOrCreateDirectChat).Methods(http.MethodPost)
	authed.HandleFunc("/chats/{id}/messages", s.listMessages).Methods(http.MethodGet)

	s.router = router
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) healthCheck(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) subscribePush(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	var input struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.Token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	if err := s.directory.SubscribePushToken(r.Context(), userID, input.Token); err != nil {
		if errors.Is(err, infrastructure.ErrUserNotFound) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		s.log.Error("failed to subscribe push token", "user_id", userID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) listChats(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	chats, err := s.chats.ListChatsFor(r.Context(), userID)
	if err != nil {
		s.log.Error("failed to list chats", "user_id", userID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"list": chats, "count": len(chats)},
	})
}

func (s *Server) findOrCreateDirectChat(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	var input struct {
		ReceiverID string `json:"receiver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.ReceiverID == "" {
		http.Error(w, "receiver_id is required", http.StatusBadRequest)
		return
	}

	c, err := s.chats.FindOrCreateDirectChat(r.Context(), userID, input.ReceiverID)
	if err != nil {
		s.log.Error("failed to find or create direct chat", "user_id", userID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"chat_id": c.ID})
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	chatID := mux.Vars(r)["id"]

	member, err := s.chats.IsParticipant(r.Context(), chatID, userID)
	if err != nil {
		s.log.Error("failed to check chat membership", "chat_id", chatID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !member {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	messages, err := s.messages.ListChatMessages(r.Context(), chatID, limit, offset)
	if err != nil {
		s.log.Error("failed to list messages", "chat_id", chatID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"list": messages, "count": len(messages)},
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
