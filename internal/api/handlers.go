// Package api is the HTTP boundary: one chat endpoint and a health check.
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"acme.com/hr-assistant/internal/core"
	"acme.com/hr-assistant/internal/logging"
)

type APIHandler struct {
	chatService *core.ChatService
}

func NewAPIHandler(cs *core.ChatService) *APIHandler {
	return &APIHandler{chatService: cs}
}

type ChatRequest struct {
	SessionID   string `json:"session_id,omitempty"`
	UserMessage string `json:"user_message"`
}

type ChatResponse struct {
	SessionID  string `json:"session_id"`
	BotMessage string `json:"bot_message"`
}

// ChatHandler processes one conversation turn. A missing session_id starts a
// new session under a fresh identifier.
func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		http.Error(w, "user_message cannot be empty", http.StatusBadRequest)
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	answer, err := h.chatService.HandleTurn(r.Context(), sessionID, req.UserMessage)
	if err != nil {
		logging.From(r.Context()).Error("failed to handle turn",
			"session_id", sessionID, "error", err)
		http.Error(w, "The assistant is temporarily unavailable. Please try again.",
			http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ChatResponse{
		SessionID:  sessionID,
		BotMessage: answer,
	})
}
