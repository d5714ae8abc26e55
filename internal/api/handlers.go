package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/doubtsolver/assistant/internal/core"
	"github.com/doubtsolver/assistant/internal/gate"
	"github.com/doubtsolver/assistant/internal/prompt"
	"github.com/doubtsolver/assistant/internal/render"
	"github.com/doubtsolver/assistant/internal/store"
)

type APIHandler struct {
	chatService *core.ChatService
}

func NewAPIHandler(cs *core.ChatService) *APIHandler {
	return &APIHandler{chatService: cs}
}

type OpenSessionRequest struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	SelectedLanguage string `json:"selected_language"`
}

type SessionResponse struct {
	SessionID string               `json:"session_id"`
	Messages  []render.DisplayUnit `json:"messages"`
}

func (h *APIHandler) OpenSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		http.Error(w, "Problem title is required", http.StatusBadRequest)
		return
	}

	problemCtx := store.ProblemContext{
		Title:            req.Title,
		Description:      req.Description,
		SelectedLanguage: req.SelectedLanguage,
	}
	sess, transcript, err := h.chatService.OpenSession(r.Context(), problemCtx)
	if err != nil {
		log.Printf("Error opening session for %q: %v", req.Title, err)
		http.Error(w, "Failed to open session", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(SessionResponse{SessionID: sess.ID, Messages: transcript})
}

func (h *APIHandler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.chatService.GetSession(chi.URLParam(r, "sessionID"))
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(SessionResponse{SessionID: sess.ID, Messages: h.chatService.Transcript(sess)})
}

type PostMessageRequest struct {
	Content string `json:"content"`
	Mode    string `json:"mode"`
}

type PostMessageResponse struct {
	Messages []render.DisplayUnit `json:"messages"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.chatService.GetSession(chi.URLParam(r, "sessionID"))
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	mode := prompt.Mode(req.Mode)
	if req.Mode == "" {
		mode = prompt.ModeAsk
	}
	switch mode {
	case prompt.ModeAsk:
		if strings.TrimSpace(req.Content) == "" {
			http.Error(w, "Message content cannot be empty", http.StatusBadRequest)
			return
		}
	case prompt.ModeHint, prompt.ModeSolve:
		// These modes synthesize their own instruction text; content is ignored.
	default:
		http.Error(w, "Unknown mode: "+req.Mode, http.StatusBadRequest)
		return
	}

	units, err := h.chatService.Send(r.Context(), sess, strings.TrimSpace(req.Content), mode)
	switch {
	case err == nil:
		json.NewEncoder(w).Encode(PostMessageResponse{Messages: units})
	case errors.Is(err, gate.ErrBusy), errors.Is(err, gate.ErrTooSoon):
		// The transient denial message rides along so the UI can show it.
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(PostMessageResponse{Messages: units})
	case errors.Is(err, store.ErrNoCredential):
		w.WriteHeader(http.StatusPreconditionFailed)
		json.NewEncoder(w).Encode(PostMessageResponse{Messages: units})
	default:
		log.Printf("Error sending message for session %s: %v", sess.ID, err)
		http.Error(w, "Failed to send message", http.StatusInternalServerError)
	}
}

func (h *APIHandler) CloseSessionHandler(w http.ResponseWriter, r *http.Request) {
	err := h.chatService.CloseSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		if errors.Is(err, core.ErrSessionNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		log.Printf("Error closing session: %v", err)
		http.Error(w, "Failed to close session", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type SetCredentialRequest struct {
	APIKey string `json:"api_key"`
}

func (h *APIHandler) SetCredentialHandler(w http.ResponseWriter, r *http.Request) {
	var req SetCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	err := h.chatService.SetCredential(r.Context(), strings.TrimSpace(req.APIKey))
	if err != nil {
		log.Printf("API key validation error: %v", err)
		message := "Invalid API key. Please try again."
		switch {
		case errors.Is(err, core.ErrInvalidKeyFormat):
			message = "Invalid API key format"
		case strings.Contains(err.Error(), "quota"):
			message = "API quota exceeded. Please try again later."
		case strings.Contains(err.Error(), "permission"):
			message = "API key does not have permission to access Gemini."
		}
		http.Error(w, message, http.StatusBadRequest)
		return
	}

	json.NewEncoder(w).Encode(map[string]bool{"configured": true})
}

func (h *APIHandler) GetCredentialHandler(w http.ResponseWriter, r *http.Request) {
	// Presence only; the key itself is never echoed back.
	json.NewEncoder(w).Encode(map[string]bool{"configured": h.chatService.HasCredential(r.Context())})
}
