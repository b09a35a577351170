package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiprono234/chat-verse/internal/auth"
	"github.com/kiprono234/chat-verse/internal/models"
	"github.com/kiprono234/chat-verse/internal/services"
	"go.uber.org/zap"
)

// MessageHandler contains HTTP handlers for message operations.
// Provides history and posting for clients that are not on the websocket.
type MessageHandler struct {
	messages *services.MessageService
	log      *zap.Logger
}

// NewMessageHandler creates a new MessageHandler instance.
func NewMessageHandler(messages *services.MessageService, log *zap.Logger) *MessageHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageHandler{messages: messages, log: log}
}

// SendMessage handles POST /api/messages
// When the request is authenticated the token identity is the sender;
// otherwise sender and avatarRef come from the body.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.NewError(models.CodeValidation, "invalid request body"))
		return
	}

	in := services.SendInput{
		Sender:    req.Sender,
		AvatarRef: req.AvatarRef,
		Text:      req.Text,
		FileRef:   req.FileRef,
		FileType:  req.FileType,
		Origin:    "http",
	}
	if id, ok := auth.FromContext(r.Context()); ok {
		in.SenderID = id.Subject
		in.Sender = id.DisplayName
		if in.Sender == "" {
			in.Sender = id.Subject
		}
		if id.AvatarRef != "" {
			in.AvatarRef = id.AvatarRef
		}
	}

	msg, err := h.messages.Send(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// GetMessages handles GET /api/messages
// Query params:
//   - includeArchived: also return archived messages (default false)
//   - after: ISO 8601 timestamp to get messages after (for polling)
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	var opts services.ListOptions

	if v := r.URL.Query().Get("includeArchived"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, models.NewError(models.CodeValidation, "invalid 'includeArchived' value"))
			return
		}
		opts.IncludeArchived = include
	}

	// Parse optional 'after' query param for incremental polling
	if afterParam := r.URL.Query().Get("after"); afterParam != "" {
		parsed, err := time.Parse(time.RFC3339Nano, afterParam)
		if err != nil {
			writeError(w, models.NewError(models.CodeValidation, "invalid 'after' timestamp format"))
			return
		}
		opts.After = parsed
	}

	messages, err := h.messages.List(r.Context(), opts)
	if err != nil {
		h.log.Error("list_messages_failed", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// GetMessage handles GET /api/messages/{id}
func (h *MessageHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := messageID(w, r)
	if !ok {
		return
	}
	msg, err := h.messages.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// ArchiveMessage handles POST /api/messages/{id}/archive
// Archiving is idempotent; every call broadcasts messageArchived.
func (h *MessageHandler) ArchiveMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := messageID(w, r)
	if !ok {
		return
	}
	msg, err := h.messages.Archive(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func messageID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, models.NewError(models.CodeValidation, "message id must be a positive integer"))
		return 0, false
	}
	return id, true
}
