package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/kiprono234/chat-verse/internal/models"
	"github.com/kiprono234/chat-verse/internal/services"
	"go.uber.org/zap"
)

// multipartOverhead is the slack allowed on top of the file for headers and boundaries
const multipartOverhead = 1 << 20

// UploadHandler accepts attachments ahead of a message.
type UploadHandler struct {
	messages  *services.MessageService
	maxUpload int64
	log       *zap.Logger
}

// NewUploadHandler creates a new UploadHandler instance.
func NewUploadHandler(messages *services.MessageService, maxUpload int64, log *zap.Logger) *UploadHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &UploadHandler{messages: messages, maxUpload: maxUpload, log: log}
}

// Upload handles POST /api/upload with a multipart "file" field.
// The returned fileRef and fileType can be posted to /api/messages.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	limit := h.maxUpload + multipartOverhead
	if r.ContentLength > limit {
		writeError(w, models.NewError(models.CodeAttachment, "attachment too large"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, models.NewError(models.CodeAttachment, "attachment too large"))
			return
		}
		writeError(w, models.NewError(models.CodeValidation, "multipart field 'file' is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		writeError(w, models.WrapError(models.CodeAttachment, "could not read attachment", err))
		return
	}

	obj, err := h.messages.Upload(r.Context(), header.Filename, data)
	if err != nil {
		writeError(w, err)
		return
	}

	h.log.Info("attachment_uploaded", zap.String("name", header.Filename), zap.String("type", obj.ContentType), zap.Int64("size", obj.Size))
	writeJSON(w, http.StatusCreated, models.UploadResponse{
		FileRef:  obj.Ref,
		FileType: obj.ContentType,
		Size:     obj.Size,
	})
}
