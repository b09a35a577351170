package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kiprono234/chat-verse/internal/models"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps err to a status code and writes it as an error payload.
// Internal errors are reported without detail.
func writeError(w http.ResponseWriter, err error) {
	code := models.CodeOf(err)
	writeJSON(w, statusFor(code), models.ErrorPayload{
		Code:    code.String(),
		Message: models.MessageOf(err),
	})
}

func statusFor(code models.ErrorCode) int {
	switch code {
	case models.CodeValidation, models.CodeProtocol:
		return http.StatusBadRequest
	case models.CodeAttachment:
		return http.StatusRequestEntityTooLarge
	case models.CodeNotFound:
		return http.StatusNotFound
	case models.CodeUnauthorized:
		return http.StatusUnauthorized
	case models.CodeRateLimited:
		return http.StatusTooManyRequests
	case models.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
