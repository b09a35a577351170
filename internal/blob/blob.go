// Package blob stores attachment bytes and hands back a retrieval reference.
package blob

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/kiprono234/chat-verse/internal/models"
)

// Object describes a stored attachment.
type Object struct {
	// Ref is the URL clients fetch the attachment from
	Ref string `json:"ref"`

	// ContentType is the MIME type detected at upload time
	ContentType string `json:"contentType"`

	Size int64 `json:"size"`
}

// Store persists attachment bytes.
type Store interface {
	// Put stores data under a fresh name derived from name and returns its reference.
	Put(ctx context.Context, name string, data []byte) (Object, error)
}

// DetectContentType sniffs data and falls back to the extension of name
// when the bytes alone are inconclusive.
func DetectContentType(name string, data []byte) string {
	sniffed := http.DetectContentType(data)
	if sniffed != "application/octet-stream" && !strings.HasPrefix(sniffed, "text/plain") {
		return sniffed
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
		return byExt
	}
	return sniffed
}

// ObjectName returns a collision free name that keeps the original extension.
func ObjectName(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) > 16 || strings.ContainsAny(ext, `/\ `) {
		ext = ""
	}
	return uuid.NewString() + ext
}

// CheckSize returns an attachment error for empty or oversized payloads.
func CheckSize(size, max int64) error {
	if size == 0 {
		return models.NewError(models.CodeAttachment, "attachment is empty")
	}
	if max > 0 && size > max {
		return models.NewError(models.CodeAttachment, fmt.Sprintf("attachment is %s, limit is %s",
			humanize.Bytes(uint64(size)), humanize.Bytes(uint64(max))))
	}
	return nil
}
