package blob

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kiprono234/chat-verse/internal/models"
	"go.uber.org/zap"
)

// tempPattern names in-flight writes. Put removes its own temp file, so any
// match left on disk belongs to a write interrupted by a crash.
const tempPattern = ".upload-*"

// LocalStore writes attachments to a directory served by the HTTP server under /uploads/.
type LocalStore struct {
	dir     string
	baseURL string
	log     *zap.Logger
}

// NewLocalStore creates dir if needed.
// baseURL is the public origin of the server, e.g. http://localhost:8080.
func NewLocalStore(dir, baseURL string, log *zap.Logger) (*LocalStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", dir, err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/"), log: log}, nil
}

// Put writes data to a temp file and renames it into place so readers never see a partial file.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}

	objName := ObjectName(name)
	tmp, err := os.CreateTemp(s.dir, tempPattern)
	if err != nil {
		return Object{}, models.WrapError(models.CodeAttachment, "could not store attachment", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return Object{}, models.WrapError(models.CodeAttachment, "could not store attachment", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return Object{}, models.WrapError(models.CodeAttachment, "could not store attachment", err)
	}
	if err := tmp.Close(); err != nil {
		return Object{}, models.WrapError(models.CodeAttachment, "could not store attachment", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, objName)); err != nil {
		return Object{}, models.WrapError(models.CodeAttachment, "could not store attachment", err)
	}

	obj := Object{
		Ref:         s.baseURL + "/uploads/" + objName,
		ContentType: DetectContentType(name, data),
		Size:        int64(len(data)),
	}
	s.log.Debug("blob_stored", zap.String("name", objName), zap.String("type", obj.ContentType), zap.Int64("size", obj.Size))
	return obj, nil
}

// Handler serves stored files. Mount it under /uploads/.
// Directory listings are not exposed.
func (s *LocalStore) Handler() http.Handler {
	files := http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		base := filepath.Base(r.URL.Path)
		if strings.HasSuffix(r.URL.Path, "/") || strings.HasPrefix(base, ".") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}

// SweepTemp deletes temp files last modified before olderThan.
func (s *LocalStore) SweepTemp(olderThan time.Time) (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, tempPattern))
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Before(olderThan) {
			continue
		}
		if err := os.Remove(path); err != nil {
			s.log.Warn("sweep_remove_failed", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}
