package services

import (
	"context"
	"time"

	"github.com/kiprono234/chat-verse/internal/blob"
	"github.com/kiprono234/chat-verse/internal/metrics"
	"github.com/kiprono234/chat-verse/internal/models"
	"github.com/kiprono234/chat-verse/internal/store"
	"go.uber.org/zap"
)

// Publisher fans events out to live connections.
type Publisher interface {
	Publish(ev models.Event)
}

// defaultTimeout bounds a single upload or store call.
const defaultTimeout = 30 * time.Second

// MessageService handles message creation, retrieval and archiving.
// It is shared by the websocket sessions and the HTTP API so both paths
// run the same upload, append, publish pipeline.
type MessageService struct {
	store     store.MessageStore
	blobs     blob.Store
	publisher Publisher

	// maxUpload caps attachment size in bytes
	maxUpload int64
	timeout   time.Duration

	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewMessageService creates a new MessageService instance
func NewMessageService(st store.MessageStore, blobs blob.Store, pub Publisher, maxUpload int64, m *metrics.Metrics, log *zap.Logger) *MessageService {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageService{
		store:     st,
		blobs:     blobs,
		publisher: pub,
		maxUpload: maxUpload,
		timeout:   defaultTimeout,
		metrics:   m,
		log:       log,
	}
}

// SendInput describes a message to create.
// Either FileBytes (uploaded here) or FileRef/FileType (uploaded earlier) may carry the attachment.
type SendInput struct {
	Sender    string
	SenderID  string
	AvatarRef string
	Text      string

	FileRef  *string
	FileType *string

	FileBytes []byte
	FileName  string

	// Origin labels the path the message came in on ("ws" or "http")
	Origin string
}

// Send validates the input, uploads the attachment if any, appends the
// message and publishes messageCreated. Nothing reaches the store when
// validation or upload fails.
//
// The work runs detached from ctx's cancellation: once accepted, a message
// is appended even if the caller goes away.
func (s *MessageService) Send(ctx context.Context, in SendInput) (models.ChatMessage, error) {
	// An empty reference means no attachment
	if in.FileRef != nil {
		in.FileRef = models.StringPtr(*in.FileRef)
	}
	if in.FileType != nil {
		in.FileType = models.StringPtr(*in.FileType)
	}
	if err := validateInput(in); err != nil {
		return models.ChatMessage{}, err
	}

	ctx, cancel := s.detach(ctx)
	defer cancel()

	msg := models.ChatMessage{
		Sender:    in.Sender,
		SenderID:  in.SenderID,
		AvatarRef: in.AvatarRef,
		Text:      in.Text,
		FileRef:   in.FileRef,
		FileType:  in.FileType,
	}

	if len(in.FileBytes) > 0 {
		obj, err := s.upload(ctx, in.FileName, in.FileBytes)
		if err != nil {
			return models.ChatMessage{}, err
		}
		msg.FileRef = models.StringPtr(obj.Ref)
		msg.FileType = models.StringPtr(obj.ContentType)
	}

	stored, err := s.store.Append(ctx, msg)
	if err != nil {
		return models.ChatMessage{}, err
	}

	if s.metrics != nil {
		s.metrics.MessagesAppended.WithLabelValues(originLabel(in.Origin)).Inc()
	}
	s.log.Info("message_created",
		zap.Uint64("id", stored.ID),
		zap.String("sender", stored.Sender),
		zap.Bool("file", stored.HasFile()),
		zap.String("origin", in.Origin))

	s.publisher.Publish(models.Event{Type: models.EventMessageCreated, Payload: stored})
	return stored, nil
}

// Upload stores an attachment without creating a message.
func (s *MessageService) Upload(ctx context.Context, name string, data []byte) (blob.Object, error) {
	ctx, cancel := s.detach(ctx)
	defer cancel()
	return s.upload(ctx, name, data)
}

func (s *MessageService) upload(ctx context.Context, name string, data []byte) (blob.Object, error) {
	if err := blob.CheckSize(int64(len(data)), s.maxUpload); err != nil {
		return blob.Object{}, err
	}
	obj, err := s.blobs.Put(ctx, name, data)
	if err != nil {
		s.log.Warn("upload_failed", zap.String("name", name), zap.Int("size", len(data)), zap.Error(err))
		if models.CodeOf(err) == models.CodeInternal {
			return blob.Object{}, models.WrapError(models.CodeAttachment, "attachment upload failed", err)
		}
		return blob.Object{}, err
	}
	if s.metrics != nil {
		s.metrics.UploadBytes.Observe(float64(obj.Size))
	}
	return obj, nil
}

// Archive hides a message from default views and publishes messageArchived.
// Archiving an archived message succeeds and publishes again.
func (s *MessageService) Archive(ctx context.Context, id uint64) (models.ChatMessage, error) {
	ctx, cancel := s.detach(ctx)
	defer cancel()

	msg, err := s.store.Archive(ctx, id)
	if err != nil {
		return models.ChatMessage{}, err
	}
	if s.metrics != nil {
		s.metrics.MessagesArchived.Inc()
	}
	s.log.Info("message_archived", zap.Uint64("id", id))
	s.publisher.Publish(models.Event{Type: models.EventMessageArchived, Payload: msg})
	return msg, nil
}

// History returns the non-archived messages ascending by id.
// It is the snapshot a connection receives on connect.
func (s *MessageService) History(ctx context.Context) ([]models.ChatMessage, error) {
	return s.List(ctx, ListOptions{})
}

// ListOptions filters List results.
type ListOptions struct {
	IncludeArchived bool

	// After keeps only messages created strictly after this time; zero keeps all
	After time.Time
}

// List returns messages ascending by id, filtered by opts.
func (s *MessageService) List(ctx context.Context, opts ListOptions) ([]models.ChatMessage, error) {
	all, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]models.ChatMessage, 0, len(all))
	for _, m := range all {
		if m.Archived && !opts.IncludeArchived {
			continue
		}
		if !opts.After.IsZero() && !m.CreatedAt.After(opts.After) {
			continue
		}
		filtered = append(filtered, m)
	}
	return filtered, nil
}

// Get returns one message by id.
func (s *MessageService) Get(ctx context.Context, id uint64) (models.ChatMessage, error) {
	return s.store.Get(ctx, id)
}

func (s *MessageService) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

func validateInput(in SendInput) error {
	if in.Sender == "" {
		return models.NewError(models.CodeValidation, "sender is required")
	}
	if len(in.FileBytes) > 0 && in.FileRef != nil {
		return models.NewError(models.CodeValidation, "send either file bytes or a file reference, not both")
	}
	if (in.FileRef == nil) != (in.FileType == nil) {
		return models.NewError(models.CodeValidation, "fileRef and fileType must be set together")
	}
	if in.Text == "" && len(in.FileBytes) == 0 && in.FileRef == nil {
		return models.NewError(models.CodeValidation, "message needs text or a file")
	}
	return nil
}

func originLabel(origin string) string {
	if origin == "" {
		return "unknown"
	}
	return origin
}
