package models

import "time"

// ChatMessage is the durable unit of conversation.
// Records are created by the message store and only ever mutated by archive.
type ChatMessage struct {
	// ID is the sequence id assigned by the store, strictly increasing
	ID uint64 `json:"id"`

	// Sender is the display identity of the author
	Sender string `json:"sender"`

	// SenderID is the stable identity key of the author, empty for anonymous HTTP posts
	SenderID string `json:"senderId,omitempty"`

	// AvatarRef is an opaque reference to the sender's avatar image
	AvatarRef string `json:"avatarRef"`

	// Text is the UTF-8 body, may be empty only if FileRef is set
	Text string `json:"text"`

	// FileRef points at an uploaded attachment
	FileRef *string `json:"fileRef"`

	// FileType is the MIME type of the attachment, set iff FileRef is set
	FileType *string `json:"fileType"`

	// CreatedAt is assigned by the store when the message is accepted
	CreatedAt time.Time `json:"createdAt"`

	// Archived hides the message from default views without deleting it
	Archived bool `json:"archived"`
}

// HasFile reports whether the message carries an attachment.
func (m *ChatMessage) HasFile() bool {
	return m.FileRef != nil && *m.FileRef != ""
}

// Validate checks the creation invariant every persisted message must hold.
func (m *ChatMessage) Validate() error {
	if m.Sender == "" {
		return NewError(CodeValidation, "sender is required")
	}
	if (m.FileRef == nil) != (m.FileType == nil) {
		return NewError(CodeValidation, "fileRef and fileType must be set together")
	}
	if m.Text == "" && !m.HasFile() {
		return NewError(CodeValidation, "message needs text or a file")
	}
	return nil
}

// SendMessageRequest is the request body for POST /api/messages
type SendMessageRequest struct {
	Text      string  `json:"text"`
	FileRef   *string `json:"fileRef,omitempty"`
	FileType  *string `json:"fileType,omitempty"`
	Sender    string  `json:"sender,omitempty"`
	AvatarRef string  `json:"avatarRef,omitempty"`
}

// UploadResponse is returned by POST /api/upload
type UploadResponse struct {
	FileRef  string `json:"fileRef"`
	FileType string `json:"fileType"`
	Size     int64  `json:"size"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
