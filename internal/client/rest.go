// Package client is a small HTTP client for the chat REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kiprono234/chat-verse/internal/models"
)

// APIError is a non-2xx response decoded from the server's error payload.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error (status %d): %s: %s", e.Status, e.Code, e.Message)
}

// Client talks to a chat server over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.token = token
}

// ListOptions filters ListMessages.
type ListOptions struct {
	IncludeArchived bool
	After           time.Time
}

// ListMessages returns history oldest first.
func (c *Client) ListMessages(ctx context.Context, opts ListOptions) ([]models.ChatMessage, error) {
	q := url.Values{}
	if opts.IncludeArchived {
		q.Set("includeArchived", "true")
	}
	if !opts.After.IsZero() {
		q.Set("after", opts.After.UTC().Format(time.RFC3339Nano))
	}
	path := "/api/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var msgs []models.ChatMessage
	if err := c.get(ctx, path, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// GetMessage fetches one message by id.
func (c *Client) GetMessage(ctx context.Context, id uint64) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	if err := c.get(ctx, "/api/messages/"+strconv.FormatUint(id, 10), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendMessage posts a message.
func (c *Client) SendMessage(ctx context.Context, req models.SendMessageRequest) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	if err := c.post(ctx, "/api/messages", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Archive hides a message from default history.
func (c *Client) Archive(ctx context.Context, id uint64) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	path := "/api/messages/" + strconv.FormatUint(id, 10) + "/archive"
	if err := c.post(ctx, path, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Upload stores an attachment and returns its reference.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (*models.UploadResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp models.UploadResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Presence returns the current online list in join order.
func (c *Client) Presence(ctx context.Context) ([]models.PresenceEntry, error) {
	var entries []models.PresenceEntry
	if err := c.get(ctx, "/api/presence", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, dest)
}

func (c *Client) post(ctx context.Context, path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, dest)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, dest any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var payload models.ErrorPayload
		if err := json.Unmarshal(body, &payload); err == nil && payload.Code != "" {
			return &APIError{Status: resp.StatusCode, Code: payload.Code, Message: payload.Message}
		}
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	if dest != nil {
		if err := json.Unmarshal(body, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
