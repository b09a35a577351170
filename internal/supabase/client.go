package supabase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiprono234/chat-verse/internal/blob"
	"github.com/kiprono234/chat-verse/internal/models"
	"go.uber.org/zap"
)

// Client is a wrapper around the Supabase Storage REST API.
// It uses the service role key for backend operations with elevated privileges.
// Client implements blob.Store.
type Client struct {
	baseURL    string
	apiKey     string
	bucket     string
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient creates a new Supabase storage client writing into bucket.
// The bucket must be public for the returned references to be fetchable.
func NewClient(baseURL, apiKey, bucket string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		bucket:  bucket,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
}

// doRequest executes an HTTP request against the Supabase API.
// It automatically adds authentication headers and handles the response.
func (c *Client) doRequest(ctx context.Context, method, endpoint, contentType string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Add Supabase authentication headers
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "false")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("supabase error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// Put uploads data as a new object in the bucket and returns its public URL.
func (c *Client) Put(ctx context.Context, name string, data []byte) (blob.Object, error) {
	objName := blob.ObjectName(name)
	contentType := blob.DetectContentType(name, data)

	endpoint := fmt.Sprintf("/storage/v1/object/%s/%s", url.PathEscape(c.bucket), url.PathEscape(objName))
	if _, err := c.doRequest(ctx, http.MethodPost, endpoint, contentType, data); err != nil {
		c.log.Warn("supabase_upload_failed", zap.String("object", objName), zap.Error(err))
		return blob.Object{}, models.WrapError(models.CodeAttachment, "attachment upload failed", err)
	}

	c.log.Debug("supabase_uploaded", zap.String("object", objName), zap.Int("size", len(data)))
	return blob.Object{
		Ref:         c.PublicURL(objName),
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

// PublicURL returns the public download URL for an object in the bucket.
func (c *Client) PublicURL(objName string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, url.PathEscape(c.bucket), url.PathEscape(objName))
}
