// Package storage uploads mixed artifacts to an HTTP object store.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	xlog "voiceover-mixer/internal/log"
)

// Config describes the object store endpoint.
type Config struct {
	Endpoint      string
	PublicBaseURL string
	Token         string
	RetryMax      int
	RetryWaitMin  time.Duration
	RetryWaitMax  time.Duration
}

// Client PUTs objects to <Endpoint>/<key> and reports where they can be read.
type Client struct {
	endpoint   string
	publicBase string
	token      string
	httpClient *retryablehttp.Client
	logger     zerolog.Logger
}

// NewClient creates a robust HTTP client with retries
func NewClient(cfg Config) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.Logger = nil // Silence default debug logger
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	public := cfg.PublicBaseURL
	if public == "" {
		public = cfg.Endpoint
	}
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		publicBase: strings.TrimRight(public, "/"),
		token:      cfg.Token,
		httpClient: retryClient,
		logger:     xlog.WithComponent("storage"),
	}
}

// StatusError indicates the store rejected the upload.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("store returned error status: %d", e.StatusCode)
	}
	return fmt.Sprintf("store returned error status: %d: %s", e.StatusCode, e.Body)
}

// Put uploads size bytes from body under key and returns the public URL.
// body must be seekable for retries to replay it.
func (c *Client) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) (string, error) {
	key = strings.TrimLeft(key, "/")
	url := fmt.Sprintf("%s/%s", c.endpoint, key)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", contentType)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	public := fmt.Sprintf("%s/%s", c.publicBase, key)
	logger := xlog.WithContext(ctx, c.logger)
	logger.Info().Str("key", key).Int64("bytes", size).Str(xlog.FieldURL, public).Msg("artifact uploaded")
	return public, nil
}

// PutFile uploads the file at path under key.
func (c *Client) PutFile(ctx context.Context, key, path, contentType string) (string, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat artifact: %w", err)
	}
	return c.Put(ctx, key, f, info.Size(), contentType)
}
