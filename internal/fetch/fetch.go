// Package fetch downloads mix inputs over HTTP(S).
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	xlog "voiceover-mixer/internal/log"
)

// Options tunes the download client.
type Options struct {
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// Timeout bounds a single download including retries. Zero means no bound
	// beyond the caller's context.
	Timeout time.Duration
	// MaxBytes rejects bodies larger than this. Zero means unlimited.
	MaxBytes int64
	// AllowLocal lets bare paths and file:// URIs be copied from disk. The
	// HTTP service never sets it.
	AllowLocal bool
}

// DefaultOptions mirrors the retry settings used for every outbound client.
func DefaultOptions() Options {
	return Options{
		RetryMax:     3,
		RetryWaitMin: 1 * time.Second,
		RetryWaitMax: 5 * time.Second,
		Timeout:      5 * time.Minute,
	}
}

// Client is a retrying downloader. Redirects are followed.
type Client struct {
	httpClient *http.Client
	opts       Options
	logger     zerolog.Logger
}

// NewClient creates a downloader.
func NewClient(opts Options) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = opts.RetryWaitMax
	retryClient.Logger = nil // Silence default debug logger
	// Hand the final response back so non-2xx can be reported with its status.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		httpClient: retryClient.StandardClient(),
		opts:       opts,
		logger:     xlog.WithComponent("fetch"),
	}
}

// StatusError reports a non-2xx response from the origin.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download %s: unexpected status %d", e.URL, e.StatusCode)
}

// ErrTooLarge is returned when a body exceeds Options.MaxBytes.
var ErrTooLarge = errors.New("download exceeds size limit")

// Fetch downloads uri into dst and returns the number of bytes written.
// dst is removed again when the download fails.
func (c *Client) Fetch(ctx context.Context, uri, dst string) (int64, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return 0, fmt.Errorf("parse url: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
	case "", "file":
		if !c.opts.AllowLocal {
			return 0, fmt.Errorf("unsupported url scheme %q", u.Scheme)
		}
		src := uri
		if u.Scheme == "file" {
			src = u.Path
		}
		return c.copyLocal(src, dst)
	default:
		return 0, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &StatusError{URL: redact(u), StatusCode: resp.StatusCode}
	}

	n, err := c.writeFile(dst, resp.Body)
	if err != nil {
		return 0, err
	}
	logger := xlog.WithContext(ctx, c.logger)
	logger.Debug().
		Str(xlog.FieldURL, redact(u)).
		Int64("bytes", n).
		Msg("download complete")
	return n, nil
}

func (c *Client) copyLocal(src, dst string) (int64, error) {
	f, err := os.Open(src) // #nosec G304 -- local inputs are opt-in
	if err != nil {
		return 0, fmt.Errorf("open local input: %w", err)
	}
	defer f.Close()
	return c.writeFile(dst, f)
}

func (c *Client) writeFile(dst string, r io.Reader) (int64, error) {
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dst, err)
	}

	src := r
	if c.opts.MaxBytes > 0 {
		src = io.LimitReader(r, c.opts.MaxBytes+1)
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && c.opts.MaxBytes > 0 && n > c.opts.MaxBytes {
		err = ErrTooLarge
	}
	if err == nil && n == 0 {
		err = errors.New("empty body")
	}
	if err != nil {
		_ = os.Remove(dst)
		return 0, fmt.Errorf("write %s: %w", dst, err)
	}
	return n, nil
}

// redact drops credentials and query strings, which often carry signed tokens.
func redact(u *url.URL) string {
	c := *u
	c.User = nil
	c.RawQuery = ""
	c.Fragment = ""
	return c.String()
}
