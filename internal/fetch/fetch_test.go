package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(opts Options) *Client {
	opts.RetryWaitMin = time.Millisecond
	opts.RetryWaitMax = 5 * time.Millisecond
	return NewClient(opts)
}

func TestFetchFollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("payload"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "input.mp4")
	n, err := testClient(Options{RetryMax: 1}).Fetch(context.Background(), srv.URL+"/start", dst)
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "voiceover.mp3")
	_, err := testClient(Options{RetryMax: 3}).Fetch(context.Background(), srv.URL, dst)
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestFetchNotFoundIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "input.mp4")
	_, err := testClient(Options{RetryMax: 2}).Fetch(context.Background(), srv.URL+"/missing?sig=secret", dst)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.NotContains(t, statusErr.Error(), "secret")
	assert.NoFileExists(t, dst)
}

func TestFetchServerErrorAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(Options{RetryMax: 1}).Fetch(context.Background(), srv.URL, filepath.Join(t.TempDir(), "x"))
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

func TestFetchRejectsSchemes(t *testing.T) {
	c := testClient(Options{})
	for _, uri := range []string{"ftp://host/file", "/etc/passwd", "file:///etc/passwd", "gopher://x"} {
		_, err := c.Fetch(context.Background(), uri, filepath.Join(t.TempDir(), "x"))
		assert.Error(t, err, uri)
	}
}

func TestFetchLocalWhenAllowed(t *testing.T) {
	src := filepath.Join(t.TempDir(), "local.mp4")
	require.NoError(t, os.WriteFile(src, []byte("local"), 0o600))
	dst := filepath.Join(t.TempDir(), "input.mp4")

	n, err := testClient(Options{AllowLocal: true}).Fetch(context.Background(), src, dst)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	_, err = testClient(Options{AllowLocal: true}).Fetch(context.Background(), "file://"+src, dst)
	require.NoError(t, err)
}

func TestFetchSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "input.mp4")
	_, err := testClient(Options{MaxBytes: 4}).Fetch(context.Background(), srv.URL, dst)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.NoFileExists(t, dst)
}

func TestFetchEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := testClient(Options{}).Fetch(context.Background(), srv.URL, filepath.Join(t.TempDir(), "x"))
	assert.Error(t, err)
}
