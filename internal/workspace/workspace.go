// Package workspace manages the per-request scratch directories that hold
// downloaded inputs, generated subtitle files and the mixed artifact.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	xlog "voiceover-mixer/internal/log"
	"voiceover-mixer/internal/metrics"
	"voiceover-mixer/internal/mixerr"
)

const (
	// dirPrefix marks directories owned by a Manager; the janitor only touches these.
	dirPrefix = "mix-"
	lockName  = ".lock"
)

// Fetcher downloads uri into the file at dst.
type Fetcher interface {
	Fetch(ctx context.Context, uri, dst string) (int64, error)
}

// Workspace is one request's private directory. It is held locked until
// released, which keeps the janitor away from it.
type Workspace struct {
	ID  string
	Dir string

	lock    *flock.Flock
	once    sync.Once
	release error
}

// Path returns the location of name inside the workspace. Only the base name
// of name is used, so callers cannot escape the directory.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, filepath.Base(filepath.Clean("/"+name)))
}

// WriteFile atomically writes data to name inside the workspace.
func (w *Workspace) WriteFile(name string, data []byte) (string, error) {
	path := w.Path(name)

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o600))
	if err != nil {
		return "", fmt.Errorf("create pending %s: %w", name, err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(data); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("replace %s: %w", name, err)
	}
	return path, nil
}

// Manager creates and removes workspaces under a root directory.
type Manager struct {
	root    string
	fetcher Fetcher
	logger  zerolog.Logger
}

// NewManager creates the root directory if needed.
func NewManager(root string, fetcher Fetcher) (*Manager, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = filepath.Join(os.TempDir(), "voiceover-mixer")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: root, fetcher: fetcher, logger: xlog.WithComponent("workspace")}, nil
}

// Root returns the directory workspaces are created in.
func (m *Manager) Root() string {
	return m.root
}

// Acquire creates a new uniquely named workspace and locks it.
func (m *Manager) Acquire() (*Workspace, error) {
	// 1. Create the directory.
	id := uuid.New().String()
	dir := filepath.Join(m.root, dirPrefix+id)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	// 2. Take the in-use lock.
	lock := flock.New(filepath.Join(dir, lockName))
	ok, err := lock.TryLock()
	if err != nil || !ok {
		_ = os.RemoveAll(dir)
		if err == nil {
			err = errors.New("lock already held")
		}
		return nil, fmt.Errorf("lock workspace: %w", err)
	}

	metrics.WorkspaceAcquired()
	m.logger.Debug().Str(xlog.FieldWorkspace, dir).Msg("workspace acquired")
	return &Workspace{ID: id, Dir: dir, lock: lock}, nil
}

// Stage downloads uri into the workspace under name and returns its path.
// Failures are fetch errors.
func (m *Manager) Stage(ctx context.Context, ws *Workspace, name, uri string) (string, error) {
	if m.fetcher == nil {
		return "", mixerr.New(mixerr.KindInternal, "stage "+name, "no fetcher configured")
	}
	dst := ws.Path(name)
	n, err := m.fetcher.Fetch(ctx, uri, dst)
	if err != nil {
		return "", mixerr.Wrap(mixerr.KindFetch, "stage "+name, err)
	}
	logger := xlog.WithContext(ctx, m.logger)
	logger.Debug().
		Str(xlog.FieldWorkspace, ws.Dir).
		Str(xlog.FieldPath, dst).
		Int64("bytes", n).
		Msg("input staged")
	return dst, nil
}

// Release unlocks and deletes the workspace. Only the first call does any
// work; later calls return the first call's error.
func (m *Manager) Release(ws *Workspace) error {
	if ws == nil {
		return nil
	}
	ws.once.Do(func() {
		if ws.lock != nil {
			if err := ws.lock.Unlock(); err != nil {
				m.logger.Warn().Err(err).Str(xlog.FieldWorkspace, ws.Dir).Msg("failed to unlock workspace")
			}
		}
		if err := os.RemoveAll(ws.Dir); err != nil {
			ws.release = fmt.Errorf("remove workspace: %w", err)
			m.logger.Warn().Err(err).Str(xlog.FieldWorkspace, ws.Dir).Msg("failed to remove workspace")
		} else {
			m.logger.Debug().Str(xlog.FieldWorkspace, ws.Dir).Msg("workspace released")
		}
		metrics.WorkspaceReleased()
	})
	return ws.release
}
