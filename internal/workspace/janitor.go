package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	xlog "voiceover-mixer/internal/log"
	"voiceover-mixer/internal/metrics"
)

// SweepResult lists what one sweep removed and what it failed to remove.
type SweepResult struct {
	Removed []string
	Errors  []SweepError
}

// SweepError pairs a directory with the reason it could not be removed.
type SweepError struct {
	Path string
	Err  error
}

// Janitor periodically removes workspaces left behind by a crashed process.
type Janitor struct {
	root     string
	maxAge   time.Duration
	interval time.Duration
	logger   zerolog.Logger
}

// NewJanitor creates a janitor for the manager's root.
func NewJanitor(m *Manager, maxAge, interval time.Duration) *Janitor {
	return &Janitor{
		root:     m.Root(),
		maxAge:   maxAge,
		interval: interval,
		logger:   xlog.WithComponent("janitor"),
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	j.logger.Info().Str("root", j.root).Dur("max_age", j.maxAge).Dur("interval", j.interval).Msg("janitor started")

	j.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info().Msg("stopping janitor")
			return nil
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep removes mix-* directories older than maxAge whose lock is free.
// Locked directories belong to a live request and are skipped.
func (j *Janitor) Sweep(ctx context.Context) SweepResult {
	var result SweepResult

	entries, err := os.ReadDir(j.root)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, SweepError{Path: j.root, Err: err})
		}
		return result
	}

	cutoff := time.Now().Add(-j.maxAge)
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), dirPrefix) {
			continue
		}
		dir := filepath.Join(j.root, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, SweepError{Path: dir, Err: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		lock := flock.New(filepath.Join(dir, lockName))
		ok, err := lock.TryLock()
		if err != nil {
			result.Errors = append(result.Errors, SweepError{Path: dir, Err: err})
			continue
		}
		if !ok {
			continue
		}

		err = os.RemoveAll(dir)
		_ = lock.Unlock()
		metrics.RecordSweep(err == nil)
		if err != nil {
			result.Errors = append(result.Errors, SweepError{Path: dir, Err: err})
			j.logger.Warn().Err(err).Str(xlog.FieldWorkspace, dir).Msg("failed to remove stale workspace")
			continue
		}
		result.Removed = append(result.Removed, dir)
		j.logger.Info().Str(xlog.FieldWorkspace, dir).Dur("age", time.Since(info.ModTime())).Msg("removed stale workspace")
	}
	return result
}
