package transcoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"time"

	"voiceover-mixer/internal/filtergraph"
	"voiceover-mixer/internal/procgroup"
)

// diagnosticLimit bounds how much ffmpeg stderr is kept for error reports.
const diagnosticLimit = 64 << 10

// waitDelay bounds how long Wait blocks on stderr after ffmpeg is killed.
const waitDelay = 5 * time.Second

// Invocation is one transcoder run: the inputs in order (video first, then
// voice-over), the graph to apply, and where to write the result.
type Invocation struct {
	Inputs []string
	Graph  *filtergraph.Graph
	Output string
}

// Args builds the full ffmpeg argument list.
func (inv Invocation) Args() []string {
	args := []string{"-hide_banner", "-nostdin", "-y"}
	for _, in := range inv.Inputs {
		args = append(args, "-i", in)
	}
	if inv.Graph != nil {
		args = append(args, inv.Graph.Args()...)
	}
	return append(args, inv.Output)
}

// Transcoder runs an Invocation to completion. The returned diagnostic is the
// tail of the engine's log output and is populated on failure.
type Transcoder interface {
	Transcode(ctx context.Context, inv Invocation) (diagnostic string, err error)
}

// Transcode runs ffmpeg for inv, bounded by the engine timeout. Cancelling ctx
// kills ffmpeg and anything it spawned.
func (e *Engine) Transcode(ctx context.Context, inv Invocation) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	// 1. Build and configure the command.
	cmd := exec.CommandContext(ctx, e.FFmpegPath, inv.Args()...) // #nosec G204
	procgroup.Set(cmd)
	cmd.WaitDelay = waitDelay

	// 2. Keep the stderr tail for diagnostics and watch it for progress.
	tail := newTailBuffer(diagnosticLimit)
	progress := &progressWriter{onTime: func(sec float64) {
		e.logger.Debug().Float64("time", sec).Str("output", inv.Output).Msg("ffmpeg progress")
	}}
	cmd.Stderr = io.MultiWriter(tail, progress)

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	e.logger.Debug().Int("pid", cmd.Process.Pid).Str("output", inv.Output).Msg("ffmpeg started")

	// 3. Wait for it to finish.
	err := cmd.Wait()
	diag := tail.String()
	switch {
	case err == nil:
		return diag, nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return diag, fmt.Errorf("ffmpeg timed out after %s: %w", e.timeout, context.DeadlineExceeded)
	case ctx.Err() != nil:
		return diag, fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
	default:
		return diag, fmt.Errorf("ffmpeg process failed: %w", err)
	}
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// Regex to catch "time=00:00:15.45"
var reTime = regexp.MustCompile(`time=(\d{2}):(\d{2}):(\d{2}(?:\.\d+)?)`)

// progressWriter scans ffmpeg's stderr for encoder position reports. ffmpeg
// terminates progress lines with carriage returns, so both \r and \n split.
type progressWriter struct {
	pending []byte
	onTime  func(seconds float64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.pending = append(p.pending, b...)
	for {
		i := bytes.IndexAny(p.pending, "\r\n")
		if i < 0 {
			break
		}
		p.line(p.pending[:i])
		p.pending = p.pending[i+1:]
	}
	// A runaway line without terminators is not progress output.
	if len(p.pending) > 4096 {
		p.pending = p.pending[:0]
	}
	return len(b), nil
}

func (p *progressWriter) line(line []byte) {
	m := reTime.FindSubmatch(line)
	if len(m) != 4 || p.onTime == nil {
		return
	}
	h, _ := strconv.Atoi(string(m[1]))
	mi, _ := strconv.Atoi(string(m[2]))
	s, _ := strconv.ParseFloat(string(m[3]), 64)
	p.onTime(float64(h*3600+mi*60) + s)
}
