package transcoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"voiceover-mixer/internal/filtergraph"
	xlog "voiceover-mixer/internal/log"
	"voiceover-mixer/internal/metrics"
	"voiceover-mixer/internal/mixerr"
)

// Rung is one candidate graph in the fallback ladder. Build is called once per
// attempt and must return a new graph.
type Rung struct {
	Name string
	// Level identifies the rung in the full ladder when callers skip rungs.
	// Zero means the rung's 1-based position.
	Level int
	Build func() *filtergraph.Graph
}

func (r Rung) level(pos int) int {
	if r.Level > 0 {
		return r.Level
	}
	return pos
}

// Outcome reports how a ladder run ended. It is a success when Err is nil.
type Outcome struct {
	// Rung is the level of the last rung attempted.
	Rung     int
	RungName string
	// Attempts counts the rungs handed to the transcoder or rejected before it.
	Attempts        int
	ArtifactPath    string
	DurationSeconds float64
	Diagnostic      string
	Err             error
}

// Succeeded reports whether a rung produced the artifact.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Degraded reports whether the artifact came from a fallback rung.
func (o Outcome) Degraded() bool {
	return o.Succeeded() && o.Attempts > 1
}

// DurationProber measures the duration of a media file.
type DurationProber interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// Executor drives the fallback ladder against a Transcoder.
type Executor struct {
	transcoder Transcoder
	prober     DurationProber
}

// NewExecutor creates an executor. prober may be nil, in which case the
// artifact duration is reported as zero.
func NewExecutor(t Transcoder, prober DurationProber) *Executor {
	return &Executor{transcoder: t, prober: prober}
}

// Execute tries each rung in order and stops at the first that succeeds.
// Each rung overwrites output; a failed rung's partial file is discarded. When
// every rung fails, the outcome carries a transcode error with the last
// diagnostic. A cancelled ctx ends the ladder without trying further rungs.
func (x *Executor) Execute(ctx context.Context, rungs []Rung, inputs []string, output string) Outcome {
	logger := xlog.WithContext(ctx, xlog.WithComponent("executor"))

	if len(rungs) == 0 {
		return Outcome{Err: mixerr.New(mixerr.KindTranscode, "mix", "no graph variants to try")}
	}

	var (
		lastErr  error
		lastDiag string
	)
	for i, rung := range rungs {
		n := i + 1
		if err := ctx.Err(); err != nil {
			return x.failure(n-1, rungs, fmt.Errorf("mix aborted before rung %d: %w", n, err), lastDiag)
		}

		level := rung.level(n)
		rl := logger.With().Int(xlog.FieldRung, level).Str("rung_name", rung.Name).Logger()

		diag, err := x.attempt(ctx, level, rung, inputs, output, rl)
		if err == nil {
			outcome := Outcome{Rung: level, RungName: rung.Name, Attempts: n, ArtifactPath: output}
			outcome.DurationSeconds = x.measure(ctx, output, rl)
			if n > 1 {
				rl.Warn().Msg("mix completed on fallback rung")
			} else {
				rl.Info().Msg("mix completed")
			}
			return outcome
		}

		lastErr, lastDiag = err, diag
		if ctx.Err() != nil {
			rl.Warn().Err(err).Msg("mix aborted by caller")
			return x.failure(n, rungs, fmt.Errorf("rung %d aborted: %w", n, ctx.Err()), lastDiag)
		}
		if n < len(rungs) {
			rl.Warn().Err(err).Str("next_rung", rungs[i+1].Name).Msg("rung failed, falling back")
		} else {
			rl.Error().Err(err).Msg("final rung failed")
		}
	}

	return x.failure(len(rungs), rungs, fmt.Errorf("all %d rungs failed: %w", len(rungs), lastErr), lastDiag)
}

func (x *Executor) attempt(ctx context.Context, level int, rung Rung, inputs []string, output string, logger zerolog.Logger) (string, error) {
	graph := rung.Build()
	if graph == nil {
		return "", errors.New("rung produced no graph")
	}
	if err := graph.Validate(); err != nil {
		return "", fmt.Errorf("invalid graph: %w", err)
	}

	if err := os.Remove(output); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("clear output: %w", err)
	}

	logger.Debug().Str("filter_complex", graph.FilterComplex()).Strs("maps", graph.Maps).Msg("running rung")

	start := time.Now()
	diag, err := x.transcoder.Transcode(ctx, Invocation{Inputs: inputs, Graph: graph, Output: output})
	metrics.RecordRung(level, err == nil, time.Since(start))
	if err != nil {
		return diag, err
	}

	if info, statErr := os.Stat(output); statErr != nil || info.Size() == 0 {
		return diag, errors.New("transcoder reported success but produced no output")
	}
	return diag, nil
}

func (x *Executor) measure(ctx context.Context, output string, logger zerolog.Logger) float64 {
	if x.prober == nil {
		return 0
	}
	d, err := x.prober.ProbeDuration(ctx, output)
	if err != nil {
		logger.Warn().Err(err).Str(xlog.FieldPath, output).Msg("could not measure artifact duration")
		return 0
	}
	return d
}

func (x *Executor) failure(n int, rungs []Rung, err error, diag string) Outcome {
	o := Outcome{Attempts: n, Diagnostic: diag}
	if n >= 1 && n <= len(rungs) {
		o.Rung = rungs[n-1].level(n)
		o.RungName = rungs[n-1].Name
	}
	o.Err = mixerr.WithDetail(mixerr.KindTranscode, "mix", err, diag)
	return o
}
