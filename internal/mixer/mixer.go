// Package mixer runs one voice-over mix request end to end: it stages the
// inputs in a private workspace, times the captions, walks the fallback
// ladder and hands the artifact to the caller before cleaning up.
package mixer

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"voiceover-mixer/internal/captions"
	"voiceover-mixer/internal/config"
	"voiceover-mixer/internal/filtergraph"
	xlog "voiceover-mixer/internal/log"
	"voiceover-mixer/internal/metrics"
	"voiceover-mixer/internal/mixerr"
	"voiceover-mixer/internal/transcoder"
	"voiceover-mixer/internal/workspace"
	"voiceover-mixer/pkg/models"
)

// Rung names of the standard ladder.
const (
	RungFull       = "full"
	RungNoCaptions = "no-captions"
	RungVoiceOnly  = "voice-only"
)

const (
	subtitleFile = "captions.srt"
	outputFile   = "output.mp4"
)

// Uploader stores a finished artifact and returns its public URL.
type Uploader interface {
	PutFile(ctx context.Context, key, path, contentType string) (string, error)
}

// Result describes a finished mix. ArtifactPath is only valid until the
// deliver callback returns.
type Result struct {
	ArtifactPath    string
	URL             string
	DurationSeconds float64
	Rung            int
	RungName        string
	Degraded        bool
}

// Deps are the collaborators a Service drives.
type Deps struct {
	Workspaces *workspace.Manager
	Executor   *transcoder.Executor
	Prober     transcoder.DurationProber
	// Store is optional; without it the artifact is only handed to deliver.
	Store Uploader
	// VideoCodec is used when output.video_codec is not configured.
	VideoCodec string
}

// Service mixes requests according to a fixed configuration.
type Service struct {
	cfg    *config.Config
	deps   Deps
	logger zerolog.Logger
}

// New creates a Service.
func New(cfg *config.Config, deps Deps) *Service {
	return &Service{cfg: cfg, deps: deps, logger: xlog.WithComponent("mixer")}
}

// Mix runs req and calls deliver with the result while the workspace still
// exists. The workspace is removed before Mix returns, on every path.
func (s *Service) Mix(ctx context.Context, req models.MixRequest, deliver func(Result) error) (err error) {
	logger := xlog.WithContext(ctx, s.logger)
	defer func() { metrics.RecordRequest(outcomeLabel(err)) }()

	// 1. Validate before touching the filesystem.
	strategy, track, err := s.prepare(req)
	if err != nil {
		return err
	}

	// 2. Private workspace, released on every exit path.
	ws, err := s.deps.Workspaces.Acquire()
	if err != nil {
		return mixerr.Wrap(mixerr.KindInternal, "acquire workspace", err)
	}
	defer func() {
		if rerr := s.deps.Workspaces.Release(ws); rerr != nil {
			logger.Warn().Err(rerr).Str(xlog.FieldWorkspace, ws.Dir).Msg("workspace release failed")
		}
	}()
	logger = logger.With().Str(xlog.FieldWorkspace, ws.ID).Logger()

	// 3. Stage inputs.
	videoPath, err := s.deps.Workspaces.Stage(ctx, ws, "video"+extension(req.VideoURL), req.VideoURL)
	if err != nil {
		return err
	}
	voicePath, err := s.deps.Workspaces.Stage(ctx, ws, "voiceover"+extension(req.AudioURL), req.AudioURL)
	if err != nil {
		return err
	}

	// 4. Captions.
	if strategy != filtergraph.StrategyNone && track == nil && strings.TrimSpace(req.Script) != "" {
		track, err = s.segment(ctx, req.Script, voicePath, logger)
		if err != nil {
			return err
		}
	}
	capSpec, err := s.captionSpec(ws, strategy, track)
	if err != nil {
		return err
	}

	// 5. Walk the ladder.
	outcome := s.deps.Executor.Execute(ctx, s.ladder(capSpec), []string{videoPath, voicePath}, ws.Path(outputFile))
	if !outcome.Succeeded() {
		return outcome.Err
	}

	res := Result{
		ArtifactPath:    outcome.ArtifactPath,
		DurationSeconds: outcome.DurationSeconds,
		Rung:            outcome.Rung,
		RungName:        outcome.RungName,
		Degraded:        outcome.Degraded(),
	}

	// 6. Optional upload.
	if s.deps.Store != nil {
		key := path.Join(s.cfg.Store.KeyPrefix, ws.ID, outputFile)
		res.URL, err = s.deps.Store.PutFile(ctx, key, res.ArtifactPath, "video/mp4")
		if err != nil {
			return mixerr.Wrap(mixerr.KindStorage, "upload artifact", err)
		}
	}

	logger.Info().
		Int(xlog.FieldRung, res.Rung).
		Str("rung_name", res.RungName).
		Bool("degraded", res.Degraded).
		Float64("duration", res.DurationSeconds).
		Msg("mix finished")

	// 7. Hand over while the artifact still exists.
	return deliver(res)
}

// prepare validates req and parses any pre-timed subtitles. It returns the
// effective caption strategy and, for subtitles, the parsed track.
func (s *Service) prepare(req models.MixRequest) (filtergraph.Strategy, captions.Track, error) {
	if strings.TrimSpace(req.VideoURL) == "" {
		return "", nil, mixerr.New(mixerr.KindValidation, "validate", "videoUrl is required")
	}
	if strings.TrimSpace(req.AudioURL) == "" {
		return "", nil, mixerr.New(mixerr.KindValidation, "validate", "audioUrl is required")
	}
	if strings.TrimSpace(req.Script) != "" && strings.TrimSpace(req.Subtitles) != "" {
		return "", nil, mixerr.New(mixerr.KindValidation, "validate", "script and subtitles are mutually exclusive")
	}

	mode := s.cfg.Captions.Mode
	if req.CaptionMode != "" {
		mode = req.CaptionMode
	}
	strategy, err := filtergraph.ParseStrategy(mode)
	if err != nil {
		return "", nil, mixerr.Wrap(mixerr.KindValidation, "validate", err)
	}

	if strategy == filtergraph.StrategyNone || strings.TrimSpace(req.Subtitles) == "" {
		return strategy, nil, nil
	}
	track, err := captions.ParseSRT(req.Subtitles)
	if err != nil {
		return "", nil, err
	}
	return strategy, track, nil
}

// segment times script over the voice-over. The proportional policy needs the
// measured duration; when probing fails the segmenter falls back to fixed slots.
func (s *Service) segment(ctx context.Context, script, voicePath string, logger zerolog.Logger) (captions.Track, error) {
	opts := s.cfg.CaptionOptions()

	var total float64
	if opts.Policy == captions.PolicyProportional && s.deps.Prober != nil {
		d, err := s.deps.Prober.ProbeDuration(ctx, voicePath)
		if err != nil {
			logger.Warn().Err(err).Msg("voice-over duration unknown, using fixed caption slots")
		} else {
			total = d
		}
	}

	track := captions.Segment(script, total, opts)
	if err := track.Validate(); err != nil {
		return nil, mixerr.Wrap(mixerr.KindTiming, "segment captions", err)
	}
	return track, nil
}

// captionSpec renders the track for the chosen strategy. An empty track means
// no captions.
func (s *Service) captionSpec(ws *workspace.Workspace, strategy filtergraph.Strategy, track captions.Track) (filtergraph.Captions, error) {
	spec := filtergraph.Captions{Strategy: filtergraph.StrategyNone, Style: s.cfg.Style()}
	if len(track) == 0 {
		return spec, nil
	}

	switch strategy {
	case filtergraph.StrategyText:
		spec.Strategy = strategy
		spec.Cues = captions.SanitizeTrack(track)
	case filtergraph.StrategySubtitles:
		p, err := ws.WriteFile(subtitleFile, captions.RenderSRT(track))
		if err != nil {
			return spec, mixerr.Wrap(mixerr.KindInternal, "write subtitles", err)
		}
		spec.Strategy = strategy
		spec.SubtitlePath = p
	}
	return spec, nil
}

// ladder returns the standard rungs. The full rung is skipped when there are
// no captions, since it would be identical to the no-captions rung.
func (s *Service) ladder(caps filtergraph.Captions) []transcoder.Rung {
	duration, err := filtergraph.ParseDurationPolicy(s.cfg.Mix.Duration)
	if err != nil {
		duration = filtergraph.DurationFirst
	}
	audio := filtergraph.Audio{
		Mode:             filtergraph.AudioMix,
		BackgroundVolume: s.cfg.Mix.BackgroundVolume,
		VoiceVolume:      s.cfg.Mix.VoiceVolume,
		Duration:         duration,
	}
	out := s.output()

	var rungs []transcoder.Rung
	if caps.Strategy != filtergraph.StrategyNone {
		rungs = append(rungs, transcoder.Rung{Name: RungFull, Level: 1, Build: func() *filtergraph.Graph {
			return filtergraph.Build(filtergraph.Spec{Audio: audio, Captions: caps, Output: out})
		}})
	}
	rungs = append(rungs,
		transcoder.Rung{Name: RungNoCaptions, Level: 2, Build: func() *filtergraph.Graph {
			return filtergraph.Build(filtergraph.Spec{Audio: audio, Output: out})
		}},
		transcoder.Rung{Name: RungVoiceOnly, Level: 3, Build: func() *filtergraph.Graph {
			copyOut := out
			copyOut.CopyVideo = true
			copyOut.Width, copyOut.Height = 0, 0
			return filtergraph.Build(filtergraph.Spec{
				Audio:  filtergraph.Audio{Mode: filtergraph.AudioVoiceOnly, Duration: duration},
				Output: copyOut,
			})
		}},
	)
	return rungs
}

func (s *Service) output() filtergraph.Output {
	o := s.cfg.Output
	codec := o.VideoCodec
	if codec == "" {
		codec = s.deps.VideoCodec
	}
	return filtergraph.Output{
		Width:        o.Width,
		Height:       o.Height,
		VideoCodec:   codec,
		VideoBitrate: o.VideoBitrate,
		Preset:       o.Preset,
		AudioCodec:   o.AudioCodec,
		AudioBitrate: o.AudioBitrate,
		MaxDuration:  o.MaxDurationSeconds,
	}
}

// extension keeps a short, plain file extension from uri so ffmpeg can use it
// as a format hint.
func extension(uri string) string {
	p := uri
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return string(mixerr.KindOf(err))
}
