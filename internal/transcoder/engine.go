package transcoder

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	xlog "voiceover-mixer/internal/log"
)

// Supported encoders. probe.go picks one of these from ffmpeg's encoder list.
const (
	CodecNVENC        = "h264_nvenc"
	CodecQSV          = "h264_qsv"
	CodecVAAPI        = "h264_vaapi"
	CodecVideoToolbox = "h264_videotoolbox"
	CodecSoftware     = "libx264"
)

const defaultTimeout = 10 * time.Minute

// EngineConfig configures NewEngine.
type EngineConfig struct {
	FFmpegPath  string
	FFprobePath string
	AllowHW     bool
	Timeout     time.Duration
}

// Engine wraps the local ffmpeg/ffprobe binaries and the encoder they can use.
type Engine struct {
	FFmpegPath  string
	FFprobePath string
	HasHWAccel  bool
	bestCodec   string
	timeout     time.Duration
	logger      zerolog.Logger
}

// NewEngine locates the binaries and, when allowed, probes for a hardware encoder.
func NewEngine(ctx context.Context, cfg EngineConfig) (*Engine, error) {
	// 1. Locate the binaries on the system PATH (or as configured).
	ffmpeg, err := lookPath(cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}
	ffprobe, err := lookPath(cfg.FFprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	engine := &Engine{
		FFmpegPath:  ffmpeg,
		FFprobePath: ffprobe,
		bestCodec:   CodecSoftware,
		timeout:     timeout,
		logger:      xlog.WithComponent("transcoder"),
	}

	// 2. Hardware discovery.
	if cfg.AllowHW {
		engine.ProbeCapabilities(ctx)
	}

	engine.logger.Info().
		Str("ffmpeg", engine.FFmpegPath).
		Str("codec", engine.Codec()).
		Bool("hw_accel", engine.HasHWAccel).
		Dur("timeout", engine.timeout).
		Msg("transcoder engine ready")

	return engine, nil
}

func lookPath(configured, fallback string) (string, error) {
	name := configured
	if name == "" {
		name = fallback
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s binary not found: %w", fallback, err)
	}
	return path, nil
}

// Codec returns the video encoder used when a graph has to re-encode.
func (e *Engine) Codec() string {
	if e.bestCodec == "" {
		return CodecSoftware
	}
	return e.bestCodec
}

// Timeout returns the per-invocation execution bound.
func (e *Engine) Timeout() time.Duration {
	return e.timeout
}
