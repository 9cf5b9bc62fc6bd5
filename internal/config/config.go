package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"voiceover-mixer/internal/captions"
	"voiceover-mixer/internal/filtergraph"
)

// Config holds all the settings for the mixer.
type Config struct {
	ListenAddr    string `mapstructure:"listen_addr"`
	LogLevel      string `mapstructure:"log_level"`
	EnableHWAccel bool   `mapstructure:"enable_hw_accel"`
	FFmpegPath    string `mapstructure:"ffmpeg_path"`
	FFprobePath   string `mapstructure:"ffprobe_path"`

	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Transcode TranscodeConfig `mapstructure:"transcode"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Captions  CaptionsConfig  `mapstructure:"captions"`
	Overlay   OverlayConfig   `mapstructure:"overlay"`
	Mix       MixConfig       `mapstructure:"mix"`
	Output    OutputConfig    `mapstructure:"output"`
	Store     StoreConfig     `mapstructure:"store"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
}

// WorkspaceConfig controls per-request scratch directories.
type WorkspaceConfig struct {
	Root          string        `mapstructure:"root"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type TranscodeConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type FetchConfig struct {
	RetryMax     int           `mapstructure:"retry_max"`
	RetryWaitMin time.Duration `mapstructure:"retry_wait_min"`
	RetryWaitMax time.Duration `mapstructure:"retry_wait_max"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBytes     int64         `mapstructure:"max_bytes"`
}

// CaptionsConfig controls how scripts become timed cues.
type CaptionsConfig struct {
	// Mode is the render strategy: none, text or subtitles.
	Mode                    string  `mapstructure:"mode"`
	Policy                  string  `mapstructure:"policy"`
	Unit                    string  `mapstructure:"unit"`
	SegmentCount            int     `mapstructure:"segment_count"`
	FallbackDurationSeconds float64 `mapstructure:"fallback_duration_seconds"`
	LineMaxChars            int     `mapstructure:"line_max_chars"`
}

// OverlayConfig is the caption styling shared by both render strategies.
type OverlayConfig struct {
	FontFace      string `mapstructure:"font_face"`
	FontFile      string `mapstructure:"font_file"`
	FontSize      int    `mapstructure:"font_size"`
	PrimaryColour string `mapstructure:"primary_colour"`
	OutlineColour string `mapstructure:"outline_colour"`
	BorderStyle   int    `mapstructure:"border_style"`
	Outline       int    `mapstructure:"outline"`
	Shadow        int    `mapstructure:"shadow"`
	MarginV       int    `mapstructure:"margin_v"`
}

// MixConfig holds the audio levels and the amix duration policy.
type MixConfig struct {
	BackgroundVolume float64 `mapstructure:"background_volume"`
	VoiceVolume      float64 `mapstructure:"voice_volume"`
	Duration         string  `mapstructure:"duration"`
}

type OutputConfig struct {
	Width              int     `mapstructure:"width"`
	Height             int     `mapstructure:"height"`
	VideoCodec         string  `mapstructure:"video_codec"`
	VideoBitrate       string  `mapstructure:"video_bitrate"`
	Preset             string  `mapstructure:"preset"`
	AudioCodec         string  `mapstructure:"audio_codec"`
	AudioBitrate       string  `mapstructure:"audio_bitrate"`
	MaxDurationSeconds float64 `mapstructure:"max_duration_seconds"`
}

// StoreConfig enables uploading artifacts instead of streaming them back.
// An empty Endpoint disables the store.
type StoreConfig struct {
	Endpoint      string `mapstructure:"endpoint"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	Token         string `mapstructure:"token"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type MonitorConfig struct {
	CPUBusyPercent float64       `mapstructure:"cpu_busy_percent"`
	RAMBusyPercent float64       `mapstructure:"ram_busy_percent"`
	SampleMaxAge   time.Duration `mapstructure:"sample_max_age"`
	Admission      bool          `mapstructure:"admission"`
}

// LoadConfig initializes Viper and merges all config sources.
// path may be empty, in which case only defaults and env vars apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// 1. Set Defaults
	setDefaults(v)

	// 2. Read from File
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			// It's okay if the config file is missing; we might use Env vars.
			if !errors.Is(err, os.ErrNotExist) {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					return nil, fmt.Errorf("read config %s: %w", path, err)
				}
			}
		}
	}

	// 3. Environment overrides, e.g. MIXER_CAPTIONS_SEGMENT_COUNT=8
	v.SetEnvPrefix("MIXER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("enable_hw_accel", false)
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("ffprobe_path", "ffprobe")

	v.SetDefault("workspace.root", filepath.Join(os.TempDir(), "voiceover-mixer"))
	v.SetDefault("workspace.max_age", 2*time.Hour)
	v.SetDefault("workspace.sweep_interval", 10*time.Minute)

	v.SetDefault("transcode.timeout", 10*time.Minute)

	v.SetDefault("fetch.retry_max", 3)
	v.SetDefault("fetch.retry_wait_min", 1*time.Second)
	v.SetDefault("fetch.retry_wait_max", 5*time.Second)
	v.SetDefault("fetch.timeout", 5*time.Minute)
	v.SetDefault("fetch.max_bytes", int64(2<<30))

	v.SetDefault("captions.mode", string(filtergraph.StrategySubtitles))
	v.SetDefault("captions.policy", string(captions.PolicyFixed))
	v.SetDefault("captions.unit", string(captions.UnitWords))
	v.SetDefault("captions.segment_count", captions.DefaultSegmentCount)
	v.SetDefault("captions.fallback_duration_seconds", captions.DefaultFallbackDuration)
	v.SetDefault("captions.line_max_chars", captions.DefaultLineMaxChars)

	v.SetDefault("overlay.font_face", "")
	v.SetDefault("overlay.font_file", "")
	v.SetDefault("overlay.font_size", 24)
	v.SetDefault("overlay.primary_colour", "&HFFFFFF")
	v.SetDefault("overlay.outline_colour", "&H000000")
	v.SetDefault("overlay.border_style", 3)
	v.SetDefault("overlay.outline", 2)
	v.SetDefault("overlay.shadow", 1)
	v.SetDefault("overlay.margin_v", 50)

	v.SetDefault("mix.background_volume", 0.15)
	v.SetDefault("mix.voice_volume", 1.0)
	v.SetDefault("mix.duration", string(filtergraph.DurationFirst))

	v.SetDefault("output.width", 0)
	v.SetDefault("output.height", 0)
	v.SetDefault("output.video_codec", "")
	v.SetDefault("output.video_bitrate", "")
	v.SetDefault("output.preset", "veryfast")
	v.SetDefault("output.audio_codec", "aac")
	v.SetDefault("output.audio_bitrate", "192k")
	v.SetDefault("output.max_duration_seconds", 0)

	v.SetDefault("store.endpoint", "")
	v.SetDefault("store.public_base_url", "")
	v.SetDefault("store.token", "")
	v.SetDefault("store.key_prefix", "mixes")

	v.SetDefault("rate_limit.requests", 10)
	v.SetDefault("rate_limit.window", time.Minute)

	v.SetDefault("monitor.cpu_busy_percent", 80.0)
	v.SetDefault("monitor.ram_busy_percent", 90.0)
	v.SetDefault("monitor.sample_max_age", 5*time.Second)
	v.SetDefault("monitor.admission", true)
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := filtergraph.ParseStrategy(c.Captions.Mode); err != nil {
		errs = append(errs, fmt.Errorf("captions.mode: %w", err))
	}
	switch captions.Policy(c.Captions.Policy) {
	case captions.PolicyFixed, captions.PolicyProportional:
	default:
		errs = append(errs, fmt.Errorf("captions.policy: unknown policy %q", c.Captions.Policy))
	}
	switch captions.Unit(c.Captions.Unit) {
	case captions.UnitWords, captions.UnitLines:
	default:
		errs = append(errs, fmt.Errorf("captions.unit: unknown unit %q", c.Captions.Unit))
	}
	if c.Captions.SegmentCount < 1 {
		errs = append(errs, fmt.Errorf("captions.segment_count must be at least 1, got %d", c.Captions.SegmentCount))
	}
	if c.Captions.FallbackDurationSeconds <= 0 {
		errs = append(errs, errors.New("captions.fallback_duration_seconds must be positive"))
	}
	if _, err := filtergraph.ParseDurationPolicy(c.Mix.Duration); err != nil {
		errs = append(errs, fmt.Errorf("mix.duration: %w", err))
	}
	if c.Mix.BackgroundVolume < 0 || c.Mix.VoiceVolume < 0 {
		errs = append(errs, errors.New("mix volumes must not be negative"))
	}
	if c.Output.Width < 0 || c.Output.Height < 0 {
		errs = append(errs, errors.New("output dimensions must not be negative"))
	}
	if c.Transcode.Timeout <= 0 {
		errs = append(errs, errors.New("transcode.timeout must be positive"))
	}
	if c.Workspace.SweepInterval <= 0 || c.Workspace.MaxAge <= 0 {
		errs = append(errs, errors.New("workspace.max_age and workspace.sweep_interval must be positive"))
	}
	if c.Store.Endpoint != "" && !strings.HasPrefix(c.Store.Endpoint, "http") {
		errs = append(errs, fmt.Errorf("store.endpoint must be an http(s) URL, got %q", c.Store.Endpoint))
	}
	return errors.Join(errs...)
}

// CaptionOptions converts the captions section into segmenter options.
func (c *Config) CaptionOptions() captions.Options {
	return captions.Options{
		Policy:           captions.Policy(c.Captions.Policy),
		Unit:             captions.Unit(c.Captions.Unit),
		SegmentCount:     c.Captions.SegmentCount,
		FallbackDuration: c.Captions.FallbackDurationSeconds,
		LineMaxChars:     c.Captions.LineMaxChars,
	}
}

// Style converts the overlay section into graph styling.
func (c *Config) Style() filtergraph.Style {
	o := c.Overlay
	return filtergraph.Style{
		FontFace:      o.FontFace,
		FontFile:      o.FontFile,
		FontSize:      o.FontSize,
		PrimaryColour: o.PrimaryColour,
		OutlineColour: o.OutlineColour,
		BorderStyle:   o.BorderStyle,
		Outline:       o.Outline,
		Shadow:        o.Shadow,
		MarginV:       o.MarginV,
	}
}
