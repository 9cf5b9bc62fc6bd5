package filtergraph

import (
	"fmt"
	"strconv"
	"strings"

	"voiceover-mixer/internal/captions"
)

// DurationPolicy selects how amix sizes its output relative to its inputs.
type DurationPolicy string

const (
	DurationFirst    DurationPolicy = "first"
	DurationLongest  DurationPolicy = "longest"
	DurationShortest DurationPolicy = "shortest"
)

// ParseDurationPolicy validates a configured policy name.
func ParseDurationPolicy(s string) (DurationPolicy, error) {
	switch p := DurationPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case DurationFirst, DurationLongest, DurationShortest:
		return p, nil
	}
	return "", fmt.Errorf("unknown duration policy %q (want first, longest or shortest)", s)
}

// AudioMode selects between the dual-track mix and muxing the voice-over alone.
type AudioMode string

const (
	AudioMix       AudioMode = "mix"
	AudioVoiceOnly AudioMode = "voice-only"
)

// Strategy selects how captions reach the frame.
type Strategy string

const (
	StrategyNone      Strategy = "none"
	StrategyText      Strategy = "text"
	StrategySubtitles Strategy = "subtitles"
)

// ParseStrategy validates a configured caption strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyNone, StrategyText, StrategySubtitles:
		return st, nil
	case "":
		return StrategyNone, nil
	}
	return "", fmt.Errorf("unknown caption strategy %q (want none, text or subtitles)", s)
}

// Audio describes the audio sub-graph.
type Audio struct {
	Mode             AudioMode
	BackgroundVolume float64
	VoiceVolume      float64
	Duration         DurationPolicy
}

// Style holds caption styling. Colours use the ASS &HBBGGRR notation.
type Style struct {
	FontFace      string
	FontFile      string
	FontSize      int
	PrimaryColour string
	OutlineColour string
	BorderStyle   int
	Outline       int
	Shadow        int
	MarginV       int
}

// Captions describes the caption overlay. Cues for StrategyText must already
// be sanitized with captions.Sanitize, which escapes them for the option level.
type Captions struct {
	Strategy     Strategy
	Cues         captions.Track
	SubtitlePath string
	Style        Style
}

// Output describes the encoder settings of the produced file.
type Output struct {
	Width        int
	Height       int
	CopyVideo    bool
	VideoCodec   string
	VideoBitrate string
	Preset       string
	AudioCodec   string
	AudioBitrate string
	MaxDuration  float64
}

// Spec is everything Build needs for one attempt.
type Spec struct {
	Audio    Audio
	Captions Captions
	Output   Output
}

const (
	labelBackground Label = "bg"
	labelVoice      Label = "vo"
	labelAudioOut   Label = "aout"
	labelVideoOut   Label = "vout"
)

// Build constructs a fresh graph for spec. Stages are appended in dependency
// order, so every input refers to a source or an earlier stage.
func Build(spec Spec) *Graph {
	g := &Graph{Sources: []Label{SourceVideo, SourceAudio, SourceVoice}}

	// 1. Audio: attenuated bed mixed under the voice-over, or the voice alone.
	audioMap := "1:a:0"
	if spec.Audio.Mode != AudioVoiceOnly {
		policy := spec.Audio.Duration
		if policy == "" {
			policy = DurationFirst
		}
		g.Stages = append(g.Stages,
			Stage{
				Inputs: []Label{SourceAudio},
				Op:     OpVolume,
				Params: []Param{{Key: "volume", Value: formatFloat(spec.Audio.BackgroundVolume)}},
				Output: labelBackground,
			},
			Stage{
				Inputs: []Label{SourceVoice},
				Op:     OpVolume,
				Params: []Param{{Key: "volume", Value: formatFloat(spec.Audio.VoiceVolume)}},
				Output: labelVoice,
			},
			Stage{
				Inputs: []Label{labelBackground, labelVoice},
				Op:     OpMix,
				Params: []Param{{Key: "inputs", Value: "2"}, {Key: "duration", Value: string(policy)}},
				Output: labelAudioOut,
			},
		)
		audioMap = "[" + string(labelAudioOut) + "]"
	}

	// 2. Video: captions first, then scaling.
	current := SourceVideo
	lastVideo := -1
	addVideo := func(op Op, params []Param, out Label) {
		g.Stages = append(g.Stages, Stage{Inputs: []Label{current}, Op: op, Params: params, Output: out})
		current = out
		lastVideo = len(g.Stages) - 1
	}

	switch spec.Captions.Strategy {
	case StrategyText:
		for i, cue := range spec.Captions.Cues {
			addVideo(OpDrawText, drawTextParams(cue, spec.Captions.Style), Label(fmt.Sprintf("cap%d", i+1)))
		}
	case StrategySubtitles:
		if spec.Captions.SubtitlePath != "" {
			addVideo(OpSubtitles, subtitleParams(spec.Captions.SubtitlePath, spec.Captions.Style), "sub")
		}
	}

	if spec.Output.Width > 0 || spec.Output.Height > 0 {
		addVideo(OpScale, []Param{
			{Key: "w", Value: dimension(spec.Output.Width)},
			{Key: "h", Value: dimension(spec.Output.Height)},
		}, "scaled")
	}

	videoMap := "0:v:0"
	if lastVideo >= 0 {
		// Nothing reads the final video label, so it can take the canonical name.
		g.Stages[lastVideo].Output = labelVideoOut
		videoMap = "[" + string(labelVideoOut) + "]"
	}
	g.Maps = []string{videoMap, audioMap}

	// 3. Output options.
	g.OutputArgs = outputArgs(spec, g.HasVideoStages())
	return g
}

func outputArgs(spec Spec, videoAltered bool) []string {
	out := spec.Output
	var args []string

	// Stream copy is only legal when no stage touched the video.
	if out.CopyVideo && !videoAltered {
		args = append(args, "-c:v", "copy")
	} else {
		codec := out.VideoCodec
		if codec == "" {
			codec = "libx264"
		}
		args = append(args, "-c:v", codec)
		if out.Preset != "" && takesX264Preset(codec) {
			args = append(args, "-preset", out.Preset)
		}
		if out.VideoBitrate != "" {
			args = append(args, "-b:v", out.VideoBitrate)
		}
		if codec == "libx264" || codec == "libx265" {
			args = append(args, "-pix_fmt", "yuv420p")
		}
	}

	audioCodec := out.AudioCodec
	if audioCodec == "" {
		audioCodec = "aac"
	}
	args = append(args, "-c:a", audioCodec)
	if out.AudioBitrate != "" {
		args = append(args, "-b:a", out.AudioBitrate)
	}

	if spec.Audio.Mode == AudioVoiceOnly && spec.Audio.Duration == DurationShortest {
		args = append(args, "-shortest")
	}
	if out.MaxDuration > 0 {
		args = append(args, "-t", formatFloat(out.MaxDuration))
	}
	return append(args, "-movflags", "+faststart")
}

// takesX264Preset reports whether codec accepts the x264 preset names
// (ultrafast..veryslow). nvenc, vaapi and videotoolbox use their own scales.
func takesX264Preset(codec string) bool {
	switch codec {
	case "libx264", "libx265", "h264_qsv", "hevc_qsv":
		return true
	}
	return false
}

// Window returns the half-open enable expression for [start, end).
func Window(start, end float64) string {
	return fmt.Sprintf("gte(t,%s)*lt(t,%s)", formatFloat(start), formatFloat(end))
}

func drawTextParams(cue captions.Cue, style Style) []Param {
	// Text is literal; without expansion=none drawtext would read %{...}.
	params := []Param{{Key: "text", Value: cue.Text}, {Key: "expansion", Value: "none"}}
	switch {
	case style.FontFile != "":
		params = append(params, Param{Key: "fontfile", Value: escapeOption(style.FontFile)})
	case style.FontFace != "":
		params = append(params, Param{Key: "font", Value: escapeOption(style.FontFace)})
	}
	size := style.FontSize
	if size <= 0 {
		size = 24
	}
	params = append(params,
		Param{Key: "fontsize", Value: strconv.Itoa(size)},
		Param{Key: "fontcolor", Value: drawTextColour(style.PrimaryColour, "white")},
		Param{Key: "bordercolor", Value: drawTextColour(style.OutlineColour, "black")},
		Param{Key: "borderw", Value: strconv.Itoa(max(style.Outline, 0))},
		Param{Key: "x", Value: "(w-text_w)/2"},
		Param{Key: "y", Value: fmt.Sprintf("h-text_h-%d", max(style.MarginV, 0))},
		Param{Key: "enable", Value: Window(cue.Start, cue.End)},
	)
	if style.BorderStyle == 3 {
		params = append(params, Param{Key: "box", Value: "1"}, Param{Key: "boxcolor", Value: "black@0.5"})
	}
	return params
}

func subtitleParams(path string, style Style) []Param {
	var fields []string
	if style.FontFace != "" {
		fields = append(fields, "FontName="+style.FontFace)
	}
	if style.FontSize > 0 {
		fields = append(fields, "Fontsize="+strconv.Itoa(style.FontSize))
	}
	if style.PrimaryColour != "" {
		fields = append(fields, "PrimaryColour="+style.PrimaryColour)
	}
	if style.OutlineColour != "" {
		fields = append(fields, "OutlineColour="+style.OutlineColour)
	}
	fields = append(fields,
		"BorderStyle="+strconv.Itoa(style.BorderStyle),
		"Outline="+strconv.Itoa(style.Outline),
		"Shadow="+strconv.Itoa(style.Shadow),
		"MarginV="+strconv.Itoa(style.MarginV),
	)
	return []Param{
		{Key: "filename", Value: escapeOption(path)},
		{Key: "force_style", Value: escapeOption(strings.Join(fields, ","))},
	}
}

func dimension(v int) string {
	if v <= 0 {
		return "-2"
	}
	// Encoders reject odd dimensions for 4:2:0 output.
	return strconv.Itoa(v - v%2)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
