package filtergraph

import (
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceover-mixer/internal/captions"
)

func defaultSpec() Spec {
	return Spec{
		Audio: Audio{Mode: AudioMix, BackgroundVolume: 0.15, VoiceVolume: 1.0, Duration: DurationFirst},
		Captions: Captions{
			Strategy: StrategyNone,
			Style: Style{
				FontSize:      24,
				PrimaryColour: "&HFFFFFF",
				OutlineColour: "&H000000",
				BorderStyle:   3,
				Outline:       2,
				Shadow:        1,
				MarginV:       50,
			},
		},
		Output: Output{CopyVideo: true, VideoCodec: "libx264", AudioCodec: "aac"},
	}
}

func stagesOf(g *Graph, op Op) []Stage {
	var out []Stage
	for _, s := range g.Stages {
		if s.Op == op {
			out = append(out, s)
		}
	}
	return out
}

func TestBuildAudioMixOnly(t *testing.T) {
	g := Build(defaultSpec())

	require.NoError(t, g.Validate())
	assert.Equal(t,
		"[0:a]volume=volume=0.15[bg];[1:a]volume=volume=1[vo];[bg][vo]amix=inputs=2:duration=first[aout]",
		g.FilterComplex())
	assert.Equal(t, []string{"0:v:0", "[aout]"}, g.Maps)
	assert.False(t, g.HasVideoStages())
	assert.Equal(t, []string{"-c:v", "copy", "-c:a", "aac", "-movflags", "+faststart"}, g.OutputArgs)
}

func TestBuildDurationPolicy(t *testing.T) {
	for _, p := range []DurationPolicy{DurationFirst, DurationLongest, DurationShortest} {
		t.Run(string(p), func(t *testing.T) {
			spec := defaultSpec()
			spec.Audio.Duration = p

			mix := stagesOf(Build(spec), OpMix)
			require.Len(t, mix, 1)
			got, ok := mix[0].Param("duration")
			require.True(t, ok)
			assert.Equal(t, string(p), got)
		})
	}
}

func TestBuildDefaultsDurationToFirst(t *testing.T) {
	spec := defaultSpec()
	spec.Audio.Duration = ""

	got, _ := stagesOf(Build(spec), OpMix)[0].Param("duration")
	assert.Equal(t, "first", got)
}

var windowPattern = regexp.MustCompile(`^gte\(t,([0-9.]+)\)\*lt\(t,([0-9.]+)\)$`)

func TestBuildTextOverlayWindowsMatchCues(t *testing.T) {
	opts := captions.DefaultOptions()
	opts.Policy = captions.PolicyProportional
	track := captions.Segment("one two three four five six seven eight nine ten eleven twelve thirteen", 47.3, opts)
	require.NotEmpty(t, track)

	spec := defaultSpec()
	spec.Captions.Strategy = StrategyText
	spec.Captions.Cues = captions.SanitizeTrack(track)
	g := Build(spec)
	require.NoError(t, g.Validate())

	stages := stagesOf(g, OpDrawText)
	require.Len(t, stages, len(track))

	for i, st := range stages {
		enable, ok := st.Param("enable")
		require.True(t, ok)
		m := windowPattern.FindStringSubmatch(enable)
		require.Len(t, m, 3, "enable %q", enable)

		start, err := strconv.ParseFloat(m[1], 64)
		require.NoError(t, err)
		end, err := strconv.ParseFloat(m[2], 64)
		require.NoError(t, err)

		assert.Equal(t, track[i].Start, start, "cue %d start", i+1)
		assert.Equal(t, track[i].End, end, "cue %d end", i+1)
	}
	assert.Equal(t, 47.3, track.End())
}

func TestBuildTextOverlayChainsStages(t *testing.T) {
	spec := defaultSpec()
	spec.Captions.Strategy = StrategyText
	spec.Captions.Cues = captions.Track{
		{Index: 1, Start: 0, End: 5, Text: "a"},
		{Index: 2, Start: 5, End: 10, Text: "b"},
		{Index: 3, Start: 10, End: 15, Text: "c"},
	}

	g := Build(spec)
	require.NoError(t, g.Validate())

	stages := stagesOf(g, OpDrawText)
	require.Len(t, stages, 3)
	assert.Equal(t, []Label{SourceVideo}, stages[0].Inputs)
	assert.Equal(t, Label("cap1"), stages[0].Output)
	assert.Equal(t, []Label{"cap1"}, stages[1].Inputs)
	assert.Equal(t, []Label{"cap2"}, stages[2].Inputs)
	assert.Equal(t, labelVideoOut, stages[2].Output)
	assert.Equal(t, []string{"[vout]", "[aout]"}, g.Maps)

	// Captions change the picture, so copy is not allowed.
	assert.Equal(t, []string{"-c:v", "libx264", "-pix_fmt", "yuv420p"}, g.OutputArgs[:4])
}

func TestBuildTextOverlayEscapedText(t *testing.T) {
	spec := defaultSpec()
	spec.Captions.Strategy = StrategyText
	spec.Captions.Cues = captions.SanitizeTrack(captions.Track{{Index: 1, Start: 0, End: 2, Text: `it's 5:00 \ done`}})

	g := Build(spec)
	text, ok := stagesOf(g, OpDrawText)[0].Param("text")
	require.True(t, ok)
	assert.Equal(t, `it\'s 5\:00 \\ done`, text)
	assert.Contains(t, g.FilterComplex(), `drawtext=text=it\\\'s 5\\:00 \\\\ done:expansion=none:fontsize=24:fontcolor=0xFFFFFF:bordercolor=0x000000:borderw=2`)
	assert.Contains(t, g.FilterComplex(), `:enable=gte(t\,0)*lt(t\,2):box=1:boxcolor=black@0.5[vout]`)
}

func TestBuildSubtitleOverlay(t *testing.T) {
	spec := defaultSpec()
	spec.Captions.Strategy = StrategySubtitles
	spec.Captions.SubtitlePath = "/tmp/mix-1/captions.srt"

	g := Build(spec)
	require.NoError(t, g.Validate())

	subs := stagesOf(g, OpSubtitles)
	require.Len(t, subs, 1)
	assert.Equal(t,
		`[0:v]subtitles=filename=/tmp/mix-1/captions.srt:force_style=Fontsize=24\,PrimaryColour=&HFFFFFF\,OutlineColour=&H000000\,BorderStyle=3\,Outline=2\,Shadow=1\,MarginV=50[vout]`,
		subs[0].String())
	assert.Empty(t, stagesOf(g, OpDrawText))
}

func TestBuildSubtitleOverlayEscapesPath(t *testing.T) {
	spec := defaultSpec()
	spec.Captions.Strategy = StrategySubtitles
	spec.Captions.SubtitlePath = `C:\work\it's [1].srt`
	spec.Captions.Style.FontFace = "DejaVu Sans"

	st := stagesOf(Build(spec), OpSubtitles)[0]
	path, _ := st.Param("filename")
	assert.Equal(t, `C\:\\work\\it\'s [1].srt`, path)
	style, _ := st.Param("force_style")
	assert.Contains(t, style, "FontName=DejaVu Sans,Fontsize=24")
}

func TestBuildSubtitleStrategyWithoutPathAddsNothing(t *testing.T) {
	spec := defaultSpec()
	spec.Captions.Strategy = StrategySubtitles

	g := Build(spec)
	assert.False(t, g.HasVideoStages())
	assert.Equal(t, "0:v:0", g.Maps[0])
}

func TestBuildScaleAfterCaptions(t *testing.T) {
	spec := defaultSpec()
	spec.Captions.Strategy = StrategySubtitles
	spec.Captions.SubtitlePath = "/w/c.srt"
	spec.Output.Height = 721
	spec.Output.VideoBitrate = "2500k"
	spec.Output.Preset = "veryfast"

	g := Build(spec)
	require.NoError(t, g.Validate())

	require.Len(t, g.Stages, 5)
	assert.Equal(t, OpSubtitles, g.Stages[3].Op)
	assert.Equal(t, Label("sub"), g.Stages[3].Output)
	assert.Equal(t, "[sub]scale=w=-2:h=720[vout]", g.Stages[4].String())
	assert.Equal(t,
		[]string{"-c:v", "libx264", "-preset", "veryfast", "-b:v", "2500k", "-pix_fmt", "yuv420p", "-c:a", "aac", "-movflags", "+faststart"},
		g.OutputArgs)
}

func TestBuildHardwareCodecSkipsPixFmt(t *testing.T) {
	spec := defaultSpec()
	spec.Output.Width = 1280
	spec.Output.VideoCodec = "h264_nvenc"
	spec.Output.Preset = "veryfast"

	g := Build(spec)
	assert.Equal(t, []string{"-c:v", "h264_nvenc", "-c:a", "aac", "-movflags", "+faststart"}, g.OutputArgs)
}

func TestBuildPresetOnlyForX264StyleEncoders(t *testing.T) {
	tests := []struct {
		codec  string
		preset bool
	}{
		{"libx264", true},
		{"libx265", true},
		{"h264_qsv", true},
		{"h264_nvenc", false},
		{"h264_vaapi", false},
		{"h264_videotoolbox", false},
	}
	for _, tt := range tests {
		t.Run(tt.codec, func(t *testing.T) {
			spec := defaultSpec()
			spec.Output.Height = 720
			spec.Output.VideoCodec = tt.codec
			spec.Output.Preset = "veryfast"

			args := Build(spec).OutputArgs
			if tt.preset {
				assert.Subset(t, args, []string{"-preset", "veryfast"})
			} else {
				assert.NotContains(t, args, "-preset")
				assert.NotContains(t, args, "veryfast")
			}
		})
	}
}

func TestBuildVoiceOnly(t *testing.T) {
	spec := defaultSpec()
	spec.Audio.Mode = AudioVoiceOnly
	spec.Audio.Duration = DurationShortest
	spec.Output.AudioBitrate = "192k"
	spec.Output.MaxDuration = 90

	g := Build(spec)
	require.NoError(t, g.Validate())

	assert.Empty(t, g.Stages)
	assert.Empty(t, g.FilterComplex())
	assert.Equal(t, []string{
		"-map", "0:v:0", "-map", "1:a:0",
		"-c:v", "copy", "-c:a", "aac", "-b:a", "192k", "-shortest", "-t", "90", "-movflags", "+faststart",
	}, g.Args())
}

func TestBuildReturnsFreshGraphs(t *testing.T) {
	spec := defaultSpec()
	a := Build(spec)
	b := Build(spec)

	a.Stages[0].Params[0].Value = "9"
	a.Maps[0] = "changed"

	assert.Equal(t, "0.15", b.Stages[0].Params[0].Value)
	assert.Equal(t, "0:v:0", b.Maps[0])
}

func TestGraphArgsIncludeFilterComplex(t *testing.T) {
	g := Build(defaultSpec())
	args := g.Args()
	require.GreaterOrEqual(t, len(args), 2)
	assert.Equal(t, "-filter_complex", args[0])
	assert.Equal(t, g.FilterComplex(), args[1])
	assert.Equal(t, []string{"-map", "0:v:0", "-map", "[aout]"}, args[2:6])
}

func TestParseDurationPolicy(t *testing.T) {
	p, err := ParseDurationPolicy(" Shortest ")
	require.NoError(t, err)
	assert.Equal(t, DurationShortest, p)

	_, err = ParseDurationPolicy("median")
	assert.Error(t, err)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyNone, s)

	s, err = ParseStrategy("TEXT")
	require.NoError(t, err)
	assert.Equal(t, StrategyText, s)

	_, err = ParseStrategy("karaoke")
	assert.Error(t, err)
}
