// Package filtergraph models an ffmpeg filter graph as an ordered list of
// labeled stages and builds the audio-mix and video-compose graphs used by
// the mixer. Stages are plain data until FilterComplex serializes them.
package filtergraph

import (
	"fmt"
	"strings"
)

// Label names a stream inside the graph.
type Label string

// Source streams declared by the two mixer inputs.
const (
	SourceVideo Label = "0:v"
	SourceAudio Label = "0:a"
	SourceVoice Label = "1:a"
)

// Op is the filter a stage applies.
type Op string

const (
	OpVolume    Op = "volume"
	OpMix       Op = "amix"
	OpDrawText  Op = "drawtext"
	OpSubtitles Op = "subtitles"
	OpScale     Op = "scale"
)

// Param is a single filter option. Value is held at the option level: any
// backslash, quote or colon meant literally is already escaped.
type Param struct {
	Key   string
	Value string
}

// Stage is one filter applied to Inputs, producing Output.
type Stage struct {
	Inputs []Label
	Op     Op
	Params []Param
	Output Label
}

// Param returns the value of the named option.
func (s Stage) Param(key string) (string, bool) {
	for _, p := range s.Params {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// IsVideo reports whether the stage alters the video stream.
func (s Stage) IsVideo() bool {
	switch s.Op {
	case OpDrawText, OpSubtitles, OpScale:
		return true
	}
	return false
}

func (s Stage) String() string {
	var b strings.Builder
	for _, in := range s.Inputs {
		b.WriteString("[" + string(in) + "]")
	}
	b.WriteString(string(s.Op))
	if len(s.Params) > 0 {
		opts := make([]string, len(s.Params))
		for i, p := range s.Params {
			opts[i] = p.Key + "=" + p.Value
		}
		b.WriteByte('=')
		b.WriteString(escapeGraph(strings.Join(opts, ":")))
	}
	b.WriteString("[" + string(s.Output) + "]")
	return b.String()
}

// Graph is a complete transcoder recipe: the filter stages, the streams mapped
// into the output, and the output codec options.
type Graph struct {
	Sources    []Label
	Stages     []Stage
	Maps       []string
	OutputArgs []string
}

// FilterComplex serializes the stages to ffmpeg's -filter_complex syntax.
// It returns an empty string for a graph without stages.
func (g *Graph) FilterComplex() string {
	parts := make([]string, len(g.Stages))
	for i, s := range g.Stages {
		parts[i] = s.String()
	}
	return strings.Join(parts, ";")
}

// Args returns the ffmpeg arguments between the inputs and the output path.
func (g *Graph) Args() []string {
	var args []string
	if len(g.Stages) > 0 {
		args = append(args, "-filter_complex", g.FilterComplex())
	}
	for _, m := range g.Maps {
		args = append(args, "-map", m)
	}
	return append(args, g.OutputArgs...)
}

// HasVideoStages reports whether any stage alters the video stream.
func (g *Graph) HasVideoStages() bool {
	for _, s := range g.Stages {
		if s.IsVideo() {
			return true
		}
	}
	return false
}

// Validate checks that every stage reads only declared sources or outputs of
// earlier stages, that intermediate labels are produced once and consumed at
// most once, and that every mapped label exists and is otherwise unconsumed.
func (g *Graph) Validate() error {
	sources := make(map[Label]bool, len(g.Sources))
	for _, s := range g.Sources {
		sources[s] = true
	}
	produced := make(map[Label]bool)
	consumed := make(map[Label]bool)

	for i, st := range g.Stages {
		if st.Output == "" {
			return fmt.Errorf("stage %d (%s): missing output label", i, st.Op)
		}
		for _, in := range st.Inputs {
			switch {
			case sources[in]:
			case !produced[in]:
				return fmt.Errorf("stage %d (%s): input [%s] is not a source or an earlier output", i, st.Op, in)
			case consumed[in]:
				return fmt.Errorf("stage %d (%s): input [%s] already consumed", i, st.Op, in)
			default:
				consumed[in] = true
			}
		}
		if sources[st.Output] || produced[st.Output] {
			return fmt.Errorf("stage %d (%s): output [%s] already defined", i, st.Op, st.Output)
		}
		produced[st.Output] = true
	}

	for _, m := range g.Maps {
		if !strings.HasPrefix(m, "[") {
			continue
		}
		label := Label(strings.Trim(m, "[]"))
		if !produced[label] {
			return fmt.Errorf("map %s: unknown label", m)
		}
		if consumed[label] {
			return fmt.Errorf("map %s: label already consumed by a stage", m)
		}
	}
	return nil
}
