// Package captions turns script text or a pre-timed subtitle document into timed caption cues.
package captions

import (
	"fmt"
	"strings"
)

// Cue is a caption's text plus the half-open window [Start, End) in seconds.
type Cue struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Track is an ordered sequence of non-overlapping cues.
type Track []Cue

// Validate checks that every cue is well formed and that cues are strictly
// increasing and non-overlapping.
func (t Track) Validate() error {
	prevEnd := 0.0
	prevStart := -1.0
	for i, c := range t {
		switch {
		case c.Index < 1:
			return fmt.Errorf("cue %d: index must be positive, got %d", i+1, c.Index)
		case c.Start < 0:
			return fmt.Errorf("cue %d: negative start %.3f", c.Index, c.Start)
		case c.End <= c.Start:
			return fmt.Errorf("cue %d: end %.3f not after start %.3f", c.Index, c.End, c.Start)
		case strings.TrimSpace(c.Text) == "":
			return fmt.Errorf("cue %d: empty text", c.Index)
		case c.Start <= prevStart:
			return fmt.Errorf("cue %d: start %.3f not after previous start %.3f", c.Index, c.Start, prevStart)
		case c.Start < prevEnd:
			return fmt.Errorf("cue %d: start %.3f overlaps previous cue ending at %.3f", c.Index, c.Start, prevEnd)
		}
		prevStart = c.Start
		prevEnd = c.End
	}
	return nil
}

// End returns the end offset of the last cue, or zero for an empty track.
func (t Track) End() float64 {
	if len(t) == 0 {
		return 0
	}
	return t[len(t)-1].End
}
