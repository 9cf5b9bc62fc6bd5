package captions

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"voiceover-mixer/internal/mixerr"
)

var blockSeparator = regexp.MustCompile(`\n[ \t]*\n`)

// ParseSRT reads a pre-timed subtitle document and returns its cues verbatim,
// renumbered from 1. SRT is the primary format; WebVTT headers, NOTE/STYLE
// blocks and dot millisecond separators are tolerated. Cues with blank text are
// dropped. Malformed timestamps, an empty document, or cues that are not
// strictly increasing fail with a timing error.
func ParseSRT(doc string) (Track, error) {
	doc = strings.TrimPrefix(doc, "\ufeff")
	doc = strings.ReplaceAll(doc, "\r\n", "\n")
	doc = strings.ReplaceAll(doc, "\r", "\n")
	doc = strings.TrimSpace(doc)
	if doc == "" {
		return nil, mixerr.New(mixerr.KindTiming, "parse subtitles", "empty subtitle document")
	}

	var track Track
	for _, block := range blockSeparator.Split(doc, -1) {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		timing := -1
		for i, line := range lines {
			if strings.Contains(line, "-->") {
				timing = i
				break
			}
		}
		if timing < 0 {
			// Header, NOTE or STYLE block.
			continue
		}

		start, end, err := parseTimingLine(lines[timing])
		if err != nil {
			return nil, mixerr.Wrap(mixerr.KindTiming, "parse subtitles", fmt.Errorf("cue %d: %w", len(track)+1, err))
		}
		text := strings.TrimSpace(strings.Join(lines[timing+1:], "\n"))
		if text == "" {
			continue
		}
		track = append(track, Cue{Index: len(track) + 1, Start: start, End: end, Text: text})
	}

	if len(track) == 0 {
		return nil, mixerr.New(mixerr.KindTiming, "parse subtitles", "no cues found")
	}
	if err := track.Validate(); err != nil {
		return nil, mixerr.Wrap(mixerr.KindTiming, "parse subtitles", err)
	}
	return track, nil
}

func parseTimingLine(line string) (float64, float64, error) {
	parts := strings.SplitN(line, "-->", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid timing line %q", line)
	}
	start, err := parseTimestamp(parts[0])
	if err != nil {
		return 0, 0, err
	}
	// WebVTT allows cue settings after the end timestamp.
	endFields := strings.Fields(parts[1])
	if len(endFields) == 0 {
		return 0, 0, fmt.Errorf("invalid timing line %q", line)
	}
	end, err := parseTimestamp(endFields[0])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parseTimestamp accepts HH:MM:SS,mmm, HH:MM:SS.mmm and MM:SS.mmm.
func parseTimestamp(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	value = strings.ReplaceAll(value, ",", ".")

	clock, frac, _ := strings.Cut(value, ".")
	hms := strings.Split(clock, ":")
	if len(hms) == 2 {
		hms = append([]string{"0"}, hms...)
	}
	if len(hms) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}

	hours, errH := strconv.Atoi(hms[0])
	minutes, errM := strconv.Atoi(hms[1])
	seconds, errS := strconv.Atoi(hms[2])
	if errH != nil || errM != nil || errS != nil || hours < 0 || minutes < 0 || minutes > 59 || seconds < 0 || seconds > 59 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}

	millis := 0.0
	if frac != "" {
		f, err := strconv.ParseFloat("0."+frac, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q", value)
		}
		millis = f
	}
	return float64(hours*3600+minutes*60+seconds) + millis, nil
}

// RenderSRT writes track as an SRT document.
func RenderSRT(track Track) []byte {
	var buf bytes.Buffer
	for i, c := range track {
		fmt.Fprintf(&buf, "%d\n%s --> %s\n%s\n\n", i+1, formatTimestamp(c.Start), formatTimestamp(c.End), c.Text)
	}
	return buf.Bytes()
}

func formatTimestamp(seconds float64) string {
	total := int64(math.Round(seconds * 1000))
	if total < 0 {
		total = 0
	}
	ms := total % 1000
	s := (total / 1000) % 60
	m := (total / 60000) % 60
	h := total / 3600000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
