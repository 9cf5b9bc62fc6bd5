package captions

import (
	"strings"
)

// Policy decides how chunks are placed on the timeline.
type Policy string

const (
	// PolicyFixed places chunk i in slot i of SegmentCount equal slots spanning FallbackDuration.
	PolicyFixed Policy = "fixed"
	// PolicyProportional spreads the non-empty chunks evenly over the measured duration.
	PolicyProportional Policy = "proportional"
)

// Unit is the segmentation unit a policy is applied to.
type Unit string

const (
	// UnitWords splits the word sequence into SegmentCount equal chunks.
	UnitWords Unit = "words"
	// UnitLines greedily wraps words into lines of at most LineMaxChars characters.
	UnitLines Unit = "lines"
)

const (
	DefaultSegmentCount     = 12
	DefaultFallbackDuration = 60.0
	DefaultLineMaxChars     = 40
)

// Options configures Segment.
type Options struct {
	Policy           Policy
	Unit             Unit
	SegmentCount     int
	FallbackDuration float64
	LineMaxChars     int
}

// DefaultOptions returns twelve fixed five-second word slots.
func DefaultOptions() Options {
	return Options{
		Policy:           PolicyFixed,
		Unit:             UnitWords,
		SegmentCount:     DefaultSegmentCount,
		FallbackDuration: DefaultFallbackDuration,
		LineMaxChars:     DefaultLineMaxChars,
	}
}

func (o Options) normalized() Options {
	if o.Policy == "" {
		o.Policy = PolicyFixed
	}
	if o.Unit == "" {
		o.Unit = UnitWords
	}
	if o.SegmentCount <= 0 {
		o.SegmentCount = DefaultSegmentCount
	}
	if o.FallbackDuration <= 0 {
		o.FallbackDuration = DefaultFallbackDuration
	}
	if o.LineMaxChars <= 0 {
		o.LineMaxChars = DefaultLineMaxChars
	}
	return o
}

// Segment splits text into a timed Track. total is the measured voice-over
// duration in seconds; it is only consulted by PolicyProportional, which falls
// back to PolicyFixed when total is not positive. Empty text yields an empty Track.
func Segment(text string, total float64, opts Options) Track {
	opts = opts.normalized()

	words := strings.Fields(text)
	if len(words) == 0 {
		return Track{}
	}

	policy := opts.Policy
	if policy == PolicyProportional && total <= 0 {
		policy = PolicyFixed
	}

	var chunks []string
	switch {
	case opts.Unit == UnitLines && policy == PolicyProportional:
		chunks = wrapLines(words, opts.LineMaxChars)
	case opts.Unit == UnitLines:
		chunks = split(wrapLines(words, opts.LineMaxChars), opts.SegmentCount, "\n")
	default:
		chunks = split(words, opts.SegmentCount, " ")
	}

	if policy == PolicyProportional {
		return spread(chunks, total)
	}
	return slotted(chunks, opts.FallbackDuration)
}

// split divides units into exactly n chunks of ceil(len/n) units each. Trailing
// chunks are empty when the units run out before the slots do.
func split(units []string, n int, sep string) []string {
	size := (len(units) + n - 1) / n
	chunks := make([]string, n)
	for i := 0; i < n; i++ {
		start := i * size
		if start >= len(units) {
			continue
		}
		end := min((i+1)*size, len(units))
		chunks[i] = strings.Join(units[start:end], sep)
	}
	return chunks
}

// slotted places chunk i in the i-th of len(chunks) equal slots over total.
// Empty chunks leave their slot unused.
func slotted(chunks []string, total float64) Track {
	n := float64(len(chunks))
	track := make(Track, 0, len(chunks))
	for i, text := range chunks {
		if text == "" {
			continue
		}
		track = append(track, Cue{
			Index: len(track) + 1,
			Start: float64(i) * total / n,
			End:   float64(i+1) * total / n,
			Text:  text,
		})
	}
	return track
}

// spread lays the non-empty chunks back to back over [0, total].
func spread(chunks []string, total float64) Track {
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if c != "" {
			texts = append(texts, c)
		}
	}
	k := float64(len(texts))
	track := make(Track, 0, len(texts))
	for i, text := range texts {
		end := float64(i+1) * total / k
		if i == len(texts)-1 {
			end = total
		}
		track = append(track, Cue{
			Index: i + 1,
			Start: float64(i) * total / k,
			End:   end,
			Text:  text,
		})
	}
	return track
}

// wrapLines greedily packs words into lines of at most limit runes. A word
// longer than limit occupies a line of its own.
func wrapLines(words []string, limit int) []string {
	var (
		lines []string
		line  strings.Builder
		width int
	)
	for _, w := range words {
		wl := len([]rune(w))
		if width > 0 && width+1+wl > limit {
			lines = append(lines, line.String())
			line.Reset()
			width = 0
		}
		if width > 0 {
			line.WriteByte(' ')
			width++
		}
		line.WriteString(w)
		width += wl
	}
	if width > 0 {
		lines = append(lines, line.String())
	}
	return lines
}
