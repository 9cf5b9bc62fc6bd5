package captions

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// punctuationReplacer is the single normalization table applied to caption
// text before it is drawn as an on-frame text overlay. NFKC runs first, so
// compatibility forms (ellipsis, no-break space, full-width letters) are
// already folded by the time this table is consulted.
var punctuationReplacer = strings.NewReplacer(
	"\u2014", "-", // em dash
	"\u2013", "-", // en dash
	"\u2012", "-", // figure dash
	"\u2212", "-", // minus sign
	"\u2010", "-", // hyphen
	"\u2018", "'", // left single quote
	"\u2019", "'", // right single quote
	"\u201a", "'", // single low-9 quote
	"\u2032", "'", // prime
	"\u201c", `"`, // left double quote
	"\u201d", `"`, // right double quote
	"\u201e", `"`, // double low-9 quote
	"\u00ab", `"`, // left guillemet
	"\u00bb", `"`, // right guillemet
	"\u2026", "...", // ellipsis
	"\u00a0", " ", // no-break space
	"\u202f", " ", // narrow no-break space
	"\u2009", " ", // thin space
	"\t", " ",
)

// filterTextReplacer escapes characters that the filter option parser would
// otherwise read as quoting or separators. The graph-level
// escape is added when the stage is serialized.
var filterTextReplacer = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	`:`, `\:`,
	`[`, `\[`,
	`]`, `\]`,
	`,`, `\,`,
	`;`, `\;`,
	`%`, `\%`,
)

// Normalize folds typographic punctuation to plain ASCII.
func Normalize(s string) string {
	return punctuationReplacer.Replace(norm.NFKC.String(s))
}

// EscapeFilterText backslash-escapes filter option metacharacters so the
// option parser yields s unchanged.
func EscapeFilterText(s string) string {
	return filterTextReplacer.Replace(s)
}

// Sanitize prepares cue text for a drawtext stage. It must not be applied to
// cues rendered through a subtitle document.
func Sanitize(s string) string {
	return EscapeFilterText(Normalize(s))
}

// SanitizeTrack returns a copy of track with every cue's text sanitized.
func SanitizeTrack(track Track) Track {
	out := make(Track, len(track))
	for i, c := range track {
		c.Text = Sanitize(c.Text)
		out[i] = c
	}
	return out
}
