package filtergraph

import (
	"strconv"
	"strings"
)

// ffmpeg unescapes a -filter_complex argument twice: the graph parser reads
// everything after "name=" as one token terminated by [ ] , ; and the filter
// then splits that token into key=value pairs on ':'. Values are escaped for
// the option level when a Param is built and the joined argument string is
// escaped for the graph level when the stage is serialized.
var (
	optionReplacer = strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`:`, `\:`,
	)
	graphReplacer = strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`[`, `\[`,
		`]`, `\]`,
		`,`, `\,`,
		`;`, `\;`,
	)
)

// escapeOption escapes v so the filter's option parser reads it back as a
// single literal value.
func escapeOption(v string) string {
	return optionReplacer.Replace(v)
}

func escapeGraph(args string) string {
	return graphReplacer.Replace(args)
}

// drawTextColour converts an ASS colour (&HBBGGRR or &HAABBGGRR) to the
// 0xRRGGBB form drawtext expects. Unparseable input yields fallback.
func drawTextColour(ass, fallback string) string {
	s := strings.TrimSpace(ass)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "&H"), "&h")
	s = strings.TrimSuffix(s, "&")
	if len(s) == 0 || len(s) > 8 {
		return fallback
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return fallback
	}
	b := (v >> 16) & 0xff
	g := (v >> 8) & 0xff
	r := v & 0xff
	return "0x" + hex2(r) + hex2(g) + hex2(b)
}

func hex2(v uint64) string {
	s := strconv.FormatUint(v, 16)
	if len(s) < 2 {
		s = "0" + s
	}
	return strings.ToUpper(s)
}
