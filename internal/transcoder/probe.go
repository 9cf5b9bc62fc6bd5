package transcoder

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ProbeCapabilities asks ffmpeg which encoders it was built with and picks the
// best H.264 encoder. Any failure leaves the software encoder selected.
func (e *Engine) ProbeCapabilities(ctx context.Context) {
	cmd := exec.CommandContext(ctx, e.FFmpegPath, "-hide_banner", "-encoders")
	output, err := cmd.CombinedOutput()
	if err != nil {
		e.logger.Warn().Err(err).Msg("encoder probe failed, using software encoder")
		e.HasHWAccel = false
		e.bestCodec = CodecSoftware
		return
	}

	e.bestCodec = pickCodec(string(output))
	e.HasHWAccel = e.bestCodec != CodecSoftware
}

// pickCodec prefers NVENC, then QuickSync, then VideoToolbox. VAAPI is only
// reported, never chosen: it needs an hwupload stage the graphs do not build.
func pickCodec(encoders string) string {
	switch {
	case strings.Contains(encoders, CodecNVENC):
		return CodecNVENC
	case strings.Contains(encoders, CodecQSV):
		return CodecQSV
	case strings.Contains(encoders, CodecVideoToolbox):
		return CodecVideoToolbox
	default:
		return CodecSoftware
	}
}

// ProbeDuration uses ffprobe to get the container duration in seconds.
func (e *Engine) ProbeDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	}
	cmd := exec.CommandContext(ctx, e.FFprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseProbeDuration(output)
}

func parseProbeDuration(output []byte) (float64, error) {
	var res struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &res); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if res.Format.Duration == "" || res.Format.Duration == "N/A" {
		return 0, fmt.Errorf("ffprobe reported no duration")
	}
	d, err := strconv.ParseFloat(res.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", res.Format.Duration, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("non-positive duration %v", d)
	}
	return d, nil
}
