package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"voiceover-mixer/internal/mixer"
	"voiceover-mixer/internal/mixerr"
	"voiceover-mixer/pkg/models"
)

type mixFlags struct {
	video       string
	audio       string
	scriptFile  string
	subsFile    string
	captionMode string
	output      string
}

func newMixCommand(ctx *commandContext) *cobra.Command {
	var flags mixFlags

	cmd := &cobra.Command{
		Use:   "mix",
		Short: "Mix one video and voice-over locally",
		Example: `  mixer mix --video https://cdn.example.com/in.mp4 --audio vo.mp3 --script script.txt -o out.mp4
  mixer mix --video in.mp4 --audio vo.mp3 --subtitles captions.srt --caption-mode text`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			req, err := flags.request()
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := newPipeline(runCtx, cfg, true)
			if err != nil {
				return err
			}

			var summary mixer.Result
			err = p.service.Mix(runCtx, req, func(res mixer.Result) error {
				summary = res
				if res.URL != "" && flags.output == "" {
					return nil
				}
				return copyFile(res.ArtifactPath, flags.outputPath())
			})
			if err != nil {
				if diag := mixerr.DetailOf(err); diag != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), diag)
				}
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderSummary(summary, flags.outputPath()))
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.video, "video", "", "Source video URL or path")
	cmd.Flags().StringVar(&flags.audio, "audio", "", "Voice-over URL or path")
	cmd.Flags().StringVar(&flags.scriptFile, "script", "", "Plain-text narration script to caption")
	cmd.Flags().StringVar(&flags.subsFile, "subtitles", "", "Pre-timed SRT or WebVTT file")
	cmd.Flags().StringVar(&flags.captionMode, "caption-mode", "", "Caption strategy: none, text or subtitles")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Where to write the mixed video (default output.mp4)")
	_ = cmd.MarkFlagRequired("video")
	_ = cmd.MarkFlagRequired("audio")
	cmd.MarkFlagsMutuallyExclusive("script", "subtitles")

	return cmd
}

func (f mixFlags) outputPath() string {
	if f.output == "" {
		return "output.mp4"
	}
	return f.output
}

func (f mixFlags) request() (models.MixRequest, error) {
	req := models.MixRequest{VideoURL: f.video, AudioURL: f.audio, CaptionMode: f.captionMode}
	if f.scriptFile != "" {
		data, err := os.ReadFile(f.scriptFile) // #nosec G304
		if err != nil {
			return req, fmt.Errorf("read script: %w", err)
		}
		req.Script = string(data)
	}
	if f.subsFile != "" {
		data, err := os.ReadFile(f.subsFile) // #nosec G304
		if err != nil {
			return req, fmt.Errorf("read subtitles: %w", err)
		}
		req.Subtitles = string(data)
	}
	return req, nil
}

func copyFile(src, dst string) error {
	if dst == "" {
		return errors.New("no output path")
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil { // #nosec G301
		return fmt.Errorf("create output dir: %w", err)
	}
	in, err := os.Open(src) // #nosec G304
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst) // #nosec G304
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy artifact: %w", err)
	}
	return out.Close()
}

func renderSummary(res mixer.Result, output string) string {
	location := output
	if res.URL != "" {
		location = res.URL
	}
	rows := [][]string{
		{"Rung", fmt.Sprintf("%d (%s)", res.Rung, res.RungName)},
		{"Degraded", strconv.FormatBool(res.Degraded)},
		{"Duration", fmt.Sprintf("%.2fs", res.DurationSeconds)},
		{"Output", location},
	}
	return renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignLeft})
}
