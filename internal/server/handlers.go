package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	xlog "voiceover-mixer/internal/log"
	"voiceover-mixer/internal/mixer"
	"voiceover-mixer/internal/mixerr"
	"voiceover-mixer/pkg/models"
)

// Response headers describing a streamed artifact.
const (
	HeaderDuration = "X-Mix-Duration"
	HeaderRung     = "X-Mix-Rung"
	HeaderRungName = "X-Mix-Rung-Name"
	HeaderDegraded = "X-Mix-Degraded"
)

func (s *Server) handleMix(w http.ResponseWriter, r *http.Request) {
	// 1. Decode
	var req models.MixRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProblem(w, r, http.StatusRequestEntityTooLarge, "validation", "request body too large", "")
			return
		}
		writeProblem(w, r, http.StatusBadRequest, "validation", "invalid JSON: "+err.Error(), "")
		return
	}

	// 2. Admission
	if s.busy(r.Context()) {
		w.Header().Set("Retry-After", "30")
		writeProblem(w, r, http.StatusServiceUnavailable, "busy", "host is at capacity, retry later", "")
		return
	}

	s.inflight.Add(1)
	defer s.inflight.Add(-1)

	// 3. Mix and deliver
	written := false
	err := s.mixer.Mix(r.Context(), req, func(res mixer.Result) error {
		written = true
		if res.URL != "" {
			return writeJSON(w, http.StatusOK, models.MixResponse{
				URL:             res.URL,
				DurationSeconds: res.DurationSeconds,
				Rung:            res.Rung,
				RungName:        res.RungName,
				Degraded:        res.Degraded,
				RequestID:       xlog.RequestIDFromContext(r.Context()),
			})
		}
		return streamArtifact(w, res)
	})
	if err == nil {
		return
	}

	logger := xlog.WithContext(r.Context(), s.logger)
	if written {
		// Headers are gone; all that is left is to log.
		logger.Warn().Err(err).Msg("artifact delivery interrupted")
		return
	}
	if r.Context().Err() != nil {
		logger.Info().Err(err).Msg("client went away during mix")
		return
	}
	event := logger.Warn()
	if mixerr.Is(err, mixerr.KindTranscode) || mixerr.Is(err, mixerr.KindInternal) {
		event = logger.Error()
	}
	event.Err(err).Str("kind", string(mixerr.KindOf(err))).Msg("mix failed")
	writeError(w, r, err)
}

func streamArtifact(w http.ResponseWriter, res mixer.Result) error {
	f, err := os.Open(res.ArtifactPath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}

	h := w.Header()
	h.Set("Content-Type", "video/mp4")
	h.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	h.Set("Content-Disposition", `attachment; filename="output.mp4"`)
	h.Set(HeaderDuration, strconv.FormatFloat(res.DurationSeconds, 'f', 3, 64))
	h.Set(HeaderRung, strconv.Itoa(res.Rung))
	h.Set(HeaderRungName, res.RungName)
	h.Set(HeaderDegraded, strconv.FormatBool(res.Degraded))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("stream artifact: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status:      "ok",
		Codec:       s.opts.Codec,
		ActiveMixes: s.inflight.Load(),
	}
	if s.monitor != nil {
		stats, err := s.monitor.GetStats(r.Context())
		switch {
		case err != nil:
			health.Status = "degraded"
			health.Error = err.Error()
		case stats.IsBusy:
			health.Status = "busy"
		}
		health.Host = stats
	}
	_ = writeJSON(w, http.StatusOK, health)
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
