package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	xlog "voiceover-mixer/internal/log"
	"voiceover-mixer/internal/mixerr"
	"voiceover-mixer/pkg/models"
)

// HeaderRequestID carries the request ID on every response.
const HeaderRequestID = "X-Request-ID"

// diagnosticLimit caps the transcoder log tail returned to clients.
const diagnosticLimit = 2048

// statusFor maps an error kind to its HTTP status.
func statusFor(kind mixerr.Kind) int {
	switch kind {
	case mixerr.KindValidation:
		return http.StatusBadRequest
	case mixerr.KindFetch, mixerr.KindStorage:
		return http.StatusBadGateway
	case mixerr.KindTiming:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as a problem response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := mixerr.KindOf(err)
	status := statusFor(kind)

	detail := err.Error()
	var me *mixerr.Error
	if errors.As(err, &me) && me.Err != nil {
		detail = me.Err.Error()
	}
	if kind == mixerr.KindInternal {
		detail = "internal error"
	}

	diag := mixerr.DetailOf(err)
	if len(diag) > diagnosticLimit {
		diag = diag[len(diag)-diagnosticLimit:]
	}
	writeProblem(w, r, status, string(kind), detail, strings.TrimSpace(diag))
}

// writeProblem writes an RFC 7807 problem details response.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, code, detail, diagnostic string) {
	p := models.Problem{
		Type:       "mix/" + code,
		Title:      http.StatusText(status),
		Status:     status,
		Code:       strings.ToUpper(code),
		Detail:     detail,
		Diagnostic: diagnostic,
		RequestID:  xlog.RequestIDFromContext(r.Context()),
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(p)
}
