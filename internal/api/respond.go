package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/adverant/nexus/notes-ocr-service/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
		"code":    code,
	})
}

// writePipelineErr maps a pipeline error to its HTTP status. Anything that
// is not a PipelineError is reported as an opaque internal error.
func writePipelineErr(w http.ResponseWriter, err error) {
	var perr *errors.PipelineError
	if stderrors.As(err, &perr) {
		writeErr(w, perr.HTTPStatus(), string(perr.Code), sanitizeError(perr.Message))
		return
	}
	writeErr(w, http.StatusInternalServerError, "internal_error", "Internal server error")
}

func sanitizeError(msg string) string {
	msg = strings.TrimSpace(msg)
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return msg
}
