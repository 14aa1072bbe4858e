// Package api provides HTTP handlers for the mentor API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/mentor-labs/internal/domain"
)

// maxRequestBodySize is the maximum accepted request body size (1MB).
const maxRequestBodySize = 1 << 20

const (
	msgInvalidJSON  = "Invalid JSON data received."
	msgBodyTooLarge = "Request body too large."
	msgInternal     = "An internal server error occurred."
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// Success writes a 200 {status:"success"} response with the extra fields.
func Success(w http.ResponseWriter, fields map[string]any) {
	body := map[string]any{"status": "success"}
	for k, v := range fields {
		body[k] = v
	}
	JSON(w, http.StatusOK, body)
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"status": "error", "message": message})
}

// statusForKind maps a flow error kind onto its HTTP status.
func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindPreconditionMissing:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeFlowError renders err. Unclassified errors get a generic message.
func writeFlowError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		logger.Error("unclassified flow error", "path", r.URL.Path, "error", err)
		Error(w, http.StatusInternalServerError, msgInternal)
		return
	}
	status := statusForKind(de.Kind)
	if status >= http.StatusInternalServerError {
		logger.Error("flow step failed", "path", r.URL.Path, "kind", de.Kind, "error", err)
	} else {
		logger.Info("flow step rejected", "path", r.URL.Path, "kind", de.Kind, "message", de.Message)
	}
	Error(w, status, de.Message)
}

// decodeBody decodes a size limited JSON body into dst. On failure the error
// response has already been written and false is returned.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	err := dec.Decode(dst)
	if err == nil {
		// The body must hold exactly one JSON value.
		if extra := dec.Decode(&struct{}{}); !errors.Is(extra, io.EOF) {
			err = extra
			if err == nil {
				err = errTrailingData
			}
		}
	}
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
			return false
		}
		Error(w, http.StatusBadRequest, msgInvalidJSON)
		return false
	}
	return true
}

var errTrailingData = errors.New("trailing data after JSON body")
