// Package httputil centralizes JSON response writing so every handler emits
// the same envelopes.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	dErrors "reconcile/pkg/domain-errors"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteJSON writes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates err into a status and envelope. Messages of 5xx
// errors are replaced with a generic one; the caller is expected to log the
// original error.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.ToHTTPStatus(code)

	message := "internal error"
	if de, ok := dErrors.As(err); ok && status < http.StatusInternalServerError {
		message = de.Message
	}
	switch code {
	case dErrors.CodeUnavailable:
		message = "service temporarily unavailable, retry the request"
	case dErrors.CodeTimeout:
		message = "request timed out, retry the request"
	}

	WriteJSON(w, status, ErrorResponse{Error: message, Code: string(code)})
}

// maxBodyBytes caps request bodies; identify payloads are tiny.
const maxBodyBytes = 1 << 16

// DecodeJSON decodes the request body into a new T. Malformed or oversized
// bodies are reported as CodeBadRequest.
func DecodeJSON[T any](r *http.Request) (*T, error) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, dErrors.New(dErrors.CodeBadRequest, "request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, dErrors.New(dErrors.CodeBadRequest, "request body too large")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid JSON request body")
	}
	return &v, nil
}
