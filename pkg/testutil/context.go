package testutil

import (
	"net/http"
	"time"

	"reconcile/pkg/requestcontext"
)

// WithRequestID adds a request ID to the request context, as the request ID
// middleware would.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}

// WithRequestTime pins the request-scoped clock.
func WithRequestTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
