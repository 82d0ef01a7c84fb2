// Package httputil provides shared HTTP utilities for consistent response handling.
package httputil

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"
)

// WriteJSON writes a JSON response with the given status code.
// It sets the Content-Type header to application/json.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes a JSON error response with the given status code.
// The body is {"error": errCode, "message": message}.
func WriteError(w http.ResponseWriter, status int, errCode, message string) {
	WriteJSON(w, status, map[string]string{
		"error":   errCode,
		"message": message,
	})
}

// WriteOK writes a 200 OK response with data.
func WriteOK(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteMethodNotAllowed writes a 405 response listing the allowed methods.
func WriteMethodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

// Seconds rounds d up to whole seconds, with a minimum of 1 for any
// positive duration. It is the unit of Retry-After and X-RateLimit-Reset.
func Seconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}

// SetRetryAfter sets the Retry-After header when d is positive.
func SetRetryAfter(h http.Header, d time.Duration) {
	if s := Seconds(d); s > 0 {
		h.Set("Retry-After", strconv.FormatInt(s, 10))
	}
}
