package wrapper

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
)

// Error is a structured API error, written as {"error": {...}}.
type Error struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

type errorResponse struct {
	Error *Error `json:"error"`
}

var bufferPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Is implements errors.Is for comparing error types.
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// With returns a copy of the error with a custom message.
func (e *Error) With(message string) *Error {
	if e == nil {
		return nil
	}
	dup := *e
	dup.Message = message
	return &dup
}

// Predefined sentinel errors
var (
	ErrNotFound           = &Error{Type: "not_found", Code: "resource_not_found", Message: "Resource not found", Status: http.StatusNotFound}
	ErrMethodNotAllowed   = &Error{Type: "request_error", Code: "method_not_allowed", Message: "Method not allowed", Status: http.StatusMethodNotAllowed}
	ErrRateLimited        = &Error{Type: "rate_limit_error", Code: "limit_exceeded", Message: "Rate limit exceeded", Status: http.StatusTooManyRequests}
	ErrLocked             = &Error{Type: "rate_limit_error", Code: "locked", Message: "Action is locked after exceeding its rate limit", Status: http.StatusTooManyRequests}
	ErrInternal           = &Error{Type: "internal_error", Code: "internal", Message: "Internal server error", Status: http.StatusInternalServerError}
	ErrInvalidPolicy      = &Error{Type: "internal_error", Code: "invalid_policy", Message: "Throttle policy is misconfigured", Status: http.StatusInternalServerError}
	ErrServiceUnavailable = &Error{Type: "api_error", Code: "throttle_unavailable", Message: "Throttle store is unavailable", Status: http.StatusServiceUnavailable}
)

// WriteError writes err directly to w. Use it where no wrapper state exists;
// otherwise call SetError and let the middleware write the response.
func WriteError(w http.ResponseWriter, err *Error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	if encErr := json.NewEncoder(buf).Encode(errorResponse{Error: err}); encErr != nil {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal server error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	w.Write(buf.Bytes())
}
