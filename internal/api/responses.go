package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/snarg/meetscribe/internal/transcribe"
)

// Machine-readable error codes returned in ErrorResponse.Code.
const (
	ErrBadRequest       = "bad_request"
	ErrInvalidBody      = "invalid_body"
	ErrInvalidParameter = "invalid_parameter"
	ErrUnauthorized     = "unauthorized"
	ErrNotFound         = "not_found"
	ErrConflict         = "conflict"
	ErrUnavailable      = "unavailable"
	ErrInternal         = "internal"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// WriteErrorWithCode writes a JSON error response with a machine-readable code.
func WriteErrorWithCode(w http.ResponseWriter, status int, code, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// WriteErrorDetail writes a JSON error response with detail.
func WriteErrorDetail(w http.ResponseWriter, status int, msg, detail string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Detail: detail})
}

// PathSessionID extracts and validates the {id} URL parameter.
func PathSessionID(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if id == "" {
		return "", fmt.Errorf("missing path parameter: id")
	}
	if !transcribe.ValidSessionID(id) {
		return "", fmt.Errorf("invalid session id %q", id)
	}
	return id, nil
}

// ParseRetries parses a max_retries value. Empty means "use the default" (0).
func ParseRetries(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid max_retries %q: must be an integer", v)
	}
	if n < 1 {
		return 0, fmt.Errorf("invalid max_retries %d: must be >= 1", n)
	}
	return n, nil
}

// ParseDelay parses a retry_delay value given either as a Go duration
// ("5s") or as whole seconds ("5"). Empty returns nil, meaning "use the
// default"; "0" asks for immediate retries.
func ParseDelay(v string) (*time.Duration, error) {
	if v == "" {
		return nil, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			return nil, fmt.Errorf("invalid retry_delay %d: must be >= 0", n)
		}
		d := time.Duration(n) * time.Second
		return &d, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return nil, fmt.Errorf("invalid retry_delay %q: use seconds or a duration like 5s", v)
	}
	if d < 0 {
		return nil, fmt.Errorf("invalid retry_delay %s: must be >= 0", d)
	}
	return &d, nil
}

// DecodeJSON reads and decodes a JSON request body into v.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("missing request body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}
