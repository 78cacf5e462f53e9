package coc

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds returned by the client. Callers match them with errors.Is.
var (
	// ErrInvalidTag means the tag can never exist. No request is made.
	ErrInvalidTag = errors.New("invalid tag")
	// ErrNotFound means the entity does not exist upstream (404)
	ErrNotFound = errors.New("not found")
	// ErrAccessDenied means the entity exists but is private, e.g. a hidden war log
	ErrAccessDenied = errors.New("access denied")
	// ErrTransient covers rate limits, gateway errors, timeouts and an open breaker
	ErrTransient = errors.New("transient API failure")
	// ErrMaintenance means the API is down for a maintenance window
	ErrMaintenance = errors.New("API in maintenance")
)

// APIError describes a non-200 response
type APIError struct {
	Endpoint string
	Status   int
	Reason   string
	Message  string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %d %s (%s)", e.Endpoint, e.Status, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %d %s", e.Endpoint, e.Status, e.Reason)
}

// Unwrap exposes the error kind. Responses without a kind (bad token,
// unknown status) unwrap to nil and are treated as unexpected.
func (e *APIError) Unwrap() error {
	return classify(e.Status, e.Reason)
}

// errorBody is the JSON body the API sends with error responses
type errorBody struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// classify maps a status code and reason to an error kind
func classify(status int, reason string) error {
	switch status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusForbidden:
		// accessDenied.invalidIp and friends are credential problems
		if reason == "accessDenied" || reason == "" {
			return ErrAccessDenied
		}
		return nil
	case http.StatusServiceUnavailable:
		return ErrMaintenance
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout,
		http.StatusRequestTimeout:
		return ErrTransient
	default:
		return nil
	}
}

// Kind returns a short label for err, used in logs and metrics
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidTag):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAccessDenied):
		return "denied"
	case errors.Is(err, ErrMaintenance):
		return "maintenance"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "unexpected"
	}
}
