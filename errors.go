package goSession

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrInvalidCredentials is returned by Login when the server rejects the submitted secrets.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidServerResponse is returned when a success response lacks a usable access credential.
	ErrInvalidServerResponse = errors.New("invalid server response")
	// ErrRenewalFailed is returned by Renew and by requests waiting on a failed renewal.
	ErrRenewalFailed = errors.New("session renewal failed")
	// ErrNetwork wraps transport-level failures where no response was received.
	ErrNetwork = errors.New("network failure")
	// ErrUnauthorized is returned when a request is rejected and cannot be recovered by renewal.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPersistence is returned when the durable record could not be updated.
	// The in-memory session remains authoritative.
	ErrPersistence = errors.New("session persistence failed")
	// ErrStoreUnavailable is returned by Build when the durable record cannot be read.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrClientNotReady is returned by methods called on a nil or unbuilt client.
	ErrClientNotReady = errors.New("client not initialized")

	// errSessionChanged marks a renewal whose result was discarded because the
	// session no longer held the credential it renewed.
	errSessionChanged = errors.New("session changed during renewal")
)

// APIError describes a non-success response from the remote API.
//
// It is surfaced unchanged to callers of Register, and wrapped by the sentinel
// errors of Login and Renew.
type APIError struct {
	StatusCode int
	Detail     string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Conflict reports whether the server rejected the request as a duplicate.
func (e *APIError) Conflict() bool {
	return e.StatusCode == http.StatusConflict
}

// Validation reports whether the server rejected the request payload.
func (e *APIError) Validation() bool {
	return e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnprocessableEntity
}

// newAPIError reads FastAPI-style {"detail": ...} bodies; detail may be a
// string or a list of validation objects carrying "msg".
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: body}

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return apiErr
	}

	var text string
	if err := json.Unmarshal(payload.Detail, &text); err == nil {
		apiErr.Detail = text
		return apiErr
	}

	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(payload.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		apiErr.Detail = strings.Join(msgs, "; ")
	}
	return apiErr
}
