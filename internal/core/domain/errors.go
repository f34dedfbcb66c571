package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrUnexpectedStatus = errors.New("unexpected http status")
	ErrNoTokens         = errors.New("no valid tokens found")
	ErrAccountNotFound  = errors.New("account not found")
	ErrStatsNotReady    = errors.New("statistics not generated yet")
)

// APIError is returned for any non-2xx response of the remote API.
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Operation, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	return ErrUnexpectedStatus
}
