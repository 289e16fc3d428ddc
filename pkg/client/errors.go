package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the fetcher.
var (
	// ErrRetryExhausted is returned when a window keeps failing with a
	// retryable class after the configured number of retries.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrUnauthorized is returned when a window is rejected again after one
	// token refresh.
	ErrUnauthorized = errors.New("unauthorized after token refresh")

	// ErrContextCancelled is returned when the run is cancelled mid-fetch.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrTooManyTransitions guards the retry state machine.
	ErrTooManyTransitions = errors.New("retry state machine exceeded its transition bound")
)

// ErrorClass represents a classification of fetch failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx errors other than 401 and 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassUnauthorized represents 401 responses.
	ErrorClassUnauthorized ErrorClass = "unauthorized"

	// ErrorClassNetwork represents transport errors and request timeouts.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents a malformed response body.
	ErrorClassDecode ErrorClass = "decode"
)

// APIError describes a failed call to the search endpoint.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("offers API %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("offers API %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// ClassOf returns the class carried by err, or "" when err is not an *APIError.
func ClassOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	return ""
}

// shouldRetry reports whether a class is retried with backoff.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassRateLimit, ErrorClassServer, ErrorClassNetwork:
		return true
	default:
		// client and decode errors are permanent for the window;
		// unauthorized goes through the token refresh path instead.
		return false
	}
}

// classifyStatus maps an HTTP status to an ErrorClass; "" means success.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == 401:
		return ErrorClassUnauthorized
	case status == 429:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	case status >= 400:
		return ErrorClassClient
	case status >= 200 && status < 300:
		return ""
	default:
		return ErrorClassClient
	}
}
