// Copyright 2026 The ProbeFilters Authors
// SPDX-License-Identifier: Apache-2.0

package atlas

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError represents a failure talking to the RIPE Atlas REST API.
type APIError struct {
	Type    ErrorType
	Message string
	Err     error
}

// ErrorType classifies Atlas API failures.
type ErrorType int

const (
	// ErrorTypeUnknown is anything we could not classify.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeRateLimit means the API throttled us (HTTP 429).
	ErrorTypeRateLimit
	// ErrorTypeQuotaExceeded means the key ran out of quota or lacks permission.
	ErrorTypeQuotaExceeded
	// ErrorTypeTimeout means the request deadline expired.
	ErrorTypeTimeout
	// ErrorTypeNotFound means the resource does not exist (unknown probe id).
	ErrorTypeNotFound
	// ErrorTypeInvalidRequest means the API rejected our parameters.
	ErrorTypeInvalidRequest
	// ErrorTypeServerError means the API answered with a 5xx.
	ErrorTypeServerError
	// ErrorTypeNetwork means the request never completed.
	ErrorTypeNetwork
)

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsRateLimitError reports whether the error is an API rate limit.
func IsRateLimitError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Type == ErrorTypeRateLimit
	}

	// Fall back to common wording from transports and proxies.
	errStr := strings.ToLower(err.Error())

	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429")
}

// IsTimeoutError reports whether the error is a timeout.
func IsTimeoutError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Type == ErrorTypeTimeout
	}

	errStr := strings.ToLower(err.Error())

	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

// IsNotFoundError reports whether the error means the resource does not exist.
func IsNotFoundError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Type == ErrorTypeNotFound
	}

	return false
}

// IsRetryable reports whether a request that failed this way is worth
// repeating. Client mistakes (bad parameters, unknown ids) are not.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Type {
		case ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeServerError, ErrorTypeNetwork:
			return true
		default:
			return false
		}
	}

	return IsRateLimitError(err) || IsTimeoutError(err)
}

// ClassifyHTTPError turns an HTTP status into a typed API error. A non-empty
// detail (the API's error body) is carried into the message.
func ClassifyHTTPError(statusCode int, detail string) *APIError {
	apiErr := &APIError{}

	switch statusCode {
	case http.StatusTooManyRequests: // 429
		apiErr.Type = ErrorTypeRateLimit
		apiErr.Message = "rate limit reached"
	case http.StatusForbidden: // 403
		apiErr.Type = ErrorTypeQuotaExceeded
		apiErr.Message = "quota exceeded or access denied"
	case http.StatusBadRequest: // 400
		apiErr.Type = ErrorTypeInvalidRequest
		apiErr.Message = "invalid request"
	case http.StatusNotFound: // 404
		apiErr.Type = ErrorTypeNotFound
		apiErr.Message = "resource not found"
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		apiErr.Type = ErrorTypeServerError
		apiErr.Message = fmt.Sprintf("service unavailable (status %d)", statusCode)
	default:
		apiErr.Type = ErrorTypeUnknown
		apiErr.Message = fmt.Sprintf("HTTP error %d", statusCode)
	}

	if detail != "" {
		apiErr.Message = fmt.Sprintf("%s: %s", apiErr.Message, detail)
	}

	return apiErr
}
