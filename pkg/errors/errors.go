package errors

import (
	stderrors "errors"
	"fmt"
)

// Error codes. Upstream (PA-API / marketplace) failures live in the 70010+ range,
// local failures below it.
const (
	CodeValidation        = 70001
	CodeAuthentication    = 70002
	CodeClientError       = 70003
	CodeNotFound          = 70006
	CodeTransient         = 70010
	CodeUnavailable       = 70011
	CodeRateLimited       = 70012
	CodeMalformedResponse = 70020
	CodeRetriesExhausted  = 70021
	CodeInternal          = 70030
)

type DomainError struct {
	Code      int
	Message   string
	Details   string
	Retryable bool
	// Status is the upstream HTTP status, 0 when no response was received.
	Status int
	// Body is the raw upstream response body kept for diagnosis.
	Body  string
	Cause error
}

func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%d] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

func (e *DomainError) WithRetryable(retryable bool) *DomainError {
	e.Retryable = retryable
	return e
}

func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

func (e *DomainError) WithStatus(status int) *DomainError {
	e.Status = status
	return e
}

func (e *DomainError) WithBody(body []byte) *DomainError {
	e.Body = string(body)
	return e
}

func NewDomainError(code int, message, details string) *DomainError {
	return &DomainError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: false,
	}
}

func WrapDomainError(err error, code int, message, details string) *DomainError {
	return &DomainError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: false,
		Cause:     err,
	}
}

// NewRateLimitError reports an HTTP 429 from the upstream API.
func NewRateLimitError(body []byte) *DomainError {
	return NewDomainError(CodeRateLimited, "rate limited", "upstream returned 429").
		WithStatus(429).
		WithBody(body).
		WithRetryable(true)
}

// NewTransientNetworkError reports a 5xx response (status > 0) or a transport
// failure (status == 0, cause set).
func NewTransientNetworkError(status int, body []byte, cause error) *DomainError {
	details := "transport failure"
	if status > 0 {
		details = fmt.Sprintf("upstream returned %d", status)
	}
	return WrapDomainError(cause, CodeTransient, "transient upstream failure", details).
		WithStatus(status).
		WithBody(body).
		WithRetryable(true)
}

// NewAuthenticationError reports a rejected signature or credentials (401/403).
func NewAuthenticationError(status int, body []byte) *DomainError {
	return NewDomainError(CodeAuthentication, "authentication rejected", fmt.Sprintf("upstream returned %d", status)).
		WithStatus(status).
		WithBody(body)
}

func NewClientError(status int, body []byte) *DomainError {
	return NewDomainError(CodeClientError, "request rejected", fmt.Sprintf("upstream returned %d", status)).
		WithStatus(status).
		WithBody(body)
}

func NewMalformedResponseError(body []byte, cause error) *DomainError {
	return WrapDomainError(cause, CodeMalformedResponse, "malformed response", "response body is not valid search result json").
		WithBody(body)
}

// NewExhaustedRetriesError wraps the last underlying error after all attempts
// have been consumed.
func NewExhaustedRetriesError(attempts int, last error) *DomainError {
	e := WrapDomainError(last, CodeRetriesExhausted, "retries exhausted", fmt.Sprintf("failed after %d attempts", attempts))
	var de *DomainError
	if stderrors.As(last, &de) {
		e.Status = de.Status
		e.Body = de.Body
	}
	return e
}

func IsDomainError(err error) bool {
	var de *DomainError
	return stderrors.As(err, &de)
}

// HasCode reports whether err is, or wraps, a DomainError with the given code.
func HasCode(err error, code int) bool {
	for err != nil {
		if de, ok := err.(*DomainError); ok && de.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

func IsRetryable(err error) bool {
	var de *DomainError
	if !stderrors.As(err, &de) {
		return false
	}
	return de.Retryable
}

func GetHTTPStatus(err error) int {
	var domainErr *DomainError
	if !stderrors.As(err, &domainErr) {
		return 500
	}

	switch domainErr.Code {
	case CodeValidation:
		return 400
	case CodeNotFound:
		return 404
	case CodeRateLimited:
		return 429
	case CodeAuthentication, CodeClientError, CodeTransient, CodeUnavailable, CodeMalformedResponse, CodeRetriesExhausted:
		return 502
	default:
		return 500
	}
}

// PublicMessage returns the outermost DomainError message, safe to show to end
// users. Upstream bodies and causes are never included.
func PublicMessage(err error) string {
	var de *DomainError
	if !stderrors.As(err, &de) {
		return "internal error"
	}
	return de.Message
}
