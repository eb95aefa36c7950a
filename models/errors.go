package models

import (
	"errors"
	"fmt"
)

// Error codes used in job records, API responses and internal error handling.
const (
	ErrCodeProxyExhausted   = "PROXY_EXHAUSTED"
	ErrCodeNavTimeout       = "NAV_TIMEOUT"
	ErrCodeNavBlocked       = "NAV_BLOCKED"
	ErrCodeNavNetwork       = "NAV_NETWORK"
	ErrCodeScript           = "EVAL_SCRIPT_ERROR"
	ErrCodeExtraction       = "EXTRACTION_FAILED"
	ErrCodeExhaustedRetries = "EXHAUSTED_RETRIES"
	ErrCodeBrowserLaunch    = "BROWSER_LAUNCH_FAILED"
	ErrCodeCanceled         = "JOB_CANCELED"
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeInternal         = "INTERNAL_ERROR"

	// Enrichment collaborator error codes.
	ErrCodeEnrichFailure     = "ENRICH_FAILURE"
	ErrCodeEnrichAuthFailure = "ENRICH_AUTH_FAILURE"
	ErrCodeEnrichRateLimited = "ENRICH_RATE_LIMITED"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CrawlError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type CrawlError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *CrawlError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CrawlError) Unwrap() error {
	return e.Err
}

// NewCrawlError creates a new CrawlError.
func NewCrawlError(code, message string, err error) *CrawlError {
	return &CrawlError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *CrawlError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// CodeOf returns the code of the first CrawlError in err's chain, or
// ErrCodeInternal when there is none.
func CodeOf(err error) string {
	var ce *CrawlError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeInternal
}

// Retryable reports whether a failure with the given code may succeed on a
// fresh attempt with a different proxy and browser.
func Retryable(code string) bool {
	switch code {
	case ErrCodeNavTimeout, ErrCodeNavBlocked, ErrCodeNavNetwork, ErrCodeScript, ErrCodeExtraction:
		return true
	}
	return false
}
