package tgview

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Operation identifies one Messenger operation in structured errors.
type Operation string

const (
	// OperationSelf identifies Self calls.
	OperationSelf Operation = "self"
	// OperationListGroups identifies ListGroups calls.
	OperationListGroups Operation = "list_groups"
	// OperationHistory identifies History calls.
	OperationHistory Operation = "history"
	// OperationMembers identifies Members calls.
	OperationMembers Operation = "members"
	// OperationDownloadMedia identifies DownloadMedia calls.
	OperationDownloadMedia Operation = "download_media"
	// OperationProfilePhoto identifies ProfilePhoto calls.
	OperationProfilePhoto Operation = "profile_photo"
	// OperationSendText identifies SendText calls.
	OperationSendText Operation = "send_text"
	// OperationSendFile identifies SendFile calls.
	OperationSendFile Operation = "send_file"
)

// ErrorKind describes coarse-grained upstream failure classification.
type ErrorKind string

const (
	// ErrorKindRateLimited indicates Telegram flood control.
	ErrorKindRateLimited ErrorKind = "rate_limited"
	// ErrorKindNotFound indicates the addressed object does not exist or is not visible.
	ErrorKindNotFound ErrorKind = "not_found"
	// ErrorKindForbidden indicates the account lacks rights for the operation.
	ErrorKindForbidden ErrorKind = "forbidden"
	// ErrorKindTemporary indicates retryable transient failure.
	ErrorKindTemporary ErrorKind = "temporary"
	// ErrorKindUnknown indicates unclassified failure.
	ErrorKindUnknown ErrorKind = "unknown"
)

// Error carries structured metadata for one failed Telegram call.
type Error struct {
	// Operation identifies which Messenger operation failed.
	Operation Operation
	// Kind classifies whether and how callers should retry.
	Kind ErrorKind
	// RetryAfter carries the flood-wait delay for rate-limited failures when known.
	RetryAfter time.Duration
	// Code carries the RPC error code when known.
	Code int
	// Type carries the RPC error type token when known.
	Type string
	// Cause is the wrapped client error.
	Cause error
}

// Error returns one operator-readable failure summary.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	fields := make([]string, 0, 5)
	if operation := strings.TrimSpace(string(e.Operation)); operation != "" {
		fields = append(fields, "operation="+operation)
	}
	if kind := strings.TrimSpace(string(e.Kind)); kind != "" {
		fields = append(fields, "kind="+kind)
	}
	if e.RetryAfter > 0 {
		fields = append(fields, "retry_after="+e.RetryAfter.String())
	}
	if e.Code != 0 {
		fields = append(fields, fmt.Sprintf("code=%d", e.Code))
	}
	if errorType := strings.TrimSpace(e.Type); errorType != "" {
		fields = append(fields, "type="+errorType)
	}

	summary := "telegram error"
	if len(fields) > 0 {
		summary += ": " + strings.Join(fields, " ")
	}
	if e.Cause == nil {
		return summary
	}

	return summary + ": " + e.Cause.Error()
}

// Unwrap returns the wrapped root cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// AsError extracts one Error from wrapped error chains.
func AsError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}

	return nil, false
}

// AsRateLimit extracts the retry delay from rate-limited errors.
//
// It returns `(0, false)` if err is not classified as rate-limited.
// It returns `(0, true)` when rate-limited but no retry-after hint is known.
func AsRateLimit(err error) (time.Duration, bool) {
	typed, ok := AsError(err)
	if !ok || typed == nil || typed.Kind != ErrorKindRateLimited {
		return 0, false
	}

	return typed.RetryAfter, true
}
