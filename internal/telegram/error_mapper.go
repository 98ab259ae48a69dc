package telegram

import (
	"context"
	"errors"
	"strings"

	"tgview/pkg/tgview"

	"github.com/gotd/td/tgerr"
)

// mapTelegramError wraps client failures into structured tgview errors.
//
// Sentinel errors raised locally pass through untouched so handlers can keep
// matching them with errors.Is.
func mapTelegramError(operation tgview.Operation, err error) error {
	if err == nil {
		return nil
	}
	if isLocalError(err) {
		return err
	}

	mapped := &tgview.Error{
		Operation: operation,
		Kind:      tgview.ErrorKindUnknown,
		Cause:     err,
	}

	if retryAfter, ok := tgerr.AsFloodWait(err); ok {
		mapped.Kind = tgview.ErrorKindRateLimited
		mapped.RetryAfter = retryAfter
		if rpcErr, hasRPC := tgerr.As(err); hasRPC {
			mapped.Code = rpcErr.Code
			mapped.Type = rpcErr.Type
		}

		return mapped
	}

	rpcErr, ok := tgerr.As(err)
	if !ok {
		if errors.Is(err, context.DeadlineExceeded) {
			mapped.Kind = tgview.ErrorKindTemporary
		}
		return mapped
	}

	mapped.Code = rpcErr.Code
	mapped.Type = rpcErr.Type
	mapped.Kind = classifyRPCError(rpcErr)

	return mapped
}

func isLocalError(err error) bool {
	for _, sentinel := range []error{
		tgview.ErrGroupNotFound,
		tgview.ErrMessageNotFound,
		tgview.ErrNoMedia,
		tgview.ErrMediaTooLarge,
		tgview.ErrNotReady,
		tgview.ErrInvalidRequest,
		context.Canceled,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}

	return false
}

func classifyRPCError(rpcErr *tgerr.Error) tgview.ErrorKind {
	if rpcErr == nil {
		return tgview.ErrorKindUnknown
	}

	errorType := strings.ToUpper(strings.TrimSpace(rpcErr.Type))
	if rpcErr.Code == 420 || rpcErr.Code == 429 || strings.Contains(errorType, "FLOOD") {
		return tgview.ErrorKindRateLimited
	}
	if strings.Contains(errorType, "PRIVATE") ||
		strings.Contains(errorType, "FORBIDDEN") ||
		strings.Contains(errorType, "ADMIN_REQUIRED") {
		return tgview.ErrorKindForbidden
	}

	switch rpcErr.Code {
	case 303:
		return tgview.ErrorKindTemporary
	case 401, 403:
		return tgview.ErrorKindForbidden
	case 400, 404:
		if strings.HasSuffix(errorType, "_INVALID") ||
			strings.HasSuffix(errorType, "_EMPTY") ||
			strings.Contains(errorType, "NOT_FOUND") {
			return tgview.ErrorKindNotFound
		}
		return tgview.ErrorKindUnknown
	}
	if rpcErr.Code >= 500 {
		return tgview.ErrorKindTemporary
	}

	return tgview.ErrorKindUnknown
}

func isFileReferenceError(err error) bool {
	return tgerr.Is(err, "FILE_REFERENCE_EXPIRED", "FILE_REFERENCE_INVALID", "FILE_REFERENCE_EMPTY")
}
