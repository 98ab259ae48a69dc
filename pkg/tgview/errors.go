package tgview

import "errors"

var (
	// ErrGroupNotFound indicates that a group id is not part of the account's dialogs.
	ErrGroupNotFound = errors.New("tgview: group not found")
	// ErrMessageNotFound indicates that a message id does not exist in a group.
	ErrMessageNotFound = errors.New("tgview: message not found")
	// ErrNoMedia indicates that a message or user has no downloadable media.
	ErrNoMedia = errors.New("tgview: no downloadable media")
	// ErrMediaTooLarge indicates that a media item exceeds the per-item size limit.
	ErrMediaTooLarge = errors.New("tgview: media exceeds size limit")
	// ErrInvalidCursor indicates a malformed or mismatched pagination token.
	ErrInvalidCursor = errors.New("tgview: invalid page cursor")
	// ErrNotReady indicates that the Telegram session is not connected or authorized yet.
	ErrNotReady = errors.New("tgview: telegram session not ready")
	// ErrInvalidRequest indicates that caller input does not satisfy an operation contract.
	ErrInvalidRequest = errors.New("tgview: invalid request")
)
