package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"tgview/pkg/tgview"
)

// statusFor maps one handler error onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tgview.ErrGroupNotFound),
		errors.Is(err, tgview.ErrMessageNotFound),
		errors.Is(err, tgview.ErrNoMedia):
		return http.StatusNotFound
	case errors.Is(err, tgview.ErrInvalidCursor),
		errors.Is(err, tgview.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, tgview.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, tgview.ErrMediaTooLarge):
		return http.StatusRequestEntityTooLarge
	}

	if typed, ok := tgview.AsError(err); ok {
		switch typed.Kind {
		case tgview.ErrorKindRateLimited:
			return http.StatusTooManyRequests
		case tgview.ErrorKindNotFound:
			return http.StatusNotFound
		case tgview.ErrorKindForbidden:
			return http.StatusForbidden
		case tgview.ErrorKindTemporary:
			return http.StatusBadGateway
		}
	}

	return http.StatusInternalServerError
}

// publicMessage is the user-facing description of err. Internal failures
// are not echoed back.
func publicMessage(status int, err error) string {
	switch status {
	case http.StatusServiceUnavailable:
		return "The Telegram session is not ready yet."
	case http.StatusTooManyRequests:
		return "Telegram is rate limiting requests. Try again shortly."
	case http.StatusInternalServerError, http.StatusBadGateway:
		return http.StatusText(status)
	}

	return err.Error()
}

func setRetryAfter(w http.ResponseWriter, err error) {
	delay, ok := tgview.AsRateLimit(err)
	if !ok {
		return
	}
	seconds := int(math.Ceil(delay.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
}

// writeError renders err as an HTML error page.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	s.logHandlerError(r, status, err)
	setRetryAfter(w, err)

	s.render(w, r, status, "error", errorPage{
		Status:    status,
		Title:     http.StatusText(status),
		Message:   publicMessage(status, err),
		LoginLink: status == http.StatusServiceUnavailable,
	})
}

// writeAPIError renders err as a JSON error document.
func (s *Server) writeAPIError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	s.logHandlerError(r, status, err)
	setRetryAfter(w, err)
	writeJSONError(w, status, publicMessage(status, err))
}

func (s *Server) logHandlerError(r *http.Request, status int, err error) {
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		level = slog.LevelError
	}
	s.cfg.logger.Log(r.Context(), level, "http handler failed",
		"request_id", requestIDFrom(r.Context()),
		"path", r.URL.Path,
		"status", status,
		"error", err,
	)
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
