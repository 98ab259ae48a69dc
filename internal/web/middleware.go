package web

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	requestIDHeader   = "X-Request-ID"
	sessionCookieName = "tgview_session"
	sessionLifetime   = 7 * 24 * time.Hour
)

type requestIDKey struct{}

// requestIDFrom returns the id assigned by withRequestID.
func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	written, err := r.ResponseWriter.Write(data)
	r.bytes += written

	return written, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func withAccessLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.LogAttrs(r.Context(), level, "http request",
			slog.String("request_id", requestIDFrom(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Int("bytes", recorder.bytes),
			slog.Duration("duration", time.Since(started)),
		)
	})
}

func withRecover(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}
			logger.Error("http handler panic",
				"request_id", requestIDFrom(r.Context()),
				"path", r.URL.Path,
				"panic", fmt.Sprint(recovered),
				"stack", string(debug.Stack()),
			)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

func withTimeout(timeout time.Duration, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// accessGuard gates every page behind a shared password. A zero guard lets
// everything through.
type accessGuard struct {
	password string
	key      []byte
	now      func() time.Time
}

func newAccessGuard(password string) (*accessGuard, error) {
	guard := &accessGuard{password: password, now: time.Now}
	if password == "" {
		return guard, nil
	}

	guard.key = make([]byte, 32)
	if _, err := rand.Read(guard.key); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}

	return guard, nil
}

func (g *accessGuard) enabled() bool {
	return g.password != ""
}

func (g *accessGuard) checkPassword(candidate string) bool {
	want := sha256.Sum256([]byte(g.password))
	got := sha256.Sum256([]byte(candidate))

	return subtle.ConstantTimeCompare(want[:], got[:]) == 1
}

// issue returns a cookie value of the form "<unix expiry>.<hex hmac>".
func (g *accessGuard) issue() (string, time.Time) {
	expires := g.now().Add(sessionLifetime)
	payload := fmt.Sprintf("%d", expires.Unix())

	return payload + "." + g.sign(payload), expires
}

func (g *accessGuard) valid(value string) bool {
	payload, signature, ok := strings.Cut(value, ".")
	if !ok {
		return false
	}
	if !hmac.Equal([]byte(signature), []byte(g.sign(payload))) {
		return false
	}

	var expires int64
	if _, err := fmt.Sscanf(payload, "%d", &expires); err != nil {
		return false
	}

	return g.now().Unix() < expires
}

func (g *accessGuard) sign(payload string) string {
	mac := hmac.New(sha256.New, g.key)
	mac.Write([]byte(payload))

	return hex.EncodeToString(mac.Sum(nil))
}

func (g *accessGuard) middleware(next http.Handler) http.Handler {
	if !g.enabled() {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/session" || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		if cookie, err := r.Cookie(sessionCookieName); err == nil && g.valid(cookie.Value) {
			next.ServeHTTP(w, r)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/api/") {
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		http.Redirect(w, r, "/session?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
	})
}
