// Package web serves the browser front end over a tgview.Messenger.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"tgview/internal/cache"
	"tgview/pkg/tgview"
)

const (
	defaultListenAddr        = "127.0.0.1:8080"
	defaultReadHeaderTimeout = 10 * time.Second
	defaultRequestTimeout    = time.Minute
	defaultShutdownTimeout   = 5 * time.Second
	defaultPageSize          = 50
	defaultMaxPageSize       = 200
	defaultMaxUploadBytes    = 10 * 1024 * 1024
	defaultAvatarWorkers     = 4
)

// Summarizer condenses one page of messages into a short digest.
type Summarizer interface {
	Summarize(ctx context.Context, group tgview.Group, messages []tgview.Message) (string, error)
}

// Server renders groups, messages, members and media over HTTP.
type Server struct {
	cfg       serverConfig
	messenger tgview.Messenger
	groups    *cache.GroupCache
	media     *cache.MediaCache
	photos    *cache.PhotoCache
	pages     *pageSet
	guard     *accessGuard
	handler   http.Handler
}

type serverConfig struct {
	listenAddr        string
	readHeaderTimeout time.Duration
	requestTimeout    time.Duration
	pageSize          int
	maxPageSize       int
	maxUploadBytes    int64
	accessPassword    string
	summarizer        Summarizer
	logger            *slog.Logger
}

// Option mutates server configuration.
type Option func(*serverConfig)

// WithListenAddr sets the TCP address served by Run.
func WithListenAddr(addr string) Option {
	return func(cfg *serverConfig) {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			cfg.listenAddr = trimmed
		}
	}
}

// WithReadHeaderTimeout bounds how long a client may take to send headers.
func WithReadHeaderTimeout(timeout time.Duration) Option {
	return func(cfg *serverConfig) {
		if timeout > 0 {
			cfg.readHeaderTimeout = timeout
		}
	}
}

// WithRequestTimeout bounds handler work per request.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(cfg *serverConfig) {
		if timeout > 0 {
			cfg.requestTimeout = timeout
		}
	}
}

// WithPageSize sets the default and maximum number of items per page.
func WithPageSize(pageSize int, maxPageSize int) Option {
	return func(cfg *serverConfig) {
		if pageSize > 0 {
			cfg.pageSize = pageSize
		}
		if maxPageSize > 0 {
			cfg.maxPageSize = maxPageSize
		}
		if cfg.pageSize > cfg.maxPageSize {
			cfg.pageSize = cfg.maxPageSize
		}
	}
}

// WithMaxUploadBytes caps browser uploads.
func WithMaxUploadBytes(limit int64) Option {
	return func(cfg *serverConfig) {
		if limit > 0 {
			cfg.maxUploadBytes = limit
		}
	}
}

// WithAccessPassword protects every page behind a shared password.
func WithAccessPassword(password string) Option {
	return func(cfg *serverConfig) {
		cfg.accessPassword = password
	}
}

// WithSummarizer enables the digest action.
func WithSummarizer(summarizer Summarizer) Option {
	return func(cfg *serverConfig) {
		cfg.summarizer = summarizer
	}
}

// WithLogger configures structured logging.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *serverConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// NewServer creates a web server over messenger and the shared caches.
func NewServer(
	messenger tgview.Messenger,
	groups *cache.GroupCache,
	media *cache.MediaCache,
	photos *cache.PhotoCache,
	options ...Option,
) (*Server, error) {
	if messenger == nil {
		return nil, fmt.Errorf("new web server: nil messenger")
	}
	if groups == nil {
		return nil, fmt.Errorf("new web server: nil group cache")
	}
	if media == nil {
		return nil, fmt.Errorf("new web server: nil media cache")
	}
	if photos == nil {
		return nil, fmt.Errorf("new web server: nil photo cache")
	}

	cfg := serverConfig{
		listenAddr:        defaultListenAddr,
		readHeaderTimeout: defaultReadHeaderTimeout,
		requestTimeout:    defaultRequestTimeout,
		pageSize:          defaultPageSize,
		maxPageSize:       defaultMaxPageSize,
		maxUploadBytes:    defaultMaxUploadBytes,
		logger:            slog.Default(),
	}
	for _, option := range options {
		option(&cfg)
	}

	pages, err := parsePages()
	if err != nil {
		return nil, fmt.Errorf("new web server: %w", err)
	}
	guard, err := newAccessGuard(cfg.accessPassword)
	if err != nil {
		return nil, fmt.Errorf("new web server: %w", err)
	}

	server := &Server{
		cfg:       cfg,
		messenger: messenger,
		groups:    groups,
		media:     media,
		photos:    photos,
		pages:     pages,
		guard:     guard,
	}
	server.handler = server.routes()

	return server, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves HTTP on the configured address until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.listenAddr, err)
	}

	return s.Serve(ctx, listener)
}

// Serve serves HTTP on listener until ctx is canceled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.readHeaderTimeout,
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
		ErrorLog: slog.NewLogLogger(s.cfg.logger.Handler(), slog.LevelWarn),
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()
	s.cfg.logger.Info("web server listening", "addr", listener.Addr().String())

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}

	return nil
}
