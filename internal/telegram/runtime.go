package telegram

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"golang.org/x/time/rate"
)

// Runtime owns the gotd client lifecycle and the gateway served on top of it.
type Runtime struct {
	cfg      Config
	logger   *slog.Logger
	client   *gotdtelegram.Client
	waiter   *floodwait.Waiter
	loggedIn qrlogin.LoggedIn
	login    *loginTracker
	gateway  *Gateway
	readCode func() (string, error)
}

// RuntimeOption mutates runtime construction settings.
type RuntimeOption func(*Runtime)

// WithLogger configures structured logging for the runtime and its gateway.
func WithLogger(logger *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRuntime builds the gotd client with session storage, flood-wait and rate
// limit middleware, and the gateway bound to it.
func NewRuntime(cfg Config, options ...RuntimeOption) (*Runtime, error) {
	runtime := &Runtime{
		cfg:    cfg,
		logger: slog.Default(),
		login:  newLoginTracker(),
	}
	for _, option := range options {
		option(runtime)
	}
	runtime.readCode = func() (string, error) {
		return telegramAuthCode(runtime.cfg.Code)
	}

	sessionStorage, err := newSessionStorage(cfg.SessionFile)
	if err != nil {
		return nil, fmt.Errorf("new telegram session storage: %w", err)
	}

	logger := runtime.logger
	runtime.waiter = floodwait.NewWaiter().
		WithMaxWait(cfg.FloodWaitMax).
		WithCallback(func(ctx context.Context, wait floodwait.FloodWait) {
			logger.WarnContext(ctx, "telegram flood wait", "wait", wait.Duration)
		})

	dispatcher := tg.NewUpdateDispatcher()
	runtime.loggedIn = qrlogin.OnLoginToken(dispatcher)

	runtime.client = gotdtelegram.NewClient(cfg.AppID, cfg.AppHash, gotdtelegram.Options{
		SessionStorage: sessionStorage,
		UpdateHandler:  dispatcher,
		Middlewares: []gotdtelegram.Middleware{
			runtime.waiter,
			ratelimit.New(rate.Every(cfg.RateLimit), cfg.RateBurst),
		},
	})

	gateway, err := NewGateway(
		newGotdGatewayRPC(runtime.client),
		NewPeerCache(),
		runtime.login,
		WithRPCTimeout(cfg.RPCTimeout),
		WithMaxItemBytes(cfg.MaxItemBytes),
		WithGatewayLogger(runtime.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("new telegram gateway: %w", err)
	}
	runtime.gateway = gateway

	return runtime, nil
}

// Gateway returns the messenger served by this runtime.
func (r *Runtime) Gateway() *Gateway {
	if r == nil {
		return nil
	}

	return r.gateway
}

// Run connects, authenticates and keeps the client alive until ctx is canceled.
//
// Authorization failures are published through the login status and do not
// stop the process; connection failures are returned.
func (r *Runtime) Run(ctx context.Context) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("run telegram runtime: nil client")
	}

	err := r.waiter.Run(ctx, func(ctx context.Context) error {
		return r.client.Run(ctx, func(runCtx context.Context) error {
			if err := r.authenticate(runCtx); err != nil {
				if runCtx.Err() != nil {
					return nil
				}
				r.login.fail(err)
				r.logger.ErrorContext(runCtx, "telegram authorization failed", "error", err)
				<-runCtx.Done()
				return nil
			}

			self, err := r.client.Self(runCtx)
			if err != nil {
				return fmt.Errorf("fetch self: %w", err)
			}
			r.login.ready(userDisplayName(self))
			r.logger.InfoContext(runCtx, "telegram session ready", "user_id", self.ID)

			<-runCtx.Done()
			return nil
		})
	})
	if err != nil && ctx.Err() == nil {
		r.login.fail(err)
		return fmt.Errorf("run telegram client: %w", err)
	}

	return nil
}

func (r *Runtime) authenticate(ctx context.Context) error {
	authCtx, cancel := context.WithTimeout(ctx, r.cfg.AuthTimeout)
	defer cancel()

	status, err := r.client.Auth().Status(authCtx)
	if err != nil {
		return fmt.Errorf("check auth status: %w", err)
	}
	if status.Authorized {
		r.logger.InfoContext(ctx, "telegram session restored from local storage", "session_file", r.cfg.SessionFile)
		return nil
	}

	switch r.cfg.AuthMode {
	case AuthModeQR:
		return r.authenticateQR(authCtx)
	default:
		return r.authenticateCode(authCtx)
	}
}

func (r *Runtime) authenticateCode(ctx context.Context) error {
	phone := strings.TrimSpace(r.cfg.Phone)
	if phone == "" {
		return fmt.Errorf("telegram phone number is required for code login; configure telegram.phone")
	}

	codeAuthenticator := auth.CodeAuthenticatorFunc(func(_ context.Context, _ *tg.AuthSentCode) (string, error) {
		r.login.awaitingCode()
		code, err := r.readCode()
		if err != nil {
			return "", fmt.Errorf("resolve login code: %w", err)
		}
		return code, nil
	})

	var authenticator auth.UserAuthenticator = auth.CodeOnly(phone, codeAuthenticator)
	if password := strings.TrimSpace(r.cfg.Password); password != "" {
		authenticator = auth.Constant(phone, password, codeAuthenticator)
	}

	flow := auth.NewFlow(authenticator, auth.SendCodeOptions{})
	if err := r.client.Auth().IfNecessary(ctx, flow); err != nil {
		return fmt.Errorf("authenticate user: %w", err)
	}
	r.logger.InfoContext(ctx, "telegram authorized with code flow", "session_file", r.cfg.SessionFile)

	return nil
}

func (r *Runtime) authenticateQR(ctx context.Context) error {
	_, err := r.client.QR().Auth(ctx, r.loggedIn, func(_ context.Context, token qrlogin.Token) error {
		dataURL, err := qrDataURL(token.URL())
		if err != nil {
			return err
		}
		r.login.awaitingQR(token.URL(), dataURL)
		r.logger.Info("telegram qr login token issued", "expires", token.Expires())
		return nil
	})
	if err != nil {
		if !isPasswordNeeded(err) {
			return fmt.Errorf("qr login: %w", err)
		}
		password := strings.TrimSpace(r.cfg.Password)
		if password == "" {
			return fmt.Errorf("qr login: account requires a password; configure telegram.password")
		}
		if _, err := r.client.Auth().Password(ctx, password); err != nil {
			return fmt.Errorf("qr login password: %w", err)
		}
	}
	r.logger.InfoContext(ctx, "telegram authorized with qr flow", "session_file", r.cfg.SessionFile)

	return nil
}

func isPasswordNeeded(err error) bool {
	return errors.Is(err, auth.ErrPasswordAuthNeeded) || tgerr.Is(err, "SESSION_PASSWORD_NEEDED")
}

func newSessionStorage(path string) (*session.FileStorage, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return nil, fmt.Errorf("empty session file path")
	}

	absPath, err := filepath.Abs(trimmedPath)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute session file path: %w", err)
	}
	sessionDir := filepath.Dir(absPath)
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("create session directory %s: %w", sessionDir, err)
	}

	return &session.FileStorage{Path: absPath}, nil
}

func telegramAuthCode(configuredCode string) (string, error) {
	if code := strings.TrimSpace(configuredCode); code != "" {
		return code, nil
	}

	stdinInfo, err := os.Stdin.Stat()
	if err != nil {
		return "", fmt.Errorf("read stdin status: %w", err)
	}
	if stdinInfo.Mode()&os.ModeCharDevice == 0 {
		return "", fmt.Errorf("telegram.code is empty and stdin is not interactive")
	}

	fmt.Fprint(os.Stdout, "Enter Telegram login code: ")
	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read login code: %w", err)
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("empty login code")
	}

	return code, nil
}
