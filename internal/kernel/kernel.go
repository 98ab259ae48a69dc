// Package kernel supervises the long-running components of the process.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Kernel runs registered components concurrently and tears them down together.
type Kernel struct {
	cfg config

	mu         sync.RWMutex
	components []Component
	names      map[string]struct{}

	runMu   sync.Mutex
	running bool
}

// New creates a new kernel.
func New(options ...Option) *Kernel {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	return &Kernel{
		cfg:   cfg,
		names: make(map[string]struct{}),
	}
}

// Register adds one component. Components start in registration order and
// shut down in reverse order.
func (k *Kernel) Register(component Component) error {
	if component == nil {
		return fmt.Errorf("register component: nil component")
	}
	name := component.Name()
	if name == "" {
		return fmt.Errorf("register component: empty name")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.names[name]; exists {
		return fmt.Errorf("register component %s: %w", name, ErrComponentAlreadyRegistered)
	}
	k.names[name] = struct{}{}
	k.components = append(k.components, component)

	return nil
}

// Run starts every component and blocks until ctx is canceled or one component
// fails. A failure cancels the remaining components. Shutdown hooks always run.
func (k *Kernel) Run(ctx context.Context) error {
	if err := k.startRun(); err != nil {
		return err
	}
	defer k.finishRun()

	k.mu.RLock()
	components := append([]Component(nil), k.components...)
	k.mu.RUnlock()
	if len(components) == 0 {
		return fmt.Errorf("kernel run: no components registered")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, component := range components {
		component := component
		group.Go(func() error {
			k.cfg.logger.InfoContext(groupCtx, "component started", "component", component.Name())
			err := runSafely("component "+component.Name()+" Run", func() error {
				return component.Run(groupCtx)
			})
			if err != nil && !isContextCancellation(err) {
				k.cfg.logger.ErrorContext(groupCtx, "component failed", "component", component.Name(), "error", err)
				return err
			}
			k.cfg.logger.InfoContext(groupCtx, "component stopped", "component", component.Name())
			return nil
		})
	}

	runErr := k.wait(groupCtx, group)
	shutdownErr := k.shutdownAll(ctx, components)

	return errors.Join(runErr, shutdownErr)
}

// wait blocks for all components. Once the group context is done, components
// get shutdownTimeout to return before Run gives up on them.
func (k *Kernel) wait(groupCtx context.Context, group *errgroup.Group) error {
	done := make(chan error, 1)
	go func() {
		done <- group.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-groupCtx.Done():
	}

	timer := time.NewTimer(k.cfg.shutdownTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("kernel run: components did not stop within %s", k.cfg.shutdownTimeout)
	}
}

// startRun serializes Run invocations and rejects concurrent starts.
func (k *Kernel) startRun() error {
	k.runMu.Lock()
	defer k.runMu.Unlock()

	if k.running {
		return fmt.Errorf("kernel run: already running")
	}
	k.running = true

	return nil
}

func (k *Kernel) finishRun() {
	k.runMu.Lock()
	k.running = false
	k.runMu.Unlock()
}

// shutdownAll runs Shutdown hooks in reverse registration order. It uses
// WithoutCancel so cleanup still runs after parent cancellation.
func (k *Kernel) shutdownAll(ctx context.Context, components []Component) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for idx := len(components) - 1; idx >= 0; idx-- {
		component := components[idx]
		shutdowner, ok := component.(Shutdowner)
		if !ok {
			continue
		}
		err := runSafely("component "+component.Name()+" Shutdown", func() error {
			return shutdowner.Shutdown(shutdownCtx)
		})
		if err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown component %s: %w", component.Name(), err))
		}
	}

	if shutdownErr != nil {
		return fmt.Errorf("kernel shutdown: %w", shutdownErr)
	}

	return nil
}

// isContextCancellation reports whether err is a context-driven termination signal.
func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
