package kernel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestRegisterValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		component Component
		wantErr   string
		wantIs    error
	}{
		{name: "valid", component: ComponentFunc("web", nil)},
		{name: "nil component", component: nil, wantErr: "nil component"},
		{name: "empty name", component: ComponentFunc("", nil), wantErr: "empty name"},
		{name: "duplicate", component: ComponentFunc("existing", nil), wantIs: ErrComponentAlreadyRegistered},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			kernelRuntime := newTestKernel()
			if err := kernelRuntime.Register(ComponentFunc("existing", nil)); err != nil {
				t.Fatalf("register existing failed: %v", err)
			}

			err := kernelRuntime.Register(testCase.component)
			switch {
			case testCase.wantErr != "":
				if err == nil || !strings.Contains(err.Error(), testCase.wantErr) {
					t.Fatalf("Register error = %v, want substring %q", err, testCase.wantErr)
				}
			case testCase.wantIs != nil:
				if !errors.Is(err, testCase.wantIs) {
					t.Fatalf("Register error = %v, want %v", err, testCase.wantIs)
				}
			case err != nil:
				t.Fatalf("Register failed: %v", err)
			}
		})
	}
}

func TestRunWithoutComponents(t *testing.T) {
	t.Parallel()

	if err := newTestKernel().Run(context.Background()); err == nil {
		t.Fatal("expected error with no components")
	}
}

func TestRunStopsOnCancelAndShutsDownInReverse(t *testing.T) {
	t.Parallel()

	recorder := &shutdownRecorder{}
	kernelRuntime := newTestKernel()
	var started atomic.Int32
	for _, name := range []string{"telegram", "media", "web"} {
		name := name
		component := ComponentWithShutdown(name, func(ctx context.Context) error {
			started.Add(1)
			<-ctx.Done()
			return ctx.Err()
		}, func(context.Context) error {
			recorder.record(name)
			return nil
		})
		if err := kernelRuntime.Register(component); err != nil {
			t.Fatalf("Register(%s) failed: %v", name, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() {
		runDone <- kernelRuntime.Run(ctx)
	}()

	waitFor(t, func() bool { return started.Load() == 3 })
	cancel()

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run error = %v, want nil on cancellation", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("kernel run did not exit")
	}

	if diff := cmp.Diff([]string{"web", "media", "telegram"}, recorder.names()); diff != "" {
		t.Fatalf("shutdown order mismatch (-want +got):\n%s", diff)
	}
}

func TestRunFirstFailureCancelsOthers(t *testing.T) {
	t.Parallel()

	failure := errors.New("listen tcp: address in use")
	var peerCanceled atomic.Bool
	kernelRuntime := newTestKernel()
	if err := kernelRuntime.Register(ComponentFunc("telegram", func(ctx context.Context) error {
		<-ctx.Done()
		peerCanceled.Store(true)
		return ctx.Err()
	})); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := kernelRuntime.Register(ComponentFunc("web", func(context.Context) error {
		return failure
	})); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	err := kernelRuntime.Run(context.Background())
	if !errors.Is(err, failure) {
		t.Fatalf("Run error = %v, want %v", err, failure)
	}
	if !strings.Contains(err.Error(), "component web Run") {
		t.Fatalf("Run error = %v, want component scope", err)
	}
	if !peerCanceled.Load() {
		t.Fatal("expected remaining component to observe cancellation")
	}
}

func TestRunConvertsPanics(t *testing.T) {
	t.Parallel()

	kernelRuntime := newTestKernel()
	if err := kernelRuntime.Register(ComponentFunc("janitor", func(context.Context) error {
		panic("boom")
	})); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	err := kernelRuntime.Run(context.Background())
	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("Run error = %v, want *PanicError", err)
	}
	if panicErr.Value != "boom" || len(panicErr.Stack) == 0 {
		t.Fatalf("panic error = %+v, want value boom with stack", panicErr)
	}
}

func TestRunJoinsShutdownErrors(t *testing.T) {
	t.Parallel()

	hookErr := errors.New("flush failed")
	kernelRuntime := newTestKernel()
	if err := kernelRuntime.Register(ComponentWithShutdown("media", func(context.Context) error {
		return nil
	}, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("shutdown context has no deadline")
		}
		return hookErr
	})); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := kernelRuntime.Run(ctx)
	if !errors.Is(err, hookErr) {
		t.Fatalf("Run error = %v, want %v", err, hookErr)
	}
	if !strings.Contains(err.Error(), "shutdown component media") {
		t.Fatalf("Run error = %v, want shutdown scope", err)
	}
}

func TestRunGivesUpOnStuckComponent(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	kernelRuntime := New(WithLogger(discardLogger()), WithShutdownTimeout(50*time.Millisecond))
	if err := kernelRuntime.Register(ComponentFunc("stuck", func(context.Context) error {
		<-release
		return nil
	})); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := kernelRuntime.Run(ctx)
	if err == nil || !strings.Contains(err.Error(), "did not stop") {
		t.Fatalf("Run error = %v, want stop timeout", err)
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	kernelRuntime := newTestKernel()
	started := make(chan struct{})
	if err := kernelRuntime.Register(ComponentFunc("web", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	})); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() {
		runDone <- kernelRuntime.Run(ctx)
	}()
	<-started

	if err := kernelRuntime.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("second Run error = %v, want already running", err)
	}

	cancel()
	if err := <-runDone; err != nil {
		t.Fatalf("Run error = %v", err)
	}
}

func newTestKernel() *Kernel {
	return New(WithLogger(discardLogger()), WithShutdownTimeout(time.Second))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type shutdownRecorder struct {
	mu    sync.Mutex
	order []string
}

func (r *shutdownRecorder) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, name)
}

func (r *shutdownRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}
