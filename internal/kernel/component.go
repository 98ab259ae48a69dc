package kernel

import (
	"context"
	"errors"
)

// ErrComponentAlreadyRegistered reports a duplicate component name.
var ErrComponentAlreadyRegistered = errors.New("component already registered")

// Component is one long-running part of the process.
//
// Run blocks until ctx is canceled or the component fails. Returning nil or a
// context cancellation error is a clean stop.
type Component interface {
	Name() string
	Run(ctx context.Context) error
}

// Shutdowner is implemented by components that release resources after every
// component has stopped running.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

type funcComponent struct {
	name     string
	run      func(context.Context) error
	shutdown func(context.Context) error
}

// ComponentFunc adapts a run function into a Component.
func ComponentFunc(name string, run func(context.Context) error) Component {
	return &funcComponent{name: name, run: run}
}

// ComponentWithShutdown adapts a run function and a shutdown hook into a Component.
func ComponentWithShutdown(
	name string,
	run func(context.Context) error,
	shutdown func(context.Context) error,
) Component {
	return &funcComponent{name: name, run: run, shutdown: shutdown}
}

func (c *funcComponent) Name() string {
	return c.name
}

func (c *funcComponent) Run(ctx context.Context) error {
	if c.run == nil {
		<-ctx.Done()
		return nil
	}

	return c.run(ctx)
}

func (c *funcComponent) Shutdown(ctx context.Context) error {
	if c.shutdown == nil {
		return nil
	}

	return c.shutdown(ctx)
}
