// Package engine describes the streaming engine the server façade drives.
// The engine owns the media transport and pipeline execution; callers only
// hand it pipeline descriptions and mount paths.
package engine

import (
	"context"
	"fmt"
)

// Factory produces the media for one mount point. Pipeline syntax is up to
// the engine, and a malformed pipeline surfaces when the media is first
// started, not when the factory is created.
type Factory interface {
	Pipeline() string
	SetShared(shared bool)
	Shared() bool
}

// ConnectionHandler is invoked once per new client connection, on whatever
// goroutine the engine accepts it on.
type ConnectionHandler func(remoteAddr string)

type Engine interface {
	NewFactory(pipeline string) Factory
	Mount(path string, factory Factory) error
	OnConnectionEstablished(handler ConnectionHandler)
	// Attach binds the listening endpoint. It does not block.
	Attach(port int) error
	// Run serves clients until ctx is done or the engine fails.
	Run(ctx context.Context) error
}

type BindError struct {
	Port int
	Err  error
}

func (e BindError) Error() string {
	return fmt.Sprintf("failed to attach the server on port %d: %v", e.Port, e.Err)
}

func (e BindError) Unwrap() error {
	return e.Err
}
