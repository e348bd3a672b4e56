package backend

import (
	"context"
	"errors"
)

var (
	// ErrStreamingUnsupported is returned by Stream on backends that can only
	// complete.
	ErrStreamingUnsupported = errors.New("backend does not support streaming")
	// ErrToolsUnsupported is returned when tools are offered to a backend
	// that cannot call them.
	ErrToolsUnsupported = errors.New("backend does not support tools")
	// ErrVisionUnsupported is returned when images are sent to a text-only backend.
	ErrVisionUnsupported = errors.New("backend does not support images")
	// ErrRateLimited is returned when a backend's client-side quota is spent.
	ErrRateLimited = errors.New("backend quota exhausted")
	// ErrUnknownBackend is returned by Registry lookups for unregistered ids.
	ErrUnknownBackend = errors.New("unknown backend")
)

// Backend is an interchangeable language-model provider. Implementations must
// be safe for concurrent use.
type Backend interface {
	// ID is the registry key, e.g. "ollama".
	ID() string

	Capabilities() Capabilities

	// Complete runs one non-streaming completion.
	Complete(ctx context.Context, req Request) (Response, error)

	// Stream starts a streaming completion. Cancelling ctx stops production
	// and releases the provider call; the caller must Close the stream.
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Stream is a finite, non-restartable sequence of text fragments with a
// single consumer.
type Stream interface {
	// Recv returns the next fragment, or io.EOF once the sequence ended
	// normally. Any other error is terminal.
	Recv() (string, error)
	Close() error
}
