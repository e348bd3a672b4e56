// Package backendtest provides scriptable backends for tests.
package backendtest

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/kalambet/aigw/internal/backend"
)

// Fake is a Backend driven by a function. It records every request.
type Fake struct {
	Name string
	Caps backend.Capabilities

	// CompleteFunc answers Complete. When nil, Complete returns Text.
	CompleteFunc func(ctx context.Context, req backend.Request) (backend.Response, error)
	Text         string
	Err          error

	// Fragments and StreamErr script Stream. StreamErr is returned after
	// the fragments are consumed.
	Fragments []string
	StreamErr error

	mu       sync.Mutex
	requests []backend.Request
}

// Answering returns a fake that always completes with text.
func Answering(id, text string) *Fake {
	return &Fake{Name: id, Text: text, Caps: backend.Capabilities{Streaming: true, Tools: true, Vision: true}}
}

// Failing returns a fake whose every call fails with err.
func Failing(id string, err error) *Fake {
	return &Fake{Name: id, Err: err, Caps: backend.Capabilities{Streaming: true, Tools: true, Vision: true}}
}

func (f *Fake) ID() string                         { return f.Name }
func (f *Fake) Capabilities() backend.Capabilities { return f.Caps }

func (f *Fake) Complete(ctx context.Context, req backend.Request) (backend.Response, error) {
	f.record(req)
	if f.CompleteFunc != nil {
		return f.CompleteFunc(ctx, req)
	}
	if f.Err != nil {
		return backend.Response{}, f.Err
	}
	return backend.Response{Text: f.Text}, nil
}

func (f *Fake) Stream(ctx context.Context, req backend.Request) (backend.Stream, error) {
	f.record(req)
	if !f.Caps.Streaming {
		return nil, backend.ErrStreamingUnsupported
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return &Stream{ctx: ctx, frags: append([]string(nil), f.Fragments...), err: f.StreamErr}, nil
}

// Calls returns how many requests the fake received.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Requests returns a copy of the received requests.
func (f *Fake) Requests() []backend.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.Request(nil), f.requests...)
}

// LastRequest returns the most recent request, or the zero value.
func (f *Fake) LastRequest() backend.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return backend.Request{}
	}
	return f.requests[len(f.requests)-1]
}

func (f *Fake) record(req backend.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
}

// Stream replays scripted fragments and honours context cancellation.
type Stream struct {
	ctx    context.Context
	frags  []string
	err    error
	mu     sync.Mutex
	closed bool
}

func (s *Stream) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if len(s.frags) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	f := s.frags[0]
	s.frags = s.frags[1:]
	return f, nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Collect drains s and returns the concatenated text. It closes s.
func Collect(s backend.Stream) (string, error) {
	defer s.Close()
	var out []byte
	for {
		frag, err := s.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return string(out), nil
			}
			return string(out), err
		}
		out = append(out, frag...)
	}
}
