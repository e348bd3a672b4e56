// Package router tries model backends in order until one answers.
//
// Every backend gets exactly one attempt per call. Any error from an attempt
// moves on to the next backend; the router does not tell retryable failures
// from permanent ones and never retries the same backend.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/aigw/internal/backend"
)

// Kind tags how a request was served.
type Kind int

const (
	PrimarySuccess Kind = iota
	FallbackSuccess
	TotalFailure
)

func (k Kind) String() string {
	switch k {
	case PrimarySuccess:
		return "primary"
	case FallbackSuccess:
		return "fallback"
	case TotalFailure:
		return "total_failure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Attempt records one backend call.
type Attempt struct {
	BackendID string
	Err       error
	Duration  time.Duration
}

// Outcome is the result of routing one request. BackendID always names the
// backend that produced Text.
type Outcome struct {
	Kind      Kind
	Text      string
	BackendID string

	// Reason holds the failures that caused a fallback. Nil for
	// PrimarySuccess.
	Reason error

	Attempts []Attempt
}

// Fallback reports whether a backend other than the first one answered.
func (o Outcome) Fallback() bool { return o.Kind == FallbackSuccess }

// Err returns a *TotalFailureError when every backend failed, nil otherwise.
func (o Outcome) Err() error {
	if o.Kind != TotalFailure {
		return nil
	}
	return &TotalFailureError{Attempts: o.Attempts}
}

// TotalFailureError carries the error of every backend that was tried.
type TotalFailureError struct {
	Attempts []Attempt
}

func (e *TotalFailureError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.BackendID, a.Err)
	}
	return "no backend could answer: " + strings.Join(parts, "; ")
}

func (e *TotalFailureError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}

type haltError struct{ err error }

func (h *haltError) Error() string { return h.err.Error() }
func (h *haltError) Unwrap() error { return h.err }

// Halt marks err as fatal for the whole request: Run stops immediately and
// returns it instead of trying the next backend.
func Halt(err error) error {
	if err == nil {
		return nil
	}
	return &haltError{err: err}
}

// Recorder receives routing metrics.
type Recorder interface {
	RecordAttempt(backendID string, err error, d time.Duration)
	RecordOutcome(kind string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAttempt(string, error, time.Duration) {}
func (nopRecorder) RecordOutcome(string)                       {}

// Router runs the fallback policy.
type Router struct {
	logger   *slog.Logger
	recorder Recorder
}

// New creates a Router. Both arguments may be nil.
func New(logger *slog.Logger, rec Recorder) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Router{logger: logger, recorder: rec}
}

// AttemptFunc performs one request against one backend.
type AttemptFunc func(ctx context.Context, b backend.Backend) (string, error)

// Run calls fn for each backend in order until one succeeds.
//
// Backend failures are never returned as the error; they end up in
// Outcome.Attempts and, if all fail, in a TotalFailure outcome. The error
// result is reserved for context cancellation and for errors wrapped with
// Halt.
func (r *Router) Run(ctx context.Context, backends []backend.Backend, fn AttemptFunc) (Outcome, error) {
	if len(backends) == 0 {
		return Outcome{}, errors.New("router: no backends configured")
	}

	var out Outcome
	var failures []error
	for i, b := range backends {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		start := time.Now()
		text, err := fn(ctx, b)
		attempt := Attempt{BackendID: b.ID(), Err: err, Duration: time.Since(start)}
		out.Attempts = append(out.Attempts, attempt)
		r.recorder.RecordAttempt(attempt.BackendID, err, attempt.Duration)

		if err == nil {
			out.Text = text
			out.BackendID = b.ID()
			out.Kind = PrimarySuccess
			if i > 0 {
				out.Kind = FallbackSuccess
				out.Reason = errors.Join(failures...)
				r.logger.Info("served by fallback backend", "backend", b.ID(), "failed", len(failures))
			}
			r.recorder.RecordOutcome(out.Kind.String())
			return out, nil
		}

		var h *haltError
		if errors.As(err, &h) {
			return out, h.err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}

		failures = append(failures, fmt.Errorf("%s: %w", b.ID(), err))
		r.logger.Warn("backend attempt failed", "backend", b.ID(), "attempt", i+1, "error", err)
	}

	out.Kind = TotalFailure
	r.recorder.RecordOutcome(out.Kind.String())
	r.logger.Error("all backends failed", "attempts", len(out.Attempts))
	return out, nil
}

// Generate sends req to each backend in order and returns the first
// completion.
func (r *Router) Generate(ctx context.Context, req backend.Request, backends []backend.Backend) (Outcome, error) {
	return r.Run(ctx, backends, func(ctx context.Context, b backend.Backend) (string, error) {
		resp, err := b.Complete(ctx, req)
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	})
}
