package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/aigw/internal/backend"
	"github.com/kalambet/aigw/internal/backend/backendtest"
	"github.com/kalambet/aigw/internal/ollama"
)

type countingRecorder struct {
	attempts map[string]int
	outcomes map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{attempts: map[string]int{}, outcomes: map[string]int{}}
}

func (c *countingRecorder) RecordAttempt(id string, _ error, _ time.Duration) { c.attempts[id]++ }
func (c *countingRecorder) RecordOutcome(kind string)                         { c.outcomes[kind]++ }

func TestGenerate_PrimarySuccess(t *testing.T) {
	primary := backendtest.Answering("gemini", "from cloud")
	secondary := backendtest.Answering("ollama", "from local")

	out, err := New(nil, nil).Generate(context.Background(), backend.Prompt("", "hi"), []backend.Backend{primary, secondary})
	require.NoError(t, err)

	assert.Equal(t, PrimarySuccess, out.Kind)
	assert.Equal(t, "from cloud", out.Text)
	assert.Equal(t, "gemini", out.BackendID)
	assert.Nil(t, out.Reason)
	assert.False(t, out.Fallback())
	assert.NoError(t, out.Err())
	assert.Equal(t, 0, secondary.Calls())
}

func TestGenerate_FallbackSuccess(t *testing.T) {
	primary := backendtest.Failing("gemini", errors.New("HTTP 429"))
	secondary := backendtest.Answering("ollama", "OK")
	rec := newCountingRecorder()

	out, err := New(nil, rec).Generate(context.Background(), backend.Prompt("", "hi"), []backend.Backend{primary, secondary})
	require.NoError(t, err)

	assert.Equal(t, FallbackSuccess, out.Kind)
	assert.NotEqual(t, PrimarySuccess, out.Kind)
	assert.Equal(t, "OK", out.Text)
	assert.Equal(t, "ollama", out.BackendID)
	require.Error(t, out.Reason)
	assert.Contains(t, out.Reason.Error(), "HTTP 429")
	assert.Equal(t, 1, primary.Calls())
	assert.Equal(t, 1, secondary.Calls())
	assert.Equal(t, 1, rec.outcomes["fallback"])
}

func TestGenerate_TotalFailureOneAttemptEach(t *testing.T) {
	errA := errors.New("timeout")
	errB := errors.New("connection refused")
	primary := backendtest.Failing("gemini", errA)
	secondary := backendtest.Failing("ollama", errB)
	rec := newCountingRecorder()

	out, err := New(nil, rec).Generate(context.Background(), backend.Prompt("", "hi"), []backend.Backend{primary, secondary})
	require.NoError(t, err)

	assert.Equal(t, TotalFailure, out.Kind)
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, "gemini", out.Attempts[0].BackendID)
	assert.Equal(t, "ollama", out.Attempts[1].BackendID)
	assert.Equal(t, 1, primary.Calls())
	assert.Equal(t, 1, secondary.Calls())
	assert.Equal(t, 1, rec.attempts["gemini"])
	assert.Equal(t, 1, rec.attempts["ollama"])

	var total *TotalFailureError
	require.ErrorAs(t, out.Err(), &total)
	assert.ErrorIs(t, out.Err(), errA)
	assert.ErrorIs(t, out.Err(), errB)
	assert.Contains(t, total.Error(), "no backend could answer")
}

func TestRun_HaltStopsIteration(t *testing.T) {
	fatal := errors.New("loop exceeded")
	first := backendtest.Answering("gemini", "")
	second := backendtest.Answering("ollama", "")

	calls := 0
	out, err := New(nil, nil).Run(context.Background(), []backend.Backend{first, second},
		func(ctx context.Context, b backend.Backend) (string, error) {
			calls++
			return "", Halt(fatal)
		})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
	assert.Len(t, out.Attempts, 1)
}

func TestRun_CancelledContextDoesNotFallBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := New(nil, nil).Run(ctx, []backend.Backend{backendtest.Answering("a", ""), backendtest.Answering("b", "")},
		func(ctx context.Context, b backend.Backend) (string, error) {
			calls++
			cancel()
			return "", ctx.Err()
		})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRun_NoBackends(t *testing.T) {
	_, err := New(nil, nil).Run(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestHalt_Nil(t *testing.T) {
	assert.NoError(t, Halt(nil))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "primary", PrimarySuccess.String())
	assert.Equal(t, "fallback", FallbackSuccess.String())
	assert.Equal(t, "total_failure", TotalFailure.String())
}

// hangingOllama returns a local backend whose server never answers.
func hangingOllama(t *testing.T, timeout time.Duration) backend.Backend {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	client := ollama.New(srv.URL).WithTimeout(timeout)
	return backend.NewOllama("ollama", client, "llama3.2:1b", false)
}

func TestGenerate_HungLocalBackendFallsBack(t *testing.T) {
	primary := hangingOllama(t, 100*time.Millisecond)
	secondary := backendtest.Answering("cloud", "OK")

	done := make(chan struct{})
	var out Outcome
	var err error
	go func() {
		defer close(done)
		out, err = New(nil, nil).Generate(context.Background(), backend.Prompt("", "hi"), []backend.Backend{primary, secondary})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Generate blocked on a hung local backend")
	}
	require.NoError(t, err)

	assert.Equal(t, FallbackSuccess, out.Kind)
	assert.Equal(t, "OK", out.Text)
	assert.Equal(t, 1, secondary.Calls())
	assert.ErrorIs(t, out.Reason, context.DeadlineExceeded)
}
