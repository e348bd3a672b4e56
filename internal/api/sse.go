package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kalambet/aigw/internal/backend"
)

// streamErrorMessage is the payload of the terminal error event.
const streamErrorMessage = "The response stream was interrupted."

// openStream opens a stream on the first streaming backend that accepts the
// request. Once a stream exists there is no fallback.
func (h *handlers) openStream(ctx context.Context, backends []backend.Backend, open func(backend.Backend) (backend.Stream, error)) (backend.Stream, error) {
	var errs []error
	for _, b := range backends {
		if !b.Capabilities().Streaming {
			continue
		}
		s, err := open(b)
		if err == nil {
			return s, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		h.Logger.Warn("opening stream failed", "backend", b.ID(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", b.ID(), err))
	}
	if len(errs) == 0 {
		return nil, backend.ErrStreamingUnsupported
	}
	return nil, errors.Join(errs...)
}

func (h *handlers) streamOpenFailed(w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil {
		return
	}
	h.Logger.Warn("no backend could stream", "path", r.URL.Path, "error", err)
	writeText(w, http.StatusServiceUnavailable, noBackendMessage)
}

// streamSSE forwards fragments as "data:" events. A failure after the first
// byte ends the stream with an "error" event. A client disconnect cancels
// the request context, which stops the backend.
func (h *handlers) streamSSE(w http.ResponseWriter, r *http.Request, s backend.Stream) {
	defer s.Close()
	flusher := w.(http.Flusher)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		frag, err := s.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || r.Context().Err() != nil {
				return
			}
			h.Logger.Error("stream failed", "path", r.URL.Path, "error", err)
			writeEvent(w, "error", streamErrorMessage)
			flusher.Flush()
			return
		}
		writeEvent(w, "", frag)
		flusher.Flush()
	}
}

// writeEvent writes one SSE event. Multi-line data is split over several
// data fields so the client sees the original newlines.
func writeEvent(w io.Writer, event, data string) {
	var sb strings.Builder
	if event != "" {
		fmt.Fprintf(&sb, "event: %s\n", event)
	}
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&sb, "data: %s\n", line)
	}
	sb.WriteString("\n")
	io.WriteString(w, sb.String())
}
