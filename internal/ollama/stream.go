package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// ErrFirstFragmentTimeout is returned when a stream produces nothing before
// the client timeout.
var ErrFirstFragmentTimeout = errors.New("no stream output before timeout")

// ChatStream reads the newline-delimited JSON objects of a streaming chat
// response. It is meant for a single consumer and cannot be restarted.
type ChatStream struct {
	body   io.ReadCloser
	dec    *json.Decoder
	cancel context.CancelFunc
	done   bool

	first *firstFragment
}

// firstFragment aborts a request whose stream stays silent past a deadline.
type firstFragment struct {
	state atomic.Int32 // 0 waiting, 1 received, 2 expired
	timer *time.Timer
}

func watchFirstFragment(d time.Duration, cancel context.CancelFunc) *firstFragment {
	f := &firstFragment{}
	f.timer = time.AfterFunc(d, func() {
		if f.state.CompareAndSwap(0, 2) {
			cancel()
		}
	})
	return f
}

func (f *firstFragment) received() {
	if f != nil && f.state.CompareAndSwap(0, 1) {
		f.timer.Stop()
	}
}

func (f *firstFragment) expired() bool {
	return f != nil && f.state.Load() == 2
}

func firstFragmentTimeout() error {
	return fmt.Errorf("chat stream: %w: %w", ErrFirstFragmentTimeout, context.DeadlineExceeded)
}

// ChatStream starts a streaming chat request. Cancelling ctx or calling
// Close aborts the underlying HTTP request. Opening the stream and receiving
// its first fragment must complete within the client timeout; later
// fragments are not bound.
func (c *Client) ChatStream(ctx context.Context, cr ChatRequest) (*ChatStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	first := watchFirstFragment(c.timeout, cancel)

	cr.Stream = true
	resp, err := c.postChat(ctx, cr)
	if err != nil {
		expired := first.expired()
		first.received()
		cancel()
		if expired {
			return nil, firstFragmentTimeout()
		}
		return nil, err
	}
	s := newChatStream(resp, cancel)
	s.first = first
	return s, nil
}

func newChatStream(resp *http.Response, cancel context.CancelFunc) *ChatStream {
	return &ChatStream{body: resp.Body, dec: json.NewDecoder(resp.Body), cancel: cancel}
}

// Recv returns the next non-empty content fragment. It returns io.EOF once
// the model reports completion.
func (s *ChatStream) Recv() (string, error) {
	for !s.done {
		var chunk chatResponse
		if err := s.dec.Decode(&chunk); err != nil {
			if s.first.expired() {
				return "", firstFragmentTimeout()
			}
			if err == io.EOF {
				return "", io.ErrUnexpectedEOF
			}
			return "", fmt.Errorf("reading chat stream: %w", err)
		}
		s.first.received()
		if chunk.Error != "" {
			return "", fmt.Errorf("chat stream: %s", chunk.Error)
		}
		if chunk.Done {
			s.done = true
		}
		if chunk.Message.Content != "" {
			return chunk.Message.Content, nil
		}
	}
	return "", io.EOF
}

// Close releases the response body and cancels the request.
func (s *ChatStream) Close() error {
	s.first.received()
	s.cancel()
	return s.body.Close()
}
