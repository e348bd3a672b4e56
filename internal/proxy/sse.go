package proxy

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// SSEStream decodes an OpenAI-style server-sent event stream into content
// fragments. Single consumer, not restartable.
type SSEStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func newSSEStream(body io.ReadCloser) *SSEStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &SSEStream{body: body, scanner: sc}
}

// Recv returns the next non-empty content delta, or io.EOF after the
// [DONE] marker.
func (s *SSEStream) Recv() (string, error) {
	for !s.done && s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			// Comments (": OPENROUTER PROCESSING"), event names and blank separators.
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			s.done = true
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", fmt.Errorf("decoding stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return "", fmt.Errorf("provider stream error: %s", chunk.Error.Message)
		}
		for _, ch := range chunk.Choices {
			if ch.Delta.Content != "" {
				return ch.Delta.Content, nil
			}
		}
	}
	if s.done {
		return "", io.EOF
	}
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("reading stream: %w", err)
	}
	return "", io.ErrUnexpectedEOF
}

// Close releases the response body and its request context.
func (s *SSEStream) Close() error {
	return s.body.Close()
}
