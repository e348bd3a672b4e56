package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kalambet/aigw/internal/ollama"
	"github.com/kalambet/aigw/internal/proxy"
)

type stubBackend struct{ id string }

func collect(s Stream) (string, error) {
	defer s.Close()
	var out strings.Builder
	for {
		frag, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return out.String(), nil
		}
		if err != nil {
			return out.String(), err
		}
		out.WriteString(frag)
	}
}

func (s stubBackend) ID() string                 { return s.id }
func (s stubBackend) Capabilities() Capabilities { return Capabilities{} }
func (s stubBackend) Complete(context.Context, Request) (Response, error) {
	return Response{}, nil
}
func (s stubBackend) Stream(context.Context, Request) (Stream, error) {
	return nil, ErrStreamingUnsupported
}

func TestRegistry_ResolveKeepsOrder(t *testing.T) {
	r, err := NewRegistry(stubBackend{"ollama"}, stubBackend{"gemini"})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	bs, err := r.Resolve([]string{"gemini", "ollama"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if bs[0].ID() != "gemini" || bs[1].ID() != "ollama" {
		t.Errorf("order = [%s %s], want [gemini ollama]", bs[0].ID(), bs[1].ID())
	}
	if got := r.IDs(); len(got) != 2 || got[0] != "ollama" {
		t.Errorf("IDs = %v", got)
	}
}

func TestRegistry_Errors(t *testing.T) {
	if _, err := NewRegistry(stubBackend{"a"}, stubBackend{"a"}); err == nil {
		t.Error("duplicate id accepted")
	}
	if _, err := NewRegistry(stubBackend{""}); err == nil {
		t.Error("empty id accepted")
	}

	r, _ := NewRegistry(stubBackend{"a"})
	if _, err := r.Resolve([]string{"a", "missing"}); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("Resolve error = %v, want ErrUnknownBackend", err)
	}
	if _, err := r.Resolve(nil); err == nil {
		t.Error("empty list accepted")
	}
	if got := r.Available([]string{"missing", "a"}); len(got) != 1 || got[0] != "a" {
		t.Errorf("Available = %v, want [a]", got)
	}
}

func TestOllamaBackend_Complete(t *testing.T) {
	var captured ollama.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "hello from ollama"},
			"done":    true,
		})
	}))
	defer srv.Close()

	b := NewOllama("ollama", ollama.New(srv.URL), "llama3.2:1b", false)
	resp, err := b.Complete(context.Background(), Prompt("be brief", "hi"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "hello from ollama" {
		t.Errorf("got %q, want %q", resp.Text, "hello from ollama")
	}
	if captured.Model != "llama3.2:1b" || len(captured.Messages) != 2 || captured.Messages[0].Role != RoleSystem {
		t.Errorf("request = %+v", captured)
	}
}

func TestOllamaBackend_ToolCallsAndToolTurns(t *testing.T) {
	var captured ollama.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(`{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"getSystemStatus"}}]},"done":true}`))
	}))
	defer srv.Close()

	b := NewOllama("ollama", ollama.New(srv.URL), "llama3.2:1b", false)
	resp, err := b.Complete(context.Background(), Request{
		Messages: []Message{
			{Role: RoleUser, Content: "status?"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{Name: "getSystemStatus", Arguments: map[string]any{}}}},
			{Role: RoleTool, ToolName: "getSystemStatus", Content: "CPU 3%"},
		},
		Tools: []ToolSpec{{Name: "getSystemStatus", Parameters: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "getSystemStatus" || resp.ToolCalls[0].Arguments == nil {
		t.Errorf("tool calls = %+v", resp.ToolCalls)
	}
	if captured.Messages[2].ToolName != "getSystemStatus" || captured.Messages[1].ToolCalls[0].Function.Name != "getSystemStatus" {
		t.Errorf("tool turns not forwarded: %+v", captured.Messages)
	}
	if len(captured.Tools) != 1 || captured.Tools[0].Type != "function" {
		t.Errorf("tools = %+v", captured.Tools)
	}
}

func TestOllamaBackend_RejectsImagesWithoutVision(t *testing.T) {
	b := NewOllama("ollama", ollama.New("http://127.0.0.1:0"), "llama3.2:1b", false)
	_, err := b.Complete(context.Background(), Request{Messages: []Message{{
		Role: RoleUser, Content: "what is this?", Images: []Image{{MIMEType: "image/png", Data: []byte{1}}},
	}}})
	if !errors.Is(err, ErrVisionUnsupported) {
		t.Errorf("error = %v, want ErrVisionUnsupported", err)
	}
}

func TestOllamaBackend_StreamCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		enc.Encode(map[string]any{"message": map[string]string{"content": "a"}})
		enc.Encode(map[string]any{"message": map[string]string{"content": "b"}, "done": true})
	}))
	defer srv.Close()

	b := NewOllama("ollama", ollama.New(srv.URL), "m", false)
	s, err := b.Stream(context.Background(), Prompt("", "x"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	text, err := collect(s)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if text != "ab" {
		t.Errorf("text = %q, want %q", text, "ab")
	}
}

func TestCloudBackend_VisionAndToolArguments(t *testing.T) {
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[{"id":"c1","type":"function","function":{"name":"lookup","arguments":"{\"q\":\"go\"}"}}]}}]}`)
	}))
	defer srv.Close()

	b := NewCloud("gemini", proxy.NewClientWithBaseURL("k", srv.URL), "google/gemini-2.5-flash-lite", 0)
	resp, err := b.Complete(context.Background(), Request{Messages: []Message{{
		Role: RoleUser, Content: "describe", Images: []Image{{MIMEType: "image/png", Data: []byte("png")}},
	}}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if !strings.Contains(string(raw["messages"]), "data:image/png;base64,") {
		t.Errorf("image not sent as data URL: %s", raw["messages"])
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "c1" || resp.ToolCalls[0].Arguments["q"] != "go" {
		t.Errorf("tool calls = %+v", resp.ToolCalls)
	}
}

func TestCloudBackend_LocalQuota(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	b := NewCloud("gemini", proxy.NewClientWithBaseURL("k", srv.URL), "m", 1)
	if _, err := b.Complete(context.Background(), Prompt("", "one")); err != nil {
		t.Fatalf("first Complete: %v", err)
	}
	_, err := b.Complete(context.Background(), Prompt("", "two"))
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("second Complete error = %v, want ErrRateLimited", err)
	}
	if hits.Load() != 1 {
		t.Errorf("provider hits = %d, want 1", hits.Load())
	}
}

func TestCloudBackend_StreamRejectsTools(t *testing.T) {
	b := NewCloud("gemini", proxy.NewClient("k"), "m", 0)
	_, err := b.Stream(context.Background(), Request{Tools: []ToolSpec{{Name: "x"}}})
	if !errors.Is(err, ErrToolsUnsupported) {
		t.Errorf("error = %v, want ErrToolsUnsupported", err)
	}
}

type sliceStream struct {
	frags  []string
	err    error
	closed bool
}

func (s *sliceStream) Recv() (string, error) {
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

func (s *sliceStream) Close() error { s.closed = true; return nil }

func TestCollect_PropagatesTerminalError(t *testing.T) {
	boom := errors.New("boom")
	s := &sliceStream{frags: []string{"par", "tial"}, err: boom}
	text, err := collect(s)
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want boom", err)
	}
	if text != "partial" {
		t.Errorf("text = %q", text)
	}
	if !s.closed {
		t.Error("stream not closed")
	}
}
