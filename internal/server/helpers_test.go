package server

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ironsheep/capture-assistant/internal/history"
	"github.com/ironsheep/capture-assistant/internal/llm"
	"github.com/ironsheep/capture-assistant/internal/ocr"
	"github.com/ironsheep/capture-assistant/internal/orchestrator"
	"github.com/ironsheep/capture-assistant/internal/pipeline"
	"github.com/ironsheep/capture-assistant/internal/preprocess"
	"github.com/ironsheep/capture-assistant/internal/prompt"
	"github.com/ironsheep/capture-assistant/internal/recognize"
	"github.com/ironsheep/capture-assistant/internal/session"
	"github.com/ironsheep/capture-assistant/internal/sink"
)

type stubBackend struct{}

func (stubBackend) ExtractText(ctx context.Context, img image.Image, hints ocr.Hints) (string, error) {
	return "recognized text", nil
}

func (stubBackend) ExtractStructured(ctx context.Context, img image.Image) (string, error) {
	return "$x$", nil
}

// newTestServer wires a server to an endpoint that answers every request
// with reply, or with status when it is not 200.
func newTestServer(t *testing.T, status int, reply string) (*Server, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"message":"rejected"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		body, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": reply}}},
		})
		w.Write(body)
	}))
	t.Cleanup(endpoint.Close)

	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"), 10)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	client := llm.NewClient(llm.Config{
		Endpoint:     endpoint.URL,
		Token:        "sk-test",
		Model:        "deepseek-chat",
		MaxRetries:   1,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	}, nil)
	templates := prompt.Builtin()
	sessions := session.NewManager(session.Options{DefaultTemplate: "explain"}, nil)
	orch := orchestrator.New(client, templates, sessions, orchestrator.Options{
		Timeout:         5 * time.Second,
		DefaultTemplate: "explain",
	}, nil)
	out := sink.New(store, nil, sink.Options{}, nil)
	t.Cleanup(func() { out.Close() })

	runner := pipeline.New(
		preprocess.New(preprocess.Options{}, nil),
		recognize.New(stubBackend{}, recognize.Options{Workers: 2}, nil),
		orch, sessions, out, nil,
	)

	s := New(runner, sessions, templates, out, Options{
		Version:  "1.2.3",
		MaxChars: 100,
		OCR:      ocr.Info{Backend: "stub", Available: true},
	}, nil)
	return s, &calls
}

// callTool runs a tools/call request and returns the response.
func callTool(t *testing.T, s *Server, name string, args map[string]interface{}) *MCPResponse {
	t.Helper()
	params, _ := json.Marshal(map[string]interface{}{"name": name, "arguments": args})
	resp := s.handleRequest(context.Background(), &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  params,
	})
	if resp == nil {
		t.Fatal("handleRequest returned nil")
	}
	return resp
}

// toolText decodes the JSON text content of a successful tool response.
func toolText(t *testing.T, resp *MCPResponse, into interface{}) (isError bool) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatal("Result should be a map")
	}
	content, ok := result["content"].([]map[string]interface{})
	if !ok || len(content) != 1 {
		t.Fatalf("content: got %#v", result["content"])
	}
	if err := json.Unmarshal([]byte(content[0]["text"].(string)), into); err != nil {
		t.Fatalf("decode tool text: %v", err)
	}
	return result["isError"].(bool)
}
