package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/capture-assistant/internal/failure"
)

func testClient(url string, stream bool) *Client {
	return NewClient(Config{
		Endpoint:     url,
		Token:        "sk-test",
		Model:        "deepseek-chat",
		Temperature:  0.7,
		MaxTokens:    256,
		Stream:       stream,
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}, nil)
}

func writeSSE(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, c := range chunks {
		b, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{"delta": map[string]string{"content": c}}},
		})
		fmt.Fprintf(w, "data: %s\n\n", b)
	}
}

func TestOpen_StreamsChunksInOrder(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		writeSSE(w, "你好", "", "世界")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	s, err := testClient(srv.URL, true).Open(context.Background(), []Message{{Role: "user", Content: "hello world"}})
	require.NoError(t, err)
	defer s.Close()

	first, err := s.Next()
	require.NoError(t, err)
	second, err := s.Next()
	require.NoError(t, err)
	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)

	assert.Equal(t, "你好", first)
	assert.Equal(t, "世界", second)
	assert.True(t, got.Stream)
	assert.Equal(t, "deepseek-chat", got.Model)
	assert.Equal(t, 256, got.MaxTokens)
	assert.InDelta(t, 0.7, got.Temperature, 1e-9)
	require.Len(t, got.Messages, 1)
}

func TestChat_NonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"你好世界"}}]}`)
	}))
	defer srv.Close()

	text, err := testClient(srv.URL, false).Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "你好世界", text)
}

func TestOpen_JSONReplyToStreamRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"whole"}}]}`)
	}))
	defer srv.Close()

	text, err := testClient(srv.URL, true).Chat(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "whole", text)
}

func TestOpen_RejectedIsNotRetried(t *testing.T) {
	for _, status := range []int{400, 401, 402, 403, 404, 422} {
		t.Run(fmt.Sprint(status), func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(status)
				fmt.Fprint(w, `{"error":{"message":"Authentication Fails","type":"authentication_error"}}`)
			}))
			defer srv.Close()

			_, err := testClient(srv.URL, true).Open(context.Background(), nil)
			require.Error(t, err)
			assert.Equal(t, failure.EndpointRejected, failure.KindOf(err))
			assert.Contains(t, err.Error(), "Authentication Fails")
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestOpen_TransientIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeSSE(w, "ok")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	text, err := testClient(srv.URL, true).Chat(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpen_RetriesAreBounded(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, true).Open(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, failure.EndpointUnreachable, failure.KindOf(err))
	assert.Equal(t, int32(4), calls.Load())
}

func TestOpen_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := testClient(url, true).Open(context.Background(), nil)
	assert.Equal(t, failure.EndpointUnreachable, failure.KindOf(err))
}

func TestStream_Interrupted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, "partial")
		// no [DONE]
	}))
	defer srv.Close()

	s, err := testClient(srv.URL, true).Open(context.Background(), nil)
	require.NoError(t, err)
	defer s.Close()

	text, err := s.Collect()
	assert.Equal(t, "partial", text)
	assert.Equal(t, failure.EndpointUnreachable, failure.KindOf(err))
}

func TestStream_CancelReturnsCause(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, "first")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cause := errors.New("closed by user")
	ctx, cancel := context.WithCancelCause(context.Background())
	s, err := testClient(srv.URL, true).Open(ctx, nil)
	require.NoError(t, err)
	defer s.Close()

	chunk, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "first", chunk)

	cancel(cause)
	_, err = s.Next()
	assert.ErrorIs(t, err, cause)
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 1, req.MaxTokens)
		assert.False(t, req.Stream)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"p"}}]}`)
	}))
	defer srv.Close()

	assert.NoError(t, testClient(srv.URL, true).Ping(context.Background()))
}

func TestStatusError(t *testing.T) {
	assert.Equal(t, failure.EndpointUnreachable, failure.KindOf(statusError(502, nil)))
	assert.Equal(t, failure.EndpointRejected, failure.KindOf(statusError(418, []byte("teapot"))))
}
