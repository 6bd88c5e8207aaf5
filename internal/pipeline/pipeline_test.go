package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/ironsheep/capture-assistant/internal/capture"
	"github.com/ironsheep/capture-assistant/internal/failure"
	"github.com/ironsheep/capture-assistant/internal/imaging"
	"github.com/ironsheep/capture-assistant/internal/llm"
	"github.com/ironsheep/capture-assistant/internal/ocr"
	"github.com/ironsheep/capture-assistant/internal/orchestrator"
	"github.com/ironsheep/capture-assistant/internal/preprocess"
	"github.com/ironsheep/capture-assistant/internal/prompt"
	"github.com/ironsheep/capture-assistant/internal/recognize"
	"github.com/ironsheep/capture-assistant/internal/session"
	"github.com/ironsheep/capture-assistant/internal/sink"
)

type failingBackend struct{}

func (failingBackend) ExtractText(ctx context.Context, img image.Image, hints ocr.Hints) (string, error) {
	return "", errors.New("engine unavailable")
}

func (failingBackend) ExtractStructured(ctx context.Context, img image.Image) (string, error) {
	return "", errors.New("engine unavailable")
}

type harness struct {
	runner   *Runner
	sessions *session.Manager
	sink     *sink.Sink
	calls    *atomic.Int32
	requests chan []llm.Message
}

func newHarness(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, msgs []llm.Message)) *harness {
	t.Helper()
	var calls atomic.Int32
	requests := make(chan []llm.Message, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body struct {
			Messages []llm.Message `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		select {
		case requests <- body.Messages:
		default:
		}
		handler(w, r, body.Messages)
	}))
	t.Cleanup(srv.Close)

	client := llm.NewClient(llm.Config{
		Endpoint:     srv.URL,
		Token:        "sk-test",
		Model:        "deepseek-chat",
		Stream:       true,
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
	}, nil)
	sessions := session.NewManager(session.Options{DefaultTemplate: "explain"}, nil)
	orch := orchestrator.New(client, prompt.Builtin(), sessions, orchestrator.Options{
		Timeout:         5 * time.Second,
		DefaultTemplate: "explain",
	}, nil)
	out := sink.New(nil, nil, sink.Options{}, nil)
	t.Cleanup(func() { out.Close() })

	runner := New(
		preprocess.New(preprocess.Options{}, nil),
		recognize.New(failingBackend{}, recognize.Options{Workers: 2}, nil),
		orch, sessions, out, nil,
	)
	return &harness{runner: runner, sessions: sessions, sink: out, calls: &calls, requests: requests}
}

func writeSSE(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, c := range chunks {
		b, _ := json.Marshal(map[string]any{"choices": []map[string]any{{"delta": map[string]string{"content": c}}}})
		fmt.Fprintf(w, "data: %s\n\n", b)
	}
	w.(http.Flusher).Flush()
}

func textEvent(text, mode string) capture.Event {
	return capture.NewTextEvent(text, 0, capture.WorkflowContext{Mode: mode})
}

func lastUser(msgs []llm.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}

func TestTranslateSelection(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request, _ []llm.Message) {
		writeSSE(w, "你好", "世界")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	out := h.runner.RunAndWait(context.Background(), Request{
		Event:    textEvent("hello world", capture.ModeHotkey),
		Template: "translate-to-chinese",
	})

	assert.Equal(t, sink.Success, out.Kind)
	assert.Equal(t, "你好世界", out.Text)
	assert.Equal(t, "translate-to-chinese", out.TemplateID)
	assert.NotEmpty(t, out.SessionID)

	msgs := <-h.requests
	assert.Contains(t, lastUser(msgs), "hello world")

	sess, err := h.sessions.Get(out.SessionID)
	require.NoError(t, err)
	require.Len(t, sess.History, 1)
	assert.Equal(t, "你好世界", sess.History[0].Response)
}

func TestBlankImageSkipsOrchestrator(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request, _ []llm.Message) {
		writeSSE(w, "unexpected")
	})

	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	data, err := imaging.EncodePNG(img)
	require.NoError(t, err)

	out := h.runner.RunAndWait(context.Background(), Request{
		Event: capture.NewImageEvent(data, 0, capture.WorkflowContext{Mode: capture.ModeHotkey}),
	})

	assert.Equal(t, sink.Failure, out.Kind)
	require.NotNil(t, out.Failure)
	assert.Equal(t, failure.NoContentRecognized, out.Failure.Kind)
	assert.Zero(t, h.calls.Load())
	assert.Empty(t, h.sessions.Live(), "no session is created for an empty capture")
}

func TestRejectedCredentialNotRetried(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request, _ []llm.Message) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid api key"}}`)
	})

	out := h.runner.RunAndWait(context.Background(), Request{Event: textEvent("hello world", capture.ModeCLI)})

	assert.Equal(t, sink.Failure, out.Kind)
	require.NotNil(t, out.Failure)
	assert.Equal(t, failure.EndpointRejected, out.Failure.Kind)
	assert.Equal(t, int32(1), h.calls.Load())
}

func TestCorruptImageFailsRun(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request, _ []llm.Message) {})

	out := h.runner.RunAndWait(context.Background(), Request{
		Event: capture.NewImageEvent([]byte("not an image"), 0, capture.WorkflowContext{Mode: capture.ModeHotkey}),
	})

	require.NotNil(t, out.Failure)
	assert.Equal(t, failure.PreprocessingError, out.Failure.Kind)
	assert.Zero(t, h.calls.Load())
}

func TestFullyUnrecognizedImage(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request, _ []llm.Message) {})

	img := image.NewRGBA(image.Rect(0, 0, 300, 80))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	d := &font.Drawer{Dst: img, Src: image.NewUniform(color.Black), Face: basicfont.Face7x13, Dot: fixed.P(10, 30)}
	d.DrawString("some words on screen")
	data, err := imaging.EncodePNG(img)
	require.NoError(t, err)

	out := h.runner.RunAndWait(context.Background(), Request{
		Event: capture.NewImageEvent(data, 0, capture.WorkflowContext{Mode: capture.ModeHotkey}),
	})

	require.NotNil(t, out.Failure)
	assert.Equal(t, failure.RecognitionError, out.Failure.Kind)
	assert.Zero(t, h.calls.Load())
}

func TestCancelKeepsPartialResponse(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request, _ []llm.Message) {
		writeSSE(w, "partial ")
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := h.sink.Subscribe(ctx)
	require.NoError(t, err)

	ev := textEvent("explain this", capture.ModeHotkey)
	runID := h.runner.Start(ctx, Request{Event: ev})
	assert.Equal(t, ev.ID(), runID)

	var final sink.Outcome
	timeout := time.After(5 * time.Second)
	for final.Kind == "" {
		select {
		case o := <-sub:
			if o.Kind == sink.Chunk {
				assert.Equal(t, "partial ", o.Text)
				require.NoError(t, h.runner.Cancel(runID))
				continue
			}
			final = o
		case <-timeout:
			t.Fatal("run did not finish")
		}
	}
	h.runner.Wait()

	assert.Equal(t, sink.Success, final.Kind)
	assert.True(t, final.Cancelled)
	assert.Equal(t, "partial ", final.Text)

	sess, err := h.sessions.Get(final.SessionID)
	require.NoError(t, err)
	require.Len(t, sess.History, 1)
	assert.Equal(t, session.StatusCancelled, sess.History[0].Status)
	assert.True(t, sess.History[0].StreamComplete)
	assert.Equal(t, "partial ", sess.History[0].Response)

	assert.ErrorIs(t, h.runner.Cancel(runID), ErrUnknownRun)
	assert.Empty(t, h.runner.InFlight())
}

func TestConcurrentRunsStayInTheirSessions(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request, msgs []llm.Message) {
		writeSSE(w, "echo:", lastUser(msgs))
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	modes := []string{"alpha", "beta", "gamma", "delta"}
	sessionIDs := make([]string, len(modes))
	var wg sync.WaitGroup
	for i, mode := range modes {
		wg.Add(1)
		go func(i int, mode string) {
			defer wg.Done()
			for n := 0; n < 3; n++ {
				out := h.runner.RunAndWait(context.Background(), Request{
					Event:    textEvent(fmt.Sprintf("%s-%d", mode, n), mode),
					Template: "code-assist",
				})
				assert.Equal(t, sink.Success, out.Kind)
				sessionIDs[i] = out.SessionID
			}
		}(i, mode)
	}
	wg.Wait()

	for i, mode := range modes {
		sess, err := h.sessions.Get(sessionIDs[i])
		require.NoError(t, err)
		require.Len(t, sess.History, 3)
		for n, ex := range sess.History {
			assert.True(t, strings.HasPrefix(ex.Response, "echo:"))
			assert.Contains(t, ex.Response, fmt.Sprintf("%s-%d", mode, n))
			for _, other := range modes {
				if other != mode {
					assert.NotContains(t, ex.Response, other+"-")
				}
			}
		}
	}
}
