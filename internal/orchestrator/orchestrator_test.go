package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/capture-assistant/internal/capture"
	"github.com/ironsheep/capture-assistant/internal/detection"
	"github.com/ironsheep/capture-assistant/internal/failure"
	"github.com/ironsheep/capture-assistant/internal/llm"
	"github.com/ironsheep/capture-assistant/internal/preprocess"
	"github.com/ironsheep/capture-assistant/internal/prompt"
	"github.com/ironsheep/capture-assistant/internal/recognize"
	"github.com/ironsheep/capture-assistant/internal/session"
)

var wctx = capture.WorkflowContext{Mode: capture.ModeHotkey}

type fixture struct {
	orch     *Orchestrator
	sessions *session.Manager
	calls    *atomic.Int32
	lastReq  chan []llm.Message
}

func newFixture(t *testing.T, timeout time.Duration, handler func(w http.ResponseWriter, r *http.Request)) *fixture {
	t.Helper()
	var calls atomic.Int32
	lastReq := make(chan []llm.Message, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body struct {
			Messages []llm.Message `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		lastReq <- body.Messages
		handler(w, r)
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
	orch := New(client, prompt.Builtin(), sessions, Options{
		SystemPrompt:    "You are a helpful assistant.",
		Timeout:         timeout,
		DefaultTemplate: "explain",
	}, nil)
	return &fixture{orch: orch, sessions: sessions, calls: &calls, lastReq: lastReq}
}

func sse(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, c := range chunks {
		b, _ := json.Marshal(map[string]any{"choices": []map[string]any{{"delta": map[string]string{"content": c}}}})
		fmt.Fprintf(w, "data: %s\n\n", b)
	}
	w.(http.Flusher).Flush()
}

func done(w http.ResponseWriter) {
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func drain(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func terminal(t *testing.T, events []Event) Event {
	t.Helper()
	require.NotEmpty(t, events)
	n := 0
	for _, ev := range events {
		if ev.Terminal() {
			n++
		}
	}
	require.Equal(t, 1, n, "exactly one terminal event")
	last := events[len(events)-1]
	require.True(t, last.Terminal())
	return last
}

func TestSubmit_TranslateHelloWorld(t *testing.T) {
	f := newFixture(t, time.Second, func(w http.ResponseWriter, r *http.Request) {
		sse(w, "你好", "世界")
		done(w)
	})
	sess := f.sessions.Resolve(wctx)

	events := drain(t, f.orch.Submit(context.Background(), recognize.NewTextDocument("hello world"), sess, "translate-to-chinese"))

	last := terminal(t, events)
	assert.Equal(t, Complete, last.Kind)
	assert.Equal(t, "你好世界", last.Text)
	assert.False(t, last.Cancelled)
	require.Len(t, events, 3)
	assert.Equal(t, "你好", events[0].Text)
	assert.Equal(t, "世界", events[1].Text)

	got, err := f.sessions.Get(sess.ID)
	require.NoError(t, err)
	require.Len(t, got.History, 1)
	ex := got.History[0]
	assert.Equal(t, session.StatusComplete, ex.Status)
	assert.True(t, ex.StreamComplete)
	assert.Equal(t, "你好世界", ex.Response)
	assert.Equal(t, "translate-to-chinese", ex.TemplateID)
	assert.Equal(t, last.ExchangeID, ex.ID)

	msgs := <-f.lastReq
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "You are a helpful assistant.")
	assert.Contains(t, msgs[0].Content, "professional translator")
	assert.Contains(t, msgs[1].Content, "hello world")
}

func TestSubmit_RejectedNotRetried(t *testing.T) {
	f := newFixture(t, time.Second, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	sess := f.sessions.Resolve(wctx)

	last := terminal(t, drain(t, f.orch.Submit(context.Background(), recognize.NewTextDocument("hi"), sess, "")))

	assert.Equal(t, Failed, last.Kind)
	assert.Equal(t, failure.EndpointRejected, failure.KindOf(last.Err))
	assert.Equal(t, int32(1), f.calls.Load())

	got, _ := f.sessions.Get(sess.ID)
	assert.Empty(t, got.History)
}

func TestSubmit_UnreachableAfterRetries(t *testing.T) {
	f := newFixture(t, time.Second, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	sess := f.sessions.Resolve(wctx)

	last := terminal(t, drain(t, f.orch.Submit(context.Background(), recognize.NewTextDocument("hi"), sess, "")))
	assert.Equal(t, failure.EndpointUnreachable, failure.KindOf(last.Err))
	assert.Equal(t, int32(4), f.calls.Load())
}

func TestSubmit_TimeoutDiscardsPartial(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond, func(w http.ResponseWriter, r *http.Request) {
		sse(w, "partial")
		<-r.Context().Done()
	})
	sess := f.sessions.Resolve(wctx)

	last := terminal(t, drain(t, f.orch.Submit(context.Background(), recognize.NewTextDocument("hi"), sess, "")))

	assert.Equal(t, Failed, last.Kind)
	assert.Equal(t, failure.TimeoutExceeded, failure.KindOf(last.Err))
	got, _ := f.sessions.Get(sess.ID)
	assert.Empty(t, got.History)
}

func TestSubmit_UserCancelKeepsPartial(t *testing.T) {
	f := newFixture(t, 5*time.Second, func(w http.ResponseWriter, r *http.Request) {
		sse(w, "first part")
		<-r.Context().Done()
	})
	sess := f.sessions.Resolve(wctx)
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	ch := f.orch.Submit(ctx, recognize.NewTextDocument("hi"), sess, "")
	first := <-ch
	require.Equal(t, Chunk, first.Kind)
	cancel(ErrUserCancelled)

	last := terminal(t, append([]Event{first}, drain(t, ch)...))
	assert.Equal(t, Complete, last.Kind)
	assert.True(t, last.Cancelled)
	assert.Equal(t, "first part", last.Text)

	got, err := f.sessions.Get(sess.ID)
	require.NoError(t, err)
	require.Len(t, got.History, 1)
	assert.Equal(t, session.StatusCancelled, got.History[0].Status)
	assert.True(t, got.History[0].StreamComplete)
	assert.Equal(t, "first part", got.History[0].Response)
}

func TestSubmit_OtherCancelIsNotStored(t *testing.T) {
	f := newFixture(t, 5*time.Second, func(w http.ResponseWriter, r *http.Request) {
		sse(w, "x")
		<-r.Context().Done()
	})
	sess := f.sessions.Resolve(wctx)
	ctx, cancel := context.WithCancel(context.Background())

	ch := f.orch.Submit(ctx, recognize.NewTextDocument("hi"), sess, "")
	<-ch
	cancel()

	last := terminal(t, drain(t, ch))
	assert.Equal(t, failure.Cancelled, failure.KindOf(last.Err))
	got, _ := f.sessions.Get(sess.ID)
	assert.Empty(t, got.History)
}

func TestSubmit_InterruptedStreamStoredIncomplete(t *testing.T) {
	f := newFixture(t, time.Second, func(w http.ResponseWriter, r *http.Request) {
		sse(w, "half an ans")
	})
	sess := f.sessions.Resolve(wctx)

	last := terminal(t, drain(t, f.orch.Submit(context.Background(), recognize.NewTextDocument("hi"), sess, "")))

	assert.Equal(t, Failed, last.Kind)
	assert.True(t, last.Interrupted)
	assert.Equal(t, failure.EndpointUnreachable, failure.KindOf(last.Err))

	got, _ := f.sessions.Get(sess.ID)
	require.Len(t, got.History, 1)
	assert.Equal(t, session.StatusInterrupted, got.History[0].Status)
	assert.False(t, got.History[0].StreamComplete)
	assert.Equal(t, "half an ans", got.History[0].Response)
}

func TestSubmit_TemplateErrorSendsNothing(t *testing.T) {
	f := newFixture(t, time.Second, func(w http.ResponseWriter, r *http.Request) {
		sse(w, "unused")
		done(w)
	})
	sess := f.sessions.Resolve(wctx)
	doc := &recognize.Document{Segments: []recognize.SegmentResult{{
		Segment: preprocess.Segment{Class: detection.Table},
		Text:    "| a |\n| --- |",
	}}}

	last := terminal(t, drain(t, f.orch.Submit(context.Background(), doc, sess, "code-assist")))
	assert.Equal(t, failure.TemplateError, failure.KindOf(last.Err))
	assert.Zero(t, f.calls.Load())

	last = terminal(t, drain(t, f.orch.Submit(context.Background(), doc, sess, "no-such-template")))
	assert.Equal(t, failure.TemplateError, failure.KindOf(last.Err))
}

func TestBuildRequest_TruncatesOldestFirst(t *testing.T) {
	f := newFixture(t, time.Second, func(w http.ResponseWriter, r *http.Request) {})
	sess := f.sessions.Resolve(wctx)
	for i := 0; i < 5; i++ {
		require.NoError(t, f.sessions.AppendExchange(sess.ID, session.Exchange{
			Prompt:         fmt.Sprintf("q%d", i),
			Response:       fmt.Sprintf("a%d", i),
			StreamComplete: true,
			Status:         session.StatusComplete,
		}))
	}
	sess, _ = f.sessions.Get(sess.ID)

	tpl, err := prompt.Builtin().Get("translate-to-chinese")
	require.NoError(t, err)
	require.Equal(t, 2, tpl.ContextWindow)

	msgs, userPrompt, err := f.orch.BuildRequest(recognize.NewTextDocument("hello"), sess, tpl)
	require.NoError(t, err)
	require.Len(t, msgs, 1+2*2+1)
	assert.Equal(t, "q3", msgs[1].Content)
	assert.Equal(t, "a3", msgs[2].Content)
	assert.Equal(t, "q4", msgs[3].Content)
	assert.Equal(t, "assistant", msgs[4].Role)
	assert.Equal(t, userPrompt, msgs[5].Content)
	assert.Equal(t, "user", msgs[5].Role)
}

func TestBuildRequest_ZeroWindowSendsNoHistory(t *testing.T) {
	f := newFixture(t, time.Second, func(w http.ResponseWriter, r *http.Request) {})
	sess := f.sessions.Resolve(wctx)
	require.NoError(t, f.sessions.AppendExchange(sess.ID, session.Exchange{
		Prompt:         "q0",
		Response:       "a0",
		StreamComplete: true,
		Status:         session.StatusComplete,
	}))
	sess, _ = f.sessions.Get(sess.ID)

	path := filepath.Join(t.TempDir(), "templates.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`[{"id": "one-shot", "text": "{{.Markup}}", "context_window": 0}]`), 0o644))
	r, err := prompt.Load(path)
	require.NoError(t, err)
	tpl, err := r.Get("one-shot")
	require.NoError(t, err)

	msgs, userPrompt, err := f.orch.BuildRequest(recognize.NewTextDocument("hello"), sess, tpl)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, userPrompt, msgs[1].Content)
}

func TestTemplate_Precedence(t *testing.T) {
	f := newFixture(t, time.Second, func(w http.ResponseWriter, r *http.Request) {})

	tpl, err := f.orch.Template(session.Session{}, "")
	require.NoError(t, err)
	assert.Equal(t, "explain", tpl.ID)

	tpl, err = f.orch.Template(session.Session{ActiveTemplate: "code-assist"}, "")
	require.NoError(t, err)
	assert.Equal(t, "code-assist", tpl.ID)

	tpl, err = f.orch.Template(session.Session{ActiveTemplate: "code-assist"}, "translate-to-english")
	require.NoError(t, err)
	assert.Equal(t, "translate-to-english", tpl.ID)
}
