// Package orchestrator turns a recognized document into a model request and
// streams the response back while recording it in the session.
package orchestrator

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/ironsheep/capture-assistant/internal/failure"
	"github.com/ironsheep/capture-assistant/internal/llm"
	"github.com/ironsheep/capture-assistant/internal/prompt"
	"github.com/ironsheep/capture-assistant/internal/recognize"
	"github.com/ironsheep/capture-assistant/internal/session"
)

// ErrUserCancelled is the cancellation cause for a user closing the result
// view. A run cancelled with it keeps its partial response.
var ErrUserCancelled = errors.New("cancelled by user")

// EventKind distinguishes stream events.
type EventKind int

const (
	// Chunk carries the next piece of response text.
	Chunk EventKind = iota
	// Complete ends a stream that produced a stored exchange.
	Complete
	// Failed ends a stream with an error.
	Failed
)

func (k EventKind) String() string {
	switch k {
	case Chunk:
		return "chunk"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Event is one item of a Submit stream.
type Event struct {
	Kind EventKind
	// Text is the chunk for Chunk events and the response received so far
	// for terminal events.
	Text string
	// Cancelled marks a Complete event produced by a user cancel.
	Cancelled bool
	// Interrupted marks a Failed event whose partial response was stored.
	Interrupted bool
	ExchangeID  string
	TemplateID  string
	Err         error
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool { return e.Kind != Chunk }

// Options configures an Orchestrator.
type Options struct {
	SystemPrompt    string
	Timeout         time.Duration
	DefaultTemplate string
}

// Orchestrator submits documents to the model.
type Orchestrator struct {
	client    *llm.Client
	templates *prompt.Registry
	sessions  *session.Manager
	opts      Options
	logger    *zap.Logger
}

// New creates an Orchestrator.
func New(client *llm.Client, templates *prompt.Registry, sessions *session.Manager, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		client:    client,
		templates: templates,
		sessions:  sessions,
		opts:      opts,
		logger:    logger.Named("orchestrator"),
	}
}

// Template picks the template for a request: override, then the session's
// active template, then the configured default.
func (o *Orchestrator) Template(sess session.Session, override string) (*prompt.Template, error) {
	id := override
	if id == "" {
		id = sess.ActiveTemplate
	}
	if id == "" {
		id = o.opts.DefaultTemplate
	}
	return o.templates.Get(id)
}

// BuildRequest assembles the message list: the system prompt, the last
// tpl.ContextWindow exchanges of sess as user/assistant pairs, then the
// rendered template. It also returns the rendered user prompt.
func (o *Orchestrator) BuildRequest(doc *recognize.Document, sess session.Session, tpl *prompt.Template) ([]llm.Message, string, error) {
	userPrompt, err := tpl.Render(prompt.DataFrom(doc))
	if err != nil {
		return nil, "", err
	}

	var msgs []llm.Message
	if system := joinNonEmpty("\n\n", o.opts.SystemPrompt, tpl.System); system != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: system})
	}

	history := make([]session.Exchange, 0, len(sess.History))
	for _, ex := range sess.History {
		if ex.Prompt != "" && ex.Response != "" {
			history = append(history, ex)
		}
	}
	if n := tpl.ContextWindow; len(history) > n {
		history = history[len(history)-n:]
	}
	for _, ex := range history {
		msgs = append(msgs,
			llm.Message{Role: "user", Content: ex.Prompt},
			llm.Message{Role: "assistant", Content: ex.Response},
		)
	}

	msgs = append(msgs, llm.Message{Role: "user", Content: userPrompt})
	return msgs, userPrompt, nil
}

func joinNonEmpty(sep string, parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}

// Submit sends doc to the model in the context of sess. The returned channel
// yields Chunk events in arrival order followed by exactly one Complete or
// Failed event, then closes.
//
// Completed responses are appended to the session. A user cancel (ctx
// cancelled with ErrUserCancelled) stores the partial response as cancelled
// and ends with Complete. A stream that breaks after output arrived stores
// the partial response as interrupted. A timeout stores nothing.
func (o *Orchestrator) Submit(ctx context.Context, doc *recognize.Document, sess session.Session, override string) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		out <- o.run(ctx, doc, sess, override, out)
	}()
	return out
}

// run streams chunks into out and returns the terminal event.
func (o *Orchestrator) run(ctx context.Context, doc *recognize.Document, sess session.Session, override string, out chan<- Event) Event {
	tpl, err := o.Template(sess, override)
	if err != nil {
		return Event{Kind: Failed, Err: err}
	}
	msgs, userPrompt, err := o.BuildRequest(doc, sess, tpl)
	if err != nil {
		return Event{Kind: Failed, Err: err, TemplateID: tpl.ID}
	}

	timeoutErr := failure.New(failure.TimeoutExceeded, "no complete response within "+o.opts.Timeout.String())
	var (
		reqCtx context.Context
		cancel context.CancelFunc
	)
	if o.opts.Timeout > 0 {
		reqCtx, cancel = context.WithTimeoutCause(ctx, o.opts.Timeout, timeoutErr)
	} else {
		reqCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	logger := o.logger.With(zap.String("session_id", sess.ID), zap.String("template", tpl.ID))
	ex := session.Exchange{Request: doc, Prompt: userPrompt, TemplateID: tpl.ID}
	var response strings.Builder

	stream, err := o.client.Open(reqCtx, msgs)
	if err == nil {
		defer stream.Close()
		for {
			var chunk string
			chunk, err = stream.Next()
			if err != nil {
				break
			}
			response.WriteString(chunk)
			select {
			case out <- Event{Kind: Chunk, Text: chunk, TemplateID: tpl.ID}:
			case <-reqCtx.Done():
			}
		}
		if errors.Is(err, io.EOF) {
			ex.Response, ex.StreamComplete, ex.Status = response.String(), true, session.StatusComplete
			o.store(logger, sess.ID, &ex)
			logger.Info("response complete", zap.Int("chars", len(ex.Response)))
			return Event{Kind: Complete, Text: ex.Response, ExchangeID: ex.ID, TemplateID: tpl.ID}
		}
	}

	partial := response.String()
	switch {
	case errors.Is(context.Cause(ctx), ErrUserCancelled):
		ex.Response, ex.StreamComplete, ex.Status = partial, true, session.StatusCancelled
		o.store(logger, sess.ID, &ex)
		logger.Info("response cancelled by user", zap.Int("chars", len(partial)))
		return Event{Kind: Complete, Text: partial, Cancelled: true, ExchangeID: ex.ID, TemplateID: tpl.ID}

	case ctx.Err() == nil && errors.Is(context.Cause(reqCtx), timeoutErr):
		logger.Warn("response timed out", zap.Duration("timeout", o.opts.Timeout), zap.Int("discarded_chars", len(partial)))
		return Event{Kind: Failed, Text: partial, Err: timeoutErr, TemplateID: tpl.ID}

	case ctx.Err() != nil:
		return Event{Kind: Failed, Text: partial, Err: failure.Wrap(failure.Cancelled, "request", context.Cause(ctx)), TemplateID: tpl.ID}

	case partial != "":
		ex.Response, ex.StreamComplete, ex.Status = partial, false, session.StatusInterrupted
		o.store(logger, sess.ID, &ex)
		logger.Warn("response interrupted", zap.Int("chars", len(partial)), zap.Error(err))
		return Event{Kind: Failed, Text: partial, Interrupted: true, ExchangeID: ex.ID, Err: err, TemplateID: tpl.ID}
	}

	logger.Warn("request failed", zap.String("kind", string(failure.KindOf(err))), zap.Error(err))
	return Event{Kind: Failed, Err: err, TemplateID: tpl.ID}
}

// store appends ex to the session. A session archived mid-request keeps its
// final state; the exchange is dropped with a warning.
func (o *Orchestrator) store(logger *zap.Logger, sessionID string, ex *session.Exchange) {
	ex.CreatedAt = time.Now()
	if ex.ID == "" {
		ex.ID = ulid.Make().String()
	}
	if err := o.sessions.AppendExchange(sessionID, *ex); err != nil {
		logger.Warn("exchange not stored", zap.String("exchange_id", ex.ID), zap.Error(err))
	}
}
