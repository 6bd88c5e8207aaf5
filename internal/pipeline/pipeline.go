// Package pipeline runs captures through preprocessing, recognition and the
// orchestrator, and delivers the outcome to the sink.
//
// Each capture is one run on its own goroutine. Runs share only the session
// manager, so a failing run never affects another.
package pipeline

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/ironsheep/capture-assistant/internal/capture"
	"github.com/ironsheep/capture-assistant/internal/failure"
	"github.com/ironsheep/capture-assistant/internal/orchestrator"
	"github.com/ironsheep/capture-assistant/internal/preprocess"
	"github.com/ironsheep/capture-assistant/internal/recognize"
	"github.com/ironsheep/capture-assistant/internal/session"
	"github.com/ironsheep/capture-assistant/internal/sink"
)

// ErrUnknownRun is returned by Cancel for a run that is not in flight.
var ErrUnknownRun = errors.New("no such run in flight")

// Request is one capture to process.
type Request struct {
	Event capture.Event
	// Template overrides the session's template for this run only.
	Template string
}

// Runner executes pipeline runs.
type Runner struct {
	pre      *preprocess.Preprocessor
	rec      *recognize.Recognizer
	orch     *orchestrator.Orchestrator
	sessions *session.Manager
	sink     *sink.Sink
	logger   *zap.Logger

	mu   sync.Mutex
	runs map[string]context.CancelCauseFunc
	wg   sync.WaitGroup
}

// New creates a Runner.
func New(pre *preprocess.Preprocessor, rec *recognize.Recognizer, orch *orchestrator.Orchestrator,
	sessions *session.Manager, out *sink.Sink, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		pre:      pre,
		rec:      rec,
		orch:     orch,
		sessions: sessions,
		sink:     out,
		logger:   logger.Named("pipeline"),
		runs:     make(map[string]context.CancelCauseFunc),
	}
}

// Serve starts a run for every event until events is closed or ctx is done,
// then waits for the runs in flight.
func (r *Runner) Serve(ctx context.Context, events <-chan capture.Event) {
	defer r.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.Start(ctx, Request{Event: ev})
		}
	}
}

// Start runs req in the background and returns its run ID, which is the
// capture event ID.
func (r *Runner) Start(ctx context.Context, req Request) string {
	runCtx, runID := r.register(ctx, req)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.execute(runCtx, runID, req)
	}()
	return runID
}

// RunAndWait runs req on the calling goroutine and returns its final outcome.
// The run can still be cancelled through Cancel.
func (r *Runner) RunAndWait(ctx context.Context, req Request) sink.Outcome {
	runCtx, runID := r.register(ctx, req)
	return r.execute(runCtx, runID, req)
}

// Cancel stops a run in flight. A run already streaming keeps the partial
// response in its session and delivers it marked as cancelled.
func (r *Runner) Cancel(runID string) error {
	r.mu.Lock()
	cancel, ok := r.runs[runID]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownRun
	}
	cancel(orchestrator.ErrUserCancelled)
	r.logger.Info("run cancel requested", zap.String("run_id", runID))
	return nil
}

// InFlight returns the IDs of the runs in progress.
func (r *Runner) InFlight() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	return ids
}

// Wait blocks until every background run has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) register(ctx context.Context, req Request) (context.Context, string) {
	runCtx, cancel := context.WithCancelCause(ctx)
	runID := req.Event.ID()
	r.mu.Lock()
	r.runs[runID] = cancel
	r.mu.Unlock()
	return runCtx, runID
}

func (r *Runner) unregister(runID string) {
	r.mu.Lock()
	cancel, ok := r.runs[runID]
	delete(r.runs, runID)
	r.mu.Unlock()
	if ok {
		cancel(nil)
	}
}

// execute runs one capture and delivers its final outcome.
func (r *Runner) execute(ctx context.Context, runID string, req Request) sink.Outcome {
	defer r.unregister(runID)

	logger := r.logger.With(zap.String("run_id", runID))
	logger.Debug("run started", zap.Object("event", req.Event))

	out := r.process(ctx, runID, req, logger)
	out.RunID = runID

	// The final outcome is delivered even when the run was cancelled.
	if err := r.sink.Deliver(context.WithoutCancel(ctx), out); err != nil {
		logger.Error("failed to deliver outcome", zap.Error(err))
	}
	return out
}

func (r *Runner) process(ctx context.Context, runID string, req Request, logger *zap.Logger) sink.Outcome {
	segments, err := r.pre.Process(ctx, req.Event)
	if err != nil {
		return sink.Failed(runID, err)
	}
	if len(segments) == 0 {
		logger.Info("no content in capture")
		return sink.Failed(runID, failure.New(failure.NoContentRecognized, "no text regions detected"))
	}

	doc, err := r.rec.Recognize(ctx, req.Event, segments)
	if err != nil {
		return sink.Failed(runID, err)
	}
	if doc.FullyUnrecognized {
		return sink.Failed(runID, failure.Wrapf(failure.RecognitionError, nil, "all %d segments unrecognized", len(segments)))
	}

	sess := r.sessions.Resolve(req.Event.Context())

	var final orchestrator.Event
	for ev := range r.orch.Submit(ctx, doc, sess, req.Template) {
		if ev.Terminal() {
			final = ev
			continue
		}
		chunk := sink.PartialChunk(runID, ev.Text)
		chunk.SessionID, chunk.TemplateID = sess.ID, ev.TemplateID
		if err := r.sink.Deliver(ctx, chunk); err != nil {
			logger.Warn("failed to deliver chunk", zap.Error(err))
		}
	}

	var out sink.Outcome
	if final.Kind == orchestrator.Complete {
		out = sink.Succeeded(runID, final.Text)
		out.Cancelled = final.Cancelled
	} else {
		out = sink.Failed(runID, final.Err)
		if final.Interrupted {
			out.Interrupted = true
			out.Text = final.Text
		}
	}
	out.SessionID, out.TemplateID = sess.ID, final.TemplateID
	out.Unrecognized = doc.Unrecognized()
	return out
}
