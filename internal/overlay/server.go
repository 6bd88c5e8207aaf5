// Package overlay serves the local presentation bridge: a websocket stream of
// outcomes for tooltip or notification front ends, plus HTTP endpoints to
// trigger captures, cancel runs and browse the clipboard history.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ironsheep/capture-assistant/internal/capture"
	"github.com/ironsheep/capture-assistant/internal/history"
	"github.com/ironsheep/capture-assistant/internal/pipeline"
	"github.com/ironsheep/capture-assistant/internal/sink"
)

// MaxImageBytes bounds an uploaded capture image.
const MaxImageBytes = 32 << 20

const writeTimeout = 5 * time.Second

// Canceller cancels runs in flight.
type Canceller interface {
	Cancel(runID string) error
}

// Outcomes is the sink side the bridge reads from.
type Outcomes interface {
	Subscribe(ctx context.Context) (<-chan sink.Outcome, error)
	History(ctx context.Context, limit int) ([]history.Entry, error)
}

// Server is the overlay bridge.
type Server struct {
	trigger  *Trigger
	runs     Canceller
	outcomes Outcomes
	origins  []string
	validate *validator.Validate
	logger   *zap.Logger
}

// New creates the bridge. origins lists the browser origins allowed to open
// the websocket; requests without an Origin header are always accepted.
func New(trigger *Trigger, runs Canceller, outcomes Outcomes, origins []string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(origins) == 0 {
		origins = []string{"localhost:*", "127.0.0.1:*"}
	}
	return &Server{
		trigger:  trigger,
		runs:     runs,
		outcomes: outcomes,
		origins:  origins,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.Named("overlay"),
	}
}

// Routes returns the bridge's HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/healthz"))
	r.Use(s.logRequests)

	r.Get("/ws", s.handleStream)
	r.Get("/history", s.handleHistory)
	r.Route("/capture", func(r chi.Router) {
		r.Post("/text", s.handleCaptureText)
		r.Post("/image", s.handleCaptureImage)
	})
	r.Post("/runs/{runID}/cancel", s.handleCancel)
	return r
}

// ListenAndServe serves the bridge on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("overlay bridge listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("overlay bridge: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("overlay bridge shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// handleStream upgrades to a websocket and writes every outcome as JSON.
// With ?run=<id> only that run's outcomes are sent.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// The bridge never reads; CloseRead handles control frames and ends ctx
	// when the client goes away.
	ctx := conn.CloseRead(r.Context())
	outcomes, err := s.outcomes.Subscribe(ctx)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	runFilter := r.URL.Query().Get("run")

	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-outcomes:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if runFilter != "" && o.RunID != runFilter {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, o)
			cancel()
			if err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

type textCapture struct {
	Text   string `json:"text" validate:"required"`
	Window string `json:"window"`
}

type captureAccepted struct {
	RunID string `json:"run_id"`
}

func (s *Server) handleCaptureText(w http.ResponseWriter, r *http.Request) {
	var req textCapture
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	ev := capture.NewTextEvent(
		capture.TruncateSelection(req.Text, s.trigger.maxChars),
		0,
		capture.WorkflowContext{Mode: capture.ModeHTTP, Window: req.Window},
	)
	s.accept(w, ev)
}

func (s *Server) handleCaptureImage(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxImageBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read image")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty image")
		return
	}

	display, _ := strconv.Atoi(r.URL.Query().Get("display"))
	ev := capture.NewImageEvent(data, capture.DisplayID(display), capture.WorkflowContext{
		Mode:   capture.ModeHTTP,
		Window: r.URL.Query().Get("window"),
	})
	s.accept(w, ev)
}

func (s *Server) accept(w http.ResponseWriter, ev capture.Event) {
	if !s.trigger.submit(ev) {
		writeError(w, http.StatusServiceUnavailable, "capture stream is not running")
		return
	}
	writeJSON(w, http.StatusAccepted, captureAccepted{RunID: ev.ID()})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := s.runs.Cancel(runID); err != nil {
		if errors.Is(err, pipeline.ErrUnknownRun) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.outcomes.History(r.Context(), limit)
	if err != nil {
		s.logger.Error("history query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
