// Package sink delivers pipeline outcomes to presentation layers and keeps
// the clipboard history.
//
// Outcomes are published as JSON on an in-process watermill topic. Every
// subscriber sees every outcome of a run in delivery order.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"

	"github.com/ironsheep/capture-assistant/internal/history"
)

// DefaultTopic is the topic outcomes are published on.
const DefaultTopic = "capture.outcomes"

// Copier writes text to the system clipboard.
type Copier interface {
	Copy(ctx context.Context, text string) error
}

// Options configures a Sink.
type Options struct {
	Topic string
	// CopyToClipboard copies every success text through the Copier.
	CopyToClipboard bool
	// Buffer sizes each subscriber's channel.
	Buffer int
	// CopyTimeout bounds how long Deliver waits for the Copier. Zero means
	// DefaultCopyTimeout.
	CopyTimeout time.Duration
}

// DefaultCopyTimeout is the default Options.CopyTimeout.
const DefaultCopyTimeout = 2 * time.Second

// Sink is the Result Sink.
type Sink struct {
	pubSub      *gochannel.GoChannel
	topic       string
	store       *history.Store
	copier      Copier
	copy        bool
	copyTimeout time.Duration
	buffer      int
	md          goldmark.Markdown
	logger      *zap.Logger

	mu       sync.Mutex
	retained []Outcome
}

// New creates a sink. store and copier may be nil.
func New(store *history.Store, copier Copier, opts Options, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.CopyTimeout <= 0 {
		opts.CopyTimeout = DefaultCopyTimeout
	}

	// Blocking until ack keeps chunks of one run in order for every subscriber.
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            int64(opts.Buffer),
			BlockPublishUntilSubscriberAck: true,
		},
		watermill.NopLogger{},
	)

	return &Sink{
		pubSub:      pubSub,
		topic:       opts.Topic,
		store:       store,
		copier:      copier,
		copy:        opts.CopyToClipboard && copier != nil,
		copyTimeout: opts.CopyTimeout,
		buffer:      opts.Buffer,
		md:          goldmark.New(goldmark.WithExtensions(extension.GFM)),
		logger:      logger.Named("sink"),
	}
}

// Deliver publishes o to every subscriber. Success outcomes are rendered to
// HTML, stored in the history, and copied to the clipboard when enabled.
// History and clipboard errors are logged, not returned.
func (s *Sink) Deliver(ctx context.Context, o Outcome) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}

	if o.Kind == Success && o.Text != "" {
		o.HTML = s.RenderHTML(o.Text)

		if err := s.Persist(ctx, o); err != nil {
			s.logger.Warn("failed to persist outcome", zap.String("run_id", o.RunID), zap.Error(err))
		}
		if s.copy {
			if err := s.copyText(ctx, o.Text); err != nil {
				s.logger.Warn("failed to copy outcome", zap.String("run_id", o.RunID), zap.Error(err))
			}
		}
	}

	switch o.Kind {
	case Failure:
		fields := []zap.Field{zap.String("run_id", o.RunID)}
		if o.Failure != nil {
			fields = append(fields, zap.String("kind", string(o.Failure.Kind)), zap.String("detail", o.Failure.Detail))
		}
		s.logger.Info("run failed", fields...)
	case Success:
		s.logger.Info("run succeeded",
			zap.String("run_id", o.RunID),
			zap.Int("chars", len(o.Text)),
			zap.Bool("cancelled", o.Cancelled),
		)
	}

	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}
	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.SetContext(ctx)
	if err := s.pubSub.Publish(s.topic, msg); err != nil {
		return fmt.Errorf("failed to publish outcome: %w", err)
	}
	return nil
}

// Announce delivers o and keeps it, so subscribers that arrive later still
// receive it first. It serves process-wide notices such as a capture mode that
// failed to start.
func (s *Sink) Announce(ctx context.Context, o Outcome) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.retained = append(s.retained, o)
	s.mu.Unlock()
	return s.Deliver(ctx, o)
}

// copyText runs the Copier for at most copyTimeout. A Copier that ignores its
// context is left to finish in the background.
func (s *Sink) copyText(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.copyTimeout)
	done := make(chan error, 1)
	go func() {
		defer cancel()
		done <- s.copier.Copy(ctx, text)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("clipboard copy: %w", ctx.Err())
	}
}

// Subscribe returns the announced outcomes, then every outcome delivered
// after the call, until ctx is done. The consumer must keep reading; a
// stalled subscriber stalls delivery.
func (s *Sink) Subscribe(ctx context.Context) (<-chan Outcome, error) {
	messages, err := s.pubSub.Subscribe(ctx, s.topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to outcomes: %w", err)
	}

	s.mu.Lock()
	replay := append([]Outcome(nil), s.retained...)
	s.mu.Unlock()
	replayed := make(map[string]bool, len(replay))
	for _, o := range replay {
		replayed[o.RunID] = true
	}

	out := make(chan Outcome, s.buffer)
	go func() {
		defer close(out)
		for _, o := range replay {
			select {
			case out <- o:
			case <-ctx.Done():
				return
			}
		}
		for msg := range messages {
			var o Outcome
			if err := json.Unmarshal(msg.Payload, &o); err != nil {
				s.logger.Error("failed to decode outcome", zap.Error(err))
				msg.Ack()
				continue
			}
			// An announcement racing this call arrives both ways.
			if replayed[o.RunID] && o.Final() {
				msg.Ack()
				continue
			}
			select {
			case out <- o:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// Persist appends o's text to the clipboard history. Without a store it does
// nothing.
func (s *Sink) Persist(ctx context.Context, o Outcome) error {
	if s.store == nil || o.Text == "" {
		return nil
	}
	kind := string(o.Kind)
	if o.Cancelled {
		kind = "cancelled"
	}
	_, err := s.store.Add(ctx, history.Entry{
		RunID:      o.RunID,
		SessionID:  o.SessionID,
		TemplateID: o.TemplateID,
		Kind:       kind,
		Text:       o.Text,
		CreatedAt:  o.CreatedAt,
	})
	return err
}

// History returns the most recent history entries, newest first.
func (s *Sink) History(ctx context.Context, limit int) ([]history.Entry, error) {
	if s.store == nil {
		return []history.Entry{}, nil
	}
	return s.store.List(ctx, limit)
}

// RenderHTML converts Markdown to HTML. On a rendering error it returns "".
func (s *Sink) RenderHTML(markdown string) string {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(markdown), &buf); err != nil {
		s.logger.Debug("markdown render failed", zap.Error(err))
		return ""
	}
	return buf.String()
}

// Close stops delivery and closes every subscription.
func (s *Sink) Close() error {
	return s.pubSub.Close()
}
