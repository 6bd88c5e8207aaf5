package capture

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/ironsheep/capture-assistant/internal/failure"
)

// ErrAlreadySubscribed is returned by a second call to Adapter.Subscribe.
var ErrAlreadySubscribed = errors.New("capture adapter already subscribed")

// Emit delivers an event to the adapter's stream. It blocks until the event is
// accepted and returns false once the stream is shutting down.
type Emit func(Event) bool

// Producer is one capture mode.
//
// Start must return promptly. If the platform capability is missing it
// returns a CaptureUnavailable failure and emits nothing. Otherwise it emits
// events from its own goroutines until ctx is done. A producer emits from a
// single goroutine so its events keep the order of the underlying OS events.
type Producer interface {
	Mode() string
	Start(ctx context.Context, emit Emit) error
}

// Unavailable records a capture mode that could not start.
type Unavailable struct {
	Mode string `json:"mode"`
	Err  error  `json:"-"`
	// Reason is Err's message, kept for JSON status output.
	Reason string `json:"reason"`
}

// Adapter merges its producers into one event stream.
type Adapter struct {
	producers []Producer
	buffer    int
	logger    *zap.Logger

	mu          sync.Mutex
	subscribed  bool
	unavailable []Unavailable

	sendMu sync.RWMutex
	closed bool
}

// NewAdapter creates an adapter over producers. buffer sizes the event channel.
func NewAdapter(logger *zap.Logger, buffer int, producers ...Producer) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		producers: producers,
		buffer:    buffer,
		logger:    logger.Named("capture"),
	}
}

// Subscribe starts every producer and returns the merged stream. The stream
// is infinite until ctx is done, then closed. It cannot be restarted: a second
// call returns ErrAlreadySubscribed.
//
// Producers that report CaptureUnavailable are logged once, recorded in
// Unavailable, and never retried; the others keep running. Subscribe fails
// only when no producer could start.
func (a *Adapter) Subscribe(ctx context.Context) (<-chan Event, error) {
	a.mu.Lock()
	if a.subscribed {
		a.mu.Unlock()
		return nil, ErrAlreadySubscribed
	}
	a.subscribed = true
	a.mu.Unlock()

	out := make(chan Event, a.buffer)
	emit := func(ev Event) bool {
		a.sendMu.RLock()
		defer a.sendMu.RUnlock()
		if a.closed {
			return false
		}
		select {
		case out <- ev:
			a.logger.Debug("capture event", zap.Object("event", ev))
			return true
		case <-ctx.Done():
			return false
		}
	}

	started := 0
	for _, p := range a.producers {
		if err := p.Start(ctx, emit); err != nil {
			a.markUnavailable(p.Mode(), err)
			continue
		}
		a.logger.Info("capture mode started", zap.String("mode", p.Mode()))
		started++
	}

	go func() {
		<-ctx.Done()
		a.sendMu.Lock()
		a.closed = true
		close(out)
		a.sendMu.Unlock()
	}()

	if started == 0 && len(a.producers) > 0 {
		return out, failure.New(failure.CaptureUnavailable, "no capture mode could be started")
	}
	return out, nil
}

func (a *Adapter) markUnavailable(mode string, err error) {
	a.mu.Lock()
	a.unavailable = append(a.unavailable, Unavailable{Mode: mode, Err: err, Reason: err.Error()})
	a.mu.Unlock()

	a.logger.Warn("capture mode unavailable",
		zap.String("mode", mode),
		zap.String("kind", string(failure.KindOf(err))),
		zap.Error(err),
	)
}

// Unavailable lists the capture modes that failed to start.
func (a *Adapter) Unavailable() []Unavailable {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Unavailable(nil), a.unavailable...)
}

// Modes lists the configured capture modes in start order.
func (a *Adapter) Modes() []string {
	modes := make([]string, len(a.producers))
	for i, p := range a.producers {
		modes[i] = p.Mode()
	}
	return modes
}
