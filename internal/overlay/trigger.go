package overlay

import (
	"context"
	"sync"

	"github.com/ironsheep/capture-assistant/internal/capture"
)

// Trigger is the HTTP capture mode. Captures posted to the bridge are
// emitted into the capture adapter's stream like any other producer's.
type Trigger struct {
	maxChars int

	mu   sync.RWMutex
	emit capture.Emit
}

// NewTrigger creates the HTTP capture producer. Text longer than maxChars
// runes is truncated.
func NewTrigger(maxChars int) *Trigger {
	return &Trigger{maxChars: maxChars}
}

// Mode implements capture.Producer.
func (t *Trigger) Mode() string { return capture.ModeHTTP }

// Start implements capture.Producer.
func (t *Trigger) Start(ctx context.Context, emit capture.Emit) error {
	t.mu.Lock()
	t.emit = emit
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		t.mu.Lock()
		t.emit = nil
		t.mu.Unlock()
	}()
	return nil
}

// Ready reports whether the trigger is attached to a running adapter.
func (t *Trigger) Ready() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.emit != nil
}

// submit emits ev and reports whether it was accepted.
func (t *Trigger) submit(ev capture.Event) bool {
	t.mu.RLock()
	emit := t.emit
	t.mu.RUnlock()
	if emit == nil {
		return false
	}
	return emit(ev)
}
