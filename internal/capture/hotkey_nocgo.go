//go:build !cgo || !(darwin || linux || windows)

package capture

import (
	"context"

	"github.com/ironsheep/capture-assistant/internal/failure"
)

// RunOnMainThread runs fn.
func RunOnMainThread(fn func()) {
	fn()
}

// Start reports that global hotkeys need a cgo build.
func (p *HotkeyProducer) Start(ctx context.Context, emit Emit) error {
	return failure.New(failure.CaptureUnavailable, "global hotkeys require a cgo build")
}
