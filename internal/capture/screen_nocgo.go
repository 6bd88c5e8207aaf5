//go:build !cgo || !(darwin || linux || windows)

package capture

import (
	"context"

	"github.com/ironsheep/capture-assistant/internal/failure"
)

// Grab reports that screen capture needs a cgo build.
func (DisplayGrabber) Grab(ctx context.Context, display DisplayID) ([]byte, error) {
	return nil, failure.New(failure.CaptureUnavailable, "screen capture requires a cgo build")
}
