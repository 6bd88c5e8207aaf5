//go:build cgo && (darwin || linux || windows)

package capture

import (
	"context"
	"fmt"

	"github.com/kbinani/screenshot"

	"github.com/ironsheep/capture-assistant/internal/failure"
	"github.com/ironsheep/capture-assistant/internal/imaging"
)

// Grab captures the display, or its configured region, and encodes it as PNG.
func (g DisplayGrabber) Grab(ctx context.Context, display DisplayID) ([]byte, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, failure.New(failure.CaptureUnavailable, "no active display")
	}
	if int(display) < 0 || int(display) >= n {
		return nil, failure.New(failure.CaptureUnavailable, fmt.Sprintf("display %d not found (%d active)", display, n))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds, err := grabBounds(screenshot.GetDisplayBounds(int(display)), g.Region)
	if err != nil {
		return nil, err
	}
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, failure.Wrap(failure.CaptureUnavailable, "capture screen", err)
	}
	return imaging.EncodePNG(img)
}
