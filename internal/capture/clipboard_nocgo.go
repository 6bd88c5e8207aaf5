//go:build !cgo || !(darwin || linux || windows)

package capture

import (
	"context"

	"github.com/ironsheep/capture-assistant/internal/failure"
)

var errNoClipboard = failure.New(failure.CaptureUnavailable, "clipboard access requires a cgo build")

// Start reports that clipboard access needs a cgo build.
func (c *Clipboard) Start(ctx context.Context, emit Emit) error {
	return errNoClipboard
}

// Copy reports that clipboard access needs a cgo build.
func (c *Clipboard) Copy(ctx context.Context, text string) error {
	return errNoClipboard
}

// ReadSelection reports that clipboard access needs a cgo build.
func (c *Clipboard) ReadSelection(ctx context.Context) (string, error) {
	return "", errNoClipboard
}
