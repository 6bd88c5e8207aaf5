//go:build cgo && (darwin || linux || windows)

package capture

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.design/x/clipboard"

	"github.com/ironsheep/capture-assistant/internal/failure"
)

var (
	clipboardOnce sync.Once
	clipboardErr  error
)

func initClipboard() error {
	clipboardOnce.Do(func() {
		clipboardErr = clipboard.Init()
	})
	return clipboardErr
}

// Start begins watching the clipboard.
func (c *Clipboard) Start(ctx context.Context, emit Emit) error {
	if err := initClipboard(); err != nil {
		return failure.Wrap(failure.CaptureUnavailable, "clipboard access", err)
	}

	c.setWatching(true)
	texts := clipboard.Watch(ctx, clipboard.FmtText)
	var images <-chan []byte
	if c.images {
		images = clipboard.Watch(ctx, clipboard.FmtImage)
	}

	go func() {
		defer c.setWatching(false)
		wctx := WorkflowContext{Mode: ModeClipboard}
		for {
			var ev Event
			select {
			case <-ctx.Done():
				return
			case data, ok := <-texts:
				if !ok {
					return
				}
				if c.isOwn(data) || strings.TrimSpace(string(data)) == "" {
					continue
				}
				ev = NewTextEvent(TruncateSelection(string(data), c.maxChars), 0, wctx)
			case data, ok := <-images:
				if !ok {
					images = nil
					continue
				}
				ev = NewImageEvent(data, 0, wctx)
			}
			if !emit(ev) {
				return
			}
		}
	}()
	return nil
}

// Copy writes text to the clipboard. It returns once the write is made; the
// channel from clipboard.Write only fires when another program takes the
// clipboard over, so it is not waited on.
func (c *Clipboard) Copy(ctx context.Context, text string) error {
	if err := initClipboard(); err != nil {
		return failure.Wrap(failure.CaptureUnavailable, "clipboard access", err)
	}
	data := []byte(text)
	// The watcher sees no change for identical content, so a marker would linger.
	if bytes.Equal(clipboard.Read(clipboard.FmtText), data) {
		return nil
	}
	c.markOwn(data)
	if clipboard.Write(clipboard.FmtText, data) == nil {
		c.isOwn(data)
		return failure.New(failure.CaptureUnavailable, "clipboard write failed")
	}
	c.logger.Debug("copied result to clipboard", zap.Int("bytes", len(data)))
	return nil
}

// ReadSelection returns the current clipboard text. It serves as the
// SelectionReader for the text-selection hotkey: copy, then press the hotkey.
func (c *Clipboard) ReadSelection(ctx context.Context) (string, error) {
	if err := initClipboard(); err != nil {
		return "", failure.Wrap(failure.CaptureUnavailable, "clipboard access", err)
	}
	return string(clipboard.Read(clipboard.FmtText)), nil
}
