package capture

import (
	"context"
	"fmt"
	"image"
	"strings"

	"go.uber.org/zap"

	"github.com/ironsheep/capture-assistant/internal/failure"
)

// ScreenGrabber captures a display as encoded image bytes.
type ScreenGrabber interface {
	Grab(ctx context.Context, display DisplayID) ([]byte, error)
}

// SelectionReader returns the user's current text selection.
type SelectionReader interface {
	ReadSelection(ctx context.Context) (string, error)
}

// HotkeyProducer emits an image event for the screenshot hotkey and a text
// event for the text-selection hotkey. Every key press yields its own event.
type HotkeyProducer struct {
	bindings  map[Action]string
	grabber   ScreenGrabber
	selection SelectionReader
	display   DisplayID
	maxChars  int
	logger    *zap.Logger
}

// HotkeyOptions configures a HotkeyProducer.
type HotkeyOptions struct {
	Screenshot string
	TextSelect string
	Display    DisplayID
	MaxChars   int
}

// NewHotkeyProducer creates the global hotkey producer.
func NewHotkeyProducer(opts HotkeyOptions, grabber ScreenGrabber, selection SelectionReader, logger *zap.Logger) *HotkeyProducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HotkeyProducer{
		bindings: map[Action]string{
			ActionScreenshot: opts.Screenshot,
			ActionTextSelect: opts.TextSelect,
		},
		grabber:   grabber,
		selection: selection,
		display:   opts.Display,
		maxChars:  opts.MaxChars,
		logger:    logger.Named("hotkey"),
	}
}

// Mode implements Producer.
func (p *HotkeyProducer) Mode() string { return ModeHotkey }

// trigger turns one key press into an event. Grab or read failures are logged
// and skipped; the producer keeps listening. It returns false when the stream
// is closed.
func (p *HotkeyProducer) trigger(ctx context.Context, action Action, emit Emit) bool {
	wctx := WorkflowContext{Mode: ModeHotkey}

	switch action {
	case ActionScreenshot:
		if p.grabber == nil {
			return true
		}
		data, err := p.grabber.Grab(ctx, p.display)
		if err != nil {
			p.logger.Warn("screen grab failed", zap.Error(err))
			return true
		}
		return emit(NewImageEvent(data, p.display, wctx))

	case ActionTextSelect:
		if p.selection == nil {
			return true
		}
		text, err := p.selection.ReadSelection(ctx)
		if err != nil {
			p.logger.Warn("read selection failed", zap.Error(err))
			return true
		}
		if strings.TrimSpace(text) == "" {
			p.logger.Debug("empty selection ignored")
			return true
		}
		return emit(NewTextEvent(TruncateSelection(text, p.maxChars), 0, wctx))
	}
	return true
}

// DisplayGrabber grabs the local screen. Region, relative to the display's
// top-left corner, limits the grab to part of the display; an empty Region
// grabs the whole display.
type DisplayGrabber struct {
	Region image.Rectangle
}

// grabBounds returns the absolute rectangle to capture on a display with the
// given bounds. A region reaching past the display is clipped; one entirely
// outside it is an error.
func grabBounds(display, region image.Rectangle) (image.Rectangle, error) {
	if region.Empty() {
		return display, nil
	}
	r := region.Add(display.Min).Intersect(display)
	if r.Empty() {
		return image.Rectangle{}, failure.New(failure.CaptureUnavailable,
			fmt.Sprintf("capture region %v lies outside the display (%dx%d)", region, display.Dx(), display.Dy()))
	}
	return r, nil
}
