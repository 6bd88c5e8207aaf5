// Package capture turns platform input (global hotkeys, clipboard changes,
// screen grabs, local HTTP triggers) into a single stream of immutable Events.
//
// Platform mechanisms sit behind the Producer interface; each implementation is
// selected at build time and the rest of the program never branches on the
// operating system.
package capture

import (
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap/zapcore"
)

// Kind distinguishes text payloads from image payloads.
type Kind int

const (
	KindText Kind = iota
	KindImageRegion
)

func (k Kind) String() string {
	if k == KindImageRegion {
		return "image_region"
	}
	return "text"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// DisplayID identifies the display a capture came from. Zero is the primary
// display; text captures that are not tied to a screen also use zero.
type DisplayID int

// Capture mode names, used for WorkflowContext.Mode and capture.modes config.
const (
	ModeHotkey    = "hotkey"
	ModeClipboard = "clipboard"
	ModeHTTP      = "http"
	ModeMCP       = "mcp"
	ModeCLI       = "cli"
)

// WorkflowContext describes where a capture happened. Session keys are
// derived from it.
type WorkflowContext struct {
	// Mode is the capture mode that produced the event.
	Mode string `json:"mode"`
	// Window is an opaque identifier of the active window or document, when
	// the producer knows it.
	Window string `json:"window,omitempty"`
}

// Event is a normalized capture. It is immutable: the payload matches Kind by
// construction and raster bytes are copied in and out.
type Event struct {
	id        string
	kind      Kind
	text      string
	raster    []byte
	display   DisplayID
	context   WorkflowContext
	timestamp time.Time
}

// NewTextEvent creates a text capture.
func NewTextEvent(text string, display DisplayID, wctx WorkflowContext) Event {
	return Event{
		id:        ulid.Make().String(),
		kind:      KindText,
		text:      text,
		display:   display,
		context:   wctx,
		timestamp: time.Now().UTC(),
	}
}

// NewImageEvent creates an image-region capture from encoded image bytes
// (PNG, JPEG, ...). The bytes are copied.
func NewImageEvent(raster []byte, display DisplayID, wctx WorkflowContext) Event {
	return Event{
		id:        ulid.Make().String(),
		kind:      KindImageRegion,
		raster:    append([]byte(nil), raster...),
		display:   display,
		context:   wctx,
		timestamp: time.Now().UTC(),
	}
}

func (e Event) ID() string               { return e.id }
func (e Event) Kind() Kind               { return e.kind }
func (e Event) Display() DisplayID       { return e.display }
func (e Event) Context() WorkflowContext { return e.context }
func (e Event) Timestamp() time.Time     { return e.timestamp }
func (e Event) IsZero() bool             { return e.id == "" }

// Text returns the text payload. It is empty for image events.
func (e Event) Text() string { return e.text }

// Raster returns a copy of the encoded image payload. It is nil for text events.
func (e Event) Raster() []byte {
	if e.raster == nil {
		return nil
	}
	return append([]byte(nil), e.raster...)
}

// RasterSize returns the payload size without copying it.
func (e Event) RasterSize() int { return len(e.raster) }

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (e Event) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("id", e.id)
	enc.AddString("kind", e.kind.String())
	enc.AddString("mode", e.context.Mode)
	if e.context.Window != "" {
		enc.AddString("window", e.context.Window)
	}
	enc.AddInt("display", int(e.display))
	if e.kind == KindText {
		enc.AddInt("chars", utf8.RuneCountInString(e.text))
	} else {
		enc.AddInt("bytes", len(e.raster))
	}
	enc.AddTime("timestamp", e.timestamp)
	return nil
}

// TruncateSelection shortens s to at most max runes. A non-positive max leaves
// s unchanged.
func TruncateSelection(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
