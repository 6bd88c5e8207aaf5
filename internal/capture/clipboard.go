package capture

import (
	"crypto/sha256"
	"sync"

	"go.uber.org/zap"
)

// Clipboard watches the system clipboard for new text or images and can
// write results back to it. Writes made through Copy are not re-emitted as
// captures.
type Clipboard struct {
	maxChars int
	images   bool
	logger   *zap.Logger

	mu        sync.Mutex
	watching  bool
	ownWrites map[[sha256.Size]byte]int
}

// maxOwnWrites caps pending self-write markers. Markers only matter while the
// watcher runs, and a burst beyond this many is dropped.
const maxOwnWrites = 32

// ClipboardOptions configures a Clipboard.
type ClipboardOptions struct {
	MaxChars int
	// Images also emits image events for copied images.
	Images bool
}

// NewClipboard creates the clipboard producer.
func NewClipboard(opts ClipboardOptions, logger *zap.Logger) *Clipboard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Clipboard{
		maxChars:  opts.MaxChars,
		images:    opts.Images,
		logger:    logger.Named("clipboard"),
		ownWrites: make(map[[sha256.Size]byte]int),
	}
}

// Mode implements Producer.
func (c *Clipboard) Mode() string { return ModeClipboard }

// Images reports whether copied images are captured too.
func (c *Clipboard) Images() bool { return c.images }

// setWatching records whether the watcher runs. Stopping it drops every
// pending marker.
func (c *Clipboard) setWatching(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watching = on
	if !on {
		clear(c.ownWrites)
	}
}

// markOwn records a write the watcher should skip. Without a running watcher
// nothing would consume the marker, so none is kept.
func (c *Clipboard) markOwn(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.watching {
		return
	}
	if len(c.ownWrites) >= maxOwnWrites {
		clear(c.ownWrites)
	}
	c.ownWrites[sha256.Sum256(data)]++
}

// isOwn consumes one pending self-write marker for data.
func (c *Clipboard) isOwn(data []byte) bool {
	sum := sha256.Sum256(data)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ownWrites[sum] == 0 {
		return false
	}
	c.ownWrites[sum]--
	if c.ownWrites[sum] == 0 {
		delete(c.ownWrites, sum)
	}
	return true
}
