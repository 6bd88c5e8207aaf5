//go:build cgo && (darwin || linux || windows)

package capture

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.design/x/hotkey"
	"golang.design/x/hotkey/mainthread"

	"github.com/ironsheep/capture-assistant/internal/failure"
)

var keyTable = map[string]hotkey.Key{
	"a": hotkey.KeyA, "b": hotkey.KeyB, "c": hotkey.KeyC, "d": hotkey.KeyD,
	"e": hotkey.KeyE, "f": hotkey.KeyF, "g": hotkey.KeyG, "h": hotkey.KeyH,
	"i": hotkey.KeyI, "j": hotkey.KeyJ, "k": hotkey.KeyK, "l": hotkey.KeyL,
	"m": hotkey.KeyM, "n": hotkey.KeyN, "o": hotkey.KeyO, "p": hotkey.KeyP,
	"q": hotkey.KeyQ, "r": hotkey.KeyR, "s": hotkey.KeyS, "t": hotkey.KeyT,
	"u": hotkey.KeyU, "v": hotkey.KeyV, "w": hotkey.KeyW, "x": hotkey.KeyX,
	"y": hotkey.KeyY, "z": hotkey.KeyZ,
	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3,
	"4": hotkey.Key4, "5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7,
	"8": hotkey.Key8, "9": hotkey.Key9,
	"space": hotkey.KeySpace, "tab": hotkey.KeyTab,
	"enter": hotkey.KeyReturn, "return": hotkey.KeyReturn,
	"esc": hotkey.KeyEscape, "escape": hotkey.KeyEscape,
	"f1": hotkey.KeyF1, "f2": hotkey.KeyF2, "f3": hotkey.KeyF3, "f4": hotkey.KeyF4,
	"f5": hotkey.KeyF5, "f6": hotkey.KeyF6, "f7": hotkey.KeyF7, "f8": hotkey.KeyF8,
	"f9": hotkey.KeyF9, "f10": hotkey.KeyF10, "f11": hotkey.KeyF11, "f12": hotkey.KeyF12,
}

// RunOnMainThread runs fn with the OS main thread available for hotkey
// registration, which macOS requires. It blocks until fn returns.
func RunOnMainThread(fn func()) {
	mainthread.Init(fn)
}

func toHotkey(b Binding) (*hotkey.Hotkey, error) {
	key, ok := keyTable[b.Key]
	if !ok {
		return nil, fmt.Errorf("unsupported key %q", b.Key)
	}
	mods := make([]hotkey.Modifier, 0, len(b.Modifiers))
	for _, m := range b.Modifiers {
		mod, ok := modifierTable[m]
		if !ok {
			return nil, fmt.Errorf("modifier %q is not available on this platform", m)
		}
		mods = append(mods, mod)
	}
	return hotkey.New(mods, key), nil
}

// Start registers the configured hotkeys and listens for them.
func (p *HotkeyProducer) Start(ctx context.Context, emit Emit) error {
	type registered struct {
		action Action
		hk     *hotkey.Hotkey
	}
	var hks []registered
	unregister := func() {
		for _, r := range hks {
			if err := r.hk.Unregister(); err != nil {
				p.logger.Debug("unregister hotkey", zap.String("action", string(r.action)), zap.Error(err))
			}
		}
	}

	for _, action := range []Action{ActionScreenshot, ActionTextSelect} {
		combo, ok := p.bindings[action]
		if !ok || combo == "" {
			continue
		}
		b, err := ParseBinding(combo)
		if err != nil {
			unregister()
			return failure.Wrap(failure.CaptureUnavailable, "parse hotkey", err)
		}
		hk, err := toHotkey(b)
		if err != nil {
			unregister()
			return failure.Wrapf(failure.CaptureUnavailable, err, "hotkey %s", b)
		}
		if err := hk.Register(); err != nil {
			unregister()
			return failure.Wrapf(failure.CaptureUnavailable, err, "register hotkey %s", b)
		}
		p.logger.Info("hotkey registered", zap.String("action", string(action)), zap.String("binding", b.String()))
		hks = append(hks, registered{action: action, hk: hk})
	}
	if len(hks) == 0 {
		return failure.New(failure.CaptureUnavailable, "no hotkeys configured")
	}

	// One goroutine selects over every hotkey so events keep OS order.
	var screenshot, textSelect <-chan hotkey.Event
	for _, r := range hks {
		switch r.action {
		case ActionScreenshot:
			screenshot = r.hk.Keydown()
		case ActionTextSelect:
			textSelect = r.hk.Keydown()
		}
	}

	go func() {
		defer unregister()
		for {
			select {
			case <-ctx.Done():
				return
			case <-screenshot:
				if !p.trigger(ctx, ActionScreenshot, emit) {
					return
				}
			case <-textSelect:
				if !p.trigger(ctx, ActionTextSelect, emit) {
					return
				}
			}
		}
	}()
	return nil
}
