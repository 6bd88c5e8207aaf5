package capture

import (
	"fmt"
	"strings"
)

// Action is what a hotkey triggers.
type Action string

const (
	ActionScreenshot Action = "screenshot"
	ActionTextSelect Action = "text_select"
)

// Binding is a parsed hotkey such as "ctrl+shift+x". Modifiers are normalized
// to ctrl, shift, alt and cmd and kept in that order.
type Binding struct {
	Modifiers []string
	Key       string
}

func (b Binding) String() string {
	return strings.Join(append(append([]string(nil), b.Modifiers...), b.Key), "+")
}

var modifierAliases = map[string]string{
	"ctrl":    "ctrl",
	"control": "ctrl",
	"shift":   "shift",
	"alt":     "alt",
	"option":  "alt",
	"opt":     "alt",
	"cmd":     "cmd",
	"command": "cmd",
	"super":   "cmd",
	"win":     "cmd",
	"meta":    "cmd",
}

var modifierOrder = []string{"ctrl", "shift", "alt", "cmd"}

// ParseBinding parses a hotkey string. Exactly one non-modifier key is
// required and at least one modifier, since a bare global key would swallow
// normal typing.
func ParseBinding(s string) (Binding, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "+")
	seen := make(map[string]bool)
	var key string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return Binding{}, fmt.Errorf("invalid hotkey %q: empty key", s)
		}
		if m, ok := modifierAliases[p]; ok {
			seen[m] = true
			continue
		}
		if key != "" {
			return Binding{}, fmt.Errorf("invalid hotkey %q: more than one key", s)
		}
		if !validKey(p) {
			return Binding{}, fmt.Errorf("invalid hotkey %q: unsupported key %q", s, p)
		}
		key = p
	}
	if key == "" {
		return Binding{}, fmt.Errorf("invalid hotkey %q: no key", s)
	}
	if len(seen) == 0 {
		return Binding{}, fmt.Errorf("invalid hotkey %q: at least one modifier required", s)
	}

	b := Binding{Key: key}
	for _, m := range modifierOrder {
		if seen[m] {
			b.Modifiers = append(b.Modifiers, m)
		}
	}
	return b, nil
}

// validKey accepts a-z, 0-9, f1-f12 and a few named keys.
func validKey(k string) bool {
	if len(k) == 1 {
		c := k[0]
		return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
	}
	switch k {
	case "space", "tab", "enter", "return", "esc", "escape",
		"f1", "f2", "f3", "f4", "f5", "f6", "f7", "f8", "f9", "f10", "f11", "f12":
		return true
	}
	return false
}
