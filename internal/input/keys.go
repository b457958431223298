package input

import (
	"fmt"
	"strings"
)

var keyAliases = map[string]string{
	"control": "ctrl",
	"return":  "enter",
	"escape":  "esc",
	"win":     "cmd",
	"super":   "cmd",
	"meta":    "cmd",
	"command": "cmd",
	"option":  "alt",
	"del":     "delete",
	"pgup":    "pageup",
	"pgdn":    "pagedown",
	"bksp":    "backspace",
}

var modifiers = map[string]bool{"ctrl": true, "alt": true, "shift": true, "cmd": true}

// NormalizeKey lowercases a key name and maps common aliases to the names
// robotgo expects.
func NormalizeKey(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	if alias, ok := keyAliases[k]; ok {
		return alias
	}
	return k
}

// SplitHotkey separates the tapped key from its modifiers. Keys may also be
// given as one "ctrl+shift+s" string.
func SplitHotkey(keys []string) (string, []string, error) {
	var all []string
	for _, k := range keys {
		for _, part := range strings.Split(k, "+") {
			if part = NormalizeKey(part); part != "" {
				all = append(all, part)
			}
		}
	}
	if len(all) == 0 {
		return "", nil, fmt.Errorf("hotkey needs at least one key")
	}
	key, mods := all[len(all)-1], all[:len(all)-1]
	for _, m := range mods {
		if !modifiers[m] {
			return "", nil, fmt.Errorf("%q is not a modifier", m)
		}
	}
	return key, mods, nil
}
