package capture

import "strings"

// navigationKeys are reported as-is. Every other key is dropped unless it
// is a single alphanumeric pressed with Ctrl or Cmd; free text is captured
// by the input handler instead.
var navigationKeys = map[string]bool{
	"Enter":      true,
	"Tab":        true,
	"Escape":     true,
	"ArrowUp":    true,
	"ArrowDown":  true,
	"ArrowLeft":  true,
	"ArrowRight": true,
	"Home":       true,
	"End":        true,
	"PageUp":     true,
	"PageDown":   true,
	"Backspace":  true,
	"Delete":     true,
}

// NormalizeKey returns the reported form of a keydown and whether it is
// reported at all. Shortcuts become "CmdOrCtrl+<UPPER>".
func NormalizeKey(key string, ctrl, meta bool) (string, bool) {
	if navigationKeys[key] {
		return key, true
	}
	if (ctrl || meta) && len(key) == 1 && isAlnum(key[0]) {
		return "CmdOrCtrl+" + strings.ToUpper(key), true
	}
	return "", false
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
