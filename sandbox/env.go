package sandbox

import (
	"os"
	"strings"
)

// filterEnv builds the child environment from the parent's, stripping the
// service's own credentials (exact keys) and anything whose name contains
// a protected substring (KEY, TOKEN, SECRET, PASSWORD, CREDENTIAL).
// Innocuous keys like PATH, HOME, SHELL and LANG pass through untouched.
func filterEnv(protectedKeys map[string]bool, protectedSubstrings []string) []string {
	out := make([]string, 0, len(os.Environ()))
	for _, kv := range os.Environ() {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if protectedKeys[name] {
			continue
		}
		upper := strings.ToUpper(name)
		skip := false
		for _, sub := range protectedSubstrings {
			if strings.Contains(upper, sub) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		out = append(out, kv)
	}
	return out
}
