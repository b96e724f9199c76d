package sandbox

import "strings"

// Quote returns s quoted for a POSIX shell. Every caller- or repository-derived
// value that ends up in a command string goes through here.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !isShellSafe(r) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Command builds a single command line from an argument vector.
func Command(name string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, Quote(name))
	for _, a := range args {
		parts = append(parts, Quote(a))
	}
	return strings.Join(parts, " ")
}

// And joins command lines so each runs only if the previous one succeeded.
func And(cmds ...string) string {
	return join(cmds, " && ")
}

// Or joins command lines so each runs only if the previous one failed.
func Or(cmds ...string) string {
	return join(cmds, " || ")
}

func join(cmds []string, sep string) string {
	out := make([]string, 0, len(cmds))
	for _, c := range cmds {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	return strings.Join(out, sep)
}

func isShellSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	switch r {
	case '-', '_', '.', '/', ':', ',', '+', '=', '@', '%':
		return true
	}
	return false
}
