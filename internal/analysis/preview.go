package analysis

import "strings"

const previewLimit = 200

// preview shortens tool output for progress messages.
func preview(out string) string {
	r := []rune(out)
	if len(r) > previewLimit {
		r = r[:previewLimit]
	}
	return strings.Join(strings.Fields(string(r)), " ")
}
