// Package jsonextract recovers a single JSON value from noisy text such as
// CLI model output: prose, fenced code blocks, previews and trailing chatter.
//
// Nothing in this package returns an error. Callers get either a parsed value
// or "not found" and are expected to degrade to an empty default.
package jsonextract

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)```")

// Extract returns the first JSON array or object found in text.
// The boolean is false when no balanced, parseable span exists.
func Extract(text string) (json.RawMessage, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}

	if m := fencedBlock.FindStringSubmatch(text); len(m) == 2 {
		inner := strings.TrimSpace(m[1])
		if strings.HasPrefix(inner, "[") || strings.HasPrefix(inner, "{") {
			if raw, ok := parse(inner); ok {
				return raw, true
			}
		}
	}

	arrayStart := strings.IndexByte(text, '[')
	objectStart := strings.IndexByte(text, '{')
	if arrayStart < 0 && objectStart < 0 {
		return nil, false
	}

	first, second := objectStart, arrayStart
	firstOpen, secondOpen := byte('{'), byte('[')
	if arrayStart >= 0 && (objectStart < 0 || arrayStart <= objectStart) {
		first, second = arrayStart, objectStart
		firstOpen, secondOpen = '[', '{'
	}

	if span, ok := balancedSpan(text, first, firstOpen); ok {
		return parse(span)
	}
	// An opener that never closes is noise; the other kind may still hold the value.
	if second >= 0 {
		if span, ok := balancedSpan(text, second, secondOpen); ok {
			return parse(span)
		}
	}
	return nil, false
}

// Decode is Extract followed by unmarshalling into a generic value.
func Decode(text string) (any, bool) {
	raw, ok := Extract(text)
	if !ok {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

// DecodeObject returns the extracted value when it is a JSON object.
func DecodeObject(text string) (map[string]any, bool) {
	v, ok := Decode(text)
	if !ok {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}

// DecodeArray returns the extracted value when it is a JSON array.
func DecodeArray(text string) ([]any, bool) {
	v, ok := Decode(text)
	if !ok {
		return nil, false
	}
	arr, ok := v.([]any)
	return arr, ok
}

// balancedSpan scans from start counting open/close depth outside string
// literals. Backslash escapes are honoured inside strings only.
func balancedSpan(text string, start int, open byte) (string, bool) {
	closeCh := byte('}')
	if open == '[' {
		closeCh = ']'
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func parse(candidate string) (json.RawMessage, bool) {
	candidate = strings.TrimSpace(candidate)
	if !json.Valid([]byte(candidate)) {
		return nil, false
	}
	return json.RawMessage(candidate), true
}
