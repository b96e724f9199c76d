package upload

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const keyPrefix = "uploads/"

var unsafeKeyChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// NewKey returns uploads/<uuid>/<sanitized filename>.
func NewKey(filename string) string {
	return keyPrefix + uuid.NewString() + "/" + keyFilename(filename)
}

func keyFilename(filename string) string {
	name := strings.ToLower(strings.TrimSpace(filename))
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Trim(unsafeKeyChars.ReplaceAllString(name, "-"), "-.")
	if name == "" {
		return "upload"
	}
	return name
}

// ValidateKey rejects anything NewKey could not have produced.
func ValidateKey(key string) error {
	rest, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	id, name, ok := strings.Cut(rest, "/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if keyFilename(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Filename returns the filename part of a key.
func Filename(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}
