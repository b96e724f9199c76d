// Package sandbox abstracts the execution environment a session runs in.
//
// The rest of the system only needs four capabilities from it: run a shell
// command, read a file, write a file and set environment variables. Backends
// (a host directory per session, or a long-lived container per session) live
// behind the Provider interface.
package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	// ErrUnavailable reports that no environment could be obtained for a session.
	ErrUnavailable = errors.New("sandbox: environment unavailable")
	// ErrInvalidPath reports an empty or relative path handed to file operations.
	ErrInvalidPath = errors.New("sandbox: invalid path")
)

// ExecResult is the outcome of one shell command.
// Success mirrors the command's own exit status (exit code 0).
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Success  bool
}

// Output returns stdout on success and stderr on failure, falling back to the
// other stream when the preferred one is empty.
func (r ExecResult) Output() string {
	primary, secondary := r.Stderr, r.Stdout
	if r.Success {
		primary, secondary = r.Stdout, r.Stderr
	}
	if strings.TrimSpace(primary) != "" {
		return primary
	}
	return secondary
}

// Environment is one session's execution environment.
type Environment interface {
	// ID is the session identifier the environment is bound to.
	ID() string
	// Workspace is the base directory acquisitions are materialized under.
	Workspace() string
	// Exec runs command through the backend's shell. A non-nil error means the
	// command could not be run at all; a failing command is reported via
	// ExecResult.Success.
	Exec(ctx context.Context, command string) (ExecResult, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	// SetEnvVars merges vars into the environment seen by later Exec calls.
	// Applying the same variables twice is a no-op.
	SetEnvVars(ctx context.Context, vars map[string]string) error
}

// Provider resolves the environment bound to a session identifier. Opening the
// same identifier twice must address the same underlying environment.
type Provider interface {
	Name() string
	Open(ctx context.Context, sessionID string) (Environment, error)
}

// SafeName maps a session identifier onto a filesystem and container safe name.
// Identifiers kept verbatim never contain "__"; every other identifier is
// rewritten and gets a "__" plus a hash of the raw id, so two distinct
// identifiers never share a name.
func SafeName(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == id && out != "" && !strings.Contains(out, "__") {
		return out
	}
	if out == "" {
		out = "session"
	}
	sum := sha256.Sum256([]byte(id))
	return out + "__" + hex.EncodeToString(sum[:])[:12]
}
