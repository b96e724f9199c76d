package acquire

import (
	"context"
	"fmt"
	"path"
	"strings"

	"repoanalyzer/internal/sandbox"
)

func (a *Acquirer) hasMarker(ctx context.Context, env sandbox.Environment, dir string) (bool, error) {
	if len(a.cfg.RootMarkers) == 0 {
		return false, nil
	}
	tests := make([]string, 0, len(a.cfg.RootMarkers))
	for _, m := range a.cfg.RootMarkers {
		tests = append(tests, sandbox.Command("test", "-e", path.Join(dir, m)))
	}
	res, err := env.Exec(ctx, "{ "+sandbox.Or(tests...)+"; } && echo marker || echo none")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(res.Stdout) == "marker", nil
}

// listEntries returns the entries of dir; directories carry a trailing slash.
func listEntries(ctx context.Context, env sandbox.Environment, dir string) ([]string, error) {
	res, err := run(ctx, env, sandbox.Command("ls", "-1Ap", dir))
	if err != nil {
		return nil, err
	}
	var entries []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			entries = append(entries, line)
		}
	}
	return entries, nil
}

// DetectRoot skips wrapper directories: while dir has no root marker and
// holds exactly one entry that is a directory, it descends into it. Detection
// never fails the request; listing errors stop the descent.
func (a *Acquirer) DetectRoot(ctx context.Context, env sandbox.Environment, base string, progress Progress) (string, error) {
	progress.send("Detecting module root...")
	dir := base
	for i := 0; i < a.cfg.RootDepth; i++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("detect root: %w", err)
		}
		found, err := a.hasMarker(ctx, env, dir)
		if err != nil || found {
			break
		}
		entries, err := listEntries(ctx, env, dir)
		if err != nil || len(entries) != 1 || !strings.HasSuffix(entries[0], "/") {
			break
		}
		dir = path.Join(dir, strings.TrimSuffix(entries[0], "/"))
	}
	if dir != base {
		progress.send("Detected nested root: " + dir)
	}
	return dir, nil
}
