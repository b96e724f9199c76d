// Package discover lists the analyzable modules under a project root by
// running find inside the session's execution environment.
package discover

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
	"go.uber.org/zap"

	"repoanalyzer/internal/sandbox"
)

type Discoverer struct {
	profile Profile
	logger  *zap.Logger
}

func New(profile Profile, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{profile: profile, logger: logger}
}

func (d *Discoverer) Profile() Profile { return d.profile }

// Modules returns absolute module directories under root, sorted and free of
// duplicates. Modules matched by the root .gitignore are dropped.
func (d *Discoverer) Modules(ctx context.Context, env sandbox.Environment, root string) ([]string, error) {
	root = path.Clean(root)
	var found []string
	for _, dir := range d.profile.SearchDirs {
		mods, err := d.find(ctx, env, root, path.Join(root, dir), d.profile.Depth)
		if err != nil {
			return nil, err
		}
		found = append(found, mods...)
	}
	if len(d.profile.SearchDirs) == 0 {
		mods, err := d.find(ctx, env, root, root, d.profile.Depth)
		if err != nil {
			return nil, err
		}
		found = mods
	}

	if len(found) == 0 && d.profile.FallbackDepth > 0 {
		mods, err := d.find(ctx, env, root, root, d.profile.FallbackDepth)
		if err != nil {
			return nil, err
		}
		for _, m := range mods {
			if d.profile.FallbackFilter == "" || strings.Contains(m+"/", d.profile.FallbackFilter) {
				found = append(found, m)
			}
		}
	}

	found = d.dropIgnored(ctx, env, root, found)
	return sortUnique(found), nil
}

// findCommand lists module marker files under dir. Missing directories yield
// no output rather than an error.
func (d *Discoverer) findCommand(dir string, depth int) string {
	args := []string{dir, "-maxdepth", strconv.Itoa(depth)}
	if len(d.profile.Prune) > 0 {
		args = append(args, "(")
		for i, p := range d.profile.Prune {
			if i > 0 {
				args = append(args, "-o")
			}
			args = append(args, "-name", p)
		}
		args = append(args, ")", "-prune", "-o")
	}
	args = append(args, "-type", "f", "(")
	for i, f := range d.profile.ModuleFiles {
		if i > 0 {
			args = append(args, "-o")
		}
		if strings.Contains(f, "/") {
			args = append(args, "-path", "*/"+f)
		} else {
			args = append(args, "-name", f)
		}
	}
	args = append(args, ")", "-print")
	return sandbox.Command("test", "-d", dir) + " && " + sandbox.Command("find", args...) + " 2>/dev/null || true"
}

func (d *Discoverer) find(ctx context.Context, env sandbox.Environment, root, dir string, depth int) ([]string, error) {
	res, err := env.Exec(ctx, d.findCommand(dir, depth))
	if err != nil {
		return nil, fmt.Errorf("discover: find under %s: %w", dir, err)
	}
	var mods []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m, ok := d.moduleDir(line); ok {
			mods = append(mods, m)
		}
	}
	d.logger.Debug("module scan", zap.String("dir", dir), zap.Int("depth", depth), zap.Int("found", len(mods)))
	return mods, nil
}

// moduleDir maps a marker file path to its module directory.
func (d *Discoverer) moduleDir(file string) (string, bool) {
	file = path.Clean(file)
	for _, marker := range d.profile.ModuleFiles {
		if strings.Contains(marker, "/") {
			if strings.HasSuffix(file, "/"+marker) {
				return strings.TrimSuffix(file, "/"+marker), true
			}
			continue
		}
		if path.Base(file) == marker {
			return path.Dir(file), true
		}
	}
	return "", false
}

func (d *Discoverer) dropIgnored(ctx context.Context, env sandbox.Environment, root string, mods []string) []string {
	if len(mods) == 0 {
		return mods
	}
	data, err := env.ReadFile(ctx, path.Join(root, ".gitignore"))
	if err != nil {
		return mods
	}
	gi := ignore.CompileIgnoreLines(strings.Split(string(data), "\n")...)

	kept := mods[:0]
	for _, m := range mods {
		rel := strings.TrimPrefix(strings.TrimPrefix(m, root), "/")
		if rel != "" && (gi.MatchesPath(rel) || gi.MatchesPath(rel+"/")) {
			d.logger.Debug("module ignored", zap.String("module", m))
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

func sortUnique(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
