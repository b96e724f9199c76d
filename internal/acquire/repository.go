package acquire

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"repoanalyzer/internal/sandbox"
)

func unixMilli() int64 { return time.Now().UnixMilli() }

// RepoName is the last path segment of a repository URL without ".git".
func RepoName(repoURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(repoURL), "/")
	if i := strings.LastIndexAny(trimmed, "/:"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	name := strings.TrimSuffix(trimmed, ".git")
	if name == "" || name == "." || name == ".." {
		return "repo"
	}
	return name
}

// TargetDir is the deterministic directory a repository URL is materialized in.
func TargetDir(workspace, repoURL string) string {
	return path.Join(workspace, RepoName(repoURL))
}

// TarballURL derives the archive download URL for a hosted repository. ok is
// false when owner and name cannot be read from the URL.
func (a *Acquirer) TarballURL(repoURL string) (string, bool) {
	u, err := url.Parse(repoURL)
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host != "github.com" {
		return "", false
	}
	parts := strings.FieldsFunc(strings.TrimSuffix(u.Path, ".git"), func(r rune) bool { return r == '/' })
	if len(parts) < 2 {
		return "", false
	}
	return fmt.Sprintf("%s/%s/%s/tarball", strings.TrimRight(a.cfg.TarballBase, "/"),
		url.PathEscape(parts[0]), url.PathEscape(strings.TrimSuffix(parts[1], ".git"))), true
}

func (a *Acquirer) acquireRepository(ctx context.Context, env sandbox.Environment, repoURL string, progress Progress) (AcquiredRoot, error) {
	name := RepoName(repoURL)
	target := TargetDir(env.Workspace(), repoURL)
	root := AcquiredRoot{Path: target, Provenance: ProvenanceRepository}

	if _, err := run(ctx, env, sandbox.Command("mkdir", "-p", env.Workspace())); err != nil {
		return AcquiredRoot{}, fmt.Errorf("%w: prepare workspace: %v", ErrAcquireFailed, err)
	}
	present, err := exists(ctx, env, target)
	if err != nil {
		return AcquiredRoot{}, fmt.Errorf("%w: %v", ErrAcquireFailed, err)
	}
	if present {
		progress.send("Repository already present. Skipping clone.")
		return root, nil
	}

	if tarURL, ok := a.TarballURL(repoURL); ok {
		progress.send("Fetching repository tarball: " + repoURL)
		err := a.fetchTarball(ctx, env, tarURL, target)
		if err == nil {
			progress.send("Fetch complete: " + name)
			return root, nil
		}
		a.logger.Warn("tarball fetch failed", zap.String("session_id", env.ID()), zap.String("url", tarURL), zap.Error(err))
		progress.send("Fallback to git clone due to tarball fetch error.")
		// a half-extracted tree would make git refuse the target
		if _, err := run(ctx, env, sandbox.Command("rm", "-rf", target)); err != nil {
			return AcquiredRoot{}, fmt.Errorf("%w: clean target: %v", ErrAcquireFailed, err)
		}
	} else {
		progress.send("Cloning repository: " + repoURL)
	}

	clone := sandbox.Command("git", "clone", "--depth", "1", "--no-tags", "--filter=blob:none", repoURL, target)
	if _, err := run(ctx, env, clone); err != nil {
		a.logger.Warn("git clone failed", zap.String("session_id", env.ID()), zap.String("repo", repoURL), zap.Error(err))
		return AcquiredRoot{}, fmt.Errorf("%w: %s: %v", ErrAcquireFailed, repoURL, err)
	}
	progress.send("Clone complete: " + name)
	return root, nil
}

func (a *Acquirer) fetchTarball(ctx context.Context, env sandbox.Environment, tarURL, target string) error {
	const archive = "repo.tar.gz"
	cmd := "set -e; " + sandbox.And(
		sandbox.Command("mkdir", "-p", target),
		sandbox.Command("cd", target),
		sandbox.Command("curl", "-fsSL", tarURL, "-o", archive),
		sandbox.Command("tar", "-xzf", archive, "--strip-components=1"),
		sandbox.Command("rm", "-f", archive),
	)
	_, err := run(ctx, env, cmd)
	return err
}
