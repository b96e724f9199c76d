// Package acquire materializes a source tree inside a session's execution
// environment and resolves the directory that should be treated as the
// project root.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"repoanalyzer/internal/sandbox"
)

var (
	// ErrAcquireFailed reports that every strategy for a source failed.
	ErrAcquireFailed = errors.New("acquire: repository acquisition failed")
	// ErrExtractFailed reports that no extraction tool could unpack an archive.
	ErrExtractFailed = errors.New("acquire: archive extraction failed")
	// ErrNoSource reports a request that names nothing to analyze.
	ErrNoSource = errors.New("acquire: no repository source")
)

// Provenance names the strategy family that produced an AcquiredRoot.
type Provenance string

const (
	ProvenanceRepository    Provenance = "repository"
	ProvenanceUpload        Provenance = "upload"
	ProvenanceRemoteArchive Provenance = "remote-archive"
	ProvenanceExisting      Provenance = "existing"
)

// Source is one of the supported ways to name a source tree. When several
// are set the first non-empty one in field order wins.
type Source struct {
	Path             string
	Archive          []byte
	Filename         string
	RemoteArchiveURL string
	RepoURL          string
}

// Empty reports whether the source names nothing.
func (s Source) Empty() bool {
	return strings.TrimSpace(s.Path) == "" && len(s.Archive) == 0 &&
		strings.TrimSpace(s.RemoteArchiveURL) == "" && strings.TrimSpace(s.RepoURL) == ""
}

// AcquiredRoot is a materialized source tree.
type AcquiredRoot struct {
	// Path is the project root inside the execution environment.
	Path       string     `json:"path"`
	Provenance Provenance `json:"provenance"`
}

type Progress func(message string)

func (p Progress) send(message string) {
	if p != nil {
		p(message)
	}
}

type Config struct {
	// RootMarkers are relative paths whose presence marks a project root.
	RootMarkers []string
	// RootDepth bounds how many wrapper directories DetectRoot descends.
	RootDepth int
	// TarballBase is the API prefix tarball URLs are derived from.
	TarballBase string
}

func DefaultConfig() Config {
	return Config{
		RootMarkers: []string{"app/code", "vendor/magento"},
		RootDepth:   3,
		TarballBase: "https://api.github.com/repos",
	}
}

type Acquirer struct {
	cfg    Config
	logger *zap.Logger
	now    func() int64
}

func New(cfg Config, logger *zap.Logger) *Acquirer {
	def := DefaultConfig()
	if cfg.RootMarkers == nil {
		cfg.RootMarkers = def.RootMarkers
	}
	if cfg.RootDepth <= 0 {
		cfg.RootDepth = def.RootDepth
	}
	if cfg.TarballBase == "" {
		cfg.TarballBase = def.TarballBase
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Acquirer{cfg: cfg, logger: logger, now: unixMilli}
}

// Acquire materializes src under env's workspace. Acquisition by repository
// URL is idempotent: an existing target directory is reused as-is.
func (a *Acquirer) Acquire(ctx context.Context, env sandbox.Environment, src Source, progress Progress) (AcquiredRoot, error) {
	switch {
	case strings.TrimSpace(src.Path) != "":
		return AcquiredRoot{Path: strings.TrimSpace(src.Path), Provenance: ProvenanceExisting}, nil
	case len(src.Archive) > 0:
		return a.acquireUpload(ctx, env, src.Archive, src.Filename, progress)
	case strings.TrimSpace(src.RemoteArchiveURL) != "":
		return a.acquireRemoteArchive(ctx, env, strings.TrimSpace(src.RemoteArchiveURL), progress)
	case strings.TrimSpace(src.RepoURL) != "":
		return a.acquireRepository(ctx, env, strings.TrimSpace(src.RepoURL), progress)
	}
	return AcquiredRoot{}, ErrNoSource
}

// run executes cmd and turns a non-zero exit into an error carrying the
// command output.
func run(ctx context.Context, env sandbox.Environment, cmd string) (sandbox.ExecResult, error) {
	res, err := env.Exec(ctx, cmd)
	if err != nil {
		return res, err
	}
	if !res.Success {
		return res, fmt.Errorf("exit %d: %s", res.ExitCode, strings.TrimSpace(res.Output()))
	}
	return res, nil
}

func exists(ctx context.Context, env sandbox.Environment, p string) (bool, error) {
	res, err := env.Exec(ctx, sandbox.Command("test", "-e", p)+" && echo exists || echo missing")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(res.Stdout) == "exists", nil
}
