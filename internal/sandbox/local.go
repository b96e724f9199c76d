package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LocalConfig configures the host-directory backend.
type LocalConfig struct {
	// Root holds one directory per session.
	Root string
	// Shell runs command strings as `<Shell> -c <command>`.
	Shell string
	// Timeout bounds a single command. Zero disables the bound.
	Timeout time.Duration
	// MaxOutputBytes caps retained stdout and stderr, each.
	MaxOutputBytes int64
	// AllowedHostEnv lists host variables passed through to commands.
	AllowedHostEnv []string
}

// DefaultLocalConfig returns settings suitable for development.
func DefaultLocalConfig() LocalConfig {
	return LocalConfig{
		Root:           filepath.Join(os.TempDir(), "repoanalyzer", "sessions"),
		Shell:          "bash",
		Timeout:        30 * time.Minute,
		MaxOutputBytes: 10 * 1024 * 1024,
		AllowedHostEnv: []string{"PATH", "HOME", "USER", "LANG", "LC_ALL", "TMPDIR", "TERM", "SSL_CERT_FILE", "SSL_CERT_DIR"},
	}
}

// LocalProvider gives every session its own directory on the host. Commands run
// directly on the host with that directory's workspace as working directory.
type LocalProvider struct {
	cfg    LocalConfig
	logger *zap.Logger
}

func NewLocalProvider(cfg LocalConfig, logger *zap.Logger) *LocalProvider {
	def := DefaultLocalConfig()
	if strings.TrimSpace(cfg.Root) == "" {
		cfg.Root = def.Root
	}
	if strings.TrimSpace(cfg.Shell) == "" {
		cfg.Shell = def.Shell
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = def.MaxOutputBytes
	}
	if cfg.AllowedHostEnv == nil {
		cfg.AllowedHostEnv = def.AllowedHostEnv
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalProvider{cfg: cfg, logger: logger}
}

func (p *LocalProvider) Name() string { return "local" }

// Open creates (or reuses) the session directory.
func (p *LocalProvider) Open(_ context.Context, sessionID string) (Environment, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrUnavailable)
	}
	root, err := filepath.Abs(filepath.Join(p.cfg.Root, SafeName(sessionID)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	workspace := filepath.Join(root, "workspace")
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create workspace: %v", ErrUnavailable, err)
	}
	p.logger.Debug("local sandbox opened", zap.String("session_id", sessionID), zap.String("workspace", workspace))
	return &localEnv{
		id:        sessionID,
		workspace: workspace,
		cfg:       p.cfg,
		vars:      map[string]string{},
		logger:    p.logger.With(zap.String("session_id", sessionID)),
	}, nil
}

type localEnv struct {
	id        string
	workspace string
	cfg       LocalConfig
	logger    *zap.Logger

	mu   sync.RWMutex
	vars map[string]string
}

func (e *localEnv) ID() string        { return e.id }
func (e *localEnv) Workspace() string { return e.workspace }

func (e *localEnv) Exec(ctx context.Context, command string) (ExecResult, error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.cfg.Shell, "-c", command)
	cmd.Dir = e.workspace
	cmd.Env = e.environment()

	var stdout, stderr bytes.Buffer
	outW := &limitedWriter{w: &stdout, max: e.cfg.MaxOutputBytes}
	errW := &limitedWriter{w: &stderr, max: e.cfg.MaxOutputBytes}
	cmd.Stdout = outW
	cmd.Stderr = errW

	started := time.Now()
	err := cmd.Run()
	res := ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: -1,
	}
	if outW.truncated() || errW.truncated() {
		e.logger.Warn("command output truncated", zap.Int64("limit_bytes", e.cfg.MaxOutputBytes))
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
		res.Success = true
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		if ctx.Err() != nil {
			res.Stderr = strings.TrimSpace(res.Stderr + "\n" + ctx.Err().Error())
		}
	default:
		e.logger.Error("command could not start", zap.Error(err))
		return res, fmt.Errorf("exec: %w", err)
	}
	e.logger.Debug("command finished",
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", time.Since(started)),
		zap.Int("stdout_bytes", len(res.Stdout)))
	return res, nil
}

func (e *localEnv) ReadFile(_ context.Context, path string) ([]byte, error) {
	path, err := e.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (e *localEnv) WriteFile(_ context.Context, path string, data []byte) error {
	path, err := e.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (e *localEnv) SetEnvVars(_ context.Context, vars map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, v := range vars {
		k = strings.TrimSpace(k)
		if k == "" || strings.ContainsAny(k, "=\x00") {
			return fmt.Errorf("sandbox: invalid environment variable name %q", k)
		}
		e.vars[k] = v
	}
	return nil
}

// resolve maps relative paths onto the workspace.
func (e *localEnv) resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", ErrInvalidPath
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.workspace, path)
	}
	return filepath.Clean(path), nil
}

func (e *localEnv) environment() []string {
	env := make([]string, 0, len(e.cfg.AllowedHostEnv)+len(e.vars))
	for _, key := range e.cfg.AllowedHostEnv {
		if val, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+val)
		}
	}
	e.mu.RLock()
	keys := make([]string, 0, len(e.vars))
	for k := range e.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+e.vars[k])
	}
	e.mu.RUnlock()
	return env
}
