package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DockerConfig configures the container-per-session backend.
type DockerConfig struct {
	Binary         string
	Image          string
	Workspace      string
	Shell          string
	NamePrefix     string
	Timeout        time.Duration
	MaxOutputBytes int64
}

// DefaultDockerConfig returns the settings used when none are supplied.
func DefaultDockerConfig() DockerConfig {
	return DockerConfig{
		Binary:         "docker",
		Image:          "repoanalyzer-sandbox:latest",
		Workspace:      "/workspace",
		Shell:          "bash",
		NamePrefix:     "analyzer-",
		Timeout:        30 * time.Minute,
		MaxOutputBytes: 10 * 1024 * 1024,
	}
}

// dockerRunner runs the docker CLI with env added to its process
// environment. Replaced in tests.
type dockerRunner func(ctx context.Context, stdin io.Reader, env []string, args ...string) (ExecResult, error)

// DockerProvider keeps one long-lived container per session. Containers are
// created with `docker run -d ... sleep infinity` and reused by name, so a
// later request for the same session lands in the same filesystem.
type DockerProvider struct {
	cfg    DockerConfig
	run    dockerRunner
	logger *zap.Logger
}

func NewDockerProvider(cfg DockerConfig, logger *zap.Logger) *DockerProvider {
	def := DefaultDockerConfig()
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = def.Binary
	}
	if strings.TrimSpace(cfg.Image) == "" {
		cfg.Image = def.Image
	}
	if strings.TrimSpace(cfg.Workspace) == "" {
		cfg.Workspace = def.Workspace
	}
	if strings.TrimSpace(cfg.Shell) == "" {
		cfg.Shell = def.Shell
	}
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = def.NamePrefix
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = def.MaxOutputBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &DockerProvider{cfg: cfg, logger: logger}
	p.run = p.runCLI
	return p
}

func (p *DockerProvider) Name() string { return "docker" }

// Open starts the session container if it is not already running.
func (p *DockerProvider) Open(ctx context.Context, sessionID string) (Environment, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrUnavailable)
	}
	name := p.cfg.NamePrefix + SafeName(sessionID)

	state, err := p.run(ctx, nil, nil, "inspect", "-f", "{{.State.Running}}", name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch {
	case state.Success && strings.TrimSpace(state.Stdout) == "true":
	case state.Success:
		if res, err := p.run(ctx, nil, nil, "start", name); err != nil || !res.Success {
			return nil, fmt.Errorf("%w: start container %s: %s", ErrUnavailable, name, errText(res, err))
		}
	default:
		res, err := p.run(ctx, nil, nil, "run", "-d",
			"--name", name,
			"--label", "repoanalyzer.session="+sessionID,
			"-w", p.cfg.Workspace,
			p.cfg.Image, "sleep", "infinity")
		if err != nil || !res.Success {
			return nil, fmt.Errorf("%w: create container %s: %s", ErrUnavailable, name, errText(res, err))
		}
		p.logger.Info("sandbox container created", zap.String("session_id", sessionID), zap.String("container", name))
	}

	env := &dockerEnv{
		id:        sessionID,
		container: name,
		provider:  p,
		vars:      map[string]string{},
	}
	if res, err := env.Exec(ctx, Command("mkdir", "-p", p.cfg.Workspace)); err != nil || !res.Success {
		return nil, fmt.Errorf("%w: prepare workspace: %s", ErrUnavailable, errText(res, err))
	}
	return env, nil
}

func (p *DockerProvider) runCLI(ctx context.Context, stdin io.Reader, env []string, args ...string) (ExecResult, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, p.cfg.Binary, args...)
	cmd.Stdin = stdin
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, max: p.cfg.MaxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderr, max: p.cfg.MaxOutputBytes}
	err := cmd.Run()
	res := ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
		res.Success = true
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, fmt.Errorf("docker %s: %w", firstArg(args), err)
	}
	return res, nil
}

type dockerEnv struct {
	id        string
	container string
	provider  *DockerProvider

	mu   sync.RWMutex
	vars map[string]string
}

func (e *dockerEnv) ID() string        { return e.id }
func (e *dockerEnv) Workspace() string { return e.provider.cfg.Workspace }

func (e *dockerEnv) Exec(ctx context.Context, command string) (ExecResult, error) {
	args, env := e.execArgs()
	args = append(args, e.container, e.provider.cfg.Shell, "-c", command)
	return e.provider.run(ctx, nil, env, args...)
}

func (e *dockerEnv) ReadFile(ctx context.Context, p string) ([]byte, error) {
	if !path.IsAbs(p) {
		return nil, ErrInvalidPath
	}
	res, err := e.provider.run(ctx, nil, nil, "exec", e.container, "cat", "--", p)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("read %s: %s", p, strings.TrimSpace(res.Stderr))
	}
	return []byte(res.Stdout), nil
}

func (e *dockerEnv) WriteFile(ctx context.Context, p string, data []byte) error {
	if !path.IsAbs(p) {
		return ErrInvalidPath
	}
	script := And(
		Command("mkdir", "-p", path.Dir(p)),
		"cat > "+Quote(p),
	)
	res, err := e.provider.run(ctx, bytes.NewReader(data), nil, "exec", "-i", e.container, "sh", "-c", script)
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("write %s: %s", p, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (e *dockerEnv) SetEnvVars(_ context.Context, vars map[string]string) error {
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

// execArgs names overlay variables with bare -e flags and returns their values
// separately, so secrets reach the docker CLI through its environment rather
// than its argv.
func (e *dockerEnv) execArgs() ([]string, []string) {
	args := []string{"exec", "-w", e.provider.cfg.Workspace}
	e.mu.RLock()
	keys := make([]string, 0, len(e.vars))
	for k := range e.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		args = append(args, "-e", k)
		env = append(env, k+"="+e.vars[k])
	}
	e.mu.RUnlock()
	return args, env
}

func errText(res ExecResult, err error) string {
	if err != nil {
		return err.Error()
	}
	if s := strings.TrimSpace(res.Stderr); s != "" {
		return s
	}
	return fmt.Sprintf("exit code %d", res.ExitCode)
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
