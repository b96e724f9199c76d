// Package tool invokes the external inference CLI inside an execution
// environment. Every content invocation is preceded by a health check so a
// missing binary or missing credentials fail fast instead of hanging.
package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"repoanalyzer/internal/sandbox"
)

// ErrUnhealthy is matched by every *HealthError.
var ErrUnhealthy = errors.New("tool: unhealthy")

// CredentialKeys are the environment variables that make the tool usable.
var CredentialKeys = []string{"ANTHROPIC_API_KEY", "AWS_BEARER_TOKEN_BEDROCK", "CLAUDE_CODE_USE_BEDROCK"}

// Health is the outcome of one health check.
type Health struct {
	CLI   bool
	Creds bool
}

func (h Health) OK() bool { return h.CLI && h.Creds }

// Status renders the check the way progress messages show it.
func (h Health) Status() string {
	return fmt.Sprintf("cli: %s, creds: %s", okOrMissing(h.CLI), okOrMissing(h.Creds))
}

func okOrMissing(b bool) string {
	if b {
		return "ok"
	}
	return "missing"
}

// HealthError is returned by Invoke when the check fails.
type HealthError struct {
	Health
	Err error
}

func (e *HealthError) Error() string {
	if e.Err != nil {
		return "tool: health check: " + e.Err.Error()
	}
	return "tool: unhealthy (" + e.Status() + ")"
}

func (e *HealthError) Is(target error) bool { return target == ErrUnhealthy }

func (e *HealthError) Unwrap() error { return e.Err }

type Config struct {
	// Binary is the CLI name looked up on PATH inside the environment.
	Binary string
	// PromptFlag passes the instruction non-interactively.
	PromptFlag     string
	CredentialKeys []string
	Limiter        *Limiter
}

func DefaultConfig() Config {
	return Config{
		Binary:         "claude",
		PromptFlag:     "-p",
		CredentialKeys: CredentialKeys,
	}
}

type Invoker struct {
	cfg    Config
	logger *zap.Logger
}

func NewInvoker(cfg Config, logger *zap.Logger) *Invoker {
	def := DefaultConfig()
	if cfg.Binary == "" {
		cfg.Binary = def.Binary
	}
	if cfg.PromptFlag == "" {
		cfg.PromptFlag = def.PromptFlag
	}
	if len(cfg.CredentialKeys) == 0 {
		cfg.CredentialKeys = def.CredentialKeys
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invoker{cfg: cfg, logger: logger}
}

func (i *Invoker) cliCheckCommand() string {
	return fmt.Sprintf("command -v %s >/dev/null 2>&1 && echo ok || echo missing", sandbox.Quote(i.cfg.Binary))
}

func (i *Invoker) credsCheckCommand() string {
	pattern := "^(" + strings.Join(i.cfg.CredentialKeys, "|") + ")="
	return fmt.Sprintf("if env | grep -qE %s; then echo creds_ok; else echo creds_missing; fi", sandbox.Quote(pattern))
}

// Check probes the environment for the binary and credentials.
func (i *Invoker) Check(ctx context.Context, env sandbox.Environment) (Health, error) {
	var h Health
	res, err := env.Exec(ctx, i.cliCheckCommand())
	if err != nil {
		return h, fmt.Errorf("cli check: %w", err)
	}
	h.CLI = strings.TrimSpace(res.Stdout) == "ok"

	res, err = env.Exec(ctx, i.credsCheckCommand())
	if err != nil {
		return h, fmt.Errorf("credential check: %w", err)
	}
	h.Creds = strings.Contains(res.Stdout, "creds_ok")
	return h, nil
}

// BuildCommand is the shell line for one content invocation. workdir may be
// empty.
func (i *Invoker) BuildCommand(workdir, prompt string) string {
	call := sandbox.Command(i.cfg.Binary, i.cfg.PromptFlag, prompt)
	if workdir == "" {
		return call
	}
	return sandbox.And(sandbox.Command("cd", workdir), call)
}

// Invoke runs the tool with prompt in workdir and returns its raw output. It
// never parses the output.
func (i *Invoker) Invoke(ctx context.Context, env sandbox.Environment, workdir, prompt string) (string, error) {
	h, err := i.Check(ctx, env)
	if err != nil {
		return "", &HealthError{Health: h, Err: err}
	}
	if !h.OK() {
		i.logger.Info("tool unhealthy", zap.String("session_id", env.ID()), zap.Bool("cli", h.CLI), zap.Bool("creds", h.Creds))
		return "", &HealthError{Health: h}
	}

	if err := i.cfg.Limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("tool: rate limit: %w", err)
	}
	res, err := env.Exec(ctx, i.BuildCommand(workdir, prompt))
	if err != nil {
		return "", fmt.Errorf("tool: exec: %w", err)
	}
	if !res.Success {
		i.logger.Debug("tool exited non-zero", zap.String("session_id", env.ID()), zap.Int("exit_code", res.ExitCode))
	}
	return res.Output(), nil
}
