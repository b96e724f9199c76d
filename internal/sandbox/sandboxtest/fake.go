// Package sandboxtest provides a scripted in-memory sandbox.Environment.
package sandboxtest

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"repoanalyzer/internal/sandbox"
)

// Rule answers every command containing Match. Rules are checked in the order
// they were added; the first match wins.
type Rule struct {
	Match  string
	Result sandbox.ExecResult
	Err    error
	// Do runs after a match, before the result is returned.
	Do func(cmd string)
	// Reply, when set, computes the result instead of Result.
	Reply func(cmd string) sandbox.ExecResult
}

// Env records commands and answers them from rules. Unmatched commands
// succeed with empty output.
type Env struct {
	id        string
	workspace string

	mu       sync.Mutex
	rules    []Rule
	commands []string
	files    map[string][]byte
	vars     map[string]string
}

func New(id string) *Env {
	return &Env{
		id:        id,
		workspace: "/workspace",
		files:     map[string][]byte{},
		vars:      map[string]string{},
	}
}

// On adds a rule answering with stdout and success.
func (e *Env) On(match, stdout string) *Env {
	return e.OnResult(match, sandbox.ExecResult{Stdout: stdout, Success: true})
}

// OnFail adds a rule answering with stderr and exit code 1.
func (e *Env) OnFail(match, stderr string) *Env {
	return e.OnResult(match, sandbox.ExecResult{Stderr: stderr, ExitCode: 1})
}

func (e *Env) OnResult(match string, res sandbox.ExecResult) *Env {
	return e.Add(Rule{Match: match, Result: res})
}

func (e *Env) Add(r Rule) *Env {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, r)
	return e
}

// Healthy scripts a passing tool health check.
func (e *Env) Healthy() *Env {
	return e.On("command -v", "ok\n").On("env | grep", "creds_ok\n")
}

func (e *Env) ID() string        { return e.id }
func (e *Env) Workspace() string { return e.workspace }

func (e *Env) Exec(_ context.Context, cmd string) (sandbox.ExecResult, error) {
	e.mu.Lock()
	e.commands = append(e.commands, cmd)
	var hit *Rule
	for i := range e.rules {
		if strings.Contains(cmd, e.rules[i].Match) {
			hit = &e.rules[i]
			break
		}
	}
	e.mu.Unlock()

	if hit == nil {
		return sandbox.ExecResult{Success: true}, nil
	}
	if hit.Do != nil {
		hit.Do(cmd)
	}
	if hit.Reply != nil {
		return hit.Reply(cmd), hit.Err
	}
	return hit.Result, hit.Err
}

func (e *Env) ReadFile(_ context.Context, p string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	data, ok := e.files[e.abs(p)]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", p, os.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

func (e *Env) WriteFile(_ context.Context, p string, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files[e.abs(p)] = append([]byte(nil), data...)
	return nil
}

func (e *Env) SetEnvVars(_ context.Context, vars map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, v := range vars {
		e.vars[k] = v
	}
	return nil
}

func (e *Env) abs(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(e.workspace, p)
}

// Commands returns every command executed so far.
func (e *Env) Commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}

// Ran reports whether any executed command contains sub.
func (e *Env) Ran(sub string) bool {
	for _, c := range e.Commands() {
		if strings.Contains(c, sub) {
			return true
		}
	}
	return false
}

func (e *Env) Vars() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.vars))
	for k, v := range e.vars {
		out[k] = v
	}
	return out
}

func (e *Env) File(p string) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	data, ok := e.files[e.abs(p)]
	return data, ok
}

// Provider hands out one Env per session id.
type Provider struct {
	mu     sync.Mutex
	envs   map[string]*Env
	opened int
	Setup  func(*Env)
	Err    error
}

func (p *Provider) Name() string { return "fake" }

func (p *Provider) Open(_ context.Context, id string) (sandbox.Environment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	p.opened++
	if p.envs == nil {
		p.envs = map[string]*Env{}
	}
	if env, ok := p.envs[id]; ok {
		return env, nil
	}
	env := New(id)
	if p.Setup != nil {
		p.Setup(env)
	}
	p.envs[id] = env
	return env, nil
}

// Env returns the environment opened for id, or nil.
func (p *Provider) Env(id string) *Env {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.envs[id]
}

// Opened counts Open calls.
func (p *Provider) Opened() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened
}
