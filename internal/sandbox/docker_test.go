package sandbox

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDocker struct {
	mu      sync.Mutex
	calls   [][]string
	stdin   []string
	envs    [][]string
	running map[string]bool
}

func (f *fakeDocker) run(_ context.Context, stdin io.Reader, env []string, args ...string) (ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), args...))
	f.envs = append(f.envs, append([]string(nil), env...))
	if stdin != nil {
		raw, _ := io.ReadAll(stdin)
		f.stdin = append(f.stdin, string(raw))
	}
	switch args[0] {
	case "inspect":
		name := args[len(args)-1]
		running, ok := f.running[name]
		if !ok {
			return ExecResult{Stderr: "No such object", ExitCode: 1}, nil
		}
		if running {
			return ExecResult{Stdout: "true\n", Success: true}, nil
		}
		return ExecResult{Stdout: "false\n", Success: true}, nil
	case "run":
		for i, a := range args {
			if a == "--name" {
				f.running[args[i+1]] = true
			}
		}
		return ExecResult{Stdout: "cid\n", Success: true}, nil
	case "start":
		f.running[args[1]] = true
		return ExecResult{Success: true}, nil
	}
	return ExecResult{Stdout: "ok", Success: true}, nil
}

func (f *fakeDocker) verbs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c[0])
	}
	return out
}

func newFakeDockerProvider() (*DockerProvider, *fakeDocker) {
	fake := &fakeDocker{running: map[string]bool{}}
	p := NewDockerProvider(DockerConfig{Image: "img"}, nil)
	p.run = fake.run
	return p, fake
}

func TestDockerOpenCreatesThenReusesContainer(t *testing.T) {
	p, fake := newFakeDockerProvider()
	ctx := context.Background()

	env, err := p.Open(ctx, "sess/1")
	require.NoError(t, err)
	assert.Equal(t, "/workspace", env.Workspace())
	assert.Equal(t, []string{"inspect", "run", "exec"}, fake.verbs())
	assert.True(t, fake.running["analyzer-"+SafeName("sess/1")])
	assert.NotEqual(t, "analyzer-sess_1", "analyzer-"+SafeName("sess/1"))

	_, err = p.Open(ctx, "sess/1")
	require.NoError(t, err)
	assert.Equal(t, []string{"inspect", "run", "exec", "inspect", "exec"}, fake.verbs())
}

func TestDockerOpenStartsStoppedContainer(t *testing.T) {
	p, fake := newFakeDockerProvider()
	fake.running["analyzer-s"] = false

	_, err := p.Open(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"inspect", "start", "exec"}, fake.verbs())
}

func TestDockerExecPassesEnvOverlay(t *testing.T) {
	p, fake := newFakeDockerProvider()
	ctx := context.Background()
	env, err := p.Open(ctx, "s")
	require.NoError(t, err)

	require.NoError(t, env.SetEnvVars(ctx, map[string]string{"B": "2", "ANTHROPIC_API_KEY": "sk-secret"}))
	_, err = env.Exec(ctx, "echo hi")
	require.NoError(t, err)

	last := fake.calls[len(fake.calls)-1]
	assert.Equal(t, []string{"exec", "-w", "/workspace", "-e", "ANTHROPIC_API_KEY", "-e", "B", "analyzer-s", "bash", "-c", "echo hi"}, last)
	for _, arg := range last {
		assert.NotContains(t, arg, "sk-secret")
	}
	assert.Equal(t, []string{"ANTHROPIC_API_KEY=sk-secret", "B=2"}, fake.envs[len(fake.envs)-1])
}

func TestDockerWriteFileStreamsStdin(t *testing.T) {
	p, fake := newFakeDockerProvider()
	ctx := context.Background()
	env, err := p.Open(ctx, "s")
	require.NoError(t, err)

	require.NoError(t, env.WriteFile(ctx, "/workspace/up load/repo.zip", []byte("PK")))
	last := fake.calls[len(fake.calls)-1]
	assert.Equal(t, "-i", last[1])
	assert.True(t, strings.Contains(last[len(last)-1], "'/workspace/up load/repo.zip'"))
	assert.Equal(t, []string{"PK"}, fake.stdin)

	assert.ErrorIs(t, env.WriteFile(ctx, "relative", nil), ErrInvalidPath)
}
