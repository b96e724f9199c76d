package session

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repoanalyzer/internal/pipeline"
	"repoanalyzer/internal/sandbox"
	"repoanalyzer/internal/sandbox/sandboxtest"
)

type slowProvider struct {
	sandboxtest.Provider
	delay time.Duration
}

func (p *slowProvider) Open(ctx context.Context, id string) (sandbox.Environment, error) {
	time.Sleep(p.delay)
	return p.Provider.Open(ctx, id)
}

func TestActivateGeneratesIdentifier(t *testing.T) {
	m, err := NewManager(Config{Prefix: "m2"}, &sandboxtest.Provider{}, nil)
	require.NoError(t, err)
	m.now = func() time.Time { return time.UnixMilli(1700000000123) }

	s, created, err := m.Activate(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Regexp(t, regexp.MustCompile(`^m2-1700000000123-[0-9a-f]{8}$`), s.ID)
	assert.NotEqual(t, s.ID, m.NewID())
}

func TestActivateReusesSession(t *testing.T) {
	p := &sandboxtest.Provider{}
	m, err := NewManager(Config{}, p, nil)
	require.NoError(t, err)
	ctx := context.Background()

	first, created, err := m.Activate(ctx, "sid")
	require.NoError(t, err)
	assert.True(t, created)
	second, created, err := m.Activate(ctx, " sid ")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, first, second)
	assert.Equal(t, 1, p.Opened())
}

func TestConcurrentActivationOpensOnce(t *testing.T) {
	p := &slowProvider{delay: 50 * time.Millisecond}
	m, err := NewManager(Config{}, p, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	got := make([]*Session, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, _, err := m.Activate(context.Background(), "shared")
			assert.NoError(t, err)
			got[i] = s
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, p.Opened())
	for _, s := range got {
		assert.Same(t, got[0], s)
	}
}

func TestActivateWrapsProviderFailure(t *testing.T) {
	p := &sandboxtest.Provider{Err: errors.New("docker daemon down")}
	m, err := NewManager(Config{}, p, nil)
	require.NoError(t, err)

	_, _, err = m.Activate(context.Background(), "sid")
	assert.ErrorIs(t, err, sandbox.ErrUnavailable)
	assert.Contains(t, err.Error(), "docker daemon down")
	assert.Zero(t, m.Len())
}

func TestEvictedHandleReopensSameEnvironment(t *testing.T) {
	p := &sandboxtest.Provider{}
	m, err := NewManager(Config{MaxSessions: 1}, p, nil)
	require.NoError(t, err)
	ctx := context.Background()

	a, _, err := m.Activate(ctx, "a")
	require.NoError(t, err)
	_, _, err = m.Activate(ctx, "b")
	require.NoError(t, err)
	_, ok := m.Lookup("a")
	assert.False(t, ok)

	again, created, err := m.Activate(ctx, "a")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Same(t, a.Env, again.Env)
}

func TestRunIsCopied(t *testing.T) {
	m, err := NewManager(Config{}, &sandboxtest.Provider{}, nil)
	require.NoError(t, err)
	s, _, err := m.Activate(context.Background(), "sid")
	require.NoError(t, err)
	assert.Equal(t, pipeline.Initialized, s.Run().State)

	s.SetRun(pipeline.Run{State: pipeline.AwaitingSelection, Discovered: []string{"a"}})
	r := s.Run()
	r.Discovered[0] = "changed"
	assert.Equal(t, "a", s.Run().Discovered[0])
}

func TestAcquireSerializesRequests(t *testing.T) {
	m, err := NewManager(Config{}, &sandboxtest.Provider{}, nil)
	require.NoError(t, err)
	s, _, err := m.Activate(context.Background(), "sid")
	require.NoError(t, err)

	release, err := s.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx)
	assert.ErrorIs(t, err, ErrBusy)

	release()
	release2, err := s.Acquire(context.Background())
	require.NoError(t, err)
	release2()
}
