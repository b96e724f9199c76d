package analysis

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"repoanalyzer/internal/acquire"
	coreanalysis "repoanalyzer/internal/analysis"
	"repoanalyzer/internal/discover"
	"repoanalyzer/internal/gateway/repository/upload"
	"repoanalyzer/internal/pipeline"
	"repoanalyzer/internal/sandbox/sandboxtest"
	"repoanalyzer/internal/session"
	"repoanalyzer/internal/stream"
	"repoanalyzer/internal/tool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	salesModule   = "/workspace/shop/app/code/Acme/Sales"
	catalogModule = "/workspace/shop/app/code/Acme/Catalog"
)

type harness struct {
	provider *sandboxtest.Provider
	sessions *session.Manager
	uploads  *upload.MemoryStore
	svc      *Service
}

func newHarness(t *testing.T, setup func(*sandboxtest.Env), serverEnv map[string]string) *harness {
	t.Helper()
	provider := &sandboxtest.Provider{Setup: setup}
	mgr, err := session.NewManager(session.DefaultConfig(), provider, nil)
	require.NoError(t, err)

	profile, err := discover.Lookup(discover.DefaultProfile)
	require.NoError(t, err)
	invoker := tool.NewInvoker(tool.Config{}, nil)
	coord := pipeline.NewCoordinator(coreanalysis.New(invoker, nil), discover.New(profile, nil), nil)
	uploads := upload.NewMemoryStore(upload.MemoryConfig{})

	svc, err := New(Config{ServerEnv: serverEnv}, Deps{
		Sessions: mgr,
		Acquirer: acquire.New(acquire.DefaultConfig(), nil),
		Pipeline: coord,
		Health:   invoker,
		Uploads:  uploads,
	})
	require.NoError(t, err)
	return &harness{provider: provider, sessions: mgr, uploads: uploads, svc: svc}
}

func shopRepo(env *sandboxtest.Env) {
	env.Healthy().
		On("find /workspace/shop/app/code", salesModule+"/registration.php\n"+salesModule+"/etc/module.xml\n"+catalogModule+"/registration.php\n").
		On("exact keys", `{"module":"Acme_Sales","entities":["Order"],"services":[],"controllers":[],"workflows":[],"summary":"Orders."}`).
		On("cyclomaticComplexity", `{"moduleName":"Acme_Sales","classes":4,"functions":20,"linesOfCode":900,"cyclomaticComplexity":7}`).
		On("Mermaid diagrams", `[{"id":"flow","title":"Flow","chart":"graph TD; A-->B"}]`)
}

func collect(t *testing.T, st *stream.Stream) []stream.Event {
	t.Helper()
	var events []stream.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-st.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("stream did not terminate; got %d events", len(events))
		}
	}
}

func terminal(t *testing.T, events []stream.Event) stream.Event {
	t.Helper()
	require.NotEmpty(t, events)
	n := 0
	for _, ev := range events {
		if ev.Terminal() {
			n++
		}
	}
	require.Equal(t, 1, n, "exactly one terminal event")
	last := events[len(events)-1]
	require.True(t, last.Terminal(), "terminal event must be last")
	return last
}

func progressMessages(events []stream.Event) []string {
	var out []string
	for _, ev := range events {
		if ev.Type == stream.TypeProgress {
			out = append(out, ev.Message)
		}
	}
	return out
}

func TestFreshRepositoryParksAtCheckpoint(t *testing.T) {
	h := newHarness(t, shopRepo, nil)

	st, sid := h.svc.Start(context.Background(), Request{Repo: "https://github.com/acme/shop"})
	events := collect(t, st)

	last := terminal(t, events)
	assert.Equal(t, stream.TypeSelectModules, last.Type)
	assert.Equal(t, []string{catalogModule, salesModule}, last.Modules)
	assert.Equal(t, sid, last.SessionID)
	assert.Equal(t, "/workspace/shop", last.RootPath)

	msgs := progressMessages(events)
	require.NotEmpty(t, msgs)
	assert.Equal(t, "Starting analysis...", msgs[0])
	assert.Contains(t, msgs, "Fetching repository tarball: https://github.com/acme/shop")
	assert.Contains(t, msgs, "Planning modules...")
	assert.Contains(t, msgs, "Found 2 modules.")
	for _, ev := range events {
		if ev.Type == stream.TypeProgress {
			assert.Equal(t, sid, ev.SessionID)
		}
	}

	sess, ok := h.sessions.Lookup(sid)
	require.True(t, ok)
	run := sess.Run()
	assert.Equal(t, pipeline.AwaitingSelection, run.State)
	assert.Equal(t, "/workspace/shop", run.RootPath)
}

func TestResumeAnalyzesSelectionWithoutReacquiring(t *testing.T) {
	h := newHarness(t, shopRepo, nil)

	st, sid := h.svc.Start(context.Background(), Request{Repo: "https://github.com/acme/shop"})
	first := terminal(t, collect(t, st))
	require.Equal(t, stream.TypeSelectModules, first.Type)
	env := h.provider.Env(sid)
	before := len(env.Commands())

	st, _ = h.svc.Start(context.Background(), Request{
		SessionID:       sid,
		RootPath:        first.RootPath,
		SelectedModules: []string{salesModule, salesModule},
	})
	events := collect(t, st)

	last := terminal(t, events)
	require.Equal(t, stream.TypeResult, last.Type)
	require.NotNil(t, last.Data)
	require.Len(t, last.Data.Results, 1)
	res := last.Data.Results[0]
	assert.Equal(t, salesModule, res.ModulePath)
	assert.Empty(t, res.Degraded)
	require.NotNil(t, res.Complexity.CyclomaticComplexity)
	assert.Equal(t, 7.0, *res.Complexity.CyclomaticComplexity)
	assert.Equal(t, []string{salesModule}, last.Data.Summary.TopComplexModules)

	msgs := progressMessages(events)
	assert.NotContains(t, msgs, "Planning modules...")
	assert.Contains(t, msgs, "Analyzed: "+salesModule)
	assert.Equal(t, "Finished", msgs[len(msgs)-1])

	for _, cmd := range env.Commands()[before:] {
		assert.NotContains(t, cmd, "curl")
		assert.NotContains(t, cmd, "git clone")
		assert.NotContains(t, cmd, "find ")
	}
	assert.Equal(t, 1, h.provider.Opened(), "resume must reuse the session environment")

	sess, _ := h.sessions.Lookup(sid)
	assert.Equal(t, pipeline.Complete, sess.Run().State)
}

func TestResumeFallsBackToMemoizedRoot(t *testing.T) {
	h := newHarness(t, shopRepo, nil)

	st, sid := h.svc.Start(context.Background(), Request{Repo: "https://github.com/acme/shop"})
	terminal(t, collect(t, st))

	st, _ = h.svc.Start(context.Background(), Request{SessionID: sid, SelectedModules: []string{}})
	last := terminal(t, collect(t, st))
	require.Equal(t, stream.TypeResult, last.Type)
	assert.Empty(t, last.Data.Results)
	assert.NotNil(t, last.Data.Results)
}

func TestInvalidUploadEndsWithError(t *testing.T) {
	h := newHarness(t, func(env *sandboxtest.Env) {
		env.Healthy().
			On("file -b --mime-type", "text/plain\n").
			OnFail("bsdtar", "bsdtar: Unrecognized archive format").
			OnFail("unzip", "End-of-central-directory signature not found")
	}, nil)

	st, _ := h.svc.Start(context.Background(), Request{Archive: []byte("hello"), Filename: "notes.zip"})
	events := collect(t, st)

	last := terminal(t, events)
	assert.Equal(t, stream.TypeError, last.Type)
	assert.Contains(t, last.Message, "archive extraction failed")
	for _, ev := range events {
		assert.NotEqual(t, stream.TypeResult, ev.Type)
	}
}

func TestUnhealthyToolStillProducesReport(t *testing.T) {
	h := newHarness(t, func(env *sandboxtest.Env) {
		env.On("command -v", "missing\n").
			On("env | grep", "creds_missing\n").
			On("find /workspace/shop/app/code", salesModule+"/registration.php\n")
	}, nil)

	st, _ := h.svc.Start(context.Background(), Request{RootPath: "/workspace/shop", AnalyzeAll: true})
	events := collect(t, st)

	last := terminal(t, events)
	require.Equal(t, stream.TypeResult, last.Type)
	require.Len(t, last.Data.Results, 1)
	res := last.Data.Results[0]
	assert.Equal(t, []string{coreanalysis.FacetLogic, coreanalysis.FacetComplexity, coreanalysis.FacetDiagrams}, res.Degraded)
	assert.Equal(t, 1, last.Data.Summary.DegradedModules)

	var unhealthy bool
	for _, m := range progressMessages(events) {
		if strings.Contains(m, "unhealthy") {
			unhealthy = true
		}
	}
	assert.True(t, unhealthy, "degradation is reported as progress")
}

func TestCredentialsAndRequestVariablesAreInjected(t *testing.T) {
	h := newHarness(t, shopRepo, map[string]string{
		"ANTHROPIC_API_KEY": "sk-test",
		"ANTHROPIC_MODEL":   "custom-model",
	})

	st, sid := h.svc.Start(context.Background(), Request{
		RootPath: "/workspace/shop",
		EnvVars:  map[string]string{"AWS_REGION": "eu-west-1", "EXTRA": "1"},
	})
	terminal(t, collect(t, st))

	vars := h.provider.Env(sid).Vars()
	assert.Equal(t, "sk-test", vars["ANTHROPIC_API_KEY"])
	assert.Equal(t, "custom-model", vars["ANTHROPIC_MODEL"])
	assert.Equal(t, "1", vars["CLAUDE_CODE_USE_BEDROCK"])
	assert.Equal(t, "eu-west-1", vars["AWS_REGION"], "request variables apply last")
	assert.Equal(t, "1", vars["EXTRA"])
	_, hasToken := vars["AWS_BEARER_TOKEN_BEDROCK"]
	assert.False(t, hasToken)
}

func TestUploadKeyIsFetchedFromRelay(t *testing.T) {
	h := newHarness(t, func(env *sandboxtest.Env) {
		env.Healthy().On("file -b --mime-type", "application/gzip\n")
	}, nil)
	key := upload.NewKey("shop.tar.gz")
	_, err := h.uploads.Put(context.Background(), key, []byte("\x1f\x8b"), time.Minute)
	require.NoError(t, err)

	st, sid := h.svc.Start(context.Background(), Request{UploadKey: key, AnalyzeAll: true})
	last := terminal(t, collect(t, st))
	require.Equal(t, stream.TypeResult, last.Type)

	env := h.provider.Env(sid)
	data, ok := env.File("/workspace/shop/source.archive")
	require.True(t, ok)
	assert.Equal(t, "\x1f\x8b", string(data))
	assert.True(t, env.Ran("tar -xzf /workspace/shop/source.archive"))
}

func TestUnknownUploadKeyFails(t *testing.T) {
	h := newHarness(t, nil, nil)

	st, _ := h.svc.Start(context.Background(), Request{UploadKey: upload.NewKey("gone.zip")})
	last := terminal(t, collect(t, st))
	assert.Equal(t, stream.TypeError, last.Type)
	assert.Contains(t, last.Message, "upload not found")
}

func TestMissingSourceFails(t *testing.T) {
	h := newHarness(t, nil, nil)

	st, sid := h.svc.Start(context.Background(), Request{})
	last := terminal(t, collect(t, st))
	assert.Equal(t, stream.TypeError, last.Type)
	assert.Equal(t, acquire.ErrNoSource.Error(), last.Message)

	sess, ok := h.sessions.Lookup(sid)
	require.True(t, ok)
	assert.Equal(t, pipeline.Initialized, sess.Run().State)
}

type panickingPipeline struct{}

func (panickingPipeline) Run(context.Context, pipeline.Run, pipeline.Request, stream.Emitter) (pipeline.Run, error) {
	panic("boom")
}

type silentPipeline struct{}

func (silentPipeline) Run(_ context.Context, run pipeline.Run, _ pipeline.Request, _ stream.Emitter) (pipeline.Run, error) {
	return run, nil
}

func TestEveryStreamGetsATerminalEvent(t *testing.T) {
	for name, p := range map[string]Pipeline{"panic": panickingPipeline{}, "silent": silentPipeline{}} {
		t.Run(name, func(t *testing.T) {
			mgr, err := session.NewManager(session.DefaultConfig(), &sandboxtest.Provider{}, nil)
			require.NoError(t, err)
			svc, err := New(Config{}, Deps{Sessions: mgr, Acquirer: acquire.New(acquire.DefaultConfig(), nil), Pipeline: p})
			require.NoError(t, err)

			st, _ := svc.Start(context.Background(), Request{RootPath: "/workspace/x"})
			last := terminal(t, collect(t, st))
			assert.Equal(t, stream.TypeError, last.Type)
		})
	}
}

func TestBedrockEnv(t *testing.T) {
	env := BedrockEnv(map[string]string{"AWS_BEARER_TOKEN_BEDROCK": "tok", "AWS_REGION": ""})
	assert.Equal(t, "tok", env["AWS_BEARER_TOKEN_BEDROCK"])
	assert.Equal(t, "us-east-1", env["AWS_REGION"], "empty server values keep the default")
	assert.Len(t, env, len(bedrockDefaults)+1)
	assert.Contains(t, CredentialKeys(), "ANTHROPIC_API_KEY")
}
