// Package analysis runs one analyze request end to end: it activates the
// session, prepares the environment, acquires the source tree and drives the
// pipeline, publishing everything on a stream that always ends with exactly
// one terminal event.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"repoanalyzer/internal/acquire"
	"repoanalyzer/internal/gateway/repository/upload"
	"repoanalyzer/internal/pipeline"
	"repoanalyzer/internal/sandbox"
	"repoanalyzer/internal/session"
	"repoanalyzer/internal/stream"
	"repoanalyzer/internal/tool"
)

var ErrNoUploadStore = errors.New("analysis: upload relay is not configured")

type Sessions interface {
	NewID() string
	Activate(ctx context.Context, id string) (*session.Session, bool, error)
}

type Acquirer interface {
	Acquire(ctx context.Context, env sandbox.Environment, src acquire.Source, progress acquire.Progress) (acquire.AcquiredRoot, error)
}

type Pipeline interface {
	Run(ctx context.Context, run pipeline.Run, req pipeline.Request, out stream.Emitter) (pipeline.Run, error)
}

type HealthChecker interface {
	Check(ctx context.Context, env sandbox.Environment) (tool.Health, error)
}

// Tracer records every event of a session.
type Tracer interface {
	Observer(sessionID string) func(stream.Event)
}

type Config struct {
	// ServerEnv holds the server's own credential variables.
	ServerEnv map[string]string
	// StreamBuffer is how many undrained events a stream holds.
	StreamBuffer int
}

func DefaultConfig() Config {
	return Config{StreamBuffer: 64}
}

type Deps struct {
	Sessions Sessions
	Acquirer Acquirer
	Pipeline Pipeline
	Health   HealthChecker
	Uploads  upload.Store
	Tracer   Tracer
	Logger   *zap.Logger
}

type Service struct {
	cfg      Config
	sessions Sessions
	acquirer Acquirer
	pipeline Pipeline
	health   HealthChecker
	uploads  upload.Store
	tracer   Tracer
	logger   *zap.Logger
}

func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Sessions == nil || deps.Acquirer == nil || deps.Pipeline == nil {
		return nil, errors.New("analysis: sessions, acquirer and pipeline are required")
	}
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = DefaultConfig().StreamBuffer
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		sessions: deps.Sessions,
		acquirer: deps.Acquirer,
		pipeline: deps.Pipeline,
		health:   deps.Health,
		uploads:  deps.Uploads,
		tracer:   deps.Tracer,
		logger:   logger,
	}, nil
}

// Start runs req in the background and returns its stream and session id.
// The run is detached from ctx cancellation: a client that goes away abandons
// the stream but the session still reaches a consistent state.
func (s *Service) Start(ctx context.Context, req Request) (*stream.Stream, string) {
	sid := strings.TrimSpace(req.SessionID)
	if sid == "" {
		sid = s.sessions.NewID()
	}
	out := stream.New(s.cfg.StreamBuffer)
	if s.tracer != nil {
		out.Observe(s.tracer.Observer(sid))
	}
	go s.execute(context.WithoutCancel(ctx), sid, req, out)
	return out, sid
}

func (s *Service) execute(ctx context.Context, sid string, req Request, out *stream.Stream) {
	log := s.logger.With(zap.String("session_id", sid))
	defer func() {
		if r := recover(); r != nil {
			log.Error("analysis panicked", zap.Any("panic", r), zap.Stack("stack"))
			_ = out.Emit(stream.Error(fmt.Sprintf("internal error: %v", r)))
		}
		if !out.Terminated() {
			_ = out.Emit(stream.Error("analysis ended without a result"))
		}
	}()

	progress := func(msg string) { _ = out.Emit(stream.Progress(msg, sid)) }
	progress("Starting analysis...")

	sess, created, err := s.sessions.Activate(ctx, sid)
	if err != nil {
		log.Warn("session activation failed", zap.Error(err))
		_ = out.Emit(stream.Error(err.Error()))
		return
	}
	release, err := sess.Acquire(ctx)
	if err != nil {
		_ = out.Emit(stream.Error(err.Error()))
		return
	}
	defer release()
	log.Info("analysis started", zap.Bool("new_session", created), zap.Bool("resume", req.Resume()))

	run := sess.Run()
	root, err := s.prepare(ctx, sess.Env, run, req, progress, log)
	if err != nil {
		log.Warn("analysis setup failed", zap.Error(err))
		sess.SetRun(pipeline.Reset(run))
		_ = out.Emit(stream.Error(err.Error()))
		return
	}

	next, err := s.pipeline.Run(ctx, run, pipeline.Request{
		SessionID:     sid,
		Env:           sess.Env,
		RootPath:      root,
		Selected:      req.SelectedModules,
		SkipSelection: req.AnalyzeAll,
	}, out)
	if err != nil {
		log.Warn("pipeline failed", zap.Error(err))
		reset := pipeline.Reset(next)
		if reset.RootPath == "" {
			reset.RootPath = root
		}
		sess.SetRun(reset)
		_ = out.Emit(stream.Error(err.Error()))
		return
	}
	sess.SetRun(next)
	log.Info("analysis finished", zap.String("state", string(next.State)), zap.String("root", next.RootPath))
}

// prepare injects credentials and request variables, then resolves the root
// path: from the request, from the session memo on resume, or by acquiring.
func (s *Service) prepare(ctx context.Context, env sandbox.Environment, run pipeline.Run, req Request, progress func(string), log *zap.Logger) (string, error) {
	if err := s.injectCredentials(ctx, env, log); err != nil {
		return "", err
	}
	if len(req.EnvVars) > 0 {
		if err := env.SetEnvVars(ctx, req.EnvVars); err != nil {
			return "", fmt.Errorf("apply request variables: %w", err)
		}
	}

	if root := strings.TrimSpace(req.RootPath); root != "" {
		return root, nil
	}
	if req.Resume() && run.RootPath != "" {
		return run.RootPath, nil
	}

	src := req.source()
	if len(src.Archive) == 0 && strings.TrimSpace(req.UploadKey) != "" {
		data, filename, err := s.fetchUpload(ctx, strings.TrimSpace(req.UploadKey))
		if err != nil {
			return "", err
		}
		src.Archive = data
		if src.Filename == "" {
			src.Filename = filename
		}
	}
	if src.Empty() {
		return "", acquire.ErrNoSource
	}
	acquired, err := s.acquirer.Acquire(ctx, env, src, progress)
	if err != nil {
		return "", err
	}
	log.Info("source acquired", zap.String("root", acquired.Path), zap.String("provenance", string(acquired.Provenance)))
	return acquired.Path, nil
}

func (s *Service) fetchUpload(ctx context.Context, key string) ([]byte, string, error) {
	if s.uploads == nil {
		return nil, "", ErrNoUploadStore
	}
	if err := upload.ValidateKey(key); err != nil {
		return nil, "", err
	}
	data, err := s.uploads.Get(ctx, key)
	if err != nil {
		return nil, "", fmt.Errorf("fetch upload %s: %w", key, err)
	}
	return data, upload.Filename(key), nil
}

func (s *Service) injectCredentials(ctx context.Context, env sandbox.Environment, log *zap.Logger) error {
	if key := s.cfg.ServerEnv[anthropicKey]; key != "" {
		if err := env.SetEnvVars(ctx, map[string]string{anthropicKey: key}); err != nil {
			return fmt.Errorf("apply credentials: %w", err)
		}
	}
	bedrock := BedrockEnv(s.cfg.ServerEnv)
	if err := env.SetEnvVars(ctx, bedrock); err != nil {
		return fmt.Errorf("apply credentials: %w", err)
	}

	if s.health == nil {
		return nil
	}
	keys := make([]string, 0, len(bedrock)+1)
	for k := range bedrock {
		keys = append(keys, k)
	}
	if s.cfg.ServerEnv[anthropicKey] != "" {
		keys = append(keys, anthropicKey)
	}
	sort.Strings(keys)
	h, err := s.health.Check(ctx, env)
	if err != nil {
		log.Warn("credential status check failed", zap.Strings("keys", keys), zap.Error(err))
		return nil
	}
	log.Info("credential status", zap.String("status", h.Status()), zap.Strings("keys", keys))
	return nil
}
