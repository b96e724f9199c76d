package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"repoanalyzer/internal/acquire"
	"repoanalyzer/internal/analysis"
	"repoanalyzer/internal/discover"
	"repoanalyzer/internal/gateway/config"
	"repoanalyzer/internal/gateway/handler"
	"repoanalyzer/internal/gateway/handler/rpc"
	"repoanalyzer/internal/gateway/server"
	analysissvc "repoanalyzer/internal/gateway/service/analysis"
	"repoanalyzer/internal/gateway/trace"
	"repoanalyzer/internal/pipeline"
	"repoanalyzer/internal/sandbox"
	"repoanalyzer/internal/session"
	"repoanalyzer/internal/tool"
)

type App struct {
	logger   *zap.Logger
	server   *server.Server
	analysis *analysissvc.Service
	limiter  *tool.Limiter
	uploads  *uploadStore
}

func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	provider, err := newProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewManager(session.Config{
		Prefix:      cfg.SessionPrefix,
		MaxSessions: cfg.Sandbox.MaxSessions,
	}, provider, logger.Named("session"))
	if err != nil {
		return nil, err
	}
	profile, err := discover.Lookup(cfg.DiscoveryProfile)
	if err != nil {
		return nil, err
	}

	limiter := tool.NewLimiter(cfg.Tool.RPS, cfg.Tool.Burst)
	toolCfg := tool.DefaultConfig()
	if cfg.Tool.Binary != "" {
		toolCfg.Binary = cfg.Tool.Binary
	}
	toolCfg.Limiter = limiter
	invoker := tool.NewInvoker(toolCfg, logger.Named("tool"))

	acqCfg := acquire.DefaultConfig()
	acqCfg.RootMarkers = profile.RootMarkers
	coordinator := pipeline.NewCoordinator(
		analysis.New(invoker, logger.Named("analysis")),
		discover.New(profile, logger.Named("discover")),
		logger.Named("pipeline"),
	)

	uploads, err := initUploadStore(cfg, logger.Named("upload"))
	if err != nil {
		limiter.Stop()
		return nil, err
	}
	tracer := trace.New(cfg.TraceDir, logger.Named("trace"))

	svcCfg := analysissvc.DefaultConfig()
	svcCfg.ServerEnv = config.EnvSnapshot(analysissvc.CredentialKeys())
	svc, err := analysissvc.New(svcCfg, analysissvc.Deps{
		Sessions: sessions,
		Acquirer: acquire.New(acqCfg, logger.Named("acquire")),
		Pipeline: coordinator,
		Health:   invoker,
		Uploads:  uploads.store,
		Tracer:   tracer,
		Logger:   logger.Named("service"),
	})
	if err != nil {
		limiter.Stop()
		return nil, err
	}

	analyzeHandler := handler.NewAnalyzeHandler(svc, cfg.Upload.MaxBytes, logger.Named("handler"))
	uploadHandler := handler.NewUploadHandler(uploads.store, cfg.Upload.MaxBytes, cfg.Upload.TTL, logger.Named("handler"))
	traceHandler := handler.NewTraceHandler(tracer)
	rpcHandler := rpc.NewAnalyzerHandler(svc, logger.Named("rpc"))

	mux := server.NewMux(analyzeHandler, uploadHandler, traceHandler, rpcHandler)
	srv := server.New(cfg.Port, mux, logger)

	logger.Info("app initialized",
		zap.String("sandbox", provider.Name()),
		zap.String("profile", profile.Name),
		zap.String("uploads", uploads.label),
	)
	return &App{logger: logger, server: srv, analysis: svc, limiter: limiter, uploads: uploads}, nil
}

func newProvider(cfg *config.Config, logger *zap.Logger) (sandbox.Provider, error) {
	switch cfg.Sandbox.Mode {
	case "", "local":
		local := sandbox.DefaultLocalConfig()
		if cfg.Sandbox.Root != "" {
			local.Root = cfg.Sandbox.Root
		}
		if cfg.Sandbox.Shell != "" {
			local.Shell = cfg.Sandbox.Shell
		}
		local.Timeout = cfg.Sandbox.ExecTimeout
		return sandbox.NewLocalProvider(local, logger.Named("sandbox")), nil
	case "docker":
		docker := sandbox.DefaultDockerConfig()
		if cfg.Sandbox.Image != "" {
			docker.Image = cfg.Sandbox.Image
		}
		if cfg.Sandbox.Shell != "" {
			docker.Shell = cfg.Sandbox.Shell
		}
		if cfg.Sandbox.Workspace != "" {
			docker.Workspace = cfg.Sandbox.Workspace
		}
		docker.Timeout = cfg.Sandbox.ExecTimeout
		return sandbox.NewDockerProvider(docker, logger.Named("sandbox")), nil
	}
	return nil, fmt.Errorf("unknown sandbox mode %q", cfg.Sandbox.Mode)
}

// Analysis exposes the service for the command-line entrypoint.
func (a *App) Analysis() *analysissvc.Service { return a.analysis }

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	a.Close()
	return err
}

// Close releases resources that outlive requests.
func (a *App) Close() {
	a.limiter.Stop()
	if a.uploads != nil && a.uploads.close != nil {
		if err := a.uploads.close(); err != nil {
			a.logger.Warn("close upload store", zap.Error(err))
		}
	}
}
