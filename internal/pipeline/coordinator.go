// Package pipeline drives one analysis run through its phases:
//
//	initialized -> planning -> discovering -> awaiting-selection | analyzing
//	analyzing -> reporting -> complete
//
// A run parks at awaiting-selection after emitting the select-modules
// checkpoint. The caller resumes it with a second request that carries the
// selection, which re-enters analyzing without planning or discovery.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"repoanalyzer/internal/analysis"
	"repoanalyzer/internal/sandbox"
	"repoanalyzer/internal/stream"
)

// ModuleAnalyzer is the per-module work done while analyzing.
type ModuleAnalyzer interface {
	Plan(ctx context.Context, root string) analysis.Plan
	AnalyzeModule(ctx context.Context, env sandbox.Environment, root, module string, progress analysis.Progress) analysis.ModuleResult
}

// ModuleLister supplies the module set when the plan is empty.
type ModuleLister interface {
	Modules(ctx context.Context, env sandbox.Environment, root string) ([]string, error)
}

type Coordinator struct {
	analyzer ModuleAnalyzer
	lister   ModuleLister
	logger   *zap.Logger
}

func NewCoordinator(analyzer ModuleAnalyzer, lister ModuleLister, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{analyzer: analyzer, lister: lister, logger: logger}
}

// Request is one pass of the pipeline over an acquired root.
type Request struct {
	SessionID string
	Env       sandbox.Environment
	RootPath  string
	// Selected is the caller's module selection. nil means none was given;
	// an empty slice is a selection of nothing.
	Selected []string
	// SkipSelection analyzes every discovered module instead of parking at
	// the checkpoint.
	SkipSelection bool
}

// Run advances run according to req, emitting progress and exactly one
// terminal event (select-modules or result) on success. On error no terminal
// event is emitted; the caller reports it.
func (c *Coordinator) Run(ctx context.Context, run Run, req Request, out stream.Emitter) (Run, error) {
	progress := func(msg string) { _ = out.Emit(stream.Progress(msg, req.SessionID)) }

	root := req.RootPath
	if root == "" {
		root = run.RootPath
	}
	if root == "" {
		return run, fmt.Errorf("pipeline: no root path for session %s", req.SessionID)
	}

	var err error
	if req.Selected != nil {
		run, err = Apply(run, Patch{To: Analyzing, RootPath: root, Selected: Dedupe(req.Selected)})
		if err != nil {
			return run, err
		}
		return c.analyze(ctx, run, req, progress, out)
	}

	if run.State != Initialized {
		if run, err = Apply(run, Patch{To: Initialized}); err != nil {
			return run, err
		}
	}
	if run, err = Apply(run, Patch{To: Planning, RootPath: root}); err != nil {
		return run, err
	}
	progress("Planning modules...")
	plan := c.analyzer.Plan(ctx, root)

	if run, err = Apply(run, Patch{To: Discovering}); err != nil {
		return run, err
	}
	modules := plan.Modules
	if len(modules) == 0 {
		modules, err = c.lister.Modules(ctx, req.Env, root)
		if err != nil {
			return run, fmt.Errorf("pipeline: discovery: %w", err)
		}
	}
	if modules == nil {
		modules = []string{}
	}
	progress(fmt.Sprintf("Found %d modules.", len(modules)))
	c.logger.Info("modules discovered", zap.String("session_id", req.SessionID), zap.String("root", root), zap.Int("count", len(modules)))

	if len(modules) > 0 && !req.SkipSelection {
		if run, err = Apply(run, Patch{To: AwaitingSelection, Discovered: modules}); err != nil {
			return run, err
		}
		if err := out.Emit(stream.SelectModules(modules, req.SessionID, root)); err != nil {
			return run, err
		}
		return run, nil
	}

	if run, err = Apply(run, Patch{To: Analyzing, Discovered: modules, Selected: modules}); err != nil {
		return run, err
	}
	return c.analyze(ctx, run, req, progress, out)
}

// analyze processes run.Selected one module at a time, then reports.
func (c *Coordinator) analyze(ctx context.Context, run Run, req Request, progress analysis.Progress, out stream.Emitter) (Run, error) {
	modules := run.Selected
	progress(fmt.Sprintf("Extracting business logic and computing complexity for %d modules...", len(modules)))

	results := make([]analysis.ModuleResult, 0, len(modules))
	for _, mod := range modules {
		if err := ctx.Err(); err != nil {
			return run, fmt.Errorf("pipeline: analyzing: %w", err)
		}
		res := c.analyzer.AnalyzeModule(ctx, req.Env, run.RootPath, mod, progress)
		results = append(results, res)
		if len(res.Degraded) > 0 {
			c.logger.Info("module degraded", zap.String("session_id", req.SessionID), zap.String("module", mod), zap.Strings("facets", res.Degraded))
		}
		progress("Analyzed: " + mod)
	}

	var err error
	if run, err = Apply(run, Patch{To: Reporting}); err != nil {
		return run, err
	}
	progress("Building report...")
	report := analysis.BuildReport(results)

	if run, err = Apply(run, Patch{To: Complete}); err != nil {
		return run, err
	}
	progress("Analysis complete")
	progress("Finished")
	if err := out.Emit(stream.Result(*report)); err != nil {
		return run, err
	}
	return run, nil
}

// Dedupe drops repeated and blank entries, keeping first-seen order. nil
// stays nil.
func Dedupe(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
