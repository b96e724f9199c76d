package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"repoanalyzer/internal/sandbox"
	"repoanalyzer/internal/tool"
)

// Analyzer runs the per-module operations against one Invoker.
type Analyzer struct {
	invoker Invoker
	logger  *zap.Logger
	now     func() time.Time
}

func New(invoker Invoker, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{invoker: invoker, logger: logger, now: time.Now}
}

// Plan returns the phase plan for a root. Module selection is left to
// discovery, so the plan is always empty.
func (a *Analyzer) Plan(_ context.Context, _ string) Plan {
	return Plan{Modules: []string{}, Priorities: []string{}}
}

// Plan is the output of the planning phase.
type Plan struct {
	Modules    []string `json:"modules"`
	Priorities []string `json:"priorities"`
}

// ask invokes the tool and reports the output preview. ok is false when the
// tool could not be used or returned nothing.
func (a *Analyzer) ask(ctx context.Context, env sandbox.Environment, root, prompt, label string, progress Progress) (string, bool) {
	started := a.now()
	out, err := a.invoker.Invoke(ctx, env, root, prompt)
	if err != nil {
		var unhealthy *tool.HealthError
		if errors.As(err, &unhealthy) {
			progress.send(fmt.Sprintf("Claude: unhealthy for %s (%s)", label, unhealthy.Status()))
		} else {
			progress.send(fmt.Sprintf("Claude: %s command error", label))
		}
		a.logger.Warn("tool invocation failed", zap.String("operation", label), zap.Error(err))
		return "", false
	}
	if p := preview(out); p != "" {
		progress.send(fmt.Sprintf("Claude: %s done in %dms; preview: %s", label, a.now().Sub(started).Milliseconds(), p))
	} else {
		progress.send(fmt.Sprintf("Claude: no output for %s", label))
		return "", false
	}
	return out, true
}
