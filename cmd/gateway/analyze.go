package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"repoanalyzer/internal/gateway/app"
	"repoanalyzer/internal/gateway/service/analysis"
	"repoanalyzer/internal/stream"
)

var errAnalysisFailed = errors.New("analysis failed")

type analyzeFlags struct {
	session string
	selects []string
	all     bool
	envVars []string
	profile string
}

func newAnalyzeCmd() *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze <repo-url|archive|directory>",
		Short: "Run one analysis with the local sandbox and print NDJSON events",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			cfg.Sandbox.Mode = "local"
			if f.profile != "" {
				cfg.DiscoveryProfile = f.profile
			}

			req, err := f.request(args)
			if err != nil {
				return err
			}
			a, err := app.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize app: %w", err)
			}
			defer a.Close()

			st, _ := a.Analysis().Start(cmd.Context(), req)
			enc := stream.NewEncoder(cmd.OutOrStdout())
			var last stream.Event
			err = stream.Drain(cmd.Context(), st, func(ev stream.Event) error {
				last = ev
				return enc.Encode(ev)
			})
			if err != nil {
				return err
			}
			if last.Type == stream.TypeError {
				return fmt.Errorf("%w: %s", errAnalysisFailed, last.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.session, "session", "", "session id to resume")
	cmd.Flags().StringSliceVar(&f.selects, "select", nil, "modules to analyze (resumes a session parked at module selection)")
	cmd.Flags().BoolVar(&f.all, "all", false, "analyze every discovered module without pausing for selection")
	cmd.Flags().StringArrayVar(&f.envVars, "env", nil, "KEY=VALUE variable set in the session environment")
	cmd.Flags().StringVar(&f.profile, "profile", "", "discovery profile (magento, go, node, python)")
	return cmd
}

func (f analyzeFlags) request(args []string) (analysis.Request, error) {
	req := analysis.Request{SessionID: f.session, AnalyzeAll: f.all}
	if f.selects != nil {
		req.SelectedModules = f.selects
	}
	for _, kv := range f.envVars {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return req, fmt.Errorf("invalid --env %q, want KEY=VALUE", kv)
		}
		if req.EnvVars == nil {
			req.EnvVars = map[string]string{}
		}
		req.EnvVars[strings.TrimSpace(k)] = v
	}
	if len(args) == 0 {
		return req, nil
	}

	src := strings.TrimSpace(args[0])
	switch {
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"), strings.HasPrefix(src, "git@"):
		req.Repo = src
		return req, nil
	}
	info, err := os.Stat(src)
	if err != nil {
		return req, fmt.Errorf("source: %w", err)
	}
	if info.IsDir() {
		abs, err := filepath.Abs(src)
		if err != nil {
			return req, err
		}
		req.RootPath = abs
		return req, nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return req, fmt.Errorf("read archive: %w", err)
	}
	req.Archive = data
	req.Filename = filepath.Base(src)
	return req, nil
}
