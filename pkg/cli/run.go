package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/axrunner/pkg/config"
	"github.com/devicelab-dev/axrunner/pkg/core"
	"github.com/devicelab-dev/axrunner/pkg/flow"
	"github.com/devicelab-dev/axrunner/pkg/logger"
	"github.com/devicelab-dev/axrunner/pkg/report"
	"github.com/devicelab-dev/axrunner/pkg/validator"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Dispatch the commands of one or more flows",
	ArgsUsage: "<flow-file-or-folder>...",
	Description: `Run one or more flow files against the configured accessibility snapshot.

A flow is a YAML list of natural-language commands, optionally preceded by a
config document (app, name, tags, env) and a --- separator.

Commands the fast path cannot resolve are written as JSON lines to the
--handoff file for the slow path.

Examples:
  axrunner run flow.yaml
  axrunner run flows/ --include-tags smoke
  axrunner run flows/ -e LABEL=Gmail --handoff deferred.jsonl`,
	Flags: []cli.Flag{
		// Environment variables
		&cli.StringSliceFlag{
			Name:    "env",
			Aliases: []string{"e"},
			Usage:   "Environment variables for ${VAR} substitution (KEY=VALUE)",
		},

		// Tag filtering
		&cli.StringSliceFlag{
			Name:  "include-tags",
			Usage: "Only include flows with these tags",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Exclude flows with these tags",
		},

		// Slow path
		&cli.StringFlag{
			Name:  "handoff",
			Usage: "Append deferred commands to this JSON lines file (default: deferrals are only logged)",
		},

		// Engine toggles
		&cli.BoolFlag{
			Name:  "prefetch",
			Usage: "Prefetch trees and warm the extraction cache in the background",
		},
		&cli.StringFlag{
			Name:  "telemetry-db",
			Usage: "Record telemetry to this SQLite database",
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "Serve Prometheus metrics on this address (e.g. :9464)",
		},

		// Report
		&cli.StringFlag{
			Name:  "output",
			Usage: "Report directory (default: ./reports/<timestamp>)",
		},
		&cli.BoolFlag{
			Name:  "flatten",
			Usage: "Write the report directly into --output without a timestamp subfolder",
		},
	},
	Action: runFlows,
}

// RunConfig holds the resolved settings of one run.
type RunConfig struct {
	FlowPaths   []string
	Env         map[string]string
	IncludeTags []string
	ExcludeTags []string
	Handoff     string
	OutputDir   string
	LogFile     string
	Verbose     bool
	NoColor     bool
	Workspace   *config.Config
}

func runFlows(c *cli.Context) error {
	ws, err := loadWorkspace(c)
	if err != nil {
		return err
	}
	if c.NArg() < 1 && len(ws.Flows) == 0 {
		return fmt.Errorf("at least one flow file or folder is required")
	}
	if c.Bool("prefetch") {
		ws.Prefetch.Enabled = true
	}
	if v := c.String("telemetry-db"); v != "" {
		ws.Telemetry.SQLite = v
	}
	if v := c.String("metrics-addr"); v != "" {
		ws.Telemetry.MetricsAddr = v
	}

	outputDir, err := report.ResolveOutputDir(c.String("output"), c.Bool("flatten"))
	if err != nil {
		return err
	}

	cfg := &RunConfig{
		FlowPaths:   c.Args().Slice(),
		Env:         parseEnvVars(c.StringSlice("env")),
		IncludeTags: c.StringSlice("include-tags"),
		ExcludeTags: c.StringSlice("exclude-tags"),
		Handoff:     c.String("handoff"),
		OutputDir:   outputDir,
		LogFile:     c.String("log-file"),
		Verbose:     c.Bool("verbose"),
		NoColor:     c.Bool("no-ansi"),
		Workspace:   ws,
	}
	// Tags from the workspace apply when none are given on the command line.
	if len(cfg.IncludeTags) == 0 {
		cfg.IncludeTags = ws.IncludeTags
	}
	if len(cfg.ExcludeTags) == 0 {
		cfg.ExcludeTags = ws.ExcludeTags
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return executeRun(ctx, cfg, os.Stdout)
}

// loadWorkspace loads --config, or axrunner.yaml from the working directory,
// and applies the global --app and --snapshot overrides.
func loadWorkspace(c *cli.Context) (*config.Config, error) {
	var ws *config.Config
	var err error
	if path := c.String("config"); path != "" {
		ws, err = config.Load(path)
	} else {
		ws, err = config.LoadFromDir(".")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if v := c.String("app"); v != "" {
		ws.App = v
	}
	if v := c.String("snapshot"); v != "" {
		ws.Snapshot = v
	}
	return ws, nil
}

func executeRun(ctx context.Context, cfg *RunConfig, stdout io.Writer) error {
	log, err := logger.Init(logger.Options{
		Verbose: cfg.Verbose,
		File:    cfg.LogFile,
		NoColor: cfg.NoColor || !colorsEnabled,
	})
	if err != nil {
		return err
	}
	defer logger.Close()

	// CLI env takes precedence over the process environment for ${VAR}.
	for k, v := range cfg.Env {
		os.Setenv(k, v)
	}

	paths := cfg.FlowPaths
	if len(paths) == 0 {
		paths = cfg.Workspace.Flows
	}
	validated, err := loadFlows(paths, cfg.IncludeTags, cfg.ExcludeTags, validator.WithDefaultApp(defaultApp(cfg.Workspace)))
	if err != nil {
		return err
	}
	for _, w := range validated.Warnings {
		log.Warn("flow warning", "warning", w)
	}
	flows := validated.Flows
	if len(flows) == 0 {
		return fmt.Errorf("no flows to run")
	}

	handoff, closeHandoff, err := openHandoff(cfg.Handoff, log)
	if err != nil {
		return err
	}
	defer closeHandoff()

	rep, err := startReport(cfg, flows)
	if err != nil {
		return err
	}

	eng, err := NewEngine(ctx, cfg.Workspace, EngineOptions{
		Executor: &logExecutor{log: log},
		SlowPath: handoff,
		Logger:   log,
	})
	if err != nil {
		rep.finish()
		return err
	}

	results := runAll(ctx, eng, flows, stdout, rep)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Close(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete", "error", err)
	}

	if eng.Stats != nil {
		fmt.Fprintln(stdout)
		printStats(stdout, eng.Summary)
	}
	if rep != nil {
		if err := rep.finish(); err != nil {
			log.Warn("report incomplete", "dir", rep.dir, "error", err)
		}
		fmt.Fprintf(stdout, "\nReport: %s\n", rep.dir)
	}

	failed := 0
	for i := range results {
		if results[i].Failed() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d flows failed", failed, len(results))
	}
	return ctx.Err()
}

func runAll(ctx context.Context, eng *Engine, flows []*flow.Flow, w io.Writer, rep *runReport) []FlowResult {
	start := time.Now()
	results := make([]FlowResult, 0, len(flows))
	for i, f := range flows {
		if ctx.Err() != nil {
			break
		}
		printFlowStart(w, i, len(flows), &FlowResult{Name: f.Name(), File: f.SourcePath})
		fw := rep.flowWriter(i)
		if fw != nil {
			fw.Start()
		}
		res := eng.RunFlow(ctx, f, FlowHooks{
			OnCommandStart: func(j int, _ core.Command) {
				if fw != nil {
					fw.CommandStart(j)
				}
			},
			OnCommandEnd: func(j int, cr CommandResult) {
				printCommand(w, cr)
				if fw != nil {
					fw.CommandEnd(j, cr.Outcome)
				}
			},
		})
		if fw != nil {
			fw.End()
		}
		results = append(results, res)
	}
	printSummary(w, results, time.Since(start))
	return results
}

// loadFlows validates every path up front. Any validation error aborts the
// run before a command is dispatched.
func loadFlows(paths, includeTags, excludeTags []string, opts ...validator.Option) (*validator.Result, error) {
	res := validator.New(includeTags, excludeTags, opts...).Validate(paths...)
	if !res.IsValid() {
		return res, fmt.Errorf("flow validation failed: %w", res.Err())
	}
	return res, nil
}

// openHandoff returns the slow path. Without a path, deferrals are only logged.
func openHandoff(path string, log *slog.Logger) (*handoffWriter, func(), error) {
	if path == "" {
		return newHandoffWriter(io.Discard, log), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open handoff file: %w", err)
	}
	return newHandoffWriter(f, log), func() { f.Close() }, nil
}

// runReport is the live JSON report of a run. A nil runReport records nothing.
type runReport struct {
	dir     string
	index   *report.IndexWriter
	details []report.FlowDetail
}

// startReport writes the pending skeleton for every flow and marks the run
// as started.
func startReport(cfg *RunConfig, flows []*flow.Flow) (*runReport, error) {
	if cfg.OutputDir == "" {
		return nil, nil
	}
	index, details := report.BuildSkeleton(flows, report.BuilderConfig{
		App:           cfg.Workspace.App,
		Snapshot:      cfg.Workspace.Snapshot,
		RunnerVersion: Version,
	})
	if err := report.WriteSkeleton(cfg.OutputDir, index, details); err != nil {
		return nil, fmt.Errorf("failed to create report: %w", err)
	}
	iw := report.NewIndexWriter(cfg.OutputDir, index)
	iw.Start()
	return &runReport{dir: cfg.OutputDir, index: iw, details: details}, nil
}

func (r *runReport) flowWriter(i int) *report.FlowWriter {
	if r == nil || i >= len(r.details) {
		return nil
	}
	return report.NewFlowWriter(&r.details[i], r.dir, r.index)
}

func (r *runReport) finish() error {
	if r == nil {
		return nil
	}
	r.index.End()
	return r.index.Close()
}
