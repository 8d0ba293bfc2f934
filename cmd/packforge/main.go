package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/packforge/packforge/internal/backup"
	"github.com/packforge/packforge/internal/config"
	"github.com/packforge/packforge/internal/events"
	"github.com/packforge/packforge/internal/fetch"
	"github.com/packforge/packforge/internal/history"
	"github.com/packforge/packforge/internal/metrics"
	"github.com/packforge/packforge/internal/notary"
	"github.com/packforge/packforge/internal/patch"
	"github.com/packforge/packforge/internal/pipeline"
	"github.com/packforge/packforge/internal/report"
	"github.com/packforge/packforge/internal/sdk"
	"github.com/packforge/packforge/internal/task"
	"github.com/packforge/packforge/internal/task/builtin"
	"github.com/packforge/packforge/internal/version"
	"github.com/packforge/packforge/internal/watch"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"packforge.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Build struct {
		Input  string `short:"i" help:"Project directory to build" default:"."`
		Output string `short:"o" help:"Output directory for packaged artifacts" default:"./dist"`
		Report bool   `help:"Write an HTML build report into the output directory"`
	} `cmd:"" help:"Run the build pipeline for a project"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Watch struct {
		Input       string        `short:"i" help:"Project directory to watch" default:"."`
		Output      string        `short:"o" help:"Output directory for packaged artifacts" default:"./dist"`
		Interval    time.Duration `help:"Also rebuild on a fixed interval (e.g. 1h)"`
		MetricsAddr string        `help:"Serve Prometheus metrics on this address (e.g. :9090)"`
	} `cmd:"" help:"Rebuild automatically when the project changes"`

	History struct {
		Run   string `arg:"" optional:"" help:"Show the events of a specific run"`
		Limit int    `default:"10" help:"Number of recent runs to list"`
	} `cmd:"" help:"Show recent pipeline runs"`

	Version struct{} `cmd:"" help:"Print version information"`
}

func main() {
	ctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	var err error
	switch ctx.Command() {
	case "build":
		err = runBuild()
	case "init":
		err = config.Init(CLI.Config, CLI.Init.Force)
	case "watch":
		err = runWatch()
	case "history", "history <run>":
		err = runHistory()
	case "version":
		fmt.Printf("packforge %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildTime)
	default:
		err = fmt.Errorf("unknown command: %s", ctx.Command())
	}
	if err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runBuild() error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}

	env, err := newEnvironment(cfg, nil)
	if err != nil {
		return err
	}
	defer env.Close()

	return env.build(ctx, CLI.Build.Input, CLI.Build.Output, CLI.Build.Report)
}

func runWatch() error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}

	reg := prom.NewRegistry()
	env, err := newEnvironment(cfg, metrics.NewPrometheusRecorder(reg))
	if err != nil {
		return err
	}
	defer env.Close()

	w, err := watch.New(watch.Options{
		ProjectDir:  CLI.Watch.Input,
		Interval:    CLI.Watch.Interval,
		MetricsAddr: CLI.Watch.MetricsAddr,
		Registry:    reg,
		Log:         slog.Default(),
		Build: func(ctx context.Context) error {
			return env.build(ctx, CLI.Watch.Input, CLI.Watch.Output, false)
		},
	})
	if err != nil {
		return err
	}

	if err := w.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	slog.Info("Watch stopped")
	return nil
}

func runHistory() error {
	ctx, cancel := signalContext()
	defer cancel()

	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	if CLI.History.Run != "" {
		evs, err := store.RunEvents(ctx, CLI.History.Run)
		if err != nil {
			return err
		}
		for _, ev := range evs {
			fmt.Printf("%s  %-16s %v\n", ev.Timestamp.Format(time.RFC3339), ev.Type, ev.Fields)
		}
		return nil
	}

	runs, err := store.RecentRuns(ctx, CLI.History.Limit)
	if err != nil {
		return err
	}
	for _, run := range runs {
		duration := "-"
		if run.FinishedAt != nil {
			duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
		}
		fmt.Printf("%s  %-8s %-9s %s\n", run.ID, run.Outcome, duration, run.Project)
	}
	return nil
}

func openHistory() (history.Store, error) {
	stateDir, err := config.StateDir()
	if err != nil {
		return nil, err
	}
	return history.NewSQLiteStore(filepath.Join(stateDir, "history.db"))
}

// environment holds the long-lived collaborators shared across runs. Watch
// mode reuses one environment for every rebuild.
type environment struct {
	cfg       *config.Config
	store     history.Store
	publisher events.Publisher
	recorder  metrics.Recorder
	manager   *sdk.ExecManager
	notarizer notary.Notarizer
	resolver  *fetch.Resolver
	log       *slog.Logger
}

func newEnvironment(cfg *config.Config, recorder metrics.Recorder) (*environment, error) {
	log := slog.Default()

	store, err := openHistory()
	if err != nil {
		return nil, err
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.Events.NATSURL != "" {
		p, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.Subject, log)
		if err != nil {
			store.Close()
			return nil, err
		}
		publisher = p
	}

	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}

	stateDir, err := config.StateDir()
	if err != nil {
		store.Close()
		publisher.Close()
		return nil, err
	}

	return &environment{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		recorder:  recorder,
		manager:   sdk.NewExecManager(cfg.SDK.Manager, cfg.SDK.Registry, log),
		notarizer: notary.NewExecNotarizer(cfg.Notary.Binary, log),
		resolver:  fetch.NewResolver(filepath.Join(stateDir, "sources"), log),
		log:       log,
	}, nil
}

func (e *environment) Close() {
	e.publisher.Close()
	if err := e.store.Close(); err != nil {
		e.log.Warn("Failed to close history store", "error", err)
	}
}

// tasksDir resolves the configured custom-task source into a local
// directory. Git URLs are cloned through the source resolver, the same way
// patch-set sources are.
func (e *environment) tasksDir(ctx context.Context) (string, error) {
	if e.cfg.Tasks.Path == "" {
		return "", nil
	}
	dir, err := e.resolver.Resolve(ctx, e.cfg.Tasks.Path)
	if err != nil {
		return "", fmt.Errorf("resolve tasks source: %w", err)
	}
	return dir, nil
}

// build runs one full pipeline invocation against a freshly resolved SDK
// instance.
func (e *environment) build(ctx context.Context, projectDir, outputDir string, writeReport bool) error {
	projectDir, err := filepath.Abs(projectDir)
	if err != nil {
		return err
	}
	outputDir, err = filepath.Abs(outputDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	inst, err := e.manager.Resolve(ctx, e.cfg.SDK.Version)
	if err != nil {
		return err
	}
	e.log.Info("Resolved SDK instance", "version", inst.Version(), "root", inst.Root())

	backups := backup.NewStore(inst.Root())
	engine := patch.NewEngine(backups,
		patch.WithRecords(e.store),
		patch.WithObserver(e.recorder),
		patch.WithLogger(e.log),
	)

	deps := builtin.Deps{
		Manager:   e.manager,
		Notarizer: e.notarizer,
		Resolver:  e.resolver,
		PCBuild:   e.cfg.Build.PCEnabled(),
	}
	tasksDir, err := e.tasksDir(ctx)
	if err != nil {
		return err
	}
	registry, err := task.Discover(builtin.Factories(deps), tasksDir)
	if err != nil {
		return err
	}

	enabled, err := registry.Enabled(e.cfg.Tasks.Enabled)
	if err != nil {
		return err
	}
	sections, err := registry.ValidateConfigs(enabled, e.cfg.Sections)
	if err != nil {
		return err
	}
	e.log.Info("Task discovery complete", "registered", len(registry.Names()), "enabled", len(enabled))

	p := pipeline.New(pipeline.Options{
		Registry:   registry,
		Enabled:    enabled,
		Sections:   sections,
		ProjectDir: projectDir,
		OutputDir:  outputDir,
		SDK:        inst,
		Manager:    e.manager,
		Backups:    backups,
		Patches:    engine,
		Platforms: pipeline.Platforms{
			PC:      e.cfg.Build.PCEnabled(),
			Mac:     e.cfg.Build.MacEnabled(),
			Android: e.cfg.Build.AndroidEnabled(),
		},
		History:   e.store,
		Publisher: e.publisher,
		Recorder:  e.recorder,
		Log:       e.log,
	})

	started := time.Now()
	runErr := p.Run(ctx)
	finished := time.Now()

	if writeReport {
		outcome := "success"
		if runErr != nil {
			outcome = "failed"
		}
		rep := &report.Report{
			RunID:      p.RunID(),
			ProjectDir: projectDir,
			OutputDir:  outputDir,
			SDKVersion: inst.Version(),
			StartedAt:  started,
			FinishedAt: finished,
			Outcome:    outcome,
			Results:    p.Results(),
			Artifacts:  report.CollectArtifacts(outputDir),
		}
		if path, rerr := rep.Write(); rerr != nil {
			e.log.Warn("Failed to write build report", "error", rerr)
		} else {
			e.log.Info("Build report written", "path", path)
		}
	}

	if runErr != nil {
		return runErr
	}
	e.log.Info("Build finished", "run_id", p.RunID(), "duration", finished.Sub(started).Round(time.Millisecond))
	return nil
}
