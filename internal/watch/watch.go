// Package watch re-runs the build pipeline when the project directory
// changes. Change bursts are debounced into a single rebuild, and an
// optional interval schedule triggers rebuilds even without file activity.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/packforge/packforge/internal/metrics"
)

// BuildFunc performs one full pipeline run.
type BuildFunc func(ctx context.Context) error

// Options configures a Watcher.
type Options struct {
	ProjectDir  string
	Debounce    time.Duration // quiet window before a rebuild, default 2s
	Interval    time.Duration // optional periodic rebuild
	MetricsAddr string        // optional, serves /metrics when set
	Registry    *prom.Registry
	Build       BuildFunc
	Log         *slog.Logger
}

// Watcher drives rebuilds from filesystem events.
type Watcher struct {
	opts    Options
	fsw     *fsnotify.Watcher
	trigger chan string
	log     *slog.Logger
}

// New creates a watcher over the project directory. The directory tree is
// watched recursively; dot-directories and build output are skipped.
func New(opts Options) (*Watcher, error) {
	if opts.Build == nil {
		return nil, fmt.Errorf("build function is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	w := &Watcher{
		opts:    opts,
		fsw:     fsw,
		trigger: make(chan string, 1),
		log:     log,
	}
	if err := w.addRecursive(opts.ProjectDir); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root && (strings.HasPrefix(name, ".") || name == "node_modules") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Run blocks until ctx is cancelled, rebuilding after each debounced change
// burst. A failed build is logged and watching continues.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	var scheduler gocron.Scheduler
	if w.opts.Interval > 0 {
		s, err := gocron.NewScheduler()
		if err != nil {
			return fmt.Errorf("create scheduler: %w", err)
		}
		_, err = s.NewJob(
			gocron.DurationJob(w.opts.Interval),
			gocron.NewTask(func() { w.requestBuild("interval") }),
			gocron.WithName("interval-build"),
		)
		if err != nil {
			return fmt.Errorf("create interval job: %w", err)
		}
		s.Start()
		scheduler = s
		defer func() { _ = scheduler.Shutdown() }()
	}

	if w.opts.MetricsAddr != "" && w.opts.Registry != nil {
		srv := w.startMetricsServer()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	w.log.Info("watching for changes", "dir", w.opts.ProjectDir, "debounce", w.opts.Debounce)

	go w.watchLoop(ctx)

	debounce := time.NewTimer(time.Hour)
	if !debounce.Stop() {
		<-debounce.C
	}
	var pendingReason string

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case reason := <-w.trigger:
			pendingReason = reason
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(w.opts.Debounce)
		case <-debounce.C:
			w.log.Info("rebuilding", "reason", pendingReason)
			if err := w.opts.Build(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.log.Error("build failed", "error", err)
			} else {
				w.log.Info("build succeeded")
			}
		}
	}
}

func (w *Watcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Op.Has(fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename) {
				continue
			}
			// New directories need to be added to the watch set.
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(ev.Name)
				}
			}
			w.requestBuild(ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) requestBuild(reason string) {
	select {
	case w.trigger <- reason:
	default:
	}
}

func (w *Watcher) startMetricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(w.opts.Registry))
	srv := &http.Server{Addr: w.opts.MetricsAddr, Handler: mux}
	go func() {
		w.log.Info("serving metrics", "addr", w.opts.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			w.log.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
