// Package watcher implements §4.5: a debounced loop that re-analyzes and
// re-executes a script graph on filesystem changes to its manifests or
// declared input files, handing off long-lived service children across
// iterations.
package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/wireit-go/wireit/internal/executor"
	"github.com/wireit-go/wireit/internal/fingerprint"
	"github.com/wireit-go/wireit/internal/graph"
	"github.com/wireit-go/wireit/internal/manifest"
	"github.com/wireit-go/wireit/internal/service"
)

// defaultDebounce matches the 100ms delay the generate/session_watch.go
// watch loop in the example pack hard-codes "for simplicity's sake".
const defaultDebounce = 100 * time.Millisecond

// Config wires one Watcher's collaborators.
type Config struct {
	Root      graph.ScriptReference
	ExtraArgs []string

	// Executor is the template config applied to every iteration's
	// Executor; its Services/PreviousServices fields are overwritten by
	// the watcher itself each iteration.
	Executor executor.Config
	Matcher  fingerprint.Matcher
	Logger   *zap.Logger

	// Debounce is the quiet period after the last change event before
	// re-running. Zero uses defaultDebounce.
	Debounce time.Duration
}

// Watcher runs Config.Root's analyzer+executor repeatedly, per §4.5.
type Watcher struct {
	cfg   Config
	state stateBox
}

// New constructs a Watcher in StateInitial.
func New(cfg Config) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	return &Watcher{cfg: cfg}
}

// State returns the watcher's current state. Safe to call concurrently
// with Run, e.g. from a status-reporting goroutine.
func (w *Watcher) State() State {
	return w.state.get()
}

type iteration struct {
	notify    *fsnotify.Watcher
	manifests map[string]bool
	services  *service.Manager
}

// Run blocks until ctx is cancelled, which transitions to aborted and
// stops every service left running by the last iteration.
func (w *Watcher) Run(ctx context.Context) error {
	w.state.set(StateRunning)

	reader, err := manifest.NewReader(w.cfg.Executor.Pool)
	if err != nil {
		return err
	}
	analyzer := graph.NewAnalyzer(reader)

	it, err := w.runIteration(ctx, analyzer, nil)
	if err != nil {
		return err
	}
	defer it.notify.Close()

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	manifestChanged := false

	w.state.set(StateWatching)
	for {
		select {
		case <-ctx.Done():
			w.state.set(StateAborted)
			stopAllServices(it.services)
			return nil

		case event, ok := <-it.notify.Events:
			if !ok {
				w.state.set(StateAborted)
				return nil
			}
			if !relevant(event) {
				continue
			}
			if it.manifests[event.Name] {
				manifestChanged = true
			}
			w.state.set(StateDebouncing)
			timer.Reset(w.cfg.Debounce)

		case err, ok := <-it.notify.Errors:
			if !ok {
				continue
			}
			if w.cfg.Logger != nil {
				w.cfg.Logger.Warn("watch error", zap.Error(err))
			}

		case <-timer.C:
			w.state.set(StateRunning)
			if manifestChanged {
				// Discard the cached analysis: the next run re-reads every
				// manifest from disk (§4.5).
				reader, err = manifest.NewReader(w.cfg.Executor.Pool)
				if err != nil {
					return err
				}
				analyzer = graph.NewAnalyzer(reader)
			}
			manifestChanged = false

			prevServices := it.services
			it.notify.Close()
			it, err = w.runIteration(ctx, analyzer, prevServices)
			if err != nil {
				return err
			}
			w.state.set(StateWatching)
		}
	}
}

func (w *Watcher) runIteration(ctx context.Context, analyzer *graph.Analyzer, prevServices *service.Manager) (*iteration, error) {
	root, diags, err := analyzer.Analyze(ctx, w.cfg.Root, w.cfg.ExtraArgs)
	if err != nil {
		return nil, err
	}
	w.logDiagnostics("analysis", diags)

	services := service.NewManager()
	execCfg := w.cfg.Executor
	execCfg.Services = services
	execCfg.PreviousServices = prevServices

	ex := executor.New(execCfg)
	_, runDiags, err := ex.Execute(ctx, root)
	if err != nil {
		return nil, err
	}
	w.logDiagnostics("execute", runDiags)

	ws, err := collectWatchSet(root, w.cfg.Matcher)
	if err != nil {
		return nil, err
	}

	notify, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for dir := range ws.dirs {
		if err := notify.Add(dir); err != nil {
			notify.Close()
			return nil, err
		}
	}

	return &iteration{notify: notify, manifests: ws.manifests, services: services}, nil
}

func (w *Watcher) logDiagnostics(stage string, diags graph.Diagnostics) {
	if w.cfg.Logger == nil {
		return
	}
	for _, d := range diags {
		if d.Severity == graph.SeverityError {
			w.cfg.Logger.Error(stage, zap.String("diagnostic", d.Error()))
		} else {
			w.cfg.Logger.Warn(stage, zap.String("diagnostic", d.Error()))
		}
	}
}

func relevant(event fsnotify.Event) bool {
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
}

func stopAllServices(m *service.Manager) {
	if m == nil {
		return
	}
	var wg sync.WaitGroup
	for _, svc := range m.All() {
		wg.Add(1)
		go func(s *service.Service) {
			defer wg.Done()
			_ = s.Stop(context.Background())
		}(svc)
	}
	wg.Wait()
}
