// Package executor implements §4.3's execute(script) -> outcome algorithm:
// memoized, dependency-ordered, fingerprint-gated script execution, with
// cache and service integration and the failure-mode policies of §5.
package executor

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/xerrors"

	"github.com/wireit-go/wireit/internal/cache"
	"github.com/wireit-go/wireit/internal/fingerprint"
	"github.com/wireit-go/wireit/internal/graph"
	"github.com/wireit-go/wireit/internal/service"
	"github.com/wireit-go/wireit/internal/trace"
	"github.com/wireit-go/wireit/internal/worker"
)

// Outcome classifies how a script's execute() resolved (§4.3).
type Outcome int

const (
	OutcomeFresh Outcome = iota
	OutcomeCached
	OutcomeRan
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFresh:
		return "fresh"
	case OutcomeCached:
		return "cached"
	case OutcomeRan:
		return "ran"
	default:
		return "unknown"
	}
}

// Result is what execute() produces for one script on success.
type Result struct {
	Ref         graph.ScriptReference
	Outcome     Outcome
	Fingerprint fingerprint.Result
}

// Config wires an Executor's collaborators, each an external seam per §1.
type Config struct {
	StateRoot StateRoot
	Pool      *worker.Pool
	Cache     cache.Cache
	Matcher   fingerprint.Matcher
	Logger    *zap.Logger
	Failure   FailureMode
	Abort     *Abort

	// Services is this executor instance's service manager; required iff
	// the graph contains any KindService script.
	Services *service.Manager
	// PreviousServices is the prior watch iteration's manager, consulted
	// for service hand-off (§4.5). Nil on the first iteration / non-watch
	// runs.
	PreviousServices *service.Manager
}

// Executor runs one analyzed script graph to completion, memoizing each
// distinct script reference exactly once per Executor instance (§4.3: "a
// script with multiple dependents is only ever executed once").
type Executor struct {
	cfg   Config
	group singleflight.Group

	failedMu  sync.Mutex
	anyFailed bool
}

// New constructs an Executor. cfg.Logger may be nil to discard logs.
func New(cfg Config) *Executor {
	return &Executor{cfg: cfg}
}

type execOutcome struct {
	result *Result
	diags  graph.Diagnostics
}

// Execute runs root and its transitive dependencies, returning root's own
// result plus the full accumulated diagnostics (which may be non-empty even
// on success, e.g. info/warning severity).
func (e *Executor) Execute(ctx context.Context, root *graph.ScriptConfig) (*Result, graph.Diagnostics, error) {
	out, err := e.execute(ctx, root)
	if err != nil {
		return nil, nil, err
	}
	return out.result, out.diags, nil
}

// execute is the memoized entry point: concurrent callers for the same
// script reference share one underlying run (singleflight), matching
// §4.3's "only ever executed once" invariant even when two dependents
// race to request it.
func (e *Executor) execute(ctx context.Context, cfg *graph.ScriptConfig) (*execOutcome, error) {
	v, err, _ := e.group.Do(cfg.Reference.String(), func() (interface{}, error) {
		return e.runOnce(ctx, cfg)
	})
	if err != nil {
		return nil, err
	}
	return v.(*execOutcome), nil
}

func (e *Executor) runOnce(ctx context.Context, cfg *graph.ScriptConfig) (*execOutcome, error) {
	if e.cfg.Abort != nil && e.cfg.Abort.Aborted() {
		return &execOutcome{diags: graph.Diagnostics{{
			Kind: graph.DiagAborted, Severity: graph.SeverityError,
			Message: "not started: the run was aborted", Position: cfg.Position,
		}}}, nil
	}

	depResults, depDiags, err := e.executeDependencies(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if depDiags.HasErrors() {
		diags := graph.Diagnostics{{
			Kind: graph.DiagDependencyInvalid, Severity: graph.SeverityError,
			Message: "not started: a dependency failed", Position: cfg.Position,
		}}
		return &execOutcome{diags: append(diags, depDiags...)}, nil
	}

	if cfg.Kind == graph.KindService {
		return e.executeService(ctx, cfg, depResults)
	}

	fp, err := fingerprint.Compute(ctx, cfg, e.cfg.Matcher, depResults, e.cfg.Pool)
	if err != nil {
		return nil, err
	}

	if cfg.Kind == graph.KindNoCommand {
		return &execOutcome{result: &Result{Ref: cfg.Reference, Outcome: OutcomeFresh, Fingerprint: fp}}, nil
	}

	return e.decideAndRun(ctx, cfg, fp)
}

// executeDependencies runs cfg's dependencies concurrently in randomized
// order (§5: "dependencies of a script are started in a random order," which
// exercises scheduling assumptions instead of baking in manifest order).
func (e *Executor) executeDependencies(ctx context.Context, cfg *graph.ScriptConfig) ([]fingerprint.DependencyResult, graph.Diagnostics, error) {
	deps := append([]graph.Dependency(nil), cfg.Dependencies...)
	rand.Shuffle(len(deps), func(i, j int) { deps[i], deps[j] = deps[j], deps[i] })

	results := make([]fingerprint.DependencyResult, len(deps))
	var mu sync.Mutex
	var diags graph.Diagnostics

	g, gctx := errgroup.WithContext(ctx)
	for i, dep := range deps {
		i, dep := i, dep
		g.Go(func() error {
			out, err := e.execute(gctx, dep.Config)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if out.diags.HasErrors() {
				diags = append(diags, out.diags...)
				return nil
			}
			if out.result != nil {
				results[i] = fingerprint.DependencyResult{
					Ref: dep.Config.Reference, Cascade: dep.Cascade, Result: out.result.Fingerprint,
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return results, diags, nil
}

// decideAndRun implements §4.3's fresh/cached/run decision for a one-shot
// script whose fingerprint has already been computed.
func (e *Executor) decideAndRun(ctx context.Context, cfg *graph.ScriptConfig, fp fingerprint.Result) (*execOutcome, error) {
	fpPath := e.cfg.StateRoot.FingerprintPath(cfg.Reference)
	prev, prevRaw, err := loadFingerprint(fpPath)
	if err != nil {
		return nil, err
	}

	currentCanon, err := fingerprint.Canonicalize(fp.Fingerprint)
	if err != nil {
		return nil, err
	}

	if isFresh(prevRaw, currentCanon, fp.Fingerprint.FullyTracked) {
		return &execOutcome{result: &Result{Ref: cfg.Reference, Outcome: OutcomeFresh, Fingerprint: fp}}, nil
	}

	if fp.Fingerprint.FullyTracked && e.cfg.Cache != nil {
		hit, ok, err := e.cfg.Cache.Get(ctx, cfg.Reference, fp.Hash)
		if err != nil {
			return nil, err
		}
		if ok {
			if err := hit.Apply(ctx); err != nil {
				return nil, err
			}
			if err := writeFingerprint(fpPath, currentCanon); err != nil {
				return nil, err
			}
			return &execOutcome{result: &Result{Ref: cfg.Reference, Outcome: OutcomeCached, Fingerprint: fp}}, nil
		}
	}

	if e.blockedByFailure() {
		return &execOutcome{diags: graph.Diagnostics{{
			Kind: graph.DiagStartCancelled, Severity: graph.SeverityError,
			Message: "not started: a sibling script failed and the failure mode forbids starting new work",
			Position: cfg.Position,
		}}}, nil
	}

	if shouldClean(cfg, prev, fp.Fingerprint) {
		if err := cleanOutputs(cfg, e.cfg.Matcher); err != nil {
			return nil, err
		}
	}

	return e.run(ctx, cfg, fp, fpPath, currentCanon)
}

func (e *Executor) blockedByFailure() bool {
	if e.cfg.Failure == FailureModeContinue {
		return false
	}
	e.failedMu.Lock()
	defer e.failedMu.Unlock()
	return e.anyFailed
}

func (e *Executor) markFailed() {
	e.failedMu.Lock()
	e.anyFailed = true
	e.failedMu.Unlock()
	if e.cfg.Failure == FailureModeKill && e.cfg.Abort != nil {
		e.cfg.Abort.Signal()
	}
}

// run spawns cfg's command, streams its output, and on success records the
// new fingerprint and populates the cache (§4.3, §5, §6).
func (e *Executor) run(ctx context.Context, cfg *graph.ScriptConfig, fp fingerprint.Result, fpPath string, currentCanon []byte) (*execOutcome, error) {
	release, err := e.cfg.Pool.AcquireJob(ctx)
	if err != nil {
		return &execOutcome{diags: graph.Diagnostics{{
			Kind: graph.DiagStartCancelled, Severity: graph.SeverityError,
			Message: err.Error(), Position: cfg.Position,
		}}}, nil
	}
	defer release()

	// An interrupted run must never be mistaken for fresh (§4.3): the
	// stale fingerprint is removed before the process is even spawned.
	if err := deleteFingerprint(fpPath); err != nil {
		return nil, err
	}

	logPath := e.cfg.StateRoot.LogPath(cfg.Reference)
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, err
	}
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, err
	}
	defer logFile.Close()
	gz := pgzip.NewWriter(logFile)
	defer gz.Close()

	if e.cfg.Logger != nil {
		e.cfg.Logger.Info("running", zap.String("script", cfg.Reference.Name), zap.String("command", cfg.Command))
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", commandLine(cfg))
	cmd.Dir = cfg.Reference.PackageDir
	cmd.Env = overlayEnv(cfg.Env)
	cmd.Stdout = gz
	cmd.Stderr = gz

	ev := trace.Event(cfg.Reference.Name, 0)
	runErr := cmd.Run()
	ev.Done()
	if runErr != nil {
		e.markFailed()
		if e.cfg.Logger != nil {
			e.cfg.Logger.Warn("failed", zap.String("script", cfg.Reference.Name), zap.Error(runErr))
		}
		return &execOutcome{diags: graph.Diagnostics{diagForRunError(cfg, runErr)}}, nil
	}

	if fp.Fingerprint.FullyTracked && e.cfg.Cache != nil {
		outFiles, err := e.cfg.Matcher.Match(cfg.Reference.PackageDir, cfg.Output)
		if err != nil {
			return nil, err
		}
		if _, err := e.cfg.Cache.Set(ctx, cfg.Reference, fp.Hash, outFiles); err != nil {
			return nil, err
		}
	}
	if err := writeFingerprint(fpPath, currentCanon); err != nil {
		return nil, err
	}

	return &execOutcome{result: &Result{Ref: cfg.Reference, Outcome: OutcomeRan, Fingerprint: fp}}, nil
}

func commandLine(cfg *graph.ScriptConfig) string {
	if len(cfg.ExtraArgs) == 0 {
		return cfg.Command
	}
	return cfg.Command + " " + strings.Join(cfg.ExtraArgs, " ")
}

func overlayEnv(overlay map[string]string) []string {
	env := os.Environ()
	for k, v := range overlay {
		env = append(env, k+"="+v)
	}
	return env
}

func diagForRunError(cfg *graph.ScriptConfig, err error) graph.Diagnostic {
	switch e := err.(type) {
	case *exec.ExitError:
		if e.ExitCode() < 0 {
			return graph.Diagnostic{
				Kind: graph.DiagSignal, Severity: graph.SeverityError,
				Message: fmt.Sprintf("terminated by signal: %v", e), Position: cfg.Position,
			}
		}
		return graph.Diagnostic{
			Kind: graph.DiagExitNonZero, Severity: graph.SeverityError,
			Message: fmt.Sprintf("exit code %d", e.ExitCode()), Position: cfg.Position,
		}
	case *exec.Error:
		return graph.Diagnostic{
			Kind: graph.DiagSpawnError, Severity: graph.SeverityError,
			Message: e.Error(), Position: cfg.Position,
		}
	default:
		return graph.Diagnostic{
			Kind: graph.DiagUnknownErrorThrown, Severity: graph.SeverityError,
			Message: err.Error(), Position: cfg.Position,
		}
	}
}

// executeService implements §4.4's integration point: a KindService script
// is started (or adopted) rather than run to completion. It registers one
// consumer itself and returns as soon as Start reports the service started,
// so a dependent depends on "started", not "terminated". Nothing here waits
// for the service to exit or calls RemoveConsumer.
func (e *Executor) executeService(ctx context.Context, cfg *graph.ScriptConfig, depResults []fingerprint.DependencyResult) (*execOutcome, error) {
	if e.cfg.Services == nil {
		return nil, xerrors.Errorf("script %s is a service but no service manager is configured", cfg.Reference.Name)
	}
	svc := e.cfg.Services.GetOrCreate(cfg.Reference, cfg)

	fp, err := fingerprint.Compute(ctx, cfg, e.cfg.Matcher, depResults, e.cfg.Pool)
	if err != nil {
		return nil, err
	}

	if err := svc.ExecuteDeps(ctx, nil, fp); err != nil {
		return &execOutcome{diags: graph.Diagnostics{{
			Kind: graph.DiagServiceExitedUnexpectedly, Severity: graph.SeverityError,
			Message: err.Error(), Position: cfg.Position,
		}}}, nil
	}

	var adoptee *service.Service
	if e.cfg.PreviousServices != nil {
		adoptee = e.cfg.PreviousServices.Adoptee(cfg.Reference)
	}
	if err := svc.Adopt(ctx, adoptee); err != nil {
		return nil, err
	}

	svc.AddConsumer()
	svc.UpstreamReady()

	logPath := e.cfg.StateRoot.LogPath(cfg.Reference)
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, err
	}
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, err
	}

	if err := svc.Start(ctx, overlayEnv(cfg.Env), logFile, logFile); err != nil {
		logFile.Close()
		trace.Instant(cfg.Reference.Name+" failed to start", 3, nil)
		return &execOutcome{diags: graph.Diagnostics{{
			Kind: graph.DiagServiceExitedUnexpectedly, Severity: graph.SeverityError,
			Message: err.Error(), Position: cfg.Position,
		}}}, nil
	}
	trace.Instant(cfg.Reference.Name+" started", 3, nil)
	go func() {
		<-svc.Done()
		trace.Instant(cfg.Reference.Name+" "+svc.State().String(), 3, nil)
		logFile.Close()
	}()

	go e.watchUpstreamServices(cfg, svc)

	return &execOutcome{result: &Result{Ref: cfg.Reference, Outcome: OutcomeRan, Fingerprint: fp}}, nil
}

// watchUpstreamServices kills svc when a service it depends on terminates
// in the failed state while svc is still live (§4.4's "started -> on
// upstream service exit -> failing"). No diagnostic is produced for this:
// execute() for svc has already returned by then, and
// DiagDependencyServiceExitedUnexpectedly is not emitted.
func (e *Executor) watchUpstreamServices(cfg *graph.ScriptConfig, svc *service.Service) {
	for _, dep := range cfg.Dependencies {
		if dep.Config.Kind != graph.KindService {
			continue
		}
		upstream := e.cfg.Services.Adoptee(dep.Config.Reference)
		if upstream == nil {
			continue
		}
		go func(u *service.Service) {
			select {
			case <-u.Done():
				if u.State() == service.StateFailed {
					svc.FailUpstream(context.Background())
				}
			case <-svc.Done():
			}
		}(upstream)
	}
}
