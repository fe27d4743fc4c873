package executor

import (
	"context"

	"github.com/wireit-go/wireit/internal/fingerprint"
	"github.com/wireit-go/wireit/internal/graph"
)

// PlanEntry is one script's Plan classification: what Execute would do for
// it without actually doing it.
type PlanEntry struct {
	Ref     graph.ScriptReference
	Outcome Outcome
}

// Plan returns, in dependency order (leaves first, each reference appearing
// exactly once even when shared by multiple dependents), the outcome every
// script in root's closure would resolve to — fresh, cached, or ran — were
// Execute run right now. It computes the same fingerprints Execute would and
// consults the cache read-only, but never spawns a command, writes a
// fingerprint file, or populates the cache: a plan must not have side
// effects of its own.
func (e *Executor) Plan(ctx context.Context, root *graph.ScriptConfig) ([]PlanEntry, graph.Diagnostics, error) {
	p := &planner{exec: e, memo: make(map[string]fingerprint.Result)}
	_, diags, err := p.visit(ctx, root)
	if err != nil {
		return nil, nil, err
	}
	return p.entries, diags, nil
}

type planner struct {
	exec    *Executor
	memo    map[string]fingerprint.Result
	entries []PlanEntry
}

// visit computes (and memoizes) root's fingerprint and classification,
// recursing into its dependencies first so PlanEntries come out leaves-first
// like Execute's own execution order.
func (p *planner) visit(ctx context.Context, cfg *graph.ScriptConfig) (fingerprint.Result, graph.Diagnostics, error) {
	key := cfg.Reference.String()
	if fp, ok := p.memo[key]; ok {
		return fp, nil, nil
	}

	var diags graph.Diagnostics
	deps := make([]fingerprint.DependencyResult, 0, len(cfg.Dependencies))
	for _, dep := range cfg.Dependencies {
		depFP, depDiags, err := p.visit(ctx, dep.Config)
		if err != nil {
			return fingerprint.Result{}, nil, err
		}
		diags = append(diags, depDiags...)
		deps = append(deps, fingerprint.DependencyResult{
			Ref: dep.Config.Reference, Cascade: dep.Cascade, Result: depFP,
		})
	}

	fp, err := fingerprint.Compute(ctx, cfg, p.exec.cfg.Matcher, deps, p.exec.cfg.Pool)
	if err != nil {
		return fingerprint.Result{}, nil, err
	}
	p.memo[key] = fp

	outcome, err := p.exec.classify(ctx, cfg, fp)
	if err != nil {
		return fingerprint.Result{}, nil, err
	}
	p.entries = append(p.entries, PlanEntry{Ref: cfg.Reference, Outcome: outcome})

	return fp, diags, nil
}

// classify is decideAndRun's fresh/cached/run decision (§4.3) with every
// mutating step removed: no clean, no command, no fingerprint write, no
// cache populate. It still performs a real (read-only) cache lookup so a
// plan reports "cached" accurately rather than guessing from the fingerprint
// alone.
func (e *Executor) classify(ctx context.Context, cfg *graph.ScriptConfig, fp fingerprint.Result) (Outcome, error) {
	switch cfg.Kind {
	case graph.KindNoCommand:
		return OutcomeFresh, nil
	case graph.KindService:
		// A service is always (re)started or adopted, never skipped, per
		// §4.4 — there is no "fresh" outcome for it to plan toward.
		return OutcomeRan, nil
	}

	fpPath := e.cfg.StateRoot.FingerprintPath(cfg.Reference)
	_, prevRaw, err := loadFingerprint(fpPath)
	if err != nil {
		return OutcomeRan, err
	}
	currentCanon, err := fingerprint.Canonicalize(fp.Fingerprint)
	if err != nil {
		return OutcomeRan, err
	}
	if isFresh(prevRaw, currentCanon, fp.Fingerprint.FullyTracked) {
		return OutcomeFresh, nil
	}
	if fp.Fingerprint.FullyTracked && e.cfg.Cache != nil {
		_, ok, err := e.cfg.Cache.Get(ctx, cfg.Reference, fp.Hash)
		if err != nil {
			return OutcomeRan, err
		}
		if ok {
			return OutcomeCached, nil
		}
	}
	return OutcomeRan, nil
}
