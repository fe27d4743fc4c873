package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wireit-go/wireit/internal/cache"
	"github.com/wireit-go/wireit/internal/fingerprint"
	"github.com/wireit-go/wireit/internal/graph"
	"github.com/wireit-go/wireit/internal/worker"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	abort, _ := NewAbort(context.Background())
	return New(Config{
		StateRoot: StateRoot(t.TempDir()),
		Pool:      worker.New(worker.ParallelInfinity, 0),
		Cache:     &cache.None{},
		Matcher:   fingerprint.NewDoublestarMatcher(),
		Failure:   FailureModeNoNew,
		Abort:     abort,
	})
}

func scriptIn(t *testing.T, command string, files, output []string) *graph.ScriptConfig {
	t.Helper()
	dir := t.TempDir()
	return &graph.ScriptConfig{
		Reference: graph.ScriptReference{PackageDir: dir, Name: "build"},
		Kind:      graph.KindOneShot,
		Command:   command,
		Files:     files,
		Output:    output,
	}
}

func TestExecuteRunsThenIsFreshOnSecondCall(t *testing.T) {
	e := newTestExecutor(t)
	cfg := scriptIn(t, "true", []string{}, []string{})

	res, diags, err := e.Execute(context.Background(), cfg)
	require.NoError(t, err)
	require.False(t, diags.HasErrors())
	require.Equal(t, OutcomeRan, res.Outcome)

	e2 := New(Config{
		StateRoot: e.cfg.StateRoot,
		Pool:      e.cfg.Pool,
		Cache:     &cache.None{},
		Matcher:   e.cfg.Matcher,
		Failure:   FailureModeNoNew,
		Abort:     e.cfg.Abort,
	})
	res2, diags2, err := e2.Execute(context.Background(), cfg)
	require.NoError(t, err)
	require.False(t, diags2.HasErrors())
	require.Equal(t, OutcomeFresh, res2.Outcome)
}

func TestExecuteNotFullyTrackedNeverFresh(t *testing.T) {
	e := newTestExecutor(t)
	cfg := &graph.ScriptConfig{
		Reference: graph.ScriptReference{PackageDir: t.TempDir(), Name: "build"},
		Kind:      graph.KindOneShot,
		Command:   "true",
	}

	_, _, err := e.Execute(context.Background(), cfg)
	require.NoError(t, err)

	e2 := New(Config{StateRoot: e.cfg.StateRoot, Pool: e.cfg.Pool, Cache: &cache.None{}, Matcher: e.cfg.Matcher, Failure: FailureModeNoNew, Abort: e.cfg.Abort})
	res2, _, err := e2.Execute(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, OutcomeRan, res2.Outcome)
}

func TestExecuteFailureIsReportedAsDiagnostic(t *testing.T) {
	e := newTestExecutor(t)
	cfg := scriptIn(t, "false", []string{}, []string{})

	res, diags, err := e.Execute(context.Background(), cfg)
	require.NoError(t, err)
	require.Nil(t, res)
	require.True(t, diags.HasErrors())
	require.Equal(t, graph.DiagExitNonZero, diags[0].Kind)
}

func TestExecuteDependencyFailureBlocksDependent(t *testing.T) {
	e := newTestExecutor(t)
	dep := scriptIn(t, "false", []string{}, []string{})
	top := scriptIn(t, "true", []string{}, []string{})
	top.Dependencies = []graph.Dependency{{Config: dep, Cascade: true}}

	res, diags, err := e.Execute(context.Background(), top)
	require.NoError(t, err)
	require.Nil(t, res)
	require.True(t, diags.HasErrors())
	require.Equal(t, graph.DiagDependencyInvalid, diags[0].Kind)
}

func TestExecuteCleansOutputBeforeRerun(t *testing.T) {
	e := newTestExecutor(t)
	dir := t.TempDir()
	stale := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0o644))

	cfg := &graph.ScriptConfig{
		Reference: graph.ScriptReference{PackageDir: dir, Name: "build"},
		Kind:      graph.KindOneShot,
		Command:   "echo fresh > out.txt",
		Files:     []string{},
		Output:    []string{"out.txt"},
		Clean:     graph.CleanAlways,
	}
	_, diags, err := e.Execute(context.Background(), cfg)
	require.NoError(t, err)
	require.False(t, diags.HasErrors())

	contents, err := os.ReadFile(stale)
	require.NoError(t, err)
	require.Equal(t, "fresh\n", string(contents))
}

func TestExecuteNoCommandGrouperIsAlwaysFresh(t *testing.T) {
	e := newTestExecutor(t)
	cfg := &graph.ScriptConfig{
		Reference: graph.ScriptReference{PackageDir: t.TempDir(), Name: "group"},
		Kind:      graph.KindNoCommand,
	}
	res, diags, err := e.Execute(context.Background(), cfg)
	require.NoError(t, err)
	require.False(t, diags.HasErrors())
	require.Equal(t, OutcomeFresh, res.Outcome)
}
