package fingerprint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/wireit-go/wireit/internal/graph"
	"github.com/wireit-go/wireit/internal/worker"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestComputeFullyTrackedNoCommand(t *testing.T) {
	cfg := &graph.ScriptConfig{Kind: graph.KindNoCommand}
	res, err := Compute(context.Background(), cfg, NewDoublestarMatcher(), nil, nil)
	require.NoError(t, err)
	require.True(t, res.Fingerprint.FullyTracked)
	require.Empty(t, res.Reason)
}

func TestComputeOneShotNoFilesNotTracked(t *testing.T) {
	cfg := &graph.ScriptConfig{Kind: graph.KindOneShot, Command: "tsc"}
	res, err := Compute(context.Background(), cfg, NewDoublestarMatcher(), nil, nil)
	require.NoError(t, err)
	require.False(t, res.Fingerprint.FullyTracked)
	require.Contains(t, res.Reason, "files")
}

func TestComputeServiceNoFilesTracked(t *testing.T) {
	cfg := &graph.ScriptConfig{Kind: graph.KindService, Command: "node server.js"}
	res, err := Compute(context.Background(), cfg, NewDoublestarMatcher(), nil, nil)
	require.NoError(t, err)
	require.True(t, res.Fingerprint.FullyTracked)
}

func TestComputeHashesDeclaredFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.ts", "export const a = 1;")
	writeFile(t, dir, "b.ts", "export const b = 2;")

	cfg := &graph.ScriptConfig{
		Reference: graph.ScriptReference{PackageDir: dir, Name: "build"},
		Kind:      graph.KindOneShot,
		Command:   "tsc",
		Files:     []string{"*.ts"},
		Output:    []string{"lib/**"},
	}
	res, err := Compute(context.Background(), cfg, NewDoublestarMatcher(), nil, nil)
	require.NoError(t, err)
	require.True(t, res.Fingerprint.FullyTracked)
	require.Len(t, res.Fingerprint.Files, 2)
	require.NotEmpty(t, res.Hash)

	res2, err := Compute(context.Background(), cfg, NewDoublestarMatcher(), nil, nil)
	require.NoError(t, err)
	require.Equal(t, res.Hash, res2.Hash)
}

func TestComputeRespectsFDBudget(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.ts", "export const a = 1;")
	writeFile(t, dir, "b.ts", "export const b = 2;")

	cfg := &graph.ScriptConfig{
		Reference: graph.ScriptReference{PackageDir: dir, Name: "build"},
		Kind:      graph.KindOneShot,
		Command:   "tsc",
		Files:     []string{"*.ts"},
		Output:    []string{"lib/**"},
	}

	pool := worker.New(worker.ParallelInfinity, 1)
	release, err := pool.AcquireFD(context.Background(), 1)
	require.NoError(t, err)

	cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = Compute(cancelCtx, cfg, NewDoublestarMatcher(), nil, pool)
	require.Error(t, err, "Compute must block on the exhausted fd budget, not open files past it")

	release()
	res, err := Compute(context.Background(), cfg, NewDoublestarMatcher(), nil, pool)
	require.NoError(t, err)
	require.Len(t, res.Fingerprint.Files, 2)
}

func TestComputeDeterministicAcrossMapOrdering(t *testing.T) {
	fpA := Fingerprint{
		Platform: "linux", Architecture: "amd64", RuntimeVersion: "go1.21",
		Files: map[string]string{"a": "1", "b": "2"}, Dependencies: map[string]string{},
	}
	fpB := fpA
	fpB.Files = map[string]string{"b": "2", "a": "1"}

	eq, err := Equal(fpA, fpB)
	require.NoError(t, err)
	require.True(t, eq)
}

func TestDependencyNotFullyTrackedPropagates(t *testing.T) {
	dep := DependencyResult{
		Ref:     graph.ScriptReference{PackageDir: "/pkg", Name: "compile"},
		Cascade: true,
		Result:  Result{Fingerprint: Fingerprint{FullyTracked: false}, Hash: "deadbeef"},
	}
	cfg := &graph.ScriptConfig{Kind: graph.KindNoCommand}
	res, err := Compute(context.Background(), cfg, NewDoublestarMatcher(), []DependencyResult{dep}, nil)
	require.NoError(t, err)
	require.False(t, res.Fingerprint.FullyTracked)
}

func TestNonCascadingDependencyNotRecordedAndDoesNotBreakTracking(t *testing.T) {
	dep := DependencyResult{
		Ref:     graph.ScriptReference{PackageDir: "/pkg", Name: "lint"},
		Cascade: false,
		Result:  Result{Fingerprint: Fingerprint{FullyTracked: false}, Hash: "cafebabe"},
	}
	cfg := &graph.ScriptConfig{Kind: graph.KindNoCommand}
	res, err := Compute(context.Background(), cfg, NewDoublestarMatcher(), []DependencyResult{dep}, nil)
	require.NoError(t, err)
	require.True(t, res.Fingerprint.FullyTracked)
	require.Empty(t, res.Fingerprint.Dependencies[dep.Ref.String()])
}

func TestDifferenceFieldOrder(t *testing.T) {
	base := Fingerprint{Platform: "linux", Command: "tsc", Files: map[string]string{}, Dependencies: map[string]string{}}

	changedPlatform := base
	changedPlatform.Platform = "darwin"
	changedPlatform.Command = "webpack"
	require.Contains(t, Difference(base, changedPlatform), "platform")

	changedCommand := base
	changedCommand.Command = "webpack"
	require.Contains(t, Difference(base, changedCommand), "command")

	require.Empty(t, Difference(base, base))
}

func TestDifferenceFilesAddedRemovedChanged(t *testing.T) {
	base := Fingerprint{Files: map[string]string{"a": "1"}, Dependencies: map[string]string{}}

	added := Fingerprint{Files: map[string]string{"a": "1", "b": "2"}, Dependencies: map[string]string{}}
	require.Contains(t, Difference(base, added), "added")

	removed := Fingerprint{Files: map[string]string{}, Dependencies: map[string]string{}}
	require.Contains(t, Difference(base, removed), "removed")

	changed := Fingerprint{Files: map[string]string{"a": "2"}, Dependencies: map[string]string{}}
	require.Contains(t, Difference(base, changed), "changed")
}

func TestCanonicalizeStableOutput(t *testing.T) {
	fp := Fingerprint{Platform: "linux", Files: map[string]string{"a": "1"}, Dependencies: map[string]string{}}
	a, err := Canonicalize(fp)
	require.NoError(t, err)
	b, err := Canonicalize(fp)
	require.NoError(t, err)
	if diff := cmp.Diff(string(a), string(b)); diff != "" {
		t.Fatalf("canonicalization not stable (-first +second):\n%s", diff)
	}
}
