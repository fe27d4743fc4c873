package graph

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wireit-go/wireit/internal/manifest"
)

func writeManifest(t *testing.T, dir, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.Filename), []byte(contents), 0o644))
}

func newAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	r, err := manifest.NewReader(nil)
	require.NoError(t, err)
	return NewAnalyzer(r)
}

func TestAnalyzeDetectsCycleViaTopoSort(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `{
		"scripts": {"a": "wireit", "b": "wireit"},
		"wireit": {
			"a": {"command": "echo a", "dependencies": ["b"]},
			"b": {"command": "echo b", "dependencies": ["a"]}
		}
	}`)

	_, diags, err := newAnalyzer(t).Analyze(context.Background(), ScriptReference{PackageDir: dir, Name: "a"}, nil)
	require.NoError(t, err)
	require.True(t, diags.HasErrors())

	var found bool
	for _, d := range diags {
		if d.Kind == DiagCycle {
			found = true
			require.Contains(t, d.Message, "a")
			require.Contains(t, d.Message, "b")
		}
	}
	require.True(t, found, "expected a cycle diagnostic, got %+v", diags)
}

func TestAnalyzeDetectsSelfDependencyCycle(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `{
		"scripts": {"a": "wireit"},
		"wireit": {
			"a": {"command": "echo a", "dependencies": ["a"]}
		}
	}`)

	_, diags, err := newAnalyzer(t).Analyze(context.Background(), ScriptReference{PackageDir: dir, Name: "a"}, nil)
	require.NoError(t, err)
	require.True(t, diags.HasErrors())

	var found bool
	for _, d := range diags {
		if d.Kind == DiagCycle {
			found = true
		}
	}
	require.True(t, found, "expected a cycle diagnostic, got %+v", diags)
}

func TestAnalyzeSortsDependenciesDeterministically(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `{
		"scripts": {"root": "wireit", "zeta": "wireit", "alpha": "wireit"},
		"wireit": {
			"root": {"command": "echo root", "dependencies": ["zeta", "alpha"]},
			"zeta": {"command": "echo zeta"},
			"alpha": {"command": "echo alpha"}
		}
	}`)

	cfg, diags, err := newAnalyzer(t).Analyze(context.Background(), ScriptReference{PackageDir: dir, Name: "root"}, nil)
	require.NoError(t, err)
	require.False(t, diags.HasErrors())
	require.Len(t, cfg.Dependencies, 2)
	require.Equal(t, "alpha", cfg.Dependencies[0].Config.Reference.Name)
	require.Equal(t, "zeta", cfg.Dependencies[1].Config.Reference.Name)
}

func TestAnalyzeAcyclicDiamondHasNoDiagnostics(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `{
		"scripts": {"root": "wireit", "a": "wireit", "b": "wireit", "shared": "wireit"},
		"wireit": {
			"root": {"command": "echo root", "dependencies": ["a", "b"]},
			"a": {"command": "echo a", "dependencies": ["shared"]},
			"b": {"command": "echo b", "dependencies": ["shared"]},
			"shared": {"command": "echo shared"}
		}
	}`)

	cfg, diags, err := newAnalyzer(t).Analyze(context.Background(), ScriptReference{PackageDir: dir, Name: "root"}, nil)
	require.NoError(t, err)
	require.False(t, diags.HasErrors())
	require.Equal(t, "root", cfg.Reference.Name)
}
