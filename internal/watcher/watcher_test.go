package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wireit-go/wireit/internal/cache"
	"github.com/wireit-go/wireit/internal/executor"
	"github.com/wireit-go/wireit/internal/fingerprint"
	"github.com/wireit-go/wireit/internal/graph"
	"github.com/wireit-go/wireit/internal/worker"
)

func TestWatcherRunsOnceThenRerunsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{
		"scripts": {"build": "wireit"},
		"wireit": {"build": {"command": "true", "files": ["input.txt"], "output": []}}
	}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "input.txt"), []byte("v1"), 0o644))

	abort, abortCtx := executor.NewAbort(context.Background())
	w := New(Config{
		Root: graph.ScriptReference{PackageDir: dir, Name: "build"},
		Executor: executor.Config{
			StateRoot: executor.StateRoot(t.TempDir()),
			Pool:      worker.New(worker.ParallelInfinity, 0),
			Cache:     &cache.None{},
			Matcher:   fingerprint.NewDoublestarMatcher(),
			Failure:   executor.FailureModeNoNew,
			Abort:     abort,
		},
		Matcher:  fingerprint.NewDoublestarMatcher(),
		Debounce: 10 * time.Millisecond,
	})

	runCtx, cancelRun := context.WithTimeout(abortCtx, 2*time.Second)
	defer cancelRun()

	done := make(chan error, 1)
	go func() { done <- w.Run(runCtx) }()

	require.Eventually(t, func() bool { return w.State() == StateWatching }, time.Second, time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "input.txt"), []byte("v2"), 0o644))
	require.Eventually(t, func() bool { return w.State() == StateWatching }, time.Second, 5*time.Millisecond)

	cancelRun()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
	require.Equal(t, StateAborted, w.State())
}
