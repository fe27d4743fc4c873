package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wireit-go/wireit/internal/atexit"
	"github.com/wireit-go/wireit/internal/cache"
	"github.com/wireit-go/wireit/internal/env"
	"github.com/wireit-go/wireit/internal/executor"
	"github.com/wireit-go/wireit/internal/fingerprint"
	"github.com/wireit-go/wireit/internal/graph"
	"github.com/wireit-go/wireit/internal/manifest"
	"github.com/wireit-go/wireit/internal/trace"
	"github.com/wireit-go/wireit/internal/ux"
	"github.com/wireit-go/wireit/internal/worker"
)

var (
	cwd       string
	verbose   bool
	cacheDir  string
	failureFl string
	traceFl   bool
)

var rootCmd = &cobra.Command{
	Use:   "wireit",
	Short: "A script-dependency build engine for npm-style package.json scripts",
	Long: `wireit analyzes a script and its wireit-declared dependencies, computes a
content-addressed fingerprint for each, and skips, restores from cache, or
runs each one accordingly.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cwd, "cwd", "", "package directory to resolve the script in (default: current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "local cache root directory (default: $XDG_CACHE_HOME/wireit)")
	rootCmd.PersistentFlags().StringVar(&failureFl, "failure-mode", "", "no-new, continue, or kill (default: no-new)")
	rootCmd.PersistentFlags().BoolVar(&traceFl, "trace", false, "write a chrome://tracing event file to $TMPDIR/wireit.traces")
}

// Execute runs the wireit command-line entrypoint.
func Execute() error {
	return rootCmd.Execute()
}

func resolveRoot(scriptName string) (graph.ScriptReference, error) {
	dir := cwd
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return graph.ScriptReference{}, err
		}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return graph.ScriptReference{}, err
	}
	return graph.ScriptReference{PackageDir: abs, Name: scriptName}, nil
}

func buildLogger() (*zap.Logger, error) {
	return ux.NewLogger(verbose)
}

func buildFailureMode() executor.FailureMode {
	switch executor.FailureMode(failureFl) {
	case executor.FailureModeContinue, executor.FailureModeKill:
		return executor.FailureMode(failureFl)
	default:
		return executor.FailureModeNoNew
	}
}

func buildCache() (cache.Cache, error) {
	backend := env.CacheBackend()
	switch backend {
	case cache.BackendNone:
		return &cache.None{}, nil
	case cache.BackendLocal:
		dir := cacheDir
		if dir == "" {
			home, err := os.UserCacheDir()
			if err != nil {
				return nil, err
			}
			dir = filepath.Join(home, "wireit")
		}
		return cache.NewLocal(dir), nil
	case cache.BackendGithub:
		creds, err := cache.FetchCredentials(context.Background(), http.DefaultClient)
		if err != nil {
			return nil, fmt.Errorf("fetching cache credentials: %w", err)
		}
		base := os.Getenv("WIREIT_CACHE_GITHUB_URL")
		if base == "" {
			return nil, fmt.Errorf("WIREIT_CACHE_GITHUB_URL is required when WIREIT_CACHE=github")
		}
		return cache.NewRemote(base, creds), nil
	default:
		return &cache.None{}, nil
	}
}

// buildExecutorConfig assembles an executor.Config along with the context
// that executor.Abort derives from the process's base context: callers must
// run the returned ctx through to their Execute/Run call so that an
// interrupt (handled by abort.WatchInterrupt) actually cancels in-flight
// work instead of merely flipping a flag nothing reads.
func buildExecutorConfig(stateRoot string) (executor.Config, context.Context, *zap.Logger, error) {
	logger, err := buildLogger()
	if err != nil {
		return executor.Config{}, nil, nil, err
	}
	c, err := buildCache()
	if err != nil {
		return executor.Config{}, nil, nil, err
	}
	abort, ctx := executor.NewAbort(context.Background())
	abort.WatchInterrupt()

	if traceFl {
		f, err := trace.Enable("wireit")
		if err != nil {
			return executor.Config{}, nil, nil, fmt.Errorf("enabling trace: %w", err)
		}
		atexit.Register(f.Close)
	}

	return executor.Config{
		StateRoot: executor.StateRoot(stateRoot),
		Pool:      worker.New(env.Parallel(), 0),
		Cache:     c,
		Matcher:   fingerprint.NewDoublestarMatcher(),
		Logger:    logger,
		Failure:   buildFailureMode(),
		Abort:     abort,
	}, ctx, logger, nil
}

func defaultStateRoot() (string, error) {
	home, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "wireit", "state"), nil
}

func newManifestAnalyzer(pool *worker.Pool) (*graph.Analyzer, error) {
	reader, err := manifest.NewReader(pool)
	if err != nil {
		return nil, err
	}
	return graph.NewAnalyzer(reader), nil
}
