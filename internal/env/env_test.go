package env

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wireit-go/wireit/internal/cache"
	"github.com/wireit-go/wireit/internal/worker"
)

func TestParallelDefaultsToFourXCPU(t *testing.T) {
	t.Setenv("WIREIT_PARALLEL", "")
	require.Equal(t, worker.DefaultParallel(), Parallel())
}

func TestParallelInfinity(t *testing.T) {
	t.Setenv("WIREIT_PARALLEL", "infinity")
	require.Equal(t, int64(worker.ParallelInfinity), Parallel())
}

func TestParallelExplicitValue(t *testing.T) {
	t.Setenv("WIREIT_PARALLEL", "7")
	require.Equal(t, int64(7), Parallel())
}

func TestCacheBackendDefaultsToNoneInCI(t *testing.T) {
	t.Setenv("WIREIT_CACHE", "")
	t.Setenv("CI", "true")
	require.Equal(t, cache.BackendNone, CacheBackend())
}

func TestCacheBackendDefaultsToLocalOutsideCI(t *testing.T) {
	t.Setenv("WIREIT_CACHE", "")
	t.Setenv("CI", "")
	require.Equal(t, cache.BackendLocal, CacheBackend())
}

func TestCacheBackendExplicitOverridesCI(t *testing.T) {
	t.Setenv("WIREIT_CACHE", "github")
	t.Setenv("CI", "true")
	require.Equal(t, cache.BackendGithub, CacheBackend())
}
