// Package env resolves wireit's environment-variable configuration (§5,
// §6).
package env

import (
	"os"
	"strconv"
	"strings"

	"github.com/wireit-go/wireit/internal/cache"
	"github.com/wireit-go/wireit/internal/worker"
)

// Parallel resolves WIREIT_PARALLEL: a positive integer, the literal
// "infinity", or (unset/invalid) the documented default of 4x CPU count.
func Parallel() int64 {
	v := strings.TrimSpace(os.Getenv("WIREIT_PARALLEL"))
	if v == "" {
		return worker.DefaultParallel()
	}
	if strings.EqualFold(v, "infinity") {
		return worker.ParallelInfinity
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return worker.DefaultParallel()
	}
	return n
}

// CacheBackend resolves WIREIT_CACHE: "local", "github", or "none". Unset
// defaults to "none" when CI=true, else "local" (§6).
func CacheBackend() cache.Backend {
	v := strings.TrimSpace(os.Getenv("WIREIT_CACHE"))
	switch cache.Backend(v) {
	case cache.BackendLocal, cache.BackendGithub, cache.BackendNone:
		return cache.Backend(v)
	}
	if IsCI() {
		return cache.BackendNone
	}
	return cache.BackendLocal
}

// IsCI reports whether the CI environment variable is set truthy, the
// convention nearly every CI provider follows.
func IsCI() bool {
	v := strings.TrimSpace(os.Getenv("CI"))
	return v != "" && v != "0" && !strings.EqualFold(v, "false")
}
