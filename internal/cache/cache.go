// Package cache implements the cache backend contract of §6: get(script,
// fingerprint) -> hit?, where hit.apply() restores output files; set(script,
// fingerprint, outputFiles) -> bool. Concrete backends (local, remote, none)
// are named out of scope as external collaborators in §1 — these
// implementations exist to make the contract usable/testable, not as the
// final production word on either backend.
package cache

import (
	"context"

	"github.com/wireit-go/wireit/internal/graph"
)

// Hit is a cache hit for one (script, fingerprint) pair. Apply restores the
// cached output files into the script's package directory.
type Hit interface {
	Apply(ctx context.Context) error
}

// Cache is the backend contract of §6. Get returns (nil, false, nil) on a
// clean miss. Set reports ok=false for a reportable temporary failure
// (e.g. the remote backend being latched down) without returning an error;
// unexpected errors are returned as err (§6: "Implementations may report
// temporary failure by returning false without throwing; unexpected errors
// throw").
type Cache interface {
	Get(ctx context.Context, ref graph.ScriptReference, fingerprintHash string) (hit Hit, ok bool, err error)
	Set(ctx context.Context, ref graph.ScriptReference, fingerprintHash string, outputFiles []string) (ok bool, err error)
}

// Backend names the WIREIT_CACHE environment values (§6).
type Backend string

const (
	BackendLocal  Backend = "local"
	BackendGithub Backend = "github"
	BackendNone   Backend = "none"
)
