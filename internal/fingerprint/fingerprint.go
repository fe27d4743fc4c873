// Package fingerprint computes and compares content-addressed fingerprints
// describing every input that could affect a script's output (§4.2).
package fingerprint

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/wireit-go/wireit/internal/graph"
	"github.com/wireit-go/wireit/internal/worker"
)

// Fingerprint is the normalized record described in §3. Field order here is
// the canonical field order used by Difference (§4.2): platform,
// architecture, runtime version, command, extra arguments, clean, output,
// service config, environment, files, dependencies.
type Fingerprint struct {
	Platform       string            `json:"platform"`
	Architecture   string            `json:"architecture"`
	RuntimeVersion string            `json:"runtimeVersion"`
	Command        string            `json:"command"`
	ExtraArgs      []string          `json:"extraArgs"`
	Clean          string            `json:"clean"`
	Output         []string          `json:"output"`
	Service        *serviceFP        `json:"service,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	Files          map[string]string `json:"files"`
	Dependencies   map[string]string `json:"dependencies"`

	// FullyTracked is false when any transitive input is unknown; only
	// fully-tracked scripts are eligible for freshness or caching (§3).
	// It participates in equality/serialization like every other field.
	FullyTracked bool `json:"fullyTracked"`
}

type serviceFP struct {
	LineMatches string `json:"lineMatches,omitempty"`
}

// Result is the return value of Compute: the fingerprint itself, its
// digest, and (when not fully tracked) the reason why.
type Result struct {
	Fingerprint Fingerprint
	Hash        string
	Reason      string // empty unless !Fingerprint.FullyTracked
}

// DependencyResult is what a caller already knows about one dependency: its
// already-computed Result and whether that dependency's edge cascades
// (§3 — cascade=false means the dependency's fingerprint does not propagate).
type DependencyResult struct {
	Ref     graph.ScriptReference
	Result  Result
	Cascade bool
}

// Compute implements §4.2's contract: compute(config, dependencyFingerprints)
// -> (Fingerprint, notFullyTrackedReason?). matcher resolves config.Files
// into concrete, hashable relative paths (the glob matcher is an
// out-of-scope external collaborator per §1; matcher is the seam for it).
// pool bounds concurrently open input files against the §5 file-descriptor
// budget; nil disables the bound (used by tests that don't care about fd
// pressure).
func Compute(ctx context.Context, cfg *graph.ScriptConfig, matcher Matcher, deps []DependencyResult, pool *worker.Pool) (Result, error) {
	fp := Fingerprint{
		Platform:       runtime.GOOS,
		Architecture:   runtime.GOARCH,
		RuntimeVersion: runtime.Version(),
		Command:        cfg.Command,
		ExtraArgs:      append([]string(nil), cfg.ExtraArgs...),
		Clean:          cleanString(cfg.Clean),
		Output:         append([]string(nil), cfg.Output...),
		Env:            cfg.Env,
		Files:          map[string]string{},
		Dependencies:   map[string]string{},
	}
	if cfg.Kind == graph.KindService && cfg.Ready.LineMatches != nil {
		fp.Service = &serviceFP{LineMatches: cfg.Ready.LineMatches.String()}
	}

	reason := ""
	fullyTracked := true

	switch {
	case cfg.Kind == graph.KindNoCommand:
		// No-command groupers are always fully tracked (§4.2).
	case cfg.Kind == graph.KindService:
		// Services with a command but no files are fully tracked: they
		// produce no files of their own (§4.2). If files are declared, hash
		// them like any other script.
		if cfg.Files != nil {
			if err := hashFiles(ctx, cfg, matcher, pool, &fp); err != nil {
				return Result{}, err
			}
		}
	case cfg.HasCommand():
		if cfg.Files == nil {
			fullyTracked = false
			reason = "script has a command but no declared \"files\""
		} else if err := hashFiles(ctx, cfg, matcher, pool, &fp); err != nil {
			return Result{}, err
		}
		if fullyTracked && cfg.Output == nil {
			fullyTracked = false
			reason = "script has a command but no declared \"output\""
		}
	}

	for _, dr := range deps {
		if !dr.Cascade {
			continue
		}
		if !dr.Result.Fingerprint.FullyTracked {
			fullyTracked = false
			if reason == "" {
				reason = "dependency " + dr.Ref.Name + " is not fully tracked"
			}
		}
		fp.Dependencies[dr.Ref.String()] = dr.Result.Hash
	}

	fp.FullyTracked = fullyTracked

	canon, err := Canonicalize(fp)
	if err != nil {
		return Result{}, err
	}
	sum := sha256.Sum256(canon)
	return Result{Fingerprint: fp, Hash: hex.EncodeToString(sum[:]), Reason: reason}, nil
}

func hashFiles(ctx context.Context, cfg *graph.ScriptConfig, matcher Matcher, pool *worker.Pool, fp *Fingerprint) error {
	paths, err := matcher.Match(cfg.Reference.PackageDir, cfg.Files)
	if err != nil {
		return err
	}
	sort.Strings(paths)
	for _, rel := range paths {
		sum, err := hashFile(ctx, filepath.Join(cfg.Reference.PackageDir, rel), pool)
		if err != nil {
			return err
		}
		fp.Files[filepath.ToSlash(rel)] = sum
	}
	return nil
}

// hashFile streams path's contents through sha256, mirroring the teacher's
// streaming-hash idiom in internal/build/build.go's Digest (there fnv128a
// over a proto-marshaled buffer; here sha256 over a file stream, since
// inputs here are arbitrary-sized source files rather than an in-memory
// descriptor). pool bounds the open against the §5 file-descriptor budget.
func hashFile(ctx context.Context, path string, pool *worker.Pool) (string, error) {
	if pool != nil {
		release, err := pool.AcquireFD(ctx, 1)
		if err != nil {
			return "", err
		}
		defer release()
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func cleanString(c graph.CleanPolicy) string {
	switch c {
	case graph.CleanAlways:
		return "always"
	case graph.CleanNever:
		return "never"
	case graph.CleanIfFileDeleted:
		return "if-file-deleted"
	default:
		return "always"
	}
}

// Canonicalize produces the stable JSON-style serialization whose digest is
// the fingerprint's hash (§3). encoding/json already serializes map keys in
// sorted order, so the only explicit ordering this function must guarantee
// is the field order of the Fingerprint struct itself, which json.Marshal
// preserves as written.
func Canonicalize(fp Fingerprint) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fp); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Equal reports whether two fingerprints are equal, defined as string
// equality of their canonical serializations (§4.2). Equality is therefore
// reflexive, symmetric, and transitive by construction (§8).
func Equal(a, b Fingerprint) (bool, error) {
	ca, err := Canonicalize(a)
	if err != nil {
		return false, err
	}
	cb, err := Canonicalize(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ca, cb), nil
}
