package fingerprint

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher resolves a script's declared file patterns into concrete,
// repository-relative paths. It is the seam for the glob matcher the spec
// (§1) names as an out-of-scope external collaborator.
type Matcher interface {
	Match(packageDir string, patterns []string) ([]string, error)
}

// DoublestarMatcher implements Matcher over the local filesystem using
// bmatcuk/doublestar, supporting "**" recursive globs and "!"-prefixed
// negation patterns applied in declaration order, same as real-world wireit
// file lists. Results are memoized per (packageDir, patterns) key, mirroring
// the teacher's globCache in internal/build/glob.go (a mutex-guarded map
// memoizing a per-key glob expansion).
type DoublestarMatcher struct {
	mu    sync.Mutex
	cache map[string][]string
}

// NewDoublestarMatcher returns a ready-to-use DoublestarMatcher.
func NewDoublestarMatcher() *DoublestarMatcher {
	return &DoublestarMatcher{cache: make(map[string][]string)}
}

func (m *DoublestarMatcher) Match(packageDir string, patterns []string) ([]string, error) {
	key := packageDir + "\x00" + strings.Join(patterns, "\x00")

	m.mu.Lock()
	cached, ok := m.cache[key]
	m.mu.Unlock()
	if ok {
		return cached, nil
	}

	fsys := os.DirFS(packageDir)
	included := map[string]bool{}
	for _, pattern := range patterns {
		negate := strings.HasPrefix(pattern, "!")
		p := strings.TrimPrefix(pattern, "!")

		if !doublestar.ValidatePattern(p) {
			continue
		}
		err := doublestar.GlobWalk(fsys, p, func(path string, d fs.DirEntry) error {
			if d.IsDir() {
				return nil
			}
			if negate {
				delete(included, path)
			} else {
				included[path] = true
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	result := make([]string, 0, len(included))
	for p := range included {
		result = append(result, filepath.FromSlash(p))
	}
	sort.Strings(result)

	m.mu.Lock()
	m.cache[key] = result
	m.mu.Unlock()
	return result, nil
}
