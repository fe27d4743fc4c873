package executor

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"

	"github.com/wireit-go/wireit/internal/fingerprint"
	"github.com/wireit-go/wireit/internal/graph"
)

// loadFingerprint reads the last-run fingerprint file at path, returning
// (nil, nil, nil) if none exists yet (first run, or it was deleted at
// spawn time by an interrupted previous run, §4.3).
func loadFingerprint(path string) (*fingerprint.Fingerprint, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	var fp fingerprint.Fingerprint
	if err := json.Unmarshal(raw, &fp); err != nil {
		// A corrupt or foreign-format fingerprint file is treated like a
		// missing one: re-run and overwrite it.
		return nil, nil, nil
	}
	return &fp, raw, nil
}

func writeFingerprint(path string, canon []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(path, canon, 0o644)
}

// deleteFingerprint removes path so an interrupted run is never mistaken
// for fresh (§4.3).
func deleteFingerprint(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// isFresh implements §4.3's freshness check: a fully-tracked script whose
// current canonical fingerprint byte-for-byte matches the last-run one.
func isFresh(prevRaw, currentCanon []byte, fullyTracked bool) bool {
	return fullyTracked && prevRaw != nil && bytes.Equal(prevRaw, currentCanon)
}

// shouldClean applies the clean policy of §4.3 given the previous and
// current fingerprint (CleanIfFileDeleted compares their Files maps).
func shouldClean(cfg *graph.ScriptConfig, prev *fingerprint.Fingerprint, current fingerprint.Fingerprint) bool {
	switch cfg.Clean {
	case graph.CleanNever:
		return false
	case graph.CleanIfFileDeleted:
		if prev == nil {
			return false
		}
		for rel := range prev.Files {
			if _, ok := current.Files[rel]; !ok {
				return true
			}
		}
		return false
	default: // graph.CleanAlways
		return true
	}
}

// cleanOutputs deletes every file currently matched by cfg.Output, then
// removes any directory left empty by that deletion, walking up to (but
// not including) the package directory.
func cleanOutputs(cfg *graph.ScriptConfig, matcher fingerprint.Matcher) error {
	if len(cfg.Output) == 0 {
		return nil
	}
	root := cfg.Reference.PackageDir
	paths, err := matcher.Match(root, cfg.Output)
	if err != nil {
		return err
	}
	dirs := map[string]bool{}
	for _, rel := range paths {
		full := filepath.Join(root, rel)
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return err
		}
		dirs[filepath.Dir(full)] = true
	}
	for dir := range dirs {
		removeEmptyDirs(dir, root)
	}
	return nil
}

func removeEmptyDirs(dir, root string) {
	root = filepath.Clean(root)
	for dir != root && strings.HasPrefix(dir, root+string(filepath.Separator)) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
