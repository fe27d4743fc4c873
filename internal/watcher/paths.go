package watcher

import (
	"path/filepath"

	"github.com/wireit-go/wireit/internal/fingerprint"
	"github.com/wireit-go/wireit/internal/graph"
)

// watchSet is every filesystem path the watcher must subscribe to: (i)
// every manifest discovered during analysis, (ii) the directory of every
// file matched by a script's declared "files" globs, and implicitly (iii)
// nothing for scripts with no declared inputs (§4.5's three-part contract).
type watchSet struct {
	manifests map[string]bool
	dirs      map[string]bool
}

func collectWatchSet(root *graph.ScriptConfig, matcher fingerprint.Matcher) (watchSet, error) {
	ws := watchSet{manifests: map[string]bool{}, dirs: map[string]bool{}}
	visited := map[string]bool{}
	if err := collectInto(root, matcher, &ws, visited); err != nil {
		return watchSet{}, err
	}
	return ws, nil
}

func collectInto(cfg *graph.ScriptConfig, matcher fingerprint.Matcher, ws *watchSet, visited map[string]bool) error {
	key := cfg.Reference.String()
	if visited[key] {
		return nil
	}
	visited[key] = true

	if cfg.DeclaringFile != "" {
		ws.manifests[cfg.DeclaringFile] = true
		// The containing directory, not the file itself, is watched: many
		// editors replace a file via rename rather than in-place write,
		// which drops an fsnotify watch registered on the file directly.
		ws.dirs[filepath.Dir(cfg.DeclaringFile)] = true
	}
	if cfg.Files != nil {
		paths, err := matcher.Match(cfg.Reference.PackageDir, cfg.Files)
		if err != nil {
			return err
		}
		for _, rel := range paths {
			ws.dirs[filepath.Dir(filepath.Join(cfg.Reference.PackageDir, rel))] = true
		}
		// A glob with no current matches (e.g. an empty output directory
		// about to receive its first input) still needs its package
		// directory watched so a new matching file is ever seen.
		if len(paths) == 0 {
			ws.dirs[cfg.Reference.PackageDir] = true
		}
	}

	for _, dep := range cfg.Dependencies {
		if err := collectInto(dep.Config, matcher, ws, visited); err != nil {
			return err
		}
	}
	return nil
}
