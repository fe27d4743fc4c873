package executor

import (
	"path/filepath"
	"strings"

	"github.com/wireit-go/wireit/internal/graph"
)

// StateRoot is the stable root directory holding one subdirectory per
// script: its last-run fingerprint file and a log of its last run (§6's
// "on-disk state").
type StateRoot string

func (r StateRoot) dir(ref graph.ScriptReference) string {
	return filepath.Join(string(r), sanitizeRef(ref))
}

// FingerprintPath is the last-run fingerprint file for ref. Its presence,
// and equality with the currently computed fingerprint, is what makes a
// script "fresh" (§4.3). It is deleted at spawn time and rewritten only on
// clean exit (§4.3), so an interrupted run is never mistaken for fresh.
func (r StateRoot) FingerprintPath(ref graph.ScriptReference) string {
	return filepath.Join(r.dir(ref), "fingerprint.json")
}

// LogPath is the last run's captured stdout/stderr for ref.
func (r StateRoot) LogPath(ref graph.ScriptReference) string {
	return filepath.Join(r.dir(ref), "last-run.log.gz")
}

func sanitizeRef(ref graph.ScriptReference) string {
	s := ref.String()
	s = strings.ReplaceAll(s, string(filepath.Separator), "_")
	s = strings.ReplaceAll(s, "\x1f", "_")
	return s
}
