// Package graph implements the configuration analyzer: it resolves a root
// script reference to a validated, cycle-free build graph by transitively
// reading package manifests.
package graph

import "strings"

// ScriptReference identifies a script within a package directory. Its string
// encoding is a deterministic tuple serialization so it can be used as a map
// key and compared for equality across analyzer runs, mirroring the teacher's
// PackageVersion.String()/ParseVersion tuple convention in version.go.
type ScriptReference struct {
	// PackageDir is the absolute path of the directory containing the
	// manifest that declares Name.
	PackageDir string
	Name       string
}

const refSep = "\x1f" // unit separator: never appears in a path or script name

// String returns the canonical tuple encoding of r, suitable as a map key.
func (r ScriptReference) String() string {
	return r.PackageDir + refSep + r.Name
}

// ParseScriptReference is the inverse of String. It is mainly useful in
// tests asserting the round-trip property required by §8.
func ParseScriptReference(s string) (ScriptReference, bool) {
	dir, name, ok := strings.Cut(s, refSep)
	if !ok {
		return ScriptReference{}, false
	}
	return ScriptReference{PackageDir: dir, Name: name}, true
}

// Less orders two references by (PackageDir, Name), the deterministic sort
// order §3 requires for dependency lists.
func Less(a, b ScriptReference) bool {
	if a.PackageDir != b.PackageDir {
		return a.PackageDir < b.PackageDir
	}
	return a.Name < b.Name
}
