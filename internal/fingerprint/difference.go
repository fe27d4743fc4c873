package fingerprint

import (
	"fmt"
	"reflect"
	"sort"
)

// Difference returns a human-readable description of the first field that
// differs between previous and current, checked in the fixed order §4.2
// specifies: platform, architecture, runtime version, command, extra
// arguments, clean, output, service config, environment, then files
// (added/removed/changed) and dependencies (added/removed/changed). It
// returns "" if the two fingerprints are equal.
//
// This is the explanation engine behind the fresh/cached/run decision
// (internal/executor): when a script is not fresh, Difference says why.
func Difference(previous, current Fingerprint) string {
	switch {
	case previous.Platform != current.Platform:
		return fmt.Sprintf("platform changed from %q to %q", previous.Platform, current.Platform)
	case previous.Architecture != current.Architecture:
		return fmt.Sprintf("architecture changed from %q to %q", previous.Architecture, current.Architecture)
	case previous.RuntimeVersion != current.RuntimeVersion:
		return fmt.Sprintf("runtime version changed from %q to %q", previous.RuntimeVersion, current.RuntimeVersion)
	case previous.Command != current.Command:
		return fmt.Sprintf("command changed from %q to %q", previous.Command, current.Command)
	case !reflect.DeepEqual(previous.ExtraArgs, current.ExtraArgs):
		return "extra arguments changed"
	case previous.Clean != current.Clean:
		return fmt.Sprintf("clean policy changed from %q to %q", previous.Clean, current.Clean)
	case !reflect.DeepEqual(previous.Output, current.Output):
		return "output globs changed"
	case !reflect.DeepEqual(previous.Service, current.Service):
		return "service configuration changed"
	case !reflect.DeepEqual(previous.Env, current.Env):
		return "environment changed"
	}

	if diff := mapDifference("file", previous.Files, current.Files); diff != "" {
		return diff
	}
	if diff := mapDifference("dependency", previous.Dependencies, current.Dependencies); diff != "" {
		return diff
	}
	return ""
}

// mapDifference checks added, then removed, then changed, in that order,
// over the sorted keys of a and b so the result is deterministic.
func mapDifference(noun string, a, b map[string]string) string {
	for _, k := range sortedKeys(b) {
		if _, ok := a[k]; !ok {
			return fmt.Sprintf("%s %q was added", noun, k)
		}
	}
	for _, k := range sortedKeys(a) {
		if _, ok := b[k]; !ok {
			return fmt.Sprintf("%s %q was removed", noun, k)
		}
	}
	for _, k := range sortedKeys(a) {
		if a[k] != b[k] {
			return fmt.Sprintf("%s %q changed", noun, k)
		}
	}
	return ""
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
