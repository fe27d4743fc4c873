package graph

import "fmt"

// Kind strings for diagnostics (§7). Kept as a closed set of constants
// rather than an enum so they serialize legibly in logs and tests.
const (
	DiagLaunchedIncorrectly             = "launched-incorrectly"
	DiagMissingPackageJSON              = "missing-package-json"
	DiagInvalidJSONSyntax                = "invalid-json-syntax"
	DiagNoScriptsInPackageJSON           = "no-scripts-in-package-json"
	DiagScriptNotFound                   = "script-not-found"
	DiagWireitConfigButNoScript          = "wireit-config-but-no-script"
	DiagScriptNotWireit                  = "script-not-wireit"
	DiagInvalidConfigSyntax              = "invalid-config-syntax"
	DiagDuplicateDependency               = "duplicate-dependency"
	DiagCycle                            = "cycle"
	DiagDependencyOnMissingPackageJSON    = "dependency-on-missing-package-json"
	DiagDependencyOnMissingScript         = "dependency-on-missing-script"
	DiagInvalidUsage                      = "invalid-usage"
	DiagExitNonZero                       = "exit-non-zero"
	DiagSignal                            = "signal"
	DiagSpawnError                        = "spawn-error"
	DiagStartCancelled                    = "start-cancelled"
	DiagKilled                            = "killed"
	DiagUnknownErrorThrown                = "unknown-error-thrown"
	DiagDependencyInvalid                 = "dependency-invalid"
	DiagServiceExitedUnexpectedly         = "service-exited-unexpectedly"
	DiagDependencyServiceExitedUnexpectedly = "dependency-service-exited-unexpectedly"
	DiagAborted                           = "aborted"
)

// Severity classifies a Diagnostic (§7).
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	default:
		return "unknown"
	}
}

// Related is a secondary source location attached to a Diagnostic, e.g. the
// other occurrence of a duplicate dependency.
type Related struct {
	Message  string
	Position Position
}

// Diagnostic is the accumulation unit for analyzer and executor errors
// (§7). A successful analysis may still contain warning/info diagnostics.
type Diagnostic struct {
	Kind     string
	Severity Severity
	Message  string
	Position Position
	Related  []Related
}

func (d Diagnostic) Error() string {
	if d.Position.File != "" {
		return fmt.Sprintf("%s:%d:%d: %s: %s", d.Position.File, d.Position.Line, d.Position.Column, d.Kind, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Kind, d.Message)
}

// Diagnostics is a list of Diagnostic that implements error so analysis
// failures can be returned and wrapped like any other error.
type Diagnostics []Diagnostic

func (ds Diagnostics) Error() string {
	if len(ds) == 0 {
		return "no diagnostics"
	}
	if len(ds) == 1 {
		return ds[0].Error()
	}
	return fmt.Sprintf("%s (and %d more diagnostic(s))", ds[0].Error(), len(ds)-1)
}

// HasErrors reports whether ds contains at least one error-severity
// diagnostic. Analysis is considered to have failed iff this is true.
func (ds Diagnostics) HasErrors() bool {
	for _, d := range ds {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}
