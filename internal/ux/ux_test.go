package ux

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wireit-go/wireit/internal/executor"
	"github.com/wireit-go/wireit/internal/graph"
)

func TestSummaryPercentCompleteUsesFloatDivision(t *testing.T) {
	var s Summary
	s.Add(executor.OutcomeRan)
	s.Add(executor.OutcomeFresh)
	s.Add(executor.OutcomeCached)
	s.AddFailure()

	require.Equal(t, 4, s.Total())
	require.InDelta(t, 75.0, s.PercentComplete(), 0.001)
}

func TestSummaryEmptyRunIsFullyComplete(t *testing.T) {
	var s Summary
	require.Equal(t, 100.0, s.PercentComplete())
}

func TestRenderDiagnosticIncludesKindAndMessage(t *testing.T) {
	d := graph.Diagnostic{
		Kind:     graph.DiagExitNonZero,
		Severity: graph.SeverityError,
		Message:  "exit code 1",
		Position: graph.Position{File: "package.json", Line: 3, Column: 5},
	}
	out := RenderDiagnostic(d, false)
	require.Contains(t, out, "exit-non-zero")
	require.Contains(t, out, "exit code 1")
	require.Contains(t, out, "package.json:3:5")
}
