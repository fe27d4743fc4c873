package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wireit-go/wireit/internal/graph"
)

func TestPlanReportsRanForNeverBuiltScript(t *testing.T) {
	e := newTestExecutor(t)
	cfg := scriptIn(t, "true", []string{}, []string{})

	entries, diags, err := e.Plan(context.Background(), cfg)
	require.NoError(t, err)
	require.False(t, diags.HasErrors())
	require.Len(t, entries, 1)
	require.Equal(t, OutcomeRan, entries[0].Outcome)
}

func TestPlanReportsFreshAfterExecuteAndDoesNotRerun(t *testing.T) {
	e := newTestExecutor(t)
	cfg := scriptIn(t, "true", []string{}, []string{})

	_, diags, err := e.Execute(context.Background(), cfg)
	require.NoError(t, err)
	require.False(t, diags.HasErrors())

	entries, diags, err := e.Plan(context.Background(), cfg)
	require.NoError(t, err)
	require.False(t, diags.HasErrors())
	require.Len(t, entries, 1)
	require.Equal(t, OutcomeFresh, entries[0].Outcome, "Plan must not mutate state, so Execute's own fingerprint write is still what Plan sees")
}

func TestPlanDoesNotWriteFingerprintOrRunCommand(t *testing.T) {
	e := newTestExecutor(t)
	cfg := scriptIn(t, "false", []string{}, []string{}) // would fail loudly if actually run

	entries, diags, err := e.Plan(context.Background(), cfg)
	require.NoError(t, err)
	require.False(t, diags.HasErrors())
	require.Equal(t, OutcomeRan, entries[0].Outcome)

	_, prevRaw, err := loadFingerprint(e.cfg.StateRoot.FingerprintPath(cfg.Reference))
	require.NoError(t, err)
	require.Nil(t, prevRaw, "Plan must not write a fingerprint file")
}

func TestPlanOrdersDependenciesBeforeDependentAndDedupsDiamond(t *testing.T) {
	e := newTestExecutor(t)
	shared := scriptIn(t, "true", []string{}, []string{})
	a := scriptIn(t, "true", []string{}, []string{})
	a.Dependencies = []graph.Dependency{{Config: shared, Cascade: true}}
	b := scriptIn(t, "true", []string{}, []string{})
	b.Dependencies = []graph.Dependency{{Config: shared, Cascade: true}}
	root := scriptIn(t, "true", []string{}, []string{})
	root.Dependencies = []graph.Dependency{{Config: a, Cascade: true}, {Config: b, Cascade: true}}

	entries, diags, err := e.Plan(context.Background(), root)
	require.NoError(t, err)
	require.False(t, diags.HasErrors())
	require.Len(t, entries, 4, "shared must appear exactly once despite two dependents")

	index := make(map[string]int, len(entries))
	for i, entry := range entries {
		index[entry.Ref.String()] = i
	}
	require.Less(t, index[shared.Reference.String()], index[a.Reference.String()])
	require.Less(t, index[shared.Reference.String()], index[b.Reference.String()])
	require.Less(t, index[a.Reference.String()], index[root.Reference.String()])
	require.Less(t, index[b.Reference.String()], index[root.Reference.String()])
}
