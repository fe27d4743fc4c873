package ux

import (
	"fmt"

	"github.com/wireit-go/wireit/internal/executor"
)

// Summary tallies one run's outcomes for the final report line (§7, §9).
type Summary struct {
	Fresh  int
	Cached int
	Ran    int
	Failed int
}

// Total is every script execute() resolved for, whether successfully or not.
func (s Summary) Total() int {
	return s.Fresh + s.Cached + s.Ran + s.Failed
}

// PercentComplete is the fraction of Total that did not fail, as a percentage.
//
// The reference implementation this was distilled from integer-divides
// before multiplying by 100, which truncates to 0 for any non-degenerate
// run; this computes in floating point instead (§9's flagged discrepancy).
func (s Summary) PercentComplete() float64 {
	total := s.Total()
	if total == 0 {
		return 100
	}
	return float64(total-s.Failed) / float64(total) * 100
}

// Add folds one script's outcome into the summary.
func (s *Summary) Add(outcome executor.Outcome) {
	switch outcome {
	case executor.OutcomeFresh:
		s.Fresh++
	case executor.OutcomeCached:
		s.Cached++
	case executor.OutcomeRan:
		s.Ran++
	}
}

// AddFailure records a script that did not produce a Result.
func (s *Summary) AddFailure() {
	s.Failed++
}

// Render formats the summary line, colored when color is true.
func (s Summary) Render(color bool) string {
	line := fmt.Sprintf("%d script(s): %d fresh, %d cached, %d ran, %d failed (%.1f%% complete)",
		s.Total(), s.Fresh, s.Cached, s.Ran, s.Failed, s.PercentComplete())
	if !color {
		return line
	}
	style := errorStyle
	if s.Failed == 0 {
		style = successStyle
	}
	return style.Render(line)
}
