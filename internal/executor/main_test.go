package executor

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain asserts this package's tests leave no goroutines running once
// they return, per §10.4 — executeService's Done()-waiter and
// watchUpstreamServices goroutines are the ones worth watching here, since
// both are only joined by a service reaching its terminal state.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
