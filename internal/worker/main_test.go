package worker

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain asserts this package's tests leave no goroutines blocked on the
// job/fd semaphores once they return, per §10.4.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
