package watcher

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain asserts this package's tests leave no goroutines running once Run
// returns, per §10.4 — covering the fsnotify watcher's internal event-reader
// goroutine (joined by notify.Close) and the service-stopping goroutines
// spawned by stopAllServices (joined by their WaitGroup).
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
