package room

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain fails the package if a goroutine is still running once all of
// its tests have finished: the async close handlers and the worker-death
// watchdog must all have run to completion by then.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
