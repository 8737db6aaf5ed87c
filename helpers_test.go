package filepoll

import (
	"os"
	"testing"
	"time"
)

// newTestPipe returns a connected os.Pipe, failing the test if the host
// cannot create one (should never happen in practice).
func newTestPipe(t *testing.T) (*os.File, *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	return r, w
}

// timeoutChan returns a channel that fires after a short delay, used to
// bound waits on asynchronous (Submit-backed) callbacks in tests.
func timeoutChan() <-chan time.Time {
	return time.After(time.Second)
}
