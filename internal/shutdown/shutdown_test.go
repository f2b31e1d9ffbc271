package shutdown

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestWithSignals_CancelledBySIGTERM(t *testing.T) {
	ctx, cancel := WithSignals(context.Background())
	defer cancel()

	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("context not cancelled by SIGTERM")
	}
}

func TestWithSignals_CancelFunc(t *testing.T) {
	parent, stop := context.WithCancel(context.Background())
	ctx, cancel := WithSignals(parent)
	defer cancel()

	stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("parent cancellation not propagated")
	}
}
