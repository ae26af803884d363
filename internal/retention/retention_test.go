package retention

import (
	"context"
	"testing"
	"time"
)

func TestSweepNoOpWhenNotPreservingFinishedJobs(t *testing.T) {
	// preserveFinishedJobs=false must short-circuit before ever touching
	// the store — passing a nil *store.Store would panic otherwise.
	n, err := Sweep(context.Background(), nil, 24*time.Hour, 100, time.Second, false)
	if err != nil {
		t.Fatalf("Sweep = %v, want nil error", err)
	}
	if n != 0 {
		t.Errorf("Sweep = %d, want 0", n)
	}
}
