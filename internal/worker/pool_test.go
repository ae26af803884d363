package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolAvailableSlots(t *testing.T) {
	p := newPool(3)
	if got := p.availableSlots(); got != 3 {
		t.Fatalf("availableSlots() = %d, want 3", got)
	}

	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	for i := 0; i < 2; i++ {
		if err := p.submit(context.Background(), func() {
			started.Done()
			<-release
		}, nil); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	started.Wait()

	if got := p.availableSlots(); got != 1 {
		t.Fatalf("availableSlots() after 2 submits = %d, want 1", got)
	}

	close(release)
	p.wait()

	if got := p.availableSlots(); got != 3 {
		t.Fatalf("availableSlots() after drain = %d, want 3", got)
	}
}

func TestPoolSubmitRunsOnDone(t *testing.T) {
	p := newPool(1)
	var onDoneCalls atomic.Int32

	done := make(chan struct{})
	if err := p.submit(context.Background(), func() {}, func() {
		onDoneCalls.Add(1)
		close(done)
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onDone was never called")
	}
	p.wait()

	if got := onDoneCalls.Load(); got != 1 {
		t.Errorf("onDone called %d times, want 1", got)
	}
}

func TestPoolSubmitBlocksUntilSlotFree(t *testing.T) {
	p := newPool(1)
	release := make(chan struct{})
	started := make(chan struct{})

	if err := p.submit(context.Background(), func() {
		close(started)
		<-release
	}, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	submitted := make(chan struct{})
	go func() {
		_ = p.submit(context.Background(), func() {}, nil)
		close(submitted)
	}()

	select {
	case <-submitted:
		t.Fatal("second submit returned before a slot freed up")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Fatal("second submit never returned after the slot freed up")
	}
	p.wait()
}

func TestPoolSubmitRespectsContextCancellation(t *testing.T) {
	p := newPool(1)
	release := make(chan struct{})
	defer close(release)

	if err := p.submit(context.Background(), func() { <-release }, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.submit(ctx, func() {}, nil); err == nil {
		t.Error("expected submit to return an error for an already-cancelled context")
	}
}
