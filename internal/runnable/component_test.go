package runnable

import (
	"context"
	"errors"
	"testing"
	"time"

	"oss.nandlabs.io/golly/lifecycle"
)

func TestAsComponentStartStop(t *testing.T) {
	started := make(chan struct{})
	stopCalled := make(chan struct{})
	var comp lifecycle.Component = AsComponent("test", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	}, func() { close(stopCalled) })

	if comp.Id() != "test" {
		t.Errorf("Id() = %q, want %q", comp.Id(), "test")
	}

	if err := comp.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("run was never invoked")
	}

	if got := comp.State(); got != lifecycle.Running {
		t.Errorf("State() after Start = %v, want Running", got)
	}

	if err := comp.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case <-stopCalled:
	default:
		t.Error("stop callback was not invoked")
	}

	if got := comp.State(); got != lifecycle.Stopped {
		t.Errorf("State() after Stop = %v, want Stopped", got)
	}
}

func TestAsComponentStopPropagatesRunError(t *testing.T) {
	wantErr := errors.New("run failed")
	comp := AsComponent("test", func(ctx context.Context) error {
		<-ctx.Done()
		return wantErr
	}, func() {})

	if err := comp.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := comp.Stop(); !errors.Is(err, wantErr) {
		t.Errorf("Stop() = %v, want %v", err, wantErr)
	}
}

func TestAsComponentOnChangeIsANoOp(t *testing.T) {
	comp := AsComponent("test", func(ctx context.Context) error { return nil }, func() {})
	comp.OnChange(lifecycle.Stopped, lifecycle.Running)
}
