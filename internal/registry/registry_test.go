package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/civic-os/pgqueue/internal/queueerrors"
)

func TestRegistryResolveUnknown(t *testing.T) {
	r := New()
	_, err := r.Resolve("NoSuchJob")
	if err == nil {
		t.Fatal("expected an error for an unregistered class")
	}
	var unknown *queueerrors.UnknownJobClassError
	if !errors.As(err, &unknown) {
		t.Fatalf("error = %v, want *queueerrors.UnknownJobClassError", err)
	}
	if unknown.ClassName != "NoSuchJob" {
		t.Errorf("ClassName = %q, want %q", unknown.ClassName, "NoSuchJob")
	}
}

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := New()
	called := false
	r.Register("SendEmail", func(ctx context.Context, arguments json.RawMessage) error {
		called = true
		return nil
	})

	fn, err := r.Resolve("SendEmail")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := fn(context.Background(), json.RawMessage(`{}`)); err != nil {
		t.Fatalf("fn: %v", err)
	}
	if !called {
		t.Error("resolved callable was not the one registered")
	}
}

func TestRegistryRegisterOverwrites(t *testing.T) {
	r := New()
	r.Register("Job", func(ctx context.Context, arguments json.RawMessage) error { return errors.New("first") })
	r.Register("Job", func(ctx context.Context, arguments json.RawMessage) error { return errors.New("second") })

	fn, err := r.Resolve("Job")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := fn(context.Background(), nil); err == nil || err.Error() != "second" {
		t.Errorf("fn() = %v, want the second registration to win", err)
	}
}
