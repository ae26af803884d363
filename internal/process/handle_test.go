package process

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/civic-os/pgqueue/internal/model"
)

func TestHandleIDAndIsRegistered(t *testing.T) {
	id := uuid.New()
	h := &Handle{id: &id, name: "worker-1", kind: model.ProcessKindWorker}

	if !h.IsRegistered() {
		t.Error("IsRegistered() = false, want true for a freshly constructed handle")
	}
	if got := h.ID(); got != id {
		t.Errorf("ID() = %v, want %v", got, id)
	}
}

func TestHandleClearedIsUnregistered(t *testing.T) {
	h := &Handle{id: nil, name: "worker-1", kind: model.ProcessKindWorker}

	if h.IsRegistered() {
		t.Error("IsRegistered() = true, want false for a cleared handle")
	}
	if got := h.ID(); got != uuid.Nil {
		t.Errorf("ID() = %v, want uuid.Nil", got)
	}
}

func TestHandleHeartbeatNoOpWhenCleared(t *testing.T) {
	h := &Handle{id: nil, name: "worker-1", kind: model.ProcessKindWorker}

	// A cleared Handle's Heartbeat must never touch the store — passing a
	// nil *store.Store would panic if it tried.
	if err := h.Heartbeat(context.Background(), nil); err != nil {
		t.Errorf("Heartbeat on a cleared handle = %v, want nil", err)
	}
}

func TestDeregisterNoOpWhenCleared(t *testing.T) {
	h := &Handle{id: nil, name: "worker-1", kind: model.ProcessKindWorker}

	// Same invariant for Deregister: a nil *store.Store must never be
	// dereferenced when the handle is already cleared.
	if err := Deregister(context.Background(), nil, h); err != nil {
		t.Errorf("Deregister on a cleared handle = %v, want nil", err)
	}
}
