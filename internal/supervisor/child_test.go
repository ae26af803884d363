package supervisor

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/civic-os/pgqueue/internal/config"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	want := childEnvelope{
		Kind:                     childKindWorker,
		Name:                     "worker-1",
		SupervisorID:             uuid.New(),
		DatabaseURL:              "postgres://example/test",
		DBMaxConns:               4,
		DBMinConns:               1,
		PreserveFinishedJobs:     true,
		ProcessHeartbeatInterval: 60 * time.Second,
		Worker: &config.WorkerConfig{
			Queues:          []string{"billing", "mailers*"},
			Threads:         5,
			Processes:       1,
			PollingInterval: config.Duration(time.Second),
		},
	}

	raw, err := encodeEnvelope(want)
	if err != nil {
		t.Fatalf("encodeEnvelope: %v", err)
	}

	got, err := decodeEnvelope(raw)
	if err != nil {
		t.Fatalf("decodeEnvelope: %v", err)
	}

	if got.Kind != want.Kind || got.Name != want.Name || got.SupervisorID != want.SupervisorID {
		t.Errorf("decoded envelope identity = %+v, want %+v", got, want)
	}
	if got.DatabaseURL != want.DatabaseURL || got.DBMaxConns != want.DBMaxConns || got.DBMinConns != want.DBMinConns {
		t.Errorf("decoded envelope db config = %+v, want %+v", got, want)
	}
	if got.ProcessHeartbeatInterval != want.ProcessHeartbeatInterval {
		t.Errorf("ProcessHeartbeatInterval = %v, want %v", got.ProcessHeartbeatInterval, want.ProcessHeartbeatInterval)
	}
	if got.Worker == nil || got.Worker.Threads != 5 || len(got.Worker.Queues) != 2 {
		t.Errorf("Worker = %+v, want round-tripped worker config", got.Worker)
	}
	if got.Dispatcher != nil || got.Scheduler != nil {
		t.Error("expected Dispatcher and Scheduler to remain nil")
	}
}

func TestDecodeEnvelopeInvalidBase64(t *testing.T) {
	if _, err := decodeEnvelope("not valid base64!!"); err == nil {
		t.Error("expected an error for invalid base64")
	}
}

func TestDecodeEnvelopeInvalidJSON(t *testing.T) {
	raw := "bm90IGpzb24=" // base64("not json")
	if _, err := decodeEnvelope(raw); err == nil {
		t.Error("expected an error for malformed JSON payload")
	}
}
