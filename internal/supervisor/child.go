package supervisor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/civic-os/pgqueue/internal/config"
)

// childEnvelopeEnv is the environment variable a re-exec'd child process
// reads its role and configuration from — base64'd JSON, since a full
// YAML/flag round-trip through argv for a worker's arbitrary queue list
// or a scheduler's recurring-task set is more fragile than one opaque
// blob (spec §4.4 "Spawn each configured child by OS fork (or equivalent
// subprocess)").
const childEnvelopeEnv = "PGQUEUE_CHILD"

// childKind enumerates the runnables a supervisor can spawn (spec §4.4
// "Kinds: worker, dispatcher, scheduler").
type childKind string

const (
	childKindWorker     childKind = "worker"
	childKindDispatcher childKind = "dispatcher"
	childKindScheduler  childKind = "scheduler"
)

// childEnvelope is everything a spawned child needs to reconstruct its
// own runnable without re-reading the supervisor's YAML file.
type childEnvelope struct {
	Kind         childKind
	Name         string
	SupervisorID uuid.UUID

	DatabaseURL string
	DBMaxConns  int
	DBMinConns  int

	PreserveFinishedJobs     bool
	ProcessHeartbeatInterval time.Duration
	StaticQueues             []string

	Worker     *config.WorkerConfig
	Dispatcher *config.DispatcherConfig
	Scheduler  *config.SchedulerConfig
}

func encodeEnvelope(e childEnvelope) (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("pgqueue: encoding child envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decodeEnvelope(raw string) (childEnvelope, error) {
	var e childEnvelope
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return e, fmt.Errorf("pgqueue: decoding child envelope: %w", err)
	}
	if err := json.Unmarshal(b, &e); err != nil {
		return e, fmt.Errorf("pgqueue: parsing child envelope: %w", err)
	}
	return e, nil
}
