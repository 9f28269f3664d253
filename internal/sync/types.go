package sync

import (
	"encoding/json"
	"time"
)

// Mutation actions.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Mutation log states. Pending entries are eligible for push; dead entries
// exhausted the retry budget and wait for operator intervention.
const (
	MutationStatePending = "pending"
	MutationStateDead    = "dead"
)

// MutationEntry is one pending outbound change in the durable mutation log.
//
// ID is the queue-local sequence number and defines FIFO order. Payload is a
// snapshot of the record's fields at enqueue time; later edits to the same
// record append new entries rather than mutating queued ones. MutationKey is
// a ULID minted at enqueue time and sent to the hub as an idempotency key so
// redelivery after a crash or an abandoned cycle is safe.
type MutationEntry struct {
	ID            int64           `json:"id"`
	Collection    string          `json:"collection"`
	RecordID      string          `json:"record_id"`
	Action        string          `json:"action"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	MutationKey   string          `json:"mutation_key"`
	State         string          `json:"state"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	RetryCount    int             `json:"retry_count"`
	LastError     string          `json:"last_error,omitempty"`
}

// State is the sync engine lifecycle value. It is held by the engine only
// and never persisted.
type State string

const (
	StateOffline State = "offline"
	StateIdle    State = "idle"
	StatePushing State = "pushing"
	StatePulling State = "pulling"
)

// Status is the queryable view of the background sync task. Engine failures
// surface here and in logs, never by crashing the foreground.
type Status struct {
	State       State     `json:"state"`
	Pending     int       `json:"pending"`
	DeadLetters int       `json:"dead_letters"`
	LastSyncAt  time.Time `json:"last_sync_at"`
	LastError   string    `json:"last_error,omitempty"`
}
