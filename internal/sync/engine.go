// Package sync contains the background synchronization engine: it drains
// the device's durable mutation log to the office hub (push), pulls the
// hub's record sets back down, and reconciles conflicts with a
// last-writer-wins policy.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/officebridge/fieldsync/internal/types"
	"github.com/sethvargo/go-retry"
)

// ErrOffline is returned by RunOnce when the hub is unreachable.
var ErrOffline = errors.New("hub unreachable")

// Store is the slice of the record store the engine drives.
//
// GetAny returns (nil, nil) when the key is absent, so a purged record and
// a never-seen record look identical to the pull merge.
type Store interface {
	Peek(ctx context.Context, n int) ([]MutationEntry, error)
	Ack(ctx context.Context, entryID int64) error
	Fail(ctx context.Context, entryID int64, cause error, nextAttemptAt time.Time) (int, error)
	MarkDead(ctx context.Context, entryID int64) error
	Put(ctx context.Context, collection string, rec *types.Record, queueForSync bool) (*types.Record, error)
	GetAny(ctx context.Context, collection, id string) (*types.Record, error)
	Purge(ctx context.Context, collection, id string) error
	PendingCount(ctx context.Context) (int, error)
	DeadLetterCount(ctx context.Context) (int, error)
}

// Connectivity is the reachability view the engine consumes. Subscribe
// returns a channel of transitions: true for wentOnline, false for
// wentOffline.
type Connectivity interface {
	Online() bool
	Subscribe() (<-chan bool, func())
}

// Config tunes one engine instance.
type Config struct {
	// Collections to pull; defaults to types.Collections.
	Collections []string
	// Interval between periodic sync cycles.
	Interval time.Duration
	// BatchSize bounds the entries attempted per push phase.
	BatchSize int
	// RetryBudget is the failure count after which an entry is
	// dead-lettered.
	RetryBudget int
	// BackoffBase seeds the cross-cycle exponential backoff.
	BackoffBase time.Duration
	// BackoffCap bounds the cross-cycle backoff delay.
	BackoffCap time.Duration
	// CallRetries is the in-call retry count for transient transport
	// failures within a single push attempt.
	CallRetries int
}

func (c *Config) withDefaults() Config {
	out := *c
	if len(out.Collections) == 0 {
		out.Collections = types.Collections
	}
	if out.Interval <= 0 {
		out.Interval = 30 * time.Second
	}
	if out.BatchSize <= 0 {
		out.BatchSize = 100
	}
	if out.RetryBudget <= 0 {
		out.RetryBudget = 8
	}
	if out.BackoffBase <= 0 {
		out.BackoffBase = 2 * time.Second
	}
	if out.BackoffCap <= 0 {
		out.BackoffCap = 10 * time.Minute
	}
	if out.CallRetries < 0 {
		out.CallRetries = 0
	}
	return out
}

// Engine orchestrates push and pull cycles. It owns the process-wide sync
// state and is the only component that talks to the remote transport. It
// never blocks store callers; everything here runs in the background task.
type Engine struct {
	store     Store
	transport Transport
	conn      Connectivity
	cfg       Config

	syncNow chan struct{}

	mu             sync.Mutex
	state          State
	lastSyncAt     time.Time
	lastError      string
	inflightCancel context.CancelFunc
}

// NewEngine creates an engine. It starts Offline until the first
// reachability signal arrives.
func NewEngine(s Store, t Transport, conn Connectivity, cfg Config) *Engine {
	return &Engine{
		store:     s,
		transport: t,
		conn:      conn,
		cfg:       cfg.withDefaults(),
		syncNow:   make(chan struct{}, 1),
		state:     StateOffline,
	}
}

// SyncNow requests an immediate cycle without waiting for the ticker. Safe
// to call from any goroutine; coalesces when a request is already queued.
func (e *Engine) SyncNow() {
	select {
	case e.syncNow <- struct{}{}:
	default:
	}
}

// Status reports the engine's queryable view: state, queue depths, and the
// last contained failure.
func (e *Engine) Status(ctx context.Context) Status {
	e.mu.Lock()
	st := Status{
		State:      e.state,
		LastSyncAt: e.lastSyncAt,
		LastError:  e.lastError,
	}
	e.mu.Unlock()

	pending, err := e.store.PendingCount(ctx)
	if err != nil {
		slog.Warn("pending count unavailable", "component", "sync", "error", err)
	} else {
		st.Pending = pending
	}
	dead, err := e.store.DeadLetterCount(ctx)
	if err != nil {
		slog.Warn("dead letter count unavailable", "component", "sync", "error", err)
	} else {
		st.DeadLetters = dead
	}
	return st
}

// Run drives the engine until ctx is cancelled. Connectivity transitions
// are consumed on a dedicated goroutine so a wentOffline event can cancel
// an in-flight cycle.
func (e *Engine) Run(ctx context.Context) {
	events, cancelSub := e.conn.Subscribe()
	defer cancelSub()

	go e.watchConnectivity(ctx, events)

	if e.conn.Online() {
		e.transitionOnline()
	}

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.cycle(ctx)
		case <-e.syncNow:
			e.cycle(ctx)
		}
	}
}

// RunOnce performs a single push+pull cycle synchronously, checking
// reachability first. Used for one-shot "sync now" invocations and the
// final flush on shutdown.
func (e *Engine) RunOnce(ctx context.Context) error {
	if !e.conn.Online() {
		return ErrOffline
	}
	e.transitionOnline()
	e.cycle(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastError != "" {
		return errors.New(e.lastError)
	}
	return nil
}

func (e *Engine) watchConnectivity(ctx context.Context, events <-chan bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-events:
			if !ok {
				return
			}
			if online {
				e.transitionOnline()
				e.SyncNow()
			} else {
				e.transitionOffline()
			}
		}
	}
}

func (e *Engine) transitionOnline() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateOffline {
		e.state = StateIdle
		slog.Info("connectivity restored", "component", "sync", "state", e.state)
	}
}

// transitionOffline abandons any in-flight cycle. Entries already acked
// stay acked; the rest remain queued for the next cycle, which is safe
// because every push carries an idempotency key.
func (e *Engine) transitionOffline() {
	e.mu.Lock()
	cancel := e.inflightCancel
	e.inflightCancel = nil
	prev := e.state
	e.state = StateOffline
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if prev != StateOffline {
		slog.Info("connectivity lost", "component", "sync", "previous_state", prev)
	}
}

// beginCycle moves Idle to Pushing and installs the cycle's cancel hook.
// Returns a nil context when the engine is not in a state to sync.
func (e *Engine) beginCycle(ctx context.Context) context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return nil
	}
	e.state = StatePushing
	cctx, cancel := context.WithCancel(ctx)
	e.inflightCancel = cancel
	return cctx
}

func (e *Engine) endCycle(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflightCancel != nil {
		e.inflightCancel()
		e.inflightCancel = nil
	}
	if err != nil {
		e.lastError = err.Error()
	} else {
		e.lastError = ""
		e.lastSyncAt = time.Now().UTC()
	}
	if e.state != StateOffline {
		e.state = StateIdle
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateOffline {
		e.state = s
	}
}

// cycle runs one push phase followed by one pull phase. Any failure is
// contained here and surfaced via Status; the foreground never sees it.
func (e *Engine) cycle(ctx context.Context) {
	cctx := e.beginCycle(ctx)
	if cctx == nil {
		return
	}

	pushErr := e.push(cctx)
	var pullErr error
	if cctx.Err() == nil {
		e.setState(StatePulling)
		pullErr = e.pull(cctx)
	}
	err := errors.Join(pushErr, pullErr)
	if cctx.Err() != nil {
		// Abandoned by shutdown or wentOffline; not a sync failure.
		err = nil
	}
	e.endCycle(err)
}

// push drains up to BatchSize entries in insertion order. A failed entry
// blocks later entries for the same record, preserving per-record FIFO,
// while independent records continue.
func (e *Engine) push(ctx context.Context) error {
	entries, err := e.store.Peek(ctx, e.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("peek mutation log: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	blocked := make(map[string]bool)
	var pushed, failed int
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		key := entry.Collection + "/" + entry.RecordID
		if blocked[key] {
			continue
		}

		if err := e.apply(ctx, entry); err != nil {
			if ctx.Err() != nil {
				break
			}
			blocked[key] = true
			failed++
			e.failEntry(ctx, entry, err)
			continue
		}

		if err := e.store.Ack(ctx, entry.ID); err != nil {
			return fmt.Errorf("ack entry %d: %w", entry.ID, err)
		}
		if entry.Action == ActionDelete {
			if err := e.store.Purge(ctx, entry.Collection, entry.RecordID); err != nil {
				return fmt.Errorf("purge %s: %w", key, err)
			}
		}
		pushed++
	}

	if pushed > 0 || failed > 0 {
		slog.Info("push phase complete",
			"component", "sync",
			"pushed", pushed,
			"failed", failed,
		)
	}
	if failed > 0 {
		return fmt.Errorf("push: %d entries failed", failed)
	}
	return nil
}

// apply sends one mutation to the hub, retrying transient transport
// failures in-call with exponential backoff. Remote rejections return
// immediately and count against the entry's retry budget instead.
func (e *Engine) apply(ctx context.Context, entry MutationEntry) error {
	var rec types.Record
	if len(entry.Payload) > 0 {
		if err := json.Unmarshal(entry.Payload, &rec); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}

	backoff := retry.WithMaxRetries(uint64(e.cfg.CallRetries),
		retry.NewExponential(250*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		switch entry.Action {
		case ActionCreate:
			_, err = e.transport.Create(ctx, entry.Collection, &rec, entry.MutationKey)
		case ActionUpdate:
			err = e.transport.Update(ctx, entry.Collection, entry.RecordID, &rec, entry.MutationKey)
		case ActionDelete:
			err = e.transport.Delete(ctx, entry.Collection, entry.RecordID, rec.UpdatedAt, entry.MutationKey)
		default:
			return fmt.Errorf("unknown action %q", entry.Action)
		}
		if err != nil && IsTransient(err) && ctx.Err() == nil {
			return retry.RetryableError(err)
		}
		return err
	})
}

// failEntry records the failure with cross-cycle backoff and dead-letters
// the entry once the budget is spent.
func (e *Engine) failEntry(ctx context.Context, entry MutationEntry, cause error) {
	next := time.Now().UTC().Add(e.backoffDelay(entry.RetryCount + 1))
	retryCount, err := e.store.Fail(ctx, entry.ID, cause, next)
	if err != nil {
		slog.Error("failed to record push failure",
			"component", "sync",
			"entry_id", entry.ID,
			"error", err,
		)
		return
	}

	slog.Warn("push attempt failed",
		"component", "sync",
		"entry_id", entry.ID,
		"collection", entry.Collection,
		"record_id", entry.RecordID,
		"action", entry.Action,
		"retry_count", retryCount,
		"error", cause,
	)

	if retryCount >= e.cfg.RetryBudget {
		if err := e.store.MarkDead(ctx, entry.ID); err != nil {
			slog.Error("failed to dead-letter entry",
				"component", "sync",
				"entry_id", entry.ID,
				"error", err,
			)
			return
		}
		slog.Error("mutation dead-lettered",
			"component", "sync",
			"entry_id", entry.ID,
			"collection", entry.Collection,
			"record_id", entry.RecordID,
			"action", entry.Action,
			"attempts", retryCount,
			"error", cause,
		)
	}
}

// backoffDelay returns the cross-cycle delay for the nth failure:
// base * 2^(n-1), capped.
func (e *Engine) backoffDelay(n int) time.Duration {
	d := e.cfg.BackoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= e.cfg.BackoffCap {
			return e.cfg.BackoffCap
		}
	}
	if d > e.cfg.BackoffCap {
		return e.cfg.BackoffCap
	}
	return d
}

// pull fetches each collection's remote record set and merges every record
// the resolver accepts through the remote-origin store path, which never
// re-enqueues what just arrived.
func (e *Engine) pull(ctx context.Context) error {
	var merged int
	for _, collection := range e.cfg.Collections {
		if ctx.Err() != nil {
			return nil
		}

		remote, err := e.transport.List(ctx, collection)
		if err != nil {
			return fmt.Errorf("list %s: %w", collection, err)
		}

		for _, rr := range remote {
			local, err := e.store.GetAny(ctx, collection, rr.ID)
			if err != nil {
				return fmt.Errorf("lookup %s/%s: %w", collection, rr.ID, err)
			}
			// A remote tombstone for a record this device never had (or
			// already purged) leaves nothing to delete.
			if local == nil && rr.Deleted {
				continue
			}
			if !Resolve(local, rr) {
				continue
			}
			if _, err := e.store.Put(ctx, collection, rr, false); err != nil {
				return fmt.Errorf("merge %s/%s: %w", collection, rr.ID, err)
			}
			merged++
		}
	}

	if merged > 0 {
		slog.Info("pull phase complete", "component", "sync", "merged", merged)
	}
	return nil
}
