// Package bridge is the embeddable device-side client: one constructed
// instance wires the local record store, the connectivity monitor, and the
// background sync engine together for application code.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/officebridge/fieldsync/internal/netmon"
	"github.com/officebridge/fieldsync/internal/store"
	fieldsync "github.com/officebridge/fieldsync/internal/sync"
	"github.com/officebridge/fieldsync/internal/types"
	"github.com/oklog/ulid/v2"
)

// deviceIDKey is the sync_meta key holding this device's persistent id.
const deviceIDKey = "device_id"

// Config configures a device client.
type Config struct {
	// LocalPath is the SQLite database path. Required.
	LocalPath string
	// HubURL is the office hub base URL. Empty means offline-only.
	HubURL string
	// APIToken authenticates against the hub.
	APIToken string
	// DeviceID overrides the persisted device id.
	DeviceID string
	// AutoSync starts the background monitor and engine on Initialize.
	AutoSync bool
	// SyncInterval between periodic cycles. Defaults to 30s.
	SyncInterval time.Duration
	// ProbeInterval between reachability checks. Defaults to 10s.
	ProbeInterval time.Duration
	// RequestTimeout bounds each remote call. Defaults to 30s.
	RequestTimeout time.Duration
	// RetryBudget before a mutation is dead-lettered. Defaults to 8.
	RetryBudget int
	// BatchSize bounds the mutations pushed per sync cycle. Defaults to 100.
	BatchSize int
	// BackoffBase seeds the cross-cycle retry backoff. Defaults to 2s.
	BackoffBase time.Duration
	// BackoffCap bounds the cross-cycle retry backoff. Defaults to 10m.
	BackoffCap time.Duration
	// CallRetries retries transient transport failures within a single push
	// attempt. Defaults to 2.
	CallRetries int
}

// engineConfig maps client options onto the sync engine's tuning knobs.
func engineConfig(cfg Config) fieldsync.Config {
	return fieldsync.Config{
		Interval:    cfg.SyncInterval,
		BatchSize:   cfg.BatchSize,
		RetryBudget: cfg.RetryBudget,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
		CallRetries: cfg.CallRetries,
	}
}

// Client is the device-side service instance. Construct once per process
// and inject wherever records are read or written.
type Client struct {
	config  Config
	store   *store.SQLiteStore
	monitor *netmon.Monitor
	engine  *fieldsync.Engine

	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a client. The store is opened immediately; background sync
// starts on Initialize.
func New(cfg Config) (*Client, error) {
	if cfg.LocalPath == "" {
		return nil, errors.New("LocalPath is required")
	}
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = 30 * time.Second
	}
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = 10 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.CallRetries == 0 {
		cfg.CallRetries = 2
	}

	s, err := store.NewSQLiteStore(cfg.LocalPath)
	if err != nil {
		return nil, err
	}

	if cfg.DeviceID == "" {
		cfg.DeviceID, err = loadOrMintDeviceID(s)
		if err != nil {
			s.Close()
			return nil, err
		}
	}

	monitor := netmon.New(netmon.NewHTTPProbe(cfg.HubURL, cfg.RequestTimeout), cfg.ProbeInterval)
	transport := fieldsync.NewHTTPTransport(cfg.HubURL, cfg.APIToken, cfg.RequestTimeout)
	engine := fieldsync.NewEngine(s, transport, monitor, engineConfig(cfg))

	return &Client{
		config:  cfg,
		store:   s,
		monitor: monitor,
		engine:  engine,
	}, nil
}

// loadOrMintDeviceID returns the persisted device id, minting and storing
// a fresh ULID on first start.
func loadOrMintDeviceID(s *store.SQLiteStore) (string, error) {
	ctx := context.Background()
	id, err := s.GetSyncMeta(ctx, deviceIDKey)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	id = ulid.Make().String()
	if err := s.SetSyncMeta(ctx, deviceIDKey, id); err != nil {
		return "", err
	}
	return id, nil
}

// DeviceID returns this device's stable identifier.
func (c *Client) DeviceID() string {
	return c.config.DeviceID
}

// Initialize starts the background monitor and sync engine when AutoSync
// is enabled and a hub is configured.
func (c *Client) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("client is closed")
	}

	if !c.config.AutoSync || c.config.HubURL == "" {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.monitor.Run(ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.engine.Run(ctx)
	}()

	return nil
}

// Shutdown stops background sync, attempts one final flush of pending
// mutations, and closes the store.
func (c *Client) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}

	if c.config.HubURL != "" {
		flushCtx, cancel := context.WithTimeout(context.Background(), c.config.RequestTimeout)
		// Best effort; pending entries survive in the log either way.
		_ = c.engine.RunOnce(flushCtx)
		cancel()
	}

	return c.store.Close()
}

// Create mints a record id and stores a new record, enqueuing it for sync.
func (c *Client) Create(ctx context.Context, collection string, fields map[string]any) (*types.Record, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}

	rec := &types.Record{
		ID:     ulid.Make().String(),
		Fields: fields,
	}
	return c.store.Put(ctx, collection, rec, true)
}

// Put stores a user-originated edit and enqueues it for sync.
func (c *Client) Put(ctx context.Context, collection string, rec *types.Record) (*types.Record, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	return c.store.Put(ctx, collection, rec, true)
}

// Get returns the current record; tombstoned records read as not found.
func (c *Client) Get(ctx context.Context, collection, id string) (*types.Record, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	return c.store.Get(ctx, collection, id)
}

// Query returns a snapshot of matching live records.
func (c *Client) Query(ctx context.Context, collection string, predicate func(*types.Record) bool) ([]*types.Record, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	return c.store.Query(ctx, collection, predicate)
}

// Delete tombstones a record and enqueues the delete.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	return c.store.Delete(ctx, collection, id)
}

// SyncNow requests an immediate background sync cycle.
func (c *Client) SyncNow() {
	c.engine.SyncNow()
}

// Status returns the engine's queryable sync status.
func (c *Client) Status(ctx context.Context) fieldsync.Status {
	return c.engine.Status(ctx)
}

// DeadLetters returns mutations that exhausted their retry budget.
func (c *Client) DeadLetters(ctx context.Context) ([]fieldsync.MutationEntry, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	return c.store.DeadLetters(ctx)
}

// Requeue returns a dead-lettered mutation to the pending queue.
func (c *Client) Requeue(ctx context.Context, entryID int64) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	return c.store.Requeue(ctx, entryID)
}

// Subscribe registers for committed store events.
func (c *Client) Subscribe() (<-chan store.Event, func()) {
	return c.store.Notifier().Subscribe()
}

// Export writes the full-state backup document.
func (c *Client) Export(ctx context.Context, w io.Writer) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	return c.store.Export(ctx, w)
}

// Import re-seeds the store from a backup document without enqueuing
// mutations.
func (c *Client) Import(ctx context.Context, r io.Reader) (int, error) {
	if err := c.ensureOpen(); err != nil {
		return 0, err
	}
	return c.store.Import(ctx, r)
}

func (c *Client) ensureOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return fmt.Errorf("client is closed")
	}
	return nil
}
