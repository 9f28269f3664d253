package bridge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/officebridge/fieldsync/internal/types"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(Config{
		LocalPath: filepath.Join(t.TempDir(), "device.db"),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Shutdown() })
	return c
}

func TestClient_RequiresLocalPath(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for missing LocalPath")
	}
}

// Every sync tuning knob the client accepts must reach the engine.
func TestEngineConfig_CarriesAllTuning(t *testing.T) {
	cfg := Config{
		SyncInterval: time.Minute,
		BatchSize:    25,
		RetryBudget:  4,
		BackoffBase:  time.Second,
		BackoffCap:   5 * time.Minute,
		CallRetries:  3,
	}

	ec := engineConfig(cfg)
	if ec.Interval != time.Minute {
		t.Errorf("Interval = %v", ec.Interval)
	}
	if ec.BatchSize != 25 {
		t.Errorf("BatchSize = %d", ec.BatchSize)
	}
	if ec.RetryBudget != 4 {
		t.Errorf("RetryBudget = %d", ec.RetryBudget)
	}
	if ec.BackoffBase != time.Second {
		t.Errorf("BackoffBase = %v", ec.BackoffBase)
	}
	if ec.BackoffCap != 5*time.Minute {
		t.Errorf("BackoffCap = %v", ec.BackoffCap)
	}
	if ec.CallRetries != 3 {
		t.Errorf("CallRetries = %d", ec.CallRetries)
	}
}

func TestClient_CreateMintsID(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	rec, err := c.Create(ctx, types.CollectionTasks, map[string]any{"title": "walk the site"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID == "" {
		t.Fatal("expected minted record id")
	}

	got, err := c.Get(ctx, types.CollectionTasks, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Fields["title"] != "walk the site" {
		t.Errorf("unexpected fields %v", got.Fields)
	}

	// User-originated writes always queue
	st := c.Status(ctx)
	if st.Pending != 1 {
		t.Errorf("expected 1 pending mutation, got %d", st.Pending)
	}
}

func TestClient_DeviceIDPersistsAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.db")

	c1, err := New(Config{LocalPath: path})
	if err != nil {
		t.Fatal(err)
	}
	id1 := c1.DeviceID()
	if id1 == "" {
		t.Fatal("expected minted device id")
	}
	if err := c1.Shutdown(); err != nil {
		t.Fatal(err)
	}

	c2, err := New(Config{LocalPath: path})
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Shutdown()

	if c2.DeviceID() != id1 {
		t.Errorf("device id changed across restart: %q vs %q", id1, c2.DeviceID())
	}
}

func TestClient_ConfiguredDeviceIDWins(t *testing.T) {
	c, err := New(Config{
		LocalPath: filepath.Join(t.TempDir(), "device.db"),
		DeviceID:  "crew-tablet-7",
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Shutdown()

	if c.DeviceID() != "crew-tablet-7" {
		t.Errorf("expected configured id, got %q", c.DeviceID())
	}
}

func TestClient_ClosedClientRefusesWrites(t *testing.T) {
	c := newTestClient(t)
	if err := c.Shutdown(); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Create(context.Background(), types.CollectionTasks, nil); err == nil {
		t.Error("expected error on closed client")
	}
	if _, err := c.Get(context.Background(), types.CollectionTasks, "x"); err == nil {
		t.Error("expected error on closed client")
	}

	// Double shutdown is a no-op
	if err := c.Shutdown(); err != nil {
		t.Errorf("expected idempotent shutdown, got %v", err)
	}
}

func TestClient_SubscribeSeesCommits(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	events, cancel := c.Subscribe()
	defer cancel()

	rec, err := c.Create(ctx, types.CollectionTasks, map[string]any{"title": "x"})
	if err != nil {
		t.Fatal(err)
	}

	e := <-events
	if e.RecordID != rec.ID {
		t.Errorf("expected event for %s, got %s", rec.ID, e.RecordID)
	}
}
