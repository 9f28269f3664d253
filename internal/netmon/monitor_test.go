package netmon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeProbe struct {
	mu  sync.Mutex
	err error
}

func (p *fakeProbe) set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakeProbe) Check(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func TestMonitor_StartsOffline(t *testing.T) {
	m := New(&fakeProbe{}, time.Minute)
	if m.Online() {
		t.Error("expected monitor to start offline")
	}
}

func TestMonitor_PublishesTransitionsOnly(t *testing.T) {
	probe := &fakeProbe{}
	m := New(probe, time.Minute)

	events, cancel := m.Subscribe()
	defer cancel()

	m.check(context.Background())
	m.check(context.Background()) // steady state, no event

	select {
	case online := <-events:
		if !online {
			t.Error("expected wentOnline transition")
		}
	case <-time.After(time.Second):
		t.Fatal("expected a transition event")
	}
	select {
	case e := <-events:
		t.Fatalf("unexpected second event %v for steady state", e)
	default:
	}

	if !m.Online() {
		t.Error("expected online after successful check")
	}

	probe.set(errors.New("unreachable"))
	m.check(context.Background())

	select {
	case online := <-events:
		if online {
			t.Error("expected wentOffline transition")
		}
	case <-time.After(time.Second):
		t.Fatal("expected offline transition event")
	}
}

func TestMonitor_CancelledCheckDoesNotTransition(t *testing.T) {
	probe := &fakeProbe{}
	m := New(probe, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	probe.set(ctx.Err())
	m.check(ctx)

	if m.Online() {
		t.Error("cancelled check must not change state")
	}
}

func TestMonitor_SubscribeCancel(t *testing.T) {
	m := New(&fakeProbe{}, time.Minute)

	events, cancel := m.Subscribe()
	cancel()

	if _, ok := <-events; ok {
		t.Error("expected channel closed after cancel")
	}

	// Transitions after cancel must not panic
	m.setOnline(true)
}

func TestHTTPProbe_Check(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/health" {
			t.Errorf("unexpected probe path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	probe := NewHTTPProbe(srv.URL, time.Second)
	if err := probe.Check(context.Background()); err != nil {
		t.Errorf("expected healthy probe, got %v", err)
	}
}

func TestHTTPProbe_Check_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	probe := NewHTTPProbe(srv.URL, time.Second)
	if err := probe.Check(context.Background()); err == nil {
		t.Error("expected error for 503 health response")
	}
}

func TestHTTPProbe_Check_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	probe := NewHTTPProbe(srv.URL, time.Second)
	if err := probe.Check(context.Background()); err == nil {
		t.Error("expected error against closed server")
	}
}
