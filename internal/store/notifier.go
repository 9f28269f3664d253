package store

import (
	"log/slog"
	"sync"
)

// Event origin: whether the write came from application code on this device
// or arrived through the sync engine's pull merge.
const (
	OriginLocal  = "local"
	OriginRemote = "remote"
)

// Event describes one committed store write.
type Event struct {
	Collection string
	RecordID   string
	Action     string
	Origin     string
}

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that falls this far behind is dropped rather than allowed to block
// foreground writes.
const subscriberBuffer = 64

// Notifier fans committed store events out to subscribers. Events are
// published after commit, under the store's single foreground writer, so
// each subscriber observes them in commit order.
type Notifier struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber and returns its event channel plus a
// cancel function. The channel is closed on cancel or store shutdown.
func (n *Notifier) Subscribe() (<-chan Event, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	ch := make(chan Event, subscriberBuffer)
	if n.closed {
		close(ch)
		return ch, func() {}
	}
	n.subs[id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if sub, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// publish delivers the event to every subscriber. A subscriber whose buffer
// is full is dropped; delivery to the survivors is at-least-once and in
// publish order.
func (n *Notifier) publish(e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, ch := range n.subs {
		select {
		case ch <- e:
		default:
			delete(n.subs, id)
			close(ch)
			slog.Warn("dropped slow store subscriber",
				"component", "store",
				"subscriber", id,
				"collection", e.Collection,
			)
		}
	}
}

func (n *Notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
