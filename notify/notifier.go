// Package notify delivers external-commit signals between the processes and
// coordinators sharing a database file. The coordinator subscribes once per
// file; a commit anywhere wakes its async-query runner.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/burrowdb/burrow/version"
)

// defaultSignalBufferSize is the buffer size for commit signal channels.
// Subscribers that can't keep up have signals dropped (non-blocking send);
// a dropped signal is safe because the runner re-reads the latest version.
const defaultSignalBufferSize = 16

// CommitSignal reports that a transaction was committed to a database file.
// Version may be the unversioned sentinel; receivers treat the signal as
// "something changed" and pull the latest version themselves.
type CommitSignal struct {
	Path    string
	Version version.ID
}

// Filter specifies which signals a subscriber wants.
type Filter struct {
	Paths []string // nil or empty = all paths
}

// Notifier is the coordinator's hook for publishing its own commits. The
// subscription side is wired at construction and invokes the coordinator's
// change callback on the notifier's own goroutine.
type Notifier interface {
	NotifyOthers()
	Close() error
}

// subscription represents a single subscriber.
type subscription struct {
	id     uint64
	filter Filter
	ch     chan CommitSignal
	closed atomic.Bool
}

func (s *subscription) matches(path string) bool {
	if len(s.filter.Paths) == 0 {
		return true
	}
	for _, p := range s.filter.Paths {
		if p == path {
			return true
		}
	}
	return false
}

func (s *subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Hub is a thread-safe in-process signal exchange. Every coordinator in a
// process shares one hub; cross-process delivery goes through a transport
// notifier instead.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        atomic.Uint64
}

// NewHub creates a new commit signal hub.
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[uint64]*subscription),
	}
}

// DefaultHub is the process-wide hub coordinators subscribe to.
var DefaultHub = NewHub()

// Signal sends a commit signal to all matching subscribers (non-blocking).
func (h *Hub) Signal(path string, v version.ID) {
	signal := CommitSignal{Path: path, Version: v}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		if !sub.matches(path) {
			continue
		}
		select {
		case sub.ch <- signal:
		default:
			// Buffer full, skip this subscriber
		}
	}
}

// Subscribe creates a new subscription and returns the signal channel and
// cancel function. The cancel function is idempotent.
func (h *Hub) Subscribe(filter Filter) (<-chan CommitSignal, func()) {
	sub := &subscription{
		id:     h.nextID.Add(1),
		filter: filter,
		ch:     make(chan CommitSignal, defaultSignalBufferSize),
	}

	h.mu.Lock()
	h.subscriptions[sub.id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.unsubscribe(sub.id)
	}

	return sub.ch, cancel
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscriptions[id]
	if ok {
		delete(h.subscriptions, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}

// HubNotifier connects one coordinator to a Hub. Signals for the path invoke
// onChange sequentially on the notifier's goroutine.
type HubNotifier struct {
	hub    *Hub
	path   string
	cancel func()
	done   chan struct{}
}

// NewHubNotifier subscribes to commits for path and starts the delivery
// goroutine.
func NewHubNotifier(hub *Hub, path string, onChange func()) *HubNotifier {
	signals, cancel := hub.Subscribe(Filter{Paths: []string{path}})
	n := &HubNotifier{
		hub:    hub,
		path:   path,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(n.done)
		for range signals {
			onChange()
		}
	}()
	return n
}

// NotifyOthers publishes a commit signal for the notifier's path. The local
// coordinator receives it too, which keeps its own async queries fresh.
func (n *HubNotifier) NotifyOthers() {
	n.hub.Signal(n.path, version.Zero)
}

// Close cancels the subscription and waits for in-flight deliveries.
func (n *HubNotifier) Close() error {
	n.cancel()
	<-n.done
	return nil
}
