package coordinator

import (
	"sync/atomic"

	"github.com/burrowdb/burrow/cfg"
	"github.com/burrowdb/burrow/translog"
	"github.com/burrowdb/burrow/version"
)

// Handle is one consumer's view of a database. A handle owns its own
// snapshot and history cursor and belongs to the goroutine that opened it;
// the coordinator moves the snapshot forward only on that goroutine's
// explicit request.
type Handle struct {
	coord  *Coordinator
	config cfg.DatabaseConfig

	snap Snapshot
	hist History

	binding  BindingContext
	threadID uint64
	closed   atomic.Bool
}

// cachedHandle tags a handle with the goroutine allowed to reuse it. The
// handle's closed flag doubles as the liveness check: a closed handle never
// upgrades.
type cachedHandle struct {
	handle   *Handle
	threadID uint64
	cache    bool
}

func (ch *cachedHandle) upgrade() *Handle {
	if ch.handle.closed.Load() {
		return nil
	}
	return ch.handle
}

func (ch *cachedHandle) isCachedForCurrentThread() bool {
	return ch.cache && ch.threadID == currentThreadID()
}

// notify signals the consumer that new versions exist. Runs on the notifier
// goroutine.
func (ch *cachedHandle) notify() {
	h := ch.upgrade()
	if h == nil || h.binding == nil {
		return
	}
	h.binding.ChangesAvailable()
}

// Coordinator returns the coordinator this handle belongs to.
func (h *Handle) Coordinator() *Coordinator {
	return h.coord
}

// Config returns the configuration the handle was opened with.
func (h *Handle) Config() cfg.DatabaseConfig {
	return h.config
}

// Version returns the version the handle's snapshot is pinned to.
func (h *Handle) Version() version.ID {
	return h.snap.Version()
}

// SetBindingContext installs the consumer's notification hooks.
func (h *Handle) SetBindingContext(ctx BindingContext) {
	h.binding = ctx
}

// Commit appends a write transaction, publishes the commit to other
// processes, and returns the committed version.
func (h *Handle) Commit(events []translog.Event) (version.ID, error) {
	v, err := h.snap.Commit(events)
	if err != nil {
		return version.Zero, err
	}
	h.coord.SendCommitNotifications()
	return v, nil
}

// advanceTo moves the handle's snapshot to target, streaming observed
// changes into the binding context. Called with the coordinator's query
// lock held; only touches the handle's own snapshot.
func (h *Handle) advanceTo(target version.ID) error {
	obs := translog.NewObserver()
	if h.binding != nil {
		h.binding.BeforeNotify()
	}
	if err := h.hist.AdvanceRead(h.snap, obs, target); err != nil {
		return err
	}
	if h.binding != nil {
		h.binding.DidChange(obs.Changes())
		h.binding.AfterNotify()
	}
	return nil
}

// AdvanceToReady moves the snapshot forward to the oldest version with
// ready async results and delivers them. Without targeted queries the
// snapshot advances to the latest committed version.
func (h *Handle) AdvanceToReady() error {
	return h.coord.AdvanceToReady(h)
}

// ProcessAvailableAsync delivers any async results that are ready at the
// handle's current version without advancing.
func (h *Handle) ProcessAvailableAsync() {
	h.coord.ProcessAvailableAsync(h)
}

// Close releases the handle's snapshot and unregisters it from the
// coordinator. Idempotent.
func (h *Handle) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	h.snap.Close()
	h.coord.UnregisterHandle(h)
	h.coord.Release()
}
