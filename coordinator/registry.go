package coordinator

import (
	"sync"

	"github.com/burrowdb/burrow/cfg"
	"github.com/burrowdb/burrow/notify"
)

// The process-wide path-keyed registry. Entries are reference counted:
// GetCoordinator and each open handle hold one reference, and the entry
// disappears when the last reference is released.
var (
	registryMu sync.Mutex
	registry   = make(map[string]*Coordinator)
)

// GetCoordinator returns the coordinator for path, constructing one if no
// live instance exists. The caller owns one reference and must Release it.
func GetCoordinator(path string) *Coordinator {
	registryMu.Lock()
	defer registryMu.Unlock()

	if c, ok := registry[path]; ok {
		c.refs.Add(1)
		return c
	}
	c := newCoordinator(path)
	c.refs.Store(1)
	registry[path] = c
	return c
}

// GetExistingCoordinator returns the live coordinator for path, or nil
// without constructing one. A non-nil result carries a reference the caller
// must Release.
func GetExistingCoordinator(path string) *Coordinator {
	registryMu.Lock()
	defer registryMu.Unlock()

	c, ok := registry[path]
	if !ok {
		return nil
	}
	c.refs.Add(1)
	return c
}

// retain adds a reference on behalf of a new handle. Lock-free: GetHandle
// calls this while holding handleMu, and the registry mutex must never be
// acquired after a handle lock.
func (c *Coordinator) retain() {
	c.refs.Add(1)
}

// Release drops one reference. The last release removes the registry entry
// and tears the coordinator down. The zero transition is confirmed under
// the registry mutex so a concurrent GetCoordinator hit resurrects the
// entry instead of racing the teardown.
func (c *Coordinator) Release() {
	if c.refs.Add(-1) != 0 {
		return
	}

	registryMu.Lock()
	if c.refs.Load() != 0 {
		registryMu.Unlock()
		return
	}
	if registry[c.path] == c {
		delete(registry, c.path)
	}
	registryMu.Unlock()

	c.teardown()
}

// OpenHandle opens a handle for config, resolving the coordinator through
// the registry. The handle keeps the coordinator alive until closed.
func OpenHandle(config cfg.DatabaseConfig) (*Handle, error) {
	c := GetCoordinator(config.Path)
	defer c.Release()
	return c.GetHandle(config)
}

// ClearCache detaches every notifier, empties the registry, and closes
// every cached handle. The registry lock covers the gather phase only:
// closing a handle reenters the coordinator, and closing a notifier blocks
// on its delivery goroutine, so both happen with no lock held.
func ClearCache() {
	var handles []*Handle
	var notifiers []notify.Notifier

	registryMu.Lock()
	for path, c := range registry {
		c.handleMu.Lock()
		if c.notifier != nil {
			notifiers = append(notifiers, c.notifier)
			c.notifier = nil
		}
		for _, cached := range c.cachedHandles {
			if h := cached.upgrade(); h != nil {
				handles = append(handles, h)
			}
		}
		c.handleMu.Unlock()
		delete(registry, path)
	}
	registryMu.Unlock()

	for _, n := range notifiers {
		n.Close()
	}
	for _, h := range handles {
		h.Close()
	}
}
