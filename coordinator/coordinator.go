// Package coordinator owns the cross-thread concerns of one database file:
// caching open handles, observing external commits, validating incoming
// schema deltas, and keeping async query results current as the storage
// engine advances through committed versions.
package coordinator

import (
	"bytes"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/burrowdb/burrow/cfg"
	"github.com/burrowdb/burrow/notify"
	"github.com/burrowdb/burrow/telemetry"
	"github.com/burrowdb/burrow/translog"
	"github.com/burrowdb/burrow/version"
)

// Coordinator is the process-wide singleton for one database path. Obtain
// instances through GetCoordinator; every instance must be released.
type Coordinator struct {
	path string

	// Reference count; adjusted lock-free so handle opens never reach for
	// the registry mutex while holding handleMu. The zero-transition is
	// re-checked under the registry mutex in Release.
	refs atomic.Int64

	// handleMu covers the captured config, the cached handles, and the
	// notifier.
	handleMu      sync.Mutex
	config        cfg.DatabaseConfig
	cachedHandles []*cachedHandle
	notifier      notify.Notifier

	// queryMu covers everything query-related: both lists, both helper
	// snapshots, and the sticky async error.
	queryMu      sync.Mutex
	queries      []AsyncQuery
	newQueries   []AsyncQuery
	querySnap    Snapshot
	queryHist    History
	advancerSnap Snapshot
	advancerHist History
	asyncErr     error

	opener      Opener
	newNotifier func(path string, onChange func()) (notify.Notifier, error)
}

func newCoordinator(path string) *Coordinator {
	return &Coordinator{
		path:        path,
		opener:      OpenStorage,
		newNotifier: defaultNotifier,
	}
}

func defaultNotifier(path string, onChange func()) (notify.Notifier, error) {
	if cfg.Config.Notifier.NatsEnabled {
		return notify.NewNatsNotifier(cfg.Config.Notifier.NatsURL, path, onChange)
	}
	return notify.NewHubNotifier(notify.DefaultHub, path, onChange), nil
}

// Path returns the database path this coordinator serves.
func (c *Coordinator) Path() string {
	return c.path
}

// GetHandle returns a handle for config, reusing a cached one for the
// calling goroutine when config.Cache allows it. The first open captures
// the config; later opens must match it.
func (c *Coordinator) GetHandle(config cfg.DatabaseConfig) (*Handle, error) {
	c.handleMu.Lock()
	defer c.handleMu.Unlock()

	if (!c.config.ReadOnly && c.notifier == nil) || (c.config.ReadOnly && len(c.cachedHandles) == 0) {
		c.config = config
		if !config.ReadOnly && c.notifier == nil {
			notifier, err := c.newNotifier(config.Path, c.OnChange)
			if err != nil {
				return nil, &FileAccessError{Path: config.Path, Err: err}
			}
			c.notifier = notifier
		}
	} else {
		if c.config.ReadOnly != config.ReadOnly {
			return nil, &MismatchedConfigError{Path: config.Path, Field: "read permission"}
		}
		if c.config.InMemory != config.InMemory {
			return nil, &MismatchedConfigError{Path: config.Path, Field: "inMemory setting"}
		}
		if !bytes.Equal(c.config.EncryptionKey, config.EncryptionKey) {
			return nil, &MismatchedConfigError{Path: config.Path, Field: "encryption key"}
		}
		if c.config.SchemaVersion != config.SchemaVersion && config.SchemaVersion != cfg.NotVersioned {
			return nil, &MismatchedConfigError{Path: config.Path, Field: "schema version"}
		}
	}

	if config.Cache {
		for _, cached := range c.cachedHandles {
			if !cached.isCachedForCurrentThread() {
				continue
			}
			// Can be nil if the handle was closed between the ref
			// dropping and UnregisterHandle taking the lock.
			if h := cached.upgrade(); h != nil {
				telemetry.HandleCacheTotal.With("hit").Inc()
				return h, nil
			}
		}
	}
	telemetry.HandleCacheTotal.With("miss").Inc()

	snap, hist, err := c.opener(c.config)
	if err != nil {
		return nil, &FileAccessError{Path: config.Path, Err: err}
	}
	if err := snap.BeginRead(version.Zero); err != nil {
		snap.Close()
		return nil, &FileAccessError{Path: config.Path, Err: err}
	}

	h := &Handle{
		coord:    c,
		config:   c.config,
		snap:     snap,
		hist:     hist,
		threadID: currentThreadID(),
	}
	c.retain()
	c.cachedHandles = append(c.cachedHandles, &cachedHandle{
		handle:   h,
		threadID: h.threadID,
		cache:    config.Cache,
	})
	return h, nil
}

// UnregisterHandle removes the entry for h along with any entries whose
// handle has since closed.
func (c *Coordinator) UnregisterHandle(h *Handle) {
	c.handleMu.Lock()
	defer c.handleMu.Unlock()

	for i := 0; i < len(c.cachedHandles); i++ {
		cached := c.cachedHandles[i]
		if cached.upgrade() != nil && cached.handle != h {
			continue
		}
		last := len(c.cachedHandles) - 1
		c.cachedHandles[i] = c.cachedHandles[last]
		c.cachedHandles = c.cachedHandles[:last]
		i--
	}
}

// SendCommitNotifications publishes a local commit to every process sharing
// the file, this one included.
func (c *Coordinator) SendCommitNotifications() {
	c.handleMu.Lock()
	notifier := c.notifier
	c.handleMu.Unlock()
	if notifier != nil {
		notifier.NotifyOthers()
	}
}

// OnChange runs on the notifier goroutine whenever a commit lands: async
// queries re-run against the latest version, then every cached handle is
// told that changes are available.
func (c *Coordinator) OnChange() {
	telemetry.CommitsObserved.Inc()
	c.runAsyncQueries()

	c.handleMu.Lock()
	defer c.handleMu.Unlock()
	for _, cached := range c.cachedHandles {
		cached.notify()
	}
}

// RegisterQuery adds q to the pending list and pins the advancer snapshot
// to its version so handover objects stay importable. Callable from any
// goroutine.
func (c *Coordinator) RegisterQuery(q AsyncQuery) {
	c.queryMu.Lock()
	defer c.queryMu.Unlock()
	c.pinVersion(q.Version())
	c.newQueries = append(c.newQueries, q)
	telemetry.LiveQueries.Inc()
}

// pinVersion ensures the advancer snapshot holds a read at or before v.
// Requires queryMu.
func (c *Coordinator) pinVersion(v version.ID) {
	if c.asyncErr != nil {
		return
	}

	if c.advancerSnap == nil {
		snap, hist, err := c.opener(c.config)
		if err == nil {
			err = snap.BeginRead(v)
		}
		if err != nil {
			c.setAsyncError(err)
			if snap != nil {
				snap.Close()
			}
			return
		}
		c.advancerSnap, c.advancerHist = snap, hist
	} else if len(c.newQueries) == 0 {
		// First pending query; the idle advancer holds no read yet.
		if err := c.advancerSnap.BeginRead(v); err != nil {
			c.setAsyncError(err)
		}
	} else if version.Less(v, c.advancerSnap.Version()) {
		// Hold the read lock at the oldest version we need to hand over
		// from.
		c.advancerSnap.EndRead()
		if err := c.advancerSnap.BeginRead(v); err != nil {
			c.setAsyncError(err)
		}
	}
}

// setAsyncError latches the first asynchronous failure; it is never cleared
// for the lifetime of the coordinator. Requires queryMu.
func (c *Coordinator) setAsyncError(err error) {
	if c.asyncErr != nil {
		return
	}
	log.Error().Err(err).Str("path", c.path).Msg("Async query pipeline failed")
	c.asyncErr = err
	if c.advancerSnap != nil {
		c.advancerSnap.Close()
		c.advancerSnap, c.advancerHist = nil, nil
	}
}

// cleanUpDeadQueries sweeps queries whose consumers are gone, releasing
// helper read locks once their list empties. Requires queryMu.
func (c *Coordinator) cleanUpDeadQueries() {
	swapRemove := func(list []AsyncQuery) ([]AsyncQuery, bool) {
		removed := false
		for i := 0; i < len(list); i++ {
			if list[i].IsAlive() {
				continue
			}
			// Destroy the query now even if lingering refs to the
			// async query exist elsewhere.
			list[i].ReleaseQuery()
			last := len(list) - 1
			list[i] = list[last]
			list = list[:last]
			i--
			removed = true
			telemetry.DeadQueriesSwept.Inc()
			telemetry.LiveQueries.Dec()
		}
		return list, removed
	}

	var removed bool
	if c.queries, removed = swapRemove(c.queries); removed {
		// Don't hold read versions needlessly, but keep the snapshot
		// open: re-opening is the expensive part.
		if len(c.queries) == 0 && c.querySnap != nil {
			c.querySnap.EndRead()
		}
	}
	if c.newQueries, removed = swapRemove(c.newQueries); removed {
		if len(c.newQueries) == 0 && c.advancerSnap != nil {
			c.advancerSnap.EndRead()
		}
	}
}

func (c *Coordinator) runAsyncQueries() {
	c.queryMu.Lock()

	c.cleanUpDeadQueries()

	if len(c.queries) == 0 && len(c.newQueries) == 0 {
		c.queryMu.Unlock()
		return
	}

	if c.asyncErr == nil {
		c.openHelperSnapshot()
	}

	if c.asyncErr != nil {
		// Promote pending queries so consumers observe the error on
		// their next deliver.
		c.moveNewQueriesToMain()
		c.queryMu.Unlock()
		return
	}

	obs := translog.NewObserver()
	start := time.Now()
	c.advanceHelperToLatest(obs)
	telemetry.AdvanceSeconds.Observe(time.Since(start).Seconds())

	// Run the queries without the lock so callbacks and result recomputes
	// can't reenter us.
	queriesToRun := append([]AsyncQuery(nil), c.queries...)
	c.queryMu.Unlock()

	for _, q := range queriesToRun {
		q.Run(obs.Changes())
		telemetry.QueriesRun.Inc()
	}

	// Reacquire while updating the fields read from consumer threads.
	c.queryMu.Lock()
	for _, q := range queriesToRun {
		q.PrepareHandover()
	}
	c.cleanUpDeadQueries()
	c.queryMu.Unlock()
}

// openHelperSnapshot makes sure the query snapshot holds a read. Requires
// queryMu.
func (c *Coordinator) openHelperSnapshot() {
	if c.querySnap == nil {
		snap, hist, err := c.opener(c.config)
		if err == nil {
			err = snap.BeginRead(version.Zero)
		}
		if err != nil {
			c.setAsyncError(err)
			if snap != nil {
				snap.Close()
			}
			return
		}
		c.querySnap, c.queryHist = snap, hist
	} else if len(c.queries) == 0 {
		// The read was released when the last query died.
		if err := c.querySnap.BeginRead(version.Zero); err != nil {
			c.setAsyncError(err)
		}
	}
}

func (c *Coordinator) moveNewQueriesToMain() {
	c.queries = append(c.queries, c.newQueries...)
	c.newQueries = c.newQueries[:0]
}

// advanceHelperToLatest brings the query snapshot to the newest committed
// version, importing pending queries along the way so everything lands on
// the same version. Requires queryMu.
func (c *Coordinator) advanceHelperToLatest(obs *translog.Observer) {
	if len(c.newQueries) == 0 {
		if err := c.queryHist.AdvanceRead(c.querySnap, obs, version.Zero); err != nil {
			c.failAdvance(err)
		}
		return
	}

	// Sort pending queries by source version so one pass over the
	// transaction log pulls them all forward.
	sort.SliceStable(c.newQueries, func(i, j int) bool {
		return version.Less(c.newQueries[i].Version(), c.newQueries[j].Version())
	})

	for _, q := range c.newQueries {
		if err := c.advancerHist.AdvanceRead(c.advancerSnap, nil, q.Version()); err != nil {
			c.failAdvance(err)
			return
		}
		q.AttachTo(c.advancerSnap)
	}

	// Advance both snapshots to the newest version, observing on the
	// query side only.
	if err := c.advancerHist.AdvanceRead(c.advancerSnap, nil, version.Zero); err != nil {
		c.failAdvance(err)
		return
	}
	if err := c.queryHist.AdvanceRead(c.querySnap, obs, c.advancerSnap.Version()); err != nil {
		c.failAdvance(err)
		return
	}

	// Transfer the imported queries over to the query snapshot.
	for _, q := range c.newQueries {
		q.Detach()
		q.AttachTo(c.querySnap)
	}

	c.moveNewQueriesToMain()
	c.advancerSnap.EndRead()
}

// failAdvance latches an advancement failure. A schema mismatch here means
// another process broke the file's schema; the error reaches every consumer
// through deliver.
func (c *Coordinator) failAdvance(err error) {
	if errors.Is(err, translog.ErrSchemaMismatch) {
		telemetry.SchemaValidationFailures.Inc()
	}
	c.setAsyncError(err)
	c.moveNewQueriesToMain()
}

// AdvanceToReady advances h's snapshot to the oldest version targeted by a
// live query and delivers the staged results. With no targeted queries the
// snapshot moves to the latest committed version; if the targets are older
// than the handle's version the staged results are stale and nothing
// happens.
func (c *Coordinator) AdvanceToReady(h *Handle) error {
	var deliver []AsyncQuery

	err := func() error {
		c.queryMu.Lock()
		defer c.queryMu.Unlock()

		// The oldest targeted version among live queries. Staged versions
		// are usually all equal after a run, but a register racing a
		// deliver can leave the list mixed, so take the true minimum.
		var target version.ID
		for _, q := range c.queries {
			v := q.Version()
			if v.IsZero() {
				continue
			}
			if target.IsZero() || version.Less(v, target) {
				target = v
			}
		}

		// No targeted async queries; just advance to latest.
		if target.IsZero() {
			return h.advanceTo(version.Zero)
		}
		// Async results are out of date; ignore.
		if version.Less(target, h.snap.Version()) {
			return nil
		}

		if err := h.advanceTo(target); err != nil {
			return err
		}

		for _, q := range c.queries {
			if q.Deliver(h.snap, c.asyncErr) {
				deliver = append(deliver, q)
			}
		}
		return nil
	}()
	if err != nil {
		return err
	}

	for _, q := range deliver {
		q.CallCallbacks()
		telemetry.QueryHandovers.Inc()
	}
	return nil
}

// ProcessAvailableAsync delivers results that are ready at h's current
// version without advancing the snapshot.
func (c *Coordinator) ProcessAvailableAsync(h *Handle) {
	var deliver []AsyncQuery

	c.queryMu.Lock()
	for _, q := range c.queries {
		if q.Deliver(h.snap, c.asyncErr) {
			deliver = append(deliver, q)
		}
	}
	c.queryMu.Unlock()

	for _, q := range deliver {
		q.CallCallbacks()
		telemetry.QueryHandovers.Inc()
	}
}

// AsyncError returns the coordinator's sticky asynchronous error, if any.
func (c *Coordinator) AsyncError() error {
	c.queryMu.Lock()
	defer c.queryMu.Unlock()
	return c.asyncErr
}

// teardown releases every resource the coordinator owns. Runs when the last
// reference drops; no locks are held.
func (c *Coordinator) teardown() {
	if c.notifier != nil {
		c.notifier.Close()
		c.notifier = nil
	}
	if c.querySnap != nil {
		c.querySnap.Close()
		c.querySnap, c.queryHist = nil, nil
	}
	if c.advancerSnap != nil {
		c.advancerSnap.Close()
		c.advancerSnap, c.advancerHist = nil, nil
	}
	log.Debug().Str("path", c.path).Msg("Coordinator released")
}
