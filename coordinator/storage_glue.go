package coordinator

import (
	"github.com/burrowdb/burrow/cfg"
	"github.com/burrowdb/burrow/changeset"
	"github.com/burrowdb/burrow/storage"
	"github.com/burrowdb/burrow/translog"
	"github.com/burrowdb/burrow/version"
)

// Snapshot is the coordinator's view of a storage read transaction.
type Snapshot interface {
	// BeginRead pins the snapshot to v; the unversioned sentinel pins to
	// the latest committed version.
	BeginRead(v version.ID) error
	EndRead()
	Attached() bool
	Version() version.ID
	LatestVersion() version.ID

	// Commit appends a write transaction and returns its version.
	Commit(events []translog.Event) (version.ID, error)

	Close() error
}

// History is the replay cursor paired with a snapshot at open time.
type History interface {
	// AdvanceRead moves snap forward to target (the unversioned sentinel
	// means latest), streaming intervening log events into handler. A nil
	// handler advances silently.
	AdvanceRead(snap Snapshot, handler translog.Handler, target version.ID) error
}

// Opener opens a snapshot and history cursor for a database config. The
// coordinator uses one opener for handles and both helper snapshots.
type Opener func(config cfg.DatabaseConfig) (Snapshot, History, error)

// BindingContext receives change notifications on the consumer goroutine
// while its handle's snapshot advances.
type BindingContext interface {
	// ChangesAvailable is called from the notifier goroutine when new
	// versions exist; consumers typically schedule an AdvanceToReady.
	ChangesAvailable()

	// BeforeNotify runs before the handle's snapshot moves.
	BeforeNotify()

	// DidChange reports the per-table changes the advance observed.
	DidChange(changes []changeset.ChangeInfo)

	// AfterNotify runs after the snapshot has reached its target version.
	AfterNotify()
}

type storageSnapshot struct {
	*storage.Snapshot
}

type storageHistory struct {
	hist *storage.History
}

func (h storageHistory) AdvanceRead(snap Snapshot, handler translog.Handler, target version.ID) error {
	return storage.AdvanceRead(snap.(storageSnapshot).Snapshot, h.hist, handler, target)
}

// OpenStorage is the default Opener, backed by the storage package.
func OpenStorage(config cfg.DatabaseConfig) (Snapshot, History, error) {
	snap, hist, err := storage.Open(config)
	if err != nil {
		return nil, nil, err
	}
	return storageSnapshot{snap}, storageHistory{hist}, nil
}
