package coordinator

import (
	"github.com/burrowdb/burrow/changeset"
	"github.com/burrowdb/burrow/version"
)

// AsyncQuery is a live query jointly owned by the coordinator and a
// consumer. The coordinator runs it on the notifier goroutine against the
// shared query snapshot and stages results for handover; the consumer
// adopts them via a handle on its own goroutine.
type AsyncQuery interface {
	// Version returns the snapshot version the query was registered at, or
	// the unversioned sentinel once a result has been handed over.
	Version() version.ID

	// IsAlive reports whether any consumer still wants results. Dead
	// queries are swept on the next run.
	IsAlive() bool

	// Run recomputes the result set against the snapshot the query is
	// attached to, using the observed per-table changes.
	Run(changes []changeset.ChangeInfo)

	// PrepareHandover stages the computed result for adoption by a
	// consumer thread. Called with the coordinator's query lock held.
	PrepareHandover()

	// Deliver imports the staged result into the consumer's snapshot.
	// err carries the coordinator's sticky async error, if any. Returns
	// true when callbacks should fire.
	Deliver(snap Snapshot, err error) bool

	// AttachTo binds the query to a helper snapshot.
	AttachTo(snap Snapshot)

	// Detach unbinds the query from its current snapshot.
	Detach()

	// ReleaseQuery drops the underlying query object. Called during dead
	// query cleanup so lingering references elsewhere cannot keep storage
	// resources alive.
	ReleaseQuery()

	// CallCallbacks invokes consumer callbacks. Called without any
	// coordinator lock held.
	CallCallbacks()
}
