// Package commitlog stores the per-version transaction logs that the
// coordinator replays when advancing snapshots. Each committed version maps
// to one Entry holding the primitive mutations of that transaction.
package commitlog

import (
	"fmt"

	"github.com/burrowdb/burrow/translog"
	"github.com/burrowdb/burrow/version"
)

// Entry is the transaction log of a single committed version.
type Entry struct {
	Version version.ID       `msgpack:"v"`
	Events  []translog.Event `msgpack:"e"`
}

// Store persists entries keyed by version. Implementations must keep entries
// retrievable for any version still pinned by an open snapshot.
type Store interface {
	// Append stores the entry for a newly committed version. Versions must
	// arrive in commit order.
	Append(e Entry) error

	// Latest returns the newest committed version, or false if the log is
	// empty.
	Latest() (version.ID, bool)

	// Range returns the entries with version > after and, unless upTo is
	// the unversioned sentinel, version <= upTo, in commit order.
	Range(after, upTo version.ID) ([]Entry, error)

	Close() error
}

// ErrCorruptEntry reports a checksum mismatch on a stored entry.
type ErrCorruptEntry struct {
	Version version.ID
}

func (e ErrCorruptEntry) Error() string {
	return fmt.Sprintf("commit log entry for version %s failed checksum verification", e.Version)
}

// ErrStaleAppend reports an append at or below the latest stored version.
type ErrStaleAppend struct {
	Version version.ID
	Latest  version.ID
}

func (e ErrStaleAppend) Error() string {
	return fmt.Sprintf("commit log append of version %s is not after latest %s", e.Version, e.Latest)
}
