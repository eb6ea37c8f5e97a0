package storage

import (
	"fmt"

	"github.com/burrowdb/burrow/telemetry"
	"github.com/burrowdb/burrow/translog"
	"github.com/burrowdb/burrow/version"
)

// Snapshot is a read transaction pinned to one committed version. A snapshot
// belongs to a single goroutine at a time; the engine underneath is shared
// and thread-safe.
type Snapshot struct {
	eng      *Engine
	ver      version.ID
	attached bool
	readOnly bool
	closed   bool
}

// BeginRead pins the snapshot to v, or to the latest committed version when
// v is the unversioned sentinel.
func (s *Snapshot) BeginRead(v version.ID) error {
	if s.closed {
		return fmt.Errorf("storage: begin read on closed snapshot")
	}
	if s.attached {
		return fmt.Errorf("storage: begin read on snapshot already reading at %s", s.ver)
	}
	if v.IsZero() {
		v = s.eng.LatestVersion()
	} else if version.After(v, s.eng.LatestVersion()) {
		return fmt.Errorf("storage: version %s has not been committed", v)
	}
	s.eng.pin(v)
	s.ver = v
	s.attached = true
	return nil
}

// EndRead releases the read pin. The snapshot stays open and can begin a new
// read later.
func (s *Snapshot) EndRead() {
	if !s.attached {
		return
	}
	s.eng.unpin(s.ver)
	s.attached = false
}

// Attached reports whether a read transaction is active.
func (s *Snapshot) Attached() bool {
	return s.attached
}

// Version returns the version of the current read transaction.
func (s *Snapshot) Version() version.ID {
	return s.ver
}

// LatestVersion returns the newest committed version of the underlying
// database.
func (s *Snapshot) LatestVersion() version.ID {
	return s.eng.LatestVersion()
}

// Commit appends a write transaction, advancing the database to a new
// version. If the snapshot holds a read pin it is moved to the new version.
func (s *Snapshot) Commit(events []translog.Event) (version.ID, error) {
	if s.closed {
		return version.Zero, fmt.Errorf("storage: commit on closed snapshot")
	}
	if s.readOnly {
		return version.Zero, fmt.Errorf("storage: commit on read-only snapshot")
	}
	v, err := s.eng.commit(events)
	if err != nil {
		return version.Zero, err
	}
	if s.attached {
		s.eng.pin(v)
		s.eng.unpin(s.ver)
		s.ver = v
	}
	return v, nil
}

// Close releases the snapshot's engine reference. The snapshot is unusable
// afterwards.
func (s *Snapshot) Close() error {
	if s.closed {
		return nil
	}
	s.EndRead()
	s.closed = true
	s.eng.release()
	return nil
}

// History is the replay cursor paired with a snapshot at open time.
type History struct {
	eng *Engine
}

// AdvanceRead moves snap forward to target (the unversioned sentinel means
// latest), streaming each intervening transaction's events into handler.
// A nil handler advances silently. On a handler error the snapshot is left
// pinned at the last fully applied version.
func AdvanceRead(snap *Snapshot, hist *History, handler translog.Handler, target version.ID) error {
	if !snap.attached {
		return fmt.Errorf("storage: advance on detached snapshot")
	}
	if snap.eng != hist.eng {
		return fmt.Errorf("storage: snapshot and history belong to different engines")
	}
	if target.IsZero() {
		target = snap.eng.LatestVersion()
	}
	if !version.After(target, snap.ver) {
		return nil
	}

	entries, err := snap.eng.clog.Range(snap.ver, target)
	if err != nil {
		return err
	}

	repin := func(v version.ID) {
		snap.eng.pin(v)
		snap.eng.unpin(snap.ver)
		snap.ver = v
	}

	for _, entry := range entries {
		if handler != nil {
			for _, ev := range entry.Events {
				if err := handler.HandleEvent(ev); err != nil {
					return err
				}
			}
			if err := handler.ParseComplete(); err != nil {
				return err
			}
			telemetry.LogEventsApplied.Add(float64(len(entry.Events)))
		}
		repin(entry.Version)
	}

	// Versions with no log entry (the base version, pruned gaps) still
	// count as reached.
	if version.Less(snap.ver, target) {
		repin(target)
	}
	return nil
}
