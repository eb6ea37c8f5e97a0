package commitlog

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/burrowdb/burrow/version"
)

// MemoryStore keeps the commit log in process memory. Used for in-memory
// databases and tests.
type MemoryStore struct {
	entries *xsync.MapOf[uint64, *Entry]

	// Guards the ordered version list; entry payloads go through the
	// lock-free map.
	mu       sync.RWMutex
	versions []version.ID
}

// NewMemoryStore creates an empty in-memory commit log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: xsync.NewMapOf[uint64, *Entry](),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Append(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.versions); n > 0 && !version.Less(s.versions[n-1], e.Version) {
		return ErrStaleAppend{Version: e.Version, Latest: s.versions[n-1]}
	}
	entry := e
	s.entries.Store(e.Version.Key(), &entry)
	s.versions = append(s.versions, e.Version)
	return nil
}

func (s *MemoryStore) Latest() (version.ID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.versions) == 0 {
		return version.Zero, false
	}
	return s.versions[len(s.versions)-1], true
}

func (s *MemoryStore) Range(after, upTo version.ID) ([]Entry, error) {
	s.mu.RLock()
	versions := make([]version.ID, len(s.versions))
	copy(versions, s.versions)
	s.mu.RUnlock()

	var out []Entry
	for _, v := range versions {
		if !version.After(v, after) {
			continue
		}
		if !upTo.IsZero() && version.After(v, upTo) {
			break
		}
		if e, ok := s.entries.Load(v.Key()); ok {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
