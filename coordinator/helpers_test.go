package coordinator

import (
	"errors"
	"sync"

	"github.com/burrowdb/burrow/cfg"
	"github.com/burrowdb/burrow/changeset"
	"github.com/burrowdb/burrow/notify"
	"github.com/burrowdb/burrow/translog"
	"github.com/burrowdb/burrow/version"
)

// noopNotifier keeps tests deterministic: commits don't fan out, tests call
// OnChange themselves.
type noopNotifier struct{}

func (noopNotifier) NotifyOthers() {}
func (noopNotifier) Close() error  { return nil }

func useNoopNotifier(c *Coordinator) {
	c.newNotifier = func(string, func()) (notify.Notifier, error) {
		return noopNotifier{}, nil
	}
}

func memConfig(path string) cfg.DatabaseConfig {
	c := cfg.NewDatabaseConfig(path)
	c.InMemory = true
	return c
}

func mutateRow(table, row int) []translog.Event {
	return []translog.Event{
		{Kind: translog.KindSelectTable, Table: table},
		{Kind: translog.KindSetInt, Col: 0, Row: row},
	}
}

// failingOpener fails every open after the first n successes.
func failingOpener(after int) Opener {
	var mu sync.Mutex
	opened := 0
	return func(config cfg.DatabaseConfig) (Snapshot, History, error) {
		mu.Lock()
		defer mu.Unlock()
		if opened >= after {
			return nil, nil, errors.New("injected open failure")
		}
		opened++
		return OpenStorage(config)
	}
}

// fakeQuery implements AsyncQuery with just enough bookkeeping to observe
// the runner pipeline.
type fakeQuery struct {
	mu sync.Mutex

	version         version.ID
	alive           bool
	released        bool
	attached        Snapshot
	runs            int
	lastChanges     []changeset.ChangeInfo
	handoverVersion version.ID
	prepared        bool
	deliveredErr    error
	deliveries      int
	callbacks       int
}

func newFakeQuery(v version.ID) *fakeQuery {
	return &fakeQuery{version: v, alive: true}
}

func (q *fakeQuery) Version() version.ID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.version
}

func (q *fakeQuery) IsAlive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.alive
}

func (q *fakeQuery) kill() {
	q.mu.Lock()
	q.alive = false
	q.mu.Unlock()
}

func (q *fakeQuery) Run(changes []changeset.ChangeInfo) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.runs++
	q.lastChanges = changes
}

func (q *fakeQuery) PrepareHandover() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.attached == nil {
		return
	}
	q.handoverVersion = q.attached.Version()
	q.version = q.handoverVersion
	q.prepared = true
}

func (q *fakeQuery) Deliver(snap Snapshot, err error) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err != nil {
		q.deliveredErr = err
		q.version = version.Zero
		q.deliveries++
		return true
	}
	if !q.prepared || version.Less(snap.Version(), q.handoverVersion) {
		return false
	}
	q.prepared = false
	q.version = version.Zero
	q.deliveries++
	return true
}

func (q *fakeQuery) AttachTo(snap Snapshot) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.attached = snap
}

func (q *fakeQuery) Detach() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.attached = nil
}

func (q *fakeQuery) ReleaseQuery() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.released = true
}

func (q *fakeQuery) CallCallbacks() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.callbacks++
}

func (q *fakeQuery) snapshot() fakeQuery {
	q.mu.Lock()
	defer q.mu.Unlock()
	return fakeQuery{
		version:         q.version,
		alive:           q.alive,
		released:        q.released,
		runs:            q.runs,
		lastChanges:     q.lastChanges,
		handoverVersion: q.handoverVersion,
		prepared:        q.prepared,
		deliveredErr:    q.deliveredErr,
		deliveries:      q.deliveries,
		callbacks:       q.callbacks,
	}
}
