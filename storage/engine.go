// Package storage is the reference multi-version storage engine behind the
// coordinator. It manages one engine per database path, assigns commit
// versions, and replays transaction logs into observers when snapshots
// advance. Row data itself lives with the consumers; the engine owns the
// version history.
package storage

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/burrowdb/burrow/cfg"
	"github.com/burrowdb/burrow/commitlog"
	"github.com/burrowdb/burrow/translog"
	"github.com/burrowdb/burrow/version"
)

// Engine owns the commit log of one database path. All snapshots of the same
// path share one engine so every reader observes the same version history.
type Engine struct {
	path string
	clog commitlog.Store

	// Serializes the version-assignment + append pair.
	commitMu sync.Mutex

	// Read pins per version; a pinned version's log suffix stays replayable.
	pins *xsync.MapOf[uint64, int]

	refs int
}

var (
	enginesMu sync.Mutex
	engines   = make(map[string]*Engine)
)

// The engine's base version. A fresh database is readable at this version
// with an empty log, keeping the zero ID free for the unversioned sentinel.
var baseVersion = version.ID{Number: 1}

// Open returns a snapshot and history cursor for the database at
// config.Path, creating the engine on first open. The snapshot starts
// detached; call BeginRead to pin a version.
func Open(config cfg.DatabaseConfig) (*Snapshot, *History, error) {
	if config.Path == "" {
		return nil, nil, fmt.Errorf("storage: empty database path")
	}

	enginesMu.Lock()
	defer enginesMu.Unlock()

	eng, ok := engines[config.Path]
	if !ok {
		clog, err := openLog(config)
		if err != nil {
			return nil, nil, err
		}
		eng = &Engine{
			path: config.Path,
			clog: clog,
			pins: xsync.NewMapOf[uint64, int](),
		}
		engines[config.Path] = eng
		log.Debug().Str("path", config.Path).Msg("Opened storage engine")
	}
	eng.refs++

	return &Snapshot{eng: eng, readOnly: config.ReadOnly}, &History{eng: eng}, nil
}

func openLog(config cfg.DatabaseConfig) (commitlog.Store, error) {
	if config.InMemory || cfg.Config.CommitLog.Backend == "memory" {
		return commitlog.NewMemoryStore(), nil
	}
	dir := config.Path
	if base := cfg.Config.CommitLog.Dir; base != "" {
		dir = filepath.Join(base, config.Path)
	}
	clog, err := commitlog.OpenPebbleStore(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return clog, nil
}

// LatestVersion returns the newest committed version.
func (e *Engine) LatestVersion() version.ID {
	if latest, ok := e.clog.Latest(); ok {
		return latest
	}
	return baseVersion
}

func (e *Engine) pin(v version.ID) {
	e.pins.Compute(v.Key(), func(old int, _ bool) (int, bool) {
		return old + 1, false
	})
}

func (e *Engine) unpin(v version.ID) {
	e.pins.Compute(v.Key(), func(old int, loaded bool) (int, bool) {
		if !loaded || old <= 1 {
			return 0, true
		}
		return old - 1, false
	})
}

// Pinned reports whether any snapshot currently pins v.
func (e *Engine) Pinned(v version.ID) bool {
	n, ok := e.pins.Load(v.Key())
	return ok && n > 0
}

func (e *Engine) commit(events []translog.Event) (version.ID, error) {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	next := e.LatestVersion().Next()
	if err := e.clog.Append(commitlog.Entry{Version: next, Events: events}); err != nil {
		return version.Zero, err
	}
	return next, nil
}

// release drops one snapshot reference, closing the engine when the last
// reference goes away.
func (e *Engine) release() {
	enginesMu.Lock()
	defer enginesMu.Unlock()

	e.refs--
	if e.refs > 0 {
		return
	}
	delete(engines, e.path)
	if err := e.clog.Close(); err != nil {
		log.Warn().Err(err).Str("path", e.path).Msg("Failed to close commit log")
	}
}
