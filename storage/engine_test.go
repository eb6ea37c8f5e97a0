package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowdb/burrow/cfg"
	"github.com/burrowdb/burrow/translog"
	"github.com/burrowdb/burrow/version"
)

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

func TestFreshDatabaseReadsAtBaseVersion(t *testing.T) {
	snap, _, err := Open(memConfig("/t/fresh"))
	require.NoError(t, err)
	defer snap.Close()

	require.NoError(t, snap.BeginRead(version.Zero))
	assert.Equal(t, version.ID{Number: 1}, snap.Version())
	assert.True(t, snap.Attached())
}

func TestSnapshotsSharePathEngine(t *testing.T) {
	a, _, err := Open(memConfig("/t/shared"))
	require.NoError(t, err)
	defer a.Close()
	b, _, err := Open(memConfig("/t/shared"))
	require.NoError(t, err)
	defer b.Close()

	v, err := a.Commit(mutateRow(0, 0))
	require.NoError(t, err)
	assert.Equal(t, v, b.LatestVersion(), "second snapshot sees the commit")
}

func TestCommitAdvancesAttachedSnapshot(t *testing.T) {
	snap, _, err := Open(memConfig("/t/commit"))
	require.NoError(t, err)
	defer snap.Close()

	require.NoError(t, snap.BeginRead(version.Zero))
	v, err := snap.Commit(mutateRow(0, 1))
	require.NoError(t, err)
	assert.Equal(t, version.ID{Number: 2}, v)
	assert.Equal(t, v, snap.Version())
}

func TestBeginReadAtHistoricVersion(t *testing.T) {
	writer, _, err := Open(memConfig("/t/historic"))
	require.NoError(t, err)
	defer writer.Close()

	v1, err := writer.Commit(mutateRow(0, 0))
	require.NoError(t, err)
	_, err = writer.Commit(mutateRow(0, 1))
	require.NoError(t, err)

	reader, _, err := Open(memConfig("/t/historic"))
	require.NoError(t, err)
	defer reader.Close()

	require.NoError(t, reader.BeginRead(v1))
	assert.Equal(t, v1, reader.Version())

	assert.Error(t, reader.BeginRead(v1), "double begin rejected")
}

func TestBeginReadRejectsFutureVersion(t *testing.T) {
	snap, _, err := Open(memConfig("/t/future"))
	require.NoError(t, err)
	defer snap.Close()

	assert.Error(t, snap.BeginRead(version.ID{Number: 99}))
}

func TestAdvanceReadStreamsEvents(t *testing.T) {
	writer, _, err := Open(memConfig("/t/advance"))
	require.NoError(t, err)
	defer writer.Close()

	reader, hist, err := Open(memConfig("/t/advance"))
	require.NoError(t, err)
	defer reader.Close()
	require.NoError(t, reader.BeginRead(version.Zero))

	_, err = writer.Commit(mutateRow(0, 2))
	require.NoError(t, err)
	_, err = writer.Commit([]translog.Event{
		{Kind: translog.KindSelectTable, Table: 0},
		{Kind: translog.KindEraseRows, Row: 0, Count: 1, PriorSize: 3, Unordered: true},
	})
	require.NoError(t, err)

	obs := translog.NewObserver()
	require.NoError(t, AdvanceRead(reader, hist, obs, version.Zero))

	assert.Equal(t, reader.Version(), reader.LatestVersion())
	ch := obs.Changes()[0]
	assert.Equal(t, 1, ch.Deletions)
	assert.Equal(t, []int{2}, ch.Changed.AsSlice())
}

func TestAdvanceReadToExplicitTarget(t *testing.T) {
	writer, _, err := Open(memConfig("/t/target"))
	require.NoError(t, err)
	defer writer.Close()

	reader, hist, err := Open(memConfig("/t/target"))
	require.NoError(t, err)
	defer reader.Close()
	require.NoError(t, reader.BeginRead(version.Zero))

	v2, err := writer.Commit(mutateRow(0, 0))
	require.NoError(t, err)
	_, err = writer.Commit(mutateRow(0, 1))
	require.NoError(t, err)

	require.NoError(t, AdvanceRead(reader, hist, nil, v2))
	assert.Equal(t, v2, reader.Version(), "stops at the requested version")
}

func TestAdvanceReadStopsOnSchemaMismatch(t *testing.T) {
	writer, _, err := Open(memConfig("/t/schema"))
	require.NoError(t, err)
	defer writer.Close()

	reader, hist, err := Open(memConfig("/t/schema"))
	require.NoError(t, err)
	defer reader.Close()
	require.NoError(t, reader.BeginRead(version.Zero))

	before := reader.Version()
	_, err = writer.Commit([]translog.Event{{Kind: translog.KindEraseTable, Table: 0}})
	require.NoError(t, err)

	err = AdvanceRead(reader, hist, translog.NewObserver(), version.Zero)
	assert.ErrorIs(t, err, translog.ErrSchemaMismatch)
	assert.Equal(t, before, reader.Version(), "snapshot stays before the bad transaction")
}

func TestReadPinsAreTracked(t *testing.T) {
	snap, _, err := Open(memConfig("/t/pins"))
	require.NoError(t, err)
	defer snap.Close()

	require.NoError(t, snap.BeginRead(version.Zero))
	v := snap.Version()
	assert.True(t, snap.eng.Pinned(v))
	snap.EndRead()
	assert.False(t, snap.eng.Pinned(v))
}

func TestReadOnlySnapshotRejectsCommit(t *testing.T) {
	c := memConfig("/t/readonly")
	c.ReadOnly = true
	snap, _, err := Open(c)
	require.NoError(t, err)
	defer snap.Close()

	_, err = snap.Commit(mutateRow(0, 0))
	assert.Error(t, err)
}

func TestEngineClosesWithLastSnapshot(t *testing.T) {
	a, _, err := Open(memConfig("/t/refs"))
	require.NoError(t, err)
	b, _, err := Open(memConfig("/t/refs"))
	require.NoError(t, err)

	_, err = a.Commit(mutateRow(0, 0))
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())

	// A fresh open starts a new engine with an empty in-memory log.
	c, _, err := Open(memConfig("/t/refs"))
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, version.ID{Number: 1}, c.LatestVersion())
}

func TestPebbleBackedEngine(t *testing.T) {
	c := cfg.NewDatabaseConfig(t.TempDir())
	snap, _, err := Open(c)
	require.NoError(t, err)
	defer snap.Close()

	require.NoError(t, snap.BeginRead(version.Zero))
	_, err = snap.Commit(mutateRow(1, 0))
	require.NoError(t, err)

	reader, _, err := Open(c)
	require.NoError(t, err)
	defer reader.Close()
	require.NoError(t, reader.BeginRead(version.Zero))
	assert.Equal(t, version.ID{Number: 2}, reader.Version())
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, _, err := Open(cfg.DatabaseConfig{})
	assert.Error(t, err)
}
