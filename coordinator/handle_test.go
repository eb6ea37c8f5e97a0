package coordinator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowdb/burrow/cfg"
	"github.com/burrowdb/burrow/changeset"
	"github.com/burrowdb/burrow/notify"
	"github.com/burrowdb/burrow/version"
)

func openCoordinator(t *testing.T) (*Coordinator, cfg.DatabaseConfig) {
	t.Helper()
	path := "/t/" + t.Name()
	c := GetCoordinator(path)
	useNoopNotifier(c)
	t.Cleanup(c.Release)
	return c, memConfig(path)
}

func TestGetHandleCachedPerGoroutine(t *testing.T) {
	c, config := openCoordinator(t)

	a, err := c.GetHandle(config)
	require.NoError(t, err)
	defer a.Close()

	b, err := c.GetHandle(config)
	require.NoError(t, err)
	assert.Same(t, a, b, "same goroutine reuses the cached handle")

	done := make(chan *Handle)
	go func() {
		h, err := c.GetHandle(config)
		require.NoError(t, err)
		done <- h
	}()
	other := <-done
	defer other.Close()
	assert.NotSame(t, a, other, "different goroutine gets its own handle")
}

func TestGetHandleUncachedConfig(t *testing.T) {
	c, config := openCoordinator(t)
	config.Cache = false

	a, err := c.GetHandle(config)
	require.NoError(t, err)
	defer a.Close()

	b, err := c.GetHandle(config)
	require.NoError(t, err)
	defer b.Close()
	assert.NotSame(t, a, b)

	// An uncached open never becomes a cache hit for a later cached open.
	cached := config
	cached.Cache = true
	d, err := c.GetHandle(cached)
	require.NoError(t, err)
	defer d.Close()
	assert.NotSame(t, a, d)
	assert.NotSame(t, b, d)
}

func TestGetHandleClosedHandleIsNotReused(t *testing.T) {
	c, config := openCoordinator(t)

	a, err := c.GetHandle(config)
	require.NoError(t, err)
	a.Close()

	b, err := c.GetHandle(config)
	require.NoError(t, err)
	defer b.Close()
	assert.NotSame(t, a, b)
}

func TestGetHandleConfigMismatch(t *testing.T) {
	c, config := openCoordinator(t)
	config.ReadOnly = false

	h, err := c.GetHandle(config)
	require.NoError(t, err)
	defer h.Close()

	var mismatch *MismatchedConfigError

	ro := config
	ro.ReadOnly = true
	_, err = c.GetHandle(ro)
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "read permission", mismatch.Field)

	mem := config
	mem.InMemory = false
	_, err = c.GetHandle(mem)
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "inMemory setting", mismatch.Field)

	enc := config
	enc.EncryptionKey = []byte("0123456789abcdef")
	_, err = c.GetHandle(enc)
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "encryption key", mismatch.Field)

	ver := config
	ver.SchemaVersion = 7
	_, err = c.GetHandle(ver)
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "schema version", mismatch.Field)

	// NotVersioned matches anything already captured.
	unversioned := config
	unversioned.SchemaVersion = cfg.NotVersioned
	h2, err := c.GetHandle(unversioned)
	require.NoError(t, err)
	assert.Same(t, h, h2)
}

func TestGetHandleNotifierFailure(t *testing.T) {
	path := "/t/" + t.Name()
	c := GetCoordinator(path)
	defer c.Release()
	c.newNotifier = func(string, func()) (notify.Notifier, error) {
		return nil, errors.New("pipe creation failed")
	}

	_, err := c.GetHandle(memConfig(path))
	var access *FileAccessError
	require.ErrorAs(t, err, &access)
	assert.Equal(t, path, access.Path)
}

func TestGetHandleOpenFailure(t *testing.T) {
	path := "/t/" + t.Name()
	c := GetCoordinator(path)
	defer c.Release()
	useNoopNotifier(c)
	c.opener = failingOpener(0)

	_, err := c.GetHandle(memConfig(path))
	var access *FileAccessError
	assert.ErrorAs(t, err, &access)
}

func TestUnregisterHandlePrunesExpiredEntries(t *testing.T) {
	c, config := openCoordinator(t)
	config.Cache = false

	a, err := c.GetHandle(config)
	require.NoError(t, err)
	b, err := c.GetHandle(config)
	require.NoError(t, err)

	a.Close()
	b.Close()

	c.handleMu.Lock()
	defer c.handleMu.Unlock()
	assert.Empty(t, c.cachedHandles)
}

func TestHandleCommitAdvancesVersion(t *testing.T) {
	c, config := openCoordinator(t)

	h, err := c.GetHandle(config)
	require.NoError(t, err)
	defer h.Close()

	before := h.Version()
	v, err := h.Commit(mutateRow(0, 0))
	require.NoError(t, err)
	assert.True(t, version.After(v, before))
	assert.Equal(t, v, h.Version(), "committing snapshot moves with its commit")
}

type recordingBinding struct {
	available int
	before    int
	after     int
	changes   []changeset.ChangeInfo
}

func (b *recordingBinding) ChangesAvailable()                   { b.available++ }
func (b *recordingBinding) BeforeNotify()                       { b.before++ }
func (b *recordingBinding) DidChange(ch []changeset.ChangeInfo) { b.changes = ch }
func (b *recordingBinding) AfterNotify()                        { b.after++ }

func TestAdvanceToReadyFeedsBindingContext(t *testing.T) {
	c, config := openCoordinator(t)

	writer, err := c.GetHandle(config)
	require.NoError(t, err)
	defer writer.Close()

	done := make(chan *Handle)
	go func() {
		h, err := c.GetHandle(config)
		require.NoError(t, err)
		done <- h
	}()
	reader := <-done
	defer reader.Close()

	binding := &recordingBinding{}
	reader.SetBindingContext(binding)

	_, err = writer.Commit(mutateRow(0, 2))
	require.NoError(t, err)

	require.NoError(t, reader.AdvanceToReady())
	assert.Equal(t, writer.Version(), reader.Version())
	assert.Equal(t, 1, binding.before)
	assert.Equal(t, 1, binding.after)
	require.NotEmpty(t, binding.changes)
	assert.Equal(t, []int{2}, binding.changes[0].Changed.AsSlice())
}
