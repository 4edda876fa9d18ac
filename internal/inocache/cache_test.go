package inocache

import (
	"errors"
	"testing"

	"github.com/aln0/rocksfuse/internal/codec"
	"github.com/aln0/rocksfuse/internal/inode"
	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/require"
)

func loader() Loader {
	return func() (*inode.Buffer, error) {
		return inode.New(timeutil.RealClock()), nil
	}
}

func TestAdmitInsertsWithRefCountOne(t *testing.T) {
	c := New()
	e, err := c.Admit(2, codec.Reg, "", loader())
	require.NoError(t, err)
	require.Equal(t, uint64(2), e.Ino)
	require.Equal(t, uint32(1), e.RefCnt)

	got, ok := c.Lookup(2)
	require.True(t, ok)
	require.Same(t, e, got)
}

func TestAdmitTwiceIncrementsRefCount(t *testing.T) {
	c := New()
	_, err := c.Admit(2, codec.Reg, "", loader())
	require.NoError(t, err)
	e2, err := c.Admit(2, codec.Reg, "", loader())
	require.NoError(t, err)
	require.Equal(t, uint32(2), e2.RefCnt)
}

func TestAdmitDirectoryPublishesPath(t *testing.T) {
	c := New()
	_, err := c.Admit(2, codec.Dir, "/a", loader())
	require.NoError(t, err)

	e, ok := c.LookupPath("/a")
	require.True(t, ok)
	require.Equal(t, uint64(2), e.Ino)
}

func TestAdmitFileDoesNotPublishPath(t *testing.T) {
	c := New()
	_, err := c.Admit(2, codec.Reg, "", loader())
	require.NoError(t, err)
	_, ok := c.LookupPath("")
	require.False(t, ok)
}

func TestReleaseDecrementsAndEvictsAtZero(t *testing.T) {
	c := New()
	_, err := c.Admit(2, codec.Reg, "", loader())
	require.NoError(t, err)
	_, err = c.Admit(2, codec.Reg, "", loader())
	require.NoError(t, err)

	e, evicted := c.Release(2)
	require.False(t, evicted)
	require.Equal(t, uint32(1), e.RefCnt)

	_, stillThere := c.Lookup(2)
	require.True(t, stillThere)

	e, evicted = c.Release(2)
	require.True(t, evicted)
	require.Equal(t, uint32(0), e.RefCnt)

	_, ok := c.Lookup(2)
	require.False(t, ok)
}

func TestReleaseEvictsFromPathMapToo(t *testing.T) {
	c := New()
	_, err := c.Admit(2, codec.Dir, "/a", loader())
	require.NoError(t, err)

	_, evicted := c.Release(2)
	require.True(t, evicted)

	_, ok := c.LookupPath("/a")
	require.False(t, ok)
}

func TestReleaseUnknownInoIsNoop(t *testing.T) {
	c := New()
	e, evicted := c.Release(99)
	require.Nil(t, e)
	require.False(t, evicted)
}

func TestUpdatePathMovesDirectoryEntry(t *testing.T) {
	c := New()
	_, err := c.Admit(2, codec.Dir, "/a", loader())
	require.NoError(t, err)

	c.UpdatePath(2, "/b")

	_, ok := c.LookupPath("/a")
	require.False(t, ok)
	e, ok := c.LookupPath("/b")
	require.True(t, ok)
	require.Equal(t, uint64(2), e.Ino)
}

func TestUpdatePathIgnoresNonDirectory(t *testing.T) {
	c := New()
	_, err := c.Admit(2, codec.Reg, "", loader())
	require.NoError(t, err)

	c.UpdatePath(2, "/shouldnt-apply")
	_, ok := c.LookupPath("/shouldnt-apply")
	require.False(t, ok)
}

func TestInvalidatePathDropsStaleEntryOnly(t *testing.T) {
	c := New()
	_, err := c.Admit(2, codec.Dir, "/a", loader())
	require.NoError(t, err)

	c.InvalidatePath("/a")
	_, ok := c.LookupPath("/a")
	require.False(t, ok)

	_, stillCached := c.Lookup(2)
	require.True(t, stillCached)
}

func TestForgetDropsEntryUnconditionally(t *testing.T) {
	c := New()
	_, err := c.Admit(2, codec.Dir, "/a", loader())
	require.NoError(t, err)
	_, err = c.Admit(2, codec.Dir, "/a", loader())
	require.NoError(t, err)

	c.Forget(2)

	_, ok := c.Lookup(2)
	require.False(t, ok)
	_, ok = c.LookupPath("/a")
	require.False(t, ok)
}

func TestForgetUnknownInoIsNoop(t *testing.T) {
	c := New()
	c.Forget(42)
}

func TestSnapshotReturnsAllEntries(t *testing.T) {
	c := New()
	_, err := c.Admit(2, codec.Dir, "/a", loader())
	require.NoError(t, err)
	_, err = c.Admit(3, codec.Reg, "", loader())
	require.NoError(t, err)

	snap := c.Snapshot()
	require.Len(t, snap, 2)
}

func TestAdmitLoaderErrorIsPropagated(t *testing.T) {
	c := New()
	boom := errorLoader{}
	_, err := c.Admit(2, codec.Reg, "", boom.load)
	require.Error(t, err)
	_, ok := c.Lookup(2)
	require.False(t, ok)
}

type errorLoader struct{}

func (errorLoader) load() (*inode.Buffer, error) {
	return nil, errors.New("inocache_test: load failed")
}
