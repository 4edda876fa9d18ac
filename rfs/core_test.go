package rfs

import (
	"path/filepath"
	"testing"

	"github.com/aln0/rocksfuse/internal/codec"
	"github.com/aln0/rocksfuse/internal/errno"
	"github.com/jacobsa/timeutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db")
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	c, err := Connect(dir, timeutil.RealClock(), log)
	require.NoError(t, err)
	require.NoError(t, c.Mount())
	t.Cleanup(func() { require.NoError(t, c.Close()) })
	return c
}

func TestMountCreatesRoot(t *testing.T) {
	c := newTestCore(t)
	a, rc := c.Getattr("/")
	require.Equal(t, errno.OK, rc)
	require.Equal(t, codec.RootIno, a.Ino)
	require.Equal(t, codec.Dir, a.FType)
}

func TestMknodThenGetattr(t *testing.T) {
	c := newTestCore(t)
	ino, rc := c.Mkdir("/a")
	require.Equal(t, errno.OK, rc)
	require.NotZero(t, ino)

	a, rc := c.Getattr("/a")
	require.Equal(t, errno.OK, rc)
	require.Equal(t, ino, a.Ino)
	require.Equal(t, codec.Dir, a.FType)
}

func TestMknodExistingNameFails(t *testing.T) {
	c := newTestCore(t)
	_, rc := c.Mkdir("/a")
	require.Equal(t, errno.OK, rc)
	_, rc = c.Mkdir("/a")
	require.Equal(t, errno.EEXIST, rc)
}

func TestMknodMissingParentFails(t *testing.T) {
	c := newTestCore(t)
	_, rc := c.Mkdir("/missing/a")
	require.Equal(t, errno.ENOENT, rc)
}

func TestUnlinkRemovesEntry(t *testing.T) {
	c := newTestCore(t)
	_, rc := c.Mkdir("/a")
	require.Equal(t, errno.OK, rc)

	rc = c.Unlink("/a")
	require.Equal(t, errno.OK, rc)

	_, rc = c.Getattr("/a")
	require.Equal(t, errno.ENOENT, rc)
}

func TestRmdirRejectsRegularFile(t *testing.T) {
	c := newTestCore(t)
	_, rc := c.Create("/f", false)
	require.Equal(t, errno.OK, rc)

	rc = c.Rmdir("/f")
	require.Equal(t, errno.ENOTDIR, rc)
}

// Scenario (a) from spec.md §8.
func TestFullLifecycleScenarioA(t *testing.T) {
	c := newTestCore(t)
	_, rc := c.Mkdir("/a")
	require.Equal(t, errno.OK, rc)
	_, rc = c.Mkdir("/a/b")
	require.Equal(t, errno.OK, rc)

	fh, rc := c.Create("/a/b/f", false)
	require.Equal(t, errno.OK, rc)

	n, rc := c.Write(fh, []byte("hello"), 0)
	require.Equal(t, errno.OK, rc)
	require.Equal(t, 5, n)

	out := make([]byte, 5)
	n, rc = c.Read(fh, out, 0)
	require.Equal(t, errno.OK, rc)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(out))

	require.Equal(t, errno.OK, c.Release(fh))
}

// Scenarios (b) and (c) from spec.md §8.
func TestRenameScenariosBAndC(t *testing.T) {
	c := newTestCore(t)
	_, rc := c.Mkdir("/a")
	require.Equal(t, errno.OK, rc)
	_, rc = c.Mkdir("/a/b")
	require.Equal(t, errno.OK, rc)
	fh, rc := c.Create("/a/b/f", false)
	require.Equal(t, errno.OK, rc)
	_, rc = c.Write(fh, []byte("hello"), 0)
	require.Equal(t, errno.OK, rc)
	require.Equal(t, errno.OK, c.Release(fh))

	// (b)
	rc = c.Rename("/a/b/f", "/a/b/g")
	require.Equal(t, errno.OK, rc)
	_, rc = c.Getattr("/a/b/f")
	require.Equal(t, errno.ENOENT, rc)
	a, rc := c.Getattr("/a/b/g")
	require.Equal(t, errno.OK, rc)
	require.EqualValues(t, 5, a.Size)

	// (c)
	_, rc = c.Mkdir("/a/c")
	require.Equal(t, errno.OK, rc)
	rc = c.Rename("/a/b/g", "/a/c/g")
	require.Equal(t, errno.OK, rc)
	_, rc = c.Getattr("/a/b/g")
	require.Equal(t, errno.ENOENT, rc)

	fh2, rc := c.Open("/a/c/g", false)
	require.Equal(t, errno.OK, rc)
	out := make([]byte, 5)
	n, rc := c.Read(fh2, out, 0)
	require.Equal(t, errno.OK, rc)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(out))
	require.Equal(t, errno.OK, c.Release(fh2))
}

// Scenario (d): write beyond MaxFileSize returns EFBIG.
func TestWriteBeyondMaxFileSizeFails(t *testing.T) {
	c := newTestCore(t)
	fh, rc := c.Create("/big", false)
	require.Equal(t, errno.OK, rc)

	buf := make([]byte, 5000)
	n, rc := c.Write(fh, buf, 0)
	require.Equal(t, errno.EFBIG, rc)
	require.Equal(t, 0, n)
}

// Scenario (e): unlink removes the inode key from the store.
func TestUnlinkDeletesInodeKey(t *testing.T) {
	c := newTestCore(t)
	ino, rc := c.Mknod("/x", codec.Reg)
	require.Equal(t, errno.OK, rc)

	rc = c.Unlink("/x")
	require.Equal(t, errno.OK, rc)

	_, rc = c.Getattr("/x")
	require.Equal(t, errno.ENOENT, rc)

	_, found, err := c.resolve("/")
	require.NoError(t, err)
	require.True(t, found)
	_, ok, err := c.store.Get(inoKey(ino))
	require.NoError(t, err)
	require.False(t, ok)
}

// Scenario (f): rmdir removes a whole subtree recursively.
func TestRmdirRecursiveScenarioF(t *testing.T) {
	c := newTestCore(t)
	_, rc := c.Mkdir("/a")
	require.Equal(t, errno.OK, rc)
	_, rc = c.Mkdir("/a/c")
	require.Equal(t, errno.OK, rc)
	_, rc = c.Create("/a/c/g", false)
	require.Equal(t, errno.OK, rc)

	rc = c.Rmdir("/a")
	require.Equal(t, errno.OK, rc)

	_, rc = c.Getattr("/a/c/g")
	require.Equal(t, errno.ENOENT, rc)
	_, rc = c.Getattr("/a")
	require.Equal(t, errno.ENOENT, rc)
}

func TestTruncateIdempotence(t *testing.T) {
	c := newTestCore(t)
	fh, rc := c.Create("/f", false)
	require.Equal(t, errno.OK, rc)
	_, rc = c.Write(fh, []byte("hello world"), 0)
	require.Equal(t, errno.OK, rc)

	require.Equal(t, errno.OK, c.Truncate(fh, 5))
	require.Equal(t, errno.OK, c.Truncate(fh, 5))

	a, rc := c.Getattr("/f")
	require.Equal(t, errno.OK, rc)
	require.EqualValues(t, 5, a.Size)

	require.Equal(t, errno.OK, c.Truncate(fh, 0))
	a, rc = c.Getattr("/f")
	require.Equal(t, errno.OK, rc)
	require.EqualValues(t, 0, a.Size)
}

func TestReaddirDeliversEachNameOnce(t *testing.T) {
	c := newTestCore(t)
	_, rc := c.Mkdir("/d")
	require.Equal(t, errno.OK, rc)
	names := []string{"one", "two", "three"}
	for _, n := range names {
		_, rc := c.Create("/d/"+n, false)
		require.Equal(t, errno.OK, rc)
	}

	fh, rc := c.Opendir("/d")
	require.Equal(t, errno.OK, rc)

	var seen []string
	rc = c.Readdir(fh, 0, func(e DirEntry) bool {
		seen = append(seen, e.Name)
		return false
	})
	require.Equal(t, errno.OK, rc)
	require.ElementsMatch(t, names, seen)
	require.Equal(t, errno.OK, c.Releasedir(fh))
}

func TestDirectWritePersistsImmediately(t *testing.T) {
	c := newTestCore(t)
	fh, rc := c.Create("/f", true)
	require.Equal(t, errno.OK, rc)

	_, rc = c.Write(fh, []byte("abc"), 0)
	require.Equal(t, errno.OK, rc)
	require.Equal(t, errno.OK, c.Release(fh))

	data, ok, err := c.store.Get(inoKey(fh))
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, data)

	a, rc := c.Getattr("/f")
	require.Equal(t, errno.OK, rc)
	require.EqualValues(t, 3, a.Size)
}

func TestSetTimesIsANoOp(t *testing.T) {
	c := newTestCore(t)
	_, rc := c.Create("/f", false)
	require.Equal(t, errno.OK, rc)
	require.Equal(t, errno.OK, c.SetTimes("/f"))
	require.Equal(t, errno.ENOENT, c.SetTimes("/missing"))
}
