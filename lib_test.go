package cfbstore

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.Logger = zaptest.NewLogger(t)
	return cfg
}

func newMemFile(t *testing.T, cfg Config) (*CompoundFile, *MemBacking) {
	backing := NewMemBacking(nil)
	comp, err := CreateBacking(backing, cfg)
	require.NoError(t, err)
	return comp, backing
}

func reopen(t *testing.T, backing *MemBacking, mode UpdateMode) *CompoundFile {
	comp, err := OpenBacking(backing, mode, testConfig(t))
	require.NoError(t, err)
	return comp
}

func putStream(t *testing.T, comp *CompoundFile, path string, data []byte) {
	stream, err := comp.CreateStream(path)
	require.NoError(t, err)
	require.NoError(t, stream.SetData(data))
}

func dirEntry(t *testing.T, comp *CompoundFile, path string) *DirEntry {
	id, _, err := comp.lookup(path)
	require.NoError(t, err)
	return comp.Directory.DirEntries[id]
}

// corruptChain points the first sector of the stream at path back at itself.
func corruptChain(t *testing.T, comp *CompoundFile, path string) {
	entry := dirEntry(t, comp, path)
	require.NotZero(t, entry.StreamSize)

	if entry.StreamSize < uint64(MINI_STREAM_CUTOFF) {
		comp.MiniAlloc.entries[entry.StartingSector] = entry.StartingSector
	} else {
		comp.Allocator.entries[entry.StartingSector] = entry.StartingSector
	}
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i/251)
	}
	return data
}

func TestCreateEmpty(t *testing.T) {
	for _, version := range []Version{V3, V4} {
		cfg := testConfig(t)
		cfg.Version = version
		comp, backing := newMemFile(t, cfg)
		require.NoError(t, comp.Close())

		// header sector, directory sector, FAT sector
		assert.Len(t, backing.Bytes(), 3*version.SectorLen())

		comp = reopen(t, backing, ReadOnly)
		assert.Equal(t, version, comp.Version())
		children, err := comp.ListChildren("/")
		require.NoError(t, err)
		assert.Empty(t, children)
	}
}

func TestHelloRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.cfb")

	comp, err := Create(path, testConfig(t))
	require.NoError(t, err)

	_, err = comp.CreateStream("Contents")
	require.NoError(t, err)
	require.NoError(t, comp.SetStreamData("Contents", []byte("HELLO")))
	require.NoError(t, comp.Commit(false))
	require.NoError(t, comp.Close())

	comp, err = Open(path, ReadOnly, testConfig(t))
	require.NoError(t, err)
	defer comp.Close()

	data, err := comp.ReadStream("Contents")
	require.NoError(t, err)
	assert.Equal(t, []byte("HELLO"), data)
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.cfb"), ReadOnly, testConfig(t))
	require.ErrorIs(t, err, ErrorFileNotFound)
	require.ErrorIs(t, err, fs.ErrNotExist)

	_, err = OpenBacking(NewMemBacking(make([]byte, 100)), ReadOnly, testConfig(t))
	require.ErrorIs(t, err, ErrorInvalidCFB)

	_, backing := newMemFile(t, testConfig(t))
	image := append([]byte{}, backing.Bytes()...)
	image[0] = 0
	_, err = OpenBacking(NewMemBacking(image), ReadOnly, testConfig(t))
	require.ErrorIs(t, err, ErrorInvalidCFB)

	path := filepath.Join(t.TempDir(), "junk.cfb")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xab}, 2048), 0o644))
	_, err = Open(path, Update, testConfig(t))
	require.ErrorIs(t, err, ErrorInvalidCFB)
}

func TestCanonicalOrder(t *testing.T) {
	comp, backing := newMemFile(t, testConfig(t))
	for _, name := range []string{"B", "a", "C"} {
		putStream(t, comp, name, []byte(name))
	}

	children, err := comp.ListChildren("/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "B", "C"}, children)

	require.NoError(t, comp.Commit(false))
	require.NoError(t, comp.Close())

	comp = reopen(t, backing, ReadOnly)
	children, err = comp.ListChildren("/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "B", "C"}, children)
}

func TestNestedStorages(t *testing.T) {
	comp, backing := newMemFile(t, testConfig(t))

	require.NoError(t, comp.CreateStorage("/Docs"))
	require.NoError(t, comp.CreateStorage("/Docs/Drafts"))
	putStream(t, comp, "/Docs/Drafts/one", []byte("1"))
	putStream(t, comp, "/Docs/two", pattern(5000))
	putStream(t, comp, "/three", []byte("3"))

	clsid := uuid.MustParse("00020906-0000-0000-c000-000000000046")
	require.NoError(t, comp.SetCLSID("/Docs", clsid))
	require.NoError(t, comp.SetStateBits("/Docs", 7))

	require.NoError(t, comp.Commit(false))
	require.NoError(t, comp.Close())

	comp = reopen(t, backing, ReadOnly)
	streams, err := comp.ListStreams()
	require.NoError(t, err)
	assert.Equal(t, []string{"/Docs/two", "/Docs/Drafts/one", "/three"}, streams)

	entry, err := comp.Entry("/Docs")
	require.NoError(t, err)
	assert.True(t, entry.IsStorage())
	assert.Equal(t, clsid, entry.CLSID)
	assert.Equal(t, uint32(7), entry.StateBits)
	assert.False(t, entry.Created().IsZero())

	data, err := comp.ReadStream("/Docs/two")
	require.NoError(t, err)
	assert.Equal(t, pattern(5000), data)

	_, err = comp.ReadStream("/Docs")
	require.ErrorIs(t, err, ErrorNotStream)
	_, err = comp.ReadDir("/three")
	require.ErrorIs(t, err, ErrorNotStorage)
	_, err = comp.Entry("/Docs/missing")
	require.ErrorIs(t, err, ErrorEntryNotFound)
}

func TestCreateErrors(t *testing.T) {
	comp, _ := newMemFile(t, testConfig(t))
	putStream(t, comp, "Contents", nil)

	_, err := comp.CreateStream("CONTENTS")
	require.ErrorIs(t, err, ErrorDuplicateName)

	_, err = comp.CreateStream("Contents/inner")
	require.ErrorIs(t, err, ErrorNotStorage)

	_, err = comp.CreateStream("/missing/inner")
	require.ErrorIs(t, err, ErrorEntryNotFound)

	_, err = comp.CreateStream("/")
	require.ErrorIs(t, err, ErrorInvalidName)

	err = comp.CreateStorage("this name is far too long for an entry")
	require.ErrorIs(t, err, ErrorInvalidName)
}

func TestRemoveStorage(t *testing.T) {
	comp, _ := newMemFile(t, testConfig(t))

	require.NoError(t, comp.CreateStorage("Store"))
	putStream(t, comp, "Store/small", pattern(100))
	putStream(t, comp, "Store/large", pattern(9000))
	require.NoError(t, comp.CreateStorage("Store/Sub"))
	putStream(t, comp, "Store/Sub/deep", pattern(10))

	err := comp.Remove("Store")
	require.ErrorIs(t, err, ErrorStorageNotEmpty)

	require.NoError(t, comp.RemoveAll("Store"))
	children, err := comp.ListChildren("/")
	require.NoError(t, err)
	assert.Empty(t, children)

	for _, id := range comp.MiniAlloc.entries {
		assert.Equal(t, FREE_SECTOR, id)
	}

	require.NoError(t, comp.CreateStorage("Empty"))
	require.NoError(t, comp.Remove("Empty"))
}

func TestRename(t *testing.T) {
	comp, backing := newMemFile(t, testConfig(t))
	for _, name := range []string{"alpha", "beta", "gamma"} {
		putStream(t, comp, name, []byte(name))
	}

	require.NoError(t, comp.Rename("beta", "Z"))
	require.ErrorIs(t, comp.Rename("alpha", "GAMMA"), ErrorDuplicateName)
	require.NoError(t, comp.Rename("alpha", "ALPHA"))
	require.ErrorIs(t, comp.Rename("nope", "x"), ErrorEntryNotFound)

	require.NoError(t, comp.Commit(false))
	require.NoError(t, comp.Close())

	comp = reopen(t, backing, ReadOnly)
	children, err := comp.ListChildren("/")
	require.NoError(t, err)
	assert.Equal(t, []string{"Z", "ALPHA", "gamma"}, children)

	data, err := comp.ReadStream("Z")
	require.NoError(t, err)
	assert.Equal(t, []byte("beta"), data)
}

func TestClosedSession(t *testing.T) {
	comp, _ := newMemFile(t, testConfig(t))
	stream, err := comp.CreateStream("Contents")
	require.NoError(t, err)
	require.NoError(t, comp.Close())

	require.ErrorIs(t, comp.Close(), ErrorClosed)
	require.ErrorIs(t, comp.Commit(false), ErrorClosed)
	require.ErrorIs(t, comp.Shrink(), ErrorClosed)
	_, err = comp.ListStreams()
	require.ErrorIs(t, err, ErrorClosed)
	_, err = comp.ReadStream("Contents")
	require.ErrorIs(t, err, ErrorClosed)
	_, err = stream.Write([]byte("x"))
	require.ErrorIs(t, err, ErrorClosed)
	_, err = comp.FileSize()
	require.ErrorIs(t, err, ErrorClosed)
}

func TestReadOnlySession(t *testing.T) {
	comp, backing := newMemFile(t, testConfig(t))
	putStream(t, comp, "Contents", []byte("data"))
	require.NoError(t, comp.Commit(false))
	require.NoError(t, comp.Close())

	comp = reopen(t, backing, ReadOnly)
	assert.Equal(t, ReadOnly, comp.Mode())

	_, err := comp.CreateStream("Other")
	require.ErrorIs(t, err, ErrorReadOnly)
	require.ErrorIs(t, comp.SetStreamData("Contents", nil), ErrorReadOnly)
	require.ErrorIs(t, comp.Remove("Contents"), ErrorReadOnly)
	require.ErrorIs(t, comp.Commit(true), ErrorReadOnly)

	data, err := comp.ReadStream("Contents")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)
}

func TestUncommittedChangesDiscarded(t *testing.T) {
	comp, backing := newMemFile(t, testConfig(t))
	putStream(t, comp, "Kept", []byte("kept"))
	require.NoError(t, comp.Commit(false))

	putStream(t, comp, "Lost", []byte("lost"))
	require.NoError(t, comp.Close())

	comp = reopen(t, backing, ReadOnly)
	children, err := comp.ListChildren("/")
	require.NoError(t, err)
	assert.Equal(t, []string{"Kept"}, children)
}

// faultBacking fails header writes once armed.
type faultBacking struct {
	*MemBacking
	armed bool
}

var errInjected = errors.New("injected write failure")

func (f *faultBacking) WriteAt(p []byte, off int64) (int, error) {
	if f.armed && off == 0 && len(p) > len(MAGIC_NUMBER) {
		return 0, errInjected
	}
	return f.MemBacking.WriteAt(p, off)
}

func TestFailedCommitInvalidatesFile(t *testing.T) {
	mem := NewMemBacking(nil)
	backing := &faultBacking{MemBacking: mem}
	comp, err := CreateBacking(backing, testConfig(t))
	require.NoError(t, err)

	putStream(t, comp, "Contents", []byte("HELLO"))
	require.NoError(t, comp.Commit(false))

	require.NoError(t, comp.SetStreamData("Contents", []byte("WORLD")))
	backing.armed = true
	err = comp.Commit(false)
	require.ErrorIs(t, err, ErrorIOFailure)
	require.ErrorIs(t, err, errInjected)

	_, err = OpenBacking(mem, ReadOnly, testConfig(t))
	require.ErrorIs(t, err, ErrorInvalidCFB)
}

func TestSectorRecycle(t *testing.T) {
	sizes := map[bool]int{}
	for _, recycle := range []bool{false, true} {
		cfg := testConfig(t)
		cfg.SectorRecycle = recycle
		comp, backing := newMemFile(t, cfg)

		putStream(t, comp, "first", pattern(20000))
		require.NoError(t, comp.Commit(false))
		require.NoError(t, comp.Remove("first"))
		putStream(t, comp, "second", pattern(20000))
		require.NoError(t, comp.Commit(false))

		data, err := comp.ReadStream("second")
		require.NoError(t, err)
		assert.Equal(t, pattern(20000), data)

		sizes[recycle] = len(backing.Bytes())
	}
	assert.Less(t, sizes[true], sizes[false])
}

func TestManyEntriesAndLargeFat(t *testing.T) {
	cfg := testConfig(t)
	cfg.CacheSize = 8
	comp, backing := newMemFile(t, cfg)

	// more than 109 FAT sectors forces DIFAT sectors
	putStream(t, comp, "big", pattern(110*128*512))
	for i := 0; i < 40; i++ {
		putStream(t, comp, "s"+string(rune('A'+i%26))+string(rune('a'+i/26)), pattern(i*13))
	}
	require.NoError(t, comp.Commit(true))
	require.NotZero(t, comp.Header.NumDifatSectors)
	require.NoError(t, comp.Close())

	strict := testConfig(t)
	strict.Validation = ValidationStrict
	comp, err := OpenBacking(backing, ReadOnly, strict)
	require.NoError(t, err)

	data, err := comp.ReadStream("big")
	require.NoError(t, err)
	assert.True(t, bytes.Equal(pattern(110*128*512), data))

	children, err := comp.ListChildren("/")
	require.NoError(t, err)
	assert.Len(t, children, 41)
}

func TestRemoveAllWithCorruptChain(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(t *testing.T, comp *CompoundFile)
		// a self loop survives a reload; shared sectors are rejected on load
		reload bool
	}{
		{"self loop", func(t *testing.T, comp *CompoundFile) {
			corruptChain(t, comp, "Store/bb")
		}, true},
		{"shared sectors", func(t *testing.T, comp *CompoundFile) {
			a, bb := dirEntry(t, comp, "Store/a"), dirEntry(t, comp, "Store/bb")
			ids, err := comp.MiniAlloc.Chain(a.StartingSector)
			require.NoError(t, err)
			comp.MiniAlloc.entries[ids[len(ids)-1]] = bb.StartingSector
		}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			comp, backing := newMemFile(t, testConfig(t))
			require.NoError(t, comp.CreateStorage("Store"))
			putStream(t, comp, "Store/a", pattern(100))
			putStream(t, comp, "Store/bb", pattern(200))
			putStream(t, comp, "Store/c", pattern(5000))
			putStream(t, comp, "Other", pattern(300))
			require.NoError(t, comp.Commit(false))

			tc.corrupt(t, comp)
			fat := append([]uint32{}, comp.Allocator.entries...)
			minifat := append([]uint32{}, comp.MiniAlloc.entries...)

			require.ErrorIs(t, comp.RemoveAll("Store"), ErrorCorruptAllocation)
			require.NoError(t, comp.Directory.Validate())
			assert.Equal(t, fat, comp.Allocator.entries)
			assert.Equal(t, minifat, comp.MiniAlloc.entries)

			children, err := comp.ListChildren("Store")
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "c", "bb"}, children)
			data, err := comp.ReadStream("Store/c")
			require.NoError(t, err)
			assert.Equal(t, pattern(5000), data)

			require.NoError(t, comp.Commit(false))
			require.NoError(t, comp.Close())
			if !tc.reload {
				return
			}

			comp = reopen(t, backing, ReadOnly)
			defer comp.Close()
			children, err = comp.ListChildren("Store")
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "c", "bb"}, children)
			data, err = comp.ReadStream("Other")
			require.NoError(t, err)
			assert.Equal(t, pattern(300), data)
		})
	}
}
