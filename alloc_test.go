package cfbstore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFatTableAppendPolicy(t *testing.T) {
	table := newFatTable("FAT", nil, false)

	first, err := table.allocate(3, func(uint32) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2}, first)

	chain, err := table.Chain(0)
	require.NoError(t, err)
	assert.Equal(t, first, chain)

	table.release(1)
	more, err := table.allocate(1, func(uint32) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []uint32{3}, more)
}

func TestFatTableRecyclePolicy(t *testing.T) {
	table := newFatTable("FAT", []uint32{END_OF_CHAIN, FREE_SECTOR, END_OF_CHAIN, FREE_SECTOR}, true)

	ids, err := table.allocate(3, func(uint32) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 3, 4}, ids)

	table.release(3)
	table.release(1)
	ids, err = table.allocate(2, func(uint32) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 3}, ids)
}

func TestFatTableCorruptChains(t *testing.T) {
	tests := []struct {
		name    string
		entries []uint32
	}{
		{"cycle", []uint32{1, 2, 0}},
		{"self loop", []uint32{0}},
		{"out of range", []uint32{1, 7}},
		{"free in chain", []uint32{1, FREE_SECTOR}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			table := newFatTable("FAT", tc.entries, false)
			_, err := table.Chain(0)
			require.ErrorIs(t, err, ErrorCorruptAllocation)
		})
	}

	table := newFatTable("FAT", nil, false)
	_, err := table.Chain(3)
	require.ErrorIs(t, err, ErrorCorruptAllocation)
}

func TestFatTableValidate(t *testing.T) {
	table := newFatTable("FAT", []uint32{2, 2, END_OF_CHAIN}, false)
	require.ErrorIs(t, table.validate(), ErrorCorruptAllocation)

	table = newFatTable("FAT", []uint32{INVALID_SECTOR}, false)
	require.ErrorIs(t, table.validate(), ErrorCorruptAllocation)

	table = newFatTable("FAT", []uint32{1, END_OF_CHAIN, FAT_SECTOR, FREE_SECTOR}, false)
	require.NoError(t, table.validate())
}

func TestResizeChain(t *testing.T) {
	sectors, err := NewSectors(V3, NewMemBacking(nil), 0)
	require.NoError(t, err)
	alloc, err := NewAllocator(sectors, nil, nil, nil, false, ValidationPermissive)
	require.NoError(t, err)

	start, err := alloc.Resize(END_OF_CHAIN, 3)
	require.NoError(t, err)
	ids, err := alloc.Chain(start)
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	start, err = alloc.Resize(start, 5)
	require.NoError(t, err)
	ids, err = alloc.Chain(start)
	require.NoError(t, err)
	assert.Len(t, ids, 5)

	start, err = alloc.Resize(start, 2)
	require.NoError(t, err)
	ids, err = alloc.Chain(start)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1}, ids)
	assert.Equal(t, FREE_SECTOR, alloc.entries[2])

	start, err = alloc.Resize(start, 0)
	require.NoError(t, err)
	assert.Equal(t, END_OF_CHAIN, start)
}

func TestReserveTableSectors(t *testing.T) {
	sectors, err := NewSectors(V3, NewMemBacking(nil), 0)
	require.NoError(t, err)
	alloc, err := NewAllocator(sectors, nil, nil, nil, false, ValidationPermissive)
	require.NoError(t, err)

	perSector := V3.FatEntriesPerSector()
	_, err = alloc.Allocate(perSector * (NUM_DIFAT_ENTRIES_IN_HEADER + 10))
	require.NoError(t, err)
	require.NoError(t, alloc.reserveTableSectors())

	assert.GreaterOrEqual(t, len(alloc.Difat)*perSector, alloc.Len())
	assert.Len(t, alloc.DifatSectorIds, 1)
	for _, id := range alloc.Difat {
		assert.Equal(t, FAT_SECTOR, alloc.entries[id])
	}
	assert.Equal(t, DIFAT_SECTOR, alloc.entries[alloc.DifatSectorIds[0]])
}

func TestHeaderRoundTrip(t *testing.T) {
	for _, version := range []Version{V3, V4} {
		header := newHeader(version)
		header.NumFatSectors = 2
		header.FirstDirSector = 5
		header.NumMinifatSectors = 1
		header.FirstMinifatSector = 9
		header.InitialDifatEntries = []uint32{1, 2}
		if version == V4 {
			header.NumDirSectors = 1
		}

		buf := header.bytes()
		require.Len(t, buf, version.SectorLen())

		var decoded Header
		require.NoError(t, decoded.readFrom(bytes.NewReader(buf), ValidationStrict))
		assert.Equal(t, *header, decoded)
	}
}

func TestHeaderRejects(t *testing.T) {
	valid := newHeader(V3).bytes()

	tests := []struct {
		name   string
		offset int
		value  byte
		strict bool
	}{
		{"magic", 0, 0x00, false},
		{"minor version", 24, 0x3f, true},
		{"major version", 26, 0x05, false},
		{"byte order", 28, 0xff, false},
		{"sector shift", 30, 0x0c, false},
		{"mini shift", 32, 0x07, false},
		{"cutoff", 56, 0x01, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := append([]byte{}, valid...)
			buf[tc.offset] = tc.value

			validation := ValidationPermissive
			if tc.strict {
				validation = ValidationStrict
			}
			var header Header
			require.ErrorIs(t, header.readFrom(bytes.NewReader(buf), validation), ErrorInvalidCFB)
		})
	}
}

func TestSectorsFlush(t *testing.T) {
	backing := NewMemBacking(nil)
	sectors, err := NewSectors(V3, backing, 2)
	require.NoError(t, err)

	for id := uint32(0); id < 4; id++ {
		sectors.Init(id, SectorInitZero)
		require.NoError(t, sectors.WriteAt(id, 10, []byte{byte(id + 1)}))
	}
	assert.Equal(t, 4, sectors.NumDirty())
	assert.Empty(t, backing.Bytes())

	require.NoError(t, sectors.Flush())
	assert.Zero(t, sectors.NumDirty())
	assert.Len(t, backing.Bytes(), 5*512)

	sectors.Release()
	p := make([]byte, 1)
	for id := uint32(0); id < 4; id++ {
		require.NoError(t, sectors.ReadAt(id, 10, p))
		assert.Equal(t, byte(id+1), p[0])
	}

	require.ErrorIs(t, sectors.WriteAt(0, 510, []byte{1, 2, 3}), ErrorOutOfRange)
}
