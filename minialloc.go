package cfbstore

import (
	"encoding/binary"
	"fmt"
)

// MiniAlloc hands out 64-byte mini sectors from the mini stream, which is
// the root entry's regular sector chain.
type MiniAlloc struct {
	fatTable

	Allocator          *Allocator
	Directory          *Directory
	MinifatStartSector uint32

	host []uint32
}

func NewMiniAlloc(d *Directory, allocator *Allocator, minifat []uint32, minifatStartSector uint32, recycle bool) (*MiniAlloc, error) {
	alloc := MiniAlloc{
		fatTable:           newFatTable("MiniFAT", minifat, recycle),
		Allocator:          allocator,
		Directory:          d,
		MinifatStartSector: minifatStartSector,
	}

	err := alloc.Validate()
	if err != nil {
		return nil, err
	}

	rootEntry := d.RootDirEntry()
	if rootEntry.StreamSize > 0 {
		alloc.host, err = allocator.Chain(rootEntry.StartingSector)
		if err != nil {
			return nil, err
		}
		if uint64(len(alloc.host))*uint64(allocator.UnitLen()) < rootEntry.StreamSize {
			return nil, fmt.Errorf("mini stream chain has %v sectors, too short for %v bytes: %w",
				len(alloc.host), rootEntry.StreamSize, ErrorCorruptAllocation)
		}
	}

	return &alloc, nil
}

func (a *MiniAlloc) Validate() error {
	rootEntry := a.Directory.RootDirEntry()
	rootStreamMiniSectors := rootEntry.StreamSize / uint64(MINI_SECTOR_LEN)
	if rootStreamMiniSectors < uint64(len(a.entries)) {
		return fmt.Errorf("miniFAT has %v entries, but root stream has only %v mini sectors: %w",
			len(a.entries), rootStreamMiniSectors, ErrorInvalidCFB)
	}

	return a.fatTable.validate()
}

func (a *MiniAlloc) UnitLen() int {
	return MINI_SECTOR_LEN
}

// grow extends the mini stream so that it holds every MiniFAT entry.
func (a *MiniAlloc) grow() error {
	rootEntry := a.Directory.RootDirEntry()
	want := uint64(len(a.entries)) * uint64(MINI_SECTOR_LEN)
	if rootEntry.StreamSize >= want {
		return nil
	}

	start := rootEntry.StartingSector
	if len(a.host) == 0 {
		start = END_OF_CHAIN
	}
	start, err := a.Allocator.Resize(start, ceilDiv(want, a.Allocator.UnitLen()))
	if err != nil {
		return err
	}
	a.host, err = a.Allocator.Chain(start)
	if err != nil {
		return err
	}

	rootEntry.StartingSector = start
	rootEntry.StreamSize = want
	return nil
}

func (a *MiniAlloc) zeroMiniSector(id uint32) error {
	err := a.grow()
	if err != nil {
		return err
	}
	return a.writeUnit(id, 0, make([]byte, MINI_SECTOR_LEN))
}

// Allocate returns a chain of n zeroed mini sectors ending in END_OF_CHAIN.
func (a *MiniAlloc) Allocate(n int) ([]uint32, error) {
	return a.fatTable.allocate(n, a.zeroMiniSector)
}

func (a *MiniAlloc) Free(start uint32) error {
	ids, err := a.Chain(start)
	if err != nil {
		return err
	}
	for _, id := range ids {
		a.release(id)
	}
	return nil
}

func (a *MiniAlloc) Resize(start uint32, n int) (uint32, error) {
	return resizeChain(&a.fatTable, start, n, a.Allocate, a.release)
}

func (a *MiniAlloc) locate(id uint32, offset int) (uint32, int, error) {
	pos := uint64(id)*uint64(MINI_SECTOR_LEN) + uint64(offset)
	sectorLen := uint64(a.Allocator.UnitLen())
	index := pos / sectorLen
	if index >= uint64(len(a.host)) {
		return 0, 0, fmt.Errorf("mini sector %v lies outside of the mini stream: %w", id, ErrorCorruptAllocation)
	}
	return a.host[index], int(pos % sectorLen), nil
}

func (a *MiniAlloc) readUnit(id uint32, offset int, p []byte) error {
	sectorId, within, err := a.locate(id, offset)
	if err != nil {
		return err
	}
	return a.Allocator.readUnit(sectorId, within, p)
}

func (a *MiniAlloc) writeUnit(id uint32, offset int, p []byte) error {
	sectorId, within, err := a.locate(id, offset)
	if err != nil {
		return err
	}
	return a.Allocator.writeUnit(sectorId, within, p)
}

// writeTable stores the MiniFAT into its own regular sector chain.
func (a *MiniAlloc) writeTable() error {
	sectorLen := a.Allocator.UnitLen()
	n := ceilDiv(uint64(len(a.entries))*4, sectorLen)

	start, err := a.Allocator.Resize(a.MinifatStartSector, n)
	if err != nil {
		return err
	}
	a.MinifatStartSector = start

	ids, err := a.Allocator.Chain(start)
	if err != nil {
		return err
	}

	buf := make([]byte, sectorLen)
	perSector := sectorLen / 4
	for i, sectorId := range ids {
		for j := 0; j < perSector; j++ {
			value := FREE_SECTOR
			if idx := i*perSector + j; idx < len(a.entries) {
				value = a.entries[idx]
			}
			binary.LittleEndian.PutUint32(buf[j*4:], value)
		}
		err = a.Allocator.writeUnit(sectorId, 0, buf)
		if err != nil {
			return err
		}
	}
	return nil
}
