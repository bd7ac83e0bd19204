package cfbstore

import (
	"encoding/binary"
	"fmt"
)

// Allocator manages the regular sectors of the file through the FAT.
type Allocator struct {
	fatTable

	Sectors        *Sectors
	DifatSectorIds []uint32
	Difat          []uint32
	Validation     Validation

	// repaired counts table markers fixed up in permissive mode.
	repaired int
}

func NewAllocator(sectors *Sectors, difatSectorIds []uint32, difat []uint32, fat []uint32, recycle bool, validation Validation) (*Allocator, error) {
	alloc := Allocator{
		Sectors:        sectors,
		DifatSectorIds: difatSectorIds,
		Difat:          difat,
		Validation:     validation,
	}

	err := alloc.repairMarkers(fat)
	if err != nil {
		return nil, err
	}
	alloc.fatTable = newFatTable("FAT", fat, recycle)

	err = alloc.Validate()
	if err != nil {
		return nil, err
	}

	return &alloc, nil
}

func (a *Allocator) repairMarkers(fat []uint32) error {
	for _, difatSector := range a.DifatSectorIds {
		if difatSector >= uint32(len(fat)) {
			return fmt.Errorf("invalid FAT has %v entries, but DIFAT lists %v as a DIFAT sector: %w",
				len(fat), difatSector, ErrorInvalidCFB)
		}

		if fat[difatSector] != DIFAT_SECTOR {
			if a.Validation.IsStrict() {
				return fmt.Errorf("invalid DIFAT sector %v is not marked as such in the FAT: %w", difatSector, ErrorInvalidCFB)
			}
			fat[difatSector] = DIFAT_SECTOR
			a.repaired++
		}
	}

	for _, fatSector := range a.Difat {
		if fatSector >= uint32(len(fat)) {
			return fmt.Errorf("invalid FAT has %v entries, but DIFAT lists %v as a FAT sector: %w",
				len(fat), fatSector, ErrorInvalidCFB)
		}

		if fat[fatSector] != FAT_SECTOR {
			if a.Validation.IsStrict() {
				return fmt.Errorf("invalid FAT sector %v is not marked as such in the FAT: %w", fatSector, ErrorInvalidCFB)
			}
			fat[fatSector] = FAT_SECTOR
			a.repaired++
		}
	}
	return nil
}

func (a *Allocator) Validate() error {
	numSectors, err := a.Sectors.NumSectors()
	if err != nil {
		return err
	}
	if len(a.entries) > int(numSectors) {
		return fmt.Errorf("fat has %v entries, but file has %v: %w",
			len(a.entries), numSectors, ErrorInvalidCFB)
	}

	return a.fatTable.validate()
}

func (a *Allocator) UnitLen() int {
	return a.Sectors.SectorLen()
}

func (a *Allocator) initSector(init SectorInit) func(uint32) error {
	return func(id uint32) error {
		a.Sectors.Init(id, init)
		return nil
	}
}

// Allocate returns a chain of n zeroed sectors ending in END_OF_CHAIN.
func (a *Allocator) Allocate(n int) ([]uint32, error) {
	return a.fatTable.allocate(n, a.initSector(SectorInitZero))
}

// Free returns every sector of the chain starting at start to the allocator.
func (a *Allocator) Free(start uint32) error {
	ids, err := a.Chain(start)
	if err != nil {
		return err
	}
	for _, id := range ids {
		a.release(id)
		a.Sectors.Discard(id)
	}
	return nil
}

// Resize grows or truncates the chain starting at start to n sectors and
// returns the (possibly new) start.
func (a *Allocator) Resize(start uint32, n int) (uint32, error) {
	return resizeChain(&a.fatTable, start, n, a.Allocate, func(id uint32) {
		a.release(id)
		a.Sectors.Discard(id)
	})
}

// allocateMarked reserves a single FAT or DIFAT sector.
func (a *Allocator) allocateMarked(marker uint32, init SectorInit) (uint32, error) {
	id, err := a.take(marker)
	if err != nil {
		return 0, err
	}
	a.Sectors.Init(id, init)
	return id, nil
}

// reserveTableSectors makes sure enough FAT and DIFAT sectors exist to
// describe every FAT entry, including the entries of those sectors.
func (a *Allocator) reserveTableSectors() error {
	perSector := a.Sectors.Version.FatEntriesPerSector()
	for {
		needFat := ceilDiv(uint64(len(a.entries)), perSector)
		needDifat := 0
		if needFat > NUM_DIFAT_ENTRIES_IN_HEADER {
			needDifat = ceilDiv(uint64(needFat-NUM_DIFAT_ENTRIES_IN_HEADER), perSector-1)
		}

		switch {
		case len(a.Difat) < needFat:
			id, err := a.allocateMarked(FAT_SECTOR, SectorInitFat)
			if err != nil {
				return err
			}
			a.Difat = append(a.Difat, id)
		case len(a.DifatSectorIds) < needDifat:
			id, err := a.allocateMarked(DIFAT_SECTOR, SectorInitDifat)
			if err != nil {
				return err
			}
			a.DifatSectorIds = append(a.DifatSectorIds, id)
		default:
			return nil
		}
	}
}

// writeTables stores the FAT and the DIFAT overflow into their sectors.
func (a *Allocator) writeTables() error {
	perSector := a.Sectors.Version.FatEntriesPerSector()
	buf := make([]byte, a.Sectors.SectorLen())

	for i, sectorId := range a.Difat {
		for j := 0; j < perSector; j++ {
			value := FREE_SECTOR
			if idx := i*perSector + j; idx < len(a.entries) {
				value = a.entries[idx]
			}
			binary.LittleEndian.PutUint32(buf[j*4:], value)
		}
		err := a.Sectors.WriteAt(sectorId, 0, buf)
		if err != nil {
			return err
		}
	}

	overflow := []uint32{}
	if len(a.Difat) > NUM_DIFAT_ENTRIES_IN_HEADER {
		overflow = a.Difat[NUM_DIFAT_ENTRIES_IN_HEADER:]
	}
	for i, sectorId := range a.DifatSectorIds {
		for j := 0; j < perSector-1; j++ {
			value := FREE_SECTOR
			if idx := i*(perSector-1) + j; idx < len(overflow) {
				value = overflow[idx]
			}
			binary.LittleEndian.PutUint32(buf[j*4:], value)
		}
		next := END_OF_CHAIN
		if i+1 < len(a.DifatSectorIds) {
			next = a.DifatSectorIds[i+1]
		}
		binary.LittleEndian.PutUint32(buf[(perSector-1)*4:], next)

		err := a.Sectors.WriteAt(sectorId, 0, buf)
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *Allocator) readUnit(id uint32, offset int, p []byte) error {
	return a.Sectors.ReadAt(id, offset, p)
}

func (a *Allocator) writeUnit(id uint32, offset int, p []byte) error {
	return a.Sectors.WriteAt(id, offset, p)
}

func resizeChain(t *fatTable, start uint32, n int, allocate func(int) ([]uint32, error), release func(uint32)) (uint32, error) {
	ids, err := t.Chain(start)
	if err != nil {
		return 0, err
	}

	switch {
	case n == len(ids):
		return start, nil
	case n < len(ids):
		for _, id := range ids[n:] {
			release(id)
		}
		if n == 0 {
			return END_OF_CHAIN, nil
		}
		t.MarkEndOfChain(ids[n-1])
		return start, nil
	default:
		more, err := allocate(n - len(ids))
		if err != nil {
			return 0, err
		}
		if len(ids) == 0 {
			return more[0], nil
		}
		t.entries[ids[len(ids)-1]] = more[0]
		return start, nil
	}
}
