package cfbstore

import (
	"fmt"
	"io"
)

// chainAllocator is implemented by both the FAT and the MiniFAT allocator.
type chainAllocator interface {
	UnitLen() int
	Chain(start uint32) ([]uint32, error)
	Allocate(n int) ([]uint32, error)
	Resize(start uint32, n int) (uint32, error)
	Free(start uint32) error

	readUnit(id uint32, offset int, p []byte) error
	writeUnit(id uint32, offset int, p []byte) error
}

// Chain is a byte-addressable view of a resolved sector chain.
type Chain struct {
	Allocator       chainAllocator
	SectorIds       []uint32
	OffsetFromStart uint64
}

func NewChain(allocator chainAllocator, startingSectorId uint32) (*Chain, error) {
	sectorIds, err := allocator.Chain(startingSectorId)
	if err != nil {
		return nil, err
	}

	return &Chain{
		Allocator:       allocator,
		SectorIds:       sectorIds,
		OffsetFromStart: 0,
	}, nil
}

func (c *Chain) NumSectors() uint32 {
	return uint32(len(c.SectorIds))
}

func (c *Chain) Len() uint64 {
	return uint64(c.Allocator.UnitLen() * len(c.SectorIds))
}

func (c *Chain) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || uint64(off)+uint64(len(p)) > c.Len() {
		return 0, fmt.Errorf("read of %v bytes at %v beyond chain of %v bytes: %w", len(p), off, c.Len(), ErrorOutOfRange)
	}
	return c.transfer(p, off, c.Allocator.readUnit)
}

func (c *Chain) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || uint64(off)+uint64(len(p)) > c.Len() {
		return 0, fmt.Errorf("write of %v bytes at %v beyond chain of %v bytes: %w", len(p), off, c.Len(), ErrorOutOfRange)
	}
	return c.transfer(p, off, c.Allocator.writeUnit)
}

func (c *Chain) transfer(p []byte, off int64, op func(uint32, int, []byte) error) (int, error) {
	unitLen := int64(c.Allocator.UnitLen())
	done := 0
	for done < len(p) {
		pos := off + int64(done)
		within := int(pos % unitLen)
		n := int(unitLen) - within
		if n > len(p)-done {
			n = len(p) - done
		}

		err := op(c.SectorIds[pos/unitLen], within, p[done:done+n])
		if err != nil {
			return done, err
		}
		done += n
	}
	return done, nil
}

func (c *Chain) Read(p []byte) (int, error) {
	totalLen := c.Len()
	remainingInChain := totalLen - c.OffsetFromStart
	maxLen := min(uint64(len(p)), remainingInChain)
	if maxLen == 0 {
		return 0, io.EOF
	}

	bytesRead, err := c.ReadAt(p[:maxLen], int64(c.OffsetFromStart))
	c.OffsetFromStart += uint64(bytesRead)
	return bytesRead, err
}
