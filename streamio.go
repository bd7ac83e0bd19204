package cfbstore

import (
	"fmt"

	"go.uber.org/zap"
)

// A stream below the cutoff lives in mini sectors, any other in regular
// sectors; the entry size alone decides which allocator owns its chain.
func (c *CompoundFile) allocatorFor(size uint64) chainAllocator {
	if size < uint64(MINI_STREAM_CUTOFF) {
		return c.MiniAlloc
	}
	return c.Allocator
}

func (c *CompoundFile) streamChain(entry *DirEntry) (*Chain, error) {
	alloc := c.allocatorFor(entry.StreamSize)
	if entry.StreamSize == 0 {
		return &Chain{Allocator: alloc, SectorIds: []uint32{}}, nil
	}

	chain, err := NewChain(alloc, entry.StartingSector)
	if err != nil {
		return nil, fmt.Errorf("stream %q: %w", entry.Name, err)
	}
	if chain.Len() < entry.StreamSize {
		return nil, fmt.Errorf("stream %q has %v bytes of sectors for %v bytes of data: %w",
			entry.Name, chain.Len(), entry.StreamSize, ErrorCorruptAllocation)
	}
	return chain, nil
}

func (c *CompoundFile) readStream(entry *DirEntry, offset uint64, p []byte) error {
	if offset+uint64(len(p)) > entry.StreamSize {
		return fmt.Errorf("read of %v bytes at %v from stream %q of %v bytes: %w",
			len(p), offset, entry.Name, entry.StreamSize, ErrorOutOfRange)
	}
	if len(p) == 0 {
		return nil
	}

	chain, err := c.streamChain(entry)
	if err != nil {
		return err
	}
	_, err = chain.ReadAt(p, int64(offset))
	return err
}

// writeStream overwrites the stream at offset, growing it when the write
// ends past the current size.
func (c *CompoundFile) writeStream(entry *DirEntry, offset uint64, p []byte) error {
	end := offset + uint64(len(p))
	if end > entry.StreamSize {
		err := c.resizeStream(entry, end)
		if err != nil {
			return err
		}
	}
	if len(p) == 0 {
		return nil
	}

	chain, err := c.streamChain(entry)
	if err != nil {
		return err
	}
	_, err = chain.WriteAt(p, int64(offset))
	return err
}

// setStreamData replaces the whole content of the stream.
func (c *CompoundFile) setStreamData(entry *DirEntry, data []byte) error {
	err := c.freeStream(entry)
	if err != nil {
		return err
	}
	return c.writeStream(entry, 0, data)
}

// freeStreams releases the sectors of every stream in entries. All chains
// are resolved before any sector is released, so a corrupt or shared chain
// leaves the allocation tables untouched.
func (c *CompoundFile) freeStreams(entries []*DirEntry) error {
	claimed := make(map[chainAllocator]map[uint32]string)
	for _, entry := range entries {
		if entry.StreamSize == 0 {
			continue
		}
		alloc := c.allocatorFor(entry.StreamSize)
		ids, err := alloc.Chain(entry.StartingSector)
		if err != nil {
			return fmt.Errorf("stream %q: %w", entry.Name, err)
		}

		owners := claimed[alloc]
		if owners == nil {
			owners = make(map[uint32]string)
			claimed[alloc] = owners
		}
		for _, id := range ids {
			if other, ok := owners[id]; ok {
				return fmt.Errorf("streams %q and %q share sector %v: %w", other, entry.Name, id, ErrorCorruptAllocation)
			}
			owners[id] = entry.Name
		}
	}

	for _, entry := range entries {
		err := c.freeStream(entry)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *CompoundFile) freeStream(entry *DirEntry) error {
	if entry.StreamSize > 0 {
		err := c.allocatorFor(entry.StreamSize).Free(entry.StartingSector)
		if err != nil {
			return err
		}
	}
	entry.StartingSector = END_OF_CHAIN
	entry.StreamSize = 0
	return nil
}

func (c *CompoundFile) resizeStream(entry *DirEntry, size uint64) error {
	old := entry.StreamSize
	if size == old {
		return nil
	}
	if limit := c.Header.Version.SectorLenMask(); size > limit {
		return fmt.Errorf("stream %q: size %v exceeds %v: %w", entry.Name, size, limit, ErrorOutOfRange)
	}

	oldAlloc, newAlloc := c.allocatorFor(old), c.allocatorFor(size)
	if oldAlloc != newAlloc {
		return c.migrateStream(entry, size, oldAlloc, newAlloc)
	}

	start := entry.StartingSector
	if old == 0 {
		start = END_OF_CHAIN
	}
	unit := oldAlloc.UnitLen()
	start, err := oldAlloc.Resize(start, ceilDiv(size, unit))
	if err != nil {
		return err
	}

	// keep the unused tail of the last unit zeroed for later growth
	if size < old && size%uint64(unit) != 0 {
		chain, err := NewChain(oldAlloc, start)
		if err != nil {
			return err
		}
		n := min(chain.Len(), old) - size
		_, err = chain.WriteAt(make([]byte, n), int64(size))
		if err != nil {
			return err
		}
	}

	entry.StartingSector = start
	entry.StreamSize = size
	return nil
}

// migrateStream moves a stream between the MiniFAT and the FAT when its new
// size crosses the cutoff.
func (c *CompoundFile) migrateStream(entry *DirEntry, size uint64, oldAlloc, newAlloc chainAllocator) error {
	keep := make([]byte, min(entry.StreamSize, size))
	err := c.readStream(entry, 0, keep)
	if err != nil {
		return err
	}

	start, err := newAlloc.Resize(END_OF_CHAIN, ceilDiv(size, newAlloc.UnitLen()))
	if err != nil {
		return err
	}
	chain, err := NewChain(newAlloc, start)
	if err != nil {
		return err
	}
	_, err = chain.WriteAt(keep, 0)
	if err != nil {
		return err
	}

	if entry.StreamSize > 0 {
		err = oldAlloc.Free(entry.StartingSector)
		if err != nil {
			return err
		}
	}

	c.log.Debug("stream migrated",
		zap.String("stream", entry.Name),
		zap.Uint64("from", entry.StreamSize),
		zap.Uint64("to", size),
		zap.Bool("mini", size < uint64(MINI_STREAM_CUTOFF)))

	entry.StartingSector = start
	entry.StreamSize = size
	return nil
}
