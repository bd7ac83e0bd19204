package cfbstore

import (
	"go.uber.org/zap"
)

// Commit writes every pending change to the backing storage. With
// releaseMemory set, cached sector buffers are dropped afterwards and
// re-read on demand.
func (c *CompoundFile) Commit(releaseMemory bool) error {
	if err := c.checkWritable(); err != nil {
		return err
	}

	err := c.flush()
	if err != nil {
		return err
	}

	if releaseMemory {
		c.Allocator.Sectors.Release()
	}

	c.log.Debug("compound file committed",
		zap.String("path", c.path),
		zap.Int("fat_entries", c.Allocator.Len()),
		zap.Int("minifat_entries", c.MiniAlloc.Len()),
		zap.Int("dir_entries", len(c.Directory.DirEntries)),
		zap.Bool("release_memory", releaseMemory))
	return nil
}

// flush lays out the tables and writes the file. The header signature is
// cleared before any sector is written and restored last, so an interrupted
// flush leaves a file that no longer opens.
func (c *CompoundFile) flush() error {
	err := c.MiniAlloc.writeTable()
	if err != nil {
		return err
	}

	err = c.Directory.writeEntries()
	if err != nil {
		return err
	}

	err = c.Allocator.reserveTableSectors()
	if err != nil {
		return err
	}
	err = c.Allocator.writeTables()
	if err != nil {
		return err
	}

	header, err := c.buildHeader()
	if err != nil {
		return err
	}

	_, err = c.backing.WriteAt(make([]byte, len(MAGIC_NUMBER)), 0)
	if err != nil {
		return ioError("invalidate header", err)
	}
	err = c.backing.Sync()
	if err != nil {
		return ioError("sync", err)
	}

	err = c.Allocator.Sectors.Flush()
	if err != nil {
		return err
	}

	sectorLen := int64(header.Version.SectorLen())
	want := (int64(c.Allocator.Len()) + 1) * sectorLen
	size, err := c.backing.Size()
	if err != nil {
		return ioError("stat", err)
	}
	if size < want {
		err = c.backing.Truncate(want)
		if err != nil {
			return ioError("extend", err)
		}
	}
	err = c.backing.Sync()
	if err != nil {
		return ioError("sync", err)
	}

	_, err = c.backing.WriteAt(header.bytes(), 0)
	if err != nil {
		return ioError("write header", err)
	}
	err = c.backing.Sync()
	if err != nil {
		return ioError("sync", err)
	}

	c.Header = header
	return nil
}

func (c *CompoundFile) buildHeader() (*Header, error) {
	version := c.Allocator.Sectors.Version
	header := newHeader(version)
	if c.Header != nil {
		header.TransactionSignature = c.Header.TransactionSignature
	}

	header.FirstDirSector = c.Directory.DirStartSector
	if version == V4 {
		dirSectorIds, err := c.Allocator.Chain(c.Directory.DirStartSector)
		if err != nil {
			return nil, err
		}
		header.NumDirSectors = uint32(len(dirSectorIds))
	}

	minifatSectorIds, err := c.Allocator.Chain(c.MiniAlloc.MinifatStartSector)
	if err != nil {
		return nil, err
	}
	header.FirstMinifatSector = c.MiniAlloc.MinifatStartSector
	header.NumMinifatSectors = uint32(len(minifatSectorIds))

	header.NumFatSectors = uint32(len(c.Allocator.Difat))
	n := len(c.Allocator.Difat)
	if n > NUM_DIFAT_ENTRIES_IN_HEADER {
		n = NUM_DIFAT_ENTRIES_IN_HEADER
	}
	header.InitialDifatEntries = append([]uint32{}, c.Allocator.Difat[:n]...)

	if len(c.Allocator.DifatSectorIds) > 0 {
		header.FirstDifatSector = c.Allocator.DifatSectorIds[0]
	}
	header.NumDifatSectors = uint32(len(c.Allocator.DifatSectorIds))

	return header, nil
}
