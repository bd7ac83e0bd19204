package cfbstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"go.uber.org/zap"
)

// CompoundFile is an open compound file. It owns its backing storage and is
// not safe for concurrent use.
type CompoundFile struct {
	Header    *Header
	Allocator *Allocator
	Directory *Directory
	MiniAlloc *MiniAlloc

	path    string
	backing Backing
	mode    UpdateMode
	cfg     Config
	log     *zap.Logger
	closed  bool

	// bumped on every load, so stream handles from before a reload fail
	generation uint64
}

// Open loads the compound file at path.
func Open(path string, mode UpdateMode, cfg Config) (*CompoundFile, error) {
	flag := os.O_RDONLY
	if mode == Update {
		flag = os.O_RDWR
	}

	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open compound file: %w", err)
		}
		return nil, ioError("open "+path, err)
	}

	c, err := openBacking(fileBacking{f}, path, mode, cfg)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return c, nil
}

// Create makes an empty compound file at path, replacing any existing file.
func Create(path string, cfg Config) (*CompoundFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, ioError("create "+path, err)
	}

	c, err := CreateBacking(fileBacking{f}, cfg)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	c.path = path

	return c, nil
}

// OpenBacking loads a compound file from backing. Shrink on such a session
// rewrites backing in place.
func OpenBacking(backing Backing, mode UpdateMode, cfg Config) (*CompoundFile, error) {
	return openBacking(backing, "", mode, cfg)
}

func openBacking(backing Backing, path string, mode UpdateMode, cfg Config) (*CompoundFile, error) {
	c := &CompoundFile{
		path:    path,
		backing: backing,
		mode:    mode,
		cfg:     cfg,
		log:     cfg.logger(),
	}

	err := c.load()
	if err != nil {
		return nil, err
	}

	return c, nil
}

// CreateBacking writes an empty compound file (root entry only) into backing.
func CreateBacking(backing Backing, cfg Config) (*CompoundFile, error) {
	err := backing.Truncate(0)
	if err != nil {
		return nil, ioError("truncate", err)
	}

	c, err := newCompoundFile(backing, cfg)
	if err != nil {
		return nil, err
	}

	err = c.flush()
	if err != nil {
		return nil, err
	}

	c.log.Debug("compound file created", zap.Int("version", int(c.Header.Version)))
	return c, nil
}

// newCompoundFile builds the in-memory state of an empty file without
// touching the backing storage.
func newCompoundFile(backing Backing, cfg Config) (*CompoundFile, error) {
	version := cfg.version()
	sectors, err := NewSectors(version, backing, cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	allocator, err := NewAllocator(sectors, []uint32{}, []uint32{}, []uint32{}, cfg.SectorRecycle, cfg.Validation)
	if err != nil {
		return nil, err
	}

	directory := newRootDirectory(allocator, cfg.Validation)
	miniAlloc, err := NewMiniAlloc(directory, allocator, []uint32{}, END_OF_CHAIN, cfg.SectorRecycle)
	if err != nil {
		return nil, err
	}

	return &CompoundFile{
		Header:    newHeader(version),
		Allocator: allocator,
		Directory: directory,
		MiniAlloc: miniAlloc,

		backing: backing,
		mode:    Update,
		cfg:     cfg,
		log:     cfg.logger(),
	}, nil
}

func (c *CompoundFile) load() error {
	validation := c.cfg.Validation

	bufLen, err := c.backing.Size()
	if err != nil {
		return ioError("stat", err)
	}

	if int(bufLen) < HEADER_LEN {
		return fmt.Errorf("file is smaller than a header: %w", ErrorInvalidCFB)
	}

	headerBuf := make([]byte, HEADER_LEN)
	err = readFull(c.backing, headerBuf, 0)
	if err != nil {
		return ioError("read header", err)
	}

	header := &Header{}
	err = header.readFrom(bytes.NewReader(headerBuf), validation)
	if err != nil {
		return err
	}

	sectorLen := header.Version.SectorLen()
	if bufLen > ((int64(MAX_REGULAR_SECTOR) + 1) * int64(sectorLen)) {
		return fmt.Errorf("file is too large: %w", ErrorInvalidCFB)
	}

	if bufLen < int64(sectorLen) {
		return fmt.Errorf("file is too small: %w", ErrorInvalidCFB)
	}

	sectors, err := NewSectors(header.Version, c.backing, c.cfg.CacheSize)
	if err != nil {
		return err
	}
	numSectors, err := sectors.NumSectors()
	if err != nil {
		return err
	}

	difat := make([]uint32, len(header.InitialDifatEntries))
	copy(difat, header.InitialDifatEntries)

	seenSectorIds := make(map[uint32]bool)
	difatSectorIds := make([]uint32, 0)
	currentDifatSector := header.FirstDifatSector
	sector := make([]byte, sectorLen)
	perSector := header.Version.FatEntriesPerSector()

	for currentDifatSector != END_OF_CHAIN {
		if currentDifatSector > MAX_REGULAR_SECTOR {
			return fmt.Errorf("invalid DIFAT chain: %w", ErrorInvalidCFB)
		} else if currentDifatSector >= numSectors {
			return fmt.Errorf("invalid DIFAT chain includes sector index %v: %w", currentDifatSector, ErrorInvalidCFB)
		}

		if seenSectorIds[currentDifatSector] {
			return fmt.Errorf("DIFAT chain includes duplicate sector index %v: %w", currentDifatSector, ErrorInvalidCFB)
		}

		seenSectorIds[currentDifatSector] = true
		difatSectorIds = append(difatSectorIds, currentDifatSector)

		err = sectors.ReadAt(currentDifatSector, 0, sector)
		if err != nil {
			return err
		}

		for i := 0; i < perSector-1; i++ {
			next := binary.LittleEndian.Uint32(sector[i*4:])
			if next != FREE_SECTOR && next > MAX_REGULAR_SECTOR {
				return fmt.Errorf("DIFAT refers to invalid sector index %v: %w", next, ErrorInvalidCFB)
			}
			difat = append(difat, next)
		}

		currentDifatSector = binary.LittleEndian.Uint32(sector[(perSector-1)*4:])
		// Some writers terminate the DIFAT chain with FREE_SECTOR.
		if currentDifatSector == FREE_SECTOR {
			currentDifatSector = END_OF_CHAIN
		}
	}

	if validation.IsStrict() &&
		header.NumDifatSectors != uint32(len(difatSectorIds)) {
		return fmt.Errorf("incorrect DIFAT chain length (header says %v, actual is %v): %w",
			header.NumDifatSectors, len(difatSectorIds), ErrorInvalidCFB)
	}

	// FREE entries may only pad the end of the DIFAT
	fatSectorIds := make([]uint32, 0, len(difat))
	for _, sectorId := range difat {
		if sectorId != FREE_SECTOR {
			fatSectorIds = append(fatSectorIds, sectorId)
		}
	}
	difat = fatSectorIds

	if validation.IsStrict() &&
		header.NumFatSectors != uint32(len(difat)) {
		return fmt.Errorf("incorrect number of FAT sectors (header says %v, DIFAT says %v): %w",
			header.NumFatSectors, len(difat), ErrorInvalidCFB)
	}

	fat := make([]uint32, 0, len(difat)*perSector)
	for _, sectorId := range difat {
		if sectorId >= numSectors {
			return fmt.Errorf("invalid FAT sector index %v: %w", sectorId, ErrorInvalidCFB)
		}

		err = sectors.ReadAt(sectorId, 0, sector)
		if err != nil {
			return err
		}
		for i := 0; i < perSector; i++ {
			fat = append(fat, binary.LittleEndian.Uint32(sector[i*4:]))
		}
	}

	if !validation.IsStrict() {
		for len(fat) > int(numSectors) && fat[len(fat)-1] == 0 {
			fat = fat[:len(fat)-1]
		}
	}
	fat = trimFree(fat)

	allocator, err := NewAllocator(sectors, difatSectorIds, difat, fat, c.cfg.SectorRecycle, validation)
	if err != nil {
		return err
	}
	if allocator.repaired > 0 {
		c.log.Warn("repaired FAT markers", zap.String("path", c.path), zap.Int("count", allocator.repaired))
	}

	// Read in directory.
	dirSectorIds, err := allocator.Chain(header.FirstDirSector)
	if err != nil {
		return fmt.Errorf("directory chain: %w", err)
	}
	if len(dirSectorIds) == 0 {
		return fmt.Errorf("directory chain is empty: %w", ErrorInvalidCFB)
	}

	dirEntries := make([]*DirEntry, 0, len(dirSectorIds)*header.Version.DirEntriesPerSector())
	for _, sectorId := range dirSectorIds {
		err = sectors.ReadAt(sectorId, 0, sector)
		if err != nil {
			return err
		}

		for i := 0; i < header.Version.DirEntriesPerSector(); i++ {
			entry, err := ReadDirEntry(sector[i*DIR_ENTRY_LEN:(i+1)*DIR_ENTRY_LEN], header.Version, validation)
			if err != nil {
				return err
			}

			dirEntries = append(dirEntries, entry)
		}
	}

	directory, err := NewDirectory(allocator, dirEntries, header.FirstDirSector, validation)
	if err != nil {
		return err
	}

	chain, err := NewChain(allocator, header.FirstMinifatSector)
	if err != nil {
		return fmt.Errorf("MiniFAT chain: %w", err)
	}

	if validation.IsStrict() && header.NumMinifatSectors != chain.NumSectors() {
		return fmt.Errorf("incorrect number of MiniFAT sectors (header says %v, FAT says %v): %w",
			header.NumMinifatSectors, chain.NumSectors(), ErrorInvalidCFB)
	}

	minifatBytes := make([]byte, chain.Len())
	_, err = io.ReadFull(chain, minifatBytes)
	if err != nil {
		return err
	}

	minifat := make([]uint32, 0, len(minifatBytes)/4)
	for i := 0; i+4 <= len(minifatBytes); i += 4 {
		minifat = append(minifat, binary.LittleEndian.Uint32(minifatBytes[i:]))
	}
	minifat = trimFree(minifat)

	miniAlloc, err := NewMiniAlloc(directory, allocator, minifat, header.FirstMinifatSector, c.cfg.SectorRecycle)
	if err != nil {
		return err
	}

	c.Header = header
	c.Allocator = allocator
	c.Directory = directory
	c.generation++
	c.MiniAlloc = miniAlloc
	c.closed = false

	c.log.Debug("compound file loaded",
		zap.String("path", c.path),
		zap.Int("version", int(header.Version)),
		zap.Uint32("sectors", numSectors),
		zap.Int("entries", len(dirEntries)),
		zap.Stringer("mode", c.mode))

	return nil
}

func (c *CompoundFile) Version() Version {
	return c.Header.Version
}

func (c *CompoundFile) Mode() UpdateMode {
	return c.mode
}

// FileSize is the size of the backing storage as of the last commit.
func (c *CompoundFile) FileSize() (int64, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	size, err := c.backing.Size()
	if err != nil {
		return 0, ioError("stat", err)
	}
	return size, nil
}

// Close releases the backing storage. Uncommitted changes are discarded.
func (c *CompoundFile) Close() error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	c.closed = true
	c.Allocator = nil
	c.Directory = nil
	c.MiniAlloc = nil

	if closer, ok := c.backing.(io.Closer); ok {
		err := closer.Close()
		if err != nil {
			return ioError("close", err)
		}
	}

	c.log.Debug("compound file closed", zap.String("path", c.path))
	return nil
}

func (c *CompoundFile) checkOpen() error {
	if c.closed {
		return ErrorClosed
	}
	return nil
}

func (c *CompoundFile) checkWritable() error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.mode != Update {
		return ErrorReadOnly
	}
	return nil
}
