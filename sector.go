package cfbstore

import (
	"encoding/binary"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
)

type SectorInit int

const (
	SectorInitZero SectorInit = iota
	SectorInitFat
	SectorInitDifat
)

// Initialize fills a freshly allocated sector buffer.
func (s SectorInit) Initialize(buf []byte) {
	switch s {
	case SectorInitFat:
		for i := 0; i+4 <= len(buf); i += 4 {
			binary.LittleEndian.PutUint32(buf[i:], FREE_SECTOR)
		}
	case SectorInitDifat:
		for i := 0; i+4 <= len(buf); i += 4 {
			binary.LittleEndian.PutUint32(buf[i:], FREE_SECTOR)
		}
		binary.LittleEndian.PutUint32(buf[len(buf)-4:], END_OF_CHAIN)
	default:
		clear(buf)
	}
}

const defaultCacheSize = 256

// Sectors is the sector-granular view of the backing storage. Modified
// sectors stay in memory until Flush; clean ones are kept in an LRU.
type Sectors struct {
	Version Version

	backing Backing
	cache   *lru.Cache[uint32, []byte]
	dirty   map[uint32][]byte
}

func NewSectors(v Version, backing Backing, cacheSize int) (*Sectors, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[uint32, []byte](cacheSize)
	if err != nil {
		return nil, err
	}

	return &Sectors{
		Version: v,
		backing: backing,
		cache:   cache,
		dirty:   make(map[uint32][]byte),
	}, nil
}

func (s *Sectors) SectorLen() int {
	return s.Version.SectorLen()
}

func (s *Sectors) offset(sectorId uint32) int64 {
	return (int64(sectorId) + 1) * int64(s.SectorLen())
}

// NumSectors is the number of sectors currently present in the backing storage.
func (s *Sectors) NumSectors() (uint32, error) {
	size, err := s.backing.Size()
	if err != nil {
		return 0, ioError("stat", err)
	}
	sectorLen := int64(s.SectorLen())
	if size < sectorLen {
		return 0, nil
	}
	return uint32(((size + sectorLen - 1) / sectorLen) - 1), nil
}

func (s *Sectors) load(sectorId uint32) ([]byte, error) {
	if buf, ok := s.dirty[sectorId]; ok {
		return buf, nil
	}
	if buf, ok := s.cache.Get(sectorId); ok {
		return buf, nil
	}

	buf := make([]byte, s.SectorLen())
	err := readFull(s.backing, buf, s.offset(sectorId))
	if err != nil {
		return nil, ioError(fmt.Sprintf("read sector %v", sectorId), err)
	}
	s.cache.Add(sectorId, buf)
	return buf, nil
}

func (s *Sectors) ReadAt(sectorId uint32, offset int, p []byte) error {
	if offset+len(p) > s.SectorLen() {
		return fmt.Errorf("read of %v bytes at %v overruns sector %v: %w", len(p), offset, sectorId, ErrorOutOfRange)
	}
	buf, err := s.load(sectorId)
	if err != nil {
		return err
	}
	copy(p, buf[offset:])
	return nil
}

func (s *Sectors) WriteAt(sectorId uint32, offset int, p []byte) error {
	if offset+len(p) > s.SectorLen() {
		return fmt.Errorf("write of %v bytes at %v overruns sector %v: %w", len(p), offset, sectorId, ErrorOutOfRange)
	}
	buf, ok := s.dirty[sectorId]
	if !ok {
		clean, err := s.load(sectorId)
		if err != nil {
			return err
		}
		buf = make([]byte, len(clean))
		copy(buf, clean)
		s.cache.Remove(sectorId)
		s.dirty[sectorId] = buf
	}
	copy(buf[offset:], p)
	return nil
}

// Init replaces the content of a sector without reading it first.
func (s *Sectors) Init(sectorId uint32, init SectorInit) {
	buf := make([]byte, s.SectorLen())
	init.Initialize(buf)
	s.cache.Remove(sectorId)
	s.dirty[sectorId] = buf
}

// Discard forgets any buffered content of a freed sector.
func (s *Sectors) Discard(sectorId uint32) {
	delete(s.dirty, sectorId)
	s.cache.Remove(sectorId)
}

func (s *Sectors) NumDirty() int {
	return len(s.dirty)
}

// Flush writes dirty sectors in ascending order. Sectors written before a
// failure are no longer dirty.
func (s *Sectors) Flush() error {
	ids := make([]uint32, 0, len(s.dirty))
	for id := range s.dirty {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		buf := s.dirty[id]
		_, err := s.backing.WriteAt(buf, s.offset(id))
		if err != nil {
			return ioError(fmt.Sprintf("write sector %v", id), err)
		}
		delete(s.dirty, id)
		s.cache.Add(id, buf)
	}
	return nil
}

// Release drops every clean cached sector.
func (s *Sectors) Release() {
	s.cache.Purge()
}
