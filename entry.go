package cfbstore

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry describes a storage or stream of an open compound file.
type Entry struct {
	Name         string
	Path         string
	ObjType      ObjectType
	CLSID        uuid.UUID
	StateBits    uint32
	CreationTime uint64
	ModifiedTime uint64
	StreamLen    uint64
}

func NewEntry(dirEntry *DirEntry, path string) *Entry {
	entry := Entry{
		Name:         dirEntry.Name,
		Path:         path,
		ObjType:      dirEntry.ObjType,
		CLSID:        dirEntry.CLSID,
		StateBits:    dirEntry.StateBits,
		CreationTime: dirEntry.CreationTime,
		ModifiedTime: dirEntry.ModifiedTime,
		StreamLen:    dirEntry.StreamSize,
	}

	return &entry
}

func (e *Entry) IsStream() bool {
	return e.ObjType == ObjStream
}

func (e *Entry) IsStorage() bool {
	return e.ObjType == ObjStorage || e.ObjType == ObjRoot
}

func (e *Entry) Created() time.Time {
	return TimeFromFileTime(e.CreationTime)
}

func (e *Entry) Modified() time.Time {
	return TimeFromFileTime(e.ModifiedTime)
}

// 100ns intervals between 1601-01-01 and 1970-01-01.
const fileTimeEpochDelta = 116444736000000000

// FileTime converts t to a Windows FILETIME.
func FileTime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano()/100 + fileTimeEpochDelta)
}

// TimeFromFileTime converts a Windows FILETIME; zero stays the zero time.
func TimeFromFileTime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	return time.Unix(0, (int64(ft)-fileTimeEpochDelta)*100).UTC()
}

func (c *CompoundFile) RootEntry() *Entry {
	return NewEntry(c.Directory.RootDirEntry(), "/")
}

func (c *CompoundFile) lookup(path string) (uint32, string, error) {
	if err := c.checkOpen(); err != nil {
		return 0, "", err
	}

	names := NameChainFromPath(path)
	streamId, err := c.Directory.StreamIDForNameChain(names)
	if err != nil {
		return 0, "", err
	}
	return streamId, PathFromNameChain(names), nil
}

// lookupParent resolves the storage that holds the last element of path.
func (c *CompoundFile) lookupParent(path string) (uint32, string, error) {
	if err := c.checkOpen(); err != nil {
		return 0, "", err
	}

	names := NameChainFromPath(path)
	if len(names) == 0 {
		return 0, "", fmt.Errorf("%q names the root entry: %w", path, ErrorInvalidName)
	}

	parent, err := c.Directory.StreamIDForNameChain(names[:len(names)-1])
	if err != nil {
		return 0, "", err
	}
	if objType := c.Directory.DirEntries[parent].ObjType; objType != ObjStorage && objType != ObjRoot {
		return 0, "", fmt.Errorf("%v: %w", PathFromNameChain(names[:len(names)-1]), ErrorNotStorage)
	}

	return parent, names[len(names)-1], nil
}

func (c *CompoundFile) Entry(path string) (*Entry, error) {
	streamId, clean, err := c.lookup(path)
	if err != nil {
		return nil, err
	}
	return NewEntry(c.Directory.DirEntries[streamId], clean), nil
}

// ReadDir returns the children of the storage at path in canonical order.
func (c *CompoundFile) ReadDir(path string) ([]*Entry, error) {
	streamId, clean, err := c.lookup(path)
	if err != nil {
		return nil, err
	}
	if c.Directory.DirEntries[streamId].ObjType == ObjStream {
		return nil, fmt.Errorf("%v: %w", clean, ErrorNotStorage)
	}

	children, err := c.Directory.ListChildren(streamId)
	if err != nil {
		return nil, err
	}

	names := NameChainFromPath(clean)
	entries := make([]*Entry, 0, len(children))
	for _, child := range children {
		dirEntry := c.Directory.DirEntries[child]
		entries = append(entries, NewEntry(dirEntry, PathFromNameChain(append(names, dirEntry.Name))))
	}
	return entries, nil
}

// ListChildren returns the names of the children of the storage at path.
func (c *CompoundFile) ListChildren(path string) ([]string, error) {
	entries, err := c.ReadDir(path)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name)
	}
	return names, nil
}

// Walk visits every entry below the root depth first, in canonical order.
func (c *CompoundFile) Walk(fn func(*Entry) error) error {
	return c.walk("/", fn)
}

func (c *CompoundFile) walk(path string, fn func(*Entry) error) error {
	entries, err := c.ReadDir(path)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		err = fn(entry)
		if err != nil {
			return err
		}
		if entry.IsStorage() {
			err = c.walk(entry.Path, fn)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// ListStreams returns the path of every stream in the file.
func (c *CompoundFile) ListStreams() ([]string, error) {
	paths := make([]string, 0)
	err := c.Walk(func(entry *Entry) error {
		if entry.IsStream() {
			paths = append(paths, entry.Path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

func (c *CompoundFile) CreateStorage(path string) error {
	if err := c.checkWritable(); err != nil {
		return err
	}

	parent, name, err := c.lookupParent(path)
	if err != nil {
		return err
	}

	_, err = c.Directory.Insert(parent, NewDirEntry(name, ObjStorage, FileTime(time.Now())))
	return err
}

// CreateStream adds an empty stream at path.
func (c *CompoundFile) CreateStream(path string) (*Stream, error) {
	if err := c.checkWritable(); err != nil {
		return nil, err
	}

	parent, name, err := c.lookupParent(path)
	if err != nil {
		return nil, err
	}

	streamId, err := c.Directory.Insert(parent, NewDirEntry(name, ObjStream, 0))
	if err != nil {
		return nil, err
	}

	return newStream(c, streamId), nil
}

// Remove deletes the stream or empty storage at path. Freed sectors are
// reused or reclaimed only by a later Shrink.
func (c *CompoundFile) Remove(path string) error {
	return c.remove(path, false)
}

// RemoveAll deletes path and everything below it.
func (c *CompoundFile) RemoveAll(path string) error {
	return c.remove(path, true)
}

func (c *CompoundFile) remove(path string, recursive bool) error {
	if err := c.checkWritable(); err != nil {
		return err
	}

	parent, name, err := c.lookupParent(path)
	if err != nil {
		return err
	}

	return c.Directory.Remove(parent, name, recursive, c.freeStreams)
}

// Rename gives the entry at path a new name within the same storage.
func (c *CompoundFile) Rename(path, newName string) error {
	if err := c.checkWritable(); err != nil {
		return err
	}

	parent, name, err := c.lookupParent(path)
	if err != nil {
		return err
	}

	return c.Directory.Rename(parent, name, newName)
}

func (c *CompoundFile) SetCLSID(path string, clsid uuid.UUID) error {
	return c.updateEntry(path, func(entry *DirEntry) {
		entry.CLSID = clsid
	})
}

func (c *CompoundFile) SetStateBits(path string, bits uint32) error {
	return c.updateEntry(path, func(entry *DirEntry) {
		entry.StateBits = bits
	})
}

func (c *CompoundFile) updateEntry(path string, fn func(*DirEntry)) error {
	if err := c.checkWritable(); err != nil {
		return err
	}

	streamId, _, err := c.lookup(path)
	if err != nil {
		return err
	}

	fn(c.Directory.DirEntries[streamId])
	return nil
}
