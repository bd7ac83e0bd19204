package cfbstore

import (
	"errors"
	"fmt"
)

// Directory is the arena of directory entries. An entry's index is its
// stream ID, and every sibling link is an index into the same slice.
type Directory struct {
	Allocator      *Allocator
	DirEntries     []*DirEntry
	DirStartSector uint32
	Validation     Validation
}

func NewDirectory(allocator *Allocator, dirEntries []*DirEntry, dirStartSector uint32, validation Validation) (*Directory, error) {
	dir := Directory{
		Allocator:      allocator,
		DirEntries:     dirEntries,
		DirStartSector: dirStartSector,
		Validation:     validation,
	}

	err := dir.Validate()
	if err != nil {
		return nil, err
	}

	return &dir, nil
}

func newRootDirectory(allocator *Allocator, validation Validation) *Directory {
	root := NewDirEntry(ROOT_DIR_NAME, ObjRoot, 0)
	return &Directory{
		Allocator:      allocator,
		DirEntries:     []*DirEntry{root},
		DirStartSector: END_OF_CHAIN,
		Validation:     validation,
	}
}

func (d *Directory) RootDirEntry() *DirEntry {
	return d.DirEntries[ROOT_STREAM_ID]
}

func (d *Directory) Validate() error {
	if len(d.DirEntries) == 0 {
		return fmt.Errorf("directory has no entries: %w", ErrorInvalidCFB)
	}

	rootDirEntry := d.RootDirEntry()
	if rootDirEntry == nil {
		return fmt.Errorf("directory has no root entry: %w", ErrorInvalidCFB)
	}

	if rootDirEntry.StreamSize%uint64(MINI_SECTOR_LEN) != 0 {
		return fmt.Errorf("root stream len is %v, but should be multiple of %v: %w",
			rootDirEntry.StreamSize, MINI_SECTOR_LEN, ErrorInvalidCFB)
	}

	visited := make(map[uint32]bool)
	stack := []uint32{ROOT_STREAM_ID}

	for len(stack) > 0 {
		dirEntryId := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[dirEntryId] {
			return fmt.Errorf("directory has a cycle: %w", ErrorInvalidCFB)
		}

		visited[dirEntryId] = true

		dirEntry := d.DirEntries[dirEntryId]
		if dirEntryId == ROOT_STREAM_ID {
			if dirEntry.ObjType != ObjRoot {
				return fmt.Errorf("root entry has object type %v: %w", dirEntry.ObjType, ErrorInvalidCFB)
			}
		} else if dirEntry.ObjType != ObjStorage && dirEntry.ObjType != ObjStream {
			return fmt.Errorf("non-root entry %v with object type %v: %w", dirEntryId, dirEntry.ObjType, ErrorInvalidCFB)
		}

		links := []struct {
			id    uint32
			name  string
			order Ordering
		}{
			{dirEntry.LeftSibling, "left sibling", OrderLess},
			{dirEntry.RightSibling, "right sibling", OrderGreater},
			{dirEntry.Child, "child", OrderEqual},
		}
		for _, link := range links {
			if link.id == NO_STREAM {
				continue
			}
			if link.id >= uint32(len(d.DirEntries)) {
				return fmt.Errorf("%s index is %v, but directory entry count is %v: %w",
					link.name, link.id, len(d.DirEntries), ErrorInvalidCFB)
			}
			if link.id == ROOT_STREAM_ID {
				return fmt.Errorf("%s of entry %v points to the root entry: %w", link.name, dirEntryId, ErrorInvalidCFB)
			}

			if link.order != OrderEqual && d.Validation.IsStrict() {
				linked := d.DirEntries[link.id]
				if CompareNames(linked.Name, dirEntry.Name) != link.order {
					return fmt.Errorf("name ordering, %v vs %v: %w", linked.Name, dirEntry.Name, ErrorInvalidCFB)
				}
			}

			stack = append(stack, link.id)
		}

		if dirEntry.ObjType == ObjStream && dirEntry.Child != NO_STREAM {
			return fmt.Errorf("stream entry %v has a child: %w", dirEntryId, ErrorInvalidCFB)
		}
	}

	return nil
}

// Find returns the stream ID of the child of parent called name.
func (d *Directory) Find(parent uint32, name string) (uint32, error) {
	streamId := d.DirEntries[parent].Child
	for steps := 0; ; steps++ {
		if streamId == NO_STREAM {
			return 0, fmt.Errorf("%q: %w", name, ErrorEntryNotFound)
		}
		if steps > len(d.DirEntries) {
			return 0, fmt.Errorf("sibling tree of entry %v has a cycle: %w", parent, ErrorInvalidCFB)
		}

		dirEntry := d.DirEntries[streamId]
		switch CompareNames(name, dirEntry.Name) {
		case OrderEqual:
			return streamId, nil
		case OrderLess:
			streamId = dirEntry.LeftSibling
		case OrderGreater:
			streamId = dirEntry.RightSibling
		}
	}
}

func (d *Directory) StreamIDForNameChain(names []string) (uint32, error) {
	streamId := ROOT_STREAM_ID

	for _, name := range names {
		var err error
		streamId, err = d.Find(streamId, name)
		if err != nil {
			return 0, err
		}
	}

	return streamId, nil
}

// ListChildren returns the children of parent in canonical name order.
func (d *Directory) ListChildren(parent uint32) ([]uint32, error) {
	return d.inorder(d.DirEntries[parent].Child)
}

// Insert links entry below parent and returns its stream ID.
func (d *Directory) Insert(parent uint32, entry *DirEntry) (uint32, error) {
	err := ValidateName(entry.Name)
	if err != nil {
		return 0, err
	}

	parentEntry := d.DirEntries[parent]
	if parentEntry.ObjType != ObjStorage && parentEntry.ObjType != ObjRoot {
		return 0, fmt.Errorf("entry %q: %w", parentEntry.Name, ErrorNotStorage)
	}

	if _, err := d.Find(parent, entry.Name); err == nil {
		return 0, fmt.Errorf("%q: %w", entry.Name, ErrorDuplicateName)
	} else if !errors.Is(err, ErrorEntryNotFound) {
		return 0, err
	}

	ok, err := d.isRedBlack(parent)
	if err != nil {
		return 0, err
	}
	if !ok {
		children, err := d.ListChildren(parent)
		if err != nil {
			return 0, err
		}
		d.rebuildTree(parent, children)
	}

	id := d.allocSlot()
	d.DirEntries[id] = entry
	err = d.treeInsert(parent, id)
	if err != nil {
		d.DirEntries[id] = newUnallocatedDirEntry()
		return 0, err
	}

	return id, nil
}

// Remove unlinks the child name of parent. A storage with children is only
// removed when recursive is set. free receives every stream below the
// removed entry and releases either all of them or none; the directory is
// left untouched when it fails.
func (d *Directory) Remove(parent uint32, name string, recursive bool, free func([]*DirEntry) error) error {
	id, err := d.Find(parent, name)
	if err != nil {
		return err
	}

	entry := d.DirEntries[id]
	if entry.ObjType == ObjStorage && entry.Child != NO_STREAM && !recursive {
		return fmt.Errorf("%q: %w", name, ErrorStorageNotEmpty)
	}

	siblings, err := d.ListChildren(parent)
	if err != nil {
		return err
	}

	removed, err := d.subtree(id)
	if err != nil {
		return err
	}

	streams := make([]*DirEntry, 0, len(removed))
	for _, r := range removed {
		if d.DirEntries[r].ObjType == ObjStream {
			streams = append(streams, d.DirEntries[r])
		}
	}
	err = free(streams)
	if err != nil {
		return fmt.Errorf("remove %q: %w", name, err)
	}

	for _, r := range removed {
		d.DirEntries[r] = newUnallocatedDirEntry()
	}
	d.rebuildTree(parent, without(siblings, id))
	return nil
}

// subtree lists id followed by every entry below it.
func (d *Directory) subtree(id uint32) ([]uint32, error) {
	ids := []uint32{id}
	for i := 0; i < len(ids); i++ {
		if d.DirEntries[ids[i]].ObjType != ObjStorage {
			continue
		}
		children, err := d.ListChildren(ids[i])
		if err != nil {
			return nil, err
		}
		ids = append(ids, children...)
	}
	return ids, nil
}

func (d *Directory) Rename(parent uint32, oldName, newName string) error {
	err := ValidateName(newName)
	if err != nil {
		return err
	}

	id, err := d.Find(parent, oldName)
	if err != nil {
		return err
	}

	if other, err := d.Find(parent, newName); err == nil && other != id {
		return fmt.Errorf("%q: %w", newName, ErrorDuplicateName)
	}

	siblings, err := d.ListChildren(parent)
	if err != nil {
		return err
	}
	d.rebuildTree(parent, without(siblings, id))

	d.DirEntries[id].Name = newName
	return d.treeInsert(parent, id)
}

// allocSlot reuses the first unallocated entry or appends a new one.
func (d *Directory) allocSlot() uint32 {
	for id := 1; id < len(d.DirEntries); id++ {
		if d.DirEntries[id].ObjType == ObjUnallocated {
			return uint32(id)
		}
	}
	d.DirEntries = append(d.DirEntries, newUnallocatedDirEntry())
	return uint32(len(d.DirEntries) - 1)
}

// writeEntries stores the arena into the directory sector chain.
func (d *Directory) writeEntries() error {
	for len(d.DirEntries) > 1 && d.DirEntries[len(d.DirEntries)-1].ObjType == ObjUnallocated {
		d.DirEntries = d.DirEntries[:len(d.DirEntries)-1]
	}

	version := d.Allocator.Sectors.Version
	perSector := version.DirEntriesPerSector()
	start, err := d.Allocator.Resize(d.DirStartSector, ceilDiv(uint64(len(d.DirEntries)), perSector))
	if err != nil {
		return err
	}
	d.DirStartSector = start

	ids, err := d.Allocator.Chain(start)
	if err != nil {
		return err
	}

	unallocated := newUnallocatedDirEntry().bytes(version)
	for i, sectorId := range ids {
		for j := 0; j < perSector; j++ {
			buf := unallocated
			if idx := i*perSector + j; idx < len(d.DirEntries) {
				buf = d.DirEntries[idx].bytes(version)
			}
			err = d.Allocator.writeUnit(sectorId, j*DIR_ENTRY_LEN, buf)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func without(ids []uint32, id uint32) []uint32 {
	out := make([]uint32, 0, len(ids))
	for _, other := range ids {
		if other != id {
			out = append(out, other)
		}
	}
	return out
}
