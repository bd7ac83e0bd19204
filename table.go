package cfbstore

import (
	"fmt"
	"sort"
)

// fatTable is the index-linked allocation table shared by the FAT and the
// MiniFAT. Entry i holds the index following i in its chain, END_OF_CHAIN,
// FREE_SECTOR, or a reserved marker.
type fatTable struct {
	name    string
	entries []uint32
	recycle bool

	// free holds reusable indices in descending order, so the lowest is
	// popped first. Only maintained when recycle is set.
	free []uint32
}

func newFatTable(name string, entries []uint32, recycle bool) fatTable {
	t := fatTable{
		name:    name,
		entries: entries,
		recycle: recycle,
	}
	if recycle {
		for i := len(entries) - 1; i >= 0; i-- {
			if entries[i] == FREE_SECTOR {
				t.free = append(t.free, uint32(i))
			}
		}
	}
	return t
}

func (t *fatTable) Len() int {
	return len(t.entries)
}

func (t *fatTable) Next(index uint32) (uint32, error) {
	if index >= uint32(len(t.entries)) {
		return 0, fmt.Errorf("%s index %v is outside of %v entries: %w", t.name, index, len(t.entries), ErrorCorruptAllocation)
	}

	nextId := t.entries[index]
	if nextId != END_OF_CHAIN && (nextId > MAX_REGULAR_SECTOR || nextId >= uint32(len(t.entries))) {
		return 0, fmt.Errorf("%s entry %v points to invalid index %v: %w", t.name, index, nextId, ErrorCorruptAllocation)
	}

	return nextId, nil
}

// Chain resolves the ordered indices of the chain starting at start.
func (t *fatTable) Chain(start uint32) ([]uint32, error) {
	ids := make([]uint32, 0)
	if start == END_OF_CHAIN {
		return ids, nil
	}

	seen := make(map[uint32]bool)
	current := start
	for current != END_OF_CHAIN {
		if current >= uint32(len(t.entries)) {
			return nil, fmt.Errorf("%s chain from %v reaches index %v outside of %v entries: %w",
				t.name, start, current, len(t.entries), ErrorCorruptAllocation)
		}
		if seen[current] {
			return nil, fmt.Errorf("%s chain from %v revisits index %v: %w", t.name, start, current, ErrorCorruptAllocation)
		}
		seen[current] = true
		ids = append(ids, current)

		var err error
		current, err = t.Next(current)
		if err != nil {
			return nil, err
		}
	}

	return ids, nil
}

func (t *fatTable) MarkEndOfChain(index uint32) {
	t.entries[index] = END_OF_CHAIN
}

// take reserves one index, marking it with value.
func (t *fatTable) take(value uint32) (uint32, error) {
	if n := len(t.free); n > 0 {
		id := t.free[n-1]
		t.free = t.free[:n-1]
		t.entries[id] = value
		return id, nil
	}

	if uint32(len(t.entries)) > MAX_REGULAR_SECTOR {
		return 0, fmt.Errorf("%s is full", t.name)
	}
	t.entries = append(t.entries, value)
	return uint32(len(t.entries) - 1), nil
}

func (t *fatTable) release(id uint32) {
	t.entries[id] = FREE_SECTOR
	if !t.recycle {
		return
	}

	pos := sort.Search(len(t.free), func(i int) bool { return t.free[i] <= id })
	t.free = append(t.free, 0)
	copy(t.free[pos+1:], t.free[pos:])
	t.free[pos] = id
}

// allocate reserves a linked chain of n indices, calling init on each.
func (t *fatTable) allocate(n int, init func(uint32) error) ([]uint32, error) {
	ids := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		id, err := t.take(END_OF_CHAIN)
		if err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			t.entries[ids[len(ids)-1]] = id
		}
		ids = append(ids, id)

		err = init(id)
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// validate checks that no index is pointed to twice and every link stays
// inside the table.
func (t *fatTable) validate() error {
	pointees := make(map[uint32]bool)
	for idx, next := range t.entries {
		if next <= MAX_REGULAR_SECTOR {
			if next >= uint32(len(t.entries)) {
				return fmt.Errorf("%s entry %v points to %v, but there are only %v entries: %w",
					t.name, idx, next, len(t.entries), ErrorCorruptAllocation)
			}
			if pointees[next] {
				return fmt.Errorf("%s entry %v points to %v, which is already pointed to by another entry: %w",
					t.name, idx, next, ErrorCorruptAllocation)
			}
			pointees[next] = true
		} else if next == INVALID_SECTOR {
			return fmt.Errorf("%s entry %v holds the invalid sector marker: %w", t.name, idx, ErrorCorruptAllocation)
		}
	}
	return nil
}

// trimFree drops trailing free entries.
func trimFree(entries []uint32) []uint32 {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i] != FREE_SECTOR {
			break
		}
		entries = entries[:i]
	}
	return entries
}
