package cfbstore

import "fmt"

// Sibling trees are red-black trees threaded through the directory arena by
// LeftSibling and RightSibling. Entries carry no parent link, so insertion
// records the path from the root instead.

func (d *Directory) isRed(id uint32) bool {
	return id != NO_STREAM && d.DirEntries[id].Color == Red
}

func (d *Directory) inorder(root uint32) ([]uint32, error) {
	ids := make([]uint32, 0)
	stack := make([]uint32, 0)
	current := root

	for current != NO_STREAM || len(stack) > 0 {
		for current != NO_STREAM {
			if len(stack)+len(ids) > len(d.DirEntries) {
				return nil, fmt.Errorf("sibling tree at entry %v has a cycle: %w", root, ErrorInvalidCFB)
			}
			stack = append(stack, current)
			current = d.DirEntries[current].LeftSibling
		}

		current = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		ids = append(ids, current)
		current = d.DirEntries[current].RightSibling
	}

	return ids, nil
}

// treeInsert links the entry id into the sibling tree of parent.
func (d *Directory) treeInsert(parent uint32, id uint32) error {
	node := d.DirEntries[id]
	node.LeftSibling = NO_STREAM
	node.RightSibling = NO_STREAM
	node.Color = Red

	path := make([]uint32, 0, 16)
	current := d.DirEntries[parent].Child
	order := OrderLess
	for current != NO_STREAM {
		if len(path) > len(d.DirEntries) {
			return fmt.Errorf("sibling tree of entry %v has a cycle: %w", parent, ErrorInvalidCFB)
		}
		path = append(path, current)

		entry := d.DirEntries[current]
		order = CompareNames(node.Name, entry.Name)
		switch order {
		case OrderLess:
			current = entry.LeftSibling
		case OrderGreater:
			current = entry.RightSibling
		default:
			return fmt.Errorf("%q: %w", node.Name, ErrorDuplicateName)
		}
	}

	if len(path) == 0 {
		d.DirEntries[parent].Child = id
	} else if last := d.DirEntries[path[len(path)-1]]; order == OrderLess {
		last.LeftSibling = id
	} else {
		last.RightSibling = id
	}

	path = append(path, id)
	d.insertFixup(parent, path)
	return nil
}

func (d *Directory) insertFixup(parent uint32, path []uint32) {
	k := len(path) - 1
	for k >= 2 && d.isRed(path[k-1]) {
		p, g := path[k-1], path[k-2]
		grand := d.DirEntries[g]

		if grand.LeftSibling == p {
			uncle := grand.RightSibling
			if d.isRed(uncle) {
				d.DirEntries[p].Color = Black
				d.DirEntries[uncle].Color = Black
				grand.Color = Red
				k -= 2
				continue
			}
			if d.DirEntries[p].RightSibling == path[k] {
				d.rotateLeft(parent, path, k-1)
			}
			d.DirEntries[path[k-1]].Color = Black
			grand.Color = Red
			d.rotateRight(parent, path, k-2)
		} else {
			uncle := grand.LeftSibling
			if d.isRed(uncle) {
				d.DirEntries[p].Color = Black
				d.DirEntries[uncle].Color = Black
				grand.Color = Red
				k -= 2
				continue
			}
			if d.DirEntries[p].LeftSibling == path[k] {
				d.rotateRight(parent, path, k-1)
			}
			d.DirEntries[path[k-1]].Color = Black
			grand.Color = Red
			d.rotateLeft(parent, path, k-2)
		}
		break
	}

	d.DirEntries[d.DirEntries[parent].Child].Color = Black
}

// replaceLink points whatever referenced path[i] at replacement.
func (d *Directory) replaceLink(parent uint32, path []uint32, i int, replacement uint32) {
	old := path[i]
	if i == 0 {
		d.DirEntries[parent].Child = replacement
		return
	}

	above := d.DirEntries[path[i-1]]
	if above.LeftSibling == old {
		above.LeftSibling = replacement
	} else {
		above.RightSibling = replacement
	}
}

func (d *Directory) rotateLeft(parent uint32, path []uint32, i int) {
	n := path[i]
	r := d.DirEntries[n].RightSibling
	d.DirEntries[n].RightSibling = d.DirEntries[r].LeftSibling
	d.DirEntries[r].LeftSibling = n
	d.replaceLink(parent, path, i, r)

	path[i] = r
	if i+1 < len(path) && path[i+1] == r {
		path[i+1] = n
	}
}

func (d *Directory) rotateRight(parent uint32, path []uint32, i int) {
	n := path[i]
	l := d.DirEntries[n].LeftSibling
	d.DirEntries[n].LeftSibling = d.DirEntries[l].RightSibling
	d.DirEntries[l].RightSibling = n
	d.replaceLink(parent, path, i, l)

	path[i] = l
	if i+1 < len(path) && path[i+1] == l {
		path[i+1] = n
	}
}

// rebuildTree relinks ids, given in canonical order, as a balanced tree
// below parent. Nodes on the incomplete bottom level are red, the rest
// black, which satisfies the red-black rules.
func (d *Directory) rebuildTree(parent uint32, ids []uint32) {
	fullLevels := 0
	for (1<<(fullLevels+1))-1 <= len(ids) {
		fullLevels++
	}
	d.DirEntries[parent].Child = d.buildBalanced(ids, 0, fullLevels)
}

func (d *Directory) buildBalanced(ids []uint32, depth, redDepth int) uint32 {
	if len(ids) == 0 {
		return NO_STREAM
	}

	mid := len(ids) / 2
	node := d.DirEntries[ids[mid]]
	node.LeftSibling = d.buildBalanced(ids[:mid], depth+1, redDepth)
	node.RightSibling = d.buildBalanced(ids[mid+1:], depth+1, redDepth)
	node.Color = Black
	if depth >= redDepth {
		node.Color = Red
	}
	return ids[mid]
}

// isRedBlack reports whether the sibling tree of parent is ordered and
// satisfies the red-black coloring rules.
func (d *Directory) isRedBlack(parent uint32) (bool, error) {
	root := d.DirEntries[parent].Child
	if root == NO_STREAM {
		return true, nil
	}
	if d.isRed(root) {
		return false, nil
	}

	ids, err := d.inorder(root)
	if err != nil {
		return false, err
	}
	for i := 1; i < len(ids); i++ {
		if CompareNames(d.DirEntries[ids[i-1]].Name, d.DirEntries[ids[i]].Name) != OrderLess {
			return false, nil
		}
	}

	_, ok := d.blackHeight(root)
	return ok, nil
}

func (d *Directory) blackHeight(id uint32) (int, bool) {
	if id == NO_STREAM {
		return 1, true
	}

	entry := d.DirEntries[id]
	if entry.Color == Red && (d.isRed(entry.LeftSibling) || d.isRed(entry.RightSibling)) {
		return 0, false
	}

	left, ok := d.blackHeight(entry.LeftSibling)
	if !ok {
		return 0, false
	}
	right, ok := d.blackHeight(entry.RightSibling)
	if !ok || left != right {
		return 0, false
	}

	if entry.Color == Black {
		left++
	}
	return left, true
}
