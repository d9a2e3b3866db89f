// Package ostree implements an order-statistics multiset over 64-bit
// integer keys as a bitwise binary trie (most-significant bit first).
//
// Every trie node stores the number of keys in its subtree, so rank and
// quantile queries walk at most 64 levels regardless of how many distinct
// keys are stored. There is no rebalancing and no rehashing, which keeps
// insert/delete cost flat under the high churn of a sliding window.
package ostree

// node children are arena indices rather than pointers. Pruning an empty
// subtree pushes its indices onto a free list instead of deallocating.
type node struct {
	count int64
	child [2]int32
}

const nilIdx int32 = -1

// Tree is an order-statistics multiset. Not safe for concurrent use;
// callers serialize access.
type Tree struct {
	nodes []node
	free  []int32
	total int64
}

// New returns an empty tree with the root preallocated at index 0.
func New() *Tree {
	t := &Tree{nodes: make([]node, 0, 64)}
	t.nodes = append(t.nodes, node{child: [2]int32{nilIdx, nilIdx}})
	return t
}

func (t *Tree) alloc() int32 {
	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		t.nodes[idx] = node{child: [2]int32{nilIdx, nilIdx}}
		return idx
	}
	t.nodes = append(t.nodes, node{child: [2]int32{nilIdx, nilIdx}})
	return int32(len(t.nodes) - 1)
}

// freeSubtree recycles every arena index under idx, inclusive.
func (t *Tree) freeSubtree(idx int32) {
	stack := []int32{idx}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, ch := range t.nodes[cur].child {
			if ch != nilIdx {
				stack = append(stack, ch)
			}
		}
		t.free = append(t.free, cur)
	}
}

// Insert adds delta occurrences of key. A negative delta removes
// previously inserted occurrences; when a subtree's count reaches zero it
// is pruned so a full remove leaves no residual trace. Callers must keep
// inserts and removes symmetric — removing a key that was never inserted
// is undefined.
func (t *Tree) Insert(key uint64, delta int64) {
	t.total += delta
	cur := int32(0)

	for i := 63; i >= 0; i-- {
		bit := (key >> uint(i)) & 1
		ch := t.nodes[cur].child[bit]
		if ch == nilIdx {
			ch = t.alloc()
			t.nodes[cur].child[bit] = ch
		}

		if delta < 0 && t.nodes[ch].count+delta == 0 {
			t.nodes[cur].child[bit] = nilIdx
			t.freeSubtree(ch)
			return
		}

		t.nodes[ch].count += delta
		cur = ch
	}
}

// FindNth returns the key with exactly rank smaller keys in the multiset
// (0-based order statistic). The result is unspecified when rank >= Total();
// callers bound rank against the known window size.
func (t *Tree) FindNth(rank int64) uint64 {
	cur := int32(0)
	var key uint64
	var skipped int64

	for i := 63; i >= 0; i-- {
		l := t.nodes[cur].child[0]
		r := t.nodes[cur].child[1]

		if l != nilIdx {
			if t.nodes[l].count+skipped > rank || r == nilIdx {
				cur = l
				continue
			}
			skipped += t.nodes[l].count
		}

		if r != nilIdx {
			key |= 1 << uint(i)
			cur = r
			continue
		}

		break
	}

	return key
}

// FindNum returns the number of stored keys strictly below key, and the
// count at-or-below key's leaf.
func (t *Tree) FindNum(key uint64) (below, atOrBelow int64) {
	cur := int32(0)

	for i := 63; i >= 0; i-- {
		bit := (key >> uint(i)) & 1
		if bit == 0 {
			l := t.nodes[cur].child[0]
			if l == nilIdx {
				return below, below
			}
			cur = l
		} else {
			if l := t.nodes[cur].child[0]; l != nilIdx {
				below += t.nodes[l].count
			}
			r := t.nodes[cur].child[1]
			if r == nilIdx {
				return below, below
			}
			cur = r
		}
	}

	return below, below + t.nodes[cur].count
}

// Total returns the multiset cardinality.
func (t *Tree) Total() int64 {
	return t.total
}
