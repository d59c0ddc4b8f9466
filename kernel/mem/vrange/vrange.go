// Package vrange implements the per-context virtual address range
// allocator (C2): a half-open interval list over a context's canonical
// address space, used by the paging engine to decide where a request for
// n pages should land before any page table entries are touched.
//
// Nodes live in an arena slice referenced by index rather than by pointer,
// per the specification's re-architecture note for the original raw
// pointer-graph design: a List's nodes are never individually freed, only
// recycled onto an internal free list, so an index handed out by Alloc
// stays valid for the node's entire lifetime.
package vrange

import (
	"comus/kernel"
	"comus/kernel/errors"
	"comus/kernel/mem"
)

const noNode = int32(-1)

// node is a [start, end) interval tagged free or allocated. next chains
// nodes in ascending address order; it is the only linkage a node carries,
// matching the specification's singly-forward-linked Design Note.
type node struct {
	start, end uintptr
	free       bool
	next       int32
}

// List is one context's virtual range list: a single ascending chain of
// free/allocated nodes covering the interval it was created with.
type List struct {
	arena    []node
	head     int32
	freeNode int32 // head of the arena's own free-node recycle list, linked via node.next
}

// New creates a List whose sole node spans [start, end), marked free. start
// and end must already be page-aligned; callers typically pass a context's
// entire canonical user range here and then Take the ranges that must stay
// reserved (kernel image, early allocations) before handing the list to
// user code.
func New(start, end uintptr) *List {
	l := &List{
		arena:    make([]node, 0, 64),
		head:     noNode,
		freeNode: noNode,
	}
	l.head = l.newNode(start, end, true, noNode)
	return l
}

// newNode returns the index of a node with the given fields, reusing a
// recycled arena slot if one is available before growing the arena.
func (l *List) newNode(start, end uintptr, free bool, next int32) int32 {
	n := node{start: start, end: end, free: free, next: next}

	if l.freeNode != noNode {
		idx := l.freeNode
		l.freeNode = l.arena[idx].next
		l.arena[idx] = n
		return idx
	}

	l.arena = append(l.arena, n)
	return int32(len(l.arena) - 1)
}

// releaseNode recycles idx onto the arena's free-node list so a future
// newNode call can reuse its slot instead of growing the arena.
func (l *List) releaseNode(idx int32) {
	l.arena[idx].next = l.freeNode
	l.freeNode = idx
}

// Alloc finds the first free node with at least nPages of room, carves an
// allocated region of that size from its front, and returns its base
// address. It returns an error if no free node is large enough.
func (l *List) Alloc(nPages uint32) (uintptr, *kernel.Error) {
	if nPages == 0 {
		return 0, errors.New(errors.BadParameter)
	}

	size := uintptr(nPages) * uintptr(mem.PageSize)

	for idx := l.head; idx != noNode; idx = l.arena[idx].next {
		n := l.arena[idx]
		if !n.free || n.end-n.start < size {
			continue
		}

		allocStart := n.start
		if n.end-n.start == size {
			l.arena[idx].free = false
		} else {
			l.arena[idx].start = n.start + size
			tail := l.newNode(allocStart, allocStart+size, false, idx)
			l.insertBefore(idx, tail)
		}

		return allocStart, nil
	}

	return 0, errors.New(errors.OutOfMemory)
}

// insertBefore splices newIdx into the chain immediately before idx,
// fixing up whichever node (or the list head) previously pointed at idx.
func (l *List) insertBefore(idx, newIdx int32) {
	if l.head == idx {
		l.head = newIdx
		return
	}

	for p := l.head; p != noNode; p = l.arena[p].next {
		if l.arena[p].next == idx {
			l.arena[p].next = newIdx
			return
		}
	}
}

// Take reserves the exact range [va, va+nPages*PageSize) as allocated. It
// fails unless that whole range lies within a single free node.
func (l *List) Take(va uintptr, nPages uint32) *kernel.Error {
	if nPages == 0 {
		return errors.New(errors.BadParameter)
	}

	start := va
	end := va + uintptr(nPages)*uintptr(mem.PageSize)

	for idx := l.head; idx != noNode; idx = l.arena[idx].next {
		n := l.arena[idx]
		if !n.free || start < n.start || end > n.end {
			continue
		}

		switch {
		case start == n.start && end == n.end:
			l.arena[idx].free = false
		case start == n.start:
			l.arena[idx].start = end
			mid := l.newNode(start, end, false, idx)
			l.insertBefore(idx, mid)
		case end == n.end:
			l.arena[idx].end = start
			tail := l.newNode(start, end, false, l.arena[idx].next)
			l.arena[idx].next = tail
		default:
			tailFree := l.newNode(end, n.end, true, l.arena[idx].next)
			mid := l.newNode(start, end, false, tailFree)
			l.arena[idx].end = start
			l.arena[idx].next = mid
		}

		return nil
	}

	return errors.New(errors.OutOfMemory)
}

// Free locates the allocated node that starts exactly at va, flips it to
// free and coalesces it with any adjacent free neighbors. It returns the
// number of pages the node covered.
func (l *List) Free(va uintptr) (uint32, *kernel.Error) {
	var prev int32 = noNode
	for idx := l.head; idx != noNode; prev, idx = idx, l.arena[idx].next {
		if l.arena[idx].free || l.arena[idx].start != va {
			continue
		}

		l.arena[idx].free = true
		pages := uint32((l.arena[idx].end - l.arena[idx].start) / uintptr(mem.PageSize))

		// Coalesce forward.
		if next := l.arena[idx].next; next != noNode && l.arena[next].free {
			l.arena[idx].end = l.arena[next].end
			l.arena[idx].next = l.arena[next].next
			l.releaseNode(next)
		}

		// Coalesce backward.
		if prev != noNode && l.arena[prev].free {
			l.arena[prev].end = l.arena[idx].end
			l.arena[prev].next = l.arena[idx].next
			l.releaseNode(idx)
		}

		return pages, nil
	}

	return 0, errors.New(errors.NotFound)
}

// Grow extends the allocated node starting at va by addPages, consuming
// them from the immediately following free node. It is used by sbrk-style
// growth that must keep a process' heap as one contiguous node instead of
// fragmenting it across repeated Allocs, and fails if no node starts at va
// or the following node is not free or not large enough.
func (l *List) Grow(va uintptr, addPages uint32) *kernel.Error {
	if addPages == 0 {
		return errors.New(errors.BadParameter)
	}
	size := uintptr(addPages) * uintptr(mem.PageSize)

	for idx := l.head; idx != noNode; idx = l.arena[idx].next {
		if l.arena[idx].free || l.arena[idx].start != va {
			continue
		}

		next := l.arena[idx].next
		if next == noNode || !l.arena[next].free || l.arena[next].end-l.arena[next].start < size {
			return errors.New(errors.OutOfMemory)
		}

		l.arena[idx].end += size
		l.arena[next].start += size
		if l.arena[next].start == l.arena[next].end {
			l.arena[idx].next = l.arena[next].next
			l.releaseNode(next)
		}

		return nil
	}

	return errors.New(errors.NotFound)
}

// ShrinkTail reduces the allocated node starting at va so that it covers
// only newPages pages, releasing the trailing pages to a free node
// (coalesced with a following free neighbor exactly as Free does).
// newPages == 0 frees the node entirely, equivalent to Free(va).
func (l *List) ShrinkTail(va uintptr, newPages uint32) *kernel.Error {
	for idx := l.head; idx != noNode; idx = l.arena[idx].next {
		if l.arena[idx].free || l.arena[idx].start != va {
			continue
		}

		newSize := uintptr(newPages) * uintptr(mem.PageSize)
		curSize := l.arena[idx].end - l.arena[idx].start
		switch {
		case newSize > curSize:
			return errors.New(errors.BadParameter)
		case newSize == curSize:
			return nil
		case newSize == 0:
			_, err := l.Free(va)
			return err
		}

		freedStart := l.arena[idx].start + newSize
		freedEnd := l.arena[idx].end
		l.arena[idx].end = freedStart

		if next := l.arena[idx].next; next != noNode && l.arena[next].free {
			l.arena[next].start = freedStart
			return nil
		}

		tail := l.newNode(freedStart, freedEnd, true, l.arena[idx].next)
		l.arena[idx].next = tail
		return nil
	}

	return errors.New(errors.NotFound)
}

// PagesAt returns the page count of the allocated node starting at va, or 0
// if no such node exists. Callers that just grew or shrank a node (and so
// already know it exists) use this to recover its resulting size.
func (l *List) PagesAt(va uintptr) uint32 {
	for idx := l.head; idx != noNode; idx = l.arena[idx].next {
		if !l.arena[idx].free && l.arena[idx].start == va {
			return uint32((l.arena[idx].end - l.arena[idx].start) / uintptr(mem.PageSize))
		}
	}
	return 0
}

// Clone duplicates the entire node chain into a fresh, independent List.
func (l *List) Clone() *List {
	out := &List{
		arena:    make([]node, len(l.arena)),
		freeNode: noNode,
	}
	copy(out.arena, l.arena)

	// Re-home the free list at noNode: the clone starts with no recycled
	// slots of its own, since we copied the live chain verbatim and left
	// any recycled source slots (which are not reachable from l.head)
	// out of the new arena's live chain.
	idxByOld := make(map[int32]int32, len(l.arena))
	live := make([]node, 0, len(l.arena))
	for idx := l.head; idx != noNode; idx = l.arena[idx].next {
		idxByOld[idx] = int32(len(live))
		live = append(live, l.arena[idx])
	}
	for i := range live {
		if live[i].next != noNode {
			live[i].next = idxByOld[live[i].next]
		}
	}

	out.arena = live
	if len(live) == 0 {
		out.head = noNode
	} else {
		out.head = 0
	}

	return out
}

// Walk calls visit once per node from lowest to highest address, in order.
// Iteration stops early if visit returns false.
func (l *List) Walk(visit func(start, end uintptr, free bool) bool) {
	for idx := l.head; idx != noNode; idx = l.arena[idx].next {
		n := l.arena[idx]
		if !visit(n.start, n.end, n.free) {
			return
		}
	}
}
