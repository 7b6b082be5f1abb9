// Package region implements the bump/arena allocator a fiber uses for all
// of its heap traffic. A region is a chain of fixed-minimum-size pages;
// allocation is monotonic and the whole chain is released in one shot when
// the owning fiber retires.
package region

import (
	"fmt"

	"github.com/ehrlich-b/go-fiber/internal/constants"
)

// page is a single arena page: a flat byte buffer with a high-water mark.
type page struct {
	buf  []byte
	used int
	next *page
}

// Region is a linked list of pages owned by exactly one fiber. The zero
// value is a valid, empty region: the first allocation lazily creates the
// initial page.
type Region struct {
	head *page // most recently prepended page; allocations land here first
	// pagesFreed is incremented by Release and exists purely so tests can
	// observe that a region's pages were actually returned (spec S4).
	pagesFreed int

	// lastAllocPage/lastAllocStart identify the most recent Alloc's start
	// offset within its page, so Reallocate can detect the "grow the
	// trailing allocation in place" fast path without pointer arithmetic.
	lastAllocPage  *page
	lastAllocStart int

	// minPageSize overrides constants.DefaultRegionPageSize for this
	// region when non-zero, set via SetMinPageSize before the first Alloc.
	minPageSize int
}

// SetMinPageSize overrides the minimum page size newly grown pages use.
// Must be called before the first Alloc; it has no effect on pages
// already linked into the chain.
func (r *Region) SetMinPageSize(n int) {
	r.minPageSize = n
}

// align rounds n up to constants.MaxAlign.
func align(n int) int {
	rem := n % constants.MaxAlign
	if rem == 0 {
		return n
	}
	return n + (constants.MaxAlign - rem)
}

// Alloc returns size bytes, aligned to the platform max-align, valid until
// the region is released. It never returns an error: exhaustion of the
// process's own memory is treated as fatal and panics, matching spec.md
// §4.2's "alloc never returns null" contract.
func (r *Region) Alloc(size int) []byte {
	if size < 0 {
		panic(fmt.Sprintf("region: negative allocation size %d", size))
	}
	need := align(size)

	if r.head == nil || r.head.capRemaining() < need {
		r.growFor(need)
	}

	p := r.head
	start := p.used
	p.used += need
	r.lastAllocPage = p
	r.lastAllocStart = start
	return p.buf[start : start+size : start+need]
}

// capRemaining reports how many unused bytes remain in the page.
func (p *page) capRemaining() int {
	return len(p.buf) - p.used
}

// growFor links a fresh page in front of the chain sized to satisfy at
// least `need` bytes.
func (r *Region) growFor(need int) {
	size := r.minPageSize
	if size <= 0 {
		size = constants.DefaultRegionPageSize
	}
	if need > size {
		size = need
	}
	r.head = &page{buf: make([]byte, size), next: r.head}
}

// Reallocate grows or shrinks a previously allocated block to newSize. If
// the block was the most recent allocation in the head page and there is
// enough trailing room, it is extended in place and the same backing
// array is returned. Otherwise a fresh block is allocated and the
// original contents copied in; the old space is not reclaimed.
func (r *Region) Reallocate(ptr []byte, newSize int) []byte {
	p := r.lastAllocPage
	trailing := p != nil && cap(ptr) > 0 && r.lastAllocStart < len(p.buf) &&
		&ptr[:1][0] == &p.buf[r.lastAllocStart] &&
		p.used == r.lastAllocStart+cap(ptr)
	if trailing {
		needExtra := align(newSize) - cap(ptr)
		if needExtra <= p.capRemaining() {
			p.used += needExtra
			start := r.lastAllocStart
			return p.buf[start : start+newSize : start+align(newSize)]
		}
	}
	fresh := r.Alloc(newSize)
	copy(fresh, ptr)
	return fresh
}

// Release frees the entire page chain. All pointers previously returned
// by Alloc/Reallocate become invalid; the region is left empty and may be
// reused by the next fiber that recycles the same id. PagesFreed keeps
// counting across releases, and the minimum page size is kept.
func (r *Region) Release() {
	for p := r.head; p != nil; {
		next := p.next
		p.buf = nil
		r.pagesFreed++
		p = next
	}
	r.head = nil
}

// PagesFreed reports how many pages have been returned by Release calls
// on this region, for tests that assert region memory is actually given
// back on fiber retire (spec S4).
func (r *Region) PagesFreed() int {
	return r.pagesFreed
}

// BytesInUse reports the sum of used bytes across every page in the
// chain, for the runtime's diagnostic Snapshot.
func (r *Region) BytesInUse() int {
	total := 0
	for p := r.head; p != nil; p = p.next {
		total += p.used
	}
	return total
}
