// Package store holds the append-only Event Store and its inverted
// indexes. Once parsing finishes, both are frozen and may be shared
// read-only by any number of concurrent analysis workers.
package store

import (
	"sort"

	"github.com/cxapython/armtrace/internal/regid"
	"github.com/cxapython/armtrace/internal/traceevent"
)

// Store is the dense, monotonically indexed sequence of parsed events plus
// the inverted indexes built over them.
type Store struct {
	Events []traceevent.Event

	PCIndex       map[uint64][]int
	RegReadIndex  map[string][]int
	RegWriteIndex map[string][]int

	// StoreAddrIndex maps a byte address (mod 2^32) to the ascending list
	// of store-event indices whose access covers that byte. Populated by
	// the effective-address resolver after parsing completes.
	StoreAddrIndex map[uint32][]int

	// FunctionCandidates holds sub_<hex> names registered as a side effect
	// of lexing branch instructions with literal targets.
	FunctionCandidates map[uint64]string
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		PCIndex:            make(map[uint64][]int),
		RegReadIndex:       make(map[string][]int),
		RegWriteIndex:      make(map[string][]int),
		StoreAddrIndex:     make(map[uint32][]int),
		FunctionCandidates: make(map[uint64]string),
	}
}

// Append pushes ev onto the store and updates every index. The event's
// index becomes len(Events)-1.
func (s *Store) Append(ev traceevent.Event) int {
	s.Events = append(s.Events, ev)
	idx := len(s.Events) - 1

	s.PCIndex[ev.PC] = append(s.PCIndex[ev.PC], idx)

	for k := range ev.Reads {
		for _, alias := range regid.Aliases(k) {
			s.RegReadIndex[alias] = append(s.RegReadIndex[alias], idx)
		}
	}
	for k := range ev.Writes {
		for _, alias := range regid.Aliases(k) {
			s.RegWriteIndex[alias] = append(s.RegWriteIndex[alias], idx)
		}
	}
	return idx
}

// AddFunctionCandidate registers a branch-target function candidate. Later
// registrations for the same address are ignored: first name wins.
func (s *Store) AddFunctionCandidate(addr uint64, name string) {
	if _, ok := s.FunctionCandidates[addr]; !ok {
		s.FunctionCandidates[addr] = name
	}
}

// Event returns a pointer to the event at idx for in-place lazy field
// fill-in (effaddr/mem_op/mem_width), the one mutation events undergo
// after being appended.
func (s *Store) Event(idx int) *traceevent.Event { return &s.Events[idx] }

// At is Event under the name internal/reconstruct.EventSource expects.
func (s *Store) At(idx int) *traceevent.Event { return &s.Events[idx] }

// Len returns the number of events in the store.
func (s *Store) Len() int { return len(s.Events) }

// PrevWrite returns the largest index < i at which reg (or an alias) was
// written, or (-1, false) if none exists.
func (s *Store) PrevWrite(reg string, i int) (int, bool) {
	return prevIn(s.aliasUnion(s.RegWriteIndex, reg), i)
}

// NextWrite returns the smallest index > i at which reg (or an alias) was
// written, or (-1, false) if none exists.
func (s *Store) NextWrite(reg string, i int) (int, bool) {
	return nextIn(s.aliasUnion(s.RegWriteIndex, reg), i)
}

// ReadsInRange returns the ascending indices in (loExcl, hiExcl) at which
// reg (or an alias) was read.
func (s *Store) ReadsInRange(reg string, loExcl, hiExcl int) []int {
	idxs := s.aliasUnion(s.RegReadIndex, reg)
	lo := sort.SearchInts(idxs, loExcl+1)
	hi := sort.SearchInts(idxs, hiExcl)
	if lo >= hi {
		return nil
	}
	out := make([]int, hi-lo)
	copy(out, idxs[lo:hi])
	return out
}

// aliasUnion merges the index lists for every alias of reg into one sorted
// deduplicated slice. Append inserts under every alias, so an event that
// touches x0 sits in both the x0 and w0 lists; the merge must collapse
// those. Most registers have a single-element alias set, so this is cheap.
func (s *Store) aliasUnion(idx map[string][]int, reg string) []int {
	aliases := regid.Aliases(reg)
	if len(aliases) == 1 {
		return idx[aliases[0]]
	}
	var merged []int
	for _, a := range aliases {
		merged = append(merged, idx[a]...)
	}
	sort.Ints(merged)
	out := merged[:0]
	for _, v := range merged {
		if len(out) == 0 || out[len(out)-1] != v {
			out = append(out, v)
		}
	}
	return out
}

// IndexStore records that the store event at idx touches width bytes
// starting at addr (mod 2^32), inserting idx into StoreAddrIndex for every
// byte in the span — a 4-byte store at A inserts entries for A, A+1, A+2,
// A+3. Called once per store event during the effective-address precompute
// pass, in ascending event order, so each per-address list stays sorted by
// construction.
func (s *Store) IndexStore(idx int, addr uint32, width int) {
	for k := 0; k < width; k++ {
		a := addr + uint32(k)
		s.StoreAddrIndex[a] = append(s.StoreAddrIndex[a], idx)
	}
}

// StoresCovering returns the ascending list of store-event indices whose
// access span includes byte addr.
func (s *Store) StoresCovering(addr uint32) []int {
	return s.StoreAddrIndex[addr]
}

// PrevStoreCovering returns the largest store-event index < i whose access
// span includes byte addr, or (-1, false) if none exists.
func (s *Store) PrevStoreCovering(addr uint32, i int) (int, bool) {
	return prevIn(s.StoreAddrIndex[addr], i)
}

func prevIn(idxs []int, i int) (int, bool) {
	pos := sort.SearchInts(idxs, i)
	if pos == 0 {
		return -1, false
	}
	return idxs[pos-1], true
}

func nextIn(idxs []int, i int) (int, bool) {
	pos := sort.SearchInts(idxs, i+1)
	if pos >= len(idxs) {
		return -1, false
	}
	return idxs[pos], true
}
