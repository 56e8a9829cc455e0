// Package reconstruct implements the Register Reconstructor: regs_at(i)
// returns the full architectural register map observable after event i
// executes, combining periodic checkpoints taken during parsing with a
// bounded LRU cache and incremental replay.
package reconstruct

import (
	"github.com/cxapython/armtrace/internal/lru"
	"github.com/cxapython/armtrace/internal/traceevent"
)

// DefaultCheckpointInterval is the default number of input lines between
// register checkpoints.
const DefaultCheckpointInterval = 2000

// DefaultLRUCapacity is the default bound on the reconstruction LRU.
const DefaultLRUCapacity = 1024

// sequentialWindow bounds the "sequential acceleration" shortcut: taken
// when |i - recent_access_idx| < 100.
const sequentialWindow = 100

// midpointCacheThreshold is the replay distance beyond which a midpoint
// snapshot is also cached.
const midpointCacheThreshold = 50

// EventSource is the minimal read-only view of the parsed event store a
// Reconstructor needs: indexed access to events and their line numbers.
type EventSource interface {
	Len() int
	At(i int) *traceevent.Event
}

// Checkpoints maps a source line number to the full register map observed
// at or before that line, taken every checkpoint_interval lines during
// parsing. Frozen once parsing completes.
type Checkpoints struct {
	interval int
	byLine   map[int]traceevent.RegMap
	lines    []int // ascending, for "latest at or before" lookup
}

// NewCheckpoints creates an empty checkpoint table with the given interval.
func NewCheckpoints(interval int) *Checkpoints {
	if interval <= 0 {
		interval = DefaultCheckpointInterval
	}
	return &Checkpoints{interval: interval, byLine: make(map[int]traceevent.RegMap)}
}

// Interval returns the configured checkpoint interval.
func (c *Checkpoints) Interval() int { return c.interval }

// MaybeRecord snapshots regs at lineNo if lineNo falls on a checkpoint
// boundary (lineNo % interval == 0). Called once per appended event during
// parsing with the running current_regs map.
func (c *Checkpoints) MaybeRecord(lineNo int, regs traceevent.RegMap) {
	if c.interval <= 0 || lineNo%c.interval != 0 {
		return
	}
	if _, exists := c.byLine[lineNo]; exists {
		return
	}
	c.byLine[lineNo] = regs.Clone()
	c.lines = append(c.lines, lineNo)
}

// LatestAtOrBefore returns the checkpoint register map for the latest
// checkpoint line <= lineNo, and that line number, or ok=false if none
// exists (e.g. querying before the first checkpoint).
func (c *Checkpoints) LatestAtOrBefore(lineNo int) (traceevent.RegMap, int, bool) {
	best := -1
	for _, l := range c.lines {
		if l <= lineNo && l > best {
			best = l
		}
	}
	if best < 0 {
		return nil, 0, false
	}
	return c.byLine[best], best, true
}

// snapshot is what the LRU caches: the full register map after replaying
// up to and including some event index.
type snapshot struct {
	regs traceevent.RegMap
}

// Reconstructor implements regs_at(i)'s cache-hit / sequential-
// acceleration / checkpoint-replay algorithm.
type Reconstructor struct {
	events      EventSource
	checkpoints *Checkpoints
	cache       *lru.Cache[snapshot]

	recentAccessIdx int
	hasRecent       bool
}

// New creates a Reconstructor over events, backed by checkpoints, with the
// default LRU capacity.
func New(events EventSource, checkpoints *Checkpoints) *Reconstructor {
	return &Reconstructor{
		events:      events,
		checkpoints: checkpoints,
		cache:       lru.New[snapshot](DefaultLRUCapacity),
	}
}

// RegsAt returns the register map observable after event i executes.
// Returns an empty map for i < 0.
func (r *Reconstructor) RegsAt(i int) traceevent.RegMap {
	if i < 0 {
		return traceevent.RegMap{}
	}

	// Step 1: cache hit.
	if snap, ok := r.cache.Get(i); ok {
		r.recentAccessIdx, r.hasRecent = i, true
		return snap.regs
	}

	startState, startIdx := r.startingPoint(i)

	// Step 5 (midpoint caching) needs the replay distance up front.
	distance := i - startIdx + 1

	regs := startState
	mid := -1
	if distance > midpointCacheThreshold {
		mid = startIdx + distance/2
	}

	for k := startIdx; k <= i; k++ {
		ev := r.events.At(k)
		applyEvent(regs, ev)
		if k == mid {
			r.cache.Put(k, snapshot{regs: regs.Clone()})
		}
	}

	r.cache.Put(i, snapshot{regs: regs.Clone()})
	r.recentAccessIdx, r.hasRecent = i, true
	return regs
}

// RegsBefore returns the register map observable before event i executes,
// i.e. regs_at(i-1). Implements effaddr.RegSource.
func (r *Reconstructor) RegsBefore(i int) traceevent.RegMap {
	return r.RegsAt(i - 1)
}

// startingPoint prefers sequential acceleration from the last queried
// cached index, else the nearest cached key at or before i, else the
// latest checkpoint at or before the event's line number, else a cold
// start from the beginning of the trace.
func (r *Reconstructor) startingPoint(i int) (traceevent.RegMap, int) {
	if r.hasRecent && r.recentAccessIdx <= i && i-r.recentAccessIdx < sequentialWindow {
		if snap, ok := r.cache.Get(r.recentAccessIdx); ok {
			return snap.regs.Clone(), r.recentAccessIdx + 1
		}
	}

	if k, ok := r.cache.MaxKeyAtMost(i); ok {
		if snap, ok := r.cache.Get(k); ok {
			return snap.regs.Clone(), k + 1
		}
	}

	if r.checkpoints != nil {
		lineNo := r.events.At(i).LineNo
		if regs, line, ok := r.checkpoints.LatestAtOrBefore(lineNo); ok {
			start := findEventAfterLine(r.events, line)
			return regs.Clone(), start
		}
	}

	return traceevent.RegMap{}, 0
}

// findEventAfterLine returns the smallest event index whose LineNo is
// strictly greater than line, or events.Len() if none (cold-start replay
// then covers the whole prefix, which is correct but slow — checkpoints
// exist precisely to avoid this).
func findEventAfterLine(events EventSource, line int) int {
	lo, hi := 0, events.Len()
	for lo < hi {
		mid := (lo + hi) / 2
		if events.At(mid).LineNo <= line {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// applyEvent performs the replay step shared by parsing and
// reconstruction — the same operation used during parsing to maintain
// current_regs: fill in reads for registers not yet observed, then apply
// writes unconditionally.
func applyEvent(regs traceevent.RegMap, ev *traceevent.Event) {
	for k, v := range ev.Reads {
		if _, present := regs[k]; !present {
			regs[k] = v
		}
	}
	for k, v := range ev.Writes {
		regs[k] = v
	}
}

// ApplyEvent is applyEvent exported for the parser, which must maintain an
// identical running current_regs map while appending events.
func ApplyEvent(regs traceevent.RegMap, ev *traceevent.Event) {
	applyEvent(regs, ev)
}
