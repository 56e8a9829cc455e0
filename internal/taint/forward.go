package taint

import (
	"github.com/cxapython/armtrace/internal/classify"
	"github.com/cxapython/armtrace/internal/memtaint"
	"github.com/cxapython/armtrace/internal/regid"
	"github.com/cxapython/armtrace/internal/store"
	"github.com/cxapython/armtrace/internal/traceevent"
)

// ForwardOptions configures a forward taint run.
type ForwardOptions struct {
	SameCallOnly bool
	MaxSteps     int // 0 resolves to DefaultForwardMaxSteps

	// TrackMemory enables byte-level memory taint (load-hit/store
	// propagation). Forced on whenever the caller supplies initial memory
	// sources, since those are meaningless without it.
	TrackMemory bool

	// ImplicitFlow names control-flow-derived taint (e.g. tainting a
	// branch's target block). This is not a symbolic executor and does
	// not model implicit flows — the flag exists so callers can express
	// intent, but setting it true has no effect. Left false by every
	// caller in this repo.
	ImplicitFlow bool

	Cancel CancelFunc
}

func (o ForwardOptions) maxSteps() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return DefaultForwardMaxSteps
}

// Forward runs the forward taint engine from startIdx with the given
// initial tainted registers and byte addresses, returning the ordered,
// deduplicated list of affected event indices.
func Forward(s *store.Store, startIdx int, sourceRegs []string, sourceBytes []uint32, opts ForwardOptions) []int {
	if startIdx < 0 || startIdx >= s.Len() {
		return nil
	}

	var tainted regid.Set
	for _, r := range sourceRegs {
		tainted = tainted.AddName(r)
	}

	mem := memtaint.New()
	trackMem := opts.TrackMemory || len(sourceBytes) > 0
	for _, b := range sourceBytes {
		mem.MarkRange(b, 1)
	}

	baseCall := s.Event(startIdx).CallID
	maxSteps := opts.maxSteps()

	var hits []int
	steps := 0
	for i := startIdx; i < s.Len(); i++ {
		if opts.Cancel != nil && opts.Cancel() {
			break
		}
		ev := s.Event(i)

		if opts.SameCallOnly && ev.CallID != baseCall {
			continue
		}
		if steps >= maxSteps {
			break
		}
		steps++

		used := false

		anyReadTainted := hasAnyTaintedRead(tainted, ev)
		if anyReadTainted {
			used = true
		}

		loadHit := false
		if trackMem && ev.IsLoad() && ev.EffAddrValid {
			if mem.AnyInRange(uint32(ev.EffAddr), ev.MemWidth) {
				loadHit = true
				used = true
			}
		}

		if classify.IsMultiReg(ev.Asm) {
			if forwardMultiReg(ev, &tainted, mem, trackMem) {
				used = true
			}
		} else {
			_, bfcPartial := classify.IsBitfieldOp(ev.Asm)
			for rd := range ev.Writes {
				rdTainted := tainted.HasName(rd)

				if classify.IsConstZeroWrite(ev.Asm) {
					tainted = tainted.RemoveName(rd)
					if rdTainted {
						used = true
					}
					continue
				}

				propagated := anyReadTainted || loadHit
				if propagated {
					tainted = tainted.AddName(rd)
					used = true
					continue
				}

				// Sanitization cascade. Most arms only count as a hit
				// when they remove (or deliberately preserve) an actual
				// taint; a constant write over a clean register is not
				// an affected event. cset/csetm are the exception and
				// are always recorded as sanitization events.
				switch {
				case classify.IsImmediateWrite(ev.Asm):
					tainted = tainted.RemoveName(rd)
					if rdTainted {
						used = true
					}
				case isConstPoolLoad(s, i, ev):
					tainted = tainted.RemoveName(rd)
					if rdTainted {
						used = true
					}
				case bfcPartial:
					if rdTainted {
						used = true // bfc: partial write, keep taint
					}
				case classify.IsCondSet(ev.Asm):
					tainted = tainted.RemoveName(rd)
					used = true
				case classify.IsAdrp(ev.Asm):
					tainted = tainted.RemoveName(rd)
					if rdTainted {
						used = true
					}
				case classify.IsMovk(ev.Asm):
					if rdTainted {
						used = true // movk: no propagation, no sanitization
					}
				}
			}

			if trackMem && ev.IsStore() && ev.EffAddrValid {
				for _, src := range classify.StoreSourceRegs(ev.Asm) {
					if tainted.HasName(src) {
						mem.MarkRange(uint32(ev.EffAddr), ev.MemWidth)
						used = true
						break
					}
				}
			}
		}

		if used {
			hits = append(hits, i)
		}
	}
	return hits
}

// AdvancedForward is Forward with the advanced-mode step budget when the
// caller leaves MaxSteps unset.
func AdvancedForward(s *store.Store, startIdx int, sourceRegs []string, sourceBytes []uint32, opts ForwardOptions) []int {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = AdvancedForwardMaxSteps
	}
	return Forward(s, startIdx, sourceRegs, sourceBytes, opts)
}

// forwardMultiReg handles the multi-register forms push/pop/ldm/stm/
// ldrd/strd, returning whether the event should be recorded as a hit.
func forwardMultiReg(ev *traceevent.Event, tainted *regid.Set, mem *memtaint.Set, trackMem bool) bool {
	asm := ev.Asm
	switch {
	case classify.IsPush(asm) || classify.IsStm(asm):
		used := false
		for _, r := range classify.RegList(asm) {
			if tainted.HasName(r) {
				used = true
				break
			}
		}
		return used

	case classify.IsPop(asm) || classify.IsLdm(asm):
		if !trackMem {
			return false
		}
		used := false
		hasTaintedMem := mem.Len() > 0
		if hasTaintedMem {
			for _, r := range classify.RegList(asm) {
				*tainted = tainted.AddName(r)
			}
			used = true
		}
		return used

	case classify.IsStrd(asm):
		ops := classify.StoreSourceRegs(asm)
		anyTainted := false
		for _, r := range ops {
			if tainted.HasName(r) {
				anyTainted = true
				break
			}
		}
		if anyTainted && trackMem && ev.EffAddrValid {
			mem.MarkRange(uint32(ev.EffAddr), 8)
			return true
		}
		return anyTainted

	case classify.IsLdrd(asm):
		if !trackMem || !ev.EffAddrValid {
			return false
		}
		if mem.AnyInRange(uint32(ev.EffAddr), 8) {
			for rd := range ev.Writes {
				*tainted = tainted.AddName(rd)
			}
			return true
		}
		return false
	}
	return false
}
