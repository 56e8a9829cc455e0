package taint

import (
	"github.com/cxapython/armtrace/internal/classify"
	"github.com/cxapython/armtrace/internal/memtaint"
	"github.com/cxapython/armtrace/internal/regid"
	"github.com/cxapython/armtrace/internal/store"
	"github.com/cxapython/armtrace/internal/traceevent"
)

// Tag is a backward-taint termination classification.
type Tag int

const (
	TagNone Tag = iota
	TagImmediate
	TagImmediateZero
	TagConstPool
	TagParameter
	TagSyscall
	TagStackVar
)

func (t Tag) String() string {
	switch t {
	case TagImmediate:
		return "immediate"
	case TagImmediateZero:
		return "immediate-zero"
	case TagConstPool:
		return "const-pool"
	case TagParameter:
		return "parameter"
	case TagSyscall:
		return "syscall"
	case TagStackVar:
		return "stack-var"
	default:
		return "none"
	}
}

// Termination records where and why the backward walk stopped following
// one register's provenance.
type Termination struct {
	Index int
	Reg   string
	Tag   Tag
}

// BackwardResult is the outcome of a backward taint run: the ascending hit
// list plus the termination events encountered along the way — the
// earliest element's classification is one of the termination tags.
type BackwardResult struct {
	Hits           []int
	Terminations   []Termination
	BudgetExceeded bool
}

// BackwardOptions configures a backward taint run.
type BackwardOptions struct {
	SameCallOnly bool
	MaxSteps     int // 0 resolves to DefaultBackwardMaxSteps
	Cancel       CancelFunc
}

func (o BackwardOptions) maxSteps() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return DefaultBackwardMaxSteps
}

const parameterLookbackWindow = 50

var paramRegs32 = map[string]bool{"r0": true, "r1": true, "r2": true, "r3": true}
var paramRegs64 = map[string]bool{
	"x0": true, "x1": true, "x2": true, "x3": true, "x4": true, "x5": true, "x6": true, "x7": true,
	"w0": true, "w1": true, "w2": true, "w3": true, "w4": true, "w5": true, "w6": true, "w7": true,
}
var syscallRegs = map[string]bool{"r0": true, "x0": true, "w0": true}

func isParamReg(name string) bool { return paramRegs32[name] || paramRegs64[name] }

// backwardState bundles the mutable per-query state threaded through one
// Backward walk: tainted_regs, terminated_regs, and tainted_mem.
type backwardState struct {
	tainted    regid.Set
	terminated regid.Set
	mem        *memtaint.Set
}

// Backward runs the backward taint engine from startIdx for target
// register reg, descending to index 0.
func Backward(s *store.Store, startIdx int, reg string, opts BackwardOptions) BackwardResult {
	var res BackwardResult
	if startIdx < 0 || startIdx >= s.Len() {
		return res
	}

	st := &backwardState{mem: memtaint.New()}
	st.tainted = st.tainted.AddName(reg)

	baseCall := s.Event(startIdx).CallID
	maxSteps := opts.maxSteps()

	var hitsDesc []int
	steps := 0

	for i := startIdx; i >= 0; i-- {
		if opts.Cancel != nil && opts.Cancel() {
			break
		}
		ev := s.Event(i)

		if opts.SameCallOnly && ev.CallID != baseCall {
			continue
		}
		if steps >= maxSteps {
			res.BudgetExceeded = true
			break
		}
		steps++

		if tag, rd, used := st.writeStep(s, i, ev); used {
			if tag != TagNone {
				res.Terminations = append(res.Terminations, Termination{Index: i, Reg: rd, Tag: tag})
			}
			hitsDesc = append(hitsDesc, i)
			continue
		}

		if tag, rn, used := st.readStep(s, i, ev); used {
			if tag != TagNone {
				res.Terminations = append(res.Terminations, Termination{Index: i, Reg: rn, Tag: tag})
			}
			hitsDesc = append(hitsDesc, i)
			continue
		}

		if st.storeStep(ev) {
			hitsDesc = append(hitsDesc, i)
		}
	}

	res.Hits = make([]int, len(hitsDesc))
	for k, v := range hitsDesc {
		res.Hits[len(hitsDesc)-1-k] = v
	}
	return res
}

// writeStep: if any written register of ev is tainted and not terminated,
// classify and either terminate or reverse-propagate from ev.Reads (and,
// for a load, from the memory it read).
func (st *backwardState) writeStep(s *store.Store, i int, ev *traceevent.Event) (Tag, string, bool) {
	for rd := range ev.Writes {
		if !st.tainted.HasName(rd) || st.terminated.HasName(rd) {
			continue
		}

		tag := classifyBackwardSource(s, i, ev, rd, true)
		if tag != TagNone {
			st.terminated = st.terminated.AddName(rd)
			return tag, rd, true
		}

		for rn := range ev.Reads {
			st.tainted = st.tainted.AddName(rn)
		}
		if classify.IsLoad(ev.Mnemonic()) && ev.EffAddrValid {
			st.mem.MarkRange(uint32(ev.EffAddr), ev.MemWidth)
		}
		return TagNone, rd, true
	}
	return TagNone, "", false
}

// readStep also runs the termination classifier against a tainted
// register encountered only as a read, not a write (generalized — see
// DESIGN.md): without this, a register with no write anywhere in the
// trace (e.g. an incoming parameter) would never terminate and the walk
// would re-hit every earlier read of it, when a single hit is wanted.
func (st *backwardState) readStep(s *store.Store, i int, ev *traceevent.Event) (Tag, string, bool) {
	for rn := range ev.Reads {
		if !st.tainted.HasName(rn) || st.terminated.HasName(rn) {
			continue
		}
		tag := classifyBackwardSource(s, i, ev, rn, false)
		if tag != TagNone {
			st.terminated = st.terminated.AddName(rn)
		}
		return tag, rn, true
	}
	return TagNone, "", false
}

// storeStep: a str whose effaddr range intersects tainted_mem adds its
// source-value and base/index registers to tainted_regs. This is how a
// backward walk hops across a store/load pair to the same address.
func (st *backwardState) storeStep(ev *traceevent.Event) bool {
	if !classify.IsStore(ev.Mnemonic()) || !ev.EffAddrValid {
		return false
	}
	if !st.mem.AnyInRange(uint32(ev.EffAddr), ev.MemWidth) {
		return false
	}
	for _, r := range classify.StoreSourceRegs(ev.Asm) {
		st.tainted = st.tainted.AddName(r)
	}
	for _, br := range classify.BracketRegs(ev.Asm) {
		st.tainted = st.tainted.AddName(br)
	}
	return true
}

// classifyBackwardSource is the termination classifier.
// isWriteOccurrence selects whether ev's write-shaped predicates
// (immediate, immediate-zero, const-pool, stack-var) apply: those
// describe how ev computes its destination and only make sense when ev is
// the instruction writing reg. The syscall predicate applies regardless of
// whether reg was encountered via a write or a plain read; the parameter
// predicate applies only to a plain read, since an instruction writing reg
// is itself where reg's value comes from.
func classifyBackwardSource(s *store.Store, i int, ev *traceevent.Event, reg string, isWriteOccurrence bool) Tag {
	if isWriteOccurrence {
		// A "pure" immediate write has no register reads feeding it — a
		// form like "eor rs, rs, #0x14" also matches the mnemonic/'#'
		// shape but still depends on rs, so provenance must keep walking
		// into it rather than terminate here.
		pureImmediate := len(ev.Reads) == 0 &&
			(classify.IsImmediateWrite(ev.Asm) || classify.IsAdrp(ev.Asm))

		// stack-var is checked ahead of const-pool: a [sp...] load whose
		// slot was filled before the trace started has no in-trace store
		// either, and calling that a compile-time literal would be wrong.
		switch {
		case classify.IsConstZeroWrite(ev.Asm):
			return TagImmediateZero
		case pureImmediate:
			return TagImmediate
		case classify.IsStackVarLoad(ev.Asm):
			return TagStackVar
		case isConstPoolLoad(s, i, ev):
			return TagConstPool
		}
	}

	if i > 0 && syscallRegs[reg] {
		if s.Event(i-1).Mnemonic() == "svc" {
			return TagSyscall
		}
	}

	if !isWriteOccurrence && isParamReg(reg) {
		if idx, ok := s.PrevWrite(reg, i); !ok || i-idx > parameterLookbackWindow {
			return TagParameter
		}
	}

	return TagNone
}
