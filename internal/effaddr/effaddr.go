// Package effaddr computes the memory address accessed by a load/store
// event and maintains a bounded effective-address LRU. It is a pure
// function of the operand text plus the register state immediately
// before the event (regs_at(i-1)) — never the raw trace text, and never
// mutates the event store beyond the one-shot lazy
// effaddr/mem_op/mem_width fill-in.
package effaddr

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cxapython/armtrace/internal/lru"
	"github.com/cxapython/armtrace/internal/traceevent"
)

// DefaultLRUCapacity is the default bound on the effective-address LRU.
const DefaultLRUCapacity = 8192

// RegSource supplies the register state observed before an event, i.e.
// regs_at(i-1). Implementations are expected to be internal/reconstruct's
// Reconstructor, kept as an interface here so effaddr has no import cycle
// on it.
type RegSource interface {
	RegsBefore(i int) traceevent.RegMap
}

// result is the cached outcome for one event index: either a resolved
// address or a recorded "unparseable" miss, so a repeat query never
// re-evaluates the grammar — two consecutive calls for the same index
// return identical values, and flushing the cache does not change the
// result.
type result struct {
	addr uint64
	ok   bool
}

// Resolver wraps Resolve with the bounded effective-address LRU and the
// one-shot lazy fill-in of Event.EffAddr/EffAddrValid/MemOp/MemWidth.
type Resolver struct {
	regs  RegSource
	cache *lru.Cache[result]
}

// NewResolver creates a Resolver with the default LRU capacity.
func NewResolver(regs RegSource) *Resolver {
	return &Resolver{regs: regs, cache: lru.New[result](DefaultLRUCapacity)}
}

// At returns the effective address for event i, computing and caching it
// on first access. Safe to call repeatedly; the cached result is stable
// across eviction and re-insertion.
func (r *Resolver) At(i int, asm string) (uint64, bool) {
	if cached, ok := r.cache.Get(i); ok {
		return cached.addr, cached.ok
	}
	addr, ok := Resolve(r.regs, i, asm)
	r.cache.Put(i, result{addr: addr, ok: ok})
	return addr, ok
}

// Fill populates ev's lazy EffAddr/EffAddrValid/MemOp/MemWidth fields for a
// load/store instruction. It is the one mutation an event undergoes after
// being appended to the store, and must run once, before any taint engine
// consumes the event.
func (r *Resolver) Fill(i int, ev *traceevent.Event) {
	mnemonic := ev.Mnemonic()
	op := MemOp(mnemonic)
	ev.MemOp = op
	if op == traceevent.MemNone {
		return
	}
	ev.MemWidth = Width(mnemonic, ev.Asm)
	if addr, ok := r.At(i, ev.Asm); ok {
		ev.EffAddr = addr
		ev.EffAddrValid = true
	}
}

// bracketRE captures the bracketed operand plus an optional trailing
// "!" (pre-index) or ", #imm" (post-index, written after the closing
// bracket).
var bracketRE = regexp.MustCompile(`\[([^\]]*)\](!)?(?:\s*,\s*#(-?0x[0-9a-fA-F]+|-?\d+))?`)

// Resolve computes the effective address for the load/store at event index
// i. ok is false when the address expression is unparseable (missing base
// register value, or operand syntax the grammar doesn't cover) — callers
// must treat this as traceerr.UnparseableEffAddr and degrade gracefully,
// never panic.
func Resolve(regs RegSource, i int, asm string) (addr uint64, ok bool) {
	m := bracketRE.FindStringSubmatch(asm)
	if m == nil {
		return 0, false
	}
	inner := m[1]
	before := regs.RegsBefore(i)

	parts := splitOperands(inner)
	if len(parts) == 0 {
		return 0, false
	}

	base, ok := before[strings.ToLower(parts[0])]
	if !ok {
		return 0, false
	}

	switch len(parts) {
	case 1:
		// [base] — simple register-indirect, or the base half of a
		// post-indexed "[base], #imm" form: address = regs[base], the
		// imm updates base only for later accesses.
		return uint64(uint32(base)), true
	case 2:
		// [base, #imm] or [base, index].
		if imm, isImm := parseImm(parts[1]); isImm {
			return uint64(uint32(int64(base) + imm)), true
		}
		idx, ok := before[strings.ToLower(parts[1])]
		if !ok {
			return 0, false
		}
		return uint64(uint32(base + idx)), true
	default:
		// [base, index, lsl #n] or [base, index, uxtw|sxtw|sxtx #n].
		idx, ok := before[strings.ToLower(parts[1])]
		if !ok {
			return 0, false
		}
		shift := parseShift(parts[2])
		return uint64(uint32(base + (idx << shift))), true
	}
}

// splitOperands splits a bracketed operand body on commas, trimming
// whitespace and dropping empty parts; a leading "#" is left in place for
// parseImm to strip.
func splitOperands(inner string) []string {
	raw := strings.Split(inner, ",")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseImm(tok string) (int64, bool) {
	tok = strings.TrimPrefix(tok, "#")
	neg := strings.HasPrefix(tok, "-")
	if neg {
		tok = tok[1:]
	}
	var v int64
	var err error
	if strings.HasPrefix(tok, "0x") {
		u, e := strconv.ParseUint(tok[2:], 16, 64)
		v, err = int64(u), e
	} else {
		v, err = strconv.ParseInt(tok, 10, 64)
	}
	if err != nil {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v, true
}

// parseShift extracts the shift amount from a third operand like
// "lsl #n", "uxtw #n", "sxtw #n", or "sxtx #n". The extension kind itself
// is approximated as "use the value as-is"; only the shift amount
// changes the computed address.
func parseShift(tok string) uint {
	i := strings.IndexByte(tok, '#')
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(tok[i+1:]))
	if err != nil || n < 0 {
		return 0
	}
	return uint(n)
}

// Width derives mem_width from the mnemonic suffix first, then the width
// of the register operand: suffix (b→1, h→2, d→8, default 4), else
// register width (xN→8 else 4).
func Width(mnemonic string, asm string) int {
	switch {
	case strings.HasSuffix(mnemonic, "b") || strings.HasSuffix(mnemonic, "sb"):
		return 1
	case strings.HasSuffix(mnemonic, "h") || strings.HasSuffix(mnemonic, "sh"):
		return 2
	case strings.HasSuffix(mnemonic, "d"):
		return 8
	}
	if reg := firstRegOperand(asm); reg != "" && reg[0] == 'x' {
		return 8
	}
	return 4
}

func firstRegOperand(asm string) string {
	i := strings.IndexAny(asm, " \t")
	if i < 0 {
		return ""
	}
	rest := asm[i+1:]
	j := strings.IndexByte(rest, ',')
	if j < 0 {
		j = len(rest)
	}
	return strings.TrimSpace(rest[:j])
}

// MemOp classifies mnemonic as a load, store, or neither.
func MemOp(mnemonic string) traceevent.MemOp {
	switch {
	case strings.HasPrefix(mnemonic, "ldr") || strings.HasPrefix(mnemonic, "ldm") || mnemonic == "pop" || mnemonic == "ldrd":
		return traceevent.MemLoad
	case strings.HasPrefix(mnemonic, "str") || strings.HasPrefix(mnemonic, "stm") || mnemonic == "push" || mnemonic == "strd":
		return traceevent.MemStore
	default:
		return traceevent.MemNone
	}
}
