// Package taint implements the Forward and Backward Taint Engines: the
// analysis-time consumers of the frozen event store, inverted indexes,
// and precomputed effective addresses. Neither engine ever re-scans raw
// trace text; both are pure over the store they're given and keep all
// mutable state (tainted_regs, tainted_mem, terminated_regs, step
// counters) local to one query rather than shared behind a
// synchronization discipline.
package taint

import (
	"github.com/cxapython/armtrace/internal/classify"
	"github.com/cxapython/armtrace/internal/regid"
	"github.com/cxapython/armtrace/internal/store"
	"github.com/cxapython/armtrace/internal/traceevent"
)

// DefaultForwardMaxSteps is the default forward-taint step budget.
const DefaultForwardMaxSteps = 120_000

// AdvancedForwardMaxSteps is the step budget for AdvancedForward.
const AdvancedForwardMaxSteps = 200_000

// DefaultBackwardMaxSteps is the default backward-taint step budget.
const DefaultBackwardMaxSteps = 100_000

// CancelFunc is a cooperative cancellation check, polled once per visited
// event. A nil CancelFunc means "never cancel".
type CancelFunc func() bool

// isConstPoolLoad is the constant-pool-load predicate: an ldr writing rd
// whose effective address either involves pc directly, or lies in the
// store-address index with no store at or before event i. This needs
// store-index access, which is why it lives here rather than in the
// otherwise-pure internal/classify package.
func isConstPoolLoad(s *store.Store, i int, ev *traceevent.Event) bool {
	if !classify.IsLoad(ev.Mnemonic()) {
		return false
	}
	if classify.InvolvesPC(ev.Asm) {
		return true
	}
	if !ev.EffAddrValid {
		return false
	}
	_, ok := s.PrevStoreCovering(uint32(ev.EffAddr), i)
	return !ok
}

func hasAnyTaintedRead(tainted regid.Set, ev *traceevent.Event) bool {
	for k := range ev.Reads {
		if tainted.HasName(k) {
			return true
		}
	}
	return false
}
