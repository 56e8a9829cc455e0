// Package query implements the Query Façade: the public contracts used by
// a caller (CLI, future GUI) layered over the frozen event store,
// reconstructor, and taint engines. Every method here is pure over that
// frozen state; concurrent callers on disjoint queries are safe as long
// as they don't share a Session across goroutines without their own
// synchronization — each query owns its mutable caches, or the caller
// serializes queries that share the parser instance.
package query

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cxapython/armtrace/internal/classify"
	"github.com/cxapython/armtrace/internal/parser"
	"github.com/cxapython/armtrace/internal/regid"
	"github.com/cxapython/armtrace/internal/store"
	"github.com/cxapython/armtrace/internal/taint"
	"github.com/cxapython/armtrace/internal/traceevent"
)

// Session wraps a finished Parser and exposes the façade operations.
// Each query stamps a fresh correlation ID onto its log lines, so
// concurrent callers can be told apart.
type Session struct {
	p   *parser.Parser
	log *zap.Logger
}

// New wraps p (which must have already had Parse/ParseFile called on it).
func New(p *parser.Parser, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{p: p, log: log}
}

func (s *Session) store() *store.Store { return s.p.Store }

// Candidate is one hit from FindValueCandidates: the event index plus a
// short human-readable summary for a disambiguation list.
type Candidate struct {
	Index   int
	Summary string
}

// FindValueCandidates returns every event that read or wrote reg (alias-
// closed) with observed value value, each carrying a one-line summary
// (mnemonic, asm text, and whether the match was a read or a write, with
// the value) so a caller can render a disambiguation list without
// re-querying.
func (s *Session) FindValueCandidates(reg string, value uint64) []Candidate {
	st := s.store()
	seen := make(map[int]bool)
	var out []Candidate

	collect := func(idx int, matched string) {
		if seen[idx] {
			return
		}
		seen[idx] = true
		ev := st.Event(idx)
		out = append(out, Candidate{Index: idx, Summary: summarize(ev, matched, value)})
	}

	// The inverted indexes are alias-closed at insertion, so the lists for
	// reg already include events whose tail spelled the other x/w half;
	// the value check has to look the event map up under every spelling.
	spellings := regid.Aliases(reg)
	for _, idx := range st.RegReadIndex[reg] {
		ev := st.Event(idx)
		for _, a := range spellings {
			if v, ok := ev.Reads[a]; ok && v == value {
				collect(idx, "read")
				break
			}
		}
	}
	for _, idx := range st.RegWriteIndex[reg] {
		ev := st.Event(idx)
		for _, a := range spellings {
			if v, ok := ev.Writes[a]; ok && v == value {
				collect(idx, "write")
				break
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func summarize(ev *traceevent.Event, matched string, value uint64) string {
	return fmt.Sprintf("%s %s (%s=0x%x)", ev.Mnemonic(), ev.Asm, matched, value)
}

// Side selects which direction ValueChain and ProvenanceGraph walk.
type Side int

const (
	SideBefore Side = iota
	SideAfter
)

// chainSoftDeadline bounds one ValueChain walk. The result is advisory (a
// UI navigation aid), so a truncated chain is preferable to a stalled one.
const chainSoftDeadline = 300 * time.Millisecond

// ValueChain is a basic forward/backward walk meant for a UI: starting at
// startIdx, follow reg's alias-closed taint in the direction side names.
// The forward walk runs with memory tracking disabled; the backward walk
// is the full backward engine, which does follow store/load memory hops.
// The starting value/reg
// pair exists only for the caller's own disambiguation (see
// FindValueCandidates); ValueChain itself just walks from startIdx.
func (s *Session) ValueChain(reg string, startIdx int, side Side) []int {
	st := s.store()
	deadline := time.Now().Add(chainSoftDeadline)
	expired := func() bool { return time.Now().After(deadline) }
	if side == SideAfter {
		return taint.Forward(st, startIdx, []string{reg}, nil, taint.ForwardOptions{
			TrackMemory: false,
			Cancel:      expired,
		})
	}
	res := taint.Backward(st, startIdx, reg, taint.BackwardOptions{Cancel: expired})
	return res.Hits
}

// EdgeKind tags a ProvenanceGraph edge.
type EdgeKind int

const (
	EdgeData EdgeKind = iota
	EdgeMem
)

func (k EdgeKind) String() string {
	if k == EdgeMem {
		return "mem"
	}
	return "data"
}

// Edge is one provenance-graph edge: Kind is "data" (register flow,
// Meta carries the register name) or "mem" (memory hop, Meta carries the
// address as "0x%x").
type Edge struct {
	Kind EdgeKind
	Src  int
	Dst  int
	Meta string
}

// ProvenanceGraph builds a provenance graph: the node list is the
// backward-taint hit list (SideBefore) or forward-taint hit list
// (SideAfter), ascending, for reg from startIdx; edges
// connect consecutive hits, tagged data when the link is a register and
// mem when it crosses a store/load pair at the same address.
func (s *Session) ProvenanceGraph(reg string, startIdx int, side Side) ([]int, []Edge) {
	st := s.store()

	var nodes []int
	switch side {
	case SideAfter:
		nodes = taint.Forward(st, startIdx, []string{reg}, nil, taint.ForwardOptions{TrackMemory: true})
	default:
		res := taint.Backward(st, startIdx, reg, taint.BackwardOptions{})
		nodes = res.Hits
	}
	if len(nodes) == 0 {
		return nodes, nil
	}

	edges := make([]Edge, 0, len(nodes))
	for k := 1; k < len(nodes); k++ {
		src, dst := nodes[k-1], nodes[k]
		edges = append(edges, buildEdge(st, src, dst, reg))
	}
	return nodes, edges
}

// buildEdge classifies the link between two consecutive provenance-graph
// nodes: a store at src followed by a load at dst sharing a resolved
// address is a mem edge; everything else is a data edge carrying reg.
func buildEdge(st *store.Store, src, dst int, reg string) Edge {
	srcEv, dstEv := st.Event(src), st.Event(dst)
	if classify.IsStore(srcEv.Mnemonic()) && classify.IsLoad(dstEv.Mnemonic()) &&
		srcEv.EffAddrValid && dstEv.EffAddrValid && srcEv.EffAddr == dstEv.EffAddr {
		return Edge{Kind: EdgeMem, Src: src, Dst: dst, Meta: fmt.Sprintf("0x%x", srcEv.EffAddr)}
	}
	return Edge{Kind: EdgeData, Src: src, Dst: dst, Meta: reg}
}

// ForwardRequest bundles a forward-taint query's inputs.
type ForwardRequest struct {
	StartIdx     int
	SourceRegs   []string
	SourceBytes  []uint32
	SameCallOnly bool
	MaxSteps     int
	TrackMemory  bool
	Cancel       taint.CancelFunc
}

// TaintForward runs the default-budget forward taint engine, logging a
// correlation ID and a BudgetExceeded notice if the run hit its step cap.
func (s *Session) TaintForward(req ForwardRequest) []int {
	id := uuid.New()
	opts := taint.ForwardOptions{
		SameCallOnly: req.SameCallOnly,
		MaxSteps:     req.MaxSteps,
		TrackMemory:  req.TrackMemory,
		Cancel:       req.Cancel,
	}
	hits := taint.Forward(s.store(), req.StartIdx, req.SourceRegs, req.SourceBytes, opts)
	s.log.Debug("taint_forward", zap.String("query_id", id.String()),
		zap.Int("start_idx", req.StartIdx), zap.Int("hits", len(hits)))
	return hits
}

// AdvancedTaint runs the forward taint engine with the advanced-mode step
// budget, used when a caller asks for a deeper trace than the default
// budget affords.
func (s *Session) AdvancedTaint(req ForwardRequest) []int {
	id := uuid.New()
	opts := taint.ForwardOptions{
		SameCallOnly: req.SameCallOnly,
		MaxSteps:     req.MaxSteps,
		TrackMemory:  req.TrackMemory,
		Cancel:       req.Cancel,
	}
	hits := taint.AdvancedForward(s.store(), req.StartIdx, req.SourceRegs, req.SourceBytes, opts)
	s.log.Debug("advanced_taint", zap.String("query_id", id.String()),
		zap.Int("start_idx", req.StartIdx), zap.Int("hits", len(hits)))
	return hits
}

// BackwardRequest bundles a backward-taint query's inputs.
type BackwardRequest struct {
	StartIdx     int
	Reg          string
	SameCallOnly bool
	MaxSteps     int
	Cancel       taint.CancelFunc
}

// TaintBackward runs the backward taint engine, logging a correlation ID
// and the termination tags found.
func (s *Session) TaintBackward(req BackwardRequest) taint.BackwardResult {
	id := uuid.New()
	res := taint.Backward(s.store(), req.StartIdx, req.Reg, taint.BackwardOptions{
		SameCallOnly: req.SameCallOnly,
		MaxSteps:     req.MaxSteps,
		Cancel:       req.Cancel,
	})
	if res.BudgetExceeded {
		s.log.Warn("taint_backward: step budget exceeded", zap.String("query_id", id.String()),
			zap.Int("start_idx", req.StartIdx), zap.String("reg", req.Reg))
	} else {
		s.log.Debug("taint_backward", zap.String("query_id", id.String()),
			zap.Int("start_idx", req.StartIdx), zap.String("reg", req.Reg),
			zap.Int("hits", len(res.Hits)), zap.Int("terminations", len(res.Terminations)))
	}
	return res
}

// RegsAt exposes the Register Reconstructor's regs_at(i) contract to
// callers that only hold a Session.
func (s *Session) RegsAt(i int) traceevent.RegMap { return s.p.Reconstructor.RegsAt(i) }

// Event returns the event at idx.
func (s *Session) Event(idx int) *traceevent.Event { return s.store().Event(idx) }

// Len returns the number of parsed events.
func (s *Session) Len() int { return s.store().Len() }

// Malformed returns the number of malformed lines skipped during parsing.
func (s *Session) Malformed() int { return s.p.Malformed() }
