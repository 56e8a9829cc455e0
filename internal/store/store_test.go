package store

import (
	"testing"

	"github.com/cxapython/armtrace/internal/traceevent"
)

func mkEvent(pc uint64, reads, writes traceevent.RegMap) traceevent.Event {
	return traceevent.Event{PC: pc, Reads: reads, Writes: writes}
}

func TestAppendIndexesPC(t *testing.T) {
	s := New()
	idx := s.Append(mkEvent(0x1000, nil, nil))
	if s.PCIndex[0x1000][0] != idx {
		t.Fatalf("pc_index[0x1000] = %v, want [%d]", s.PCIndex[0x1000], idx)
	}
}

func TestAppendIndexesReadsByAlias(t *testing.T) {
	s := New()
	idx := s.Append(mkEvent(0, traceevent.RegMap{"x0": 1}, nil))
	if len(s.RegReadIndex["x0"]) != 1 || s.RegReadIndex["x0"][0] != idx {
		t.Fatalf("reg_read_index[x0] = %v", s.RegReadIndex["x0"])
	}
	if len(s.RegReadIndex["w0"]) != 1 || s.RegReadIndex["w0"][0] != idx {
		t.Fatalf("reg_read_index[w0] (alias) = %v", s.RegReadIndex["w0"])
	}
}

func TestAppendAssignsDenseIndices(t *testing.T) {
	s := New()
	i0 := s.Append(mkEvent(0, nil, nil))
	i1 := s.Append(mkEvent(1, nil, nil))
	if i0 != 0 || i1 != 1 {
		t.Fatalf("indices = %d, %d, want 0, 1", i0, i1)
	}
}

func TestAddFunctionCandidateFirstNameWins(t *testing.T) {
	s := New()
	s.AddFunctionCandidate(0x2000, "sub_2000")
	s.AddFunctionCandidate(0x2000, "other_name")
	if s.FunctionCandidates[0x2000] != "sub_2000" {
		t.Fatalf("function candidate = %q, want sub_2000", s.FunctionCandidates[0x2000])
	}
}

func TestPrevWriteFindsLargestIndexBefore(t *testing.T) {
	s := New()
	s.Append(mkEvent(0, nil, traceevent.RegMap{"r0": 1})) // idx 0
	s.Append(mkEvent(0, nil, nil))                         // idx 1
	s.Append(mkEvent(0, nil, traceevent.RegMap{"r0": 2})) // idx 2
	idx, ok := s.PrevWrite("r0", 2)
	if !ok || idx != 0 {
		t.Fatalf("PrevWrite(r0, 2) = %d, %v, want 0, true", idx, ok)
	}
}

func TestPrevWriteNoneReturnsFalse(t *testing.T) {
	s := New()
	s.Append(mkEvent(0, nil, nil))
	if _, ok := s.PrevWrite("r0", 0); ok {
		t.Fatal("expected PrevWrite to report no prior write")
	}
}

func TestNextWriteFindsSmallestIndexAfter(t *testing.T) {
	s := New()
	s.Append(mkEvent(0, nil, nil))
	s.Append(mkEvent(0, nil, traceevent.RegMap{"r0": 1})) // idx 1
	idx, ok := s.NextWrite("r0", 0)
	if !ok || idx != 1 {
		t.Fatalf("NextWrite(r0, 0) = %d, %v, want 1, true", idx, ok)
	}
}

func TestReadsInRangeExcludesBoundaries(t *testing.T) {
	s := New()
	s.Append(mkEvent(0, traceevent.RegMap{"r0": 1}, nil)) // idx 0, excluded (loExcl)
	s.Append(mkEvent(0, traceevent.RegMap{"r0": 1}, nil)) // idx 1, included
	s.Append(mkEvent(0, traceevent.RegMap{"r0": 1}, nil)) // idx 2, excluded (hiExcl)
	got := s.ReadsInRange("r0", 0, 2)
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("ReadsInRange = %v, want [1]", got)
	}
}

func TestIndexStoreCoversEveryByteInSpan(t *testing.T) {
	s := New()
	s.IndexStore(5, 0x1000, 4)
	for _, a := range []uint32{0x1000, 0x1001, 0x1002, 0x1003} {
		if got := s.StoresCovering(a); len(got) != 1 || got[0] != 5 {
			t.Fatalf("StoresCovering(0x%x) = %v, want [5]", a, got)
		}
	}
}

func TestPrevStoreCoveringFindsStoreBeforeIndex(t *testing.T) {
	s := New()
	s.IndexStore(3, 0x2000, 4)
	idx, ok := s.PrevStoreCovering(0x2001, 10)
	if !ok || idx != 3 {
		t.Fatalf("PrevStoreCovering = %d, %v, want 3, true", idx, ok)
	}
}

func TestPrevStoreCoveringNoneBeforeIndex(t *testing.T) {
	s := New()
	s.IndexStore(3, 0x2000, 4)
	if _, ok := s.PrevStoreCovering(0x2000, 3); ok {
		t.Fatal("expected no store strictly before index 3")
	}
}

func TestPrevWriteAliasListsAreDeduplicated(t *testing.T) {
	s := New()
	s.Append(mkEvent(0, nil, traceevent.RegMap{"x0": 1})) // indexed under x0 and w0
	s.Append(mkEvent(0, traceevent.RegMap{"w0": 1}, nil))
	got := s.ReadsInRange("x0", 0, 2)
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("ReadsInRange(x0) = %v, want [1] (alias lists merged without duplicates)", got)
	}
	idx, ok := s.PrevWrite("w0", 1)
	if !ok || idx != 0 {
		t.Fatalf("PrevWrite(w0, 1) = %d, %v, want 0, true (x0 write visible via alias)", idx, ok)
	}
}
