package reconstruct

import (
	"testing"

	"github.com/cxapython/armtrace/internal/traceevent"
)

// fakeEvents is a minimal EventSource backed by a plain slice, enough to
// drive the reconstructor without a real store.Store.
type fakeEvents []traceevent.Event

func (f fakeEvents) Len() int                     { return len(f) }
func (f fakeEvents) At(i int) *traceevent.Event { return &f[i] }

func buildEvents() fakeEvents {
	return fakeEvents{
		{LineNo: 1, Writes: traceevent.RegMap{"r0": 1}},
		{LineNo: 2, Reads: traceevent.RegMap{"r0": 1}, Writes: traceevent.RegMap{"r1": 2}},
		{LineNo: 3, Reads: traceevent.RegMap{"r1": 2}, Writes: traceevent.RegMap{"r0": 3}},
	}
}

func TestRegsAtReflectsWritesUpToIndex(t *testing.T) {
	ev := buildEvents()
	r := New(ev, NewCheckpoints(1000))
	regs := r.RegsAt(1)
	if regs["r0"] != 1 || regs["r1"] != 2 {
		t.Fatalf("RegsAt(1) = %v", regs)
	}
}

func TestRegsAtNegativeIndexIsEmpty(t *testing.T) {
	ev := buildEvents()
	r := New(ev, NewCheckpoints(1000))
	if regs := r.RegsAt(-1); len(regs) != 0 {
		t.Fatalf("RegsAt(-1) = %v, want empty", regs)
	}
}

func TestRegsAtLaterWriteOverridesEarlier(t *testing.T) {
	ev := buildEvents()
	r := New(ev, NewCheckpoints(1000))
	regs := r.RegsAt(2)
	if regs["r0"] != 3 {
		t.Fatalf("r0 = %d, want 3 (overwritten at event 2)", regs["r0"])
	}
}

func TestRegsBeforeIsOnePriorToRegsAt(t *testing.T) {
	ev := buildEvents()
	r := New(ev, NewCheckpoints(1000))
	before := r.RegsBefore(2)
	after := r.RegsAt(1)
	if before["r0"] != after["r0"] || before["r1"] != after["r1"] {
		t.Fatalf("RegsBefore(2) = %v, want RegsAt(1) = %v", before, after)
	}
}

func TestRegsAtRepeatedQueryIsConsistent(t *testing.T) {
	ev := buildEvents()
	r := New(ev, NewCheckpoints(1000))
	first := r.RegsAt(2)
	second := r.RegsAt(2)
	if first["r0"] != second["r0"] {
		t.Fatalf("repeated RegsAt(2) disagree: %v vs %v", first, second)
	}
}

func TestCheckpointsMaybeRecordHonorsInterval(t *testing.T) {
	c := NewCheckpoints(10)
	c.MaybeRecord(5, traceevent.RegMap{"r0": 1})
	if _, _, ok := c.LatestAtOrBefore(5); ok {
		t.Fatal("did not expect a checkpoint off the interval boundary")
	}
	c.MaybeRecord(10, traceevent.RegMap{"r0": 2})
	regs, line, ok := c.LatestAtOrBefore(15)
	if !ok || line != 10 || regs["r0"] != 2 {
		t.Fatalf("LatestAtOrBefore(15) = %v, %d, %v", regs, line, ok)
	}
}

func TestApplyEventFillsInReadsOnlyWhenAbsent(t *testing.T) {
	regs := traceevent.RegMap{"r0": 99}
	ApplyEvent(regs, &traceevent.Event{Reads: traceevent.RegMap{"r0": 1, "r1": 2}})
	if regs["r0"] != 99 {
		t.Fatalf("r0 = %d, want 99 (observed value preserved)", regs["r0"])
	}
	if regs["r1"] != 2 {
		t.Fatalf("r1 = %d, want 2 (filled in from read)", regs["r1"])
	}
}

func TestApplyEventWritesOverrideUnconditionally(t *testing.T) {
	regs := traceevent.RegMap{"r0": 1}
	ApplyEvent(regs, &traceevent.Event{Writes: traceevent.RegMap{"r0": 2}})
	if regs["r0"] != 2 {
		t.Fatalf("r0 = %d, want 2 (write applied unconditionally)", regs["r0"])
	}
}
