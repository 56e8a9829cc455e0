package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cxapython/armtrace/internal/traceevent"
)

func writeTraceFile(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "trace.txt")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func sampleEvents() []traceevent.Event {
	return []traceevent.Event{
		{
			LineNo: 1, Timestamp: "0", Module: "m", ModuleOffset: "0x0",
			Encoding: "1234", PC: 0x1000, Asm: "mov r0, #0x10",
			Reads:  traceevent.RegMap{},
			Writes: traceevent.RegMap{"r0": 0x10},
		},
		{
			LineNo: 2, Timestamp: "0", Module: "m", ModuleOffset: "0x4",
			Encoding: "1234", PC: 0x1004, Asm: "str r0, [r1]",
			Reads:  traceevent.RegMap{"r0": 0x10, "r1": 0x2000},
			Writes: traceevent.RegMap{},
			CallID: 0, CallDepth: 0,
		},
	}
}

func TestSignatureRoundTripsThroughDump(t *testing.T) {
	dir := t.TempDir()
	tracePath := writeTraceFile(t, dir, "irrelevant for this test\n")
	sig, err := FileSignature(tracePath, 2000)
	if err != nil {
		t.Fatalf("FileSignature: %v", err)
	}

	cs, err := Open(filepath.Join(dir, "cache.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cs.Close()

	if err := cs.Dump(sig, sampleEvents()); err != nil {
		t.Fatalf("Dump: %v", err)
	}

	match, err := cs.CheckSignature(sig)
	if err != nil {
		t.Fatalf("CheckSignature: %v", err)
	}
	if !match {
		t.Fatalf("CheckSignature = false, want true after a matching Dump")
	}
}

func TestCheckSignatureMismatchOnDifferentCheckpointInterval(t *testing.T) {
	dir := t.TempDir()
	tracePath := writeTraceFile(t, dir, "irrelevant\n")
	sig, err := FileSignature(tracePath, 2000)
	if err != nil {
		t.Fatalf("FileSignature: %v", err)
	}

	cs, err := Open(filepath.Join(dir, "cache.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cs.Close()

	if err := cs.Dump(sig, sampleEvents()); err != nil {
		t.Fatalf("Dump: %v", err)
	}

	other, err := FileSignature(tracePath, 4000)
	if err != nil {
		t.Fatalf("FileSignature: %v", err)
	}
	match, err := cs.CheckSignature(other)
	if err != nil {
		t.Fatalf("CheckSignature: %v", err)
	}
	if match {
		t.Fatalf("CheckSignature = true for a different checkpoint interval, want false")
	}
}

func TestCheckSignatureMismatchOnEmptyDatabase(t *testing.T) {
	dir := t.TempDir()
	tracePath := writeTraceFile(t, dir, "irrelevant\n")
	sig, err := FileSignature(tracePath, 2000)
	if err != nil {
		t.Fatalf("FileSignature: %v", err)
	}

	cs, err := Open(filepath.Join(dir, "cache.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cs.Close()

	match, err := cs.CheckSignature(sig)
	if err != nil {
		t.Fatalf("CheckSignature: %v", err)
	}
	if match {
		t.Fatalf("CheckSignature = true on a freshly created database, want false")
	}
}

func TestLoadRebuildsEventsAndIndexes(t *testing.T) {
	dir := t.TempDir()
	tracePath := writeTraceFile(t, dir, "irrelevant\n")
	sig, err := FileSignature(tracePath, 2000)
	if err != nil {
		t.Fatalf("FileSignature: %v", err)
	}

	cs, err := Open(filepath.Join(dir, "cache.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cs.Close()

	want := sampleEvents()
	if err := cs.Dump(sig, want); err != nil {
		t.Fatalf("Dump: %v", err)
	}

	s, err := cs.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != len(want) {
		t.Fatalf("Load() produced %d events, want %d", s.Len(), len(want))
	}

	ev0 := s.Event(0)
	if ev0.PC != want[0].PC || ev0.Asm != want[0].Asm || ev0.Writes["r0"] != 0x10 {
		t.Fatalf("Load() event 0 = %+v, want PC=0x%x asm=%q r0=0x10", ev0, want[0].PC, want[0].Asm)
	}

	ev1 := s.Event(1)
	if ev1.Reads["r0"] != 0x10 || ev1.Reads["r1"] != 0x2000 {
		t.Fatalf("Load() event 1 reads = %v, want r0=0x10 r1=0x2000", ev1.Reads)
	}

	// The inverted indexes are rebuilt via Store.Append during Load, so a
	// reg read/write index lookup must reflect the cached events.
	if idxs := s.RegWriteIndex["r0"]; len(idxs) != 1 || idxs[0] != 0 {
		t.Fatalf("RegWriteIndex[r0] = %v, want [0]", idxs)
	}
}
