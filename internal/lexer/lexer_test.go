package lexer

import (
	"testing"

	"github.com/cxapython/armtrace/internal/traceevent"
)

func TestParseLineStandardFormat(t *testing.T) {
	l := New(traceevent.ArchAuto)
	line := `[0.001][libfoo.so 0x1234][a001 00eb] 0x4000: "bl #0x5000" r0=0x1 r1=0x2`
	ev, _, ok := l.ParseLine(1, line)
	if !ok {
		t.Fatal("expected line to parse")
	}
	if ev.Module != "libfoo.so" || ev.ModuleOffset != "0x1234" {
		t.Fatalf("module/offset = %q/%q", ev.Module, ev.ModuleOffset)
	}
	if ev.PC != 0x4000 {
		t.Fatalf("pc = 0x%x", ev.PC)
	}
	if ev.Reads["r0"] != 1 || ev.Reads["r1"] != 2 {
		t.Fatalf("reads = %v", ev.Reads)
	}
}

func TestParseLineAltFormatRecordsUnknownModule(t *testing.T) {
	l := New(traceevent.ArchAuto)
	line := `[0.002][0x2000] [1234] 0x4004: "mov r0, r1" r1=0x5`
	ev, _, ok := l.ParseLine(2, line)
	if !ok {
		t.Fatal("expected alt-format line to parse")
	}
	if ev.Module != "unknown" || ev.ModuleOffset != "0x2000" {
		t.Fatalf("module/offset = %q/%q", ev.Module, ev.ModuleOffset)
	}
}

func TestParseLineSplitsReadsAndWrites(t *testing.T) {
	l := New(traceevent.ArchAuto)
	line := `[0][m 0x0][1234] 0x1: "add r0, r1, r2" r1=0x1 r2=0x2 => r0=0x3`
	ev, _, ok := l.ParseLine(1, line)
	if !ok {
		t.Fatal("expected line to parse")
	}
	if ev.Reads["r1"] != 1 || ev.Reads["r2"] != 2 {
		t.Fatalf("reads = %v", ev.Reads)
	}
	if ev.Writes["r0"] != 3 {
		t.Fatalf("writes = %v", ev.Writes)
	}
}

func TestParseLineMalformedIsCountedAndSkipped(t *testing.T) {
	l := New(traceevent.ArchAuto)
	_, _, ok := l.ParseLine(1, "not a trace line at all")
	if ok {
		t.Fatal("expected malformed line to be rejected")
	}
	if l.Malformed() != 1 {
		t.Fatalf("malformed = %d, want 1", l.Malformed())
	}
}

func TestParseLineDetectsARM64FromXRegister(t *testing.T) {
	l := New(traceevent.ArchAuto)
	line := `[0][m 0x0][1234] 0x1: "mov x0, x1" x1=0x7`
	_, _, ok := l.ParseLine(1, line)
	if !ok {
		t.Fatal("expected line to parse")
	}
	if l.Arch() != traceevent.ArchARM64 {
		t.Fatalf("arch = %v, want arm64", l.Arch())
	}
}

func TestParseLineBranchTargetRegistersFunctionCandidate(t *testing.T) {
	l := New(traceevent.ArchAuto)
	line := `[0][m 0x0][1234] 0x1000: "bl 0x2000"`
	_, bt, ok := l.ParseLine(1, line)
	if !ok {
		t.Fatal("expected line to parse")
	}
	if bt == nil || bt.Addr != 0x2000 || bt.Name != "sub_2000" {
		t.Fatalf("branch target = %+v", bt)
	}
}

func TestParseLineDuplicateRegKeyTakesLastOccurrence(t *testing.T) {
	l := New(traceevent.ArchAuto)
	line := `[0][m 0x0][1234] 0x1: "nop" r0=0x1 r0=0x2`
	ev, _, ok := l.ParseLine(1, line)
	if !ok {
		t.Fatal("expected line to parse")
	}
	if ev.Reads["r0"] != 2 {
		t.Fatalf("r0 = 0x%x, want 0x2 (last occurrence)", ev.Reads["r0"])
	}
}
