// Package lexer parses one trace line at a time into a traceevent.Event.
// It accepts both the "standard" and "alt" surface line formats and never
// aborts on a malformed line — it skips it and counts it.
package lexer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cxapython/armtrace/internal/traceevent"
)

// lineRE captures the two leading bracket groups (location), the encoding
// bracket, the PC, the quoted disassembly, and the tail. It matches both
// surface formats: the module-offset group is optional, so when the second
// bracket holds only "0xNN" with no following offset, Module stays empty and
// the caller records "unknown" per the alt-format rule.
var lineRE = regexp.MustCompile(
	`^\[([^\]]+)\]` + // 1: timestamp
		`\[([^\]]+?)(?:\s+(0x[0-9a-fA-F]+))?\]\s*` + // 2: module (or offset), 3: module offset
		`\[([0-9a-fA-F]{4}(?:\s{0,4}[0-9a-fA-F]{0,4})?)\]\s+` + // 4: encoding
		`(0x[0-9a-fA-F]+):\s+` + // 5: pc
		`"([^"]+)"` + // 6: asm
		`(.*)$`, // 7: tail
)

// regPairRE matches "<reg>=0x<hex>" tokens anywhere in a tail half.
var regPairRE = regexp.MustCompile(`\b([rxw][0-9]{1,2}|sp|lr|pc|cpsr)=(0x[0-9a-fA-F]+)\b`)

// branchTargetRE matches the branch mnemonics whose literal target feeds the
// function-candidate side effect. bl is included here even though it is
// also a call — the two concerns are independent.
var branchTargetRE = regexp.MustCompile(`\b(?:b|bl|beq|bne|bhi|blo|bge|blt|bpl|bmi)\s+#?(0x[0-9a-fA-F]+)\b`)

// hexHasXW reports whether name looks like an ARM64 xN/wN register name,
// used to auto-detect the architecture from observed register traffic.
func hexHasXW(name string) bool {
	if len(name) < 2 {
		return false
	}
	return name[0] == 'x' || name[0] == 'w'
}

// Lexer turns raw trace lines into events, tracking architecture
// auto-detection and a malformed-line counter across the whole parse.
type Lexer struct {
	archHint traceevent.Arch
	detected traceevent.Arch // becomes ArchARM64 once an xN/wN register is observed
	malformed int
}

// New creates a Lexer with the given architecture hint (ArchAuto resolves
// dynamically from observed register traffic).
func New(hint traceevent.Arch) *Lexer {
	return &Lexer{archHint: hint, detected: traceevent.ArchARM32}
}

// Arch returns the effective architecture: the hint if not auto, else the
// dynamically detected one.
func (l *Lexer) Arch() traceevent.Arch {
	if l.archHint != traceevent.ArchAuto {
		return l.archHint
	}
	return l.detected
}

// Malformed returns the number of lines skipped so far because they did not
// match the line grammar or contained unparseable hex.
func (l *Lexer) Malformed() int { return l.malformed }

// BranchTarget is a function candidate discovered as a side effect of
// lexing a branch instruction with a literal target. The lexer does not
// follow the branch; this only feeds a UI function list.
type BranchTarget struct {
	Addr uint64
	Name string
}

// ParseLine parses one trace line. ok is false if the line did not match
// the grammar or its hex fields were unparseable; the caller should skip
// the line and continue (the lexer already counted it as malformed).
func (l *Lexer) ParseLine(lineNo int, line string) (ev *traceevent.Event, bt *BranchTarget, ok bool) {
	m := lineRE.FindStringSubmatch(line)
	if m == nil {
		l.malformed++
		return nil, nil, false
	}

	ts, modOrOff, modOff, enc, pcStr, asm, tail := m[1], m[2], m[3], m[4], m[5], m[6], m[7]

	pc, err := strconv.ParseUint(pcStr[2:], 16, 64)
	if err != nil {
		l.malformed++
		return nil, nil, false
	}

	module, moduleOffset := modOrOff, modOff
	if strings.HasPrefix(modOrOff, "0x") && modOff == "" {
		module, moduleOffset = "unknown", modOrOff
	}

	asm = strings.ToLower(strings.TrimSpace(asm))

	reads, writes := make(traceevent.RegMap), make(traceevent.RegMap)
	left, right, hasWrites := tail, "", false
	if idx := strings.Index(tail, "=>"); idx >= 0 {
		left, right = tail[:idx], tail[idx+2:]
		hasWrites = true
	}
	parseRegPairs(left, reads)
	if hasWrites {
		parseRegPairs(right, writes)
	}

	ev = &traceevent.Event{
		LineNo:       lineNo,
		Timestamp:    ts,
		Module:       module,
		ModuleOffset: moduleOffset,
		Encoding:     strings.TrimSpace(enc),
		PC:           pc,
		Asm:          asm,
		Raw:          line,
		Reads:        reads,
		Writes:       writes,
	}

	if l.detected != traceevent.ArchARM64 {
		for k := range reads {
			if hexHasXW(k) {
				l.detected = traceevent.ArchARM64
				break
			}
		}
		for k := range writes {
			if hexHasXW(k) {
				l.detected = traceevent.ArchARM64
				break
			}
		}
	}

	if bm := branchTargetRE.FindStringSubmatch(asm); bm != nil {
		if addr, err := strconv.ParseUint(bm[1][2:], 16, 64); err == nil {
			bt = &BranchTarget{Addr: addr, Name: "sub_" + strconv.FormatUint(addr, 16)}
		}
	}

	return ev, bt, true
}

// parseRegPairs finds every "<reg>=0x<hex>" token in s and records it in
// dst, lowercased, with duplicate keys on the same side taking the last
// occurrence (left-to-right scan order, later match wins).
func parseRegPairs(s string, dst traceevent.RegMap) {
	for _, pair := range regPairRE.FindAllStringSubmatch(s, -1) {
		name := strings.ToLower(pair[1])
		v, err := strconv.ParseUint(pair[2][2:], 16, 64)
		if err != nil {
			continue
		}
		dst[name] = v
	}
}
