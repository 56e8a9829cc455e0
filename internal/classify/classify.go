// Package classify holds the mnemonic-directed predicates that define the
// taint engines. It is a flat dispatch over the asm string and the
// written/read register maps — no decoder, no class hierarchy; new
// instructions are added as new predicate arms.
package classify

import (
	"regexp"
	"strconv"
	"strings"
)

func firstToken(asm string) string {
	i := strings.IndexAny(asm, " \t")
	if i < 0 {
		return asm
	}
	return asm[:i]
}

func operandList(asm string) []string {
	i := strings.IndexAny(asm, " \t")
	if i < 0 {
		return nil
	}
	parts := strings.Split(asm[i+1:], ",")
	for j, p := range parts {
		parts[j] = strings.TrimSpace(p)
	}
	return parts
}

var immediateWriteMnemonics = map[string]bool{
	"mov": true, "mvn": true, "orr": true, "eor": true, "and": true,
	"add": true, "sub": true, "movw": true, "movt": true,
	"movz": true, "movn": true,
}

// IsImmediateWrite reports whether asm is an immediate-write instruction:
// writes a register, the text contains '#', and the mnemonic is one of the
// listed data-processing/move ops. movk is deliberately excluded — it is a
// partial 16-bit overwrite, handled separately.
func IsImmediateWrite(asm string) bool {
	m := firstToken(asm)
	if m == "movk" {
		return false
	}
	return immediateWriteMnemonics[m] && strings.Contains(asm, "#")
}

var (
	reMovXzr  = regexp.MustCompile(`^mov\s+\S+,\s*(xzr|wzr)\s*$`)
	reAndZero = regexp.MustCompile(`^and\s+\S+,\s*\S+,\s*#0x?0*$`)
	reMulZero = regexp.MustCompile(`^(mul|mla|mls)\s+\S+,\s*\S+,\s*(#0x?0*|xzr|wzr)\s*$`)
)

// IsConstZeroWrite reports whether asm is one of the algebraic identities
// that force the destination to 0 independent of any input: "mov rd,
// xzr|wzr", "and rd, rn, #0", "mul|mla|mls rd, rn, #0|xzr|wzr", and
// "eor|sub|rsb|bic rd, rn, rn" (same register on both source operands).
func IsConstZeroWrite(asm string) bool {
	switch {
	case reMovXzr.MatchString(asm):
		return true
	case reAndZero.MatchString(asm):
		return true
	case reMulZero.MatchString(asm):
		return true
	}
	m := firstToken(asm)
	if m != "eor" && m != "sub" && m != "rsb" && m != "bic" {
		return false
	}
	ops := operandList(asm)
	if len(ops) != 3 {
		return false
	}
	return ops[1] == ops[2]
}

// IsBitfieldOp reports whether asm is a bitfield instruction, and whether it
// is the partial "bfc" form (clears a bit range, does not clean taint).
func IsBitfieldOp(asm string) (isBitfield, isPartial bool) {
	switch firstToken(asm) {
	case "ubfx", "sbfx", "bfi":
		return true, false
	case "bfc":
		return true, true
	}
	return false, false
}

// IsCondSelect reports whether asm is an ARM64 conditional-select
// instruction (csel/csinc/csinv/csneg): taint propagates from either source
// operand to rd.
func IsCondSelect(asm string) bool {
	switch firstToken(asm) {
	case "csel", "csinc", "csinv", "csneg":
		return true
	}
	return false
}

// IsCondSet reports whether asm is an ARM64 conditional-set instruction
// (cset/csetm): writes 0/1 or 0/-1 and cleans taint.
func IsCondSet(asm string) bool {
	m := firstToken(asm)
	return m == "cset" || m == "csetm"
}

// IsMovk reports whether asm is a movk: a 16-bit partial overwrite that
// preserves pre-existing register taint and adds none from its inputs.
func IsMovk(asm string) bool { return firstToken(asm) == "movk" }

// IsAdrp reports whether asm is an adrp: a 4KB-aligned address constant
// that cleans taint.
func IsAdrp(asm string) bool { return firstToken(asm) == "adrp" }

// IsMultiplyAdd reports whether asm is an ARM64 multiply-add/sub
// instruction; taint propagates from any of its three source operands.
func IsMultiplyAdd(asm string) bool {
	switch firstToken(asm) {
	case "madd", "msub", "smaddl", "umaddl", "smsubl", "umsubl":
		return true
	}
	return false
}

// IsExtend reports whether asm is a sign/zero-extend instruction (standard
// read-to-write taint propagation).
func IsExtend(asm string) bool {
	switch firstToken(asm) {
	case "sxtah", "sxtab", "uxtah", "uxtab", "sxth", "sxtb", "uxth", "uxtb",
		"sxtw", "uxtw":
		return true
	}
	return false
}

// IsPush reports whether asm is a push {regs}.
func IsPush(asm string) bool { return firstToken(asm) == "push" }

// IsPop reports whether asm is a pop {regs}.
func IsPop(asm string) bool { return firstToken(asm) == "pop" }

// IsLdm reports whether asm is any ldm* variant.
func IsLdm(asm string) bool { return strings.HasPrefix(firstToken(asm), "ldm") }

// IsStm reports whether asm is any stm* variant.
func IsStm(asm string) bool { return strings.HasPrefix(firstToken(asm), "stm") }

// IsLdrd reports whether asm is ldrd r1, r2, [...].
func IsLdrd(asm string) bool { return firstToken(asm) == "ldrd" }

// IsStrd reports whether asm is strd r1, r2, [...].
func IsStrd(asm string) bool { return firstToken(asm) == "strd" }

// IsMultiReg reports whether asm is any of the multi-register load/store
// forms handled together by the taint engines' multi-register rules.
func IsMultiReg(asm string) bool {
	return IsPush(asm) || IsPop(asm) || IsLdm(asm) || IsStm(asm) || IsLdrd(asm) || IsStrd(asm)
}

var reRegRange = regexp.MustCompile(`^([a-z]+)(\d+)-([a-z]+)(\d+)$`)

// RegList expands a "{...}" operand (register list with ranges like
// "r4-r7" and individual names like "lr", "pc") into individual register
// names, in listed order.
func RegList(asm string) []string {
	start := strings.IndexByte(asm, '{')
	end := strings.IndexByte(asm, '}')
	if start < 0 || end < 0 || end < start {
		return nil
	}
	body := asm[start+1 : end]
	var out []string
	for _, part := range strings.Split(body, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if m := reRegRange.FindStringSubmatch(part); m != nil && m[1] == m[3] {
			lo, err1 := strconv.Atoi(m[2])
			hi, err2 := strconv.Atoi(m[4])
			if err1 == nil && err2 == nil && lo <= hi {
				for n := lo; n <= hi; n++ {
					out = append(out, m[1]+strconv.Itoa(n))
				}
				continue
			}
		}
		out = append(out, part)
	}
	return out
}

// IsCall reports whether asm is a call instruction: bl or blx.
func IsCall(asm string) bool {
	m := firstToken(asm)
	return m == "bl" || m == "blx"
}

// IsReturn reports whether asm is a return instruction:
// bx lr; mov pc, lr; pop {...,pc}; ldr pc, [...]; ldm..., {...,pc}.
func IsReturn(asm string) bool {
	switch {
	case strings.HasPrefix(asm, "bx lr"):
		return true
	case strings.HasPrefix(asm, "mov pc, lr") || strings.HasPrefix(asm, "mov pc,lr"):
		return true
	case IsPop(asm) && containsReg(RegList(asm), "pc"):
		return true
	case firstToken(asm) == "ldr" && strings.HasPrefix(strings.TrimSpace(asm[3:]), "pc,"):
		return true
	case IsLdm(asm) && containsReg(RegList(asm), "pc"):
		return true
	}
	return false
}

func containsReg(list []string, name string) bool {
	for _, r := range list {
		if r == name {
			return true
		}
	}
	return false
}

// StoreSourceRegs returns the register(s) whose value is written to memory
// by a str/strb/strh/strd instruction, in listed order (1 element for
// plain str forms, 2 for strd). Returns nil for non-store mnemonics or
// push/stm, which carry their register list separately (see RegList).
func StoreSourceRegs(asm string) []string {
	m := firstToken(asm)
	if !strings.HasPrefix(m, "str") {
		return nil
	}
	ops := operandList(asm)
	if len(ops) == 0 {
		return nil
	}
	if m == "strd" {
		if len(ops) < 2 {
			return nil
		}
		return ops[:2]
	}
	return ops[:1]
}

// InvolvesPC reports whether the bracketed memory operand of asm references
// pc directly, one of the two ways a load's address marks it as a
// constant-pool read.
func InvolvesPC(asm string) bool {
	start := strings.IndexByte(asm, '[')
	end := strings.IndexByte(asm, ']')
	if start < 0 || end < 0 || end < start {
		return false
	}
	inner := asm[start+1 : end]
	for _, tok := range strings.Split(inner, ",") {
		if strings.TrimSpace(tok) == "pc" {
			return true
		}
	}
	return false
}

// IsLoad reports whether mnemonic (the first token of Asm) is an ldr-family
// load (ldr and its width/sign variants, including ldrd). ldm/pop are
// excluded — they are multi-register forms handled separately.
func IsLoad(mnemonic string) bool {
	return strings.HasPrefix(mnemonic, "ldr")
}

// IsStore reports whether mnemonic is a simple single/paired-register store
// (str and its width variants, including strd). stm/push are excluded —
// they are multi-register forms handled separately.
func IsStore(mnemonic string) bool {
	return strings.HasPrefix(mnemonic, "str")
}

// IsStackVarLoad reports whether asm is a load whose base register is sp,
// the backward-taint termination tag "stack-var".
func IsStackVarLoad(asm string) bool {
	if !IsLoad(firstToken(asm)) {
		return false
	}
	start := strings.IndexByte(asm, '[')
	end := strings.IndexByte(asm, ']')
	if start < 0 || end < 0 || end < start {
		return false
	}
	inner := strings.TrimSpace(asm[start+1 : end])
	base := inner
	if i := strings.IndexByte(inner, ','); i >= 0 {
		base = strings.TrimSpace(inner[:i])
	}
	return base == "sp"
}

var regTokenRE = regexp.MustCompile(`^[rxw][0-9]{1,2}$|^sp$|^lr$|^pc$`)

// BracketRegs returns every register name referenced inside asm's
// bracketed memory operand (base and, if present, index), skipping
// immediates and shift/extend keywords. Used by the backward engine to
// find which registers fed a store's address computation when hopping
// across a tainted memory address.
func BracketRegs(asm string) []string {
	start := strings.IndexByte(asm, '[')
	end := strings.IndexByte(asm, ']')
	if start < 0 || end < 0 || end < start {
		return nil
	}
	inner := asm[start+1 : end]
	var out []string
	for _, tok := range strings.Split(inner, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		tok = strings.TrimSuffix(tok, "!")
		if regTokenRE.MatchString(tok) {
			out = append(out, tok)
		}
	}
	return out
}
