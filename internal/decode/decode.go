// Package decode provides an optional raw-encoding decode assist for the
// Call Annotator and as a cross-check for the Instruction Classifier's
// branch-target side effect. It is never required: every caller falls back
// to the mnemonic classifier when decoding fails or the encoding field is
// absent/malformed, matching traceerr.DecoderUnavailable's degrade-gracefully
// contract.
package decode

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"golang.org/x/arch/arm/armasm"
	"golang.org/x/arch/arm64/arm64asm"
)

// CallReturn reports whether a decoded instruction is a call or a return.
// At most one of IsCall/IsReturn is true. The decoders' second result, ok,
// is false when the encoding could not be decoded at all (rate-limited
// caller should treat this as DecoderUnavailable and fall back to the
// mnemonic classifier).
type CallReturn struct {
	IsCall   bool
	IsReturn bool
}

// ARM64 decodes one ARM64 4-byte instruction encoding (hex string, as
// carried verbatim in Event.Encoding) and classifies it as a call (BL, BLR)
// or return (RET). Encoding is assumed little-endian, matching how the
// tracer emits raw bytes for both accepted line formats.
func ARM64(encodingHex string) (CallReturn, bool) {
	raw, ok := decodeWord(encodingHex, 4)
	if !ok {
		return CallReturn{}, false
	}
	word := binary.LittleEndian.Uint32(raw)

	inst, err := arm64asm.Decode(raw)
	if err != nil {
		return bl64(word), true
	}
	switch inst.Op {
	case arm64asm.BL, arm64asm.BLR:
		return CallReturn{IsCall: true}, true
	case arm64asm.RET:
		return CallReturn{IsReturn: true}, true
	}
	return CallReturn{}, true
}

// bl64 is the raw bit-mask fallback used when arm64asm.Decode errors on an
// instruction form it doesn't model, rather than giving up outright.
func bl64(raw uint32) CallReturn {
	// BL: 100101 imm26
	if raw&0xFC000000 == 0x94000000 {
		return CallReturn{IsCall: true}
	}
	// BLR Xn: 1101011000111111000000 Rn 00000
	if raw&0xFFFFFC1F == 0xD63F0000 {
		return CallReturn{IsCall: true}
	}
	// RET: 1101011001011111000000 Rn 00000 (Rn usually X30)
	if raw&0xFFFFFC1F == 0xD65F0000 {
		return CallReturn{IsReturn: true}
	}
	return CallReturn{}
}

// ARM32 decodes one ARM32 4-byte or Thumb 2-byte instruction encoding and
// classifies it as a call (BL, BLX) or return (BX LR, POP {...,PC}, MOV PC,
// LR, LDR PC, ...). Thumb mode is selected when encodingHex resolves to
// exactly 2 bytes. ok is false when armasm cannot decode the bytes in the
// selected mode.
func ARM32(encodingHex string) (CallReturn, bool) {
	raw, mode, ok := decodeARM32Bytes(encodingHex)
	if !ok {
		return CallReturn{}, false
	}
	inst, err := armasm.Decode(raw, mode)
	if err != nil {
		return CallReturn{}, false
	}
	switch inst.Op {
	case armasm.BL, armasm.BLX:
		return CallReturn{IsCall: true}, true
	case armasm.BX:
		if isLR(inst) {
			return CallReturn{IsReturn: true}, true
		}
	case armasm.MOV:
		if inst.Args[0] == armasm.PC && inst.Args[1] == armasm.LR {
			return CallReturn{IsReturn: true}, true
		}
	case armasm.LDR:
		if inst.Args[0] == armasm.PC {
			return CallReturn{IsReturn: true}, true
		}
	case armasm.POP, armasm.LDM:
		if writesPC(inst) {
			return CallReturn{IsReturn: true}, true
		}
	}
	return CallReturn{}, true
}

func isLR(inst armasm.Inst) bool {
	for _, a := range inst.Args {
		if a == nil {
			continue
		}
		if r, ok := a.(armasm.Reg); ok && r == armasm.LR {
			return true
		}
	}
	return false
}

func writesPC(inst armasm.Inst) bool {
	for _, a := range inst.Args {
		if a == nil {
			continue
		}
		if rl, ok := a.(armasm.RegList); ok && rl&(1<<uint(armasm.PC-armasm.R0)) != 0 {
			return true
		}
	}
	return false
}

// decodeWord parses an encodingHex string (the exact token captured by the
// lexer's encoding bracket) into exactly n raw bytes, stripping whitespace
// that separates the two 16-bit halves of a 32-bit ARM/ARM64 word.
func decodeWord(encodingHex string, n int) ([]byte, bool) {
	clean := strings.ReplaceAll(strings.ReplaceAll(encodingHex, " ", ""), "\t", "")
	b, err := hex.DecodeString(clean)
	if err != nil || len(b) != n {
		return nil, false
	}
	return b, true
}

// decodeARM32Bytes returns the raw bytes and armasm.Mode for an ARM32
// encoding, selecting Thumb mode for a 2-byte encoding (4 hex digits) and
// ARM mode for a 4-byte one (two hex groups).
func decodeARM32Bytes(encodingHex string) ([]byte, armasm.Mode, bool) {
	clean := strings.ReplaceAll(strings.ReplaceAll(encodingHex, " ", ""), "\t", "")
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, 0, false
	}
	switch len(b) {
	case 2:
		return b, armasm.ModeThumb, true
	case 4:
		return b, armasm.ModeARM, true
	default:
		return nil, 0, false
	}
}
