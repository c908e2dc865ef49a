package inlinehook

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// ErrUnrelocatable is returned for machine code that can't be moved to a new
// address, such as a LOOP instruction or a branch back into a prologue that
// is being replaced.
var ErrUnrelocatable = errors.New("instruction cannot be relocated")

// relocatePrologue copies the instructions in code, which would execute at
// src, so that they can execute at dest. Every PC-relative operand is
// re-aimed at its original absolute address. Short branches are widened to
// their rel32 form, so the result may be longer than code.
func relocatePrologue(code []byte, src, dest uintptr) ([]byte, error) {
	out := make([]byte, 0, len(code)+16)
	srcEnd := src + uintptr(len(code))

	for i := 0; i < len(code); {
		inst, err := x86asm.Decode(code[i:], decodeMode)
		if err != nil {
			return nil, fmt.Errorf("decode error at offset %d: %w", i, err)
		}

		raw := code[i : i+inst.Len]
		instSrc := src + uintptr(i)
		srcNext := instSrc + uintptr(inst.Len)
		at := dest + uintptr(len(out))

		switch inst.PCRel {
		case 0:
			out = append(out, raw...)

		case 1:
			abs := srcNext + uintptr(int64(int8(raw[inst.PCRelOff])))
			if abs >= src && abs < srcEnd {
				return nil, fmt.Errorf("offset %d: branch into the prologue: %w", i, ErrUnrelocatable)
			}

			// Prefixes on a short branch are only hints, drop them.
			op := raw[inst.PCRelOff-1]
			var wide []byte
			switch {
			case op == opcodeJMPrel8:
				wide = []byte{opcodeJMP, 0, 0, 0, 0}
			case op >= opcodeJcc8 && op <= opcodeJcc8|0xf:
				wide = []byte{opcodeTwoByte, opcodeJcc32 | op&0xf, 0, 0, 0, 0}
			default:
				return nil, fmt.Errorf("offset %d: %v: %w", i, inst, ErrUnrelocatable)
			}

			disp, err := relDisplacement(at, at+uintptr(len(wide)), abs)
			if err != nil {
				return nil, err
			}
			binary.LittleEndian.PutUint32(wide[len(wide)-4:], uint32(disp))
			out = append(out, wide...)

		case 4:
			abs := srcNext + uintptr(int64(int32(binary.LittleEndian.Uint32(raw[inst.PCRelOff:]))))
			if abs >= src && abs < srcEnd {
				return nil, fmt.Errorf("offset %d: reference into the prologue: %w", i, ErrUnrelocatable)
			}

			disp, err := relDisplacement(at, at+uintptr(inst.Len), abs)
			if err != nil {
				return nil, err
			}
			start := len(out)
			out = append(out, raw...)
			binary.LittleEndian.PutUint32(out[start+inst.PCRelOff:], uint32(disp))

		default:
			return nil, fmt.Errorf("offset %d: %v: %w", i, inst, ErrUnrelocatable)
		}

		i += inst.Len
	}

	return out, nil
}

// relocateCode copies a complete function from code, which executes at src,
// into out, which will execute at dest. The layout of the function is
// unchanged, so short branches inside it are copied as is. Every rel32 branch
// and RIP-relative operand is re-aimed at remap(original target).
//
// out must be at least as long as code.
func relocateCode(code, out []byte, src, dest uintptr, remap func(uintptr) uintptr) error {
	srcEnd := src + uintptr(len(code))

	for i := 0; i < len(code); {
		inst, err := x86asm.Decode(code[i:], decodeMode)
		if err != nil {
			return fmt.Errorf("decode error at offset %d: %w", i, err)
		}

		copy(out[i:], code[i:i+inst.Len])

		srcNext := src + uintptr(i+inst.Len)
		destNext := dest + uintptr(i+inst.Len)

		switch inst.PCRel {
		case 0:
		case 1:
			abs := srcNext + uintptr(int64(int8(code[i+inst.PCRelOff])))
			if abs < src || abs >= srcEnd {
				return fmt.Errorf("offset %d: short branch leaves the function: %w", i, ErrUnrelocatable)
			}
		case 4:
			abs := srcNext + uintptr(int64(int32(binary.LittleEndian.Uint32(code[i+inst.PCRelOff:]))))
			if remap != nil {
				abs = remap(abs)
			}

			disp, err := relDisplacement(dest+uintptr(i), destNext, abs)
			if err != nil {
				return fmt.Errorf("unable to translate relative address at offset %d: %w", i, err)
			}
			binary.LittleEndian.PutUint32(out[i+inst.PCRelOff:], uint32(disp))
		default:
			return fmt.Errorf("offset %d: %v: %w", i, inst, ErrUnrelocatable)
		}

		i += inst.Len
	}

	return nil
}

// trimPadding removes the INT3 opcodes the compiler pads functions with.
func trimPadding(code []byte) []byte {
	end := len(code)
	for end > 0 && code[end-1] == opcodeINT3 {
		end--
	}
	return code[:end]
}

// disassemble returns a listing of code as if it were located at baseAddr.
func disassemble(code []byte, baseAddr uintptr) (string, error) {
	var buf bytes.Buffer

	for i := 0; i < len(code); {
		instruction, err := x86asm.Decode(code[i:], decodeMode)
		if err != nil {
			return buf.String(), fmt.Errorf("decode error at offset %d: %w", i, err)
		}
		fmt.Fprintf(&buf, "0x%08x\t%-20s\t%s\n", baseAddr+uintptr(i), hex.EncodeToString(code[i:i+instruction.Len]), instruction.String())

		i += instruction.Len
	}

	return buf.String(), nil
}
