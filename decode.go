package inlinehook

import (
	"errors"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// MaxPrologueSize is the most bytes a prologue scan can cover: up to
// JumpSize-1 bytes of short instructions followed by one instruction of the
// maximum x86 length (15 bytes).
const MaxPrologueSize = JumpSize - 1 + 15

// LengthDecoder returns the length of the first instruction in code.
type LengthDecoder interface {
	DecodeLength(code []byte) (int, error)
}

// X86Decoder decodes instructions with golang.org/x/arch for the current
// architecture.
type X86Decoder struct{}

func (X86Decoder) DecodeLength(code []byte) (int, error) {
	inst, err := x86asm.Decode(code, decodeMode)
	if err != nil {
		return 0, err
	}
	return inst.Len, nil
}

// PrologueLength returns the smallest number of bytes at the start of code
// that covers at least min bytes and ends on an instruction boundary.
//
// code should hold at least MaxPrologueSize bytes so the last instruction can
// be decoded in full.
func PrologueLength(code []byte, min int, decoder LengthDecoder) (int, error) {
	if decoder == nil {
		decoder = X86Decoder{}
	}

	n := 0
	for n < min {
		if n >= len(code) {
			return 0, errors.New("prologue extends past the end of the code")
		}

		l, err := decoder.DecodeLength(code[n:])
		if err != nil {
			return 0, fmt.Errorf("decode error at offset %d: %w", n, err)
		}
		if l <= 0 {
			return 0, fmt.Errorf("decode error at offset %d: zero length instruction", n)
		}
		n += l
	}

	if n > MaxPrologueSize {
		return 0, fmt.Errorf("prologue is %d bytes, more than %d", n, MaxPrologueSize)
	}
	return n, nil
}
