package inlinehook

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unsafe"
)

const (
	opcodeCALLrel = 0xe8 // CALL rel32
	opcodeINT3    = 0xcc
	opcodeJMP     = 0xe9 // JMP rel32
	opcodeJMPrel8 = 0xeb // JMP rel8
	opcodeJcc8    = 0x70 // Jcc rel8, 0x70-0x7f
	opcodeTwoByte = 0x0f
	opcodeJcc32   = 0x80 // second byte of Jcc rel32, 0x80-0x8f

	// JumpSize is the length of a JMP rel32 instruction: 1 byte opcode + 4
	// byte displacement.
	JumpSize = 5
)

// ErrNotJump is returned when bytes that should hold a JMP rel32 don't.
var ErrNotJump = errors.New("not a relative jump")

// RangeError reports a jump whose destination is too far from its source to
// be encoded as a signed 32-bit displacement.
type RangeError struct {
	From uintptr // address of the jump instruction
	To   uintptr // jump destination
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("jump from %#x to %#x does not fit in a 32-bit displacement", e.From, e.To)
}

// EncodeJump returns a JMP rel32 with the given displacement.
func EncodeJump(disp int32) [JumpSize]byte {
	var buf [JumpSize]byte
	buf[0] = opcodeJMP
	binary.LittleEndian.PutUint32(buf[1:], uint32(disp))
	return buf
}

// DecodeJump returns the displacement of the JMP rel32 at the start of buf.
func DecodeJump(buf []byte) (int32, error) {
	if len(buf) < JumpSize || buf[0] != opcodeJMP {
		return 0, ErrNotJump
	}
	return int32(binary.LittleEndian.Uint32(buf[1:])), nil
}

// JumpDisplacement returns the displacement for a JMP rel32 located at at
// that lands on dest. The CPU adds the displacement to the end of the
// instruction, so the result is dest - (at + JumpSize).
func JumpDisplacement(at, dest uintptr) (int32, error) {
	return relDisplacement(at, at+JumpSize, dest)
}

// relDisplacement returns dest - next for the instruction at from, where next
// is the address of the instruction that follows it.
func relDisplacement(from, next, dest uintptr) (int32, error) {
	if unsafe.Sizeof(uintptr(0)) == 4 {
		// The whole address space is reachable, displacements wrap.
		return int32(uint32(dest - next)), nil
	}

	diff := int64(dest - next)
	if diff < math.MinInt32 || diff > math.MaxInt32 {
		return 0, &RangeError{From: from, To: dest}
	}
	return int32(diff), nil
}

// jumpDest returns the destination of a JMP rel32 at at with displacement
// disp.
func jumpDest(at uintptr, disp int32) uintptr {
	return at + JumpSize + uintptr(int64(disp))
}

// insertJump writes a JMP rel32 to dest at the start of buf and pads the rest
// of buf with INT3 opcodes to match what the compiler does.
func insertJump(buf []byte, dest uintptr) error {
	if len(buf) < JumpSize {
		return errors.New("buffer too small for jump instruction")
	}

	disp, err := JumpDisplacement(addrOf(buf), dest)
	if err != nil {
		return err
	}

	jmp := EncodeJump(disp)
	copy(buf, jmp[:])

	for i := JumpSize; i < len(buf); i++ {
		buf[i] = opcodeINT3
	}

	return nil
}

// addrOf returns the address of the first byte of buf.
func addrOf(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
}

// bytesAt returns a slice over n bytes of memory at addr.
func bytesAt(addr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}
