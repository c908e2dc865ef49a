package inlinehook

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedDecoder returns instruction lengths from a list.
type fixedDecoder struct {
	lengths []int
	err     error
}

func (d *fixedDecoder) DecodeLength([]byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	l := d.lengths[0]
	d.lengths = d.lengths[1:]
	return l, nil
}

func TestPrologueLength(t *testing.T) {
	// CMPQ SP, 16(R14); JLS +0x2a
	code := []byte{0x49, 0x3b, 0x66, 0x10, 0x76, 0x2a, 0x55, 0x48, 0x89, 0xe5}

	n, err := PrologueLength(code, JumpSize, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	n, err = PrologueLength(code, 1, X86Decoder{})
	require.NoError(t, err)
	assert.LessOrEqual(t, n, 4)
}

func TestPrologueLength_Decoder(t *testing.T) {
	code := make([]byte, MaxPrologueSize+8)

	tests := []struct {
		name    string
		lengths []int
		want    int
		err     bool
	}{
		{"exact", []int{5}, 5, false},
		{"short instructions", []int{1, 1, 1, 1, 1}, 5, false},
		{"straddles", []int{4, 3}, 7, false},
		{"longest", []int{4, 15}, MaxPrologueSize, false},
		{"too long", []int{4, 16}, 0, true},
		{"zero length", []int{2, 0}, 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			n, err := PrologueLength(code, JumpSize, &fixedDecoder{lengths: tc.lengths})
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, n)
		})
	}
}

func TestPrologueLength_Errors(t *testing.T) {
	_, err := PrologueLength(make([]byte, 3), JumpSize, &fixedDecoder{lengths: []int{1, 1, 1, 1}})
	assert.Error(t, err)

	decodeErr := errors.New("bad instruction")
	_, err = PrologueLength(make([]byte, 8), JumpSize, &fixedDecoder{err: decodeErr})
	assert.ErrorIs(t, err, decodeErr)
}

func TestPrologueLength_Func(t *testing.T) {
	code := bytesAt(mustCodeOf(identity), MaxPrologueSize)

	n, err := PrologueLength(code, JumpSize, X86Decoder{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, JumpSize)
	assert.LessOrEqual(t, n, MaxPrologueSize)
}
