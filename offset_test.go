package inlinehook

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestOffset(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(Offset(0x10), OffsetOf(0x1000, 0x1010))
	assert.Equal(Offset(-0x10), OffsetOf(0x1010, 0x1000))
	assert.Equal(uintptr(0x1010), OffsetOf(0x1000, 0x1010).Resolve(0x1000))
	assert.Equal(uintptr(0x1000), OffsetOf(0x1010, 0x1000).Resolve(0x1010))

	// The same offset resolved against a copy refers to a point at the same
	// distance from the copy.
	o := OffsetOf(0x1000, 0x1800)
	assert.Equal(uintptr(0x5800), o.Resolve(0x5000))
}

func TestOffset_Copy(t *testing.T) {
	type pair struct {
		ref    Offset
		target int
	}

	var a pair
	a.ref = OffsetOf(uintptr(unsafe.Pointer(&a)), uintptr(unsafe.Pointer(&a.target)))

	b := a
	assert.Equal(t, uintptr(unsafe.Pointer(&b.target)), b.ref.Resolve(uintptr(unsafe.Pointer(&b))))
}
