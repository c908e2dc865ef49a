//go:build unix && !linux && !freebsd

package inlinehook

// These platforms don't have an equivalent to MAP_FIXED_NOREPLACE. MAP_FIXED
// would replace existing mappings, so the address is only a hint and
// Allocate checks where the kernel put the region.
//
// https://developer.apple.com/library/archive/documentation/System/Conceptual/ManPages_iPhoneOS/man2/mmap.2.html
// https://man.netbsd.org/mmap.2
// https://man.openbsd.org/mmap.2
const _MAP_FIXED_NOREPLACE = 0

const _MAP_32BIT = 0
