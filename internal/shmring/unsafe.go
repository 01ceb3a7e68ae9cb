package shmring

import "unsafe"

// castControl reinterprets the first controlSize bytes of region as a
// *control. region must be at least controlSize bytes and stay alive (and
// unmoved) for as long as the returned pointer is used, which holds here
// because region is an mmap'd slice that is never reallocated.
func castControl(region []byte) unsafe.Pointer {
	return unsafe.Pointer(&region[0])
}
