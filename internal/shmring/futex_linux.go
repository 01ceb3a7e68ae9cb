//go:build linux

package shmring

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux futex(2) operation codes. Kept local rather than trusting a
// convenience wrapper to exist in x/sys/unix across versions; the syscall
// number itself (unix.SYS_FUTEX) is part of the generated, per-arch
// syscall table and is stable.
const (
	futexWaitOp = 0
	futexWakeOp = 1
)

// futexWait blocks on addr while *addr == expected, waking early if
// another thread (in this process or a peer process sharing the mapping)
// calls futexWake on the same address. timeoutMs of 0 waits indefinitely.
func futexWait(addr *uint32, expected uint32, timeoutMs int) {
	var tsPtr unsafe.Pointer
	if timeoutMs > 0 {
		d := time.Duration(timeoutMs) * time.Millisecond
		ts := unix.NsecToTimespec(d.Nanoseconds())
		tsPtr = unsafe.Pointer(&ts)
	}
	_, _, _ = unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)),
		uintptr(futexWaitOp), uintptr(expected), uintptr(tsPtr), 0, 0)
}

// futexWake wakes at most one waiter blocked on addr.
func futexWake(addr *uint32) {
	_, _, _ = unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)),
		uintptr(futexWakeOp), 1, 0, 0, 0)
}
