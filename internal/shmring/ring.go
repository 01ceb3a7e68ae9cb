// Package shmring implements a lock-free single-producer/single-consumer
// byte ring buffer backed by a POSIX shared-memory file (mmap'd under
// /dev/shm), used by internal/transport/shmtransport as the queue storage
// for each direction of a channel. The design generalizes the fixed-slot
// mmap ring used by the market-data feeder this module's RPC stack was
// drawn from: a variable-length-frame byte ring, its capacity chosen at
// Create and fixed from then on, in
// place of a fixed 64-byte quote slot.
package shmring

import (
	"encoding/binary"
	"errors"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// frameHeaderSize is the length prefix written before every pushed frame.
const frameHeaderSize = 4

// controlSize is the size of the control block mmap'd at the start of the
// shared region, ahead of the data bytes. The positions, capacity and futex
// word sit together at its start (WritePos and ReadPos share a cache line);
// the rest is padding.
const controlSize = 128

var (
	// ErrFull is returned by Push when there is not enough free space for
	// the frame, including its length prefix.
	ErrFull = errors.New("shmring: ring full")

	// ErrFrameTooLarge is returned by Push when a single frame cannot ever
	// fit in the ring's data region.
	ErrFrameTooLarge = errors.New("shmring: frame larger than ring capacity")

	// ErrNotPowerOfTwo is returned when capacity isn't a power of two.
	ErrNotPowerOfTwo = errors.New("shmring: capacity must be a power of two")

	// ErrClosed is returned by Push/Pop after Close.
	ErrClosed = errors.New("shmring: ring closed")
)

// control is the shared header mapped at the front of the region. WritePos
// and ReadPos are monotonically increasing byte counters (never wrapped);
// the actual offset into data is pos & (capacity-1). Only the producer
// ever stores WritePos; only the consumer ever stores ReadPos — this is
// what makes the ring safe without a mutex.
type control struct {
	writePos uint64
	readPos  uint64
	capacity uint64
	waiters  uint32 // futex word: toggled to wake a blocked Pop
	_        [controlSize - 8 - 8 - 8 - 4]byte
}

// Ring is a byte ring buffer mapped into shared memory.
type Ring struct {
	file   *os.File
	region []byte
	ctl    *control
	data   []byte
	owner  bool
	closed atomic.Bool
}

// Create allocates a new named ring of the given power-of-two capacity
// (data bytes, excluding framing/control overhead) under /dev/shm.
func Create(name string, capacity int) (*Ring, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, ErrNotPowerOfTwo
	}
	path := shmPath(name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	total := controlSize + capacity
	if err := f.Truncate(int64(total)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	r, err := mapRing(f, total, capacity, true)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	r.ctl.capacity = uint64(capacity)
	return r, nil
}

// Open maps an existing named ring created by Create (typically from the
// peer process).
func Open(name string) (*Ring, error) {
	path := shmPath(name)
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	capacity := int(fi.Size()) - controlSize
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		f.Close()
		return nil, ErrNotPowerOfTwo
	}
	return mapRing(f, int(fi.Size()), capacity, false)
}

func mapRing(f *os.File, total, capacity int, owner bool) (*Ring, error) {
	region, err := unix.Mmap(int(f.Fd()), 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return &Ring{
		file:   f,
		region: region,
		ctl:    (*control)(castControl(region)),
		data:   region[controlSize:],
		owner:  owner,
	}, nil
}

func shmPath(name string) string {
	return "/dev/shm/" + name
}

// Push appends payload to the ring. It returns ErrFull if there is not
// currently enough space; callers are expected to retry or block
// externally (internal/transport/shmtransport retries a full ring after a
// short fixed sleep).
func (r *Ring) Push(payload []byte) error {
	if r.closed.Load() {
		return ErrClosed
	}
	frameLen := frameHeaderSize + len(payload)
	capacity := r.ctl.capacity
	if uint64(frameLen) > capacity {
		return ErrFrameTooLarge
	}

	writePos := r.ctl.writePos // producer-owned, no atomic load needed
	readPos := atomic.LoadUint64(&r.ctl.readPos)
	free := capacity - (writePos - readPos)
	if free < uint64(frameLen) {
		return ErrFull
	}

	var lenBuf [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	r.writeAt(writePos, lenBuf[:])
	r.writeAt(writePos+frameHeaderSize, payload)

	atomic.StoreUint64(&r.ctl.writePos, writePos+uint64(frameLen))
	atomic.AddUint32(&r.ctl.waiters, 1)
	futexWake(&r.ctl.waiters)
	return nil
}

// Pop removes and returns the next frame, or nil, false if the ring is
// currently empty.
func (r *Ring) Pop() ([]byte, bool, error) {
	if r.closed.Load() {
		return nil, false, ErrClosed
	}
	readPos := r.ctl.readPos // consumer-owned
	writePos := atomic.LoadUint64(&r.ctl.writePos)
	if readPos == writePos {
		return nil, false, nil
	}

	var lenBuf [frameHeaderSize]byte
	r.readAt(readPos, lenBuf[:])
	frameLen := binary.LittleEndian.Uint32(lenBuf[:])

	payload := make([]byte, frameLen)
	r.readAt(readPos+frameHeaderSize, payload)

	atomic.StoreUint64(&r.ctl.readPos, readPos+frameHeaderSize+uint64(frameLen))
	return payload, true, nil
}

// WaitPushable blocks (via futex, or returns immediately if data already
// arrived) until the writer signals that it has pushed a new frame, or
// the deadline in timeoutMs elapses (0 = wait indefinitely).
func (r *Ring) WaitPushable(lastSeen uint32, timeoutMs int) (seen uint32) {
	futexWait(&r.ctl.waiters, lastSeen, timeoutMs)
	return atomic.LoadUint32(&r.ctl.waiters)
}

func (r *Ring) writeAt(pos uint64, b []byte) {
	cap64 := r.ctl.capacity
	off := pos & (cap64 - 1)
	n := copy(r.data[off:], b)
	if n < len(b) {
		copy(r.data, b[n:])
	}
}

func (r *Ring) readAt(pos uint64, b []byte) {
	cap64 := r.ctl.capacity
	off := pos & (cap64 - 1)
	n := copy(b, r.data[off:])
	if n < len(b) {
		copy(b[n:], r.data)
	}
}

// Close unmaps the ring. The owner also unlinks the backing file.
func (r *Ring) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := unix.Munmap(r.region)
	closeErr := r.file.Close()
	if r.owner {
		os.Remove(r.file.Name())
	}
	if err != nil {
		return err
	}
	return closeErr
}
