package unixsocket

import (
	"time"

	"golang.org/x/sys/unix"
)

// writeBackoffInitial and writeBackoffMax bound the retry delay used by
// writeAll when a non-blocking fd isn't ready for writing yet.
const (
	writeBackoffInitial = 10 * time.Microsecond
	writeBackoffMax      = 5 * time.Millisecond
	writeBackoffAttempts = 100
)

// writeAll writes every byte of data to fd, a non-blocking socket,
// retrying on EAGAIN with a capped exponential backoff.
func writeAll(fd int, data []byte) error {
	backoff := writeBackoffInitial
	attempts := 0
	for len(data) > 0 {
		n, err := unix.Write(fd, data)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				attempts++
				if attempts > writeBackoffAttempts {
					return errWriteBackedOff
				}
				time.Sleep(backoff)
				if backoff < writeBackoffMax {
					backoff *= 2
					if backoff > writeBackoffMax {
						backoff = writeBackoffMax
					}
				}
				continue
			}
			return err
		}
		data = data[n:]
		attempts = 0
	}
	return nil
}
