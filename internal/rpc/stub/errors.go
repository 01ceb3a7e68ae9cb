package stub

import "errors"

var (
	// ErrAlreadyServing is returned by Serve if called more than once.
	ErrAlreadyServing = errors.New("stub: already serving")

	// ErrNotServing is returned by Stop if Serve never succeeded.
	ErrNotServing = errors.New("stub: not serving")

	// ErrShutdownTimeout is returned by Stop when active handlers have not
	// drained to zero within Config.ShutdownTimeout.
	ErrShutdownTimeout = errors.New("stub: shutdown timed out waiting for active handlers")
)
