// Package logging provides the structured, zerolog-backed logger shared
// across every package in this module, adapted from this module's prior
// syslog forwarder: a single package-level logger, safe to call before
// Init (falling back to a sane default), swappable once at process
// start-up.
package logging

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var current atomic.Pointer[zerolog.Logger]

func init() {
	l := newDefault(os.Stderr)
	current.Store(&l)
}

func newDefault(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}).
		With().
		Timestamp().
		Logger()
}

// Init replaces the package-level logger, e.g. to switch to JSON output
// or raise/lower the level for a long-running host process.
func Init(l zerolog.Logger) {
	current.Store(&l)
}

// L returns the current logger. Safe to call from any goroutine at any
// point in the process lifetime, including package init order that races
// with Init.
func L() *zerolog.Logger {
	return current.Load()
}

// SetLevel adjusts the minimum level of the current logger in place.
func SetLevel(level zerolog.Level) {
	l := current.Load().Level(level)
	current.Store(&l)
}

// Component returns a child logger tagged with a "component" field,
// mirroring how this module's transports/rpc packages scope their log
// lines (e.g. "unixsocket", "proxy", "stub").
func Component(name string) zerolog.Logger {
	return current.Load().With().Str("component", name).Logger()
}
