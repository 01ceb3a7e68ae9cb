package rpcstream

import "time"

// Config parameterizes the RPC-stream transport: the smux session
// underneath it, optional TLS, and the worker pool that bounds concurrent
// handler dispatch on the server side. Field names mirror spec.md §6's
// RPC-stream configuration table.
type Config struct {
	IsServer bool
	Endpoint string // "/path/to.sock" (AF_UNIX) or "host:port" (TCP)

	EnableTLS      bool
	ServerCertPath string
	ServerKeyPath  string
	CACertPath     string

	MaxConcurrentStreams int
	KeepaliveTimeSec      int
	KeepaliveTimeoutSec   int
	MaxMessageSize        int
	CQThreadCount         int
	ConnectionPoolSize    int
	EnableHealthCheck     bool

	ConnectTimeout time.Duration
}

// DefaultConfig returns the configuration this module's stream transport
// has always used: a modest worker pool, 30s keepalive, 16 MiB message
// cap, matching internal/transport/unixsocket's defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentStreams: 256,
		KeepaliveTimeSec:     30,
		KeepaliveTimeoutSec:  10,
		MaxMessageSize:       16 * 1024 * 1024,
		CQThreadCount:        4,
		ConnectionPoolSize:   8,
		EnableHealthCheck:    true,
		ConnectTimeout:       5 * time.Second,
	}
}
