package rpcstream

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// buildTLSConfig loads the cert/key/CA paths named in Config into a
// crypto/tls.Config, used to wrap the raw net.Conn before handing it to
// smux. TLS is optional per spec.md §4.E; callers skip this entirely when
// cfg.EnableTLS is false.
func buildTLSConfig(cfg Config, isServer bool) (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.ServerCertPath != "" && cfg.ServerKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ServerCertPath, cfg.ServerKeyPath)
		if err != nil {
			return nil, fmt.Errorf("rpcstream: load key pair: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	if cfg.CACertPath != "" {
		pem, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("rpcstream: read ca cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("rpcstream: no certificates parsed from %s", cfg.CACertPath)
		}
		if isServer {
			tlsCfg.ClientCAs = pool
			tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
		} else {
			tlsCfg.RootCAs = pool
		}
	}

	return tlsCfg, nil
}

func smuxKeepaliveConfig(cfg Config) (intervalSec, timeoutSec int) {
	intervalSec, timeoutSec = cfg.KeepaliveTimeSec, cfg.KeepaliveTimeoutSec
	if intervalSec <= 0 {
		intervalSec = 30
	}
	if timeoutSec <= 0 {
		timeoutSec = 10
	}
	return
}
