// Package transport wraps plain-TCP and TLS listener/dialer construction.
// StartTLS negotiation on an already-accepted plain connection is not
// implemented here — the proxy core rejects it before any transport-level
// upgrade is attempted.
package transport

import (
	"crypto/tls"
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// Protocol name used throughout, matching predoxy's ProtocolTcp constant.
const Protocol = "tcp"

// ListenerConfig describes one listen endpoint.
type ListenerConfig struct {
	Host string
	Port int
	// TLS is non-nil iff the listener should perform implicit TLS
	// (TLS begins immediately on accept), per config `ssl`.
	TLS *tls.Config
}

// Listen opens a TCP listener at cfg.Host:cfg.Port, wrapped in TLS when
// cfg.TLS is set. Listen backlog is left to the OS default.
func Listen(cfg ListenerConfig) (net.Listener, error) {
	addr := net.JoinHostPort(cfg.Host, portString(cfg.Port))

	ln, err := net.Listen(Protocol, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	if cfg.TLS != nil {
		return tls.NewListener(ln, cfg.TLS), nil
	}
	return ln, nil
}

// DialerConfig describes one upstream endpoint.
type DialerConfig struct {
	Host string
	Port int
	// TLS is non-nil iff the connection to upstream should be established
	// over TLS immediately, per config `upstream_ssl`.
	TLS *tls.Config
}

// Dial connects to cfg.Host:cfg.Port. Called lazily on the first request a
// pair forwards, synchronously and without retry.
func Dial(cfg DialerConfig) (net.Conn, error) {
	addr := net.JoinHostPort(cfg.Host, portString(cfg.Port))

	if cfg.TLS != nil {
		conn, err := tls.Dial(Protocol, addr, cfg.TLS)
		if err != nil {
			return nil, errors.Wrapf(err, "dial upstream %s (tls)", addr)
		}
		return conn, nil
	}

	conn, err := net.Dial(Protocol, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial upstream %s", addr)
	}
	return conn, nil
}

func portString(port int) string {
	return strconv.Itoa(port)
}
