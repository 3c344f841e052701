// Package netconn implements the transport socket for a single IRC
// connection: TCP dial, optional TLS, and framed line I/O.
//
// The codec (package message) is applied outside this package; Conn
// deals only in raw lines, with the terminating CRLF stripped off on
// read and added on write.
package netconn

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/pkg/errors"
)

// VerifyMode selects how the peer's TLS certificate is validated.
type VerifyMode int

const (
	// VerifyFull performs standard CA-chain validation. The default.
	VerifyFull VerifyMode = iota
	// VerifyNone accepts any certificate. Insecure; must be opted into.
	VerifyNone
	// VerifyFingerprint accepts iff the leaf certificate's SHA-256
	// fingerprint is in the configured set.
	VerifyFingerprint
)

// Config configures a dial attempt.
type Config struct {
	Host string
	Port int
	TLS  bool

	VerifyMode            VerifyMode
	TrustedFingerprints   map[string]struct{} // lowercase hex, no separators
	CheckOnlineRevocation bool

	// ClientCertificate, if set, is offered during the TLS handshake for
	// SASL EXTERNAL.
	ClientCertificate *tls.Certificate

	// BindHost, if set, is the local address to bind the outgoing socket to.
	BindHost string
}

// Conn is a single framed-line socket to an IRC server. The zero value is
// not usable; construct with Dial.
type Conn struct {
	conn    net.Conn
	tlsConn *tls.Conn
	r       *bufio.Reader
}

// Dropped is emitted (via the error returned from Send/ReceiveLine) when
// the remote end closes, or a read/write fails outright, as opposed to a
// timeout on Dial which is retriable.
type Dropped struct {
	Cause error
}

func (e *Dropped) Error() string { return "connection dropped: " + e.Cause.Error() }
func (e *Dropped) Unwrap() error { return e.Cause }

// Dial opens a TCP connection to cfg.Host:cfg.Port, optionally negotiating
// TLS, failing if ctx's deadline elapses first. A context deadline
// exceeded error is retriable; the caller is expected to walk the
// configured server list on failure.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	dialer := &net.Dialer{}
	if cfg.BindHost != "" {
		local, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(cfg.BindHost, "0"))
		if err != nil {
			return nil, errors.Wrap(err, "resolving bind host")
		}
		dialer.LocalAddr = local
	}

	addr := net.JoinHostPort(cfg.Host, portString(cfg.Port))
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "dial")
	}

	if !cfg.TLS {
		return &Conn{conn: rawConn, r: bufio.NewReader(rawConn)}, nil
	}

	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		_ = rawConn.Close()
		return nil, errors.Wrap(err, "building tls config")
	}

	tlsConn := tls.Client(rawConn, tlsConfig)
	if deadline, ok := ctx.Deadline(); ok {
		_ = tlsConn.SetDeadline(deadline)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = tlsConn.Close()
		return nil, errors.Wrap(err, "tls handshake")
	}
	_ = tlsConn.SetDeadline(time.Time{})

	return &Conn{conn: tlsConn, tlsConn: tlsConn, r: bufio.NewReader(tlsConn)}, nil
}

func portString(p int) string {
	if p == 0 {
		return "6667"
	}
	return itoa(p)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Send writes raw bytes (expected to already end in CRLF) to the socket.
// Send is the single-writer surface: callers (the rate-limit chain, the
// engine's message loop) must serialize calls.
func (c *Conn) Send(b []byte) error {
	_, err := c.conn.Write(b)
	if err != nil {
		return &Dropped{Cause: err}
	}
	return nil
}

// ReceiveLine reads one line terminated by CRLF (or bare LF, tolerated the
// way most ircds' own clients do) and returns it with the terminator
// stripped. The codec in package message is applied by the caller.
func (c *Conn) ReceiveLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", &Dropped{Cause: err}
	}
	line = trimCRLF(line)
	return line, nil
}

func trimCRLF(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '\r' {
		s = s[:len(s)-1]
	}
	return s
}

// Disconnect closes the underlying socket. Safe to call more than once.
func (c *Conn) Disconnect() error {
	return c.conn.Close()
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
