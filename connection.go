package ftp

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// tlsMode represents the TLS mode negotiated for the control connection.
type tlsMode int

const (
	tlsModeNone tlsMode = iota
	tlsModeExplicit
	tlsModeImplicit
)

// Connection owns the control socket (plain or TLS) and knows how to
// open passive data sockets that reuse its TLS session, per spec.md §4.4.
type Connection struct {
	host string
	port string

	conn   net.Conn
	bufMu  sync.Mutex
	buf    []byte // accumulated, not-yet-parsed control-channel bytes
	closed bool

	tlsConfig *tls.Config
	tlsMode   tlsMode
	secure    bool // true once the control channel has been upgraded

	dialer      *net.Dialer
	connTimeout time.Duration
	pasvTimeout time.Duration

	logger *slog.Logger
}

// dial opens the control socket (wrapping it in TLS immediately for
// implicit mode) and reads the server's greeting frame.
func (c *Connection) dial() (*Frame, error) {
	addr := net.JoinHostPort(c.host, c.port)
	c.logger.Debug("ftp: dialing control connection", "addr", addr)

	rawConn, err := c.dialWithTimeout(addr)
	if err != nil {
		return nil, &ConnectFailed{Addr: addr, Err: err}
	}

	if c.tlsMode == tlsModeImplicit {
		tlsConn := tls.Client(rawConn, c.tlsConfig)
		if err := c.handshake(tlsConn); err != nil {
			rawConn.Close()
			return nil, &TLSNegotiationFailed{Step: "implicit connect", Err: err}
		}
		c.conn = tlsConn
		c.secure = true
	} else {
		c.conn = rawConn
	}

	frame, err := c.ReadFrame()
	if err != nil {
		c.conn.Close()
		return nil, &ProtocolError{Reason: fmt.Sprintf("reading greeting: %v", err)}
	}
	return frame, nil
}

func (c *Connection) dialWithTimeout(addr string) (net.Conn, error) {
	d := c.dialer
	if d == nil {
		d = &net.Dialer{}
	}
	if c.connTimeout > 0 {
		d.Timeout = c.connTimeout
	}
	return d.Dial("tcp", addr)
}

func (c *Connection) handshake(conn *tls.Conn) error {
	if c.connTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.connTimeout))
	}
	if err := conn.Handshake(); err != nil {
		return err
	}
	if c.connTimeout > 0 {
		_ = conn.SetDeadline(time.Time{})
	}
	return nil
}

// UpgradeTLS wraps the current (plain) control socket in TLS, for
// explicit AUTH TLS. It must only be called when no other goroutine is
// reading from or writing to the connection.
func (c *Connection) UpgradeTLS() error {
	tlsConn := tls.Client(c.conn, c.tlsConfig)
	if err := c.handshake(tlsConn); err != nil {
		return &TLSNegotiationFailed{Step: "AUTH TLS handshake", Err: err}
	}
	c.conn = tlsConn
	c.secure = true
	return nil
}

// Write sends one command line terminated by CRLF, clearing any
// leftover unparsed bytes in the read buffer first (spec.md §4.4).
//
// buf is guarded by bufMu because a forced Abort (spec.md §5) writes
// "ABOR" from the caller's goroutine while the engine's own dispatch
// goroutine may concurrently be inside ReadFrame, racing over the same
// accumulated-bytes buffer.
func (c *Connection) Write(cmd string) error {
	c.bufMu.Lock()
	c.buf = nil
	c.bufMu.Unlock()
	c.logger.Debug("ftp: >", "cmd", cmd)
	_, err := c.conn.Write([]byte(cmd + "\r\n"))
	return err
}

// ReadFrame blocks until a complete response frame can be extracted
// from the control stream, reading more bytes as needed.
func (c *Connection) ReadFrame() (*Frame, error) {
	for {
		c.bufMu.Lock()
		frame, rest, ok := ParseResponse(c.buf)
		if ok {
			c.buf = rest
		}
		c.bufMu.Unlock()
		if ok {
			c.logger.Debug("ftp: <", "code", frame.Code, "text", frame.Text)
			return frame, nil
		}
		tmp := make([]byte, 4096)
		n, err := c.conn.Read(tmp)
		if n > 0 {
			c.bufMu.Lock()
			c.buf = append(c.buf, tmp[:n]...)
			c.bufMu.Unlock()
		}
		if err != nil {
			return nil, err
		}
	}
}

// OpenPassive dials a data connection to (ip, port), upgrading it to TLS
// with the control session's config (enabling session resumption) if the
// control channel is secure. A DataConnectionTimeout error is returned
// if the connect doesn't complete within pasvTimeout.
func (c *Connection) OpenPassive(ip string, port int) (net.Conn, error) {
	addr := net.JoinHostPort(ip, fmt.Sprintf("%d", port))

	d := *c.dialer
	timeout := c.pasvTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d.Timeout = timeout

	conn, err := d.Dial("tcp", addr)
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return nil, &DataConnectionTimeout{Addr: addr, Timeout: timeout.String()}
		}
		return nil, &ConnectFailed{Addr: addr, Err: err}
	}

	if c.secure {
		tlsConn := tls.Client(conn, c.tlsConfig)
		if err := c.handshake(tlsConn); err != nil {
			conn.Close()
			return nil, &TLSNegotiationFailed{Step: "data channel handshake", Err: err}
		}
		return tlsConn, nil
	}
	return conn, nil
}

// Close tears down the control socket.
func (c *Connection) Close() error {
	if c.conn == nil || c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
