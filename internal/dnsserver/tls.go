package dnsserver

import (
	"crypto/tls"
	"net"
)

// tlsListener is an implementation of net.Listener that accepts tls.Conn.
// The only point of using our own implementation is to close the underlying
// TCP connections gracefully, see https://github.com/golang/go/issues/45709.
type tlsListener struct {
	tcp       net.Listener
	tlsConfig *tls.Config
}

// newTLSListener creates a new instance of *tlsListener.
func newTLSListener(l net.Listener, tlsConfig *tls.Config) (tlsListen *tlsListener) {
	return &tlsListener{
		tcp:       l,
		tlsConfig: tlsConfig,
	}
}

// type check
var _ net.Listener = (*tlsListener)(nil)

// Accept implements the net.Listener interface for *tlsListener.
func (l *tlsListener) Accept() (conn net.Conn, err error) {
	c, err := l.tcp.Accept()
	if err != nil {
		return nil, err
	}

	return &tlsConn{
		Conn:     tls.Server(c, l.tlsConfig),
		baseConn: c,
	}, nil
}

// Close implements the net.Listener interface for *tlsListener.
func (l *tlsListener) Close() (err error) {
	return l.tcp.Close()
}

// Addr implements the net.Listener interface for *tlsListener.
func (l *tlsListener) Addr() (addr net.Addr) {
	return l.tcp.Addr()
}

// tlsConn is a net.Conn that closes the underlying TCP connection on Close
// instead of sending the TLS close_notify alert, which works around
// https://github.com/golang/go/issues/45709.
type tlsConn struct {
	*tls.Conn

	// baseConn is the underlying TCP connection.
	baseConn net.Conn
}

// type check
var _ net.Conn = (*tlsConn)(nil)

// Close implements the net.Conn interface for *tlsConn.
func (c *tlsConn) Close() (err error) {
	return c.baseConn.Close()
}
