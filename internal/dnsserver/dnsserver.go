package dnsserver

import (
	"context"
	"net"
)

// Server represents a DNS server.  A server is a listener bound to a single
// address and serving a single protocol.
type Server interface {
	// Name returns the server name.  It is used for logging and metrics.
	Name() (name string)

	// Proto returns the protocol of the server.
	Proto() (proto Protocol)

	// Network is the network (tcp, udp, or empty) this server listens to.  If
	// it is empty, the server listens to all networks that are supposed to be
	// used by its protocol.
	Network() (network Network)

	// Addr returns the address the server was configured to listen to.
	Addr() (addr string)

	// Start starts the server and returns once all of its listeners are
	// considered up.  It exits immediately if the server failed to start
	// listening.
	Start(ctx context.Context) (err error)

	// Shutdown stops the server and waits for all active queries to be
	// processed or for ctx to be canceled, whichever comes first.
	Shutdown(ctx context.Context) (err error)

	// LocalTCPAddr returns the TCP address the server listens to at the
	// moment or nil if it does not listen to TCP.  Depending on the server
	// protocol it may correspond to DNS-over-TCP, DNS-over-TLS, or HTTPS.
	LocalTCPAddr() (addr net.Addr)

	// LocalUDPAddr returns the UDP address the server listens to at the
	// moment or nil if it does not listen to UDP.  Depending on the server
	// protocol it may correspond to DNS-over-UDP or HTTP/3.
	LocalUDPAddr() (addr net.Addr)
}
