package dnsserver

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/syncutil"
	"github.com/miekg/dns"
)

// serveTCP runs the TCP serving loop.
func (s *ServerDNS) serveTCP(ctx context.Context, l net.Listener) {
	defer func() {
		err := l.Close()
		if err != nil {
			s.baseLogger.DebugContext(ctx, "closing tcp listener", slogutil.KeyError, err)
		}
	}()

	for s.isStarted() {
		conn, err := l.Accept()
		if err != nil {
			if !s.isStarted() {
				return
			}

			if isNonCriticalNetError(err) {
				// Non-critical errors, do not register in the metrics or log
				// anywhere.
				continue
			}

			s.baseLogger.ErrorContext(ctx, "accepting tcp conn", slogutil.KeyError, err)

			return
		}

		func() {
			s.tcpConnsMu.Lock()
			defer s.tcpConnsMu.Unlock()

			// Track the connection to allow unblocking reads on shutdown.
			s.tcpConns.Add(conn)
		}()

		s.activeTaskWG.Go(func() {
			s.serveTCPConn(ctx, conn)
		})
	}
}

// serveTCPConn serves a single TCP connection.
func (s *ServerDNS) serveTCPConn(ctx context.Context, conn net.Conn) {
	// Use a separate WaitGroup to wait until all queries from this connection
	// have been processed before closing it.
	connWG := &sync.WaitGroup{}
	defer func() {
		connWG.Wait()

		err := conn.Close()
		if err != nil {
			s.baseLogger.DebugContext(ctx, "closing tcp conn", slogutil.KeyError, err)
		}

		s.tcpConnsMu.Lock()
		defer s.tcpConnsMu.Unlock()

		s.tcpConns.Delete(conn)
	}()
	defer s.handlePanicAndRecover(ctx)

	// Use the read timeout for the first message and the idle timeout for
	// subsequent ones.
	timeout := s.readTimeout
	for s.isStarted() {
		m, err := s.readTCPMsg(conn, timeout)
		if err != nil {
			if errors.Is(err, io.EOF) ||
				errors.Is(err, net.ErrClosed) ||
				isNonCriticalNetError(err) {
				// Don't even log these.
				return
			}

			// No need to read further.
			s.baseLogger.DebugContext(ctx, "reading tcp msg", slogutil.KeyError, err)

			return
		}

		startTime := time.Now()

		var ci *ClientInfo
		if cs, ok := conn.(tlsConnectionStater); ok {
			ci = &ClientInfo{
				TLSServerName: strings.ToLower(cs.ConnectionState().ServerName),
			}
		}

		// RFC 7766 recommends implementing query pipelining, i.e. process all
		// incoming queries concurrently and write responses out of order.
		err = s.taskPool.submitWG(connWG, func() {
			s.serveTCPMessage(ctx, startTime, ci, m, conn)
		})
		if err != nil {
			// The pool is overloaded.  Process the query in the reading
			// goroutine to apply backpressure instead of dropping the query.
			s.serveTCPMessage(ctx, startTime, ci, m, conn)
		}

		timeout = s.tcpIdleTimeout
	}
}

// tlsConnectionStater is a common interface for connections that can return
// a TLS connection state.
type tlsConnectionStater interface {
	ConnectionState() (cs tls.ConnectionState)
}

// serveTCPMessage processes a single TCP message.  ci may be nil for plain
// TCP connections.
func (s *ServerDNS) serveTCPMessage(
	ctx context.Context,
	startTime time.Time,
	ci *ClientInfo,
	m []byte,
	conn net.Conn,
) {
	reqCtx, reqCancel := s.requestContext()
	defer reqCancel()

	defer s.handlePanicAndRecover(reqCtx)

	reqCtx = ContextWithStartTime(reqCtx, startTime)
	if ci != nil {
		reqCtx = ContextWithClientInfo(reqCtx, ci)
	}

	rw := &tcpResponseWriter{
		respPool:     s.respPool,
		conn:         conn,
		writeTimeout: s.writeTimeout,
		proto:        s.proto,
	}
	written := s.serveDNS(reqCtx, m, rw)
	s.putTCPBuffer(m)

	if !written {
		// Nothing has been written, close the connection to avoid hanging
		// ones.  That might happen if the handler rate-limited the connection
		// or if we received garbage data instead of a DNS query.
		err := conn.Close()
		if err != nil {
			s.baseLogger.DebugContext(reqCtx, "closing tcp conn", slogutil.KeyError, err)
		}
	}
}

// readTCPMsg reads the next incoming DNS message.
func (s *ServerDNS) readTCPMsg(conn net.Conn, timeout time.Duration) (m []byte, err error) {
	err = conn.SetReadDeadline(time.Now().Add(timeout))
	if err != nil {
		return nil, err
	}

	var length uint16
	err = binary.Read(conn, binary.BigEndian, &length)
	if err != nil {
		return nil, err
	}

	m = s.getTCPBuffer(int(length))
	_, err = io.ReadFull(conn, m)
	if err != nil {
		s.putTCPBuffer(m)

		return nil, err
	}

	return m, nil
}

// getTCPBuffer returns a buffer of the given length to read the incoming DNS
// query into.
func (s *ServerDNS) getTCPBuffer(length int) (buf []byte) {
	if length > s.tcpSize {
		// If the query is larger than the buffer size, don't use the pool at
		// all, just allocate a new slice.
		return make([]byte, length)
	}

	m := *s.tcpPool.Get()

	return m[:length]
}

// putTCPBuffer puts the TCP buffer back into the pool.
func (s *ServerDNS) putTCPBuffer(m []byte) {
	if cap(m) != s.tcpSize {
		// This slice has not been taken from the pool, ignore it.
		return
	}

	m = m[:s.tcpSize]
	s.tcpPool.Put(&m)
}

// tcpResponseWriter implements the [ResponseWriter] interface for a
// DNS-over-TCP or a DNS-over-TLS server.
type tcpResponseWriter struct {
	respPool     *syncutil.Pool[[]byte]
	conn         net.Conn
	writeTimeout time.Duration
	proto        Protocol
}

// type check
var _ ResponseWriter = (*tcpResponseWriter)(nil)

// LocalAddr implements the [ResponseWriter] interface for *tcpResponseWriter.
func (r *tcpResponseWriter) LocalAddr() (addr net.Addr) {
	return r.conn.LocalAddr()
}

// RemoteAddr implements the [ResponseWriter] interface for
// *tcpResponseWriter.
func (r *tcpResponseWriter) RemoteAddr() (addr net.Addr) {
	return r.conn.RemoteAddr()
}

// WriteMsg implements the [ResponseWriter] interface for *tcpResponseWriter.
func (r *tcpResponseWriter) WriteMsg(ctx context.Context, req, resp *dns.Msg) (err error) {
	normalize(NetworkTCP, r.proto, req, resp, 0)

	bufPtr := r.respPool.Get()
	defer r.respPool.Put(bufPtr)

	b, err := packWithPrefix(resp, *bufPtr)
	if err != nil {
		return fmt.Errorf("tcp: packing response: %w", err)
	}

	*bufPtr = b

	withWriteDeadline(ctx, r.writeTimeout, r.conn, func() {
		_, err = r.conn.Write(b)
	})

	if err != nil {
		return &WriteError{
			Err:      err,
			Protocol: "tcp",
		}
	}

	return nil
}
