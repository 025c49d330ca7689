package forward

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/syncutil"
	"github.com/amberdns/amberdns/internal/dnsserver/pool"
	"github.com/miekg/dns"
)

// UpstreamTLS is a DNS-over-TLS client.  Connections are pooled and reused
// across queries, since the TLS handshake is by far the most expensive part
// of a DoT exchange.
type UpstreamTLS struct {
	connsPool *pool.Pool

	// bufs is the pool of buffers used for packing queries and reading
	// responses.
	bufs *syncutil.Pool[[]byte]

	addr    string
	tlsConf *tls.Config

	// timeout is the query timeout for this upstream.
	timeout time.Duration
}

// type check
var _ Upstream = (*UpstreamTLS)(nil)

// UpstreamTLSConfig is the configuration structure for a DNS-over-TLS
// upstream.
type UpstreamTLSConfig struct {
	// Address is the address of the upstream DNS server in the "host:port"
	// form.  The host may be either an IP address or a hostname.
	Address string

	// ServerName is the name sent in SNI and used to verify the upstream's
	// certificate.
	ServerName string

	// Timeout is the optional query timeout for this upstream.  If not set,
	// the context deadline is used.
	Timeout time.Duration
}

// NewUpstreamTLS returns a new properly initialized *UpstreamTLS.  c must not
// be nil.
func NewUpstreamTLS(c *UpstreamTLSConfig) (ups *UpstreamTLS) {
	ups = &UpstreamTLS{
		bufs: syncutil.NewSlicePool[byte](tcpBufSize),

		addr: c.Address,
		tlsConf: &tls.Config{
			ServerName: c.ServerName,
			MinVersion: tls.VersionTLS12,
		},

		timeout: c.Timeout,
	}

	ups.connsPool = pool.NewPool(poolMaxCapacity, makeTLSConnsPoolFactory(ups))
	ups.connsPool.IdleTimeout = poolIdleTimeout

	return ups
}

// Exchange implements the [Upstream] interface for [*UpstreamTLS].  DoT uses
// the same message framing as plain TCP, so responses are never truncated.
func (u *UpstreamTLS) Exchange(ctx context.Context, req *dns.Msg) (resp *dns.Msg, err error) {
	defer func() { err = errors.Annotate(err, "upstreamtls: %w") }()

	if u.timeout > 0 {
		var cancel func()
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	bufPtr := u.bufs.Get()
	defer u.bufs.Put(bufPtr)

	buf := *bufPtr

	reqLen := req.Len()
	if reqLen > dns.MaxMsgSize || reqLen > len(buf)-2 {
		return nil, dns.ErrBuf
	}

	binary.BigEndian.PutUint16(buf, uint16(reqLen))
	_, err = req.PackBuffer(buf[2:])
	if err != nil {
		return nil, fmt.Errorf("packing request: %w", err)
	}

	conn, err := u.connsPool.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting connection: %w", err)
	}

	// err is already wrapped inside processTLSConn.
	resp, err = u.processTLSConn(ctx, conn, req, buf, reqLen+2)
	if isExpectedConnErr(err) {
		// The pooled connection might have been closed by the server while
		// idle, retry once over a fresh one.
		conn, err = u.connsPool.Create(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating connection: %w", err)
		}

		// err is already wrapped inside processTLSConn.
		resp, err = u.processTLSConn(ctx, conn, req, buf, reqLen+2)
	}

	return resp, err
}

// Close implements the io.Closer interface for *UpstreamTLS.
func (u *UpstreamTLS) Close() (err error) {
	return errors.Annotate(u.connsPool.Close(), "closing upstream: %w")
}

// String implements the fmt.Stringer interface for *UpstreamTLS.
func (u *UpstreamTLS) String() (str string) {
	return "tls://" + u.addr
}

// processTLSConn writes the query to the connection and reads the response
// from it, the 2-byte length prefix framing being the same as for plain TCP.
func (u *UpstreamTLS) processTLSConn(
	ctx context.Context,
	conn *pool.Conn,
	req *dns.Msg,
	buf []byte,
	bufReqLen int,
) (resp *dns.Msg, err error) {
	// Make sure that we return the connection to the pool in the end or close
	// it if there was any error.
	defer func() {
		if err != nil {
			err = errors.WithDeferred(err, conn.Close())
		} else {
			err = u.connsPool.Put(conn)
		}
	}()

	if deadline, ok := ctx.Deadline(); ok {
		err = conn.SetDeadline(deadline)
		if err != nil {
			return nil, fmt.Errorf("setting deadline: %w", err)
		}
	}

	_, err = conn.Write(buf[:bufReqLen])
	if err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	var length uint16
	err = binary.Read(conn, binary.BigEndian, &length)
	if err != nil {
		return nil, fmt.Errorf("reading binary data: %w", err)
	}

	n, err := io.ReadFull(conn, buf[:length])
	if err != nil {
		return nil, fmt.Errorf("reading full: %w", err)
	}

	if n < minDNSMessageSize {
		return nil, fmt.Errorf("invalid msg: %w", dns.ErrShortRead)
	}

	resp = &dns.Msg{}
	err = resp.Unpack(buf)
	if err != nil {
		return nil, fmt.Errorf("unpacking msg: %w", err)
	}

	err = validatePlainResponse(req, resp)
	if err != nil {
		return resp, fmt.Errorf("validating tls response: %w", err)
	}

	return resp, nil
}

// makeTLSConnsPoolFactory makes a pool.Factory method dialing the upstream
// and performing the TLS handshake.
func makeTLSConnsPoolFactory(u *UpstreamTLS) (f pool.Factory) {
	return func(ctx context.Context) (conn net.Conn, err error) {
		dialer := &tls.Dialer{
			NetDialer: &net.Dialer{},
			Config:    u.tlsConf,
		}

		return dialer.DialContext(ctx, "tcp", u.addr)
	}
}
