package dnsserver

import (
	"context"
	"net"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/miekg/dns"
)

// A ResponseWriter interface is used by a DNS handler to construct a DNS
// response.
type ResponseWriter interface {
	// LocalAddr returns the net.Addr of the server.
	LocalAddr() (addr net.Addr)

	// RemoteAddr returns the net.Addr of the client that sent the current
	// request.
	RemoteAddr() (addr net.Addr)

	// WriteMsg writes a reply back to the client.  Handlers must not modify
	// req and resp after the call to WriteMsg, since their ResponseWriter
	// implementation may be a recorder.  req and resp must not be nil.
	WriteMsg(ctx context.Context, req, resp *dns.Msg) (err error)
}

// NonWriterResponseWriter saves the response that has been written but doesn't
// actually send it to the client.
type NonWriterResponseWriter struct {
	localAddr  net.Addr
	remoteAddr net.Addr

	// req is the request for which the response has been written, if any.
	req *dns.Msg

	// resp is the message that has been written, if any.
	resp *dns.Msg
}

// NewNonWriterResponseWriter creates a new instance of the
// NonWriterResponseWriter.
func NewNonWriterResponseWriter(localAddr, remoteAddr net.Addr) (nrw *NonWriterResponseWriter) {
	return &NonWriterResponseWriter{
		localAddr:  localAddr,
		remoteAddr: remoteAddr,
	}
}

// type check
var _ ResponseWriter = (*NonWriterResponseWriter)(nil)

// LocalAddr implements the [ResponseWriter] interface for
// *NonWriterResponseWriter.
func (r *NonWriterResponseWriter) LocalAddr() (addr net.Addr) {
	return r.localAddr
}

// RemoteAddr implements the [ResponseWriter] interface for
// *NonWriterResponseWriter.
func (r *NonWriterResponseWriter) RemoteAddr() (addr net.Addr) {
	return r.remoteAddr
}

// WriteMsg implements the [ResponseWriter] interface for
// *NonWriterResponseWriter.
func (r *NonWriterResponseWriter) WriteMsg(_ context.Context, req, resp *dns.Msg) (err error) {
	r.req = req
	r.resp = resp

	return nil
}

// Msg returns the message that has been written, if any.
func (r *NonWriterResponseWriter) Msg() (m *dns.Msg) {
	return r.resp
}

// RecorderResponseWriter implements the [ResponseWriter] interface and simply
// calls the underlying writer's methods except for WriteMsg, which also
// records the response message that has been written.
type RecorderResponseWriter struct {
	// rw is the underlying ResponseWriter.
	rw ResponseWriter

	// Resp is the response that has been written, if any.
	Resp *dns.Msg
}

// NewRecorderResponseWriter creates a new instance of RecorderResponseWriter.
func NewRecorderResponseWriter(rw ResponseWriter) (recw *RecorderResponseWriter) {
	return &RecorderResponseWriter{
		rw: rw,
	}
}

// type check
var _ ResponseWriter = (*RecorderResponseWriter)(nil)

// LocalAddr implements the [ResponseWriter] interface for
// *RecorderResponseWriter.
func (r *RecorderResponseWriter) LocalAddr() (addr net.Addr) {
	return r.rw.LocalAddr()
}

// RemoteAddr implements the [ResponseWriter] interface for
// *RecorderResponseWriter.
func (r *RecorderResponseWriter) RemoteAddr() (addr net.Addr) {
	return r.rw.RemoteAddr()
}

// WriteMsg implements the [ResponseWriter] interface for
// *RecorderResponseWriter.
func (r *RecorderResponseWriter) WriteMsg(ctx context.Context, req, resp *dns.Msg) (err error) {
	defer func() { err = errors.Annotate(err, "recorder: %w") }()

	r.Resp = resp

	return r.rw.WriteMsg(ctx, req, resp)
}
