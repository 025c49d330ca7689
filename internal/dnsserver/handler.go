package dnsserver

import (
	"context"

	"github.com/miekg/dns"
)

// Handler is an interface that defines how the DNS server would process DNS
// queries.  Inspired by net/http.Server and its Handler.
type Handler interface {
	// ServeDNS processes the request and writes a DNS response to rw.  ctx
	// must contain [*ServerInfo].  rw and req must not be nil.  req must have
	// exactly one question.
	ServeDNS(ctx context.Context, rw ResponseWriter, req *dns.Msg) (err error)
}

// The HandlerFunc type is an adapter to allow the use of ordinary functions as
// DNS handlers.  If f is a function with the appropriate signature,
// HandlerFunc(f) is a Handler that calls f.
type HandlerFunc func(context.Context, ResponseWriter, *dns.Msg) (err error)

// type check
var _ Handler = HandlerFunc(nil)

// ServeDNS implements the [Handler] interface for HandlerFunc.
func (f HandlerFunc) ServeDNS(ctx context.Context, rw ResponseWriter, req *dns.Msg) (err error) {
	return f(ctx, rw, req)
}

// notImplementedHandlerFunc is used if no Handler is configured for a server.
var notImplementedHandlerFunc HandlerFunc = func(
	ctx context.Context,
	w ResponseWriter,
	r *dns.Msg,
) (err error) {
	res := (&dns.Msg{}).SetRcode(r, dns.RcodeNotImplemented)

	return w.WriteMsg(ctx, r, res)
}

// Middleware is a general interface for dnsserver.Server middlewares.
type Middleware interface {
	// Wrap wraps the specified Handler and returns a new handler.  This
	// handler may call the underlying one and implement additional logic.
	Wrap(h Handler) (wrapped Handler)
}

// WithMiddlewares is a helper function that attaches the specified middlewares
// to the Handler.  Middlewares will be called in the same order in which they
// were specified.
func WithMiddlewares(h Handler, middlewares ...Middleware) (wrapped Handler) {
	wrapped = h

	// Go through middlewares in the reverse order.  This way the middleware
	// that was specified first will be called first.
	for i := len(middlewares) - 1; i >= 0; i-- {
		m := middlewares[i]
		wrapped = m.Wrap(wrapped)
	}

	return wrapped
}
