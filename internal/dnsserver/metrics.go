package dnsserver

import (
	"context"

	"github.com/miekg/dns"
)

// MetricsListener is an interface that is used for monitoring the server's
// state.  The dnsserver package user may supply a MetricsListener
// implementation that would increment different kinds of metrics (for
// instance, Prometheus metrics).  Every method accepts a context.Context which
// must have server information attached to it, retrievable with
// [ServerInfoFromContext] or [MustServerInfoFromContext].
//
// Implementations must be safe for concurrent use.
type MetricsListener interface {
	// OnRequest is called when the server has finished processing a request,
	// and it knows what response has been written.  info.Request may be
	// invalid (for example, contain no question) if the request was discarded.
	// info.Response, however, is always present.  rw is the ResponseWriter
	// that was used to write the response.
	OnRequest(ctx context.Context, info *QueryInfo, rw ResponseWriter)

	// OnInvalidMsg is called when the server encounters an invalid DNS
	// message.  It may be crap bytes that cannot be unpacked or a message that
	// the server cannot accept, such as a request with the "response" flag.
	OnInvalidMsg(ctx context.Context)

	// OnError is called when any error, expected or unexpected, happens.
	// Besides incrementing metrics it can also be used for error reporting.
	OnError(ctx context.Context, err error)

	// OnPanic is called when a panic happens in a goroutine.  v is the object
	// returned by the recover function.
	OnPanic(ctx context.Context, v any)
}

// QueryInfo is a request/response descriptor passed to
// [MetricsListener.OnRequest].
type QueryInfo struct {
	// Request is the DNS request.
	Request *dns.Msg

	// Response is the DNS response written to the client.
	Response *dns.Msg

	// RequestSize is the size of the request in bytes.
	RequestSize int

	// ResponseSize is the size of the response in bytes.
	ResponseSize int
}

// EmptyMetricsListener implements MetricsListener with empty functions.  This
// implementation is used by default if the user does not supply a custom one.
type EmptyMetricsListener struct{}

// type check
var _ MetricsListener = (*EmptyMetricsListener)(nil)

// OnRequest implements the [MetricsListener] interface for
// *EmptyMetricsListener.
func (e *EmptyMetricsListener) OnRequest(_ context.Context, _ *QueryInfo, _ ResponseWriter) {}

// OnInvalidMsg implements the [MetricsListener] interface for
// *EmptyMetricsListener.
func (e *EmptyMetricsListener) OnInvalidMsg(_ context.Context) {}

// OnError implements the [MetricsListener] interface for
// *EmptyMetricsListener.
func (e *EmptyMetricsListener) OnError(_ context.Context, _ error) {}

// OnPanic implements the [MetricsListener] interface for
// *EmptyMetricsListener.
func (e *EmptyMetricsListener) OnPanic(_ context.Context, _ any) {}
