package dnssvc

import (
	"context"
	"time"

	"github.com/amberdns/amberdns/internal/dnsserver/forward"
	"github.com/miekg/dns"
)

// ForwardMetricsListener is a [forward.MetricsListener] that records the
// upstream that answered each query into the query log state, delegating the
// events to the next listener.
type ForwardMetricsListener struct {
	next forward.MetricsListener
}

// NewForwardMetricsListener returns a forwarding metrics listener feeding the
// query log.  next may be nil.
func NewForwardMetricsListener(next forward.MetricsListener) (l *ForwardMetricsListener) {
	if next == nil {
		next = &forward.EmptyMetricsListener{}
	}

	return &ForwardMetricsListener{
		next: next,
	}
}

// type check
var _ forward.MetricsListener = (*ForwardMetricsListener)(nil)

// OnForwardRequest implements the [forward.MetricsListener] interface for
// *ForwardMetricsListener.
func (l *ForwardMetricsListener) OnForwardRequest(
	ctx context.Context,
	ups forward.Upstream,
	req, resp *dns.Msg,
	startTime time.Time,
	err error,
) {
	if err == nil && resp != nil {
		if qs, ok := queryStateFromContext(ctx); ok {
			qs.upstream = ups.String()
		}
	}

	l.next.OnForwardRequest(ctx, ups, req, resp, startTime, err)
}

// OnUpstreamStatusChanged implements the [forward.MetricsListener] interface
// for *ForwardMetricsListener.
func (l *ForwardMetricsListener) OnUpstreamStatusChanged(ups forward.Upstream, isUp bool) {
	l.next.OnUpstreamStatusChanged(ups, isUp)
}
