package dnssvc

import (
	"context"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/netutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/amberdns/amberdns/internal/adns"
	"github.com/amberdns/amberdns/internal/dnsmsg"
	"github.com/amberdns/amberdns/internal/dnsserver"
	"github.com/amberdns/amberdns/internal/filter"
	"github.com/miekg/dns"
)

// initMw is the first middleware of the pipeline.  It guards against
// unsupported question classes, applies the per-request budget, and puts the
// request information into the context for the middlewares below.
type initMw struct {
	messages *dnsmsg.Constructor
	clock    timeutil.Clock
	timeout  time.Duration
}

// type check
var _ dnsserver.Middleware = (*initMw)(nil)

// Wrap implements the [dnsserver.Middleware] interface for *initMw.
func (mw *initMw) Wrap(h dnsserver.Handler) (wrapped dnsserver.Handler) {
	f := func(ctx context.Context, rw dnsserver.ResponseWriter, req *dns.Msg) (err error) {
		defer func() { err = errors.Annotate(err, "init mw: %w") }()

		// The server layer has already validated that the request has exactly
		// one question.
		q := req.Question[0]
		if q.Qclass != dns.ClassINET {
			return rw.WriteMsg(ctx, req, mw.messages.NewMsgNOTIMPLEMENTED(req))
		}

		ctx, cancel := context.WithTimeout(ctx, mw.timeout)
		defer cancel()

		ri := mw.newRequestInfo(ctx, rw, req)
		ctx = adns.WithRequestID(ctx, ri.ID)
		ctx = adns.ContextWithRequestInfo(ctx, ri)

		return h.ServeDNS(ctx, rw, req)
	}

	return dnsserver.HandlerFunc(f)
}

// newRequestInfo builds the request information for req.
func (mw *initMw) newRequestInfo(
	ctx context.Context,
	rw dnsserver.ResponseWriter,
	req *dns.Msg,
) (ri *adns.RequestInfo) {
	q := req.Question[0]

	start, ok := dnsserver.StartTimeFromContext(ctx)
	if !ok {
		start = mw.clock.Now()
	}

	si := dnsserver.MustServerInfoFromContext(ctx)

	return &adns.RequestInfo{
		Start:      start,
		Messages:   mw.messages,
		RemoteIP:   netutil.NetAddrToAddrPort(rw.RemoteAddr()).Addr(),
		Host:       filter.NormalizeDomain(q.Name),
		ServerName: si.Name,
		ID:         adns.NewRequestID(),
		QType:      q.Qtype,
		QClass:     q.Qclass,
		DO:         dnsmsg.IsDO(req),
	}
}
