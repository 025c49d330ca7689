package dnssvc

import (
	"context"
	"log/slog"
	"net/netip"
	"sync/atomic"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/amberdns/amberdns/internal/adns"
	"github.com/amberdns/amberdns/internal/dnsmsg"
	"github.com/amberdns/amberdns/internal/dnsserver"
	"github.com/amberdns/amberdns/internal/errcoll"
	"github.com/amberdns/amberdns/internal/querylog"
	"github.com/miekg/dns"
)

// queryLogMw records one query log entry per completed query.  It captures
// the response with a non-writing response writer, so that the entry can be
// built from the final response before it goes out.
type queryLogMw struct {
	logger   *slog.Logger
	errColl  errcoll.Interface
	queryLog querylog.Interface
	clock    timeutil.Clock

	// privacy strips client addresses from the entries when set.  It is
	// shared with the service, which refreshes it from the store.
	privacy *atomic.Bool
}

// type check
var _ dnsserver.Middleware = (*queryLogMw)(nil)

// Wrap implements the [dnsserver.Middleware] interface for *queryLogMw.
func (mw *queryLogMw) Wrap(h dnsserver.Handler) (wrapped dnsserver.Handler) {
	f := func(ctx context.Context, rw dnsserver.ResponseWriter, req *dns.Msg) (err error) {
		defer func() { err = errors.Annotate(err, "querylog mw: %w") }()

		ri := adns.MustRequestInfoFromContext(ctx)

		qs := &queryState{}
		ctx = contextWithQueryState(ctx, qs)

		nwrw := dnsserver.NewNonWriterResponseWriter(rw.LocalAddr(), rw.RemoteAddr())
		err = h.ServeDNS(ctx, nwrw, req)
		if err != nil {
			// Don't wrap the error, because this is the main flow, and there
			// is already errors.Annotate here.
			return err
		}

		resp := nwrw.Msg()
		if resp == nil {
			return nil
		}

		err = rw.WriteMsg(ctx, req, resp)
		if err != nil {
			return err
		}

		mw.record(ctx, ri, qs, resp)

		return nil
	}

	return dnsserver.HandlerFunc(f)
}

// record builds the query log entry and writes it.  The query log itself is
// asynchronous, so this does not block the response path.
func (mw *queryLogMw) record(
	ctx context.Context,
	ri *adns.RequestInfo,
	qs *queryState,
	resp *dns.Msg,
) {
	remoteIP := ri.RemoteIP
	if mw.privacy.Load() {
		remoteIP = netip.Addr{}
	}

	e := &querylog.Entry{
		Time:         ri.Start,
		RemoteIP:     remoteIP,
		DomainFQDN:   dns.Fqdn(ri.Host),
		BlockReason:  qs.blockReason,
		Upstream:     qs.upstream,
		ID:           ri.ID,
		Elapsed:      mw.clock.Now().Sub(ri.Start),
		QType:        ri.QType,
		ResponseCode: dnsmsg.RCode(resp.Rcode),
		Blocked:      qs.blocked,
		Cached:       qs.cached,
	}

	err := mw.queryLog.Write(ctx, e)
	if err != nil {
		errcoll.Collect(ctx, mw.errColl, mw.logger, "writing query log entry", err)
	}
}
