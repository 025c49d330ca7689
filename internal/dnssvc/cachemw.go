package dnssvc

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/amberdns/amberdns/internal/adns"
	"github.com/amberdns/amberdns/internal/dnscache"
	"github.com/amberdns/amberdns/internal/dnsserver"
	"github.com/amberdns/amberdns/internal/errcoll"
	"github.com/miekg/dns"
)

// errNoUpstreamResp is returned from the resolve function when the underlying
// handler finished without writing a response.
const errNoUpstreamResp errors.Error = "no upstream response"

// cacheMw serves answers from the cache and fills it from upstream
// resolutions.  A fresh hit is returned immediately; a stale entry is used
// only after upstream resolution has failed; an upstream failure with no
// stale entry becomes an uncached SERVFAIL.
type cacheMw struct {
	logger  *slog.Logger
	errColl errcoll.Interface
	cache   *dnscache.Cache
	clock   timeutil.Clock

	// enabled reflects the store settings toggle.  It is shared with the
	// service, which refreshes it.
	enabled *atomic.Bool
}

// type check
var _ dnsserver.Middleware = (*cacheMw)(nil)

// Wrap implements the [dnsserver.Middleware] interface for *cacheMw.
func (mw *cacheMw) Wrap(h dnsserver.Handler) (wrapped dnsserver.Handler) {
	f := func(ctx context.Context, rw dnsserver.ResponseWriter, req *dns.Msg) (err error) {
		defer func() { err = errors.Annotate(err, "cache mw: %w") }()

		if mw.cache == nil || !mw.enabled.Load() {
			return h.ServeDNS(ctx, rw, req)
		}

		ri := adns.MustRequestInfoFromContext(ctx)
		name := req.Question[0].Name

		resp, state := mw.cache.Lookup(ctx, name, ri.QType, mw.clock.Now())
		if state == dnscache.Hit {
			if qs, ok := queryStateFromContext(ctx); ok {
				qs.cached = true
			}

			resp.Id = req.Id

			return rw.WriteMsg(ctx, req, resp)
		}

		var stale *dns.Msg
		if state == dnscache.Stale {
			stale = resp
		}

		upResp, _, err := mw.cache.Resolve(name, ri.QType, func() (r *dns.Msg, fnErr error) {
			return mw.resolve(ctx, rw, req, h)
		})
		if err != nil {
			return mw.respondFailed(ctx, rw, req, ri, stale, err)
		}

		mw.cache.Insert(ctx, name, ri.QType, upResp, mw.clock.Now())

		// The resolution may be shared with concurrent queries for the same
		// question, so bind a copy to this request.
		resp = upResp.Copy()
		resp.Id = req.Id

		return rw.WriteMsg(ctx, req, resp)
	}

	return dnsserver.HandlerFunc(f)
}

// resolve runs the underlying handler and captures its response.
func (mw *cacheMw) resolve(
	ctx context.Context,
	rw dnsserver.ResponseWriter,
	req *dns.Msg,
	h dnsserver.Handler,
) (resp *dns.Msg, err error) {
	nwrw := dnsserver.NewNonWriterResponseWriter(rw.LocalAddr(), rw.RemoteAddr())
	err = h.ServeDNS(ctx, nwrw, req)
	if err != nil {
		return nil, err
	}

	resp = nwrw.Msg()
	if resp == nil {
		return nil, errNoUpstreamResp
	}

	return resp, nil
}

// respondFailed answers a query whose upstream resolution failed: with the
// stale entry when one exists, and with an uncached SERVFAIL otherwise.
func (mw *cacheMw) respondFailed(
	ctx context.Context,
	rw dnsserver.ResponseWriter,
	req *dns.Msg,
	ri *adns.RequestInfo,
	stale *dns.Msg,
	resErr error,
) (err error) {
	if stale != nil {
		mw.logger.DebugContext(
			ctx,
			"serving stale entry",
			"host", ri.Host,
			"qtype", dns.TypeToString[ri.QType],
		)

		if qs, ok := queryStateFromContext(ctx); ok {
			qs.cached = true
		}

		stale.Id = req.Id

		return rw.WriteMsg(ctx, req, stale)
	}

	errcoll.Collect(ctx, mw.errColl, mw.logger, "resolving upstream", resErr)

	return rw.WriteMsg(ctx, req, ri.Messages.NewMsgSERVFAIL(req))
}
