package dnssvc

import (
	"context"
	"log/slog"
	"net"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/amberdns/amberdns/internal/adns"
	"github.com/amberdns/amberdns/internal/dnsmsg"
	"github.com/amberdns/amberdns/internal/dnsserver"
	"github.com/amberdns/amberdns/internal/errcoll"
	"github.com/amberdns/amberdns/internal/zone"
	"github.com/miekg/dns"
)

// zonesMw answers queries for names inside the authoritative zones from the
// zone snapshot and terminates zone transfers and dynamic updates, which must
// never reach the filtering and forwarding layers.
type zonesMw struct {
	messages *dnsmsg.Constructor
	errColl  errcoll.Interface
	logger   *slog.Logger
	zones    *zone.Manager
}

// type check
var _ dnsserver.Middleware = (*zonesMw)(nil)

// Wrap implements the [dnsserver.Middleware] interface for *zonesMw.
func (mw *zonesMw) Wrap(h dnsserver.Handler) (wrapped dnsserver.Handler) {
	f := func(ctx context.Context, rw dnsserver.ResponseWriter, req *dns.Msg) (err error) {
		defer func() { err = errors.Annotate(err, "zones mw: %w") }()

		ri := adns.MustRequestInfoFromContext(ctx)

		switch req.Opcode {
		case dns.OpcodeQuery, dns.OpcodeUpdate:
			// Go on.
		default:
			return rw.WriteMsg(ctx, req, mw.messages.NewMsgNOTIMPLEMENTED(req))
		}

		resp, matched, err := mw.zones.Handle(ctx, mw.newZoneReq(ctx, rw, req, ri))
		if err != nil {
			errcoll.Collect(ctx, mw.errColl, mw.logger, "handling zone request", err)

			return rw.WriteMsg(ctx, req, mw.messages.NewMsgSERVFAIL(req))
		}

		if matched {
			return rw.WriteMsg(ctx, req, resp)
		}

		if req.Opcode == dns.OpcodeUpdate {
			// An update for a zone this server is not authoritative for.
			return rw.WriteMsg(ctx, req, (&dns.Msg{}).SetRcode(req, dns.RcodeNotAuth))
		}

		if ri.QType == dns.TypeAXFR || ri.QType == dns.TypeIXFR {
			return rw.WriteMsg(ctx, req, mw.messages.NewMsgREFUSED(req))
		}

		return h.ServeDNS(ctx, rw, req)
	}

	return dnsserver.HandlerFunc(f)
}

// newZoneReq builds the zone-layer request for req.  The raw request wire is
// taken from the context, where the server layer has put it, since TSIG
// verification needs the exact received bytes.
func (mw *zonesMw) newZoneReq(
	ctx context.Context,
	rw dnsserver.ResponseWriter,
	req *dns.Msg,
	ri *adns.RequestInfo,
) (zreq *zone.Request) {
	si := dnsserver.MustServerInfoFromContext(ctx)

	_, overTCP := rw.RemoteAddr().(*net.TCPAddr)

	wire, _ := dnsserver.RequestWireFromContext(ctx)

	return &zone.Request{
		Msg:      req,
		Wire:     wire,
		RemoteIP: ri.RemoteIP,
		TCP:      overTCP || si.Proto != dnsserver.ProtoDNS,
		DO:       ri.DO,
	}
}
