package dnssvc

import (
	"context"
	"log/slog"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/amberdns/amberdns/internal/adns"
	"github.com/amberdns/amberdns/internal/dnsserver"
	"github.com/amberdns/amberdns/internal/policy"
	"github.com/miekg/dns"
)

// policyMw asks the policy engine for a verdict on every question and renders
// the block action for blocked ones.  Allowed queries pass through, with the
// matching allow rule, if any, left in the debug log.
type policyMw struct {
	logger *slog.Logger
	policy *policy.Engine
}

// type check
var _ dnsserver.Middleware = (*policyMw)(nil)

// Wrap implements the [dnsserver.Middleware] interface for *policyMw.
func (mw *policyMw) Wrap(h dnsserver.Handler) (wrapped dnsserver.Handler) {
	f := func(ctx context.Context, rw dnsserver.ResponseWriter, req *dns.Msg) (err error) {
		defer func() { err = errors.Annotate(err, "policy mw: %w") }()

		ri := adns.MustRequestInfoFromContext(ctx)

		v := mw.policy.Verdict(ctx, ri.RemoteIP, ri.Host, ri.QType)
		if !v.Block {
			if v.Rule != "" {
				mw.logger.DebugContext(
					ctx,
					"query allowed by rule",
					"host", ri.Host,
					"reason", v.Reason(),
				)
			}

			return h.ServeDNS(ctx, rw, req)
		}

		if qs, ok := queryStateFromContext(ctx); ok {
			qs.blocked = true
			qs.blockReason = v.Reason()
		}

		resp, err := ri.Messages.NewBlockedResp(req, mw.policy.BlockingMode(ri.QType))
		if err != nil {
			mw.logger.ErrorContext(
				ctx,
				"building blocked response",
				slogutil.KeyError, err,
			)

			resp = ri.Messages.NewMsgNXDOMAIN(req)
		}

		return rw.WriteMsg(ctx, req, resp)
	}

	return dnsserver.HandlerFunc(f)
}
