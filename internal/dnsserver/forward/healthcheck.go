package forward

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/miekg/dns"
)

// randomPlaceholder is the placeholder replaced with a random string in
// healthcheck domain names.
const randomPlaceholder = "${RANDOM}"

// refresh is an internal method used in [Handler.Refresh] and in the initial
// healthcheck.  It probes every upstream of every pool with a query for the
// healthcheck domain and updates their health states through the same marking
// path that regular queries use.
func (h *Handler) refresh(ctx context.Context) (err error) {
	if !h.hcEnabled {
		h.logger.DebugContext(ctx, "healthcheck: disabled")

		return nil
	}

	domain := h.hcDomainTmpl
	if strings.Contains(domain, randomPlaceholder) {
		randStr := strconv.FormatUint(h.rand.Uint64(), 16)
		domain = strings.ReplaceAll(domain, randomPlaceholder, randStr)
	}

	defer func() { err = errors.Annotate(err, "healthcheck: querying %q: %w", domain) }()

	req := newProbeReq(domain)

	if h.hcNetworkOverride != "" {
		ctx = withNetworkOverride(ctx, h.hcNetworkOverride)
		h.logger.Log(
			ctx,
			slogutil.LevelTrace,
			"overriding healthcheck protocol",
			"net", h.hcNetworkOverride,
		)
	}

	var errs []error
	for _, p := range h.pools() {
		errs = append(errs, h.healthcheckPool(ctx, p, req))
	}

	return errors.Join(errs...)
}

// newProbeReq returns a new request message for given domain.
func newProbeReq(domain string) (req *dns.Msg) {
	return &dns.Msg{
		MsgHdr: dns.MsgHdr{
			Id:               dns.Id(),
			RecursionDesired: true,
		},
		Question: []dns.Question{{
			Name:   dns.Fqdn(domain),
			Qtype:  dns.TypeA,
			Qclass: dns.ClassINET,
		}},
	}
}

// healthcheckPool probes every upstream of the pool.  It returns an error if
// any of them are down.
func (h *Handler) healthcheckPool(ctx context.Context, p *Pool, req *dns.Msg) (err error) {
	var errs []error
	for _, e := range p.entries {
		ckErr := h.healthcheckUpstream(ctx, p, e, req)
		if ckErr != nil {
			errs = append(errs, ckErr)
		}
	}

	return errors.Join(errs...)
}

// healthcheckUpstream probes a single upstream and updates its health state.
// It returns an error if the upstream is down.
func (h *Handler) healthcheckUpstream(
	ctx context.Context,
	p *Pool,
	e *poolEntry,
	req *dns.Msg,
) (err error) {
	startTime := p.clock.Now()
	err = checkUpstream(ctx, e.ups, req)
	if err != nil {
		if e.health.markFailure() {
			p.reportStatusChange(ctx, e.ups, false, err)
		}

		return errors.Annotate(err, "%s: upstream is down: %w", e.ups)
	}

	if e.health.markSuccess(p.clock.Now().Sub(startTime)) {
		p.reportStatusChange(ctx, e.ups, true, nil)
	}

	return nil
}

// checkUpstream returns an error if the given upstream is not up.
func checkUpstream(ctx context.Context, ups Upstream, req *dns.Msg) (err error) {
	resp, err := ups.Exchange(ctx, req)
	if err != nil {
		return err
	} else if resp == nil {
		return ErrNoResponse
	}

	if rc := resp.Rcode; rc != dns.RcodeSuccess {
		var rcVal any
		if rcStr, ok := dns.RcodeToString[rc]; ok {
			rcVal = rcStr
		} else {
			rcVal = rc
		}

		return fmt.Errorf("non-success rcode: %v", rcVal)
	}

	return nil
}
