package forward

import (
	"cmp"
	"context"
	"log/slog"
	"slices"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/miekg/dns"
)

// PoolConfig is the configuration structure for [NewPool].
type PoolConfig struct {
	// Logger is used for logging the operation of the pool.  If nil,
	// [slogutil.NewDiscardLogger] is used.
	Logger *slog.Logger

	// MetricsListener is the optional listener for the pool events.  If not
	// set, [EmptyMetricsListener] is used.
	MetricsListener MetricsListener

	// Clock is used to judge cooldowns.  If nil, [timeutil.SystemClock] is
	// used.
	Clock timeutil.Clock

	// Upstreams is the list of upstream servers.  Its order defines the
	// configuration order used for tie-breaking.  It must not be empty, and
	// items must not be nil.
	Upstreams []Upstream
}

// Pool is an ordered set of upstream servers sharing health state.  Servers
// are selected by their health and latency, and queries fail over between
// them.
type Pool struct {
	logger  *slog.Logger
	metrics MetricsListener
	clock   timeutil.Clock

	// entries are the pool's upstreams in configuration order.
	entries []*poolEntry
}

// poolEntry is an upstream with its health state and its position in the
// configured list.
type poolEntry struct {
	ups    Upstream
	health *upstreamHealth
	index  int
}

// NewPool creates a new upstream pool.  c must not be nil and must be valid.
func NewPool(c *PoolConfig) (p *Pool) {
	clock := c.Clock
	if clock == nil {
		clock = timeutil.SystemClock{}
	}

	metrics := c.MetricsListener
	if metrics == nil {
		metrics = &EmptyMetricsListener{}
	}

	logger := c.Logger
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}

	p = &Pool{
		logger:  logger,
		metrics: metrics,
		clock:   clock,
	}

	p.entries = make([]*poolEntry, 0, len(c.Upstreams))
	for i, u := range c.Upstreams {
		p.entries = append(p.entries, &poolEntry{
			ups:    u,
			health: newUpstreamHealth(clock),
			index:  i,
		})
	}

	return p
}

// SelectAvailable returns the pool's upstreams in the order they should be
// tried: upstreams not in cooldown first, within those ascending by average
// latency, with ties broken by configuration order.  If every upstream is in
// cooldown, the configuration order is returned, so that queries still have
// a chance to revive an upstream.
func (p *Pool) SelectAvailable() (ups []Upstream) {
	entries := p.selectAvailable()
	ups = make([]Upstream, 0, len(entries))
	for _, e := range entries {
		ups = append(ups, e.ups)
	}

	return ups
}

// weightedEntry is a pool entry with its weight snapshotted for sorting.
type weightedEntry struct {
	entry  *poolEntry
	weight float64
}

// selectAvailable returns the pool entries in selection order.  See
// [Pool.SelectAvailable].
func (p *Pool) selectAvailable() (entries []*poolEntry) {
	// Snapshot the weights before sorting, since they may change at any
	// moment.
	weighted := make([]weightedEntry, 0, len(p.entries))
	for _, e := range p.entries {
		weighted = append(weighted, weightedEntry{
			entry:  e,
			weight: e.health.weight(),
		})
	}

	slices.SortStableFunc(weighted, func(a, b weightedEntry) (res int) {
		if res = cmp.Compare(a.weight, b.weight); res != 0 {
			return res
		}

		return cmp.Compare(a.entry.index, b.entry.index)
	})

	entries = make([]*poolEntry, 0, len(weighted))
	for _, w := range weighted {
		entries = append(entries, w.entry)
	}

	return entries
}

// Exchange queries the pool's upstreams in selection order until one of them
// returns a response with an acceptable response code.  Transport errors and
// timeouts count as upstream failures.  If every upstream fails, the last
// error is returned; if some upstream returned a response with an
// unacceptable response code and no better response arrived, that response is
// returned as is.  ups is the upstream that produced resp, if any.
func (p *Pool) Exchange(
	ctx context.Context,
	req *dns.Msg,
) (resp *dns.Msg, ups Upstream, err error) {
	var lastResp *dns.Msg
	var lastRespUps Upstream
	var errs []error

	for _, e := range p.selectAvailable() {
		var attemptErr error
		resp, attemptErr = p.exchange(ctx, e, req)

		switch {
		case attemptErr != nil:
			errs = append(errs, attemptErr)
		case isAcceptableResponse(resp):
			return resp, e.ups, nil
		default:
			// A response with an unacceptable response code.  Keep it in
			// case no upstream gives a better one.
			lastResp, lastRespUps = resp, e.ups
		}

		if ctx.Err() != nil {
			// The request budget is exhausted, stop trying.
			break
		}
	}

	if lastResp != nil {
		return lastResp, lastRespUps, nil
	}

	err = errors.Join(errs...)
	if err == nil {
		err = ErrNoResponse
	}

	return nil, nil, err
}

// exchange queries a single upstream and updates its health state and the
// metrics.
func (p *Pool) exchange(
	ctx context.Context,
	e *poolEntry,
	req *dns.Msg,
) (resp *dns.Msg, err error) {
	startTime := p.clock.Now()
	resp, err = e.ups.Exchange(ctx, req)
	p.metrics.OnForwardRequest(ctx, e.ups, req, resp, startTime, err)

	if err != nil {
		if e.health.markFailure() {
			p.reportStatusChange(ctx, e.ups, false, err)
		}

		return nil, annotate(err, e.ups)
	}

	if e.health.markSuccess(p.clock.Now().Sub(startTime)) {
		p.reportStatusChange(ctx, e.ups, true, nil)
	}

	return resp, nil
}

// reportStatusChange logs the upstream's status change and reports it to the
// metrics listener.
func (p *Pool) reportStatusChange(ctx context.Context, ups Upstream, isUp bool, err error) {
	if isUp {
		p.logger.InfoContext(ctx, "upstream got up", "addr", ups.String())
	} else {
		p.logger.WarnContext(
			ctx,
			"upstream went down",
			"addr", ups.String(),
			slogutil.KeyError, err,
		)
	}

	p.metrics.OnUpstreamStatusChanged(ups, isUp)
}

// Upstreams returns the pool's upstreams in configuration order.
func (p *Pool) Upstreams() (ups []Upstream) {
	ups = make([]Upstream, 0, len(p.entries))
	for _, e := range p.entries {
		ups = append(ups, e.ups)
	}

	return ups
}

// Close closes all of the pool's upstreams.
func (p *Pool) Close() (err error) {
	var errs []error
	for _, e := range p.entries {
		errs = append(errs, e.ups.Close())
	}

	return errors.Annotate(errors.Join(errs...), "closing pool: %w")
}

// isAcceptableResponse returns true if resp's response code indicates a
// usable answer from an upstream: NOERROR, NXDOMAIN, and REFUSED are all
// genuine resolver verdicts, while the other response codes make the query
// fail over to the next upstream.
func isAcceptableResponse(resp *dns.Msg) (ok bool) {
	switch resp.Rcode {
	case dns.RcodeSuccess, dns.RcodeNameError, dns.RcodeRefused:
		return true
	default:
		return false
	}
}
