package ratelimit

import (
	"cmp"
	"context"
	"log/slog"
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/netutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/amberdns/amberdns/internal/adnscache"
	"github.com/miekg/dns"
	cache "github.com/patrickmn/go-cache"
)

// sidelinedCacheSize caps the number of simultaneously sidelined clients.
const sidelinedCacheSize = 30_000

// SlidingWindowConfig is the configuration structure for a sliding-window
// rate limiter.
type SlidingWindowConfig struct {
	// Logger is used to log the sidelining events.  If not set,
	// [slog.Default] is used.
	Logger *slog.Logger

	// Clock is used to get the current time.  If not set,
	// [timeutil.SystemClock] is used.
	Clock timeutil.Clock

	// Allowlist defines which IP networks are excluded from rate limiting.
	// It must not be nil.
	Allowlist Allowlist

	// Window is the length of the sliding window.  It must be positive.
	Window time.Duration

	// Count is the maximum number of queries allowed from a single client
	// within Window.  It must be positive.
	Count uint

	// ResponseSizeEstimate is the estimate of the size of one DNS response for
	// the purposes of rate limiting.  Responses over this estimate are counted
	// as several responses.
	ResponseSizeEstimate int

	// RefuseANY tells the rate limiter to refuse DNS requests with the ANY
	// query type (aka *).
	RefuseANY bool
}

// SlidingWindow is a rate limiter that allows a client a fixed number of
// queries within a sliding time window.  A client that goes above the limit
// is sidelined, that is, stays rate-limited until the end of the bucket that
// contains the burst.  The per-client state is constant, see [windowCounter].
type SlidingWindow struct {
	logger    *slog.Logger
	clock     timeutil.Clock
	counters  *cache.Cache
	sidelined *adnscache.Expiring[string, struct{}]
	allowlist Allowlist
	window    time.Duration
	count     uint
	respSzEst int
	refuseANY bool
}

// NewSlidingWindow returns a new sliding-window rate limiter.  c must not be
// nil.
func NewSlidingWindow(c *SlidingWindowConfig) (l *SlidingWindow) {
	clock := c.Clock
	if clock == nil {
		clock = timeutil.SystemClock{}
	}

	sidelined := errors.Must(adnscache.NewExpiring[string, struct{}](&adnscache.ExpiringConfig{
		Clock: clock,
		Size:  sidelinedCacheSize,
	}))

	return &SlidingWindow{
		logger: cmp.Or(c.Logger, slog.Default()),
		clock:  clock,
		// Keep idle counters around for two windows, since the previous
		// bucket still contributes to the estimate.
		counters:  cache.New(2*c.Window, 2*c.Window),
		sidelined: sidelined,
		allowlist: c.Allowlist,
		window:    c.Window,
		count:     c.Count,
		respSzEst: c.ResponseSizeEstimate,
		refuseANY: c.RefuseANY,
	}
}

// type check
var _ Interface = (*SlidingWindow)(nil)

// IsRateLimited implements the [Interface] interface for *SlidingWindow.  req
// must not be nil.
func (l *SlidingWindow) IsRateLimited(
	ctx context.Context,
	req *dns.Msg,
	ip netip.Addr,
) (drop, allowlisted bool, err error) {
	err = validateAddr(ip)
	if err != nil {
		return false, false, err
	}

	qType := req.Question[0].Qtype
	if l.refuseANY && qType == dns.TypeANY {
		return true, false, nil
	}

	allowed, err := l.allowlist.IsAllowed(ctx, ip)
	if err != nil {
		return false, false, err
	} else if allowed {
		return false, true, nil
	}

	key := ip.String()
	if _, ok := l.sidelined.Get(key); ok {
		return true, false, nil
	}

	return l.addQuery(ctx, key), false, nil
}

// CountResponses implements the [Interface] interface for *SlidingWindow.
// Responses larger than the configured estimate are counted as several
// queries, which prevents the use of the server as a DNS amplifier.
func (l *SlidingWindow) CountResponses(ctx context.Context, resp *dns.Msg, ip netip.Addr) {
	estRespNum := resp.Len() / l.respSzEst
	for range estRespNum {
		_, _, _ = l.IsRateLimited(ctx, resp, ip)
	}
}

// Clear removes the sidelining and the accumulated counter for the client
// with the specified address, so that it may query again right away.
func (l *SlidingWindow) Clear(_ context.Context, ip netip.Addr) (err error) {
	err = validateAddr(ip)
	if err != nil {
		return err
	}

	key := ip.String()
	l.sidelined.Delete(key)
	l.counters.Delete(key)

	return nil
}

// addQuery records a single query from the client and returns true if it went
// above the limit.  If it did, the client is sidelined until the end of the
// current bucket, and the event is logged, only once per sidelining.
func (l *SlidingWindow) addQuery(ctx context.Context, key string) (above bool) {
	now := l.clock.Now()

	var c *windowCounter
	cVal, ok := l.counters.Get(key)
	if ok {
		c = cVal.(*windowCounter)
	} else {
		c = newWindowCounter(now, l.window)
		l.counters.SetDefault(key, c)
	}

	estimate, windowEnd := c.add(now)
	if estimate <= l.count {
		return false
	}

	l.sidelined.SetWithExpire(key, struct{}{}, windowEnd.Sub(now))
	l.logger.InfoContext(
		ctx,
		"client sidelined",
		"client", key,
		"queries", estimate,
		"until", windowEnd,
	)

	return true
}

// validateAddr returns an error if addr is not a valid IPv4 or IPv6 address.
//
// Any error returned will have the underlying type of *netutil.AddrError.
func validateAddr(addr netip.Addr) (err error) {
	if !addr.IsValid() {
		return &netutil.AddrError{
			Kind: netutil.AddrKindIP,
			Addr: addr.String(),
		}
	}

	return nil
}
