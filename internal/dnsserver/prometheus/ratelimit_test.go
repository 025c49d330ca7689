package prometheus_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/amberdns/amberdns/internal/dnsserver"
	"github.com/amberdns/amberdns/internal/dnsserver/dnsservertest"
	dnssrvprom "github.com/amberdns/amberdns/internal/dnsserver/prometheus"
	"github.com/amberdns/amberdns/internal/dnsserver/ratelimit"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// Note that prometheus metrics are global by their nature so this is not a
// normal unit test, we create a ratelimit middleware, emulate queries and then
// check if prom metrics were incremented.
func TestRateLimitMetricsListener_integration_ratelimit(t *testing.T) {
	const limit = 5

	rl := ratelimit.NewSlidingWindow(&ratelimit.SlidingWindowConfig{
		Logger:               slogutil.NewDiscardLogger(),
		Allowlist:            ratelimit.NewDynamicAllowlist(nil, nil),
		Window:               1 * time.Minute,
		Count:                limit,
		ResponseSizeEstimate: 1000,
		RefuseANY:            true,
	})
	rlMw := ratelimit.NewMiddleware(&ratelimit.MiddlewareConfig{
		Metrics:   &dnssrvprom.RateLimitMetricsListener{},
		RateLimit: rl,
	})

	handlerWithMiddleware := dnsserver.WithMiddlewares(
		dnsservertest.NewDefaultHandler(),
		rlMw,
	)

	// Pass 10 requests through the middleware.
	for i := range 10 {
		req := dnsservertest.CreateMessage("example.org.", dns.TypeA)
		addr := &net.UDPAddr{IP: net.IP{1, 2, 3, 4}, Port: 53}
		nrw := dnsserver.NewNonWriterResponseWriter(addr, addr)
		ctx := dnsserver.ContextWithServerInfo(context.Background(), &dnsserver.ServerInfo{
			Name:  "test",
			Addr:  "127.0.0.1",
			Proto: dnsserver.ProtoDNS,
		})
		ctx = dnsserver.ContextWithStartTime(ctx, time.Now())

		err := handlerWithMiddleware.ServeDNS(ctx, nrw, req)
		require.NoError(t, err)
		if i < limit {
			dnsservertest.RequireResponse(t, req, nrw.Msg(), 1, dns.RcodeSuccess, false)
		} else {
			dnsservertest.RequireResponse(t, req, nrw.Msg(), 0, dns.RcodeRefused, false)
		}
	}

	// Now make sure that prometheus metrics were incremented properly.
	requireMetrics(t, "dns_ratelimit_dropped_total")
}
