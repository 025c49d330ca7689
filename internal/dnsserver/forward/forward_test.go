package forward_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/amberdns/amberdns/internal/dnsserver"
	"github.com/amberdns/amberdns/internal/dnsserver/dnsservertest"
	"github.com/amberdns/amberdns/internal/dnsserver/forward"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// testTimeout is the timeout for tests.
const testTimeout = 1 * time.Second

// newPlainUpstream is a helper that creates a plain upstream for the test
// server located at addr.
func newPlainUpstream(tb testing.TB, addr string) (ups forward.Upstream) {
	tb.Helper()

	u := forward.NewUpstreamPlain(&forward.UpstreamPlainConfig{
		Network: forward.NetworkAny,
		Address: netip.MustParseAddrPort(addr),
		Timeout: testTimeout,
	})
	testutil.CleanupAndRequireSuccess(tb, u.Close)

	return u
}

func TestHandler_ServeDNS(t *testing.T) {
	srv, addr := dnsservertest.RunDNSServer(t, dnsservertest.NewDefaultHandler())

	handler := forward.NewHandler(&forward.HandlerConfig{
		Logger:    slogutil.NewDiscardLogger(),
		Upstreams: []forward.Upstream{newPlainUpstream(t, addr)},
	})

	req := dnsservertest.CreateMessage("example.org.", dns.TypeA)
	rw := dnsserver.NewNonWriterResponseWriter(srv.LocalUDPAddr(), srv.LocalUDPAddr())

	// Check the handler's ServeDNS method
	err := handler.ServeDNS(testutil.ContextWithTimeout(t, testTimeout), rw, req)
	require.NoError(t, err)

	dnsservertest.RequireResponse(t, req, rw.Msg(), 1, dns.RcodeSuccess, false)
}

func TestHandler_ServeDNS_failover(t *testing.T) {
	srv, addr := dnsservertest.RunDNSServer(t, dnsservertest.NewDefaultHandler())

	// The first upstream points at an address nothing listens on, so queries
	// fail over to the second one.
	handler := forward.NewHandler(&forward.HandlerConfig{
		Logger: slogutil.NewDiscardLogger(),
		Upstreams: []forward.Upstream{
			newPlainUpstream(t, "127.0.0.1:0"),
			newPlainUpstream(t, addr),
		},
	})

	req := dnsservertest.CreateMessage("example.org.", dns.TypeA)
	rw := dnsserver.NewNonWriterResponseWriter(srv.LocalUDPAddr(), srv.LocalUDPAddr())

	err := handler.ServeDNS(testutil.ContextWithTimeout(t, testTimeout), rw, req)
	require.NoError(t, err)

	dnsservertest.RequireResponse(t, req, rw.Msg(), 1, dns.RcodeSuccess, false)
}

func TestHandler_ServeDNS_routes(t *testing.T) {
	srvDefault, addrDefault := dnsservertest.RunDNSServer(t, dnsservertest.CreateTestHandler(1))
	_, addrWide := dnsservertest.RunDNSServer(t, dnsservertest.CreateTestHandler(2))
	_, addrNarrow := dnsservertest.RunDNSServer(t, dnsservertest.CreateTestHandler(3))
	_, addrPrio := dnsservertest.RunDNSServer(t, dnsservertest.CreateTestHandler(4))

	handler := forward.NewHandler(&forward.HandlerConfig{
		Logger:    slogutil.NewDiscardLogger(),
		Upstreams: []forward.Upstream{newPlainUpstream(t, addrDefault)},
		Routes: []*forward.Route{{
			DomainSuffix: "example.com",
			Upstreams:    []forward.Upstream{newPlainUpstream(t, addrWide)},
			Enabled:      true,
		}, {
			DomainSuffix: "corp.example.com",
			Upstreams:    []forward.Upstream{newPlainUpstream(t, addrNarrow)},
			Enabled:      true,
		}, {
			DomainSuffix: "prio.example.com",
			Upstreams:    []forward.Upstream{newPlainUpstream(t, "127.0.0.1:0")},
			Priority:     1,
			Enabled:      true,
		}, {
			DomainSuffix: "prio.example.com",
			Upstreams:    []forward.Upstream{newPlainUpstream(t, addrPrio)},
			Priority:     2,
			Enabled:      true,
		}, {
			DomainSuffix: "disabled.example.com",
			Upstreams:    []forward.Upstream{newPlainUpstream(t, "127.0.0.1:0")},
			Enabled:      false,
		}},
	})

	testCases := []struct {
		name     string
		domain   string
		wantAnsN int
	}{{
		name:     "default",
		domain:   "example.org.",
		wantAnsN: 1,
	}, {
		name:     "wide_suffix",
		domain:   "sub.example.com.",
		wantAnsN: 2,
	}, {
		name:     "longest_suffix_wins",
		domain:   "host.corp.example.com.",
		wantAnsN: 3,
	}, {
		name:     "higher_priority_wins",
		domain:   "host.prio.example.com.",
		wantAnsN: 4,
	}, {
		name:     "disabled_route_skipped",
		domain:   "host.disabled.example.com.",
		wantAnsN: 2,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := dnsservertest.CreateMessage(tc.domain, dns.TypeA)
			rw := dnsserver.NewNonWriterResponseWriter(
				srvDefault.LocalUDPAddr(),
				srvDefault.LocalUDPAddr(),
			)

			err := handler.ServeDNS(testutil.ContextWithTimeout(t, testTimeout), rw, req)
			require.NoError(t, err)

			dnsservertest.RequireResponse(t, req, rw.Msg(), tc.wantAnsN, dns.RcodeSuccess, false)
		})
	}
}

func TestHandler_ServeDNS_contextPool(t *testing.T) {
	srv, addr := dnsservertest.RunDNSServer(t, dnsservertest.NewDefaultHandler())

	// The default upstream points at a dead address, so a successful response
	// proves that the pool from the context took over.
	handler := forward.NewHandler(&forward.HandlerConfig{
		Logger:    slogutil.NewDiscardLogger(),
		Upstreams: []forward.Upstream{newPlainUpstream(t, "127.0.0.1:0")},
	})

	clientPool := forward.NewPool(&forward.PoolConfig{
		Logger:    slogutil.NewDiscardLogger(),
		Upstreams: []forward.Upstream{newPlainUpstream(t, addr)},
	})

	req := dnsservertest.CreateMessage("example.org.", dns.TypeA)
	rw := dnsserver.NewNonWriterResponseWriter(srv.LocalUDPAddr(), srv.LocalUDPAddr())

	ctx := forward.ContextWithPool(testutil.ContextWithTimeout(t, testTimeout), clientPool)
	err := handler.ServeDNS(ctx, rw, req)
	require.NoError(t, err)

	dnsservertest.RequireResponse(t, req, rw.Msg(), 1, dns.RcodeSuccess, false)
}
