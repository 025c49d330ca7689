package forward_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/amberdns/amberdns/internal/dnsserver"
	"github.com/amberdns/amberdns/internal/dnsserver/dnsservertest"
	"github.com/amberdns/amberdns/internal/dnsserver/forward"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_Refresh(t *testing.T) {
	var upstreamIsUp atomic.Bool
	var upstreamRequestsCount atomic.Int64

	defaultHandler := dnsservertest.NewDefaultHandler()

	// This handler writes an empty message if upstreamIsUp flag is false,
	// which fails the response validation and makes the upstream look dead.
	handlerFunc := dnsserver.HandlerFunc(func(
		ctx context.Context,
		rw dnsserver.ResponseWriter,
		req *dns.Msg,
	) (err error) {
		upstreamRequestsCount.Add(1)

		nrw := dnsserver.NewNonWriterResponseWriter(rw.LocalAddr(), rw.RemoteAddr())
		err = defaultHandler.ServeDNS(ctx, nrw, req)
		if err != nil {
			return err
		}

		if !upstreamIsUp.Load() {
			return rw.WriteMsg(ctx, req, &dns.Msg{})
		}

		return rw.WriteMsg(ctx, req, nrw.Msg())
	})

	flaky, flakyAddr := dnsservertest.RunDNSServer(t, handlerFunc)
	_, stableAddr := dnsservertest.RunDNSServer(t, defaultHandler)

	handler := forward.NewHandler(&forward.HandlerConfig{
		Logger: slogutil.NewDiscardLogger(),
		Upstreams: []forward.Upstream{
			newPlainUpstream(t, flakyAddr),
			newPlainUpstream(t, stableAddr),
		},
		Healthcheck: &forward.HealthcheckConfig{
			Enabled:        true,
			DomainTemplate: "${RANDOM}.upstream-check.example",
		},
	})

	// Three failed probes in a row put the flaky upstream into cooldown.
	for range 3 {
		err := handler.Refresh(testutil.ContextWithTimeout(t, testTimeout))
		require.Error(t, err)
	}

	probesCount := upstreamRequestsCount.Load()

	req := dnsservertest.CreateMessage("example.org.", dns.TypeA)
	rw := dnsserver.NewNonWriterResponseWriter(flaky.LocalUDPAddr(), flaky.LocalUDPAddr())

	err := handler.ServeDNS(testutil.ContextWithTimeout(t, testTimeout), rw, req)
	require.NoError(t, err)
	dnsservertest.RequireResponse(t, req, rw.Msg(), 1, dns.RcodeSuccess, false)

	// The cooled down upstream must not have been tried.
	assert.Equal(t, probesCount, upstreamRequestsCount.Load())

	// Now, set the upstream up.  A successful probe clears its cooldown.
	upstreamIsUp.Store(true)

	err = handler.Refresh(testutil.ContextWithTimeout(t, testTimeout))
	require.NoError(t, err)

	rw = dnsserver.NewNonWriterResponseWriter(flaky.LocalUDPAddr(), flaky.LocalUDPAddr())
	err = handler.ServeDNS(testutil.ContextWithTimeout(t, testTimeout), rw, req)
	require.NoError(t, err)
	dnsservertest.RequireResponse(t, req, rw.Msg(), 1, dns.RcodeSuccess, false)
}
