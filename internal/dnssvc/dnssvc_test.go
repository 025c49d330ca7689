package dnssvc_test

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/amberdns/amberdns/internal/adns"
	"github.com/amberdns/amberdns/internal/adnstest"
	"github.com/amberdns/amberdns/internal/configstore"
	"github.com/amberdns/amberdns/internal/dnscache"
	"github.com/amberdns/amberdns/internal/dnsmsg"
	"github.com/amberdns/amberdns/internal/dnsserver"
	"github.com/amberdns/amberdns/internal/dnsserver/dnsservertest"
	"github.com/amberdns/amberdns/internal/dnssvc"
	"github.com/amberdns/amberdns/internal/filter"
	"github.com/amberdns/amberdns/internal/policy"
	"github.com/amberdns/amberdns/internal/querylog"
	"github.com/amberdns/amberdns/internal/zone"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

// testClientIP is the address the test queries arrive from.
var testClientIP = netip.MustParseAddr("192.0.2.1")

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

// Now implements the [timeutil.Clock] interface for *testClock.
func (c *testClock) Now() (now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// advance moves the clock forward by d.
func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// testGlobalFilter is a [policy.GlobalFilter] backed by plain maps.
type testGlobalFilter struct {
	allow map[string]filter.RuleText
	block map[string]filter.RuleText
}

// type check
var _ policy.GlobalFilter = (*testGlobalFilter)(nil)

// MatchAllowlist implements the [policy.GlobalFilter] interface for
// *testGlobalFilter.
func (f *testGlobalFilter) MatchAllowlist(host string) (rule filter.RuleText, ok bool) {
	rule, ok = f.allow[host]

	return rule, ok
}

// MatchBlocklist implements the [policy.GlobalFilter] interface for
// *testGlobalFilter.
func (f *testGlobalFilter) MatchBlocklist(
	_ context.Context,
	host string,
	_ dnsmsg.RRType,
) (r filter.Result) {
	rule, ok := f.block[host]
	if !ok {
		return nil
	}

	return &filter.ResultBlocked{
		List: filter.IDBlocklist,
		Rule: rule,
	}
}

// testUpstreamHandler is a [dnsserver.Handler] standing in for the forwarding
// handler.
type testUpstreamHandler struct {
	mu      sync.Mutex
	onServe func(req *dns.Msg) (resp *dns.Msg, err error)
	calls   int
}

// type check
var _ dnsserver.Handler = (*testUpstreamHandler)(nil)

// ServeDNS implements the [dnsserver.Handler] interface for
// *testUpstreamHandler.
func (h *testUpstreamHandler) ServeDNS(
	ctx context.Context,
	rw dnsserver.ResponseWriter,
	req *dns.Msg,
) (err error) {
	h.mu.Lock()
	h.calls++
	serve := h.onServe
	h.mu.Unlock()

	resp, err := serve(req)
	if err != nil {
		return err
	}

	return rw.WriteMsg(ctx, req, resp)
}

// callCount returns the number of times the handler has been called.
func (h *testUpstreamHandler) callCount() (n int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.calls
}

// setServe replaces the response function.
func (h *testUpstreamHandler) setServe(f func(req *dns.Msg) (resp *dns.Msg, err error)) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.onServe = f
}

// logCapture is a [querylog.Interface] collecting every entry.
type logCapture struct {
	mu      sync.Mutex
	entries []*querylog.Entry
}

// type check
var _ querylog.Interface = (*logCapture)(nil)

// Write implements the [querylog.Interface] interface for *logCapture.
func (c *logCapture) Write(_ context.Context, e *querylog.Entry) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = append(c.entries, e)

	return nil
}

// last returns the most recent entry and requires that there is one.
func (c *logCapture) last(t *testing.T) (e *querylog.Entry) {
	t.Helper()

	c.mu.Lock()
	defer c.mu.Unlock()

	require.NotEmpty(t, c.entries)

	return c.entries[len(c.entries)-1]
}

// testEnv ties together a service and the fakes behind it.
type testEnv struct {
	svc      *dnssvc.Service
	store    *configstore.Memory
	policy   *policy.Engine
	zones    *zone.Manager
	upstream *testUpstreamHandler
	qlog     *logCapture
	clock    *testClock
	gf       *testGlobalFilter
}

// newTestEnv builds a service whose upstream answers every A question with
// 192.0.2.53 and a TTL of 300 seconds.
func newTestEnv(t *testing.T) (env *testEnv) {
	t.Helper()

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	logger := slogutil.NewDiscardLogger()
	errColl := &adnstest.ErrorCollector{
		OnCollect: func(_ context.Context, _ error) {},
	}

	env = &testEnv{
		store: configstore.NewMemory(),
		upstream: &testUpstreamHandler{
			onServe: func(req *dns.Msg) (resp *dns.Msg, err error) {
				return dnsservertest.NewResp(dns.RcodeSuccess, req, dnsservertest.SectionAnswer{
					dnsservertest.NewA(
						req.Question[0].Name,
						300,
						netip.MustParseAddr("192.0.2.53"),
					),
				}), nil
			},
		},
		qlog:  &logCapture{},
		clock: &testClock{now: time.Now()},
		gf: &testGlobalFilter{
			allow: map[string]filter.RuleText{},
			block: map[string]filter.RuleText{},
		},
	}

	env.policy = policy.NewEngine(&policy.Config{
		Logger:    logger,
		Store:     env.store,
		Filter:    env.gf,
		ErrColl:   errColl,
		Clock:     env.clock,
		CacheSize: 100,
	})

	env.zones = zone.NewManager(&zone.ManagerConfig{
		Logger:  logger,
		ErrColl: errColl,
		Store:   env.store,
		Clock:   env.clock,
	})

	env.svc = dnssvc.New(&dnssvc.Config{
		Logger:   logger,
		Messages: adnstest.NewConstructor(t),
		ErrColl:  errColl,
		Store:    env.store,
		Policy:   env.policy,
		Zones:    env.zones,
		Cache: dnscache.New(&dnscache.Config{
			MinTTL:      1 * time.Second,
			StaleMaxAge: 1 * time.Hour,
			ServeStale:  true,
		}),
		QueryLog: env.qlog,
		Forward:  env.upstream,
		Clock:    env.clock,
	})

	require.NoError(t, env.policy.Refresh(ctx))
	require.NoError(t, env.zones.Refresh(ctx))
	require.NoError(t, env.svc.Refresh(ctx))

	return env
}

// refresh reloads every snapshot after a store mutation.
func (env *testEnv) refresh(t *testing.T) {
	t.Helper()

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	require.NoError(t, env.policy.Refresh(ctx))
	require.NoError(t, env.zones.Refresh(ctx))
	require.NoError(t, env.svc.Refresh(ctx))
}

// serve runs req through the whole pipeline and returns the response.
func (env *testEnv) serve(t *testing.T, req *dns.Msg) (resp *dns.Msg) {
	t.Helper()

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	ctx = dnsserver.ContextWithServerInfo(ctx, &dnsserver.ServerInfo{
		Name:  "default_dns",
		Addr:  "127.0.0.1:0",
		Proto: dnsserver.ProtoDNS,
	})

	localAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 53}
	remoteAddr := net.UDPAddrFromAddrPort(netip.AddrPortFrom(testClientIP, 5354))

	rw := dnsserver.NewNonWriterResponseWriter(localAddr, remoteAddr)
	err := env.svc.Handler().ServeDNS(ctx, rw, req)
	require.NoError(t, err)

	resp = rw.Msg()
	require.NotNil(t, resp)

	return resp
}

// query runs a plain INET query through the pipeline.
func (env *testEnv) query(t *testing.T, name string, qtype uint16) (resp *dns.Msg) {
	t.Helper()

	return env.serve(t, dnsservertest.NewReq(name, qtype, dns.ClassINET))
}

func TestService_forward(t *testing.T) {
	env := newTestEnv(t)

	resp := env.query(t, "example.org.", dns.TypeA)

	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, "192.0.2.53", resp.Answer[0].(*dns.A).A.String())
	assert.Equal(t, 1, env.upstream.callCount())

	e := env.qlog.last(t)
	assert.Equal(t, "example.org.", e.DomainFQDN)
	assert.Equal(t, testClientIP, e.RemoteIP)
	assert.False(t, e.Blocked)
	assert.False(t, e.Cached)
}

func TestService_cache(t *testing.T) {
	env := newTestEnv(t)

	_ = env.query(t, "cached.example.", dns.TypeA)
	require.Equal(t, 1, env.upstream.callCount())

	resp := env.query(t, "cached.example.", dns.TypeA)

	assert.Equal(t, 1, env.upstream.callCount())
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Len(t, resp.Answer, 1)
	assert.True(t, env.qlog.last(t).Cached)
}

func TestService_block(t *testing.T) {
	env := newTestEnv(t)
	env.gf.block["ads.example.com"] = "ads.example.com"

	resp := env.query(t, "ads.example.com.", dns.TypeA)

	assert.Equal(t, dns.RcodeNameError, resp.Rcode)
	assert.Empty(t, resp.Answer)
	assert.Equal(t, 0, env.upstream.callCount())

	e := env.qlog.last(t)
	assert.True(t, e.Blocked)
	assert.Equal(t, "blocklist:ads.example.com", e.BlockReason)
}

func TestService_allowOverride(t *testing.T) {
	env := newTestEnv(t)
	env.gf.block["ads.example.com"] = "ads.example.com"

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	err := env.store.UpsertClient(ctx, &adns.ClientConf{
		Addr:            testClientIP,
		Allow:           []string{"ads.example.com"},
		BlockingEnabled: true,
	})
	require.NoError(t, err)
	env.refresh(t)

	resp := env.query(t, "ads.example.com.", dns.TypeA)

	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	assert.Equal(t, 1, env.upstream.callCount())
	assert.False(t, env.qlog.last(t).Blocked)
}

func TestService_authoritative(t *testing.T) {
	env := newTestEnv(t)

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	zoneID, err := env.store.AddZone(ctx, &adns.Zone{
		Domain: "home.lan.",
		SOA: adns.SOAData{
			PrimaryNS: "ns.home.lan.",
			Admin:     "admin.home.lan.",
			Serial:    1,
			Refresh:   3600,
			Retry:     600,
			Expire:    86400,
			Minimum:   300,
			TTL:       3600,
		},
		Enabled: true,
	})
	require.NoError(t, err)

	_, err = env.store.AddZoneRecord(ctx, &adns.ZoneRecord{
		ZoneID:  zoneID,
		Name:    "pi",
		Type:    dns.TypeA,
		TTL:     3600,
		Data:    "192.168.1.10",
		Enabled: true,
	})
	require.NoError(t, err)
	env.refresh(t)

	resp := env.query(t, "pi.home.lan.", dns.TypeA)

	assert.True(t, resp.Authoritative)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Len(t, resp.Answer, 1)

	a := resp.Answer[0].(*dns.A)
	assert.Equal(t, "192.168.1.10", a.A.String())
	assert.Equal(t, uint32(3600), a.Hdr.Ttl)

	// The zone answered, so nothing went upstream.
	assert.Equal(t, 0, env.upstream.callCount())
}

func TestService_serveStale(t *testing.T) {
	env := newTestEnv(t)

	_ = env.query(t, "stale.example.", dns.TypeA)
	require.Equal(t, 1, env.upstream.callCount())

	env.clock.advance(10 * time.Minute)
	env.upstream.setServe(func(_ *dns.Msg) (resp *dns.Msg, err error) {
		return nil, assert.AnError
	})

	resp := env.query(t, "stale.example.", dns.TypeA)

	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, uint32(0), resp.Answer[0].Header().Ttl)
	assert.True(t, env.qlog.last(t).Cached)
}

func TestService_upstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.setServe(func(_ *dns.Msg) (resp *dns.Msg, err error) {
		return nil, assert.AnError
	})

	resp := env.query(t, "down.example.", dns.TypeA)

	assert.Equal(t, dns.RcodeServerFailure, resp.Rcode)
	e := env.qlog.last(t)
	assert.Equal(t, dnsmsg.RCode(dns.RcodeServerFailure), e.ResponseCode)
	assert.False(t, e.Cached)

	// SERVFAIL responses built locally must not be cached, so a recovered
	// upstream answers the very next query.
	env.upstream.setServe(func(req *dns.Msg) (resp *dns.Msg, err error) {
		return dnsservertest.NewResp(dns.RcodeSuccess, req, dnsservertest.SectionAnswer{
			dnsservertest.NewA(req.Question[0].Name, 300, netip.MustParseAddr("192.0.2.53")),
		}), nil
	})

	resp = env.query(t, "down.example.", dns.TypeA)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
}

func TestService_qclassGuard(t *testing.T) {
	env := newTestEnv(t)

	resp := env.serve(t, dnsservertest.NewReq("version.bind.", dns.TypeTXT, dns.ClassCHAOS))

	assert.Equal(t, dns.RcodeNotImplemented, resp.Rcode)
	assert.Equal(t, 0, env.upstream.callCount())
}

func TestService_updateOutsideZones(t *testing.T) {
	env := newTestEnv(t)

	req := (&dns.Msg{}).SetUpdate("elsewhere.example.")
	resp := env.serve(t, req)

	assert.Equal(t, dns.RcodeNotAuth, resp.Rcode)
	assert.Equal(t, 0, env.upstream.callCount())
}

func TestService_privacyMode(t *testing.T) {
	env := newTestEnv(t)

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	sett, err := env.store.Settings(ctx)
	require.NoError(t, err)

	sett.PrivacyMode = true
	require.NoError(t, env.store.SetSettings(ctx, sett))
	env.refresh(t)

	_ = env.query(t, "example.org.", dns.TypeA)

	assert.Equal(t, netip.Addr{}, env.qlog.last(t).RemoteIP)
}
