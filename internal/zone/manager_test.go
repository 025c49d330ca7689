package zone_test

import (
	"encoding/base64"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/amberdns/amberdns/internal/adns"
	"github.com/amberdns/amberdns/internal/adnstest"
	"github.com/amberdns/amberdns/internal/configstore"
	"github.com/amberdns/amberdns/internal/tsig"
	"github.com/amberdns/amberdns/internal/zone"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

// testApex is the apex of the zone used in tests.
const testApex = "home.arpa."

// testRemoteIP is the client address used in tests.
var testRemoteIP = netip.MustParseAddr("192.0.2.1")

// testEnv bundles a manager with its backing store.
type testEnv struct {
	mgr     *zone.Manager
	tsigMgr *tsig.Manager
	store   *configstore.Memory
	zoneID  adns.ZoneID
}

// newTestEnv builds a zone with a few records and a manager serving it.
func newTestEnv(t *testing.T, mod func(z *adns.Zone), strict bool) (env *testEnv) {
	t.Helper()

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	store := configstore.NewMemory()

	z := &adns.Zone{
		Domain: testApex,
		SOA: adns.SOAData{
			PrimaryNS: "ns." + testApex,
			Admin:     "admin." + testApex,
			Serial:    1,
			Refresh:   3600,
			Retry:     600,
			Expire:    86400,
			Minimum:   300,
			TTL:       3600,
		},
		Enabled: true,
	}
	if mod != nil {
		mod(z)
	}

	zoneID, err := store.AddZone(ctx, z)
	require.NoError(t, err)

	records := []*adns.ZoneRecord{{
		ZoneID: zoneID, Name: "nas", Type: dns.TypeA, TTL: 300, Data: "192.0.2.50",
		Enabled: true,
	}, {
		ZoneID: zoneID, Name: "storage", Type: dns.TypeCNAME, TTL: 300, Data: "nas." + testApex,
		Enabled: true,
	}, {
		ZoneID: zoneID, Name: "*.lab", Type: dns.TypeA, TTL: 60, Data: "192.0.2.60",
		Enabled: true,
	}, {
		ZoneID: zoneID, Name: "off", Type: dns.TypeA, TTL: 300, Data: "192.0.2.70",
		Enabled: false,
	}}
	for _, rec := range records {
		_, err = store.AddZoneRecord(ctx, rec)
		require.NoError(t, err)
	}

	if z.DNSSECEnabled {
		key, err := zone.GenerateKey(zoneID, testApex, dns.ED25519)
		require.NoError(t, err)

		_, err = store.AddZoneKey(ctx, key)
		require.NoError(t, err)
	}

	tsigMgr := tsig.NewManager(&tsig.ManagerConfig{
		Logger: slogutil.NewDiscardLogger(),
		Store:  store,
	})

	mgr := zone.NewManager(&zone.ManagerConfig{
		Logger:  slogutil.NewDiscardLogger(),
		ErrColl: &adnstest.ErrorCollector{},
		Store:   store,
		Locals:  store,
		TSIG:    tsigMgr,
		Strict:  strict,
	})
	require.NoError(t, mgr.Refresh(ctx))

	return &testEnv{
		mgr:     mgr,
		tsigMgr: tsigMgr,
		store:   store,
		zoneID:  zoneID,
	}
}

// query runs one ordinary UDP question through the manager.
func (env *testEnv) query(t *testing.T, name string, qtype uint16) (resp *dns.Msg, matched bool) {
	t.Helper()

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	req := (&dns.Msg{}).SetQuestion(dns.Fqdn(name), qtype)

	resp, matched, err := env.mgr.Handle(ctx, &zone.Request{
		Msg:      req,
		RemoteIP: testRemoteIP,
	})
	require.NoError(t, err)

	return resp, matched
}

func TestManager_Handle_answers(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, false)

	t.Run("match", func(t *testing.T) {
		resp, matched := env.query(t, "nas."+testApex, dns.TypeA)
		require.True(t, matched)
		require.Len(t, resp.Answer, 1)

		assert.True(t, resp.Authoritative)
		assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
		assert.Equal(t, "192.0.2.50", resp.Answer[0].(*dns.A).A.String())
	})

	t.Run("outside_zone", func(t *testing.T) {
		resp, matched := env.query(t, "example.com.", dns.TypeA)
		assert.False(t, matched)
		assert.Nil(t, resp)
	})

	t.Run("nxdomain", func(t *testing.T) {
		resp, matched := env.query(t, "missing."+testApex, dns.TypeA)
		require.True(t, matched)

		assert.Equal(t, dns.RcodeNameError, resp.Rcode)
		require.Len(t, resp.Ns, 1)

		soa := resp.Ns[0].(*dns.SOA)
		assert.Equal(t, uint32(300), soa.Hdr.Ttl)
	})

	t.Run("nodata", func(t *testing.T) {
		resp, matched := env.query(t, "nas."+testApex, dns.TypeAAAA)
		require.True(t, matched)

		assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
		assert.Empty(t, resp.Answer)
		require.Len(t, resp.Ns, 1)
	})

	t.Run("cname_chase", func(t *testing.T) {
		resp, matched := env.query(t, "storage."+testApex, dns.TypeA)
		require.True(t, matched)
		require.Len(t, resp.Answer, 2)

		assert.Equal(t, dns.TypeCNAME, resp.Answer[0].Header().Rrtype)
		assert.Equal(t, dns.TypeA, resp.Answer[1].Header().Rrtype)
	})

	t.Run("wildcard", func(t *testing.T) {
		resp, matched := env.query(t, "vm1.lab."+testApex, dns.TypeA)
		require.True(t, matched)
		require.Len(t, resp.Answer, 1)

		assert.Equal(t, "vm1.lab."+testApex, resp.Answer[0].Header().Name)
	})

	t.Run("soa_at_apex", func(t *testing.T) {
		resp, matched := env.query(t, testApex, dns.TypeSOA)
		require.True(t, matched)
		require.Len(t, resp.Answer, 1)

		assert.Equal(t, uint32(1), resp.Answer[0].(*dns.SOA).Serial)
	})

	t.Run("disabled_record", func(t *testing.T) {
		resp, matched := env.query(t, "off."+testApex, dns.TypeA)
		require.True(t, matched)

		assert.Equal(t, dns.RcodeNameError, resp.Rcode)
	})
}

func TestManager_Handle_locals(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, false)

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	locals := []*adns.LocalRecord{{
		Name: "printer.lan", Type: dns.TypeA, TTL: 120, Data: "192.0.2.80",
		Enabled: true,
	}, {
		Name: "print.lan", Type: dns.TypeCNAME, TTL: 120, Data: "printer.lan.",
		Enabled: true,
	}, {
		Name: "hidden.lan", Type: dns.TypeA, TTL: 120, Data: "192.0.2.81",
		Enabled: false,
	}}
	for _, rec := range locals {
		_, err := env.store.AddLocalRecord(ctx, rec)
		require.NoError(t, err)
	}

	require.NoError(t, env.mgr.Refresh(ctx))

	t.Run("match", func(t *testing.T) {
		resp, matched := env.query(t, "printer.lan.", dns.TypeA)
		require.True(t, matched)
		require.Len(t, resp.Answer, 1)

		assert.True(t, resp.Authoritative)
		assert.Equal(t, "192.0.2.80", resp.Answer[0].(*dns.A).A.String())
		assert.Equal(t, uint32(120), resp.Answer[0].Header().Ttl)
	})

	t.Run("cname_chase", func(t *testing.T) {
		resp, matched := env.query(t, "print.lan.", dns.TypeA)
		require.True(t, matched)
		require.Len(t, resp.Answer, 2)

		assert.Equal(t, dns.TypeCNAME, resp.Answer[0].Header().Rrtype)
		assert.Equal(t, dns.TypeA, resp.Answer[1].Header().Rrtype)
	})

	t.Run("nodata", func(t *testing.T) {
		resp, matched := env.query(t, "printer.lan.", dns.TypeAAAA)
		require.True(t, matched)

		assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
		assert.Empty(t, resp.Answer)
	})

	t.Run("disabled", func(t *testing.T) {
		resp, matched := env.query(t, "hidden.lan.", dns.TypeA)
		assert.False(t, matched)
		assert.Nil(t, resp)
	})

	t.Run("zone_wins", func(t *testing.T) {
		_, err := env.store.AddLocalRecord(ctx, &adns.LocalRecord{
			Name: "nas." + testApex, Type: dns.TypeA, TTL: 120, Data: "198.51.100.1",
			Enabled: true,
		})
		require.NoError(t, err)
		require.NoError(t, env.mgr.Refresh(ctx))

		resp, matched := env.query(t, "nas."+testApex, dns.TypeA)
		require.True(t, matched)
		require.Len(t, resp.Answer, 1)

		assert.Equal(t, "192.0.2.50", resp.Answer[0].(*dns.A).A.String())
	})
}

func TestManager_Handle_dnssec(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(z *adns.Zone) { z.DNSSECEnabled = true }, false)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	req := (&dns.Msg{}).SetQuestion("nas."+testApex, dns.TypeA)
	req.SetEdns0(4096, true)

	resp, matched, err := env.mgr.Handle(ctx, &zone.Request{
		Msg:      req,
		RemoteIP: testRemoteIP,
		DO:       true,
	})
	require.NoError(t, err)
	require.True(t, matched)
	require.Len(t, resp.Answer, 2)

	sig, ok := resp.Answer[1].(*dns.RRSIG)
	require.True(t, ok)

	assert.Equal(t, dns.TypeA, sig.TypeCovered)
	assert.Equal(t, testApex, sig.SignerName)
	assert.True(t, sig.ValidityPeriod(time.Now()))

	// The signature must verify against the served DNSKEY.
	keyResp, matched := env.query(t, testApex, dns.TypeDNSKEY)
	require.True(t, matched)
	require.NotEmpty(t, keyResp.Answer)

	dnskey := keyResp.Answer[0].(*dns.DNSKEY)
	assert.NoError(t, sig.Verify(dnskey, resp.Answer[:1]))

	t.Run("no_do_bit", func(t *testing.T) {
		resp, matched := env.query(t, "nas."+testApex, dns.TypeA)
		require.True(t, matched)
		require.Len(t, resp.Answer, 1)
	})
}

func TestManager_Handle_transfer(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(z *adns.Zone) {
		z.TransferACL = []string{"192.0.2.0/24"}
	}, false)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	t.Run("allowed", func(t *testing.T) {
		req := (&dns.Msg{}).SetAxfr(testApex)
		resp, matched, err := env.mgr.Handle(ctx, &zone.Request{
			Msg:      req,
			RemoteIP: testRemoteIP,
			TCP:      true,
		})
		require.NoError(t, err)
		require.True(t, matched)
		require.GreaterOrEqual(t, len(resp.Answer), 2)

		assert.Equal(t, dns.TypeSOA, resp.Answer[0].Header().Rrtype)
		assert.Equal(t, dns.TypeSOA, resp.Answer[len(resp.Answer)-1].Header().Rrtype)
	})

	t.Run("ixfr_falls_back", func(t *testing.T) {
		req := (&dns.Msg{}).SetIxfr(testApex, 0, "ns."+testApex, "admin."+testApex)
		resp, matched, err := env.mgr.Handle(ctx, &zone.Request{
			Msg:      req,
			RemoteIP: testRemoteIP,
			TCP:      true,
		})
		require.NoError(t, err)
		require.True(t, matched)

		assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
		assert.NotEmpty(t, resp.Answer)
	})

	t.Run("udp_refused", func(t *testing.T) {
		req := (&dns.Msg{}).SetAxfr(testApex)
		resp, _, err := env.mgr.Handle(ctx, &zone.Request{
			Msg:      req,
			RemoteIP: testRemoteIP,
		})
		require.NoError(t, err)

		assert.Equal(t, dns.RcodeRefused, resp.Rcode)
	})

	t.Run("outside_acl", func(t *testing.T) {
		req := (&dns.Msg{}).SetAxfr(testApex)
		resp, _, err := env.mgr.Handle(ctx, &zone.Request{
			Msg:      req,
			RemoteIP: netip.MustParseAddr("203.0.113.5"),
			TCP:      true,
		})
		require.NoError(t, err)

		assert.Equal(t, dns.RcodeRefused, resp.Rcode)
	})

	t.Run("strict_no_acl", func(t *testing.T) {
		strictEnv := newTestEnv(t, nil, true)

		req := (&dns.Msg{}).SetAxfr(testApex)
		resp, _, err := strictEnv.mgr.Handle(ctx, &zone.Request{
			Msg:      req,
			RemoteIP: testRemoteIP,
			TCP:      true,
		})
		require.NoError(t, err)

		assert.Equal(t, dns.RcodeRefused, resp.Rcode)
	})
}

func TestManager_Handle_transferTSIG(t *testing.T) {
	t.Parallel()

	secret := []byte("0123456789abcdef")
	env := newTestEnv(t, nil, true)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	_, err := env.store.AddTSIGKey(ctx, &adns.TSIGKey{
		Name:      "transfer-key.",
		Algorithm: adns.TSIGAlgorithmHMACSHA256,
		Secret:    secret,
		Enabled:   true,
	})
	require.NoError(t, err)
	require.NoError(t, env.tsigMgr.Refresh(ctx))

	msg := (&dns.Msg{}).SetAxfr(testApex)
	msg.SetTsig("transfer-key.", dns.HmacSHA256, tsig.DefaultFudge, time.Now().Unix())

	wire, reqMAC, err := dns.TsigGenerate(
		msg,
		base64.StdEncoding.EncodeToString(secret),
		"",
		false,
	)
	require.NoError(t, err)

	req := &dns.Msg{}
	require.NoError(t, req.Unpack(wire))

	resp, matched, err := env.mgr.Handle(ctx, &zone.Request{
		Msg:      req,
		Wire:     wire,
		RemoteIP: testRemoteIP,
		TCP:      true,
	})
	require.NoError(t, err)
	require.True(t, matched)

	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.NotNil(t, resp.IsTsig())

	// The response must carry a valid chained signature.
	respWire, err := resp.Pack()
	require.NoError(t, err)

	err = dns.TsigVerify(
		respWire,
		base64.StdEncoding.EncodeToString(secret),
		reqMAC,
		false,
	)
	assert.NoError(t, err)

	t.Run("bad_key", func(t *testing.T) {
		msg := (&dns.Msg{}).SetAxfr(testApex)
		msg.SetTsig("unknown-key.", dns.HmacSHA256, tsig.DefaultFudge, time.Now().Unix())

		wire, _, err := dns.TsigGenerate(
			msg,
			base64.StdEncoding.EncodeToString(secret),
			"",
			false,
		)
		require.NoError(t, err)

		req := &dns.Msg{}
		require.NoError(t, req.Unpack(wire))

		resp, _, err := env.mgr.Handle(ctx, &zone.Request{
			Msg:      req,
			Wire:     wire,
			RemoteIP: testRemoteIP,
			TCP:      true,
		})
		require.NoError(t, err)

		assert.Equal(t, dns.RcodeNotAuth, resp.Rcode)

		respTSIG := resp.IsTsig()
		require.NotNil(t, respTSIG)

		assert.Equal(t, uint16(dns.RcodeBadKey), respTSIG.Error)
	})
}

func TestManager_Handle_update(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, false)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	req := (&dns.Msg{}).SetUpdate(testApex)
	rr, err := dns.NewRR("printer." + testApex + " 300 IN A 192.0.2.80")
	require.NoError(t, err)

	req.Insert([]dns.RR{rr})

	resp, matched, err := env.mgr.Handle(ctx, &zone.Request{
		Msg:      req,
		RemoteIP: testRemoteIP,
		TCP:      true,
	})
	require.NoError(t, err)
	require.True(t, matched)

	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)

	// The update must be visible immediately.
	qResp, matched := env.query(t, "printer."+testApex, dns.TypeA)
	require.True(t, matched)
	require.Len(t, qResp.Answer, 1)

	assert.Equal(t, "192.0.2.80", qResp.Answer[0].(*dns.A).A.String())

	// A record mutation bumps the serial past the initial refreshes.
	zones, err := env.store.Zones(ctx)
	require.NoError(t, err)
	require.Len(t, zones, 1)

	assert.Greater(t, zones[0].SOA.Serial, uint32(1))

	t.Run("delete_rrset", func(t *testing.T) {
		req := (&dns.Msg{}).SetUpdate(testApex)
		rr, err := dns.NewRR("printer." + testApex + " 300 IN A 0.0.0.0")
		require.NoError(t, err)

		req.RemoveRRset([]dns.RR{rr})

		resp, _, err := env.mgr.Handle(ctx, &zone.Request{
			Msg:      req,
			RemoteIP: testRemoteIP,
			TCP:      true,
		})
		require.NoError(t, err)
		require.Equal(t, dns.RcodeSuccess, resp.Rcode)

		qResp, _ := env.query(t, "printer."+testApex, dns.TypeA)
		assert.Equal(t, dns.RcodeNameError, qResp.Rcode)
	})

	t.Run("outside_zone", func(t *testing.T) {
		req := (&dns.Msg{}).SetUpdate(testApex)
		rr, err := dns.NewRR("host.example.com. 300 IN A 192.0.2.90")
		require.NoError(t, err)

		req.Insert([]dns.RR{rr})

		resp, _, err := env.mgr.Handle(ctx, &zone.Request{
			Msg:      req,
			RemoteIP: testRemoteIP,
			TCP:      true,
		})
		require.NoError(t, err)

		assert.Equal(t, dns.RcodeNotZone, resp.Rcode)
	})
}

func TestManager_zoneFile(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, false)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	zones, err := env.store.Zones(ctx)
	require.NoError(t, err)
	require.Len(t, zones, 1)

	z := zones[0]

	out := &strings.Builder{}
	require.NoError(t, env.mgr.ExportZoneFile(ctx, z, out))

	assert.Contains(t, out.String(), "nas.home.arpa.")
	assert.Contains(t, out.String(), "SOA")

	n, err := env.mgr.ImportZoneFile(ctx, z, strings.NewReader(
		"imported 600 IN A 192.0.2.99\n",
	))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	resp, matched := env.query(t, "imported."+testApex, dns.TypeA)
	require.True(t, matched)
	require.Len(t, resp.Answer, 1)

	assert.Equal(t, uint32(600), resp.Answer[0].Header().Ttl)
}
