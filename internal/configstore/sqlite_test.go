package configstore_test

import (
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/amberdns/amberdns/internal/adns"
	"github.com/amberdns/amberdns/internal/configstore"
	"github.com/amberdns/amberdns/internal/querylog"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

// newStore is a helper that opens a fresh store in a temporary directory and
// closes it when the test finishes.
func newStore(t *testing.T) (s *configstore.SQLite) {
	t.Helper()

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	s, err := configstore.NewSQLite(ctx, &configstore.SQLiteConfig{
		Logger: slogutil.NewDiscardLogger(),
		Path:   filepath.Join(t.TempDir(), "amberdns.db"),
	})
	require.NoError(t, err)
	testutil.CleanupAndRequireSuccess(t, s.Close)

	return s
}

func TestSQLite_Settings(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	got, err := s.Settings(ctx)
	require.NoError(t, err)

	diffOpts := cmp.Options{cmpopts.EquateComparable(netip.Addr{})}
	assert.Empty(t, cmp.Diff(adns.DefaultSettings(), got, diffOpts))

	want := adns.DefaultSettings()
	want.BlockPageEnabled = true
	want.BlockPageIPv4 = netip.MustParseAddr("192.0.2.10")
	want.UpstreamServers = []string{"tls://1.1.1.1"}
	want.BlockingPausedUntil = time.UnixMilli(1_700_000_000_000).UTC()

	err = s.SetSettings(ctx, want)
	require.NoError(t, err)

	got, err = s.Settings(ctx)
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(want, got, diffOpts))

	t.Run("invalid", func(t *testing.T) {
		bad := adns.DefaultSettings()
		bad.UpstreamServers = nil

		assert.Error(t, s.SetSettings(ctx, bad))
	})
}

func TestSQLite_Adlists(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	id, err := s.AddAdlist(ctx, &adns.Adlist{
		Name:    "ads",
		URL:     "https://filters.example/list.txt",
		Enabled: true,
	})
	require.NoError(t, err)

	updatedAt := time.UnixMilli(1_700_000_000_000).UTC()
	err = s.SetAdlistStatus(ctx, id, updatedAt, 1234)
	require.NoError(t, err)

	lists, err := s.Adlists(ctx)
	require.NoError(t, err)
	require.Len(t, lists, 1)

	l := lists[0]
	assert.Equal(t, id, l.ID)
	assert.Equal(t, "ads", l.Name)
	assert.Equal(t, 1234, l.EntryCount)
	assert.True(t, l.UpdatedAt.Equal(updatedAt))
}

func TestSQLite_Rules(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	_, err := s.AddDomainRule(ctx, &adns.DomainRule{
		Domain:  "blocked.example",
		Action:  adns.FilterActionBlock,
		Enabled: true,
	})
	require.NoError(t, err)

	_, err = s.AddRegexFilter(ctx, &adns.RegexFilter{
		Pattern: `(^|\.)tracker\.`,
		Action:  adns.FilterActionBlock,
		Enabled: true,
	})
	require.NoError(t, err)

	rules, err := s.DomainRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)

	assert.Equal(t, "blocked.example", rules[0].Domain)
	assert.Equal(t, adns.FilterActionBlock, rules[0].Action)

	filters, err := s.RegexFilters(ctx)
	require.NoError(t, err)
	require.Len(t, filters, 1)

	assert.Equal(t, `(^|\.)tracker\.`, filters[0].Pattern)
}

func TestSQLite_Clients(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	want := &adns.ClientConf{
		Addr:            netip.MustParseAddr("192.0.2.1"),
		Name:            "laptop",
		Allow:           []string{"allowed.example"},
		Block:           []string{"blocked.example"},
		Upstreams:       []string{"tls://9.9.9.9"},
		BlockingEnabled: true,
	}

	err := s.UpsertClient(ctx, want)
	require.NoError(t, err)

	clients, err := s.Clients(ctx)
	require.NoError(t, err)
	require.Len(t, clients, 1)

	diffOpts := cmp.Options{cmpopts.EquateComparable(netip.Addr{})}
	assert.Empty(t, cmp.Diff(want, clients[0], diffOpts))

	// Upserting the same address replaces the configuration and its rules.
	want.Name = "laptop-2"
	want.Allow = nil
	err = s.UpsertClient(ctx, want)
	require.NoError(t, err)

	clients, err = s.Clients(ctx)
	require.NoError(t, err)
	require.Len(t, clients, 1)

	assert.Empty(t, cmp.Diff(want, clients[0], diffOpts))
}

func TestSQLite_Groups(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	want := &adns.ClientGroup{
		Name: "kids",
		Members: []netip.Addr{
			netip.MustParseAddr("192.0.2.2"),
			netip.MustParseAddr("192.0.2.3"),
		},
		Block:           []string{"games.example"},
		BlockingEnabled: true,
	}

	err := s.UpsertGroup(ctx, want)
	require.NoError(t, err)

	groups, err := s.Groups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	want.ID = groups[0].ID
	diffOpts := cmp.Options{cmpopts.EquateComparable(netip.Addr{})}
	assert.Empty(t, cmp.Diff(want, groups[0], diffOpts))

	// Upserting by name keeps the ID and replaces members and rules.
	want.Members = want.Members[:1]
	err = s.UpsertGroup(ctx, want)
	require.NoError(t, err)

	groups, err = s.Groups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	assert.Empty(t, cmp.Diff(want, groups[0], diffOpts))
}

func TestSQLite_Zones(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	zoneID, err := s.AddZone(ctx, &adns.Zone{
		Domain: "home.arpa.",
		SOA: adns.SOAData{
			PrimaryNS: "ns.home.arpa.",
			Admin:     "admin.home.arpa.",
			Serial:    1,
			Refresh:   3600,
			Retry:     600,
			Expire:    86400,
			Minimum:   300,
			TTL:       3600,
		},
		TransferACL: []string{"192.0.2.0/24"},
		Enabled:     true,
	})
	require.NoError(t, err)

	_, err = s.AddZoneRecord(ctx, &adns.ZoneRecord{
		ZoneID:  zoneID,
		Name:    "nas",
		Type:    dns.TypeA,
		TTL:     300,
		Data:    "192.0.2.50",
		Enabled: true,
	})
	require.NoError(t, err)

	_, err = s.AddZoneRecord(ctx, &adns.ZoneRecord{
		ZoneID:  zoneID,
		Name:    "nas",
		Type:    dns.TypeAAAA,
		TTL:     300,
		Data:    "2001:db8::50",
		Enabled: true,
	})
	require.NoError(t, err)

	zones, err := s.Zones(ctx)
	require.NoError(t, err)
	require.Len(t, zones, 1)

	z := zones[0]
	assert.Equal(t, "home.arpa.", z.Domain)
	assert.Equal(t, []string{"192.0.2.0/24"}, z.TransferACL)

	// Each record mutation bumps the serial.
	assert.Equal(t, uint32(3), z.SOA.Serial)

	recs, err := s.ZoneRecords(ctx, zoneID)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	t.Run("delete_one_type", func(t *testing.T) {
		n, err := s.DeleteZoneRecordSet(ctx, zoneID, "nas", dns.TypeA)
		require.NoError(t, err)

		assert.Equal(t, int64(1), n)

		recs, err := s.ZoneRecords(ctx, zoneID)
		require.NoError(t, err)
		require.Len(t, recs, 1)

		assert.Equal(t, dns.TypeAAAA, recs[0].Type)
	})

	t.Run("delete_any", func(t *testing.T) {
		n, err := s.DeleteZoneRecordSet(ctx, zoneID, "nas", dns.TypeANY)
		require.NoError(t, err)

		assert.Equal(t, int64(1), n)

		recs, err := s.ZoneRecords(ctx, zoneID)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})
}

func TestSQLite_Keys(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	zoneID, err := s.AddZone(ctx, &adns.Zone{
		Domain:  "home.arpa.",
		Enabled: true,
	})
	require.NoError(t, err)

	_, err = s.AddZoneKey(ctx, &adns.ZoneKey{
		ZoneID:     zoneID,
		Flags:      adns.ZoneKeyFlagsZSK,
		Algorithm:  dns.ED25519,
		KeyTag:     12345,
		PublicKey:  "l02Woi0iS8Aa25FQkUd9RMzZHJpBoRQwAQEX1SxZJA4=",
		PrivateKey: []byte("Private-key-format: v1.3\n"),
		Active:     true,
	})
	require.NoError(t, err)

	keys, err := s.ZoneKeys(ctx, zoneID)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	assert.Equal(t, uint16(adns.ZoneKeyFlagsZSK), keys[0].Flags)
	assert.Equal(t, uint16(12345), keys[0].KeyTag)

	secret := []byte{0xde, 0xad, 0xbe, 0xef, 0xde, 0xad, 0xbe, 0xef}
	_, err = s.AddTSIGKey(ctx, &adns.TSIGKey{
		Name:      "transfer-key.",
		Algorithm: adns.TSIGAlgorithmHMACSHA256,
		Secret:    secret,
		Enabled:   true,
	})
	require.NoError(t, err)

	tsigKeys, err := s.TSIGKeys(ctx)
	require.NoError(t, err)
	require.Len(t, tsigKeys, 1)

	assert.Equal(t, "transfer-key.", tsigKeys[0].Name)
	assert.Equal(t, secret, tsigKeys[0].Secret)
}

func TestSQLite_Queries(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	now := time.UnixMilli(1_700_000_000_000).UTC()
	insert := func(ts time.Time, domain string) {
		err := s.InsertQuery(ctx, &querylog.Entry{
			Time:       ts,
			RemoteIP:   netip.MustParseAddr("192.0.2.1"),
			DomainFQDN: domain,
			QType:      dns.TypeA,
			Elapsed:    5 * time.Millisecond,
		})
		require.NoError(t, err)
	}

	insert(now.Add(-48*time.Hour), "stale.example.")
	for range 3 {
		insert(now, "popular.example.")
	}
	insert(now, "rare.example.")

	names, err := s.TopNames(ctx, now.Add(-1*time.Hour), 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"popular.example."}, names)

	n, err := s.DeleteQueriesBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int64(1), n)
}
