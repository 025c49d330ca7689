package policy_test

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/amberdns/amberdns/internal/adns"
	"github.com/amberdns/amberdns/internal/adnstest"
	"github.com/amberdns/amberdns/internal/configstore"
	"github.com/amberdns/amberdns/internal/dnsmsg"
	"github.com/amberdns/amberdns/internal/filter"
	"github.com/amberdns/amberdns/internal/policy"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

// Common addresses for tests.
var (
	testClientIP = netip.MustParseAddr("192.0.2.1")
	testOtherIP  = netip.MustParseAddr("192.0.2.2")
)

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

// testGlobalFilter is a [policy.GlobalFilter] backed by plain maps.  block
// maps hosts to block results, exc maps hosts to exception results.
type testGlobalFilter struct {
	allow map[string]filter.RuleText
	block map[string]filter.RuleText
	exc   map[string]filter.RuleText
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
	if rule, ok := f.block[host]; ok {
		return &filter.ResultBlocked{List: filter.IDBlocklist, Rule: rule}
	}

	if rule, ok := f.exc[host]; ok {
		return &filter.ResultAllowed{List: filter.IDBlocklist, Rule: rule}
	}

	return nil
}

// testEnv is the assembled policy engine with its dependencies.
type testEnv struct {
	store  *configstore.Memory
	flt    *testGlobalFilter
	clock  *testClock
	engine *policy.Engine
}

// newTestEnv returns a refreshed engine over an empty store.
func newTestEnv(t *testing.T) (env *testEnv) {
	t.Helper()

	env = &testEnv{
		store: configstore.NewMemory(),
		flt: &testGlobalFilter{
			allow: map[string]filter.RuleText{},
			block: map[string]filter.RuleText{},
			exc:   map[string]filter.RuleText{},
		},
		clock: &testClock{now: time.Now()},
	}

	env.engine = policy.NewEngine(&policy.Config{
		Logger: slogutil.NewDiscardLogger(),
		Store:  env.store,
		Filter: env.flt,
		ErrColl: &adnstest.ErrorCollector{
			OnCollect: func(_ context.Context, _ error) {},
		},
		Clock:     env.clock,
		CacheSize: 100,
	})

	env.refresh(t)

	return env
}

// refresh rebuilds the engine snapshot and fails the test on error.
func (env *testEnv) refresh(t *testing.T) {
	t.Helper()

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	require.NoError(t, env.engine.Refresh(ctx))
}

// verdict is a shorthand for querying the engine for an A question.
func (env *testEnv) verdict(t *testing.T, cli netip.Addr, host string) (v policy.Verdict) {
	t.Helper()

	ctx := testutil.ContextWithTimeout(t, testTimeout)

	return env.engine.Verdict(ctx, cli, host, dns.TypeA)
}

func TestEngine_Verdict_precedence(t *testing.T) {
	t.Parallel()

	const host = "tracker.example.com"

	// Each test case enables the rule sources listed in its name, from every
	// tier at once, and checks which one wins.
	testCases := []struct {
		setup     func(t *testing.T, env *testEnv)
		name      string
		wantList  filter.ID
		wantBlock bool
	}{{
		setup: func(t *testing.T, env *testEnv) {
			addClient(t, env, &adns.ClientConf{
				Addr:            testClientIP,
				Allow:           []string{host},
				Block:           []string{host},
				BlockingEnabled: true,
			})
			addGroup(t, env, &adns.ClientGroup{
				Name:            "office",
				Members:         []netip.Addr{testClientIP},
				Block:           []string{host},
				BlockingEnabled: true,
			})
			env.flt.block[host] = "||tracker.example.com^"
		},
		name:      "client_allow_wins",
		wantList:  filter.IDClient,
		wantBlock: false,
	}, {
		setup: func(t *testing.T, env *testEnv) {
			addGroup(t, env, &adns.ClientGroup{
				Name:            "office",
				Members:         []netip.Addr{testClientIP},
				Allow:           []string{host},
				BlockingEnabled: true,
			})
			env.flt.block[host] = "||tracker.example.com^"
			addRegex(t, env, `tracker\.`, adns.FilterActionBlock)
		},
		name:      "group_allow_wins",
		wantList:  "group_1",
		wantBlock: false,
	}, {
		setup: func(t *testing.T, env *testEnv) {
			env.flt.allow[host] = "@@||tracker.example.com^"
			env.flt.block[host] = "||tracker.example.com^"
		},
		name:      "global_allow_wins",
		wantList:  filter.IDAllowlist,
		wantBlock: false,
	}, {
		setup: func(t *testing.T, env *testEnv) {
			addRegex(t, env, `tracker\.`, adns.FilterActionAllow)
			addClient(t, env, &adns.ClientConf{
				Addr:            testClientIP,
				Block:           []string{host},
				BlockingEnabled: true,
			})
			env.flt.block[host] = "||tracker.example.com^"
		},
		name:      "regex_allow_wins",
		wantList:  "regex_1",
		wantBlock: false,
	}, {
		setup: func(t *testing.T, env *testEnv) {
			addClient(t, env, &adns.ClientConf{
				Addr:            testClientIP,
				Block:           []string{host},
				BlockingEnabled: true,
			})
			addGroup(t, env, &adns.ClientGroup{
				Name:            "office",
				Members:         []netip.Addr{testClientIP},
				Block:           []string{host},
				BlockingEnabled: true,
			})
		},
		name:      "client_block_wins",
		wantList:  filter.IDClient,
		wantBlock: true,
	}, {
		setup: func(t *testing.T, env *testEnv) {
			addGroup(t, env, &adns.ClientGroup{
				Name:            "office",
				Members:         []netip.Addr{testClientIP},
				Block:           []string{host},
				BlockingEnabled: true,
			})
			env.flt.block[host] = "||tracker.example.com^"
		},
		name:      "group_block_wins",
		wantList:  "group_1",
		wantBlock: true,
	}, {
		setup: func(t *testing.T, env *testEnv) {
			env.flt.block[host] = "||tracker.example.com^"
			addRegex(t, env, `tracker\.`, adns.FilterActionBlock)
		},
		name:      "global_block_wins",
		wantList:  filter.IDBlocklist,
		wantBlock: true,
	}, {
		setup: func(t *testing.T, env *testEnv) {
			addRegex(t, env, `tracker\.`, adns.FilterActionBlock)
		},
		name:      "regex_block",
		wantList:  "regex_1",
		wantBlock: true,
	}, {
		setup: func(t *testing.T, env *testEnv) {
			// An exception rule exempts the host from the blocklist sources
			// but not from the regex block rules.
			env.flt.exc[host] = "@@||tracker.example.com^"
			addRegex(t, env, `tracker\.`, adns.FilterActionBlock)
		},
		name:      "exception_not_regex",
		wantList:  "regex_1",
		wantBlock: true,
	}, {
		setup: func(t *testing.T, env *testEnv) {
			env.flt.exc[host] = "@@||tracker.example.com^"
		},
		name:      "exception",
		wantList:  filter.IDBlocklist,
		wantBlock: false,
	}, {
		setup:     func(_ *testing.T, _ *testEnv) {},
		name:      "default_allow",
		wantList:  filter.IDNone,
		wantBlock: false,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t)
			tc.setup(t, env)
			env.refresh(t)

			v := env.verdict(t, testClientIP, host)
			assert.Equal(t, tc.wantList, v.List)
			assert.Equal(t, tc.wantBlock, v.Block)
		})
	}
}

func TestEngine_Verdict_suffix(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	addClient(t, env, &adns.ClientConf{
		Addr:            testClientIP,
		Block:           []string{"example.com"},
		BlockingEnabled: true,
	})
	env.refresh(t)

	assert.True(t, env.verdict(t, testClientIP, "example.com").Block)
	assert.True(t, env.verdict(t, testClientIP, "ads.example.com").Block)
	assert.False(t, env.verdict(t, testClientIP, "notexample.com").Block)

	// Another client is not affected by the per-client rule.
	assert.False(t, env.verdict(t, testOtherIP, "example.com").Block)
}

func TestEngine_Verdict_pause(t *testing.T) {
	t.Parallel()

	const host = "tracker.example.com"

	t.Run("global", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		env.flt.block[host] = "||tracker.example.com^"

		sett := adns.DefaultSettings()
		sett.BlockingPausedUntil = env.clock.Now().Add(time.Minute)
		setSettings(t, env, sett)
		env.refresh(t)

		v := env.verdict(t, testClientIP, host)
		assert.False(t, v.Block)

		// The matched rule is still reported, so the query log can tell a
		// neutralized block from a plain pass.
		assert.Equal(t, filter.IDBlocklist, v.List)

		// The timer expires on its own, without a refresh.
		env.clock.advance(2 * time.Minute)
		assert.True(t, env.verdict(t, testClientIP, host).Block)
	})

	t.Run("global_disabled", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		env.flt.block[host] = "||tracker.example.com^"

		sett := adns.DefaultSettings()
		sett.BlockingEnabled = false
		setSettings(t, env, sett)
		env.refresh(t)

		assert.False(t, env.verdict(t, testClientIP, host).Block)
	})

	t.Run("client", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		env.flt.block[host] = "||tracker.example.com^"
		addClient(t, env, &adns.ClientConf{
			Addr:                testClientIP,
			BlockingPausedUntil: env.clock.Now().Add(time.Minute),
			BlockingEnabled:     true,
		})
		env.refresh(t)

		assert.False(t, env.verdict(t, testClientIP, host).Block)

		// Other clients keep being blocked.
		assert.True(t, env.verdict(t, testOtherIP, host).Block)

		env.clock.advance(2 * time.Minute)
		assert.True(t, env.verdict(t, testClientIP, host).Block)
	})

	t.Run("client_disabled", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		env.flt.block[host] = "||tracker.example.com^"
		addClient(t, env, &adns.ClientConf{
			Addr:            testClientIP,
			BlockingEnabled: false,
		})
		env.refresh(t)

		assert.False(t, env.verdict(t, testClientIP, host).Block)
		assert.True(t, env.verdict(t, testOtherIP, host).Block)
	})

	t.Run("group_disabled", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		env.flt.block[host] = "||tracker.example.com^"
		addGroup(t, env, &adns.ClientGroup{
			Name:            "kids",
			Members:         []netip.Addr{testClientIP},
			BlockingEnabled: false,
		})
		env.refresh(t)

		assert.False(t, env.verdict(t, testClientIP, host).Block)
		assert.True(t, env.verdict(t, testOtherIP, host).Block)
	})
}

func TestEngine_Verdict_cache(t *testing.T) {
	t.Parallel()

	const host = "tracker.example.com"

	env := newTestEnv(t)
	assert.False(t, env.verdict(t, testClientIP, host).Block)

	// A store change is invisible until the snapshot is rebuilt, since the
	// decision is cached.
	env.flt.block[host] = "||tracker.example.com^"
	assert.False(t, env.verdict(t, testClientIP, host).Block)

	env.refresh(t)
	assert.True(t, env.verdict(t, testClientIP, host).Block)
}

func TestEngine_Clear(t *testing.T) {
	t.Parallel()

	const host = "tracker.example.com"

	env := newTestEnv(t)
	assert.False(t, env.verdict(t, testClientIP, host).Block)

	// The stale decision keeps being served from the cache.
	env.flt.block[host] = "||tracker.example.com^"
	assert.False(t, env.verdict(t, testClientIP, host).Block)

	// Dropping the cached decisions makes the engine match the rules anew.
	env.engine.Clear()
	assert.True(t, env.verdict(t, testClientIP, host).Block)
}

func TestEngine_Verdict_badRegex(t *testing.T) {
	t.Parallel()

	const host = "tracker.example.com"

	env := newTestEnv(t)
	addRegex(t, env, `(unclosed`, adns.FilterActionBlock)
	addRegex(t, env, `tracker\.`, adns.FilterActionBlock)
	env.refresh(t)

	// The invalid pattern is skipped; the valid one still applies.
	assert.True(t, env.verdict(t, testClientIP, host).Block)
}

func TestEngine_BlockingMode(t *testing.T) {
	t.Parallel()

	blockPageIPv4 := netip.MustParseAddr("192.0.2.100")
	blockPageIPv6 := netip.MustParseAddr("2001:db8::100")

	env := newTestEnv(t)

	sett := adns.DefaultSettings()
	sett.BlockPageEnabled = true
	sett.BlockPageIPv4 = blockPageIPv4
	sett.BlockPageIPv6 = blockPageIPv6
	setSettings(t, env, sett)
	env.refresh(t)

	t.Run("a", func(t *testing.T) {
		m := env.engine.BlockingMode(dns.TypeA)
		require.IsType(t, &dnsmsg.BlockingModeCustomIP{}, m)

		custom := m.(*dnsmsg.BlockingModeCustomIP)
		assert.Equal(t, []netip.Addr{blockPageIPv4}, custom.IPv4)
	})

	t.Run("aaaa", func(t *testing.T) {
		m := env.engine.BlockingMode(dns.TypeAAAA)
		require.IsType(t, &dnsmsg.BlockingModeCustomIP{}, m)

		custom := m.(*dnsmsg.BlockingModeCustomIP)
		assert.Equal(t, []netip.Addr{blockPageIPv6}, custom.IPv6)
	})

	t.Run("other_type", func(t *testing.T) {
		assert.IsType(t, &dnsmsg.BlockingModeNXDOMAIN{}, env.engine.BlockingMode(dns.TypeTXT))
	})

	t.Run("disabled", func(t *testing.T) {
		sett := adns.DefaultSettings()
		sett.BlockPageEnabled = false
		setSettings(t, env, sett)
		env.refresh(t)

		assert.IsType(t, &dnsmsg.BlockingModeNXDOMAIN{}, env.engine.BlockingMode(dns.TypeA))
	})
}

// addClient stores c and fails the test on error.
func addClient(t *testing.T, env *testEnv, c *adns.ClientConf) {
	t.Helper()

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	require.NoError(t, env.store.UpsertClient(ctx, c))
}

// addGroup stores g and fails the test on error.
func addGroup(t *testing.T, env *testEnv, g *adns.ClientGroup) {
	t.Helper()

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	require.NoError(t, env.store.UpsertGroup(ctx, g))
}

// addRegex stores an enabled regular-expression rule.
func addRegex(t *testing.T, env *testEnv, pattern string, action adns.FilterAction) {
	t.Helper()

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	_, err := env.store.AddRegexFilter(ctx, &adns.RegexFilter{
		Pattern: pattern,
		Action:  action,
		Enabled: true,
	})
	require.NoError(t, err)
}

// setSettings stores s and fails the test on error.
func setSettings(t *testing.T, env *testEnv, s *adns.Settings) {
	t.Helper()

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	require.NoError(t, env.store.SetSettings(ctx, s))
}
