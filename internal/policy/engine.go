package policy

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"regexp"
	"sync/atomic"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/amberdns/amberdns/internal/adns"
	"github.com/amberdns/amberdns/internal/adnscache"
	"github.com/amberdns/amberdns/internal/dnsmsg"
	"github.com/amberdns/amberdns/internal/errcoll"
	"github.com/amberdns/amberdns/internal/filter"
	"github.com/miekg/dns"
)

// Engine computes the policy verdict for every question.  It must be created
// with [NewEngine].  Before the first refresh it passes everything through
// with the default settings.
type Engine struct {
	logger    *slog.Logger
	store     Store
	filter    GlobalFilter
	errColl   errcoll.Interface
	clock     timeutil.Clock
	snapshot  *atomic.Pointer[snapshot]
	cacheSize int
}

// Config is the configuration for the policy engine.
type Config struct {
	// Logger is used for logging the operation of the engine.  It must not be
	// nil.
	Logger *slog.Logger

	// Store is the configuration store the rules are read from.  It must not
	// be nil.
	Store Store

	// Filter is the global allowlist and blocklist.  It must not be nil.
	Filter GlobalFilter

	// ErrColl is used to collect non-critical refresh errors.  It must not be
	// nil.
	ErrColl errcoll.Interface

	// Clock is used to check the blocking pause timers.  If nil,
	// [timeutil.SystemClock] is used.
	Clock timeutil.Clock

	// CacheSize is the maximum number of entries in the per-snapshot decision
	// cache.  It must be positive.
	CacheSize int
}

// NewEngine returns a new policy engine.  c must not be nil.
func NewEngine(c *Config) (e *Engine) {
	clock := c.Clock
	if clock == nil {
		clock = timeutil.SystemClock{}
	}

	e = &Engine{
		logger:    c.Logger,
		store:     c.Store,
		filter:    c.Filter,
		errColl:   c.ErrColl,
		clock:     clock,
		snapshot:  &atomic.Pointer[snapshot]{},
		cacheSize: c.CacheSize,
	}

	e.snapshot.Store(&snapshot{
		settings:  adns.DefaultSettings(),
		clients:   map[netip.Addr]*clientPolicy{},
		decisions: e.newDecisionCache(),
	})

	return e
}

// newDecisionCache returns a new decision cache for a snapshot.
func (e *Engine) newDecisionCache() (c adnscache.Interface[decisionKey, Verdict]) {
	return adnscache.NewLRU[decisionKey, Verdict](&adnscache.LRUConfig{
		Size: e.cacheSize,
	})
}

// Verdict returns the policy decision for the question (cli, host, qt).  host
// must be normalized with [filter.NormalizeDomain].
func (e *Engine) Verdict(
	ctx context.Context,
	cli netip.Addr,
	host string,
	qt dnsmsg.RRType,
) (v Verdict) {
	snap := e.snapshot.Load()

	key := decisionKey{addr: cli, host: host}
	v, ok := snap.decisions.Get(key)
	if !ok {
		v = e.match(ctx, snap, cli, host, qt)
		snap.decisions.Set(key, v)
	}

	// Pause timers expire on their own, without a snapshot swap, so they are
	// applied outside of the cached part of the decision.
	if v.Block && !snap.blockingActive(cli, e.clock.Now()) {
		v.Block = false
	}

	return v
}

// match applies the rule sources in precedence order: client allow, group
// allow, global allowlist, regex allow, client block, group block, global
// blocklist, regex block, default allow.
func (e *Engine) match(
	ctx context.Context,
	snap *snapshot,
	cli netip.Addr,
	host string,
	qt dnsmsg.RRType,
) (v Verdict) {
	cp := snap.clients[cli]

	if cp != nil {
		if rule, ok := cp.allow.MatchSuffix(host); ok {
			return Verdict{Rule: filter.RuleText(rule), List: filter.IDClient}
		}

		for _, g := range cp.groups {
			if rule, ok := g.allow.MatchSuffix(host); ok {
				return Verdict{Rule: filter.RuleText(rule), List: g.id}
			}
		}
	}

	if rule, ok := e.filter.MatchAllowlist(host); ok {
		return Verdict{Rule: rule, List: filter.IDAllowlist}
	}

	if rr := matchRegexes(snap.regexAllow, host); rr != nil {
		return Verdict{Rule: filter.RuleText(rr.re.String()), List: rr.id}
	}

	if cp != nil {
		if rule, ok := cp.block.MatchSuffix(host); ok {
			return Verdict{Rule: filter.RuleText(rule), List: filter.IDClient, Block: true}
		}

		for _, g := range cp.groups {
			if rule, ok := g.block.MatchSuffix(host); ok {
				return Verdict{Rule: filter.RuleText(rule), List: g.id, Block: true}
			}
		}
	}

	// An exception rule exempts the host from the blocklist sources but not
	// from the regex block rules below.
	var exc *filter.ResultAllowed
	switch r := e.filter.MatchBlocklist(ctx, host, qt).(type) {
	case *filter.ResultBlocked:
		return Verdict{Rule: r.Rule, List: r.List, Block: true}
	case *filter.ResultAllowed:
		exc = r
	}

	if rr := matchRegexes(snap.regexBlock, host); rr != nil {
		return Verdict{Rule: filter.RuleText(rr.re.String()), List: rr.id, Block: true}
	}

	if exc != nil {
		return Verdict{Rule: exc.Rule, List: exc.List}
	}

	return Verdict{}
}

// type check
var _ adnscache.Clearer = (*Engine)(nil)

// Clear implements the [adnscache.Clearer] interface for *Engine.  It drops
// the cached decisions of the current snapshot, forcing the next queries to
// match the rules anew.
func (e *Engine) Clear() {
	e.snapshot.Load().decisions.Clear()
}

// BlockingMode returns the blocking mode for a blocked question of type qt
// under the current settings: the block page address for A and AAAA questions
// when the block page is enabled, NXDOMAIN otherwise.
func (e *Engine) BlockingMode(qt dnsmsg.RRType) (m dnsmsg.BlockingMode) {
	sett := e.snapshot.Load().settings
	if !sett.BlockPageEnabled {
		return &dnsmsg.BlockingModeNXDOMAIN{}
	}

	switch qt {
	case dns.TypeA:
		if sett.BlockPageIPv4.IsValid() {
			return &dnsmsg.BlockingModeCustomIP{IPv4: []netip.Addr{sett.BlockPageIPv4}}
		}
	case dns.TypeAAAA:
		if sett.BlockPageIPv6.IsValid() {
			return &dnsmsg.BlockingModeCustomIP{IPv6: []netip.Addr{sett.BlockPageIPv6}}
		}
	default:
		// Go on.
	}

	return &dnsmsg.BlockingModeNXDOMAIN{}
}

// type check
var _ service.Refresher = (*Engine)(nil)

// Refresh implements the [service.Refresher] interface for *Engine.  It
// re-reads the settings and the rules from the store, compiles a new
// snapshot, and swaps it in together with a fresh decision cache.
func (e *Engine) Refresh(ctx context.Context) (err error) {
	defer func() { err = errors.Annotate(err, "refreshing policy: %w") }()

	sett, err := e.store.Settings(ctx)
	if err != nil {
		return fmt.Errorf("reading settings: %w", err)
	}

	clients, err := e.store.Clients(ctx)
	if err != nil {
		return fmt.Errorf("reading clients: %w", err)
	}

	groups, err := e.store.Groups(ctx)
	if err != nil {
		return fmt.Errorf("reading groups: %w", err)
	}

	regexes, err := e.store.RegexFilters(ctx)
	if err != nil {
		return fmt.Errorf("reading regex filters: %w", err)
	}

	next := &snapshot{
		settings:  sett,
		clients:   compileClients(clients, compileGroups(groups)),
		decisions: e.newDecisionCache(),
	}
	next.regexAllow, next.regexBlock = e.compileRegexes(ctx, regexes)

	e.snapshot.Store(next)

	e.logger.InfoContext(
		ctx,
		"snapshot replaced",
		"clients", len(next.clients),
		"groups", len(groups),
		"regexes", len(next.regexAllow)+len(next.regexBlock),
	)

	return nil
}

// compileRegexes compiles the enabled regular-expression rules into the allow
// and block chains.  An invalid pattern disables its rule.
func (e *Engine) compileRegexes(
	ctx context.Context,
	filters []*adns.RegexFilter,
) (allow, block []*regexRule) {
	for _, f := range filters {
		if !f.Enabled {
			continue
		}

		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			errcoll.Collect(
				ctx,
				e.errColl,
				e.logger,
				fmt.Sprintf("compiling regex rule %d", f.ID),
				err,
			)

			continue
		}

		rr := &regexRule{
			re: re,
			id: filter.RegexFilterID(f.ID),
		}

		switch f.Action {
		case adns.FilterActionAllow:
			allow = append(allow, rr)
		case adns.FilterActionBlock:
			block = append(block, rr)
		}
	}

	return allow, block
}
