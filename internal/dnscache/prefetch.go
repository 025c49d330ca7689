package dnscache

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/amberdns/amberdns/internal/dnsmsg"
	"github.com/miekg/dns"
	"golang.org/x/time/rate"
)

// Default prefetch parameters.
const (
	DefaultPrefetchThreshold  = 0.9
	DefaultPrefetchMinQueries = 3
	DefaultPrefetchWindow     = 1 * timeutil.Day

	// DefaultPrefetchRate is the maximum number of background resolves per
	// second.
	DefaultPrefetchRate rate.Limit = 50
)

// errNoResp is returned by a background refresh when the resolver produced
// neither a response nor an error.
const errNoResp errors.Error = "no response"

// NameSource returns the names queried at least minCount times since the
// given time.
type NameSource interface {
	TopNames(ctx context.Context, since time.Time, minCount int) (names []string, err error)
}

// Resolver resolves a single DNS question.
type Resolver interface {
	Resolve(ctx context.Context, name string, qtype dnsmsg.RRType) (resp *dns.Msg, err error)
}

// PrefetcherConfig is the configuration structure for [NewPrefetcher].
type PrefetcherConfig struct {
	// Logger is used for logging the operation of the prefetcher.  If nil,
	// [slog.Default] is used.
	Logger *slog.Logger

	// Clock is used to get the current time.  If nil, the system clock is
	// used.
	Clock timeutil.Clock

	// Cache is the cache to prefetch entries into.  It must not be nil.
	Cache *Cache

	// Names is the source of popular names, usually the query log.  It must
	// not be nil.
	Names NameSource

	// Resolver is used for the background resolves.  It must not be nil.
	Resolver Resolver

	// Threshold is the share of an entry's lifetime that must have elapsed
	// before the entry is refreshed.  Zero means
	// [DefaultPrefetchThreshold].
	Threshold float64

	// MinQueries is the minimum number of queries within Window that makes a
	// name popular.  Zero means [DefaultPrefetchMinQueries].
	MinQueries int

	// Window is how far back the query counts reach.  Zero means
	// [DefaultPrefetchWindow].
	Window time.Duration

	// Rate is the maximum number of background resolves per second, so that a
	// large candidate set does not turn into a burst of upstream queries.
	// Zero means [DefaultPrefetchRate].
	Rate rate.Limit
}

// Prefetcher periodically refreshes cache entries for popular names that are
// close to expiry.  Refreshes share the in-flight resolves of the cache, so
// they never block nor duplicate foreground queries.
type Prefetcher struct {
	logger     *slog.Logger
	clock      timeutil.Clock
	cache      *Cache
	names      NameSource
	resolver   Resolver
	limiter    *rate.Limiter
	threshold  float64
	minQueries int
	window     time.Duration
}

// NewPrefetcher returns a new properly initialized *Prefetcher.  c must not
// be nil.
func NewPrefetcher(c *PrefetcherConfig) (p *Prefetcher) {
	clock := c.Clock
	if clock == nil {
		clock = timeutil.SystemClock{}
	}

	return &Prefetcher{
		logger:     cmp.Or(c.Logger, slog.Default()),
		clock:      clock,
		cache:      c.Cache,
		names:      c.Names,
		resolver:   c.Resolver,
		limiter:    rate.NewLimiter(cmp.Or(c.Rate, DefaultPrefetchRate), 1),
		threshold:  cmp.Or(c.Threshold, DefaultPrefetchThreshold),
		minQueries: cmp.Or(c.MinQueries, DefaultPrefetchMinQueries),
		window:     cmp.Or(c.Window, DefaultPrefetchWindow),
	}
}

// type check
var _ service.Refresher = (*Prefetcher)(nil)

// Refresh implements the [service.Refresher] interface for *Prefetcher.  It
// queries the name source for popular names and refreshes their entries that
// have passed the configured share of their lifetime.
func (p *Prefetcher) Refresh(ctx context.Context) (err error) {
	now := p.clock.Now()
	names, err := p.names.TopNames(ctx, now.Add(-p.window), p.minQueries)
	if err != nil {
		return fmt.Errorf("prefetch: getting popular names: %w", err)
	}

	cands := p.cache.prefetchCandidates(container.NewMapSet(names...), p.threshold, now)

	var errs []error
	var refreshed int
	for _, k := range cands {
		err = p.refreshEntry(ctx, k)
		if err != nil {
			errs = append(errs, fmt.Errorf("prefetch: refreshing %q: %w", k.name, err))

			continue
		}

		refreshed++
	}

	p.logger.DebugContext(
		ctx,
		"prefetch finished",
		"popular", len(names),
		"candidates", len(cands),
		"refreshed", refreshed,
	)

	return errors.Join(errs...)
}

// refreshEntry resolves the question of k anew and replaces the cache entry
// on success.
func (p *Prefetcher) refreshEntry(ctx context.Context, k key) (err error) {
	err = p.limiter.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	resp, _, err := p.cache.Resolve(k.name, k.qtype, func() (resp *dns.Msg, err error) {
		return p.resolver.Resolve(ctx, k.name, k.qtype)
	})
	if err != nil {
		// Don't wrap the error, since the caller adds the context.
		return err
	} else if resp == nil {
		return errNoResp
	}

	p.cache.Insert(ctx, k.name, k.qtype, resp, p.clock.Now())

	return nil
}

// prefetchCandidates returns the keys of entries whose name is in popular and
// whose lifetime has at least the fraction threshold elapsed.  Negative
// entries are skipped, since refreshing those has no value.
func (c *Cache) prefetchCandidates(
	popular *container.MapSet[string],
	threshold float64,
	now time.Time,
) (keys []key) {
	for _, k := range c.lru.Keys() {
		if !popular.Has(k.name) {
			continue
		}

		ent, ok := c.lru.Get(k)
		if !ok || ent.negative {
			continue
		}

		lifetime := ent.expiresAt.Sub(ent.insertedAt)
		if lifetime <= 0 {
			continue
		}

		if age := now.Sub(ent.insertedAt); float64(age) >= threshold*float64(lifetime) {
			keys = append(keys, k)
		}
	}

	return keys
}
