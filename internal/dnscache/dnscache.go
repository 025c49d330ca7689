// Package dnscache contains the DNS answer cache: a bounded LRU of responses
// keyed by question name and type, with negative caching, optional serving of
// stale entries, popularity-based prefetch, and snapshot persistence.
package dnscache

import (
	"cmp"
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/amberdns/amberdns/internal/adnscache"
	"github.com/amberdns/amberdns/internal/dnsmsg"
	"github.com/miekg/dns"
	"golang.org/x/sync/singleflight"
)

// Default cache parameters.
const (
	DefaultCount     = 10_000
	DefaultMinTTL    = 1 * time.Minute
	DefaultMaxTTL    = 7 * timeutil.Day
	DefaultNegMaxTTL = 1 * time.Hour
)

// HitState describes the outcome of a cache lookup.
type HitState uint8

// HitState values.
const (
	// Miss means that there is no usable entry for the question.
	Miss HitState = iota

	// Hit means that a live entry was found.
	Hit

	// Stale means that an entry was found that expired no longer than the
	// serve-stale window ago.  Callers should only use it once upstream
	// resolution has failed.
	Stale
)

// type check
var _ fmt.Stringer = Miss

// String implements the [fmt.Stringer] interface for HitState.
func (s HitState) String() (str string) {
	switch s {
	case Miss:
		return "miss"
	case Hit:
		return "hit"
	case Stale:
		return "stale"
	default:
		return fmt.Sprintf("!bad_hit_state_%d", uint8(s))
	}
}

// key identifies a cache entry.
type key struct {
	name  string
	qtype dnsmsg.RRType
}

// newKey returns the cache key for the given question data.  name is
// lowercased, since name comparison is case-insensitive.
func newKey(name string, qtype dnsmsg.RRType) (k key) {
	return key{
		name:  strings.ToLower(name),
		qtype: qtype,
	}
}

// resolveKey returns the singleflight key corresponding to k.
func (k key) resolveKey() (s string) {
	b := make([]byte, 2+len(k.name))
	binary.BigEndian.PutUint16(b, k.qtype)
	copy(b[2:], k.name)

	return string(b)
}

// Config is the configuration structure for the answer cache.
type Config struct {
	// Metrics is used for the collection of the cache statistics.  If nil,
	// [EmptyMetrics] is used.
	Metrics Metrics

	// Count is the maximum number of entries.  Zero means [DefaultCount].
	Count int

	// MinTTL is the lower clamp for the expiry derived from a response.  Zero
	// means [DefaultMinTTL].  SERVFAIL responses are exempt from it.
	MinTTL time.Duration

	// MaxTTL is the upper expiry clamp for positive responses.  Zero means
	// [DefaultMaxTTL].
	MaxTTL time.Duration

	// NegMaxTTL is the upper expiry clamp for negative responses.  Zero means
	// [DefaultNegMaxTTL].
	NegMaxTTL time.Duration

	// StaleMaxAge is how long past its expiry an entry may still be returned
	// as stale.
	StaleMaxAge time.Duration

	// ServeStale enables returning expired entries that are at most
	// StaleMaxAge past their expiry.
	ServeStale bool

	// PrefetchEnabled is reported by [Cache.Stats]; prefetching itself is
	// driven by [Prefetcher].
	PrefetchEnabled bool
}

// Cache is a bounded LRU DNS answer cache.  Stored entries are immutable, and
// all methods are safe for concurrent use.
type Cache struct {
	lru       *adnscache.LRU[key, *entry]
	resolvers *singleflight.Group
	metrics   Metrics

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64

	minTTL      time.Duration
	maxTTL      time.Duration
	negMaxTTL   time.Duration
	staleMaxAge time.Duration

	serveStale bool
	prefetch   bool
}

// New returns a new initialized answer cache.  c must not be nil.
func New(c *Config) (cache *Cache) {
	cache = &Cache{
		resolvers:   &singleflight.Group{},
		metrics:     cmp.Or[Metrics](c.Metrics, EmptyMetrics{}),
		minTTL:      cmp.Or(c.MinTTL, DefaultMinTTL),
		maxTTL:      cmp.Or(c.MaxTTL, DefaultMaxTTL),
		negMaxTTL:   cmp.Or(c.NegMaxTTL, DefaultNegMaxTTL),
		staleMaxAge: c.StaleMaxAge,
		serveStale:  c.ServeStale,
		prefetch:    c.PrefetchEnabled,
	}

	cache.lru = adnscache.NewLRU[key, *entry](&adnscache.LRUConfig{
		OnEvict: func(_, _ any) { cache.evictions.Add(1) },
		Size:    cmp.Or(c.Count, DefaultCount),
	})

	return cache
}

// Lookup searches for a response to the given question.  state is Hit when a
// live entry exists, in which case resp is a copy of the stored response with
// every TTL rewritten to the remaining time; Stale when the entry expired no
// longer than the serve-stale window ago, with zero TTLs; Miss otherwise.
// resp is nil iff state is Miss.  resp is not bound to any request, so
// callers must set the ID and flags themselves.
func (c *Cache) Lookup(
	ctx context.Context,
	name string,
	qtype dnsmsg.RRType,
	now time.Time,
) (resp *dns.Msg, state HitState) {
	defer func() { c.record(ctx, state) }()

	k := newKey(name, qtype)
	ent, ok := c.lru.Get(k)
	if !ok {
		return nil, Miss
	}

	if rem := ent.expiresAt.Sub(now); rem > 0 {
		// Don't serve a TTL above the lowest one the response arrived with,
		// which the lower expiry clamp may otherwise exceed.
		ttl := min(uint32(roundDiv(rem, time.Second)), ent.minTTL)

		return ent.respWithTTL(ttl), Hit
	}

	if !c.revivable(ent, now) {
		c.remove(k)

		return nil, Miss
	}

	return ent.respWithTTL(0), Stale
}

// record updates the counters for a lookup outcome.
func (c *Cache) record(ctx context.Context, state HitState) {
	if state == Hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}

	c.metrics.OnLookup(ctx, state)
}

// revivable reports whether ent may still be served, live or stale.
func (c *Cache) revivable(ent *entry, now time.Time) (ok bool) {
	age := now.Sub(ent.expiresAt)

	return age <= 0 || (c.serveStale && age <= c.staleMaxAge)
}

// Insert adds a copy of resp to the cache under the question name and type,
// deriving the expiry from the response per RFC 2308 and clamping it to the
// configured bounds.  Responses that should not be cached, truncated ones
// included, are ignored.
func (c *Cache) Insert(
	ctx context.Context,
	name string,
	qtype dnsmsg.RRType,
	resp *dns.Msg,
	now time.Time,
) {
	cacheable, negative := responseCacheability(resp)
	if !cacheable {
		return
	}

	ttl := lowestTTL(resp)
	if ttl == 0 {
		return
	}

	exp := time.Duration(ttl) * time.Second
	switch {
	case resp.Rcode == dns.RcodeServerFailure:
		// Keep the short SERVFAIL expiry below the floor.
	case negative:
		exp = max(c.minTTL, min(exp, c.negMaxTTL))
	default:
		exp = max(c.minTTL, min(exp, c.maxTTL))
	}

	c.lru.Set(newKey(name, qtype), &entry{
		resp:       storedResp(resp),
		insertedAt: now,
		expiresAt:  now.Add(exp),
		minTTL:     ttl,
		negative:   negative,
	})

	c.metrics.OnAdd(ctx, negative, c.lru.Len())
}

// Resolve runs fn at most once per question among concurrent callers,
// returning the shared result to every waiter.  shared is true when the
// result came from another caller's fn invocation.  The returned response is
// shared as well, so callers must clone it before modifying.
func (c *Cache) Resolve(
	name string,
	qtype dnsmsg.RRType,
	fn func() (resp *dns.Msg, err error),
) (resp *dns.Msg, shared bool, err error) {
	v, err, shared := c.resolvers.Do(newKey(name, qtype).resolveKey(), func() (v any, err error) {
		return fn()
	})

	resp, _ = v.(*dns.Msg)

	return resp, shared, err
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.lru.Clear()
}

// Remove drops all entries for the given name regardless of type.  removed is
// the number of entries dropped.
func (c *Cache) Remove(name string) (removed int) {
	name = strings.ToLower(name)
	for _, k := range c.lru.Keys() {
		if k.name == name {
			c.remove(k)
			removed++
		}
	}

	return removed
}

// remove deletes the entry with k, keeping the eviction counter intact.
func (c *Cache) remove(k key) {
	if c.lru.Delete(k) {
		// The eviction callback fires for explicit removals as well, and
		// those are not capacity evictions.
		c.evictions.Add(^uint64(0))
	}
}

// Stats is a snapshot of the cache statistics.
type Stats struct {
	// Hits and Misses are the cumulative lookup outcome counters.  Stale
	// results count as misses, since they require upstream work.
	Hits   uint64
	Misses uint64

	// HitRate is Hits over all lookups, zero when there have been none.
	HitRate float64

	// Evictions is the number of entries pushed out by capacity.
	Evictions uint64

	// Size is the current number of entries, expired ones included.
	Size int

	// ServeStale and Prefetch report whether the corresponding features are
	// enabled.
	ServeStale bool
	Prefetch   bool
}

// Stats returns a snapshot of the cache statistics.
func (c *Cache) Stats() (s *Stats) {
	hits, misses := c.hits.Load(), c.misses.Load()
	s = &Stats{
		Hits:       hits,
		Misses:     misses,
		Evictions:  c.evictions.Load(),
		Size:       c.lru.Len(),
		ServeStale: c.serveStale,
		Prefetch:   c.prefetch,
	}

	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}

	return s
}
