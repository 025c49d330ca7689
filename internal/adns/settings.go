package adns

import (
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/validate"
)

// Settings is the dynamic, store-owned configuration of the resolver engine.
// A Settings value is an immutable snapshot: the engine re-reads it from the
// store on refresh and swaps whole.
type Settings struct {
	// BlockingPausedUntil is the time until which all block verdicts are
	// flipped to allow.  The zero value means no pause timer is active.
	BlockingPausedUntil time.Time

	// BlockPageIPv4 is the address answered for blocked A questions when the
	// block page is enabled.
	BlockPageIPv4 netip.Addr

	// BlockPageIPv6 is the address answered for blocked AAAA questions when
	// the block page is enabled.
	BlockPageIPv6 netip.Addr

	// UpstreamServers is the default ordered upstream list.  Entries use the
	// udp://, tcp://, tls://, and https:// schemes; a bare address means
	// plain DNS.
	UpstreamServers []string

	// DoTCertPath and DoTKeyPath are the paths to the TLS material for the
	// DNS-over-TLS listener.
	DoTCertPath string
	DoTKeyPath  string

	// ServeStaleMaxAge is how long an expired cache entry remains usable when
	// upstream resolution fails.
	ServeStaleMaxAge time.Duration

	// RateLimitWindow is the width of the per-client sliding window.
	RateLimitWindow time.Duration

	// RateLimitCount is the number of queries allowed per window.
	RateLimitCount int

	// CacheSize is the maximum number of answer-cache entries.
	CacheSize int

	// PrefetchMinQueries is the popularity threshold for prefetching, in
	// queries per day.
	PrefetchMinQueries int

	// PrefetchThreshold is the elapsed fraction of an entry's TTL after which
	// the entry becomes a prefetch candidate.
	PrefetchThreshold float64

	// QueryRetentionDays is how long query-log rows are kept by the store.
	QueryRetentionDays int

	// DoTPort is the port of the DNS-over-TLS listener.
	DoTPort uint16

	// BlockingEnabled globally enables block verdicts.
	BlockingEnabled bool

	// BlockPageEnabled makes blocked A/AAAA questions answer with the block
	// page address instead of NXDOMAIN.
	BlockPageEnabled bool

	// CacheEnabled enables the answer cache.
	CacheEnabled bool

	// ServeStaleEnabled allows serving expired entries on upstream failure.
	ServeStaleEnabled bool

	// PrefetchEnabled enables background refresh of popular entries.
	PrefetchEnabled bool

	// RateLimitEnabled enables the per-client rate limiter.
	RateLimitEnabled bool

	// PrivacyMode strips client addresses from query-log records.
	PrivacyMode bool

	// DNSSECValidation requests DNSSEC records from upstreams regardless of
	// the client's DO bit.
	DNSSECValidation bool

	// DoTEnabled enables the DNS-over-TLS listener.
	DoTEnabled bool
}

// DefaultSettings returns the settings a fresh store is seeded with.
func DefaultSettings() (s *Settings) {
	return &Settings{
		UpstreamServers:    []string{"1.1.1.1", "8.8.8.8"},
		ServeStaleMaxAge:   7 * 24 * time.Hour,
		RateLimitWindow:    1 * time.Second,
		RateLimitCount:     50,
		CacheSize:          10_000,
		PrefetchMinQueries: 10,
		PrefetchThreshold:  0.9,
		QueryRetentionDays: 90,
		DoTPort:            853,
		BlockingEnabled:    true,
		CacheEnabled:       true,
		ServeStaleEnabled:  true,
		PrefetchEnabled:    true,
		RateLimitEnabled:   true,
	}
}

// type check
var _ validate.Interface = (*Settings)(nil)

// Validate implements the [validate.Interface] interface for *Settings.
func (s *Settings) Validate() (err error) {
	if s == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.NotEmptySlice("upstream_servers", s.UpstreamServers),
		validate.Positive("cache_size", s.CacheSize),
		validate.Positive("rate_limit_window", s.RateLimitWindow),
		validate.Positive("rate_limit_count", s.RateLimitCount),
		validate.Positive("prefetch_min_queries", s.PrefetchMinQueries),
		validate.InRange("prefetch_threshold", s.PrefetchThreshold, 0.1, 1),
		validate.InRange("serve_stale_max_age", s.ServeStaleMaxAge, 0, 365*24*time.Hour),
		validate.InRange("query_retention_days", s.QueryRetentionDays, 0, 3650),
	}

	if s.BlockPageEnabled && !s.BlockPageIPv4.IsValid() && !s.BlockPageIPv6.IsValid() {
		errs = append(errs, errors.Error("block_page: no address configured"))
	}

	if s.DoTEnabled {
		errs = append(
			errs,
			validate.NotEmpty("dot_cert_path", s.DoTCertPath),
			validate.NotEmpty("dot_key_path", s.DoTKeyPath),
			validate.Positive("dot_port", s.DoTPort),
		)
	}

	return errors.Join(errs...)
}
