package cmd

import (
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"
)

// cacheConfig is the configuration of the DNS answer cache.  The entry count,
// the serve-stale policy, and the prefetch thresholds come from the settings
// store, because the admin changes them at runtime.
type cacheConfig struct {
	// MinTTL is the lower clamp for the expiry derived from a response.
	MinTTL timeutil.Duration `yaml:"min_ttl"`

	// MaxTTL is the upper expiry clamp for positive responses.
	MaxTTL timeutil.Duration `yaml:"max_ttl"`

	// NegMaxTTL is the upper expiry clamp for negative responses.
	NegMaxTTL timeutil.Duration `yaml:"neg_max_ttl"`

	// SnapshotInterval defines how often the cache contents are persisted to
	// the snapshot storage.
	SnapshotInterval timeutil.Duration `yaml:"snapshot_interval"`

	// PrefetchInterval defines how often the prefetcher scans the cache for
	// entries that are about to expire.
	PrefetchInterval timeutil.Duration `yaml:"prefetch_interval"`

	// PrefetchWindow defines how far back the query popularity counts reach.
	PrefetchWindow timeutil.Duration `yaml:"prefetch_window"`
}

// type check
var _ validate.Interface = (*cacheConfig)(nil)

// Validate implements the [validate.Interface] interface for *cacheConfig.
func (c *cacheConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.Positive("min_ttl", c.MinTTL),
		validate.Positive("max_ttl", c.MaxTTL),
		validate.Positive("neg_max_ttl", c.NegMaxTTL),
		validate.Positive("snapshot_interval", c.SnapshotInterval),
		validate.Positive("prefetch_interval", c.PrefetchInterval),
		validate.Positive("prefetch_window", c.PrefetchWindow),
	}

	if c.MaxTTL < c.MinTTL {
		errs = append(errs, fmt.Errorf(
			"max_ttl: %w: must be no less than min_ttl %s, got %s",
			errors.ErrOutOfRange,
			c.MinTTL,
			c.MaxTTL,
		))
	}

	return errors.Join(errs...)
}
