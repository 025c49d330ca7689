package cmd

import (
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/c2h5oh/datasize"
)

// filtersConfig contains the configuration for the adlist storage.  The
// adlists themselves live in the configuration store.
type filtersConfig struct {
	// RefreshIvl defines how often AmberDNS refreshes the adlists from their
	// URLs.
	RefreshIvl timeutil.Duration `yaml:"refresh_interval"`

	// Staleness is how old a cached adlist copy may be before a refresh
	// re-downloads it.
	Staleness timeutil.Duration `yaml:"staleness"`

	// RefreshTimeout is the timeout for the entire adlist update operation.
	RefreshTimeout timeutil.Duration `yaml:"refresh_timeout"`

	// MaxSize is the maximum size of a downloadable adlist.
	MaxSize datasize.ByteSize `yaml:"max_size"`
}

// type check
var _ validate.Interface = (*filtersConfig)(nil)

// Validate implements the [validate.Interface] interface for *filtersConfig.
func (c *filtersConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	return errors.Join(
		validate.Positive("refresh_interval", c.RefreshIvl),
		validate.Positive("staleness", c.Staleness),
		validate.Positive("refresh_timeout", c.RefreshTimeout),
		validate.Positive("max_size", c.MaxSize),
	)
}
