package cmd

import (
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"
)

// upstreamConfig is the upstream module configuration.  The upstream server
// addresses themselves live in the settings store, since the admin changes
// them at runtime.
type upstreamConfig struct {
	// Healthcheck contains the upstream healthcheck configuration.
	Healthcheck *upstreamHealthcheckConfig `yaml:"healthcheck"`

	// Timeout is the timeout for a single query to an upstream server.
	Timeout timeutil.Duration `yaml:"timeout"`
}

// type check
var _ validate.Interface = (*upstreamConfig)(nil)

// Validate implements the [validate.Interface] interface for *upstreamConfig.
func (c *upstreamConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.Positive("timeout", c.Timeout),
	}

	errs = validate.Append(errs, "healthcheck", c.Healthcheck)

	return errors.Join(errs...)
}

// upstreamHealthcheckConfig is the configuration for the upstream healthcheck
// feature.
type upstreamHealthcheckConfig struct {
	// DomainTemplate is the template for domains used in the healthcheck
	// probes.  Occurrences of the substring "${RANDOM}" are replaced with a
	// random string on every probe to defeat caching.
	DomainTemplate string `yaml:"domain_template"`

	// Interval is the interval of the upstream healthcheck probes.
	Interval timeutil.Duration `yaml:"interval"`

	// InitDuration is the timeout for the initial probe performed during
	// startup.
	InitDuration timeutil.Duration `yaml:"init_duration"`

	// Enabled shows if the upstream healthcheck is enabled.  If it is false,
	// the rest of the settings are ignored.
	Enabled bool `yaml:"enabled"`
}

// type check
var _ validate.Interface = (*upstreamHealthcheckConfig)(nil)

// Validate implements the [validate.Interface] interface for
// *upstreamHealthcheckConfig.
func (c *upstreamHealthcheckConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	if !c.Enabled {
		return nil
	}

	return errors.Join(
		validate.NotEmpty("domain_template", c.DomainTemplate),
		validate.Positive("interval", c.Interval),
		validate.Positive("init_duration", c.InitDuration),
	)
}
