package cmd

import (
	"fmt"
	"os"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/validate"
	"gopkg.in/yaml.v2"
)

// configuration represents the on-disk configuration of AmberDNS.  Paths and
// infrastructure endpoints live in the environment, see [environment]; the
// settings that the admin changes at runtime live in the configuration store,
// see [adns.Settings].  What remains here are the startup tunables.
type configuration struct {
	// DNS is the configuration of the DNS listeners and the resolving
	// pipeline.
	DNS *dnsConfig `yaml:"dns"`

	// Upstream is the configuration of the upstream servers.
	Upstream *upstreamConfig `yaml:"upstream"`

	// Cache is the DNS answer cache configuration.
	Cache *cacheConfig `yaml:"cache"`

	// Filters is the configuration of the adlist storage.
	Filters *filtersConfig `yaml:"filters"`

	// QueryLog is the query log configuration.  See the environment type for
	// the query log file path.
	QueryLog *queryLogConfig `yaml:"query_log"`

	// Debug is the configuration of the debug HTTP servers.
	Debug *debugConfig `yaml:"debug"`
}

// type check
var _ validate.Interface = (*configuration)(nil)

// Validate implements the [validate.Interface] interface for *configuration.
func (c *configuration) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	// Keep this in the same order as the fields in the config.
	validators := container.KeyValues[string, validate.Interface]{{
		Key:   "dns",
		Value: c.DNS,
	}, {
		Key:   "upstream",
		Value: c.Upstream,
	}, {
		Key:   "cache",
		Value: c.Cache,
	}, {
		Key:   "filters",
		Value: c.Filters,
	}, {
		Key:   "query_log",
		Value: c.QueryLog,
	}, {
		Key:   "debug",
		Value: c.Debug,
	}}

	var errs []error
	for _, kv := range validators {
		errs = validate.Append(errs, kv.Key, kv.Value)
	}

	return errors.Join(errs...)
}

// parseConfig reads the configuration.
func parseConfig(confPath string) (c *configuration, err error) {
	// #nosec G304 -- Trust the path to the configuration file that is given
	// from the environment.
	yamlFile, err := os.ReadFile(confPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	c = &configuration{}
	err = yaml.Unmarshal(yamlFile, c)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return c, nil
}
