package cmd

import (
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/validate"
)

// debugConfig is the configuration of the debug HTTP servers.
type debugConfig struct {
	// APIAddr is the address of the health and debug API server.  It must
	// not be empty, since the supervisor relies on the health endpoint.
	APIAddr string `yaml:"api_addr"`

	// PprofAddr is the address of the pprof server.  An empty value disables
	// it.  It may be the same as APIAddr, in which case the handlers are
	// merged into one server.
	PprofAddr string `yaml:"pprof_addr"`

	// PrometheusAddr is the address of the prometheus metrics server.  An
	// empty value disables it.
	PrometheusAddr string `yaml:"prometheus_addr"`
}

// type check
var _ validate.Interface = (*debugConfig)(nil)

// Validate implements the [validate.Interface] interface for *debugConfig.
func (c *debugConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	return validate.NotEmpty("api_addr", c.APIAddr)
}
