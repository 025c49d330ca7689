package cmd

import (
	"fmt"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"
)

// dnsConfig contains the common DNS settings.  The DNS-over-TLS listener is
// configured at runtime through the settings store, so only the plain and the
// DNS-over-HTTPS listeners appear here.
type dnsConfig struct {
	// DoH is the DNS-over-HTTPS listener configuration.
	DoH *dohConfig `yaml:"doh"`

	// ListenAddr is the IP address the plain DNS listeners bind to.
	ListenAddr netip.Addr `yaml:"listen_addr"`

	// ReadTimeout defines the timeout for any read from a UDP connection or
	// the first read from a TCP connection.
	ReadTimeout timeutil.Duration `yaml:"read_timeout"`

	// WriteTimeout defines the timeout for writing to a UDP or TCP
	// connection.
	WriteTimeout timeutil.Duration `yaml:"write_timeout"`

	// TCPIdleTimeout defines the timeout for consecutive reads from a TCP
	// connection.
	TCPIdleTimeout timeutil.Duration `yaml:"tcp_idle_timeout"`

	// HandleTimeout defines the timeout for the entire handling of a single
	// query.
	HandleTimeout timeutil.Duration `yaml:"handle_timeout"`

	// RefreshInterval defines how often the settings, the policy data, and
	// the authoritative zones are reloaded from the configuration store.
	RefreshInterval timeutil.Duration `yaml:"refresh_interval"`

	// Port is the port of the plain DNS listeners, both UDP and TCP.
	Port uint16 `yaml:"port"`
}

// type check
var _ validate.Interface = (*dnsConfig)(nil)

// Validate implements the [validate.Interface] interface for *dnsConfig.
func (c *dnsConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.Positive("read_timeout", c.ReadTimeout),
		validate.Positive("write_timeout", c.WriteTimeout),
		validate.Positive("tcp_idle_timeout", c.TCPIdleTimeout),
		validate.Positive("handle_timeout", c.HandleTimeout),
		validate.Positive("refresh_interval", c.RefreshInterval),
		validate.Positive("port", c.Port),
	}

	if !c.ListenAddr.IsValid() {
		errs = append(errs, fmt.Errorf("listen_addr: %w", errors.ErrNoValue))
	}

	errs = validate.Append(errs, "doh", c.DoH)

	return errors.Join(errs...)
}

// dohConfig is the DNS-over-HTTPS listener configuration.  The DNS-over-TLS
// listener does not appear here, because it is driven by the runtime
// settings.
type dohConfig struct {
	// Addr is the address of the DNS-over-HTTPS listener.
	Addr string `yaml:"addr"`

	// CertPath is the path to the TLS certificate in the PEM format.
	CertPath string `yaml:"cert_path"`

	// KeyPath is the path to the TLS private key in the PEM format.
	KeyPath string `yaml:"key_path"`

	// Enabled shows if the DNS-over-HTTPS listener is started.  If it is
	// false, the rest of the settings are ignored.
	Enabled bool `yaml:"enabled"`
}

// type check
var _ validate.Interface = (*dohConfig)(nil)

// Validate implements the [validate.Interface] interface for *dohConfig.
func (c *dohConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	if !c.Enabled {
		return nil
	}

	return errors.Join(
		validate.NotEmpty("addr", c.Addr),
		validate.NotEmpty("cert_path", c.CertPath),
		validate.NotEmpty("key_path", c.KeyPath),
	)
}
