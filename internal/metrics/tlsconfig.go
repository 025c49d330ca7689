package metrics

import (
	"context"
	"time"

	"github.com/amberdns/amberdns/internal/tlsconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TLSConfig is the prometheus implementation of the [tlsconfig.Metrics]
// interface.
type TLSConfig struct {
	certInfo   *prometheus.GaugeVec
	certExpiry *prometheus.GaugeVec
}

// NewTLSConfig registers the TLS certificate metrics and returns a properly
// initialized *TLSConfig.
func NewTLSConfig() (m *TLSConfig) {
	return &TLSConfig{
		certInfo: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name:      "cert_info",
			Namespace: namespace,
			Subsystem: subsystemTLS,
			Help:      "The information about the loaded certificates.",
		}, []string{"auth_algo", "subject"}),
		certExpiry: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name:      "cert_expires_at_seconds",
			Namespace: namespace,
			Subsystem: subsystemTLS,
			Help:      "The certificate expiration time, as a UNIX timestamp.",
		}, []string{"subject"}),
	}
}

// type check
var _ tlsconfig.Metrics = (*TLSConfig)(nil)

// SetCertificateInfo implements the [tlsconfig.Metrics] interface for
// *TLSConfig.
func (m *TLSConfig) SetCertificateInfo(_ context.Context, algo, subject string, notAfter time.Time) {
	m.certInfo.WithLabelValues(algo, subject).Set(1)
	m.certExpiry.WithLabelValues(subject).Set(float64(notAfter.Unix()))
}
