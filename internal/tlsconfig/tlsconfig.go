// Package tlsconfig provides loading and refreshing of the TLS certificates
// used by the DoT and DoH listeners.
package tlsconfig

import (
	"context"
	"time"
)

// Metrics is an interface that is used for the collection of the TLS
// certificate statistics.
type Metrics interface {
	// SetCertificateInfo sets the information about the certificate.
	SetCertificateInfo(ctx context.Context, algo, subject string, notAfter time.Time)
}

// EmptyMetrics is the implementation of the [Metrics] interface that does
// nothing.
type EmptyMetrics struct{}

// type check
var _ Metrics = EmptyMetrics{}

// SetCertificateInfo implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) SetCertificateInfo(_ context.Context, _, _ string, _ time.Time) {}
