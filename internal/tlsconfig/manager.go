package tlsconfig

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/service"
	"github.com/amberdns/amberdns/internal/errcoll"
)

// ManagerConfig is the configuration structure for [Manager].
type ManagerConfig struct {
	// Logger is used for logging the operation of the TLS manager.
	Logger *slog.Logger

	// ErrColl is used to collect TLS-related errors.
	ErrColl errcoll.Interface

	// Metrics is used to collect TLS-related statistics.
	Metrics Metrics
}

// certEntry is a stored TLS certificate together with its file paths.
type certEntry struct {
	cert     *tls.Certificate
	certPath string
	keyPath  string
}

// Manager stores and updates the TLS certificates of the encrypted DNS
// listeners.  Certificates are reloaded from their files on [Manager.Refresh],
// so rotated certificates are picked up without a restart.
type Manager struct {
	logger  *slog.Logger
	errColl errcoll.Interface
	metrics Metrics

	// mu protects entries.
	mu      *sync.Mutex
	entries []*certEntry

	original *tls.Config
}

// NewManager returns a new properly initialized *Manager.
func NewManager(c *ManagerConfig) (m *Manager) {
	m = &Manager{
		logger:  c.Logger,
		errColl: c.ErrColl,
		metrics: c.Metrics,
		mu:      &sync.Mutex{},
	}

	m.original = &tls.Config{
		GetCertificate: m.getCertificate,
		MinVersion:     tls.VersionTLS12,
		MaxVersion:     tls.VersionTLS13,
	}

	return m
}

// Add loads a certificate from the provided paths and saves it.  certPath and
// keyPath must not be empty.  Adding the same pair of paths twice is a no-op.
func (m *Manager) Add(ctx context.Context, certPath, keyPath string) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ent := range m.entries {
		if ent.certPath == certPath && ent.keyPath == keyPath {
			m.logger.InfoContext(
				ctx,
				"skipping already added certificate",
				"cert", certPath,
				"key", keyPath,
			)

			return nil
		}
	}

	cert, err := m.load(ctx, certPath, keyPath)
	if err != nil {
		return fmt.Errorf("adding certificate: %w", err)
	}

	m.entries = append(m.entries, &certEntry{
		cert:     cert,
		certPath: certPath,
		keyPath:  keyPath,
	})

	m.logger.InfoContext(ctx, "added certificate", "cert", certPath, "key", keyPath)

	return nil
}

// load reads and parses one certificate.  c must not be modified.
func (m *Manager) load(ctx context.Context, certPath, keyPath string) (c *tls.Certificate, err error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("loading certificate: %w", err)
	}

	leaf := cert.Leaf
	m.metrics.SetCertificateInfo(
		ctx,
		leaf.PublicKeyAlgorithm.String(),
		leaf.Subject.String(),
		leaf.NotAfter,
	)

	return &cert, nil
}

// Count returns the number of saved certificates.
func (m *Manager) Count() (n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}

// Clone returns a TLS configuration that serves the saved certificates.  The
// clone keeps reflecting certificate refreshes.
func (m *Manager) Clone() (clone *tls.Config) {
	return m.original.Clone()
}

// getCertificate returns the TLS certificate for chi.  See
// [tls.Config.GetCertificate].  c must not be modified.
func (m *Manager) getCertificate(chi *tls.ClientHelloInfo) (c *tls.Certificate, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) == 0 {
		return nil, errors.Error("no certificates")
	}

	var errs []error
	for _, ent := range m.entries {
		err = chi.SupportsCertificate(ent.cert)
		if err == nil {
			return ent.cert, nil
		}

		errs = append(errs, err)
	}

	return nil, errors.Join(errs...)
}

// type check
var _ service.Refresher = (*Manager)(nil)

// Refresh implements the [service.Refresher] interface for *Manager.  It
// reloads all saved certificates from their files.
func (m *Manager) Refresh(ctx context.Context) (err error) {
	m.logger.DebugContext(ctx, "refresh started")
	defer m.logger.DebugContext(ctx, "refresh finished")

	defer func() {
		if err != nil {
			errcoll.Collect(ctx, m.errColl, m.logger, "certificate refresh failed", err)
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, ent := range m.entries {
		cert, loadErr := m.load(ctx, ent.certPath, ent.keyPath)
		if loadErr != nil {
			errs = append(errs, loadErr)

			continue
		}

		ent.cert = cert

		m.logger.InfoContext(
			ctx,
			"refreshed certificate",
			"cert", ent.certPath,
			"key", ent.keyPath,
		)
	}

	err = errors.Join(errs...)
	if err != nil {
		return fmt.Errorf("refreshing tls certificates: %w", err)
	}

	return nil
}
