// Package forward implements a [dnsserver.Handler] that forwards DNS queries
// to upstream DNS servers and fails over between them based on their health.
//
// The easiest way to use it is to create a new handler using NewHandler and
// then use it in your DNS server:
//
//	ups, err := forward.ParseUpstreamList("8.8.8.8, tls://1.1.1.1", 5*time.Second)
//	check(err)
//
//	conf.Handler = forward.NewHandler(&forward.HandlerConfig{
//	    Upstreams: ups,
//	})
//	srv := dnsserver.NewServerDNS(conf)
//	err = srv.Start(context.Background())
//
// That's it, you now have a working DNS forwarder.
package forward

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/mathutil/randutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/amberdns/amberdns/internal/dnsserver"
	"github.com/miekg/dns"
)

// HandlerConfig is the configuration structure for [NewHandler].
type HandlerConfig struct {
	// Logger is used for logging the operation of the forwarding handler.  If
	// Logger is nil, [slog.Default] is used.
	Logger *slog.Logger

	// MetricsListener is the optional listener for the handler events.  Set it
	// if you want to keep track of what the handler does and record performance
	// metrics.  If not set, EmptyMetricsListener is used.
	MetricsListener MetricsListener

	// Clock is used to judge upstream cooldowns.  If nil,
	// [timeutil.SystemClock] is used.
	Clock timeutil.Clock

	// RandSource is used for generating random healthcheck domains and other
	// non-sensitive tasks.  If it is nil, [rand.ChaCha8] is used.
	RandSource rand.Source

	// Healthcheck is the handler's health checking configuration.  Nil
	// healthcheck is treated as disabled.
	Healthcheck *HealthcheckConfig

	// Upstreams is the list of the default upstreams.  Their order defines the
	// configuration order used for tie-breaking upstream selection.  It must
	// not be empty, and items must not be nil.
	Upstreams []Upstream

	// Routes are the optional conditional forwarding rules.  Queries for
	// domains within a rule's suffix are forwarded to the rule's own upstreams
	// instead of the default ones.
	Routes []*Route
}

// Route is a conditional forwarding rule: queries for domains within
// DomainSuffix go to Upstreams instead of the handler's default upstreams.
type Route struct {
	// DomainSuffix is the domain whose subtree the rule covers, e.g.
	// "corp.example.com".
	DomainSuffix string

	// Upstreams is the list of upstreams for this rule.  It must not be empty,
	// and items must not be nil.
	Upstreams []Upstream

	// Priority breaks ties between rules with equally long suffixes, the
	// higher the better.
	Priority int

	// Enabled shows if the rule is used.  Disabled rules are skipped entirely.
	Enabled bool
}

// HealthcheckConfig is the configuration for the [Handler]'s healthcheck.
type HealthcheckConfig struct {
	// DomainTemplate is the template for domains used to perform healthcheck
	// queries.  If it contains the substring "${RANDOM}", all its occurrences
	// are replaced with a random string on every healthcheck query.  Queries
	// to the resulting domains must return a NOERROR response.
	DomainTemplate string

	// NetworkOverride is the network used for healthcheck queries.  If not
	// empty, it overrides the network type of the upstream for healthcheck
	// queries.
	NetworkOverride Network

	// InitDuration is the time duration for initial upstream healthcheck.  The
	// initial healthcheck is performed only if it's positive.
	InitDuration time.Duration

	// Enabled enables healthcheck, if true.
	Enabled bool
}

// Handler is a struct that implements [dnsserver.Handler] and forwards DNS
// queries to the specified upstreams.  It also implements [io.Closer], allowing
// resource reuse.
type Handler struct {
	// logger is used for logging the operation of the forwarding handler.
	logger *slog.Logger

	// metrics is a listener for the handler events.
	metrics MetricsListener

	// rand is a random-number generator that is not cryptographically secure
	// and is used for generating random healthcheck domains and other
	// non-sensitive tasks.
	rand *rand.Rand

	// defaultPool is the pool of the default upstreams.
	defaultPool *Pool

	// routes are the enabled conditional forwarding rules with their own
	// upstream pools.
	routes []*handlerRoute

	// hcDomainTmpl is the template for domains used to perform healthcheck
	// requests.
	hcDomainTmpl string

	// hcNetworkOverride is the enforced network type used for healthcheck
	// queries, if not empty.
	hcNetworkOverride Network

	// hcEnabled shows if the healthcheck is enabled.
	hcEnabled bool
}

// handlerRoute is a conditional forwarding rule prepared for matching.
type handlerRoute struct {
	pool *Pool

	// suffix is the lowercased FQDN form of the rule's domain suffix.
	suffix string

	priority int
}

// matches returns true if name, which must be a lowercased FQDN, is within the
// route's domain suffix.
func (r *handlerRoute) matches(name string) (ok bool) {
	return name == r.suffix || strings.HasSuffix(name, "."+r.suffix)
}

// ErrNoResponse is returned from Handler's methods when the desired response
// isn't received and no incidental errors occurred.  In theory, this must not
// happen, but we prefer to return an error instead of panicking.
const ErrNoResponse errors.Error = "no response"

// NewHandler initializes a new instance of Handler.  It also performs an
// initial health check afterwards if c.Healthcheck.InitDuration is positive.
// c must not be nil.
func NewHandler(c *HandlerConfig) (h *Handler) {
	src := c.RandSource
	if src == nil {
		// Do not initialize through [cmp.Or], as the default value could panic.
		src = rand.NewChaCha8(randutil.MustNewSeed())
	}

	hcConf := c.Healthcheck
	if hcConf == nil {
		hcConf = &HealthcheckConfig{}
	}

	h = &Handler{
		logger: cmp.Or(c.Logger, slog.Default()),
		// #nosec G404 -- We don't need a real random, pseudorandom is enough.
		rand: rand.New(randutil.NewLockedSource(src)),
	}

	if l := c.MetricsListener; l != nil {
		h.metrics = l
	} else {
		h.metrics = &EmptyMetricsListener{}
	}

	if hcConf.Enabled {
		h.hcEnabled = true
		h.hcDomainTmpl = hcConf.DomainTemplate
		h.hcNetworkOverride = hcConf.NetworkOverride
	}

	h.defaultPool = NewPool(&PoolConfig{
		Logger:          h.logger,
		MetricsListener: h.metrics,
		Clock:           c.Clock,
		Upstreams:       c.Upstreams,
	})

	for _, r := range c.Routes {
		if !r.Enabled {
			continue
		}

		h.routes = append(h.routes, &handlerRoute{
			pool: NewPool(&PoolConfig{
				Logger:          h.logger,
				MetricsListener: h.metrics,
				Clock:           c.Clock,
				Upstreams:       r.Upstreams,
			}),
			suffix:   strings.ToLower(dns.Fqdn(r.DomainSuffix)),
			priority: r.Priority,
		})
	}

	if h.hcEnabled && hcConf.InitDuration > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), hcConf.InitDuration)
		defer cancel()

		// Ignore the error since it's considered non-critical and also should
		// have been logged already.
		_ = h.refresh(ctx)
	}

	return h
}

// type check
var _ io.Closer = (*Handler)(nil)

// Close implements the [io.Closer] interface for *Handler.
func (h *Handler) Close() (err error) {
	errs := []error{h.defaultPool.Close()}
	for _, r := range h.routes {
		errs = append(errs, r.pool.Close())
	}

	err = errors.Join(errs...)
	if err != nil {
		return fmt.Errorf("closing forward handler: %w", err)
	}

	return nil
}

// type check
var _ dnsserver.Handler = (*Handler)(nil)

// ServeDNS implements the [dnsserver.Handler] interface for *Handler.
func (h *Handler) ServeDNS(
	ctx context.Context,
	rw dnsserver.ResponseWriter,
	req *dns.Msg,
) (err error) {
	p := h.poolForReq(ctx, req)

	resp, _, err := p.Exchange(ctx, req)
	if err != nil {
		return fmt.Errorf("forwarding: %w", err)
	}

	err = rw.WriteMsg(ctx, req, resp)
	if err != nil {
		return fmt.Errorf("writing response: %w", err)
	}

	return nil
}

// poolForReq returns the pool that should serve the request: the one from the
// context, if the caller has put one there, otherwise the pool of the best
// matching conditional forwarding rule, and the default pool if neither
// exists.
func (h *Handler) poolForReq(ctx context.Context, req *dns.Msg) (p *Pool) {
	if ctxPool, ok := poolFromContext(ctx); ok {
		return ctxPool
	}

	if len(h.routes) > 0 && len(req.Question) > 0 {
		if r := h.routeForName(strings.ToLower(req.Question[0].Name)); r != nil {
			return r.pool
		}
	}

	return h.defaultPool
}

// routeForName returns the best conditional forwarding rule for name, which
// must be a lowercased FQDN: the one with the longest matching suffix, ties
// broken by the higher priority.  It returns nil if no rule matches.
func (h *Handler) routeForName(name string) (best *handlerRoute) {
	for _, r := range h.routes {
		if !r.matches(name) {
			continue
		}

		if best == nil ||
			len(r.suffix) > len(best.suffix) ||
			(len(r.suffix) == len(best.suffix) && r.priority > best.priority) {
			best = r
		}
	}

	return best
}

// pools returns all the handler's pools, the default one first.
func (h *Handler) pools() (pools []*Pool) {
	pools = append(pools, h.defaultPool)
	for _, r := range h.routes {
		pools = append(pools, r.pool)
	}

	return pools
}

// type check
var _ service.Refresher = (*Handler)(nil)

// Refresh implements the [service.Refresher] interface for *Handler.  It
// probes every upstream of every pool and updates their health states, so that
// upstreams gone down are detected before queries hit them, and upstreams gone
// back up are returned into rotation.
func (h *Handler) Refresh(ctx context.Context) (err error) {
	h.logger.Log(ctx, slogutil.LevelTrace, "healthcheck refresh started")
	defer h.logger.Log(ctx, slogutil.LevelTrace, "healthcheck refresh finished")

	return h.refresh(ctx)
}
