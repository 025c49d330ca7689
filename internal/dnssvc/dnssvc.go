// Package dnssvc contains the AmberDNS query pipeline: the chain of
// middlewares that turns the raw server handler into the full resolver, from
// request-information bookkeeping through query logging, authoritative zones,
// policy filtering, and the answer cache, down to the forwarding handler.
//
// The rate-limiting middleware from [ratelimit] is wired outside of this
// package, around the handler this package builds, since it must run before
// anything else spends work on the query.
package dnssvc

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/amberdns/amberdns/internal/adns"
	"github.com/amberdns/amberdns/internal/dnscache"
	"github.com/amberdns/amberdns/internal/dnsmsg"
	"github.com/amberdns/amberdns/internal/dnsserver"
	"github.com/amberdns/amberdns/internal/dnsserver/forward"
	"github.com/amberdns/amberdns/internal/errcoll"
	"github.com/amberdns/amberdns/internal/policy"
	"github.com/amberdns/amberdns/internal/querylog"
	"github.com/amberdns/amberdns/internal/zone"
	"github.com/miekg/dns"
)

// DefaultTimeout is the default per-request budget.
const DefaultTimeout = 5 * time.Second

// Store is the part of the configuration store the service needs: the dynamic
// settings and the per-client configurations.
type Store interface {
	Settings(ctx context.Context) (s *adns.Settings, err error)
	Clients(ctx context.Context) (clients []*adns.ClientConf, err error)
}

// Config is the configuration of the DNS service.
type Config struct {
	// Logger is used for logging the operation of the service.  It must not
	// be nil.
	Logger *slog.Logger

	// Messages is the constructor for the responses the pipeline synthesizes
	// itself.  It must not be nil.
	Messages *dnsmsg.Constructor

	// ErrColl collects the errors considered non-critical.  It must not be
	// nil.
	ErrColl errcoll.Interface

	// Store is the configuration store.  It must not be nil.
	Store Store

	// Policy is the policy engine deciding block and allow verdicts.  It must
	// not be nil.
	Policy *policy.Engine

	// Zones is the authoritative zone manager.  It must not be nil.
	Zones *zone.Manager

	// Cache is the answer cache.  If nil, caching is disabled entirely.
	Cache *dnscache.Cache

	// QueryLog is where completed queries are recorded.  It must not be nil;
	// use [querylog.Empty] to disable logging.
	QueryLog querylog.Interface

	// Forward is the innermost handler resolving queries upstream.  It must
	// not be nil.
	Forward dnsserver.Handler

	// Clock is used to time queries and cache operations.  If nil,
	// [timeutil.SystemClock] is used.
	Clock timeutil.Clock

	// Timeout is the per-request budget.  Zero means [DefaultTimeout].
	Timeout time.Duration

	// UpstreamTimeout is the timeout for one exchange with a client-override
	// upstream.  Zero means [DefaultTimeout].
	UpstreamTimeout time.Duration
}

// Service is the assembled DNS query pipeline.  It must be created with
// [New] and refreshed periodically so that per-client upstream overrides and
// settings toggles follow the store.
type Service struct {
	logger      *slog.Logger
	errColl     errcoll.Interface
	store       Store
	clock       timeutil.Clock
	handler     dnsserver.Handler
	clientPools atomic.Pointer[map[netip.Addr]*clientPool]
	privacy     atomic.Bool
	cacheOn     atomic.Bool
	upsTimeout  time.Duration
}

// clientPool is an upstream pool built from one client's override list.
type clientPool struct {
	pool *forward.Pool

	// spec is the canonical comma-joined upstream list the pool was built
	// from, used to reuse pools across refreshes.
	spec string
}

// New returns a new DNS service.  c must not be nil and must be valid.
func New(c *Config) (svc *Service) {
	clock := c.Clock
	if clock == nil {
		clock = timeutil.SystemClock{}
	}

	svc = &Service{
		logger:     c.Logger,
		errColl:    c.ErrColl,
		store:      c.Store,
		clock:      clock,
		upsTimeout: cmp.Or(c.UpstreamTimeout, DefaultTimeout),
	}

	svc.cacheOn.Store(true)

	svc.handler = dnsserver.WithMiddlewares(
		c.Forward,
		&initMw{
			messages: c.Messages,
			clock:    clock,
			timeout:  cmp.Or(c.Timeout, DefaultTimeout),
		},
		&queryLogMw{
			logger:   c.Logger,
			errColl:  c.ErrColl,
			queryLog: c.QueryLog,
			clock:    clock,
			privacy:  &svc.privacy,
		},
		&zonesMw{
			messages: c.Messages,
			errColl:  c.ErrColl,
			logger:   c.Logger,
			zones:    c.Zones,
		},
		&policyMw{
			logger: c.Logger,
			policy: c.Policy,
		},
		&cacheMw{
			logger:  c.Logger,
			errColl: c.ErrColl,
			cache:   c.Cache,
			clock:   clock,
			enabled: &svc.cacheOn,
		},
		&clientPoolMw{
			pools: &svc.clientPools,
		},
	)

	return svc
}

// Handler returns the composed pipeline handler to attach to the servers.
func (svc *Service) Handler() (h dnsserver.Handler) {
	return svc.handler
}

// type check
var _ service.Refresher = (*Service)(nil)

// Refresh implements the [service.Refresher] interface for *Service.  It
// re-reads the settings toggles and rebuilds the per-client upstream pools,
// reusing the pools whose upstream lists have not changed.
func (svc *Service) Refresh(ctx context.Context) (err error) {
	defer func() { err = errors.Annotate(err, "refreshing dns service: %w") }()

	sett, err := svc.store.Settings(ctx)
	if err != nil {
		return fmt.Errorf("reading settings: %w", err)
	}

	svc.privacy.Store(sett.PrivacyMode)
	svc.cacheOn.Store(sett.CacheEnabled)

	clients, err := svc.store.Clients(ctx)
	if err != nil {
		return fmt.Errorf("reading clients: %w", err)
	}

	prev := svc.clientPools.Load()
	next := map[netip.Addr]*clientPool{}
	for _, cli := range clients {
		if len(cli.Upstreams) == 0 {
			continue
		}

		spec := strings.Join(cli.Upstreams, ",")
		if prev != nil {
			if cp, ok := (*prev)[cli.Addr]; ok && cp.spec == spec {
				next[cli.Addr] = cp

				continue
			}
		}

		cp, poolErr := svc.newClientPool(spec)
		if poolErr != nil {
			errcoll.Collect(
				ctx,
				svc.errColl,
				svc.logger,
				fmt.Sprintf("building upstream pool for client %s", cli.Addr),
				poolErr,
			)

			continue
		}

		next[cli.Addr] = cp
	}

	svc.clientPools.Store(&next)

	// Queries in flight on a replaced pool lose their connections and fail
	// over to the default upstreams on the client's retry.
	if prev != nil {
		for addr, cp := range *prev {
			if next[addr] != cp {
				_ = cp.pool.Close()
			}
		}
	}

	return nil
}

// newClientPool builds an upstream pool from a comma-joined upstream list.
func (svc *Service) newClientPool(spec string) (cp *clientPool, err error) {
	ups, err := forward.ParseUpstreamList(spec, svc.upsTimeout)
	if err != nil {
		return nil, err
	}

	return &clientPool{
		pool: forward.NewPool(&forward.PoolConfig{
			Logger:    svc.logger,
			Clock:     svc.clock,
			Upstreams: ups,
		}),
		spec: spec,
	}, nil
}

// Close closes the per-client upstream pools.  The forwarding handler is
// owned by the caller and is not closed here.
func (svc *Service) Close() (err error) {
	pools := svc.clientPools.Load()
	if pools == nil {
		return nil
	}

	var errs []error
	for _, cp := range *pools {
		errs = append(errs, cp.pool.Close())
	}

	err = errors.Join(errs...)
	if err != nil {
		return fmt.Errorf("closing client pools: %w", err)
	}

	return nil
}

// clientPoolMw routes queries of clients with upstream overrides to their own
// pools by putting the pool into the context for the forwarding handler.
type clientPoolMw struct {
	pools *atomic.Pointer[map[netip.Addr]*clientPool]
}

// type check
var _ dnsserver.Middleware = (*clientPoolMw)(nil)

// Wrap implements the [dnsserver.Middleware] interface for *clientPoolMw.
func (mw *clientPoolMw) Wrap(h dnsserver.Handler) (wrapped dnsserver.Handler) {
	f := func(ctx context.Context, rw dnsserver.ResponseWriter, req *dns.Msg) (err error) {
		pools := mw.pools.Load()
		if pools != nil {
			ri := adns.MustRequestInfoFromContext(ctx)
			if cp, ok := (*pools)[ri.RemoteIP]; ok {
				ctx = forward.ContextWithPool(ctx, cp.pool)
			}
		}

		return h.ServeDNS(ctx, rw, req)
	}

	return dnsserver.HandlerFunc(f)
}
