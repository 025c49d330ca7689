package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/contextutil"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/netutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/AdguardTeam/golibs/redisutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/amberdns/amberdns/internal/adns"
	"github.com/amberdns/amberdns/internal/adnscache"
	"github.com/amberdns/amberdns/internal/configstore"
	"github.com/amberdns/amberdns/internal/debugsvc"
	"github.com/amberdns/amberdns/internal/dnscache"
	"github.com/amberdns/amberdns/internal/dnsmsg"
	"github.com/amberdns/amberdns/internal/dnsserver"
	"github.com/amberdns/amberdns/internal/dnsserver/forward"
	dnssvcprom "github.com/amberdns/amberdns/internal/dnsserver/prometheus"
	"github.com/amberdns/amberdns/internal/dnsserver/ratelimit"
	"github.com/amberdns/amberdns/internal/dnssvc"
	"github.com/amberdns/amberdns/internal/errcoll"
	"github.com/amberdns/amberdns/internal/filter"
	"github.com/amberdns/amberdns/internal/metrics"
	"github.com/amberdns/amberdns/internal/policy"
	"github.com/amberdns/amberdns/internal/querylog"
	"github.com/amberdns/amberdns/internal/remotekv"
	"github.com/amberdns/amberdns/internal/remotekv/filekv"
	"github.com/amberdns/amberdns/internal/remotekv/rediskv"
	"github.com/amberdns/amberdns/internal/tlsconfig"
	"github.com/amberdns/amberdns/internal/tsig"
	"github.com/amberdns/amberdns/internal/zone"
	"github.com/miekg/dns"
)

// Constants that define debug identifiers for the debug HTTP service.
const (
	debugIDCacheSnapshot = "cache_snapshot"
	debugIDDNSSvc        = "dnssvc"
	debugIDFilters       = "filters"
	debugIDPolicy        = "policy"
	debugIDPrefetch      = "prefetch"
	debugIDQueryCleaner  = "querylog_cleaner"
	debugIDTLSConfig     = "tlsconfig"
	debugIDTSIG          = "tsig"
	debugIDUpstream      = "upstream"
	debugIDZones         = "zones"
)

// shutdownTimeout is the default shutdown timeout for all services.
const shutdownTimeout = 5 * time.Second

// filteredResponseTTL is the TTL of the synthesized answers for blocked
// questions.
const filteredResponseTTL = 60 * time.Second

// policyCacheSize is the size of the policy engine's decision cache.
const policyCacheSize = 8192

// snapshotTTL is how long a cache snapshot stays valid in its storage.  A
// snapshot older than this is discarded instead of being loaded on startup.
const snapshotTTL = 24 * time.Hour

// builder contains the logic of configuring and combining together the
// AmberDNS entities.
//
// NOTE:  Keep method definitions in the rough order in which they are
// intended to be called.
type builder struct {
	// The fields below are initialized immediately on construction.  Keep
	// them sorted.

	baseLogger  *slog.Logger
	cacheMgr    *adnscache.DefaultManager
	conf        *configuration
	debugRefrs  debugsvc.Refreshers
	env         *environment
	errColl     errcoll.Interface
	logger      *slog.Logger
	sigHdlr     *service.SignalHandler
	userCounter *metrics.UserCounter

	// The fields below are initialized later by calling the builder's
	// methods.  Keep them sorted.

	cache         *dnscache.Cache
	dnsSvc        *dnssvc.Service
	filterStorage *filter.Storage
	fwdHandler    *forward.Handler
	messages      *dnsmsg.Constructor
	policy        *policy.Engine
	queryBcast    *querylog.Broadcaster
	queryLog      querylog.Interface
	rateLimitMw   *ratelimit.Middleware
	settings      *adns.Settings
	store         *configstore.SQLite
	storeLog      *querylog.StoreLog
	tlsManager    *tlsconfig.Manager
	tracker       *debugsvc.Tracker
	tsigMgr       *tsig.Manager
	zoneMgr       *zone.Manager

	// dotReady shows that the DNS-over-TLS certificate has been loaded and
	// the listener may start.
	dotReady bool
}

// builderConfig contains the initial configuration for the builder.
type builderConfig struct {
	// envs contains the environment variables for the builder.  It must be
	// valid and must not be nil.
	envs *environment

	// conf contains the configuration from the configuration file for the
	// builder.  It must be valid and must not be nil.
	conf *configuration

	// baseLogger is used to create loggers for other entities.  It should
	// not have a prefix and must not be nil.
	baseLogger *slog.Logger

	// errColl is used to collect errors in the entities.  It must not be
	// nil.
	errColl errcoll.Interface
}

// newBuilder returns a new properly initialized builder.  c must not be nil.
func newBuilder(c *builderConfig) (b *builder) {
	return &builder{
		baseLogger:  c.baseLogger,
		cacheMgr:    adnscache.NewDefaultManager(),
		conf:        c.conf,
		debugRefrs:  debugsvc.Refreshers{},
		env:         c.envs,
		errColl:     c.errColl,
		logger:      c.baseLogger.With(slogutil.KeyPrefix, "builder"),
		userCounter: metrics.NewUserCounter(),
		sigHdlr: service.NewSignalHandler(&service.SignalHandlerConfig{
			Logger:          c.baseLogger.With(slogutil.KeyPrefix, service.SignalHandlerPrefix),
			ShutdownTimeout: shutdownTimeout,
		}),
	}
}

// newSlogErrorHandler is a convenient wrapper around
// [service.NewSlogErrorHandler].
func newSlogErrorHandler(baseLogger *slog.Logger, prefix string) (h *service.SlogErrorHandler) {
	return service.NewSlogErrorHandler(
		baseLogger.With(slogutil.KeyPrefix, prefix),
		slog.LevelError,
		"refreshing",
	)
}

// closerService adapts an [io.Closer] to [service.Interface] so that it is
// closed on shutdown.
type closerService struct {
	closer io.Closer
}

// type check
var _ service.Interface = closerService{}

// Start implements the [service.Interface] interface for closerService.
func (s closerService) Start(_ context.Context) (err error) { return nil }

// Shutdown implements the [service.Interface] interface for closerService.
func (s closerService) Shutdown(_ context.Context) (err error) { return s.closer.Close() }

// refresherConfig describes one background refresher run by the builder.
type refresherConfig struct {
	// refr is the entity being refreshed.  It is also registered in the
	// debug refreshers under id.
	refr service.Refresher

	// id is the debug identifier of the refresher.
	id debugsvc.RefresherID

	// ivl is the refresh interval.
	ivl time.Duration

	// timeout is the timeout of a single refresh.
	timeout time.Duration

	// refrOnShutdown makes the worker perform one last refresh during
	// shutdown.
	refrOnShutdown bool
}

// startRefresher starts a background refresh worker and registers it both for
// shutdown and in the debug refreshers.  c must not be nil.
func (b *builder) startRefresher(ctx context.Context, c *refresherConfig) (err error) {
	refr := service.NewRefreshWorker(&service.RefreshWorkerConfig{
		ContextConstructor: contextutil.NewTimeoutConstructor(c.timeout),
		ErrorHandler:       newSlogErrorHandler(b.baseLogger, c.id+"_refresh"),
		Refresher:          c.refr,
		Schedule:           timeutil.NewConstSchedule(c.ivl),
		RefreshOnShutdown:  c.refrOnShutdown,
	})

	err = refr.Start(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("starting %s refresher: %w", c.id, err)
	}

	b.sigHdlr.AddService(refr)
	b.debugRefrs[c.id] = c.refr

	return nil
}

// initStore opens the configuration store and reads the initial settings
// snapshot used to size the caches and the rate limiter.
func (b *builder) initStore(ctx context.Context) (err error) {
	b.store, err = configstore.NewSQLite(ctx, &configstore.SQLiteConfig{
		Logger: b.baseLogger.With(slogutil.KeyPrefix, "configstore"),
		Path:   b.env.DBPath,
	})
	if err != nil {
		return fmt.Errorf("opening configuration store: %w", err)
	}

	b.sigHdlr.AddService(closerService{closer: b.store})

	b.settings, err = b.store.Settings(ctx)
	if err != nil {
		return fmt.Errorf("reading initial settings: %w", err)
	}

	b.logger.DebugContext(ctx, "initialized store", "db_path", b.env.DBPath)

	return nil
}

// initMessages initializes the DNS message constructor.
//
// [builder.initStore] must be called before this method.
func (b *builder) initMessages(ctx context.Context) (err error) {
	// The blocking mode here is only the constructor default; the policy
	// engine picks the actual mode for each blocked question from the
	// current settings.
	b.messages, err = dnsmsg.NewConstructor(&dnsmsg.ConstructorConfig{
		Cloner:              dnsmsg.NewCloner(dnsmsg.EmptyClonerStat{}),
		BlockingMode:        &dnsmsg.BlockingModeNXDOMAIN{},
		FilteredResponseTTL: filteredResponseTTL,
	})
	if err != nil {
		return fmt.Errorf("initializing messages: %w", err)
	}

	b.logger.DebugContext(ctx, "initialized messages")

	return nil
}

// initFilterStorage initializes the adlist storage and its refresher.
func (b *builder) initFilterStorage(ctx context.Context) (err error) {
	c := b.conf.Filters
	b.filterStorage = filter.NewStorage(&filter.StorageConfig{
		Logger:         b.baseLogger.With(slogutil.KeyPrefix, "filters"),
		Store:          b.store,
		ErrColl:        b.errColl,
		Metrics:        metrics.NewFilter(),
		CacheDir:       b.env.FilterCachePath,
		Staleness:      time.Duration(c.Staleness),
		RefreshTimeout: time.Duration(c.RefreshTimeout),
		MaxSize:        c.MaxSize,
	})

	// Use the initial refresh here, so that a download failure on startup
	// falls back to the cached adlist files instead of preventing the server
	// from starting at all.
	err = b.filterStorage.RefreshInitial(ctx)
	if err != nil {
		return fmt.Errorf("initializing filters: initial refresh: %w", err)
	}

	err = b.startRefresher(ctx, &refresherConfig{
		refr:    b.filterStorage,
		id:      debugIDFilters,
		ivl:     time.Duration(c.RefreshIvl),
		timeout: time.Duration(c.RefreshTimeout),
	})
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	b.logger.DebugContext(ctx, "initialized filter storage")

	return nil
}

// initPolicy initializes the policy engine and its refresher.
//
// [builder.initFilterStorage] must be called before this method.
func (b *builder) initPolicy(ctx context.Context) (err error) {
	b.policy = policy.NewEngine(&policy.Config{
		Logger:    b.baseLogger.With(slogutil.KeyPrefix, "policy"),
		Store:     b.store,
		Filter:    b.filterStorage,
		ErrColl:   b.errColl,
		CacheSize: policyCacheSize,
	})
	b.cacheMgr.Add(debugsvc.CacheIDPolicyDecisions, b.policy)

	err = b.policy.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("initializing policy: initial refresh: %w", err)
	}

	err = b.startRefresher(ctx, &refresherConfig{
		refr:    b.policy,
		id:      debugIDPolicy,
		ivl:     time.Duration(b.conf.DNS.RefreshInterval),
		timeout: shutdownTimeout,
	})
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	b.logger.DebugContext(ctx, "initialized policy")

	return nil
}

// initTSIG initializes the TSIG key manager and its refresher.
func (b *builder) initTSIG(ctx context.Context) (err error) {
	b.tsigMgr = tsig.NewManager(&tsig.ManagerConfig{
		Logger: b.baseLogger.With(slogutil.KeyPrefix, "tsig"),
		Store:  b.store,
	})

	err = b.tsigMgr.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("initializing tsig: initial refresh: %w", err)
	}

	err = b.startRefresher(ctx, &refresherConfig{
		refr:    b.tsigMgr,
		id:      debugIDTSIG,
		ivl:     time.Duration(b.conf.DNS.RefreshInterval),
		timeout: shutdownTimeout,
	})
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	b.logger.DebugContext(ctx, "initialized tsig")

	return nil
}

// initZones initializes the authoritative zone manager and its refresher.
//
// [builder.initTSIG] must be called before this method.
func (b *builder) initZones(ctx context.Context) (err error) {
	b.zoneMgr = zone.NewManager(&zone.ManagerConfig{
		Logger:  b.baseLogger.With(slogutil.KeyPrefix, "zones"),
		ErrColl: b.errColl,
		Store:   b.store,
		Locals:  b.store,
		TSIG:    b.tsigMgr,
		Strict:  b.env.isProduction(),
	})

	err = b.zoneMgr.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("initializing zones: initial refresh: %w", err)
	}

	err = b.startRefresher(ctx, &refresherConfig{
		refr:    b.zoneMgr,
		id:      debugIDZones,
		ivl:     time.Duration(b.conf.DNS.RefreshInterval),
		timeout: shutdownTimeout,
	})
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	b.logger.DebugContext(ctx, "initialized zones")

	return nil
}

// initQueryLog initializes the query log pipeline: the store sink, the
// optional file sink, the event broadcaster, the asynchronous queue in front
// of them, and the retention cleaner.
func (b *builder) initQueryLog(ctx context.Context) (err error) {
	c := b.conf.QueryLog
	mtrc := metrics.NewQueryLog()

	b.storeLog = querylog.NewStoreLog(&querylog.StoreLogConfig{
		Metrics: mtrc,
		Store:   b.store,
	})

	logs := []querylog.Interface{b.storeLog}
	if c.File.Enabled {
		logs = append(logs, querylog.NewFileSystem(&querylog.FileSystemConfig{
			Logger:  b.baseLogger.With(slogutil.KeyPrefix, "querylog_fs"),
			Metrics: mtrc,
			Path:    b.env.QueryLogPath,
		}))
	}

	b.queryBcast = querylog.NewBroadcaster(c.QueueSize)
	logs = append(logs, b.queryBcast)

	queue := querylog.NewQueue(&querylog.QueueConfig{
		Logger:  b.baseLogger.With(slogutil.KeyPrefix, "querylog_queue"),
		ErrColl: b.errColl,
		Metrics: mtrc,
		Log:     querylog.NewMulti(logs...),
		Size:    c.QueueSize,
	})

	err = queue.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting query log queue: %w", err)
	}

	b.sigHdlr.AddService(queue)
	b.queryLog = queue

	cleaner := querylog.NewCleaner(&querylog.CleanerConfig{
		Logger:    b.baseLogger.With(slogutil.KeyPrefix, "querylog_cleaner"),
		Store:     b.store,
		Retention: time.Duration(b.settings.QueryRetentionDays) * timeutil.Day,
	})

	err = b.startRefresher(ctx, &refresherConfig{
		refr:    cleaner,
		id:      debugIDQueryCleaner,
		ivl:     time.Duration(c.CleanupIvl),
		timeout: time.Minute,
	})
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	b.logger.DebugContext(ctx, "initialized query log")

	return nil
}

// initCache initializes the DNS answer cache and its snapshotter.  The cache
// is sized from the settings read at startup; changing the cache size
// requires a restart.
func (b *builder) initCache(ctx context.Context) (err error) {
	sett := b.settings
	if !sett.CacheEnabled {
		b.logger.DebugContext(ctx, "cache disabled")

		return nil
	}

	c := b.conf.Cache
	b.cache = dnscache.New(&dnscache.Config{
		Metrics:         metrics.NewDNSCache(),
		Count:           sett.CacheSize,
		MinTTL:          time.Duration(c.MinTTL),
		MaxTTL:          time.Duration(c.MaxTTL),
		NegMaxTTL:       time.Duration(c.NegMaxTTL),
		StaleMaxAge:     sett.ServeStaleMaxAge,
		ServeStale:      sett.ServeStaleEnabled,
		PrefetchEnabled: sett.PrefetchEnabled,
	})
	b.cacheMgr.Add(debugsvc.CacheIDDNS, b.cache)

	kv, err := b.newSnapshotKV()
	if err != nil {
		return fmt.Errorf("initializing cache: %w", err)
	}

	snapshotter := dnscache.NewSnapshotter(&dnscache.SnapshotterConfig{
		Logger: b.baseLogger.With(slogutil.KeyPrefix, "cache_snapshot"),
		Cache:  b.cache,
		KV:     kv,
	})

	err = snapshotter.Load(ctx)
	if err != nil {
		// A bad or missing snapshot only means a cold cache.
		errcoll.Collect(ctx, b.errColl, b.logger, "loading cache snapshot", err)
	}

	err = b.startRefresher(ctx, &refresherConfig{
		refr:           snapshotter,
		id:             debugIDCacheSnapshot,
		ivl:            time.Duration(c.SnapshotInterval),
		timeout:        time.Minute,
		refrOnShutdown: true,
	})
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	b.logger.DebugContext(ctx, "initialized cache", "count", sett.CacheSize)

	return nil
}

// newSnapshotKV builds the key-value storage the cache snapshot is persisted
// to: Redis when AMBERDNS_REDIS_ADDR is set, the snapshot file otherwise.
func (b *builder) newSnapshotKV() (kv remotekv.Interface, err error) {
	if b.env.RedisAddr == "" {
		return remotekv.NewMeasured(&remotekv.MeasuredConfig{
			Metrics: metrics.NewRemoteKV("file"),
			KV:      filekv.NewFileKV(&filekv.FileKVConfig{Path: b.env.CacheSnapshotPath}),
		}), nil
	}

	host, port, err := netutil.SplitHostPort(b.env.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("redis address: %w", err)
	}

	dialer, err := redisutil.NewDefaultDialer(&redisutil.DefaultDialerConfig{
		Addr: &netutil.HostPort{
			Host: host,
			Port: port,
		},
		DBIndex: uint8(b.env.RedisDBIndex),
	})
	if err != nil {
		return nil, fmt.Errorf("redis dialer: %w", err)
	}

	pool, err := redisutil.NewDefaultPool(&redisutil.DefaultPoolConfig{
		Logger:          b.baseLogger.With(slogutil.KeyPrefix, "redis"),
		Dialer:          dialer,
		MaxConnLifetime: 10 * time.Minute,
		IdleTimeout:     5 * time.Minute,
		MaxActive:       10,
		MaxIdle:         3,
		Wait:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("redis pool: %w", err)
	}

	kv = rediskv.NewRedisKV(&rediskv.RedisKVConfig{
		Pool: pool,
		TTL:  snapshotTTL,
	})

	kv = remotekv.NewKeyNamespace(&remotekv.KeyNamespaceConfig{
		KV:     kv,
		Prefix: "amberdns:cache:",
	})

	return remotekv.NewMeasured(&remotekv.MeasuredConfig{
		Metrics: metrics.NewRemoteKV("redis"),
		KV:      kv,
	}), nil
}

// initForward initializes the forwarding handler with the default upstreams
// from the settings and the conditional routes from the store, and starts the
// upstream healthcheck if it is enabled.
func (b *builder) initForward(ctx context.Context) (err error) {
	upsTimeout := time.Duration(b.conf.Upstream.Timeout)

	ups, err := forward.ParseUpstreamList(strings.Join(b.settings.UpstreamServers, ","), upsTimeout)
	if err != nil {
		return fmt.Errorf("initializing forward: upstreams: %w", err)
	}

	routes, err := b.forwardRoutes(ctx, upsTimeout)
	if err != nil {
		return fmt.Errorf("initializing forward: %w", err)
	}

	hc := b.conf.Upstream.Healthcheck
	b.fwdHandler = forward.NewHandler(&forward.HandlerConfig{
		Logger: b.baseLogger.With(slogutil.KeyPrefix, "forward"),
		MetricsListener: dnssvc.NewForwardMetricsListener(
			dnssvcprom.NewForwardMetricsListener(len(ups) + len(routes)),
		),
		Healthcheck: &forward.HealthcheckConfig{
			DomainTemplate: hc.DomainTemplate,
			InitDuration:   time.Duration(hc.InitDuration),
			Enabled:        hc.Enabled,
		},
		Upstreams: ups,
		Routes:    routes,
	})

	b.sigHdlr.AddService(closerService{closer: b.fwdHandler})

	if hc.Enabled {
		err = b.startRefresher(ctx, &refresherConfig{
			refr:    b.fwdHandler,
			id:      debugIDUpstream,
			ivl:     time.Duration(hc.Interval),
			timeout: upsTimeout,
		})
		if err != nil {
			// Don't wrap the error, because it's informative enough as is.
			return err
		}
	}

	b.logger.DebugContext(ctx, "initialized forward", "upstreams", len(ups), "routes", len(routes))

	return nil
}

// forwardRoutes reads the conditional forwarding rules from the store and
// converts them to the forwarding handler's routes.
func (b *builder) forwardRoutes(
	ctx context.Context,
	timeout time.Duration,
) (routes []*forward.Route, err error) {
	confRoutes, err := b.store.ConditionalRoutes(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading conditional routes: %w", err)
	}

	for _, r := range confRoutes {
		if !r.Enabled {
			continue
		}

		ups, err := forward.ParseUpstreamList(r.Upstream, timeout)
		if err != nil {
			errcoll.Collect(ctx, b.errColl, b.logger, "parsing route upstream", err)

			continue
		}

		routes = append(routes, &forward.Route{
			DomainSuffix: r.Domain,
			Upstreams:    ups,
			Priority:     r.Priority,
			Enabled:      true,
		})
	}

	return routes, nil
}

// initDNSSvc assembles the resolving pipeline and starts the prefetcher, if
// it is enabled.
//
// All init methods above must be called before this method.
func (b *builder) initDNSSvc(ctx context.Context) (err error) {
	b.dnsSvc = dnssvc.New(&dnssvc.Config{
		Logger:          b.baseLogger.With(slogutil.KeyPrefix, "dnssvc"),
		Messages:        b.messages,
		ErrColl:         b.errColl,
		Store:           b.store,
		Policy:          b.policy,
		Zones:           b.zoneMgr,
		Cache:           b.cache,
		QueryLog:        b.queryLog,
		Forward:         b.fwdHandler,
		Timeout:         time.Duration(b.conf.DNS.HandleTimeout),
		UpstreamTimeout: time.Duration(b.conf.Upstream.Timeout),
	})

	err = b.dnsSvc.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("initializing dns service: initial refresh: %w", err)
	}

	b.sigHdlr.AddService(closerService{closer: b.dnsSvc})

	err = b.startRefresher(ctx, &refresherConfig{
		refr:    b.dnsSvc,
		id:      debugIDDNSSvc,
		ivl:     time.Duration(b.conf.DNS.RefreshInterval),
		timeout: shutdownTimeout,
	})
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	err = b.initPrefetcher(ctx)
	if err != nil {
		return fmt.Errorf("initializing prefetcher: %w", err)
	}

	b.logger.DebugContext(ctx, "initialized dns service")

	return nil
}

// initPrefetcher starts the background refresh of popular cache entries when
// both the cache and prefetching are enabled.
func (b *builder) initPrefetcher(ctx context.Context) (err error) {
	if b.cache == nil || !b.settings.PrefetchEnabled {
		return nil
	}

	prefetcher := dnscache.NewPrefetcher(&dnscache.PrefetcherConfig{
		Logger: b.baseLogger.With(slogutil.KeyPrefix, "prefetch"),
		Cache:  b.cache,
		Names:  b.storeLog,
		Resolver: &forwardResolver{
			handler: b.fwdHandler,
			timeout: time.Duration(b.conf.Upstream.Timeout),
		},
		Threshold:  b.settings.PrefetchThreshold,
		MinQueries: b.settings.PrefetchMinQueries,
		Window:     time.Duration(b.conf.Cache.PrefetchWindow),
	})

	return b.startRefresher(ctx, &refresherConfig{
		refr:    prefetcher,
		id:      debugIDPrefetch,
		ivl:     time.Duration(b.conf.Cache.PrefetchInterval),
		timeout: time.Minute,
	})
}

// forwardResolver adapts the forwarding handler to the background resolver
// interface of the prefetcher.
type forwardResolver struct {
	handler dnsserver.Handler
	timeout time.Duration
}

// type check
var _ dnscache.Resolver = (*forwardResolver)(nil)

// Resolve implements the [dnscache.Resolver] interface for *forwardResolver.
func (r *forwardResolver) Resolve(
	ctx context.Context,
	name string,
	qtype dnsmsg.RRType,
) (resp *dns.Msg, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req := (&dns.Msg{}).SetQuestion(dns.Fqdn(name), qtype)
	req.SetEdns0(dnsmsg.DefaultEDNSUDPSize, false)

	rw := dnsserver.NewNonWriterResponseWriter(nil, nil)
	err = r.handler.ServeDNS(ctx, rw, req)
	if err != nil {
		return nil, err
	}

	return rw.Msg(), nil
}

// initRateLimiter initializes the rate limiting middleware from the settings
// read at startup.  The limiter is attached to the plain UDP listener only,
// the way the sliding window is meant to be used.
func (b *builder) initRateLimiter(ctx context.Context) (err error) {
	sett := b.settings
	if !sett.RateLimitEnabled {
		b.logger.DebugContext(ctx, "ratelimit disabled")

		return nil
	}

	rl := ratelimit.NewSlidingWindow(&ratelimit.SlidingWindowConfig{
		Logger:    b.baseLogger.With(slogutil.KeyPrefix, "ratelimit"),
		Allowlist: ratelimit.NewDynamicAllowlist(nil, nil),
		Window:    sett.RateLimitWindow,
		// #nosec G115 -- The count is validated by the settings store.
		Count:                uint(sett.RateLimitCount),
		ResponseSizeEstimate: 1024,
		RefuseANY:            true,
	})

	b.rateLimitMw = ratelimit.NewMiddleware(&ratelimit.MiddlewareConfig{
		Metrics:   &dnssvcprom.RateLimitMetricsListener{},
		RateLimit: rl,
		Protos:    []dnsserver.Protocol{dnsserver.ProtoDNS},
	})

	b.logger.DebugContext(
		ctx,
		"initialized ratelimit",
		"window", sett.RateLimitWindow,
		"count", sett.RateLimitCount,
	)

	return nil
}

// initTLSManager initializes the TLS certificate manager and loads the
// DNS-over-HTTPS and DNS-over-TLS certificates.  A broken DNS-over-TLS
// certificate only disables that listener, since the admin edits its paths at
// runtime.
func (b *builder) initTLSManager(ctx context.Context) (err error) {
	b.tlsManager = tlsconfig.NewManager(&tlsconfig.ManagerConfig{
		Logger:  b.baseLogger.With(slogutil.KeyPrefix, "tlsconfig"),
		ErrColl: b.errColl,
		Metrics: metrics.NewTLSConfig(),
	})

	doh := b.conf.DNS.DoH
	if doh.Enabled {
		err = b.tlsManager.Add(ctx, doh.CertPath, doh.KeyPath)
		if err != nil {
			return fmt.Errorf("initializing tls: doh certificate: %w", err)
		}
	}

	sett := b.settings
	if sett.DoTEnabled {
		err = b.tlsManager.Add(ctx, sett.DoTCertPath, sett.DoTKeyPath)
		if err != nil {
			errcoll.Collect(ctx, b.errColl, b.logger, "dot certificate; dot disabled", err)
		} else {
			b.dotReady = true
		}
	}

	if b.tlsManager.Count() > 0 {
		err = b.startRefresher(ctx, &refresherConfig{
			refr:    b.tlsManager,
			id:      debugIDTLSConfig,
			ivl:     time.Hour,
			timeout: time.Minute,
		})
		if err != nil {
			// Don't wrap the error, because it's informative enough as is.
			return err
		}
	}

	b.logger.DebugContext(ctx, "initialized tls", "certs", b.tlsManager.Count())

	return nil
}

// initDNSServers creates and starts the DNS listeners and the health tracker
// covering them.
//
// All other init methods, except [builder.initDebugSvc], must be called
// before this method.
func (b *builder) initDNSServers(ctx context.Context) (err error) {
	handler := b.dnsSvc.Handler()
	if b.rateLimitMw != nil {
		handler = dnsserver.WithMiddlewares(handler, b.rateLimitMw)
	}

	c := b.conf.DNS
	plainAddr := netip.AddrPortFrom(c.ListenAddr, c.Port).String()
	srvMtrc := &dnssvcprom.ServerMetricsListener{}

	newBase := func(name, addr string, network dnsserver.Network) (base *dnsserver.ConfigBase) {
		return &dnsserver.ConfigBase{
			BaseLogger: b.baseLogger,
			Handler:    handler,
			Metrics:    srvMtrc,
			Network:    network,
			Name:       name,
			Addr:       addr,
		}
	}

	newDNS := func(base *dnsserver.ConfigBase) (conf *dnsserver.ConfigDNS) {
		return &dnsserver.ConfigDNS{
			Base:           base,
			ReadTimeout:    time.Duration(c.ReadTimeout),
			WriteTimeout:   time.Duration(c.WriteTimeout),
			TCPIdleTimeout: time.Duration(c.TCPIdleTimeout),
			UDPSize:        dnsmsg.DefaultEDNSUDPSize,
			MaxUDPRespSize: dnsmsg.DefaultEDNSUDPSize,
		}
	}

	servers := []dnsserver.Server{
		dnsserver.NewServerDNS(newDNS(newBase(debugsvc.ServerUDP, plainAddr, dnsserver.NetworkUDP))),
		dnsserver.NewServerDNS(newDNS(newBase(debugsvc.ServerTCP, plainAddr, dnsserver.NetworkTCP))),
	}

	enabled := []string{debugsvc.ServerUDP, debugsvc.ServerTCP}

	if b.settings.DoTEnabled && b.dotReady {
		dotAddr := netip.AddrPortFrom(c.ListenAddr, b.settings.DoTPort).String()
		servers = append(servers, dnsserver.NewServerTLS(&dnsserver.ConfigTLS{
			TLSConfig: b.tlsManager.Clone(),
			DNS:       newDNS(newBase(debugsvc.ServerDoT, dotAddr, dnsserver.NetworkTCP)),
		}))
		enabled = append(enabled, debugsvc.ServerDoT)
	}

	if c.DoH.Enabled {
		servers = append(servers, dnsserver.NewServerHTTPS(&dnsserver.ConfigHTTPS{
			TLSConfDefault: b.tlsManager.Clone(),
			Base:           newBase(debugsvc.ServerDoH, c.DoH.Addr, dnsserver.NetworkTCP),
		}))
		enabled = append(enabled, debugsvc.ServerDoH)
	}

	b.tracker = debugsvc.NewTracker(timeutil.SystemClock{}, enabled)

	for _, srv := range servers {
		err = srv.Start(ctx)
		if err != nil {
			return fmt.Errorf("starting %s server: %w", srv.Name(), err)
		}

		b.tracker.SetServerUp(srv.Name(), true)
		b.sigHdlr.AddService(srv)

		b.logger.InfoContext(ctx, "server started", "name", srv.Name(), "addr", srv.Addr())
	}

	return nil
}

// initDebugSvc initializes and starts the debug HTTP service.
//
// All other init methods must be called before this method.
func (b *builder) initDebugSvc(ctx context.Context) (err error) {
	conf := &debugsvc.Config{
		Logger:         b.baseLogger.With(slogutil.KeyPrefix, "debugsvc"),
		Status:         b.tracker,
		CacheManager:   b.cacheMgr,
		Refreshers:     b.debugRefrs,
		APIAddr:        b.conf.Debug.APIAddr,
		PprofAddr:      b.conf.Debug.PprofAddr,
		PrometheusAddr: b.conf.Debug.PrometheusAddr,
	}

	// Leave the purger nil when the cache is disabled so that the purge
	// endpoint reports the state correctly.
	if b.cache != nil {
		conf.Cache = b.cache
	}

	debugSvc := debugsvc.New(conf)

	err = debugSvc.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting debug service: %w", err)
	}

	b.sigHdlr.AddService(debugSvc)

	b.logger.DebugContext(ctx, "initialized debug service")

	return nil
}

// startQueryEventLoop starts the goroutine feeding the health tracker and the
// distinct-client counter from the completed-query events.
func (b *builder) startQueryEventLoop(ctx context.Context) {
	entries, cancel := b.queryBcast.Subscribe()

	go func() {
		defer slogutil.RecoverAndLog(ctx, b.logger)

		for e := range entries {
			b.tracker.OnQuery(e.ResponseCode == dnsmsg.RCode(dns.RcodeServerFailure))

			if e.RemoteIP.IsValid() {
				// The address is zero under privacy mode, in which case the
				// client is not counted.
				b.userCounter.Record(e.Time, e.RemoteIP)
			}
		}
	}()

	b.sigHdlr.AddService(shutdownFunc(func(_ context.Context) (err error) {
		cancel()

		return nil
	}))
}

// shutdownFunc adapts a function to [service.Interface], calling it on
// shutdown.
type shutdownFunc func(ctx context.Context) (err error)

// type check
var _ service.Interface = shutdownFunc(nil)

// Start implements the [service.Interface] interface for shutdownFunc.
func (f shutdownFunc) Start(_ context.Context) (err error) { return nil }

// Shutdown implements the [service.Interface] interface for shutdownFunc.
func (f shutdownFunc) Shutdown(ctx context.Context) (err error) { return f(ctx) }

// handleSignals blocks and processes signals from the OS.  status is
// [osutil.ExitCodeSuccess] on success and [osutil.ExitCodeFailure] on error.
//
// handleSignals must not be called concurrently with any other methods.
func (b *builder) handleSignals(ctx context.Context) (code osutil.ExitCode) {
	return b.sigHdlr.Handle(ctx)
}
