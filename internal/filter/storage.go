package filter

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/syncutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/urlfilter"
	"github.com/AdguardTeam/urlfilter/rules"
	"github.com/amberdns/amberdns/internal/adns"
	"github.com/amberdns/amberdns/internal/dnsmsg"
	"github.com/amberdns/amberdns/internal/errcoll"
	"github.com/c2h5oh/datasize"
)

// Storage compiles and holds the current filtering state: the manual
// allowlist and blocklist sets and the compiled adlists.  Matching reads an
// immutable snapshot, so a refresh never blocks queries.
type Storage struct {
	logger   *slog.Logger
	store    Store
	errColl  errcoll.Interface
	metrics  Metrics
	clock    timeutil.Clock
	reqPool  *syncutil.Pool[urlfilter.DNSRequest]
	resPool  *syncutil.Pool[urlfilter.DNSResult]
	snapshot *atomic.Pointer[storageSnapshot]

	// lists is the per-adlist refresh state.  Only the refresh goroutine
	// touches it.
	lists map[adns.AdlistID]*list

	cacheDir  string
	staleness time.Duration
	timeout   time.Duration
	maxSize   datasize.ByteSize
}

// StorageConfig is the configuration for the filter storage.
type StorageConfig struct {
	// Logger is used for logging the operation of the storage.  It must not
	// be nil.
	Logger *slog.Logger

	// Store is the configuration store the rules and the adlist subscriptions
	// are read from.  It must not be nil.
	Store Store

	// ErrColl is used to collect non-critical refresh errors.  It must not be
	// nil.
	ErrColl errcoll.Interface

	// Metrics is used to report the status of each list.  If nil,
	// [EmptyMetrics] is used.
	Metrics Metrics

	// Clock is used to get the current time for adlist status updates.  If
	// nil, [timeutil.SystemClock] is used.
	Clock timeutil.Clock

	// CacheDir is the directory the fetched adlist data is cached in.  It
	// must not be empty.
	CacheDir string

	// Staleness is the time after which a cached adlist file is considered
	// stale.
	Staleness time.Duration

	// RefreshTimeout is the timeout for a single adlist fetch.
	RefreshTimeout time.Duration

	// MaxSize is the maximum size of a downloadable adlist.
	MaxSize datasize.ByteSize
}

// storageSnapshot is the compiled state the matchers read.
type storageSnapshot struct {
	allow *DomainSet
	block *DomainSet
	lists []*compiled
}

// NewStorage returns a new filter storage.  Before the first refresh it
// matches nothing.  c must not be nil.
func NewStorage(c *StorageConfig) (s *Storage) {
	clock := c.Clock
	if clock == nil {
		clock = timeutil.SystemClock{}
	}

	s = &Storage{
		logger:  c.Logger,
		store:   c.Store,
		errColl: c.ErrColl,
		metrics: cmp.Or[Metrics](c.Metrics, EmptyMetrics{}),
		clock:   clock,
		reqPool: syncutil.NewPool(func() (req *urlfilter.DNSRequest) {
			return &urlfilter.DNSRequest{}
		}),
		resPool: syncutil.NewPool(func() (res *urlfilter.DNSResult) {
			return &urlfilter.DNSResult{}
		}),
		snapshot:  &atomic.Pointer[storageSnapshot]{},
		lists:     map[adns.AdlistID]*list{},
		cacheDir:  c.CacheDir,
		staleness: c.Staleness,
		timeout:   c.RefreshTimeout,
		maxSize:   c.MaxSize,
	}

	s.snapshot.Store(&storageSnapshot{
		allow: NewDomainSet(nil),
		block: NewDomainSet(nil),
	})

	return s
}

// MatchAllowlist returns the matched manual allowlist rule for host, if any.
// host must be normalized with [NormalizeDomain].
func (s *Storage) MatchAllowlist(host string) (rule RuleText, ok bool) {
	r, ok := s.snapshot.Load().allow.MatchSuffix(host)

	return RuleText(r), ok
}

// MatchBlocklist checks host against the manual blocklist, the adlist domain
// sets, and the adblock rule lists.  An exception rule in any rule list
// exempts host from all of them, which is reported as [*ResultAllowed].  host
// must be normalized with [NormalizeDomain].
func (s *Storage) MatchBlocklist(
	ctx context.Context,
	host string,
	qt dnsmsg.RRType,
) (r Result) {
	snap := s.snapshot.Load()

	coll := newResultCollector()
	s.collectRuleResults(coll, snap, host, qt)

	// An exception rule neutralizes every block source of the blocklist, so
	// resolve the basic network rule before the sets.
	basic := rules.GetDNSBasicRule(coll.networkRules)
	if basic != nil && basic.Whitelist {
		return coll.netRuleToResult(basic)
	}

	if rule, ok := snap.block.MatchSuffix(host); ok {
		return &ResultBlocked{
			List: IDBlocklist,
			Rule: RuleText(rule),
		}
	}

	for _, c := range snap.lists {
		if rule, ok := c.set.MatchSuffix(host); ok {
			return &ResultBlocked{
				List: c.id,
				Rule: RuleText(rule),
			}
		}
	}

	if basic != nil {
		return coll.netRuleToResult(basic)
	}

	return coll.hostRulesToResult(qt)
}

// collectRuleResults runs every rule-list engine of snap for host and adds
// the matched rules to coll.
func (s *Storage) collectRuleResults(
	coll *resultCollector,
	snap *storageSnapshot,
	host string,
	qt dnsmsg.RRType,
) {
	req := s.reqPool.Get()
	defer s.reqPool.Put(req)

	req.Reset()
	req.Hostname = host
	req.DNSType = qt

	res := s.resPool.Get()
	defer s.resPool.Put(res)

	for _, c := range snap.lists {
		if c.rules == nil {
			continue
		}

		res.Reset()
		if c.rules.match(req, res) {
			coll.add(c.id, res)
		}
	}
}

// type check
var _ service.Refresher = (*Storage)(nil)

// Refresh implements the [service.Refresher] interface for *Storage.  It
// re-reads the rules and the adlist subscriptions from the store, refreshes
// every enabled adlist, and swaps the snapshot.  A failing list keeps its
// previous compile product, if any.
func (s *Storage) Refresh(ctx context.Context) (err error) {
	s.logger.InfoContext(ctx, "refresh started")
	defer s.logger.InfoContext(ctx, "refresh finished")

	return s.refresh(ctx, false)
}

// RefreshInitial loads the contents of the storage, using cached adlist files
// if there are any, regardless of their staleness.
func (s *Storage) RefreshInitial(ctx context.Context) (err error) {
	s.logger.InfoContext(ctx, "initial refresh started")
	defer s.logger.InfoContext(ctx, "initial refresh finished")

	err = s.refresh(ctx, true)
	if err != nil {
		return fmt.Errorf("refreshing filter storage initially: %w", err)
	}

	return nil
}

// refresh rebuilds the snapshot from the store.  If acceptStale is true,
// cached adlist files are used regardless of their staleness.
func (s *Storage) refresh(ctx context.Context, acceptStale bool) (err error) {
	domainRules, err := s.store.DomainRules(ctx)
	if err != nil {
		return fmt.Errorf("reading domain rules: %w", err)
	}

	confs, err := s.store.Adlists(ctx)
	if err != nil {
		return fmt.Errorf("reading adlists: %w", err)
	}

	prev := s.snapshot.Load()
	next := &storageSnapshot{}
	next.allow, next.block = domainRuleSets(domainRules)

	var errs []error
	for _, conf := range confs {
		if !conf.Enabled {
			continue
		}

		c, listErr := s.refreshList(ctx, conf, acceptStale)
		if listErr != nil {
			errs = append(errs, fmt.Errorf("list %q: %w", conf.Name, listErr))
			errcoll.Collect(
				ctx,
				s.errColl,
				s.logger,
				fmt.Sprintf("refreshing list %q", conf.Name),
				listErr,
			)

			if c = prevCompiled(prev, AdlistFilterID(conf.ID)); c == nil {
				continue
			}
		}

		next.lists = append(next.lists, c)
	}

	s.snapshot.Store(next)

	return errors.Join(errs...)
}

// refreshList refreshes a single adlist, reports its status, and writes the
// status back to the store on success.
func (s *Storage) refreshList(
	ctx context.Context,
	conf *adns.Adlist,
	acceptStale bool,
) (c *compiled, err error) {
	l, err := s.listFor(conf)
	if err != nil {
		return nil, err
	}

	c, err = l.refresh(ctx, acceptStale)

	updTime := s.clock.Now()
	count := 0
	if err == nil {
		count = c.entryCount()
	}

	s.metrics.SetFilterStatus(ctx, string(l.id), updTime, count, err)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	err = s.store.SetAdlistStatus(ctx, conf.ID, updTime, count)
	if err != nil {
		// A failed status update doesn't invalidate the compiled list.
		errcoll.Collect(
			ctx,
			s.errColl,
			s.logger,
			fmt.Sprintf("updating status of %q", l.id),
			err,
		)
	}

	return c, nil
}

// listFor returns the refresh state for the given subscription, creating or
// recreating it when necessary.
func (s *Storage) listFor(conf *adns.Adlist) (l *list, err error) {
	l = s.lists[conf.ID]
	if l != nil && l.url == conf.URL {
		l.name = conf.Name

		return l, nil
	}

	l, err = s.newList(conf)
	if err != nil {
		return nil, err
	}

	s.lists[conf.ID] = l

	return l, nil
}

// listCachePath returns the path of the disk cache file for the list with the
// given ID.
func (s *Storage) listCachePath(id ID) (p string) {
	return filepath.Join(s.cacheDir, string(id)+".txt")
}

// domainRuleSets splits the manual rules into the allow and block sets.
func domainRuleSets(domainRules []*adns.DomainRule) (allow, block *DomainSet) {
	var allowDomains, blockDomains []string
	for _, r := range domainRules {
		if !r.Enabled {
			continue
		}

		switch r.Action {
		case adns.FilterActionAllow:
			allowDomains = append(allowDomains, r.Domain)
		case adns.FilterActionBlock:
			blockDomains = append(blockDomains, r.Domain)
		}
	}

	return NewDomainSet(allowDomains), NewDomainSet(blockDomains)
}

// prevCompiled returns the compile product for id from the previous snapshot,
// if any.
func prevCompiled(snap *storageSnapshot, id ID) (c *compiled) {
	for _, pc := range snap.lists {
		if pc.id == id {
			return pc
		}
	}

	return nil
}
