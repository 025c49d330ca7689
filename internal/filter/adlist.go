package filter

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/AdguardTeam/golibs/netutil/urlutil"
	"github.com/amberdns/amberdns/internal/adns"
)

// list is one subscribed adlist and its refresh state.  Only the refresh
// goroutine of the storage touches a list.
type list struct {
	logger *slog.Logger
	refr   *Refreshable
	name   string
	url    string
	id     ID
}

// compiled is the compile product of one successful adlist refresh.  It is
// immutable once built.
type compiled struct {
	// set contains the hosts-format and plain-domain entries of the list.
	set *DomainSet

	// rules is the engine for the adblock-syntax entries of the list.  It is
	// nil when the list has none.
	rules *ruleList

	// id is the filter ID of the list.
	id ID
}

// entryCount returns the total number of entries the list contributes.
func (c *compiled) entryCount() (n int) {
	n = c.set.Len()
	if c.rules != nil {
		n += c.rules.rulesCount()
	}

	return n
}

// refresh fetches and compiles the list data.  acceptStale has the same
// meaning as in [Refreshable.Refresh].
func (l *list) refresh(ctx context.Context, acceptStale bool) (c *compiled, err error) {
	data, err := l.refr.Refresh(ctx, acceptStale)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	domains, rulesData, skipped, err := parseListData(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", l.id, err)
	}

	if skipped > 0 {
		l.logger.WarnContext(ctx, "skipped invalid entries", "num", skipped)
	}

	c = &compiled{
		set: NewDomainSet(domains),
		id:  l.id,
	}

	if len(rulesData) > 0 {
		c.rules = newRuleList(l.id, rulesData)
	}

	l.logger.InfoContext(ctx, "reset entries", "num", c.entryCount())

	return c, nil
}

// listURL converts the stored location of an adlist, which may be a bare
// local path, into a URL for the refreshable.
func listURL(raw string) (u *url.URL, err error) {
	if !strings.Contains(raw, "://") {
		return &url.URL{
			Scheme: urlutil.SchemeFile,
			Path:   raw,
		}, nil
	}

	u, err = url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing adlist url: %w", err)
	}

	return u, nil
}

// newList returns a new list for the given adlist subscription.
func (s *Storage) newList(conf *adns.Adlist) (l *list, err error) {
	id := AdlistFilterID(conf.ID)

	u, err := listURL(conf.URL)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With("list", id)
	refr, err := NewRefreshable(&RefreshableConfig{
		Logger:    logger,
		URL:       u,
		ID:        id,
		CachePath: s.listCachePath(id),
		Staleness: s.staleness,
		Timeout:   s.timeout,
		MaxSize:   s.maxSize,
	})
	if err != nil {
		return nil, fmt.Errorf("creating refreshable: %w", err)
	}

	return &list{
		logger: logger,
		refr:   refr,
		name:   conf.Name,
		url:    conf.URL,
		id:     id,
	}, nil
}
