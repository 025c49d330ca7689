package configstore

import (
	"context"
	"fmt"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/amberdns/amberdns/internal/adns"
)

// Adlists returns all adlist subscriptions, including disabled ones.
func (s *SQLite) Adlists(ctx context.Context) (lists []*adns.Adlist, err error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, name, url, enabled, updated_at, entry_count FROM adlists ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("reading adlists: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, rows.Close()) }()

	for rows.Next() {
		l := &adns.Adlist{}

		var updatedAt int64
		err = rows.Scan(&l.ID, &l.Name, &l.URL, &l.Enabled, &updatedAt, &l.EntryCount)
		if err != nil {
			return nil, fmt.Errorf("scanning adlist: %w", err)
		}

		l.UpdatedAt = timeFromDB(updatedAt)
		lists = append(lists, l)
	}

	return lists, rows.Err()
}

// AddAdlist adds a new adlist subscription and returns its ID.
func (s *SQLite) AddAdlist(ctx context.Context, l *adns.Adlist) (id adns.AdlistID, err error) {
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO adlists (name, url, enabled) VALUES (?, ?, ?)`,
		l.Name,
		l.URL,
		l.Enabled,
	)
	if err != nil {
		return 0, fmt.Errorf("adding adlist: %w", err)
	}

	dbID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("adding adlist: %w", err)
	}

	return adns.AdlistID(dbID), nil
}

// SetAdlistStatus records the result of a successful adlist refresh.
func (s *SQLite) SetAdlistStatus(
	ctx context.Context,
	id adns.AdlistID,
	updatedAt time.Time,
	entryCount int,
) (err error) {
	_, err = s.db.ExecContext(
		ctx,
		`UPDATE adlists SET updated_at = ?, entry_count = ? WHERE id = ?`,
		timeToDB(updatedAt),
		entryCount,
		id,
	)
	if err != nil {
		return fmt.Errorf("updating adlist status: %w", err)
	}

	return nil
}

// DomainRules returns all manual allowlist and blocklist rules.
func (s *SQLite) DomainRules(ctx context.Context) (rules []*adns.DomainRule, err error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, domain, action, enabled FROM domain_rules ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("reading domain rules: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, rows.Close()) }()

	for rows.Next() {
		r := &adns.DomainRule{}
		err = rows.Scan(&r.ID, &r.Domain, &r.Action, &r.Enabled)
		if err != nil {
			return nil, fmt.Errorf("scanning domain rule: %w", err)
		}

		rules = append(rules, r)
	}

	return rules, rows.Err()
}

// AddDomainRule adds a manual allowlist or blocklist rule.
func (s *SQLite) AddDomainRule(ctx context.Context, r *adns.DomainRule) (id int64, err error) {
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO domain_rules (domain, action, enabled) VALUES (?, ?, ?)`,
		r.Domain,
		r.Action,
		r.Enabled,
	)
	if err != nil {
		return 0, fmt.Errorf("adding domain rule: %w", err)
	}

	return res.LastInsertId()
}

// RegexFilters returns all regular-expression rules, including disabled ones.
func (s *SQLite) RegexFilters(ctx context.Context) (filters []*adns.RegexFilter, err error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, pattern, action, enabled FROM regex_filters ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("reading regex filters: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, rows.Close()) }()

	for rows.Next() {
		f := &adns.RegexFilter{}
		err = rows.Scan(&f.ID, &f.Pattern, &f.Action, &f.Enabled)
		if err != nil {
			return nil, fmt.Errorf("scanning regex filter: %w", err)
		}

		filters = append(filters, f)
	}

	return filters, rows.Err()
}

// AddRegexFilter adds a regular-expression rule.
func (s *SQLite) AddRegexFilter(ctx context.Context, f *adns.RegexFilter) (id int64, err error) {
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO regex_filters (pattern, action, enabled) VALUES (?, ?, ?)`,
		f.Pattern,
		f.Action,
		f.Enabled,
	)
	if err != nil {
		return 0, fmt.Errorf("adding regex filter: %w", err)
	}

	return res.LastInsertId()
}

// LocalRecords returns all custom DNS records outside of zones.
func (s *SQLite) LocalRecords(ctx context.Context) (recs []*adns.LocalRecord, err error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, name, type, ttl, data, enabled FROM local_records ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("reading local records: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, rows.Close()) }()

	for rows.Next() {
		r := &adns.LocalRecord{}
		err = rows.Scan(&r.ID, &r.Name, &r.Type, &r.TTL, &r.Data, &r.Enabled)
		if err != nil {
			return nil, fmt.Errorf("scanning local record: %w", err)
		}

		recs = append(recs, r)
	}

	return recs, rows.Err()
}

// AddLocalRecord adds a custom DNS record.
func (s *SQLite) AddLocalRecord(ctx context.Context, r *adns.LocalRecord) (id int64, err error) {
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO local_records (name, type, ttl, data, enabled) VALUES (?, ?, ?, ?, ?)`,
		r.Name,
		r.Type,
		r.TTL,
		r.Data,
		r.Enabled,
	)
	if err != nil {
		return 0, fmt.Errorf("adding local record: %w", err)
	}

	return res.LastInsertId()
}

// ConditionalRoutes returns all conditional forwarding rules.
func (s *SQLite) ConditionalRoutes(ctx context.Context) (routes []*adns.ConditionalRoute, err error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, domain, upstream, priority, enabled FROM conditional_routes ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("reading conditional routes: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, rows.Close()) }()

	for rows.Next() {
		r := &adns.ConditionalRoute{}
		err = rows.Scan(&r.ID, &r.Domain, &r.Upstream, &r.Priority, &r.Enabled)
		if err != nil {
			return nil, fmt.Errorf("scanning conditional route: %w", err)
		}

		routes = append(routes, r)
	}

	return routes, rows.Err()
}

// AddConditionalRoute adds a conditional forwarding rule.
func (s *SQLite) AddConditionalRoute(
	ctx context.Context,
	r *adns.ConditionalRoute,
) (id int64, err error) {
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO conditional_routes (domain, upstream, priority, enabled)
		VALUES (?, ?, ?, ?)`,
		r.Domain,
		r.Upstream,
		r.Priority,
		r.Enabled,
	)
	if err != nil {
		return 0, fmt.Errorf("adding conditional route: %w", err)
	}

	return res.LastInsertId()
}
