package configstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/amberdns/amberdns/internal/adns"
	"github.com/amberdns/amberdns/internal/querylog"
	"github.com/miekg/dns"
)

// Memory is the in-memory implementation of the configuration store.  It
// backs tests and can serve as an ephemeral store.  The zero value is not
// usable; use [NewMemory].
type Memory struct {
	mu sync.RWMutex

	settings *adns.Settings

	adlists     []*adns.Adlist
	domainRules []*adns.DomainRule
	regexes     []*adns.RegexFilter
	localRecs   []*adns.LocalRecord
	routes      []*adns.ConditionalRoute
	clients     []*adns.ClientConf
	groups      []*adns.ClientGroup
	zones       []*adns.Zone
	zoneRecs    []*adns.ZoneRecord
	zoneKeys    []*adns.ZoneKey
	tsigKeys    []*adns.TSIGKey
	queries     []*querylog.Entry

	nextID int64
}

// NewMemory returns a new in-memory store seeded with the default settings.
func NewMemory() (m *Memory) {
	return &Memory{
		settings: adns.DefaultSettings(),
		nextID:   1,
	}
}

// id returns the next free entity ID.  m.mu must be held for writing.
func (m *Memory) id() (id int64) {
	id = m.nextID
	m.nextID++

	return id
}

// Settings returns the current dynamic settings.
func (m *Memory) Settings(_ context.Context) (s *adns.Settings, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.settings, nil
}

// SetSettings replaces the stored settings.
func (m *Memory) SetSettings(_ context.Context, s *adns.Settings) (err error) {
	err = s.Validate()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings = s

	return nil
}

// Adlists returns all adlist subscriptions.
func (m *Memory) Adlists(_ context.Context) (lists []*adns.Adlist, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.adlists), nil
}

// AddAdlist adds an adlist subscription.
func (m *Memory) AddAdlist(_ context.Context, l *adns.Adlist) (id adns.AdlistID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l.ID = adns.AdlistID(m.id())
	m.adlists = append(m.adlists, l)

	return l.ID, nil
}

// SetAdlistStatus records the result of a successful adlist refresh.
func (m *Memory) SetAdlistStatus(
	_ context.Context,
	id adns.AdlistID,
	updatedAt time.Time,
	entryCount int,
) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range m.adlists {
		if l.ID == id {
			l.UpdatedAt = updatedAt
			l.EntryCount = entryCount

			break
		}
	}

	return nil
}

// DomainRules returns all manual allowlist and blocklist rules.
func (m *Memory) DomainRules(_ context.Context) (rules []*adns.DomainRule, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.domainRules), nil
}

// AddDomainRule adds a manual rule.
func (m *Memory) AddDomainRule(_ context.Context, r *adns.DomainRule) (id int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.ID = m.id()
	m.domainRules = append(m.domainRules, r)

	return r.ID, nil
}

// RegexFilters returns all regular-expression rules.
func (m *Memory) RegexFilters(_ context.Context) (filters []*adns.RegexFilter, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.regexes), nil
}

// AddRegexFilter adds a regular-expression rule.
func (m *Memory) AddRegexFilter(_ context.Context, f *adns.RegexFilter) (id int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f.ID = m.id()
	m.regexes = append(m.regexes, f)

	return f.ID, nil
}

// LocalRecords returns all custom DNS records.
func (m *Memory) LocalRecords(_ context.Context) (recs []*adns.LocalRecord, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.localRecs), nil
}

// AddLocalRecord adds a custom DNS record.
func (m *Memory) AddLocalRecord(_ context.Context, r *adns.LocalRecord) (id int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.ID = m.id()
	m.localRecs = append(m.localRecs, r)

	return r.ID, nil
}

// ConditionalRoutes returns all conditional forwarding rules.
func (m *Memory) ConditionalRoutes(
	_ context.Context,
) (routes []*adns.ConditionalRoute, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.routes), nil
}

// AddConditionalRoute adds a conditional forwarding rule.
func (m *Memory) AddConditionalRoute(
	_ context.Context,
	r *adns.ConditionalRoute,
) (id int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.ID = m.id()
	m.routes = append(m.routes, r)

	return r.ID, nil
}

// Clients returns all per-client configurations.
func (m *Memory) Clients(_ context.Context) (clients []*adns.ClientConf, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.clients), nil
}

// UpsertClient adds or replaces a per-client configuration by address.
func (m *Memory) UpsertClient(_ context.Context, c *adns.ClientConf) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, prev := range m.clients {
		if prev.Addr == c.Addr {
			m.clients[i] = c

			return nil
		}
	}

	m.clients = append(m.clients, c)

	return nil
}

// Groups returns all client groups.
func (m *Memory) Groups(_ context.Context) (groups []*adns.ClientGroup, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.groups), nil
}

// UpsertGroup adds or replaces a client group by name.
func (m *Memory) UpsertGroup(_ context.Context, g *adns.ClientGroup) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, prev := range m.groups {
		if prev.Name == g.Name {
			g.ID = prev.ID
			m.groups[i] = g

			return nil
		}
	}

	g.ID = adns.GroupID(m.id())
	m.groups = append(m.groups, g)

	return nil
}

// Zones returns all authoritative zones.
func (m *Memory) Zones(_ context.Context) (zones []*adns.Zone, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.zones), nil
}

// AddZone adds an authoritative zone.
func (m *Memory) AddZone(_ context.Context, z *adns.Zone) (id adns.ZoneID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	z.ID = adns.ZoneID(m.id())
	m.zones = append(m.zones, z)

	return z.ID, nil
}

// ZoneRecords returns the records of the given zone.
func (m *Memory) ZoneRecords(
	_ context.Context,
	zoneID adns.ZoneID,
) (recs []*adns.ZoneRecord, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.zoneRecs {
		if r.ZoneID == zoneID {
			recs = append(recs, r)
		}
	}

	return recs, nil
}

// AddZoneRecord adds a record to its zone and bumps the zone serial.
func (m *Memory) AddZoneRecord(_ context.Context, r *adns.ZoneRecord) (id int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.ID = m.id()
	m.zoneRecs = append(m.zoneRecs, r)
	m.bumpSerial(r.ZoneID)

	return r.ID, nil
}

// DeleteZoneRecordSet removes the records of the zone with the given owner
// name and, unless rtype is [dns.TypeANY], type, and bumps the zone serial.
func (m *Memory) DeleteZoneRecordSet(
	_ context.Context,
	zoneID adns.ZoneID,
	name string,
	rtype uint16,
) (n int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.zoneRecs = slices.DeleteFunc(m.zoneRecs, func(r *adns.ZoneRecord) (del bool) {
		del = r.ZoneID == zoneID &&
			r.Name == name &&
			(rtype == dns.TypeANY || r.Type == rtype)
		if del {
			n++
		}

		return del
	})

	m.bumpSerial(zoneID)

	return n, nil
}

// bumpSerial increments the SOA serial of the zone.  m.mu must be held for
// writing.
func (m *Memory) bumpSerial(zoneID adns.ZoneID) {
	for _, z := range m.zones {
		if z.ID == zoneID {
			z.SOA.Serial++

			break
		}
	}
}

// ZoneKeys returns the DNSSEC keys of the given zone.
func (m *Memory) ZoneKeys(
	_ context.Context,
	zoneID adns.ZoneID,
) (keys []*adns.ZoneKey, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, k := range m.zoneKeys {
		if k.ZoneID == zoneID {
			keys = append(keys, k)
		}
	}

	return keys, nil
}

// AddZoneKey adds a DNSSEC key to its zone.
func (m *Memory) AddZoneKey(_ context.Context, k *adns.ZoneKey) (id int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k.ID = m.id()
	m.zoneKeys = append(m.zoneKeys, k)

	return k.ID, nil
}

// TSIGKeys returns all TSIG keys.
func (m *Memory) TSIGKeys(_ context.Context) (keys []*adns.TSIGKey, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.tsigKeys), nil
}

// AddTSIGKey adds a TSIG key.
func (m *Memory) AddTSIGKey(_ context.Context, k *adns.TSIGKey) (id int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k.ID = m.id()
	m.tsigKeys = append(m.tsigKeys, k)

	return k.ID, nil
}

// InsertQuery appends one completed query record.
func (m *Memory) InsertQuery(_ context.Context, e *querylog.Entry) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries = append(m.queries, e)

	return nil
}

// TopNames returns the names queried at least minCount times since the given
// time.
func (m *Memory) TopNames(
	_ context.Context,
	since time.Time,
	minCount int,
) (names []string, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := map[string]int{}
	for _, e := range m.queries {
		if !e.Time.Before(since) {
			counts[e.DomainFQDN]++
		}
	}

	for name, n := range counts {
		if n >= minCount {
			names = append(names, name)
		}
	}

	slices.SortFunc(names, func(a, b string) (res int) {
		return counts[b] - counts[a]
	})

	return names, nil
}

// DeleteQueriesBefore removes query records older than t.
func (m *Memory) DeleteQueriesBefore(_ context.Context, t time.Time) (n int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries = slices.DeleteFunc(m.queries, func(e *querylog.Entry) (del bool) {
		del = e.Time.Before(t)
		if del {
			n++
		}

		return del
	})

	return n, nil
}
