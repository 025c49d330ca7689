package zone

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"sync/atomic"

	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/amberdns/amberdns/internal/adns"
	"github.com/amberdns/amberdns/internal/errcoll"
	"github.com/amberdns/amberdns/internal/tsig"
	"github.com/miekg/dns"
)

// ManagerConfig is the configuration of the authoritative zone manager.
type ManagerConfig struct {
	// Logger is used for logging the operation of the manager.  It must not
	// be nil.
	Logger *slog.Logger

	// ErrColl is used to collect non-fatal errors, such as unparsable
	// records.  It must not be nil.
	ErrColl errcoll.Interface

	// Store is the source of zone data.  It must not be nil.
	Store Store

	// Locals is the source of the flat local DNS records.  If nil, the local
	// overlay is empty.
	Locals LocalStore

	// TSIG verifies and signs transfer and update messages.  If nil, TSIG
	// RRs on inbound messages are rejected with BADKEY.
	TSIG *tsig.Manager

	// Clock is used to timestamp signatures.  If nil, [timeutil.SystemClock]
	// is used.
	Clock timeutil.Clock

	// Strict denies unauthenticated transfers and updates when no ACL is
	// configured.  It is on in production.
	Strict bool
}

// Manager answers queries for authoritative zones.  Use [Manager.Refresh] to
// load zones from the store; the serving path reads an atomically swapped
// snapshot and never blocks on the store.
type Manager struct {
	logger  *slog.Logger
	errColl errcoll.Interface
	store   Store
	locals  LocalStore
	tsig    *tsig.Manager
	clock   timeutil.Clock

	snapshot atomic.Pointer[snapshot]

	strict bool
}

// NewManager returns a new zone manager with an empty snapshot.  c must not
// be nil.
func NewManager(c *ManagerConfig) (m *Manager) {
	clock := c.Clock
	if clock == nil {
		clock = timeutil.SystemClock{}
	}

	m = &Manager{
		logger:  c.Logger,
		errColl: c.ErrColl,
		store:   c.Store,
		locals:  c.Locals,
		tsig:    c.TSIG,
		clock:   clock,
		strict:  c.Strict,
	}

	m.snapshot.Store(&snapshot{
		zones:  map[string]*zoneData{},
		locals: map[string]map[uint16][]dns.RR{},
	})

	return m
}

// type check
var _ service.Refresher = (*Manager)(nil)

// Refresh implements the [service.Refresher] interface for *Manager.  It
// rebuilds the zone snapshot from the store.
func (m *Manager) Refresh(ctx context.Context) (err error) {
	zones, err := m.store.Zones(ctx)
	if err != nil {
		return fmt.Errorf("refreshing zones: %w", err)
	}

	snap := &snapshot{
		zones:  make(map[string]*zoneData, len(zones)),
		locals: map[string]map[uint16][]dns.RR{},
	}

	if m.locals != nil {
		snap.locals, err = m.buildLocals(ctx)
		if err != nil {
			return err
		}
	}

	for _, z := range zones {
		if !z.Enabled {
			continue
		}

		zd, err := m.buildZone(ctx, z)
		if err != nil {
			errcoll.Collect(ctx, m.errColl, m.logger, "building zone", err)

			continue
		}

		snap.zones[zd.apex] = zd
	}

	m.snapshot.Store(snap)

	m.logger.DebugContext(
		ctx,
		"refreshed zones",
		"count", len(snap.zones),
		"local_records", len(snap.locals),
	)

	return nil
}

// buildZone loads the records and keys of z and assembles the in-memory zone.
func (m *Manager) buildZone(ctx context.Context, z *adns.Zone) (zd *zoneData, err error) {
	apex := strings.ToLower(dns.Fqdn(z.Domain))
	zd = &zoneData{
		conf:   z,
		apex:   apex,
		rrsets: map[string]map[uint16][]dns.RR{},
		soa:    newSOA(apex, &z.SOA),
	}

	recs, err := m.store.ZoneRecords(ctx, z.ID)
	if err != nil {
		return nil, fmt.Errorf("zone %q: %w", apex, err)
	}

	for _, rec := range recs {
		if !rec.Enabled {
			continue
		}

		rr, err := parseRecord(apex, rec)
		if err != nil {
			errcoll.Collect(ctx, m.errColl, m.logger, "parsing zone record", err)

			continue
		}

		zd.addRR(rr)
	}

	if z.DNSSECEnabled {
		err = m.loadKeys(ctx, zd)
		if err != nil {
			return nil, fmt.Errorf("zone %q: %w", apex, err)
		}
	}

	return zd, nil
}

// Lookup returns the most specific enabled zone holding name, or false when
// name is outside all authoritative zones.
func (m *Manager) Lookup(name string) (z *adns.Zone, ok bool) {
	zd, ok := m.snapshot.Load().lookup(strings.ToLower(dns.Fqdn(name)))
	if !ok {
		return nil, false
	}

	return zd.conf, true
}

// Handle answers req if its question is inside an authoritative zone.
// matched is false when the question is outside all zones, in which case resp
// is nil and the caller should continue resolution elsewhere.
func (m *Manager) Handle(ctx context.Context, req *Request) (resp *dns.Msg, matched bool, err error) {
	q := req.Msg.Question[0]
	qname := strings.ToLower(q.Name)

	snap := m.snapshot.Load()

	zd, ok := snap.lookup(qname)
	if !ok {
		if req.Msg.Opcode == dns.OpcodeQuery {
			resp, matched = snap.answerLocal(req.Msg, qname)
			if matched {
				return resp, true, nil
			}
		}

		return nil, false, nil
	}

	if req.Msg.Opcode == dns.OpcodeUpdate {
		resp, err = m.handleUpdate(ctx, zd, req)

		return resp, true, err
	}

	switch q.Qtype {
	case dns.TypeAXFR, dns.TypeIXFR:
		resp, err = m.handleTransfer(ctx, zd, req)

		return resp, true, err
	default:
		return zd.answer(req.Msg, qname, m.signer(zd, req.DO)), true, nil
	}
}

// snapshot is an immutable view of all enabled zones and local records.
type snapshot struct {
	// zones maps apex FQDNs to zone data.
	zones map[string]*zoneData

	// locals maps lower-case owner FQDNs of the local record overlay to
	// their record sets by type.
	locals map[string]map[uint16][]dns.RR
}

// lookup finds the zone with the longest apex that is a suffix of name.  name
// must be a lower-case FQDN.
func (s *snapshot) lookup(name string) (zd *zoneData, ok bool) {
	for cand := name; ; {
		if zd, ok = s.zones[cand]; ok {
			return zd, true
		}

		i := strings.Index(cand, ".")
		if i < 0 || i == len(cand)-1 {
			return nil, false
		}

		cand = cand[i+1:]
	}
}

// zoneData is the in-memory form of one zone.
type zoneData struct {
	conf *adns.Zone

	// apex is the lower-case zone apex FQDN.
	apex string

	// rrsets maps lower-case owner FQDNs to their record sets by type.
	rrsets map[string]map[uint16][]dns.RR

	// soa is the zone SOA record.
	soa *dns.SOA

	// keys are the active signing keys; empty when DNSSEC is off.
	keys []*signingKey
}

// addRR files rr into the owner and type buckets.
func (zd *zoneData) addRR(rr dns.RR) {
	hdr := rr.Header()
	owner := strings.ToLower(hdr.Name)

	sets, ok := zd.rrsets[owner]
	if !ok {
		sets = map[uint16][]dns.RR{}
		zd.rrsets[owner] = sets
	}

	sets[hdr.Rrtype] = append(sets[hdr.Rrtype], rr)
}

// newSOA builds the SOA record of a zone.
func newSOA(apex string, d *adns.SOAData) (soa *dns.SOA) {
	return &dns.SOA{
		Hdr: dns.RR_Header{
			Name:   apex,
			Rrtype: dns.TypeSOA,
			Class:  dns.ClassINET,
			Ttl:    d.TTL,
		},
		Ns:      dns.Fqdn(d.PrimaryNS),
		Mbox:    dns.Fqdn(d.Admin),
		Serial:  d.Serial,
		Refresh: d.Refresh,
		Retry:   d.Retry,
		Expire:  d.Expire,
		Minttl:  d.Minimum,
	}
}

// ownerFQDN resolves a stored record name, which is relative to the apex,
// into an absolute lower-case owner name.  "@" means the apex itself.
func ownerFQDN(apex, name string) (owner string) {
	name = strings.ToLower(name)
	switch {
	case name == "@" || name == "":
		return apex
	case strings.HasSuffix(name, "."):
		return name
	default:
		return name + "." + apex
	}
}

// relativeName converts an absolute owner name into the form stored in zone
// record rows.
func relativeName(apex, owner string) (name string) {
	owner = strings.ToLower(dns.Fqdn(owner))
	if owner == apex {
		return "@"
	}

	return strings.TrimSuffix(owner, "."+apex)
}

// parseRecord builds the wire-type record from a stored row using zone-file
// RDATA syntax.
func parseRecord(apex string, rec *adns.ZoneRecord) (rr dns.RR, err error) {
	typeStr, ok := dns.TypeToString[rec.Type]
	if !ok {
		return nil, fmt.Errorf("record %d: unknown type %d", rec.ID, rec.Type)
	}

	text := fmt.Sprintf(
		"%s %d IN %s %s",
		ownerFQDN(apex, rec.Name),
		rec.TTL,
		typeStr,
		rec.Data,
	)

	rr, err = dns.NewRR(text)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", rec.ID, err)
	}

	return rr, nil
}

// aclAllows reports whether any of the transfer ACL networks contains ip.
func aclAllows(acl []string, ip netip.Addr) (ok bool) {
	for _, cidr := range acl {
		pfx, err := netip.ParsePrefix(cidr)
		if err != nil {
			if addr, addrErr := netip.ParseAddr(cidr); addrErr == nil && addr == ip {
				return true
			}

			continue
		}

		if pfx.Contains(ip) {
			return true
		}
	}

	return false
}
