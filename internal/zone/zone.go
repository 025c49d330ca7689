// Package zone serves authoritative zones: record lookup, on-the-fly DNSSEC
// signing, zone transfers, and dynamic updates.
//
// The manager keeps an immutable snapshot of all enabled zones built from the
// configuration store and swaps it atomically on refresh.  Mutations (dynamic
// updates, imports) go through the store and are followed by a snapshot
// rebuild, so the serving path never takes a lock.
package zone

import (
	"context"
	"net/netip"

	"github.com/amberdns/amberdns/internal/adns"
	"github.com/miekg/dns"
)

// Store is the source of zone data and the sink of zone mutations.
type Store interface {
	// Zones returns all zones, including disabled ones.
	Zones(ctx context.Context) (zones []*adns.Zone, err error)

	// ZoneRecords returns the records of the given zone, including disabled
	// ones.
	ZoneRecords(ctx context.Context, zoneID adns.ZoneID) (recs []*adns.ZoneRecord, err error)

	// ZoneKeys returns the DNSSEC keys of the given zone, including inactive
	// ones.
	ZoneKeys(ctx context.Context, zoneID adns.ZoneID) (keys []*adns.ZoneKey, err error)

	// AddZoneRecord adds a record to its zone and bumps the zone serial.
	AddZoneRecord(ctx context.Context, r *adns.ZoneRecord) (id int64, err error)

	// DeleteZoneRecordSet removes the records of the zone with the given
	// owner name and, unless rtype is [dns.TypeANY], type, and bumps the zone
	// serial.
	DeleteZoneRecordSet(
		ctx context.Context,
		zoneID adns.ZoneID,
		name string,
		rtype uint16,
	) (n int64, err error)
}

// Request carries one question into the authoritative layer together with the
// transport facts it needs for transfers and updates.
type Request struct {
	// Msg is the parsed request.  It must have exactly one question.
	Msg *dns.Msg

	// Wire is the original wire form of the request.  It is required for
	// TSIG verification and may be nil for requests that cannot carry TSIG.
	Wire []byte

	// RemoteIP is the client source address.
	RemoteIP netip.Addr

	// TCP is true when the request arrived over a stream transport.
	TCP bool

	// DO is the DNSSEC OK bit of the request.
	DO bool
}
