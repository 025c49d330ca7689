package configstore

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/amberdns/amberdns/internal/adns"
	"github.com/miekg/dns"
)

// Zones returns all authoritative zones, including disabled ones.
func (s *SQLite) Zones(ctx context.Context) (zones []*adns.Zone, err error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, domain, enabled, dnssec_enabled, transfer_acl,
			soa_primary_ns, soa_admin, soa_serial, soa_refresh, soa_retry,
			soa_expire, soa_minimum, soa_ttl
		FROM zones ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("reading zones: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, rows.Close()) }()

	for rows.Next() {
		z := &adns.Zone{}

		var acl string
		err = rows.Scan(
			&z.ID,
			&z.Domain,
			&z.Enabled,
			&z.DNSSECEnabled,
			&acl,
			&z.SOA.PrimaryNS,
			&z.SOA.Admin,
			&z.SOA.Serial,
			&z.SOA.Refresh,
			&z.SOA.Retry,
			&z.SOA.Expire,
			&z.SOA.Minimum,
			&z.SOA.TTL,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning zone: %w", err)
		}

		z.TransferACL = splitList(acl)
		zones = append(zones, z)
	}

	return zones, rows.Err()
}

// AddZone adds an authoritative zone and returns its ID.
func (s *SQLite) AddZone(ctx context.Context, z *adns.Zone) (id adns.ZoneID, err error) {
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO zones (domain, enabled, dnssec_enabled, transfer_acl,
			soa_primary_ns, soa_admin, soa_serial, soa_refresh, soa_retry,
			soa_expire, soa_minimum, soa_ttl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		z.Domain,
		z.Enabled,
		z.DNSSECEnabled,
		strings.Join(z.TransferACL, ","),
		z.SOA.PrimaryNS,
		z.SOA.Admin,
		z.SOA.Serial,
		z.SOA.Refresh,
		z.SOA.Retry,
		z.SOA.Expire,
		z.SOA.Minimum,
		z.SOA.TTL,
	)
	if err != nil {
		return 0, fmt.Errorf("adding zone: %w", err)
	}

	dbID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("adding zone: %w", err)
	}

	return adns.ZoneID(dbID), nil
}

// ZoneRecords returns the records of the zone with the given ID, including
// disabled ones.
func (s *SQLite) ZoneRecords(
	ctx context.Context,
	zoneID adns.ZoneID,
) (recs []*adns.ZoneRecord, err error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, zone_id, name, type, ttl, data, enabled
		FROM zone_records WHERE zone_id = ? ORDER BY id`,
		zoneID,
	)
	if err != nil {
		return nil, fmt.Errorf("reading zone records: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, rows.Close()) }()

	for rows.Next() {
		r := &adns.ZoneRecord{}
		err = rows.Scan(&r.ID, &r.ZoneID, &r.Name, &r.Type, &r.TTL, &r.Data, &r.Enabled)
		if err != nil {
			return nil, fmt.Errorf("scanning zone record: %w", err)
		}

		recs = append(recs, r)
	}

	return recs, rows.Err()
}

// AddZoneRecord adds a record to its zone and bumps the zone serial.
func (s *SQLite) AddZoneRecord(ctx context.Context, r *adns.ZoneRecord) (id int64, err error) {
	err = s.inTx(ctx, func(tx *sql.Tx) (err error) {
		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO zone_records (zone_id, name, type, ttl, data, enabled)
			VALUES (?, ?, ?, ?, ?, ?)`,
			r.ZoneID,
			r.Name,
			r.Type,
			r.TTL,
			r.Data,
			r.Enabled,
		)
		if err != nil {
			return fmt.Errorf("adding zone record: %w", err)
		}

		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("adding zone record: %w", err)
		}

		return bumpSerial(ctx, tx, r.ZoneID)
	})

	return id, err
}

// DeleteZoneRecordSet removes the records of the zone with the given owner
// name and, unless rtype is [dns.TypeANY], type, and bumps the zone serial.
// It returns the number of removed records.
func (s *SQLite) DeleteZoneRecordSet(
	ctx context.Context,
	zoneID adns.ZoneID,
	name string,
	rtype uint16,
) (n int64, err error) {
	err = s.inTx(ctx, func(tx *sql.Tx) (err error) {
		var res sql.Result
		if rtype == dns.TypeANY {
			res, err = tx.ExecContext(
				ctx,
				`DELETE FROM zone_records WHERE zone_id = ? AND name = ?`,
				zoneID,
				name,
			)
		} else {
			res, err = tx.ExecContext(
				ctx,
				`DELETE FROM zone_records WHERE zone_id = ? AND name = ? AND type = ?`,
				zoneID,
				name,
				rtype,
			)
		}
		if err != nil {
			return fmt.Errorf("deleting zone records: %w", err)
		}

		n, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("deleting zone records: %w", err)
		}

		return bumpSerial(ctx, tx, zoneID)
	})

	return n, err
}

// bumpSerial increments the SOA serial of the zone.
func bumpSerial(ctx context.Context, tx *sql.Tx, zoneID adns.ZoneID) (err error) {
	_, err = tx.ExecContext(
		ctx,
		`UPDATE zones SET soa_serial = soa_serial + 1 WHERE id = ?`,
		zoneID,
	)
	if err != nil {
		return fmt.Errorf("bumping zone serial: %w", err)
	}

	return nil
}

// ZoneKeys returns the DNSSEC keys of the zone with the given ID, including
// inactive ones.
func (s *SQLite) ZoneKeys(ctx context.Context, zoneID adns.ZoneID) (keys []*adns.ZoneKey, err error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, zone_id, flags, algorithm, key_tag, public_key, private_key, active
		FROM zone_keys WHERE zone_id = ? ORDER BY id`,
		zoneID,
	)
	if err != nil {
		return nil, fmt.Errorf("reading zone keys: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, rows.Close()) }()

	for rows.Next() {
		k := &adns.ZoneKey{}
		err = rows.Scan(
			&k.ID,
			&k.ZoneID,
			&k.Flags,
			&k.Algorithm,
			&k.KeyTag,
			&k.PublicKey,
			&k.PrivateKey,
			&k.Active,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning zone key: %w", err)
		}

		keys = append(keys, k)
	}

	return keys, rows.Err()
}

// AddZoneKey adds a DNSSEC key to its zone.
func (s *SQLite) AddZoneKey(ctx context.Context, k *adns.ZoneKey) (id int64, err error) {
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO zone_keys (zone_id, flags, algorithm, key_tag, public_key,
			private_key, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		k.ZoneID,
		k.Flags,
		k.Algorithm,
		k.KeyTag,
		k.PublicKey,
		k.PrivateKey,
		k.Active,
	)
	if err != nil {
		return 0, fmt.Errorf("adding zone key: %w", err)
	}

	return res.LastInsertId()
}

// TSIGKeys returns all TSIG keys, including disabled ones.
func (s *SQLite) TSIGKeys(ctx context.Context) (keys []*adns.TSIGKey, err error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, name, algorithm, secret, enabled FROM tsig_keys ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("reading tsig keys: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, rows.Close()) }()

	for rows.Next() {
		k := &adns.TSIGKey{}

		var secret string
		err = rows.Scan(&k.ID, &k.Name, &k.Algorithm, &secret, &k.Enabled)
		if err != nil {
			return nil, fmt.Errorf("scanning tsig key: %w", err)
		}

		k.Secret, err = base64.StdEncoding.DecodeString(secret)
		if err != nil {
			return nil, fmt.Errorf("tsig key %q: %w", k.Name, err)
		}

		keys = append(keys, k)
	}

	return keys, rows.Err()
}

// AddTSIGKey adds a TSIG key.
func (s *SQLite) AddTSIGKey(ctx context.Context, k *adns.TSIGKey) (id int64, err error) {
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO tsig_keys (name, algorithm, secret, enabled) VALUES (?, ?, ?, ?)`,
		k.Name,
		k.Algorithm,
		base64.StdEncoding.EncodeToString(k.Secret),
		k.Enabled,
	)
	if err != nil {
		return 0, fmt.Errorf("adding tsig key: %w", err)
	}

	return res.LastInsertId()
}
