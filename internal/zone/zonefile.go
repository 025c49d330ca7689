package zone

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/amberdns/amberdns/internal/adns"
	"github.com/miekg/dns"
)

// ImportZoneFile parses a zone file and adds every record to the zone through
// the store.  SOA records are skipped, since the SOA lives on the zone row
// itself.  n is the number of records added; the snapshot is refreshed when
// at least one record was.
func (m *Manager) ImportZoneFile(
	ctx context.Context,
	z *adns.Zone,
	r io.Reader,
) (n int, err error) {
	apex := strings.ToLower(dns.Fqdn(z.Domain))

	zp := dns.NewZoneParser(r, apex, "")
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		hdr := rr.Header()
		if hdr.Rrtype == dns.TypeSOA {
			continue
		}

		_, err = m.store.AddZoneRecord(ctx, &adns.ZoneRecord{
			ZoneID:  z.ID,
			Name:    relativeName(apex, hdr.Name),
			Type:    hdr.Rrtype,
			TTL:     hdr.Ttl,
			Data:    rdataText(rr),
			Enabled: true,
		})
		if err != nil {
			return n, fmt.Errorf("importing record %q: %w", hdr.Name, err)
		}

		n++
	}

	if err = zp.Err(); err != nil {
		return n, fmt.Errorf("parsing zone file: %w", err)
	}

	if n > 0 {
		err = m.Refresh(ctx)
		if err != nil {
			return n, err
		}
	}

	return n, nil
}

// ExportZoneFile writes the zone in zone-file form: the SOA first, then every
// record from the store, including disabled ones.
func (m *Manager) ExportZoneFile(ctx context.Context, z *adns.Zone, w io.Writer) (err error) {
	apex := strings.ToLower(dns.Fqdn(z.Domain))

	_, err = fmt.Fprintln(w, newSOA(apex, &z.SOA).String())
	if err != nil {
		return fmt.Errorf("exporting zone %q: %w", apex, err)
	}

	recs, err := m.store.ZoneRecords(ctx, z.ID)
	if err != nil {
		return fmt.Errorf("exporting zone %q: %w", apex, err)
	}

	for _, rec := range recs {
		rr, err := parseRecord(apex, rec)
		if err != nil {
			return fmt.Errorf("exporting zone %q: %w", apex, err)
		}

		_, err = fmt.Fprintln(w, rr.String())
		if err != nil {
			return fmt.Errorf("exporting zone %q: %w", apex, err)
		}
	}

	return nil
}
