package zone

import (
	"context"
	"fmt"
	"strings"

	"github.com/amberdns/amberdns/internal/adns"
	"github.com/amberdns/amberdns/internal/errcoll"
	"github.com/miekg/dns"
)

// LocalStore is the source of the flat local DNS records, the host entries
// served authoritatively outside any configured zone.
type LocalStore interface {
	// LocalRecords returns all local DNS records, including disabled ones.
	LocalRecords(ctx context.Context) (recs []*adns.LocalRecord, err error)
}

// buildLocals assembles the local record overlay from the store.  Unparsable
// records are collected and skipped.
func (m *Manager) buildLocals(ctx context.Context) (overlay map[string]map[uint16][]dns.RR, err error) {
	recs, err := m.locals.LocalRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("refreshing local records: %w", err)
	}

	overlay = map[string]map[uint16][]dns.RR{}
	for _, rec := range recs {
		if !rec.Enabled {
			continue
		}

		rr, err := parseLocalRecord(rec)
		if err != nil {
			errcoll.Collect(ctx, m.errColl, m.logger, "parsing local record", err)

			continue
		}

		hdr := rr.Header()
		owner := strings.ToLower(hdr.Name)

		sets, ok := overlay[owner]
		if !ok {
			sets = map[uint16][]dns.RR{}
			overlay[owner] = sets
		}

		sets[hdr.Rrtype] = append(sets[hdr.Rrtype], rr)
	}

	return overlay, nil
}

// parseLocalRecord builds the wire-type record from a stored local DNS row.
func parseLocalRecord(rec *adns.LocalRecord) (rr dns.RR, err error) {
	typeStr, ok := dns.TypeToString[rec.Type]
	if !ok {
		return nil, fmt.Errorf("local record %d: unknown type %d", rec.ID, rec.Type)
	}

	text := fmt.Sprintf(
		"%s %d IN %s %s",
		strings.ToLower(dns.Fqdn(rec.Name)),
		rec.TTL,
		typeStr,
		rec.Data,
	)

	rr, err = dns.NewRR(text)
	if err != nil {
		return nil, fmt.Errorf("local record %d: %w", rec.ID, err)
	}

	return rr, nil
}

// answerLocal builds the response for a question covered by the local record
// overlay.  matched is false when qname has no overlay entry, in which case
// resolution continues down the pipeline.
func (s *snapshot) answerLocal(req *dns.Msg, qname string) (resp *dns.Msg, matched bool) {
	sets, ok := s.locals[qname]
	if !ok {
		return nil, false
	}

	resp = (&dns.Msg{}).SetReply(req)
	resp.Authoritative = true

	qtype := req.Question[0].Qtype
	if rrs := sets[qtype]; len(rrs) > 0 {
		resp.Answer = append(resp.Answer, rrs...)

		return resp, true
	}

	// A CNAME answers any other type at its owner, chased one step when the
	// target is itself a local record.
	if cnames := sets[dns.TypeCNAME]; len(cnames) > 0 && qtype != dns.TypeCNAME {
		resp.Answer = append(resp.Answer, cnames...)

		target := strings.ToLower(cnames[0].(*dns.CNAME).Target)
		if tsets, ok := s.locals[target]; ok {
			resp.Answer = append(resp.Answer, tsets[qtype]...)
		}
	}

	// An owner that exists with other types answers NODATA, the way hosts
	// entries behave in dnsmasq.
	return resp, true
}
