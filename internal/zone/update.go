package zone

import (
	"context"
	"fmt"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/amberdns/amberdns/internal/adns"
	"github.com/amberdns/amberdns/internal/tsig"
	"github.com/miekg/dns"
)

// handleUpdate applies a dynamic update, see RFC 2136.  Updates must be
// signed with TSIG; unsigned updates are only accepted from the transfer ACL,
// or from anywhere in dev mode when no ACL is configured.  Prerequisite
// checks are not implemented; a request carrying them is refused.
func (m *Manager) handleUpdate(
	ctx context.Context,
	zd *zoneData,
	req *Request,
) (resp *dns.Msg, err error) {
	key, reqMAC, err := m.authorize(ctx, zd, req)
	if err != nil {
		terr := &tsig.Error{}
		if errors.As(err, &terr) {
			return m.tsigErrorResponse(req.Msg, terr), nil
		}

		return nil, err
	}

	if key == nil && !aclAllows(zd.conf.TransferACL, req.RemoteIP) {
		if m.strict || len(zd.conf.TransferACL) > 0 {
			m.logger.WarnContext(
				ctx,
				"update denied",
				"zone", zd.apex,
				"remote_ip", req.RemoteIP,
			)

			return refused(req.Msg), nil
		}
	}

	// The answer section holds prerequisites in an UPDATE message.
	if len(req.Msg.Answer) > 0 {
		return (&dns.Msg{}).SetRcode(req.Msg, dns.RcodeNotImplemented), nil
	}

	rcode := dns.RcodeSuccess
	for _, rr := range req.Msg.Ns {
		err = m.applyChange(ctx, zd, rr)
		if err != nil {
			var rcErr rcodeError
			if errors.As(err, &rcErr) {
				rcode = int(rcErr)

				break
			}

			return nil, err
		}
	}

	if rcode == dns.RcodeSuccess {
		// The snapshot must reflect the update before the response goes out,
		// so that a follow-up query sees the new data.
		err = m.Refresh(ctx)
		if err != nil {
			return nil, err
		}
	}

	resp = (&dns.Msg{}).SetRcode(req.Msg, rcode)

	if key != nil {
		err = m.tsig.Sign(resp, key, reqMAC)
		if err != nil {
			return nil, err
		}
	}

	m.logger.InfoContext(
		ctx,
		"zone updated",
		"zone", zd.apex,
		"remote_ip", req.RemoteIP,
		"changes", len(req.Msg.Ns),
		"rcode", rcode,
	)

	return resp, nil
}

// rcodeError carries an update failure RCODE out of applyChange.
type rcodeError int

// Error implements the error interface for rcodeError.
func (e rcodeError) Error() (msg string) {
	return fmt.Sprintf("update failed with rcode %d", int(e))
}

// applyChange applies one record of the update section through the store.
// The record class selects the operation, see RFC 2136 Section 2.5.
func (m *Manager) applyChange(ctx context.Context, zd *zoneData, rr dns.RR) (err error) {
	hdr := rr.Header()
	owner := strings.ToLower(hdr.Name)
	if owner != zd.apex && !strings.HasSuffix(owner, "."+zd.apex) {
		return rcodeError(dns.RcodeNotZone)
	}

	name := relativeName(zd.apex, owner)

	switch hdr.Class {
	case dns.ClassINET:
		_, err = m.store.AddZoneRecord(ctx, &adns.ZoneRecord{
			ZoneID:  zd.conf.ID,
			Name:    name,
			Type:    hdr.Rrtype,
			TTL:     hdr.Ttl,
			Data:    rdataText(rr),
			Enabled: true,
		})
		if err != nil {
			return fmt.Errorf("adding record: %w", err)
		}

		return nil
	case dns.ClassANY:
		// Delete an RRset, or every RRset at the owner when the type is ANY.
		_, err = m.store.DeleteZoneRecordSet(ctx, zd.conf.ID, name, hdr.Rrtype)
		if err != nil {
			return fmt.Errorf("deleting rrset: %w", err)
		}

		return nil
	case dns.ClassNONE:
		// Deleting an individual record is approximated by deleting its
		// RRset, which is the closest operation the store offers.
		_, err = m.store.DeleteZoneRecordSet(ctx, zd.conf.ID, name, hdr.Rrtype)
		if err != nil {
			return fmt.Errorf("deleting record: %w", err)
		}

		return nil
	default:
		return rcodeError(dns.RcodeFormatError)
	}
}

// rdataText renders the RDATA of rr in zone-file form.
func rdataText(rr dns.RR) (text string) {
	return strings.TrimPrefix(rr.String(), rr.Header().String())
}
