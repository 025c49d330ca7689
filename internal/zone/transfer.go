package zone

import (
	"context"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/amberdns/amberdns/internal/adns"
	"github.com/amberdns/amberdns/internal/tsig"
	"github.com/miekg/dns"
)

// handleTransfer answers an AXFR or IXFR request.  IXFR is answered with a
// full transfer, which RFC 1995 permits.  Transfers require TCP and either a
// valid TSIG signature or a source address inside the zone's transfer ACL.
func (m *Manager) handleTransfer(
	ctx context.Context,
	zd *zoneData,
	req *Request,
) (resp *dns.Msg, err error) {
	if !req.TCP {
		// AXFR over UDP is not a thing, and a full zone would not fit
		// anyway.
		return refused(req.Msg), nil
	}

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
				"transfer denied",
				"zone", zd.apex,
				"remote_ip", req.RemoteIP,
			)

			return refused(req.Msg), nil
		}
	}

	resp = (&dns.Msg{}).SetReply(req.Msg)
	resp.Authoritative = true

	// SOA opens and closes the stream.  The whole zone goes into a single
	// message; TCP allows up to 64 KiB, which covers the zone sizes this
	// server is built for.
	resp.Answer = append(resp.Answer, zd.soa)
	for _, sets := range zd.rrsets {
		for _, rrs := range sets {
			resp.Answer = append(resp.Answer, rrs...)
		}
	}

	resp.Answer = append(resp.Answer, zd.dnskeyRRs()...)
	resp.Answer = append(resp.Answer, zd.soa)

	if key != nil {
		err = m.tsig.Sign(resp, key, reqMAC)
		if err != nil {
			return nil, err
		}
	}

	m.logger.InfoContext(
		ctx,
		"zone transferred",
		"zone", zd.apex,
		"remote_ip", req.RemoteIP,
		"records", len(resp.Answer),
	)

	return resp, nil
}

// authorize verifies the TSIG signature of req, if any.  key is nil when the
// request is unsigned.
func (m *Manager) authorize(
	ctx context.Context,
	zd *zoneData,
	req *Request,
) (key *adns.TSIGKey, reqMAC string, err error) {
	t := req.Msg.IsTsig()
	if t == nil {
		return nil, "", nil
	}

	if m.tsig == nil {
		return nil, "", &tsig.Error{KeyName: t.Hdr.Name, Code: dns.RcodeBadKey}
	}

	return m.tsig.Verify(ctx, req.Msg, req.Wire)
}

// tsigErrorResponse renders a TSIG failure, falling back to a bare NOTAUTH
// when no TSIG manager is configured.
func (m *Manager) tsigErrorResponse(req *dns.Msg, terr *tsig.Error) (resp *dns.Msg) {
	if m.tsig == nil {
		return (&dns.Msg{}).SetRcode(req, dns.RcodeNotAuth)
	}

	return m.tsig.ErrorResponse(req, terr)
}

// refused builds a REFUSED response for req.
func refused(req *dns.Msg) (resp *dns.Msg) {
	return (&dns.Msg{}).SetRcode(req, dns.RcodeRefused)
}
